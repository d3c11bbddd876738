package incident

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seanblong/actasearch/internal/ai"
	"github.com/seanblong/actasearch/internal/extract"
	"github.com/seanblong/actasearch/internal/store/memory"
	"github.com/seanblong/actasearch/pkg/models"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

const valveReport = `ACTA DE INTERVENCIÓN AC230V1001
Fecha: 02/05/2024
Cliente: Aguas del Norte Proyecto: Depuradora
Prioridad: urgente. Estado: resuelto

Descripción:
Fallo en la válvula principal del tanque de decantación que bloqueaba el caudal de entrada.
Se sustituye la válvula y se verifica la estanqueidad del circuito completo.

Participantes:
• Carlos Fernández (HEXA Ingenieros)
• Marta Ruiz (Jefa de planta)

RESUMEN DE HORAS
Total de horas invertidas (CFP): 12 horas
`

const networkReport = `ACTA DE MANTENIMIENTO AC230R2002
Fecha: 10/06/2024
Cliente: Logística Sur
Prioridad: baja. Estado: en curso

Descripción:
Revisión preventiva de los conmutadores de red y del cableado estructurado del almacén.
Se actualiza el firmware de los equipos de comunicaciones sin incidencias.

Participantes:
• Carlos Fernández (HEXA Ingenieros)
`

type failingClient struct {
	*ai.StubClient
	err error
}

func (c *failingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.StubClient.Embed(ctx, text)
}

// failingStore fails SaveDocument after the first call.
type failingStore struct {
	*memory.Store
	saves int
}

func (s *failingStore) SaveDocument(ctx context.Context, doc models.IncidentDocument) error {
	s.saves++
	if s.saves > 1 {
		return errors.New("disk full")
	}
	return s.Store.SaveDocument(ctx, doc)
}

// blockingStore pauses the first GetDocument after it has read the store
// until release is closed.
type blockingStore struct {
	*memory.Store
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func newBlockingStore(st *memory.Store) *blockingStore {
	return &blockingStore{Store: st, read: make(chan struct{}), release: make(chan struct{})}
}

func (s *blockingStore) GetDocument(ctx context.Context, id string) (models.IncidentDocument, bool, error) {
	d, ok, err := s.Store.GetDocument(ctx, id)
	s.once.Do(func() {
		close(s.read)
		<-s.release
	})
	return d, ok, err
}

func fixedClock() func() time.Time {
	t := time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Minute)
		return t
	}
}

func newService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	st := memory.New()
	client := ai.NewStubClient(64)
	require.NoError(t, st.Migrate(context.Background(), client.Dim()))
	return NewService(st, client, Options{ChunkSize: 200, ChunkOverlap: 20, Now: fixedClock()}), st
}

func TestIngest(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	doc, err := svc.Ingest(ctx, valveReport, "AC230V1001.pdf")
	require.NoError(t, err)
	assert.Equal(t, "AC230V1001", doc.IncidentNumber)
	assert.Equal(t, extract.DocumentID("AC230V1001"), doc.ID)
	assert.Equal(t, 1, doc.Version)
	assert.False(t, doc.CreatedAt.IsZero())

	got, err := svc.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.IncidentNumber, got.IncidentNumber)

	chunks, err := svc.Chunks(ctx, doc.ID)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, doc.ID+"-chunk-"+string(rune('0'+i)), c.ID)
		assert.Equal(t, doc.IncidentNumber, c.IncidentNumber)
	}

	n, _ := st.CountChunks(ctx)
	assert.Equal(t, len(chunks), n)
}

func TestIngest_ReplacesPreviousVersion(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	first, err := svc.Ingest(ctx, valveReport, "a.pdf")
	require.NoError(t, err)
	before, _ := st.CountChunks(ctx)

	second, err := svc.Ingest(ctx, valveReport, "a.pdf")
	require.NoError(t, err)
	after, _ := st.CountChunks(ctx)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, before, after)
	assert.Equal(t, 2, second.Version)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
	assert.Len(t, svc.GetAll(), 1)

	// only the bookkeeping fields differ between the two versions
	a, b := first, second
	a.Version, a.UpdatedAt = 0, time.Time{}
	b.Version, b.UpdatedAt = 0, time.Time{}
	assert.Equal(t, a, b)

	// shorter text under the same number drops the surplus chunks
	short := strings.Split(valveReport, "Participantes:")[0]
	_, err = svc.Ingest(ctx, short, "a.pdf")
	require.NoError(t, err)
	chunks, err := svc.Chunks(ctx, first.ID)
	require.NoError(t, err)
	n, _ := st.CountChunks(ctx)
	assert.Equal(t, len(chunks), n)
}

func TestIngest_EmbeddingFailureKeepsOldVersion(t *testing.T) {
	st := memory.New()
	client := &failingClient{StubClient: ai.NewStubClient(64)}
	svc := NewService(st, client, Options{EmbedWorkers: 2})
	ctx := context.Background()

	doc, err := svc.Ingest(ctx, valveReport, "a.pdf")
	require.NoError(t, err)

	client.err = errors.New("provider down")
	_, err = svc.Ingest(ctx, valveReport, "a.pdf")
	require.Error(t, err)
	assert.ErrorIs(t, err, client.err)

	_, err = svc.GetByID(ctx, doc.ID)
	assert.NoError(t, err)
	n, _ := st.CountChunks(ctx)
	assert.Positive(t, n)
}

func TestIngest_StoreFailureLeavesGap(t *testing.T) {
	st := &failingStore{Store: memory.New()}
	svc := NewService(st, ai.NewStubClient(64), Options{})
	ctx := context.Background()

	doc, err := svc.Ingest(ctx, valveReport, "a.pdf")
	require.NoError(t, err)

	_, err = svc.Ingest(ctx, valveReport, "a.pdf")
	require.ErrorContains(t, err, "disk full")

	_, err = svc.GetByID(ctx, doc.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	n, _ := st.CountChunks(ctx)
	assert.Zero(t, n, "no orphaned chunks after a failed re-ingest")

	st.saves = 0
	_, err = svc.Ingest(ctx, valveReport, "a.pdf")
	require.NoError(t, err, "a later ingest repairs the gap")
}

func TestSearch(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	valve, err := svc.Ingest(ctx, valveReport, "a.pdf")
	require.NoError(t, err)
	network, err := svc.Ingest(ctx, networkReport, "b.pdf")
	require.NoError(t, err)
	require.Equal(t, models.SeverityCritical, valve.Severity)
	require.NotEqual(t, models.SeverityCritical, network.Severity)

	results, err := svc.Search(ctx, "válvula del tanque de decantación", models.SearchFilters{}, 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, valve.ID, results[0].Document.ID)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}

	filtered, err := svc.Search(ctx, "firmware de red", models.SearchFilters{
		Severity: []models.Severity{models.SeverityCritical},
	}, 10)
	require.NoError(t, err)
	for _, r := range filtered {
		assert.Equal(t, models.SeverityCritical, r.Document.Severity)
	}
}

func TestDelete(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	doc, err := svc.Ingest(ctx, valveReport, "a.pdf")
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, doc.IncidentNumber))
	assert.ErrorIs(t, svc.Delete(ctx, doc.IncidentNumber), ErrNotFound)

	_, err = svc.GetByID(ctx, doc.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Chunks(ctx, doc.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	results, err := svc.Search(ctx, "válvula", models.SearchFilters{}, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDelete_RecordWrittenByAnotherProcess(t *testing.T) {
	writer, st := newService(t)
	ctx := context.Background()

	doc, err := writer.Ingest(ctx, valveReport, "a.pdf")
	require.NoError(t, err)

	// a second service over the same store has never cached the record
	svc := NewService(st, ai.NewStubClient(64), Options{})
	require.NoError(t, svc.Delete(ctx, doc.IncidentNumber))

	_, ok, err := st.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, svc.Delete(ctx, doc.IncidentNumber), ErrNotFound)
}

func TestDelete_ConcurrentLookupDoesNotRecache(t *testing.T) {
	writer, st := newService(t)
	ctx := context.Background()

	doc, err := writer.Ingest(ctx, valveReport, "a.pdf")
	require.NoError(t, err)

	bs := newBlockingStore(st)
	svc := NewService(bs, ai.NewStubClient(64), Options{})

	done := make(chan error, 1)
	go func() {
		_, err := svc.GetByID(ctx, doc.ID)
		done <- err
	}()

	<-bs.read
	require.NoError(t, svc.Delete(ctx, doc.IncidentNumber))
	close(bs.release)
	// the in-flight lookup read the record before the delete
	require.NoError(t, <-done)

	_, err = svc.GetByID(ctx, doc.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, svc.GetAll())
}

func TestLoadAndReadThrough(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	doc, err := svc.Ingest(ctx, valveReport, "a.pdf")
	require.NoError(t, err)

	fresh := NewService(st, ai.NewStubClient(64), Options{})
	assert.Empty(t, fresh.GetAll())

	got, err := fresh.GetByID(ctx, doc.ID)
	require.NoError(t, err, "cache miss falls through to the store")
	assert.Equal(t, doc.IncidentNumber, got.IncidentNumber)

	require.NoError(t, fresh.Load(ctx))
	assert.Len(t, fresh.GetAll(), 1)
}

func TestGetAll_Order(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, valveReport, "a.pdf")
	require.NoError(t, err)
	_, err = svc.Ingest(ctx, networkReport, "b.pdf")
	require.NoError(t, err)
	_, err = svc.Ingest(ctx, "Informe sin fecha AC230X0003 con texto suficiente para formar al menos un fragmento.", "c.pdf")
	require.NoError(t, err)

	var numbers []string
	for _, d := range svc.GetAll() {
		numbers = append(numbers, d.IncidentNumber)
	}
	assert.Equal(t, []string{"AC230R2002", "AC230V1001", "AC230X0003"}, numbers)
}

func TestStats(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, valveReport, "a.pdf")
	require.NoError(t, err)
	_, err = svc.Ingest(ctx, networkReport, "b.pdf")
	require.NoError(t, err)

	st, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.TotalIncidents)
	assert.Positive(t, st.TotalChunks)
	assert.Equal(t, 12.0, st.NormalHours)
	assert.Equal(t, 12.0, st.TotalHours)
	assert.Equal(t, 1, st.BySeverity["critical"])
	assert.Equal(t, 2, st.ByClient["Aguas del Norte"]+st.ByClient["Logística Sur"])
	require.NotEmpty(t, st.TopParticipants)
	assert.Equal(t, ParticipantCount{Name: "Carlos Fernández", Count: 2}, st.TopParticipants[0])
	require.Len(t, st.RecentActivity, 2)
	assert.Equal(t, "AC230R2002", st.RecentActivity[0].IncidentNumber)
}

func TestStats_NoClient(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	_, err := svc.Ingest(ctx, "Informe AC1 sin cliente y con texto suficiente para formar un fragmento válido.", "x.txt")
	require.NoError(t, err)

	st, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.ByClient[noClient])
	assert.Zero(t, st.TotalHours)
}
