package incident

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/actasearch/internal/ai"
	"github.com/seanblong/actasearch/internal/chunker"
	"github.com/seanblong/actasearch/internal/extract"
	"github.com/seanblong/actasearch/internal/search"
	"github.com/seanblong/actasearch/internal/store"
	"github.com/seanblong/actasearch/pkg/models"
)

// ErrNotFound is returned when no record exists for the requested id or number.
var ErrNotFound = errors.New("incident not found")

type Options struct {
	ChunkSize    int
	ChunkOverlap int
	// EmbedWorkers bounds concurrent embedding requests during ingestion;
	// 0 or 1 embeds chunk by chunk.
	EmbedWorkers int
	Extractor    extract.Extractor
	Now          func() time.Time
}

// Service is the query surface over the record store and the vector index.
// It keeps a read-through cache of records keyed by document id.
type Service struct {
	store        store.IncidentStore
	client       ai.Client
	chunker      *chunker.Chunker
	extractor    extract.Extractor
	embedWorkers int
	now          func() time.Time
	search       *search.Service

	// writeMu serialises the delete/save/upsert sequence of ingestion.
	writeMu sync.Mutex

	mu    sync.RWMutex
	cache map[string]models.IncidentDocument
	// gen changes whenever records leave the cache; read-through lookups
	// that raced with it must not repopulate the cache.
	gen uint64
}

func NewService(st store.IncidentStore, client ai.Client, opts Options) *Service {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s := &Service{
		store:        st,
		client:       client,
		chunker:      chunker.New(opts.ChunkSize, opts.ChunkOverlap),
		extractor:    opts.Extractor,
		embedWorkers: opts.EmbedWorkers,
		now:          now,
		cache:        make(map[string]models.IncidentDocument),
	}
	s.search = search.NewService(client, st, s)
	return s
}

// Load replaces the cache with every record in the store.
func (s *Service) Load(ctx context.Context) error {
	docs, err := s.store.LoadDocuments(ctx)
	if err != nil {
		return fmt.Errorf("load incidents: %w", err)
	}
	cache := make(map[string]models.IncidentDocument, len(docs))
	for _, d := range docs {
		cache[d.ID] = d
	}
	s.mu.Lock()
	s.cache = cache
	s.gen++
	s.mu.Unlock()

	log.Info().Int("incidents", len(docs)).Msg("loaded incidents from store")
	return nil
}

// Ingest extracts, chunks and embeds text, then replaces any previous record
// with the same incident number. Embedding happens before anything is
// deleted, so a provider failure leaves the old record intact.
func (s *Service) Ingest(ctx context.Context, text, filename string) (models.IncidentDocument, error) {
	doc := s.extractor.Extract(text, filename)

	pieces := s.chunker.Split(text)
	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Text
	}
	vecs, err := ai.EmbedAll(ctx, s.client, texts, s.embedWorkers)
	if err != nil {
		return models.IncidentDocument{}, fmt.Errorf("ingest %s: %w", doc.IncidentNumber, err)
	}

	chunks := make([]models.DocumentChunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = models.DocumentChunk{
			ID:             fmt.Sprintf("%s-chunk-%d", doc.ID, p.Index),
			DocumentID:     doc.ID,
			IncidentNumber: doc.IncidentNumber,
			Index:          p.Index,
			Section:        p.Section,
			Text:           p.Text,
			Embedding:      vecs[i],
		}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := s.now().UTC()
	doc.CreatedAt, doc.UpdatedAt = now, now
	if prev, ok := s.byNumber(doc.IncidentNumber); ok {
		doc.CreatedAt = prev.CreatedAt
		doc.Version = prev.Version + 1
	}

	if _, err := s.store.DeleteDocument(ctx, doc.IncidentNumber); err != nil {
		return models.IncidentDocument{}, fmt.Errorf("ingest %s: %w", doc.IncidentNumber, err)
	}
	s.forget(doc.IncidentNumber)

	if err := s.store.SaveDocument(ctx, doc); err != nil {
		s.logGap(doc, "save record", err)
		return models.IncidentDocument{}, fmt.Errorf("ingest %s: save record: %w", doc.IncidentNumber, err)
	}
	if err := s.store.UpsertChunks(ctx, doc, chunks); err != nil {
		s.logGap(doc, "index chunks", err)
		return models.IncidentDocument{}, fmt.Errorf("ingest %s: index chunks: %w", doc.IncidentNumber, err)
	}

	s.mu.Lock()
	s.cache[doc.ID] = doc
	s.mu.Unlock()

	log.Info().
		Str("incident_number", doc.IncidentNumber).
		Str("source", filename).
		Int("chunks", len(chunks)).
		Int("version", doc.Version).
		Msg("ingested incident")
	return doc, nil
}

func (s *Service) logGap(doc models.IncidentDocument, step string, err error) {
	log.Error().Err(err).
		Str("incident_number", doc.IncidentNumber).
		Str("step", step).
		Msg("previous version deleted but new version not fully written; re-ingest to repair")
}

// Search answers q with per-document results ranked by summed chunk score.
func (s *Service) Search(ctx context.Context, q string, filters models.SearchFilters, limit int) ([]models.AggregatedResult, error) {
	return s.search.Query(ctx, q, filters, limit)
}

// GetAll returns every cached record, most recently detected first.
func (s *Service) GetAll() []models.IncidentDocument {
	s.mu.RLock()
	out := make([]models.IncidentDocument, 0, len(s.cache))
	for _, d := range s.cache {
		out = append(out, d)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].DetectedAt, out[j].DetectedAt
		switch {
		case a != nil && b != nil && !a.Equal(*b):
			return a.After(*b)
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return out[i].IncidentNumber < out[j].IncidentNumber
	})
	return out
}

// GetByID returns the record with the given id, or ErrNotFound.
func (s *Service) GetByID(ctx context.Context, id string) (models.IncidentDocument, error) {
	d, ok := s.Document(ctx, id)
	if !ok {
		return models.IncidentDocument{}, ErrNotFound
	}
	return d, nil
}

// Document implements search.DocumentLookup. Cache misses fall through to
// the store; store errors count as a miss.
func (s *Service) Document(ctx context.Context, id string) (models.IncidentDocument, bool) {
	s.mu.RLock()
	d, ok := s.cache[id]
	gen := s.gen
	s.mu.RUnlock()
	if ok {
		return d, true
	}

	d, ok, err := s.store.GetDocument(ctx, id)
	if err != nil {
		log.Warn().Err(err).Str("document_id", id).Msg("document lookup failed")
		return models.IncidentDocument{}, false
	}
	if !ok {
		return models.IncidentDocument{}, false
	}
	s.mu.Lock()
	if s.gen == gen {
		s.cache[id] = d
	}
	s.mu.Unlock()
	return d, true
}

// Delete removes the record and chunks of an incident number.
func (s *Service) Delete(ctx context.Context, incidentNumber string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deleted, err := s.store.DeleteDocument(ctx, incidentNumber)
	if err != nil {
		return fmt.Errorf("delete %s: %w", incidentNumber, err)
	}
	s.forget(incidentNumber)
	if !deleted {
		return ErrNotFound
	}
	log.Info().Str("incident_number", incidentNumber).Msg("deleted incident")
	return nil
}

// Chunks returns the indexed chunks of a document in order.
func (s *Service) Chunks(ctx context.Context, id string) ([]models.DocumentChunk, error) {
	if _, ok := s.Document(ctx, id); !ok {
		return nil, ErrNotFound
	}
	return s.store.Chunks(ctx, id)
}

func (s *Service) byNumber(number string) (models.IncidentDocument, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.cache {
		if d.IncidentNumber == number {
			return d, true
		}
	}
	return models.IncidentDocument{}, false
}

func (s *Service) forget(number string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	for id, d := range s.cache {
		if d.IncidentNumber == number {
			delete(s.cache, id)
		}
	}
}
