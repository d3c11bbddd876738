package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/seanblong/actasearch/internal/store"
	"github.com/seanblong/actasearch/pkg/models"
)

// entry is a stored chunk plus the document metadata it is filtered on.
type entry struct {
	chunk models.DocumentChunk
	meta  models.IncidentDocument
}

// Store is an in-process IncidentStore using brute-force cosine similarity.
type Store struct {
	mu        sync.RWMutex
	dimension int
	docs      map[string]models.IncidentDocument
	chunks    map[string]entry
}

var _ store.IncidentStore = (*Store)(nil)

func New() *Store {
	return &Store{
		docs:   make(map[string]models.IncidentDocument),
		chunks: make(map[string]entry),
	}
}

func (s *Store) Migrate(_ context.Context, dim int) error {
	if dim <= 0 {
		return errors.New("invalid dimension")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dimension = dim
	return nil
}

func (s *Store) SaveDocument(ctx context.Context, doc models.IncidentDocument) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, d := range s.docs {
		if d.IncidentNumber == doc.IncidentNumber && id != doc.ID {
			return fmt.Errorf("incident number %s already stored under %s", doc.IncidentNumber, id)
		}
	}
	s.docs[doc.ID] = doc
	return nil
}

func (s *Store) DeleteDocument(ctx context.Context, incidentNumber string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.chunks {
		if e.chunk.IncidentNumber == incidentNumber {
			delete(s.chunks, id)
		}
	}
	deleted := false
	for id, d := range s.docs {
		if d.IncidentNumber == incidentNumber {
			delete(s.docs, id)
			deleted = true
		}
	}
	return deleted, nil
}

func (s *Store) UpsertChunks(ctx context.Context, doc models.IncidentDocument, chunks []models.DocumentChunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return fmt.Errorf("chunk %s has no embedding", c.ID)
		}
		if s.dimension > 0 && len(c.Embedding) != s.dimension {
			return fmt.Errorf("chunk %s: vector dimension %d, want %d", c.ID, len(c.Embedding), s.dimension)
		}
	}
	for _, c := range chunks {
		c.Embedding = slices.Clone(c.Embedding)
		s.chunks[c.ID] = entry{chunk: c, meta: doc}
	}
	return nil
}

func (s *Store) Search(ctx context.Context, vec []float32, filters models.SearchFilters, limit int) ([]models.SearchHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := []models.SearchHit{}
	if limit <= 0 {
		return out, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.chunks {
		if !matches(e.meta, filters) {
			continue
		}
		out = append(out, models.SearchHit{
			ChunkID:    e.chunk.ID,
			DocumentID: e.chunk.DocumentID,
			ChunkIndex: e.chunk.Index,
			Section:    e.chunk.Section,
			Text:       e.chunk.Text,
			Score:      similarity(vec, e.chunk.Embedding),
		})
	}

	// chunk id breaks ties so results do not depend on map order
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) LoadDocuments(ctx context.Context) ([]models.IncidentDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.IncidentDocument, 0, len(s.docs))
	for _, d := range s.docs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IncidentNumber < out[j].IncidentNumber })
	return out, nil
}

func (s *Store) GetDocument(ctx context.Context, id string) (models.IncidentDocument, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.IncidentDocument{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	return d, ok, nil
}

func (s *Store) Chunks(ctx context.Context, documentID string) ([]models.DocumentChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.DocumentChunk{}
	for _, e := range s.chunks {
		if e.chunk.DocumentID == documentID {
			c := e.chunk
			c.Embedding = nil
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (s *Store) CountChunks(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks), nil
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Close() {}

func matches(d models.IncidentDocument, f models.SearchFilters) bool {
	if len(f.Severity) > 0 && !slices.Contains(f.Severity, d.Severity) {
		return false
	}
	if len(f.Status) > 0 && !slices.Contains(f.Status, d.Status) {
		return false
	}
	if f.Category != "" && d.Category != f.Category {
		return false
	}
	if f.Environment != "" && d.Environment != f.Environment {
		return false
	}
	if len(f.Tags) > 0 && !slices.ContainsFunc(f.Tags, func(t string) bool { return slices.Contains(d.Tags, t) }) {
		return false
	}
	if f.Client != "" && !strings.Contains(strings.ToLower(d.Client), strings.ToLower(f.Client)) {
		return false
	}
	if f.DetectedFrom != nil && (d.DetectedAt == nil || d.DetectedAt.Before(*f.DetectedFrom)) {
		return false
	}
	if f.DetectedTo != nil && (d.DetectedAt == nil || d.DetectedAt.After(*f.DetectedTo)) {
		return false
	}
	return true
}

// similarity is cosine similarity clamped to [0, 1]; a zero vector scores 0.
func similarity(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return math.Max(0, math.Min(1, dot/(math.Sqrt(na)*math.Sqrt(nb))))
}
