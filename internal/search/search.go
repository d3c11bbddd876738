package search

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/actasearch/internal/ai"
	"github.com/seanblong/actasearch/pkg/models"
)

// DefaultLimit is the number of chunk hits requested when the caller gives none.
const DefaultLimit = 10

// Searcher is the read side of the vector index.
type Searcher interface {
	Search(ctx context.Context, vec []float32, filters models.SearchFilters, limit int) ([]models.SearchHit, error)
}

// DocumentLookup resolves a document id to its structured record.
type DocumentLookup interface {
	Document(ctx context.Context, id string) (models.IncidentDocument, bool)
}

// LookupFunc adapts a function to DocumentLookup.
type LookupFunc func(ctx context.Context, id string) (models.IncidentDocument, bool)

func (f LookupFunc) Document(ctx context.Context, id string) (models.IncidentDocument, bool) {
	return f(ctx, id)
}

// Aggregate groups hits by document and ranks the groups by the sum of their
// scores. Hits keep the order they arrived in. Documents the lookup cannot
// resolve are treated as stale and dropped.
func Aggregate(ctx context.Context, hits []models.SearchHit, lookup DocumentLookup) []models.AggregatedResult {
	out := []models.AggregatedResult{}
	pos := make(map[string]int)
	stale := make(map[string]bool)

	for _, h := range hits {
		if stale[h.DocumentID] {
			continue
		}
		i, ok := pos[h.DocumentID]
		if !ok {
			doc, found := lookup.Document(ctx, h.DocumentID)
			if !found {
				stale[h.DocumentID] = true
				log.Debug().Str("document_id", h.DocumentID).Msg("dropping hits for missing document")
				continue
			}
			i = len(out)
			pos[h.DocumentID] = i
			out = append(out, models.AggregatedResult{Document: doc})
		}
		out[i].Hits = append(out[i].Hits, h)
		out[i].Score += h.Score
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

type Service struct {
	Client ai.Client
	Store  Searcher
	Docs   DocumentLookup
}

// NewService creates a new search service with the provided AI client, index and record lookup
func NewService(client ai.Client, store Searcher, docs DocumentLookup) *Service {
	return &Service{
		Client: client,
		Store:  store,
		Docs:   docs,
	}
}

// Query embeds q, searches the index under filters and aggregates the hits
// per document. Embedding and index failures are returned to the caller.
func (s *Service) Query(ctx context.Context, q string, filters models.SearchFilters, limit int) ([]models.AggregatedResult, error) {
	q = strings.TrimSpace(q)
	if limit <= 0 {
		limit = DefaultLimit
	}

	vec, err := s.Client.Embed(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := s.Store.Search(ctx, vec, filters, limit)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("query", q).Int("hits", len(hits)).Msg("vector search")

	return Aggregate(ctx, hits, s.Docs), nil
}
