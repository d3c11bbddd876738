package search

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/seanblong/actasearch/internal/ai"
	"github.com/seanblong/actasearch/pkg/models"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

// MockAIClient implements the ai.Client interface for testing
type MockAIClient struct {
	EmbedFunc func(ctx context.Context, text string) ([]float32, error)
}

func (m *MockAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, text)
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (m *MockAIClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := m.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (m *MockAIClient) Generate(context.Context, ai.GenerateRequest) (string, error) {
	return "", nil
}

func (m *MockAIClient) Dim() int { return 3 }

// MockSearcher implements the Searcher interface for testing
type MockSearcher struct {
	SearchFunc func(ctx context.Context, vec []float32, filters models.SearchFilters, limit int) ([]models.SearchHit, error)
}

func (m *MockSearcher) Search(ctx context.Context, vec []float32, filters models.SearchFilters, limit int) ([]models.SearchHit, error) {
	if m.SearchFunc != nil {
		return m.SearchFunc(ctx, vec, filters, limit)
	}
	return []models.SearchHit{}, nil
}

func lookupOf(docs ...models.IncidentDocument) LookupFunc {
	byID := make(map[string]models.IncidentDocument, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}
	return func(_ context.Context, id string) (models.IncidentDocument, bool) {
		d, ok := byID[id]
		return d, ok
	}
}

func hit(chunkID, docID string, score float64) models.SearchHit {
	return models.SearchHit{ChunkID: chunkID, DocumentID: docID, Score: score}
}

func TestAggregate(t *testing.T) {
	a := models.IncidentDocument{ID: "a", IncidentNumber: "AC1"}
	b := models.IncidentDocument{ID: "b", IncidentNumber: "AC2"}

	tests := []struct {
		name      string
		hits      []models.SearchHit
		lookup    LookupFunc
		wantDocs  []string
		wantScore []float64
		wantHits  [][]string
	}{
		{
			name:      "multiple chunks outrank a single strong one",
			hits:      []models.SearchHit{hit("b0", "b", 0.9), hit("a0", "a", 0.8), hit("a1", "a", 0.6)},
			lookup:    lookupOf(a, b),
			wantDocs:  []string{"a", "b"},
			wantScore: []float64{1.4, 0.9},
			wantHits:  [][]string{{"a0", "a1"}, {"b0"}},
		},
		{
			name:      "hit order within a document is kept",
			hits:      []models.SearchHit{hit("a1", "a", 0.3), hit("a0", "a", 0.5)},
			lookup:    lookupOf(a),
			wantDocs:  []string{"a"},
			wantScore: []float64{0.8},
			wantHits:  [][]string{{"a1", "a0"}},
		},
		{
			name:      "missing documents are dropped",
			hits:      []models.SearchHit{hit("x0", "gone", 0.99), hit("a0", "a", 0.2), hit("x1", "gone", 0.98)},
			lookup:    lookupOf(a),
			wantDocs:  []string{"a"},
			wantScore: []float64{0.2},
			wantHits:  [][]string{{"a0"}},
		},
		{
			name:     "no hits",
			lookup:   lookupOf(a),
			wantDocs: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate(context.Background(), tt.hits, tt.lookup)
			if got == nil {
				t.Fatal("Aggregate returned nil slice")
			}
			docs := []string{}
			for i, r := range got {
				docs = append(docs, r.Document.ID)
				if diff := r.Score - tt.wantScore[i]; diff > 1e-9 || diff < -1e-9 {
					t.Errorf("result %d score = %v, want %v", i, r.Score, tt.wantScore[i])
				}
				var ids []string
				for _, h := range r.Hits {
					ids = append(ids, h.ChunkID)
				}
				if !reflect.DeepEqual(ids, tt.wantHits[i]) {
					t.Errorf("result %d hits = %v, want %v", i, ids, tt.wantHits[i])
				}
			}
			if !reflect.DeepEqual(docs, tt.wantDocs) {
				t.Errorf("documents = %v, want %v", docs, tt.wantDocs)
			}
		})
	}
}

func TestAggregate_LooksUpEachDocumentOnce(t *testing.T) {
	calls := 0
	lookup := LookupFunc(func(_ context.Context, id string) (models.IncidentDocument, bool) {
		calls++
		return models.IncidentDocument{ID: id}, id != "gone"
	})
	hits := []models.SearchHit{hit("1", "a", 0.5), hit("2", "a", 0.4), hit("3", "gone", 0.3), hit("4", "gone", 0.2)}

	Aggregate(context.Background(), hits, lookup)
	if calls != 2 {
		t.Errorf("lookup called %d times, want 2", calls)
	}
}

func TestService_Query(t *testing.T) {
	doc := models.IncidentDocument{ID: "a", IncidentNumber: "AC1"}
	critical := models.SearchFilters{Severity: []models.Severity{models.SeverityCritical}}

	tests := []struct {
		name       string
		query      string
		filters    models.SearchFilters
		limit      int
		embedErr   error
		searchErr  error
		wantText   string
		wantLimit  int
		wantErr    string
		wantResult int
	}{
		{
			name:       "trimmed query and filters forwarded",
			query:      "  válvula bloqueada  ",
			filters:    critical,
			limit:      5,
			wantText:   "válvula bloqueada",
			wantLimit:  5,
			wantResult: 1,
		},
		{
			name:       "default limit",
			query:      "bomba",
			wantText:   "bomba",
			wantLimit:  DefaultLimit,
			wantResult: 1,
		},
		{
			name:     "embedding error propagates",
			query:    "bomba",
			embedErr: errors.New("embedding service unavailable"),
			wantText: "bomba",
			wantErr:  "embedding service unavailable",
		},
		{
			name:      "store error propagates",
			query:     "bomba",
			searchErr: errors.New("database connection failed"),
			wantText:  "bomba",
			wantLimit: DefaultLimit,
			wantErr:   "database connection failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			searched := false
			client := &MockAIClient{EmbedFunc: func(_ context.Context, text string) ([]float32, error) {
				if text != tt.wantText {
					t.Errorf("embedded %q, want %q", text, tt.wantText)
				}
				if tt.embedErr != nil {
					return nil, tt.embedErr
				}
				return []float32{1, 0, 0}, nil
			}}
			store := &MockSearcher{SearchFunc: func(_ context.Context, vec []float32, f models.SearchFilters, limit int) ([]models.SearchHit, error) {
				searched = true
				if limit != tt.wantLimit {
					t.Errorf("limit = %d, want %d", limit, tt.wantLimit)
				}
				if !reflect.DeepEqual(f, tt.filters) {
					t.Errorf("filters = %+v, want %+v", f, tt.filters)
				}
				if tt.searchErr != nil {
					return nil, tt.searchErr
				}
				return []models.SearchHit{hit("a0", "a", 0.7)}, nil
			}}

			svc := NewService(client, store, lookupOf(doc))
			got, err := svc.Query(context.Background(), tt.query, tt.filters, tt.limit)

			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				if tt.embedErr != nil && searched {
					t.Error("index must not be queried when embedding fails")
				}
				if tt.embedErr != nil && !errors.Is(err, tt.embedErr) {
					t.Error("embedding error should be wrapped")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != tt.wantResult {
				t.Errorf("got %d results, want %d", len(got), tt.wantResult)
			}
		})
	}
}

func TestService_Query_ContextCancellation(t *testing.T) {
	store := &MockSearcher{
		SearchFunc: func(ctx context.Context, vec []float32, f models.SearchFilters, limit int) ([]models.SearchHit, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
				return []models.SearchHit{}, nil
			}
		},
	}
	svc := NewService(&MockAIClient{}, store, lookupOf())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := svc.Query(ctx, "consulta", models.SearchFilters{}, 10); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestNewService(t *testing.T) {
	client := &MockAIClient{}
	store := &MockSearcher{}
	svc := NewService(client, store, lookupOf())

	if svc.Client != client {
		t.Error("Service client not set correctly")
	}
	if svc.Store != store {
		t.Error("Service store not set correctly")
	}
	if svc.Docs == nil {
		t.Error("Service lookup not set")
	}
}

func BenchmarkAggregate(b *testing.B) {
	hits := make([]models.SearchHit, 0, 100)
	docs := make([]models.IncidentDocument, 0, 10)
	for d := 0; d < 10; d++ {
		id := string(rune('a' + d))
		docs = append(docs, models.IncidentDocument{ID: id})
		for c := 0; c < 10; c++ {
			hits = append(hits, hit(id+string(rune('0'+c)), id, float64(c)/10))
		}
	}
	lookup := lookupOf(docs...)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Aggregate(ctx, hits, lookup)
	}
}
