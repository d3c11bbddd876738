package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/actasearch/internal/agent"
	"github.com/seanblong/actasearch/internal/auth"
	"github.com/seanblong/actasearch/internal/incident"
	"github.com/seanblong/actasearch/pkg/models"
)

const (
	maxIngestBodySize = 10 << 20 // 10MB
	maxQueryBodySize  = 1 << 20
	maxLimit          = 100

	searchTimeout = 30 * time.Second
	ingestTimeout = 2 * time.Minute
)

// Incidents is the query surface the HTTP layer serves.
type Incidents interface {
	Ingest(ctx context.Context, text, filename string) (models.IncidentDocument, error)
	Search(ctx context.Context, q string, filters models.SearchFilters, limit int) ([]models.AggregatedResult, error)
	GetAll() []models.IncidentDocument
	GetByID(ctx context.Context, id string) (models.IncidentDocument, error)
	Delete(ctx context.Context, incidentNumber string) error
	Chunks(ctx context.Context, id string) ([]models.DocumentChunk, error)
	Stats(ctx context.Context) (incident.Stats, error)
}

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Incidents Incidents
	Agent     *agent.Agent
	Store     Pinger
	Logger    zerolog.Logger
	// DocsDir bounds server-side path ingestion; empty disables it.
	DocsDir string
}

// NewHandler builds the HTTP API. Read routes need the read scope and
// mutating routes the ingest scope when auth is enabled.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(hlog.NewHandler(deps.Logger))
	r.Use(hlog.RequestIDHandler("req_id", "Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("dur", dur).
			Msg("http")
	}))

	r.Get("/healthz", handleHealth(deps))
	r.Get("/auth/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"enabled": auth.IsAuthEnabled()})
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireScope(auth.ScopeRead))
		r.Get("/incidents", handleListIncidents(deps))
		r.Get("/incidents/{id}", handleGetIncident(deps))
		r.Get("/incidents/{id}/chunks", handleGetChunks(deps))
		r.Get("/search", handleSearchGet(deps))
		r.Post("/search", handleSearchPost(deps))
		r.Post("/agent/query", handleAgentQuery(deps))
		r.Get("/stats", handleStats(deps))
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireScope(auth.ScopeIngest))
		r.Post("/incidents/ingest", handleIngest(deps))
		r.Delete("/incidents/{number}", handleDelete(deps))
	})

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()
			if err := deps.Store.Ping(ctx); err != nil {
				httpError(w, http.StatusServiceUnavailable, "unavailable", "store: %v", err)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
