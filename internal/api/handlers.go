package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/seanblong/actasearch/internal/ai"
	"github.com/seanblong/actasearch/internal/incident"
	"github.com/seanblong/actasearch/internal/indexer"
	"github.com/seanblong/actasearch/pkg/models"
)

const dateLayout = "2006-01-02"

type IngestRequest struct {
	Text     string `json:"text"`
	Filename string `json:"filename"`
	// Path names a .pdf or .txt file below the server's docs directory.
	Path string `json:"path"`
}

type SearchRequest struct {
	Query   string               `json:"query"`
	Filters models.SearchFilters `json:"filters"`
	Limit   int                  `json:"limit"`
}

type SearchResponse struct {
	Query   string                    `json:"query"`
	Results []models.AggregatedResult `json:"results"`
	Total   int                       `json:"total"`
}

type AgentRequest struct {
	Query    string               `json:"query"`
	Filters  models.SearchFilters `json:"filters"`
	Limit    int                  `json:"limit"`
	Detailed bool                 `json:"detailed"`
	History  []ai.Message         `json:"history"`
}

type IncidentList struct {
	Incidents []models.IncidentDocument `json:"incidents"`
	Total     int                       `json:"total"`
}

func handleListIncidents(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs := deps.Incidents.GetAll()
		writeJSON(w, http.StatusOK, IncidentList{Incidents: docs, Total: len(docs)})
	}
}

func handleGetIncident(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		doc, err := deps.Incidents.GetByID(r.Context(), id)
		if errors.Is(err, incident.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "incident %s not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	}
}

func handleGetChunks(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		chunks, err := deps.Incidents.Chunks(r.Context(), id)
		if errors.Is(err, incident.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "incident %s not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}
		if chunks == nil {
			chunks = []models.DocumentChunk{}
		}
		writeJSON(w, http.StatusOK, chunks)
	}
}

func handleIngest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxIngestBodySize)
		defer r.Body.Close()

		var req IngestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		text, filename := req.Text, req.Filename
		if req.Path != "" {
			path, code, err := resolveDocPath(deps.DocsDir, req.Path)
			if err != nil {
				httpError(w, code, "invalid_request_error", "%v", err)
				return
			}
			text, err = indexer.ReadText(path)
			switch {
			case errors.Is(err, fs.ErrNotExist):
				httpError(w, http.StatusNotFound, "not_found", "file %s not found", req.Path)
				return
			case err != nil:
				httpError(w, http.StatusBadRequest, "invalid_request_error", "read %s: %v", req.Path, err)
				return
			}
			if filename == "" {
				filename = filepath.Base(path)
			}
		}
		if strings.TrimSpace(text) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "text or path with extractable text is required")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), ingestTimeout)
		defer cancel()
		doc, err := deps.Incidents.Ingest(ctx, text, filename)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusCreated, doc)
	}
}

// resolveDocPath maps a client path onto docsDir and rejects anything
// outside it.
func resolveDocPath(docsDir, p string) (string, int, error) {
	if docsDir == "" {
		return "", http.StatusForbidden, errors.New("path ingestion is disabled")
	}
	root, err := filepath.Abs(docsDir)
	if err != nil {
		return "", http.StatusInternalServerError, err
	}
	full := p
	if !filepath.IsAbs(full) {
		full = filepath.Join(root, full)
	}
	full = filepath.Clean(full)
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", http.StatusForbidden, fmt.Errorf("path %s is outside the docs directory", p)
	}
	if !indexer.Supported(full) {
		return "", http.StatusBadRequest, fmt.Errorf("unsupported file type %q", filepath.Ext(full))
	}
	return full, http.StatusOK, nil
}

func handleDelete(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		number := chi.URLParam(r, "number")
		err := deps.Incidents.Delete(r.Context(), number)
		if errors.Is(err, incident.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "incident %s not found", number)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleSearchGet(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filters, err := filtersFromQuery(q)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		limit := 0
		if v := q.Get("limit"); v != "" {
			if limit, err = strconv.Atoi(v); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid limit %q", v)
				return
			}
		}
		serveSearch(w, r, deps, SearchRequest{Query: q.Get("q"), Filters: filters, Limit: limit})
	}
}

func handleSearchPost(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxQueryBodySize)
		defer r.Body.Close()

		var req SearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		serveSearch(w, r, deps, req)
	}
}

func serveSearch(w http.ResponseWriter, r *http.Request, deps Deps, req SearchRequest) {
	start := time.Now()
	limit, err := checkQuery(req.Query, req.Filters, req.Limit)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), searchTimeout)
	defer cancel()
	results, err := deps.Incidents.Search(ctx, req.Query, req.Filters, limit)
	if err != nil {
		httpError(w, http.StatusBadGateway, "api_error", "%v", err)
		return
	}

	writeJSON(w, http.StatusOK, SearchResponse{Query: req.Query, Results: results, Total: len(results)})
	hlog.FromRequest(r).Info().Str("q", req.Query).Int("limit", limit).Int("results", len(results)).Dur("dur", time.Since(start)).Msg("served search")
}

func handleAgentQuery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxQueryBodySize)
		defer r.Body.Close()

		var req AgentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		limit, err := checkQuery(req.Query, req.Filters, req.Limit)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), ingestTimeout)
		defer cancel()
		results, err := deps.Incidents.Search(ctx, req.Query, req.Filters, limit)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "%v", err)
			return
		}
		resp, err := deps.Agent.Respond(ctx, req.Query, results, req.Detailed, req.History)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Incidents.Stats(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

// checkQuery validates a search request and returns the limit to use.
func checkQuery(q string, f models.SearchFilters, limit int) (int, error) {
	if strings.TrimSpace(q) == "" {
		return 0, errors.New("query is required")
	}
	if limit < 0 {
		return 0, fmt.Errorf("invalid limit %d", limit)
	}
	for _, s := range f.Severity {
		if !s.Valid() {
			return 0, fmt.Errorf("unknown severity %q", s)
		}
	}
	for _, s := range f.Status {
		if !s.Valid() {
			return 0, fmt.Errorf("unknown status %q", s)
		}
	}
	return min(limit, maxLimit), nil
}

// filtersFromQuery reads filters from URL parameters. List parameters are
// comma separated; dates use YYYY-MM-DD.
func filtersFromQuery(q url.Values) (models.SearchFilters, error) {
	f := models.SearchFilters{
		Category:    q.Get("category"),
		Environment: q.Get("environment"),
		Client:      q.Get("client"),
		Tags:        list(q.Get("tags")),
	}
	for _, s := range list(q.Get("severity")) {
		f.Severity = append(f.Severity, models.Severity(s))
	}
	for _, s := range list(q.Get("status")) {
		f.Status = append(f.Status, models.Status(s))
	}

	for name, dst := range map[string]**time.Time{"date_from": &f.DetectedFrom, "date_to": &f.DetectedTo} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			return models.SearchFilters{}, fmt.Errorf("invalid %s %q (want YYYY-MM-DD)", name, v)
		}
		if name == "date_to" {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		*dst = &t
	}
	return f, nil
}

func list(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
