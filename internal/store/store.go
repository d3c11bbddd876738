package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/seanblong/actasearch/pkg/models"
)

// IncidentStore persists structured incident records and their embedded
// chunks, and answers filtered nearest-neighbour queries over the chunks.
type IncidentStore interface {
	Migrate(ctx context.Context, dim int) error
	SaveDocument(ctx context.Context, doc models.IncidentDocument) error
	// DeleteDocument removes the record with the given incident number and
	// every chunk that belongs to it, and reports whether a record existed.
	// Deleting an unknown number is a no-op.
	DeleteDocument(ctx context.Context, incidentNumber string) (bool, error)
	// UpsertChunks writes chunks keyed by chunk ID, copying the filterable
	// metadata of doc onto each one.
	UpsertChunks(ctx context.Context, doc models.IncidentDocument, chunks []models.DocumentChunk) error
	Search(ctx context.Context, vec []float32, filters models.SearchFilters, limit int) ([]models.SearchHit, error)
	LoadDocuments(ctx context.Context) ([]models.IncidentDocument, error)
	GetDocument(ctx context.Context, id string) (models.IncidentDocument, bool, error)
	Chunks(ctx context.Context, documentID string) ([]models.DocumentChunk, error)
	CountChunks(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
	Close()
}

// Store is the PostgreSQL + pgvector implementation of IncidentStore.
type Store struct {
	pool *pgxpool.Pool
}

var _ IncidentStore = (*Store)(nil)

// New creates a new Store instance connected to the given database URL.
func New(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Ping checks the database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

const schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS documents (
  id                  TEXT PRIMARY KEY,
  incident_number     TEXT NOT NULL UNIQUE,
  reference           TEXT NOT NULL DEFAULT '',
  title               TEXT NOT NULL DEFAULT '',
  detected_at         TIMESTAMP WITH TIME ZONE,
  severity            TEXT NOT NULL,
  status              TEXT NOT NULL,
  category            TEXT NOT NULL DEFAULT '',
  subcategory         TEXT NOT NULL DEFAULT '',
  environment         TEXT NOT NULL DEFAULT '',
  client              TEXT NOT NULL DEFAULT '',
  project             TEXT NOT NULL DEFAULT '',
  contract            TEXT NOT NULL DEFAULT '',
  summary             TEXT NOT NULL DEFAULT '',
  description         TEXT NOT NULL DEFAULT '',
  problem_description TEXT NOT NULL DEFAULT '',
  root_cause          TEXT NOT NULL DEFAULT '',
  impact              TEXT NOT NULL DEFAULT '',
  participants        JSONB NOT NULL DEFAULT '[]',
  work_entries        JSONB NOT NULL DEFAULT '[]',
  resolution_steps    TEXT[] NOT NULL DEFAULT '{}',
  preventive_actions  TEXT[] NOT NULL DEFAULT '{}',
  hours_summary       JSONB,
  billing_info        TEXT NOT NULL DEFAULT '',
  reported_by         TEXT NOT NULL DEFAULT '',
  assigned_to         TEXT NOT NULL DEFAULT '',
  affected_systems    TEXT[] NOT NULL DEFAULT '{}',
  affected_services   TEXT[] NOT NULL DEFAULT '{}',
  tags                TEXT[] NOT NULL DEFAULT '{}',
  source_file         TEXT NOT NULL DEFAULT '',
  version             INT NOT NULL DEFAULT 1,
  created_at          TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
  updated_at          TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS chunks (
  id              TEXT PRIMARY KEY,
  document_id     TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
  incident_number TEXT NOT NULL,
  chunk_index     INT NOT NULL,
  section         TEXT NOT NULL DEFAULT '',
  text            TEXT NOT NULL,
  severity        TEXT NOT NULL,
  status          TEXT NOT NULL,
  category        TEXT NOT NULL DEFAULT '',
  environment     TEXT NOT NULL DEFAULT '',
  client          TEXT NOT NULL DEFAULT '',
  detected_at     TIMESTAMP WITH TIME ZONE,
  tags            TEXT[] NOT NULL DEFAULT '{}',
  embedding       vector(%d) NOT NULL,
  created_at      TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
  UNIQUE (document_id, chunk_index)
);

CREATE INDEX IF NOT EXISTS chunks_document_idx ON chunks (document_id);
CREATE INDEX IF NOT EXISTS chunks_incident_number_idx ON chunks (incident_number);
CREATE INDEX IF NOT EXISTS chunks_tags_gin ON chunks USING GIN (tags);

CREATE INDEX IF NOT EXISTS chunks_embedding_idx
  ON chunks USING hnsw (embedding vector_cosine_ops);
`

// Migrate applies necessary database migrations and schema setup.
func (s *Store) Migrate(ctx context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("invalid embedding dimension %d", dim)
	}
	_, err := s.pool.Exec(ctx, fmt.Sprintf(schema, dim))
	return err
}

const documentColumns = `
  id, incident_number, reference, title, detected_at, severity, status, category,
  subcategory, environment, client, project, contract, summary, description,
  problem_description, root_cause, impact, participants, work_entries,
  resolution_steps, preventive_actions, hours_summary, billing_info, reported_by,
  assigned_to, affected_systems, affected_services, tags, source_file, version,
  created_at, updated_at`

// SaveDocument inserts the record or replaces the one with the same id.
func (s *Store) SaveDocument(ctx context.Context, doc models.IncidentDocument) error {
	participants, err := json.Marshal(nonNil(doc.Participants))
	if err != nil {
		return fmt.Errorf("encode participants: %w", err)
	}
	works, err := json.Marshal(nonNil(doc.WorkEntries))
	if err != nil {
		return fmt.Errorf("encode work entries: %w", err)
	}
	var hours []byte
	if doc.Hours != nil {
		if hours, err = json.Marshal(doc.Hours); err != nil {
			return fmt.Errorf("encode hours: %w", err)
		}
	}

	q := `INSERT INTO documents (` + documentColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,
        $21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32,$33)
ON CONFLICT (id) DO UPDATE SET
  incident_number     = EXCLUDED.incident_number,
  reference           = EXCLUDED.reference,
  title               = EXCLUDED.title,
  detected_at         = EXCLUDED.detected_at,
  severity            = EXCLUDED.severity,
  status              = EXCLUDED.status,
  category            = EXCLUDED.category,
  subcategory         = EXCLUDED.subcategory,
  environment         = EXCLUDED.environment,
  client              = EXCLUDED.client,
  project             = EXCLUDED.project,
  contract            = EXCLUDED.contract,
  summary             = EXCLUDED.summary,
  description         = EXCLUDED.description,
  problem_description = EXCLUDED.problem_description,
  root_cause          = EXCLUDED.root_cause,
  impact              = EXCLUDED.impact,
  participants        = EXCLUDED.participants,
  work_entries        = EXCLUDED.work_entries,
  resolution_steps    = EXCLUDED.resolution_steps,
  preventive_actions  = EXCLUDED.preventive_actions,
  hours_summary       = EXCLUDED.hours_summary,
  billing_info        = EXCLUDED.billing_info,
  reported_by         = EXCLUDED.reported_by,
  assigned_to         = EXCLUDED.assigned_to,
  affected_systems    = EXCLUDED.affected_systems,
  affected_services   = EXCLUDED.affected_services,
  tags                = EXCLUDED.tags,
  source_file         = EXCLUDED.source_file,
  version             = EXCLUDED.version,
  updated_at          = EXCLUDED.updated_at`

	_, err = s.pool.Exec(ctx, q,
		doc.ID, doc.IncidentNumber, doc.Reference, doc.Title, doc.DetectedAt,
		string(doc.Severity), string(doc.Status), doc.Category, doc.Subcategory, doc.Environment,
		doc.Client, doc.Project, doc.Contract, doc.Summary, doc.Description,
		doc.ProblemDescription, doc.RootCause, doc.Impact, participants, works,
		nonNil(doc.ResolutionSteps), nonNil(doc.PreventiveActions), hours, doc.BillingInfo, doc.ReportedBy,
		doc.AssignedTo, nonNil(doc.AffectedSystems), nonNil(doc.AffectedServices), nonNil(doc.Tags), doc.SourceFile,
		doc.Version, doc.CreatedAt, doc.UpdatedAt,
	)
	return err
}

// DeleteDocument removes chunks and record in one transaction so a crash
// cannot leave chunks pointing at a missing document.
func (s *Store) DeleteDocument(ctx context.Context, incidentNumber string) (bool, error) {
	var deleted bool
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE incident_number = $1`, incidentNumber); err != nil {
			return fmt.Errorf("delete chunks: %w", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM documents WHERE incident_number = $1`, incidentNumber)
		if err != nil {
			return fmt.Errorf("delete document: %w", err)
		}
		deleted = tag.RowsAffected() > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

func (s *Store) UpsertChunks(ctx context.Context, doc models.IncidentDocument, chunks []models.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	const q = `
		INSERT INTO chunks (
			id, document_id, incident_number, chunk_index, section, text,
			severity, status, category, environment, client, detected_at, tags, embedding
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (id) DO UPDATE SET
			document_id     = EXCLUDED.document_id,
			incident_number = EXCLUDED.incident_number,
			chunk_index     = EXCLUDED.chunk_index,
			section         = EXCLUDED.section,
			text            = EXCLUDED.text,
			severity        = EXCLUDED.severity,
			status          = EXCLUDED.status,
			category        = EXCLUDED.category,
			environment     = EXCLUDED.environment,
			client          = EXCLUDED.client,
			detected_at     = EXCLUDED.detected_at,
			tags            = EXCLUDED.tags,
			embedding       = EXCLUDED.embedding`

	batch := &pgx.Batch{}
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return fmt.Errorf("chunk %s has no embedding", c.ID)
		}
		batch.Queue(q,
			c.ID, c.DocumentID, c.IncidentNumber, c.Index, c.Section, c.Text,
			string(doc.Severity), string(doc.Status), doc.Category, doc.Environment, doc.Client,
			doc.DetectedAt, nonNil(doc.Tags), pgvector.NewVector(c.Embedding),
		)
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		br := tx.SendBatch(ctx, batch)
		for i := range chunks {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("upsert chunk %s: %w", chunks[i].ID, err)
			}
		}
		return br.Close()
	})
}

// filterClause renders the conjunctive WHERE clause for filters. Placeholders
// start at $next; the returned args line up with them.
func filterClause(f models.SearchFilters, next int) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		conds = append(conds, fmt.Sprintf(cond, next))
		args = append(args, arg)
		next++
	}

	if len(f.Severity) > 0 {
		add("severity = ANY($%d)", toStrings(f.Severity))
	}
	if len(f.Status) > 0 {
		add("status = ANY($%d)", toStrings(f.Status))
	}
	if f.Category != "" {
		add("category = $%d", f.Category)
	}
	if f.Environment != "" {
		add("environment = $%d", f.Environment)
	}
	if len(f.Tags) > 0 {
		add("tags && $%d::text[]", f.Tags)
	}
	if f.Client != "" {
		add("client ILIKE '%%' || $%d || '%%'", f.Client)
	}
	if f.DetectedFrom != nil {
		add("detected_at >= $%d", *f.DetectedFrom)
	}
	if f.DetectedTo != nil {
		add("detected_at <= $%d", *f.DetectedTo)
	}

	if len(conds) == 0 {
		return "TRUE", nil
	}
	return strings.Join(conds, " AND "), args
}

// pgvector accepts hnsw.ef_search values in [1, 1000]; 40 is its default.
const (
	minEfSearch = 40
	maxEfSearch = 1000
)

// Search ranks chunks by cosine similarity to vec, most similar first.
// Scores are 1 - cosine distance clamped to [0, 1].
func (s *Store) Search(ctx context.Context, vec []float32, filters models.SearchFilters, limit int) ([]models.SearchHit, error) {
	if limit <= 0 {
		return []models.SearchHit{}, nil
	}

	where, fargs := filterClause(filters, 2)
	args := append([]any{pgvector.NewVector(vec)}, fargs...)

	q := fmt.Sprintf(`
SELECT id, document_id, chunk_index, section, text,
       LEAST(GREATEST(1 - (embedding <=> $1), 0), 1) AS score
FROM chunks
WHERE %s
ORDER BY embedding <=> $1
LIMIT %d`, where, limit)

	out := []models.SearchHit{}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", efSearch(limit))); err != nil {
			return fmt.Errorf("set hnsw.ef_search: %w", err)
		}
		// hnsw.iterative_scan needs pgvector 0.8; older servers reject it
		// and filtered queries keep the plain ef_search candidate list.
		sp, err := tx.Begin(ctx)
		if err != nil {
			return err
		}
		if _, err := sp.Exec(ctx, "SET LOCAL hnsw.iterative_scan = relaxed_order"); err != nil {
			if rerr := sp.Rollback(ctx); rerr != nil {
				return rerr
			}
		} else if err := sp.Commit(ctx); err != nil {
			return err
		}

		rows, err := tx.Query(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var h models.SearchHit
			if err := rows.Scan(&h.ChunkID, &h.DocumentID, &h.ChunkIndex, &h.Section, &h.Text, &h.Score); err != nil {
				return err
			}
			out = append(out, h)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// efSearch sizes the HNSW candidate list for a query returning limit rows.
func efSearch(limit int) int {
	return min(max(limit, minEfSearch), maxEfSearch)
}

func scanDocument(row pgx.Row) (models.IncidentDocument, error) {
	var (
		d                   models.IncidentDocument
		severity, status    string
		participants, works []byte
		hours               []byte
	)
	err := row.Scan(
		&d.ID, &d.IncidentNumber, &d.Reference, &d.Title, &d.DetectedAt, &severity, &status, &d.Category,
		&d.Subcategory, &d.Environment, &d.Client, &d.Project, &d.Contract, &d.Summary, &d.Description,
		&d.ProblemDescription, &d.RootCause, &d.Impact, &participants, &works,
		&d.ResolutionSteps, &d.PreventiveActions, &hours, &d.BillingInfo, &d.ReportedBy,
		&d.AssignedTo, &d.AffectedSystems, &d.AffectedServices, &d.Tags, &d.SourceFile, &d.Version,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return d, err
	}
	d.Severity = models.Severity(severity)
	d.Status = models.Status(status)

	if err := json.Unmarshal(participants, &d.Participants); err != nil {
		return d, fmt.Errorf("decode participants of %s: %w", d.IncidentNumber, err)
	}
	if err := json.Unmarshal(works, &d.WorkEntries); err != nil {
		return d, fmt.Errorf("decode work entries of %s: %w", d.IncidentNumber, err)
	}
	if len(hours) > 0 {
		d.Hours = &models.HoursSummary{}
		if err := json.Unmarshal(hours, d.Hours); err != nil {
			return d, fmt.Errorf("decode hours of %s: %w", d.IncidentNumber, err)
		}
	}
	return d, nil
}

// LoadDocuments returns every record, most recently detected first.
func (s *Store) LoadDocuments(ctx context.Context) ([]models.IncidentDocument, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+documentColumns+` FROM documents ORDER BY detected_at DESC NULLS LAST, incident_number`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.IncidentDocument
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) GetDocument(ctx context.Context, id string) (models.IncidentDocument, bool, error) {
	d, err := scanDocument(s.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.IncidentDocument{}, false, nil
		}
		return models.IncidentDocument{}, false, err
	}
	return d, true, nil
}

// Chunks returns the chunks of a document in index order, without embeddings.
func (s *Store) Chunks(ctx context.Context, documentID string) ([]models.DocumentChunk, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, document_id, incident_number, chunk_index, section, text
FROM chunks WHERE document_id = $1 ORDER BY chunk_index`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.DocumentChunk{}
	for rows.Next() {
		var c models.DocumentChunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.IncidentNumber, &c.Index, &c.Section, &c.Text); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) CountChunks(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM chunks`).Scan(&n)
	return n, err
}

func toStrings[T ~string](in []T) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = string(v)
	}
	return out
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
