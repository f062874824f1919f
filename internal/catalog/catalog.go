// Package catalog implements the relational catalog of documents,
// per-indexer-version indexed documents, and shared content-addressing
// anchors, plus the change-notification trigger the change bus listens on.
//
// Pool construction and the parameterized-SQL, ON CONFLICT style follow
// the conventions used for this codebase's other Postgres-backed stores;
// the schema itself is new, this domain having no catalog of this shape
// elsewhere.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"seemantic/internal/config"
)

// Status is an IndexedDocument's place in the indexing state machine.
type Status string

const (
	StatusPending         Status = "pending"
	StatusIndexing        Status = "indexing"
	StatusIndexingSuccess Status = "indexing_success"
	StatusIndexingError   Status = "indexing_error"
)

// IndexedDocument is one document's indexing record for a given
// indexer_version.
type IndexedDocument struct {
	ID                    uuid.UUID
	DocumentID            uuid.UUID
	URI                   string
	IndexerVersion        int
	IndexedSourceVersion  *string
	IndexedContentID      *uuid.UUID
	Status                Status
	LastStatusChange      time.Time
	LastIndexing          *time.Time
	ErrorMessage          *string
}

// DocumentView is the read shape joined at query time when resolving
// retrieval hits back to documents, and surfaced over the change bus.
type DocumentView struct {
	IndexedDocumentID uuid.UUID
	DocumentID        uuid.UUID
	URI               string
	IndexerVersion    int
	Status            Status
	ParsedHash        string
}

// Catalog wraps a Postgres pool and owns every document/indexed_document/
// indexed_content row. It is the only writer, and serialization across
// writers is the indexer's responsibility via the work queue.
type Catalog struct {
	pool *pgxpool.Pool
}

// New connects and bootstraps the schema: tables, constraints, and the
// table_changes NOTIFY trigger.
func New(ctx context.Context, cfg config.PostgresConfig) (*Catalog, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("catalog: parse dsn: %w", err)
	}
	pcfg.MaxConns = 16
	pcfg.MaxConnLifetime = time.Hour
	pcfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("catalog: connect: %w", err)
	}
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(cctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("catalog: ping: %w", err)
	}
	c := &Catalog{pool: pool}
	if err := c.bootstrap(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return c, nil
}

// Pool exposes the underlying connection pool for the change bus, which needs a raw
// connection to LISTEN on.
func (c *Catalog) Pool() *pgxpool.Pool { return c.pool }

func (c *Catalog) bootstrap(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS document (
  id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
  uri           TEXT NOT NULL UNIQUE,
  creation_time TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS indexed_content (
  id              UUID PRIMARY KEY DEFAULT gen_random_uuid(),
  raw_hash        TEXT NOT NULL,
  parsed_hash     TEXT NOT NULL,
  indexer_version INT  NOT NULL,
  UNIQUE (raw_hash, indexer_version)
);

CREATE TABLE IF NOT EXISTS indexed_document (
  id                      UUID PRIMARY KEY DEFAULT gen_random_uuid(),
  document_id             UUID NOT NULL REFERENCES document(id) ON DELETE CASCADE,
  uri                     TEXT NOT NULL,
  indexer_version         INT  NOT NULL,
  indexed_source_version  TEXT,
  indexed_content_id      UUID REFERENCES indexed_content(id),
  status                  TEXT NOT NULL CHECK (status IN ('pending','indexing','indexing_success','indexing_error')),
  last_status_change      TIMESTAMPTZ NOT NULL DEFAULT now(),
  last_indexing           TIMESTAMPTZ,
  error_message           TEXT,
  UNIQUE (document_id, indexer_version),
  CHECK ((status = 'indexing_success') = (indexed_content_id IS NOT NULL))
);

CREATE OR REPLACE FUNCTION notify_indexed_document_change() RETURNS trigger AS $$
DECLARE
  payload JSON;
  op TEXT;
  row_data RECORD;
BEGIN
  IF TG_OP = 'DELETE' THEN
    op := 'delete';
    row_data := OLD;
  ELSIF TG_OP = 'INSERT' THEN
    op := 'insert';
    row_data := NEW;
  ELSE
    op := 'update';
    row_data := NEW;
  END IF;
  payload := json_build_object('operation', op, 'data', row_to_json(row_data));
  PERFORM pg_notify('table_changes', payload::text);
  RETURN NULL;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS indexed_document_changes ON indexed_document;
CREATE TRIGGER indexed_document_changes
  AFTER INSERT OR UPDATE OR DELETE ON indexed_document
  FOR EACH ROW EXECUTE FUNCTION notify_indexed_document_change();
`
	if _, err := c.pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS pgcrypto`); err != nil {
		// gen_random_uuid() needs pgcrypto on older Postgres; 13+ ships it
		// built in as uuid-ossp's replacement, so a failure here is
		// non-fatal as long as the function already exists.
		_ = err
	}
	if _, err := c.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("catalog: bootstrap schema: %w", err)
	}
	return nil
}

// DeleteDocuments cascade-removes the Document rows (and, via foreign key,
// every IndexedDocument across all indexer versions) for the given uris.
func (c *Catalog) DeleteDocuments(ctx context.Context, uris []string) error {
	if len(uris) == 0 {
		return nil
	}
	_, err := c.pool.Exec(ctx, `DELETE FROM document WHERE uri = ANY($1)`, uris)
	if err != nil {
		return fmt.Errorf("catalog: delete documents: %w", err)
	}
	return nil
}

// CreateIndexedDocuments upserts the Document handle for each uri (a no-op
// if it already exists) and inserts a pending IndexedDocument for
// (uri, indexerVersion), idempotently. Returns the indexed_document id for
// every uri.
//
// The change bus sees this row's creation as an insert frame, not an
// update{status=pending} frame; a freshly observed uri has no prior row to
// transition from, so insert is the faithful event for it.
func (c *Catalog) CreateIndexedDocuments(ctx context.Context, uris []string, indexerVersion int) (map[string]uuid.UUID, error) {
	out := make(map[string]uuid.UUID, len(uris))
	if len(uris) == 0 {
		return out, nil
	}
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, uri := range uris {
		var docID uuid.UUID
		err := tx.QueryRow(ctx, `
INSERT INTO document (uri) VALUES ($1)
ON CONFLICT (uri) DO UPDATE SET uri = EXCLUDED.uri
RETURNING id`, uri).Scan(&docID)
		if err != nil {
			return nil, fmt.Errorf("catalog: upsert document %s: %w", uri, err)
		}

		var idxID uuid.UUID
		err = tx.QueryRow(ctx, `
INSERT INTO indexed_document (document_id, uri, indexer_version, status)
VALUES ($1, $2, $3, $4)
ON CONFLICT (document_id, indexer_version) DO UPDATE SET uri = EXCLUDED.uri
RETURNING id`, docID, uri, indexerVersion, StatusPending).Scan(&idxID)
		if err != nil {
			return nil, fmt.Errorf("catalog: upsert indexed_document %s: %w", uri, err)
		}
		out[uri] = idxID
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("catalog: commit: %w", err)
	}
	return out, nil
}

// UpdateIndexedDocumentsStatus sets status (and, for indexing_error,
// error_message) for the given ids. Writing indexing_success through this
// call is refused; callers must go through FinalizeIndexedDocument so
// indexed_content_id is always set consistently with I5.
func (c *Catalog) UpdateIndexedDocumentsStatus(ctx context.Context, ids []uuid.UUID, status Status, errorMessage *string) error {
	if len(ids) == 0 {
		return nil
	}
	if status == StatusIndexingSuccess {
		return errors.New("catalog: use FinalizeIndexedDocument to set indexing_success")
	}
	_, err := c.pool.Exec(ctx, `
UPDATE indexed_document
SET status = $2, error_message = $3, last_status_change = now()
WHERE id = ANY($1)`, ids, status, errorMessage)
	if err != nil {
		return fmt.Errorf("catalog: update status: %w", err)
	}
	return nil
}

// GetIndexedContentIfExists returns the existing IndexedContent anchor for
// (rawHash, indexerVersion), if any — the first content-addressing early
// exit in the indexer's per-unit state machine.
func (c *Catalog) GetIndexedContentIfExists(ctx context.Context, rawHash string, indexerVersion int) (contentID uuid.UUID, parsedHash string, ok bool, err error) {
	err = c.pool.QueryRow(ctx, `
SELECT id, parsed_hash FROM indexed_content WHERE raw_hash = $1 AND indexer_version = $2`,
		rawHash, indexerVersion).Scan(&contentID, &parsedHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, "", false, nil
		}
		return uuid.Nil, "", false, fmt.Errorf("catalog: get indexed content: %w", err)
	}
	return contentID, parsedHash, true, nil
}

// UpsertIndexedContent records the (rawHash, parsedHash) anchor for
// indexerVersion. Unique on (raw_hash, indexer_version); on conflict,
// parsed_hash is updated, which is idempotent because the same raw bytes
// always parse to the same parsed_hash under a fixed parser_version.
func (c *Catalog) UpsertIndexedContent(ctx context.Context, rawHash, parsedHash string, indexerVersion int) (uuid.UUID, error) {
	var id uuid.UUID
	err := c.pool.QueryRow(ctx, `
INSERT INTO indexed_content (raw_hash, parsed_hash, indexer_version)
VALUES ($1, $2, $3)
ON CONFLICT (raw_hash, indexer_version) DO UPDATE SET parsed_hash = EXCLUDED.parsed_hash
RETURNING id`, rawHash, parsedHash, indexerVersion).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("catalog: upsert indexed content: %w", err)
	}
	return id, nil
}

// FinalizeIndexedDocument is the only path to indexing_success: it sets
// indexed_content_id, records indexed_source_version and last_indexing, and
// clears any prior error_message, all in one statement.
func (c *Catalog) FinalizeIndexedDocument(ctx context.Context, id uuid.UUID, sourceVersion *string, contentID uuid.UUID) error {
	_, err := c.pool.Exec(ctx, `
UPDATE indexed_document
SET status = $2, indexed_content_id = $3, indexed_source_version = $4,
    last_indexing = now(), last_status_change = now(), error_message = NULL
WHERE id = $1`, id, StatusIndexingSuccess, contentID, sourceVersion)
	if err != nil {
		return fmt.Errorf("catalog: finalize %s: %w", id, err)
	}
	return nil
}

// GetDocumentsFromIndexedParsedHashes joins chunk-vector hits back to the
// catalog at query time, returning only rows whose indexed_content_id
// currently matches the given parsed_hash (so a since-superseded content
// anchor is never surfaced).
func (c *Catalog) GetDocumentsFromIndexedParsedHashes(ctx context.Context, parsedHashes []string, indexerVersion int) (map[string]DocumentView, error) {
	out := make(map[string]DocumentView, len(parsedHashes))
	if len(parsedHashes) == 0 {
		return out, nil
	}
	rows, err := c.pool.Query(ctx, `
SELECT d.id, d.uri, d.indexer_version, d.status, ic.parsed_hash, doc.id
FROM indexed_document d
JOIN indexed_content ic ON ic.id = d.indexed_content_id
JOIN document doc ON doc.id = d.document_id
WHERE ic.parsed_hash = ANY($1) AND d.indexer_version = $2 AND d.indexed_content_id IS NOT NULL`,
		parsedHashes, indexerVersion)
	if err != nil {
		return nil, fmt.Errorf("catalog: get documents from parsed hashes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var v DocumentView
		var docID uuid.UUID
		if err := rows.Scan(&v.IndexedDocumentID, &v.URI, &v.IndexerVersion, &v.Status, &v.ParsedHash, &docID); err != nil {
			return nil, fmt.Errorf("catalog: scan document view: %w", err)
		}
		v.DocumentID = docID
		out[v.ParsedHash] = v
	}
	return out, rows.Err()
}

// GetAllDocuments returns every IndexedDocument for indexerVersion, used at
// reconciliation startup to diff against the source's current listing.
func (c *Catalog) GetAllDocuments(ctx context.Context, indexerVersion int) ([]IndexedDocument, error) {
	rows, err := c.pool.Query(ctx, `
SELECT id, document_id, uri, indexer_version, indexed_source_version,
       indexed_content_id, status, last_status_change, last_indexing, error_message
FROM indexed_document WHERE indexer_version = $1`, indexerVersion)
	if err != nil {
		return nil, fmt.Errorf("catalog: get all documents: %w", err)
	}
	defer rows.Close()
	return scanIndexedDocuments(rows)
}

// GetDocuments returns the IndexedDocument rows for the given uris at
// indexerVersion — used to re-classify a single uri on event arrival.
func (c *Catalog) GetDocuments(ctx context.Context, uris []string, indexerVersion int) ([]IndexedDocument, error) {
	if len(uris) == 0 {
		return nil, nil
	}
	rows, err := c.pool.Query(ctx, `
SELECT id, document_id, uri, indexer_version, indexed_source_version,
       indexed_content_id, status, last_status_change, last_indexing, error_message
FROM indexed_document WHERE uri = ANY($1) AND indexer_version = $2`, uris, indexerVersion)
	if err != nil {
		return nil, fmt.Errorf("catalog: get documents: %w", err)
	}
	defer rows.Close()
	return scanIndexedDocuments(rows)
}

func scanIndexedDocuments(rows pgx.Rows) ([]IndexedDocument, error) {
	var out []IndexedDocument
	for rows.Next() {
		var d IndexedDocument
		if err := rows.Scan(&d.ID, &d.DocumentID, &d.URI, &d.IndexerVersion, &d.IndexedSourceVersion,
			&d.IndexedContentID, &d.Status, &d.LastStatusChange, &d.LastIndexing, &d.ErrorMessage); err != nil {
			return nil, fmt.Errorf("catalog: scan indexed document: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetExplorerDocuments lists every document across all indexer versions for
// a given uri prefix, backing the API surface's GET explorer endpoint.
func (c *Catalog) GetExplorerDocuments(ctx context.Context, prefix string) ([]IndexedDocument, error) {
	rows, err := c.pool.Query(ctx, `
SELECT id, document_id, uri, indexer_version, indexed_source_version,
       indexed_content_id, status, last_status_change, last_indexing, error_message
FROM indexed_document WHERE uri LIKE $1 ORDER BY uri`, strings.TrimSuffix(prefix, "/")+"%")
	if err != nil {
		return nil, fmt.Errorf("catalog: get explorer documents: %w", err)
	}
	defer rows.Close()
	return scanIndexedDocuments(rows)
}

func (c *Catalog) Close() { c.pool.Close() }
