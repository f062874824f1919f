package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// parsedStore is the markdown half of the store: one table per indexer
// version, following the pool-and-table-per-backend shape used by this
// codebase's other Postgres-backed stores.
type parsedStore struct {
	pool  *pgxpool.Pool
	table string
}

func newParsedStore(ctx context.Context, pool *pgxpool.Pool, indexerVersion int) (*parsedStore, error) {
	table := fmt.Sprintf("parsed_v%d", indexerVersion)
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  parsed_hash TEXT PRIMARY KEY,
  markdown    TEXT NOT NULL
)`, table)
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return nil, fmt.Errorf("store: bootstrap %s: %w", table, err)
	}
	return &parsedStore{pool: pool, table: table}, nil
}

func (p *parsedStore) upsert(ctx context.Context, parsedHash, markdown string) error {
	query := fmt.Sprintf(`
INSERT INTO %s (parsed_hash, markdown) VALUES ($1, $2)
ON CONFLICT (parsed_hash) DO UPDATE SET markdown = EXCLUDED.markdown`, p.table)
	if _, err := p.pool.Exec(ctx, query, parsedHash, markdown); err != nil {
		return fmt.Errorf("store: upsert markdown %s: %w", parsedHash, err)
	}
	return nil
}

func (p *parsedStore) get(ctx context.Context, parsedHash string) (string, bool, error) {
	query := fmt.Sprintf(`SELECT markdown FROM %s WHERE parsed_hash = $1`, p.table)
	var md string
	err := p.pool.QueryRow(ctx, query, parsedHash).Scan(&md)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("store: get markdown %s: %w", parsedHash, err)
	}
	return md, true, nil
}

// getMany batch-fetches markdown for a set of parsed hashes, used by
// query() to join chunk-vector hits with their source markdown in a single
// additional lookup.
func (p *parsedStore) getMany(ctx context.Context, parsedHashes []string) (map[string]string, error) {
	if len(parsedHashes) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT parsed_hash, markdown FROM %s WHERE parsed_hash = ANY($1)`, p.table)
	rows, err := p.pool.Query(ctx, query, parsedHashes)
	if err != nil {
		return nil, fmt.Errorf("store: get_many markdown: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string, len(parsedHashes))
	for rows.Next() {
		var hash, md string
		if err := rows.Scan(&hash, &md); err != nil {
			return nil, fmt.Errorf("store: scan markdown row: %w", err)
		}
		out[hash] = md
	}
	return out, rows.Err()
}
