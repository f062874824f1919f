package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"seemantic/internal/config"
	"seemantic/internal/embedder"
)

// ChunkResult is one query hit: a chunk's byte range and distance under the
// store's declared metric.
type ChunkResult struct {
	Start    int
	End      int
	Distance float64
}

// DocumentHit groups chunk hits by parsed_hash and joins in their markdown,
// as returned by Query.
type DocumentHit struct {
	ParsedHash string
	Markdown   string
	Chunks     []ChunkResult
}

// Store is the content-addressed parsed-markdown and chunk-vector
// store, partitioned by indexer_version for the lifetime of the process
// (the version is fixed at construction).
type Store struct {
	vector *vectorStore
	parsed *parsedStore
}

// New constructs the store façade for a single indexer version, bootstrapping
// both the Qdrant collection and the Postgres table that back it.
func New(ctx context.Context, pgPool *pgxpool.Pool, qdrantCfg config.QdrantConfig, indexerVersion, dimension int, metric config.DistanceMetric) (*Store, error) {
	vs, err := newVectorStore(ctx, qdrantCfg, indexerVersion, dimension, metric)
	if err != nil {
		return nil, err
	}
	ps, err := newParsedStore(ctx, pgPool, indexerVersion)
	if err != nil {
		return nil, err
	}
	return &Store{vector: vs, parsed: ps}, nil
}

// Index atomically (from the caller's point of view) upserts the markdown
// row and replaces all chunk rows for parsedHash with the given set.
// Idempotent: re-indexing the same (parsedHash, markdown, chunks) converges
// to the same state.
func (s *Store) Index(ctx context.Context, parsedHash, markdown string, chunks []embedder.EmbeddedChunk) error {
	if err := s.parsed.upsert(ctx, parsedHash, markdown); err != nil {
		return err
	}
	cvs := make([]chunkVector, len(chunks))
	for i, c := range chunks {
		cvs[i] = chunkVector{Start: c.Start, End: c.End, Vector: c.Vector}
	}
	if err := s.vector.replaceChunks(ctx, parsedHash, cvs); err != nil {
		return err
	}
	return nil
}

// chunkVector is the internal shape replaceChunks operates on, decoupled
// from the embedder package's EmbeddedChunk.
type chunkVector struct {
	Start  int
	End    int
	Vector []float32
}

// IsIndexed reports whether chunk rows already exist for parsedHash — the
// fast-path check the indexer uses to skip chunk+embed work.
func (s *Store) IsIndexed(ctx context.Context, parsedHash string) (bool, error) {
	return s.vector.isIndexed(ctx, parsedHash)
}

// GetDocument returns the markdown for parsedHash, or ok=false if absent.
func (s *Store) GetDocument(ctx context.Context, parsedHash string) (string, bool, error) {
	return s.parsed.get(ctx, parsedHash)
}

// Query returns the top-k nearest chunks under the store's declared metric,
// grouped by parsed_hash and joined with their markdown in one additional
// lookup.
func (s *Store) Query(ctx context.Context, vector []float32, k int) ([]DocumentHit, error) {
	hits, err := s.vector.queryTopK(ctx, vector, k)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}
	byHash := make(map[string][]ChunkResult)
	order := make([]string, 0)
	for _, h := range hits {
		if _, ok := byHash[h.ParsedHash]; !ok {
			order = append(order, h.ParsedHash)
		}
		byHash[h.ParsedHash] = append(byHash[h.ParsedHash], ChunkResult{Start: h.Start, End: h.End, Distance: h.Distance})
	}
	markdownByHash, err := s.parsed.getMany(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("store: query join markdown: %w", err)
	}
	out := make([]DocumentHit, 0, len(order))
	for _, hash := range order {
		out = append(out, DocumentHit{
			ParsedHash: hash,
			Markdown:   markdownByHash[hash],
			Chunks:     byHash[hash],
		})
	}
	return out, nil
}

func (s *Store) Close() error {
	return s.vector.close()
}
