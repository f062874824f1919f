// Package store implements the content-addressed parsed-markdown and
// chunk-vector store, partitioned by indexer version. The vector half is
// backed by Qdrant (one collection per indexer_version); the markdown half
// is backed by a Postgres table (one table per indexer_version).
package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"seemantic/internal/config"
)

const parsedHashField = "parsed_hash"

// vectorStore wraps one Qdrant collection dedicated to a single indexer
// version. Point IDs are deterministic UUIDv5s derived from
// (parsed_hash, start, end) so repeated upserts of the same chunk converge
// to the same point, the same deterministic-ID scheme used elsewhere for
// Qdrant-backed vector stores in this codebase's lineage.
type vectorStore struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

func newVectorStore(ctx context.Context, cfg config.QdrantConfig, indexerVersion int, dimension int, metric config.DistanceMetric) (*vectorStore, error) {
	host, port := cfg.Addr, "6334"
	if idx := strings.LastIndexByte(cfg.Addr, ':'); idx >= 0 {
		host = cfg.Addr[:idx]
		port = cfg.Addr[idx+1:]
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		portNum = 6334
	}
	qc := &qdrant.Config{Host: host, Port: portNum}
	if cfg.APIKey != "" {
		qc.APIKey = cfg.APIKey
	}
	cl, err := qdrant.NewClient(qc)
	if err != nil {
		return nil, fmt.Errorf("store: create qdrant client: %w", err)
	}
	collection := fmt.Sprintf("%s_v%d", cfg.Collection, indexerVersion)
	vs := &vectorStore{client: cl, collection: collection, dimension: dimension}
	if err := vs.ensureCollection(ctx, metric); err != nil {
		cl.Close()
		return nil, err
	}
	return vs, nil
}

func (v *vectorStore) ensureCollection(ctx context.Context, metric config.DistanceMetric) error {
	exists, err := v.client.CollectionExists(ctx, v.collection)
	if err != nil {
		return fmt.Errorf("store: check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	var distance qdrant.Distance
	switch metric {
	case config.DistanceL2:
		distance = qdrant.Distance_Euclid
	case config.DistanceDot:
		distance = qdrant.Distance_Dot
	default:
		distance = qdrant.Distance_Cosine
	}
	err = v.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(v.dimension),
			Distance: distance,
		}),
	})
	if err != nil {
		return fmt.Errorf("store: create collection %s: %w", v.collection, err)
	}
	return nil
}

// pointID derives a deterministic point ID for one chunk of one parsed_hash.
func pointID(parsedHash string, start, end int) string {
	key := fmt.Sprintf("%s:%d:%d", parsedHash, start, end)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

// replaceChunks implements "for this parsed_hash, replace all chunks with
// the given set": upsert desired points first (so a crash mid-operation
// never removes chunks I1 depends on), then delete any existing point for
// this parsed_hash that isn't in the desired set.
func (v *vectorStore) replaceChunks(ctx context.Context, parsedHash string, chunks []chunkVector) error {
	desired := make(map[string]struct{}, len(chunks))
	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		id := pointID(parsedHash, c.Start, c.End)
		desired[id] = struct{}{}
		vec := make([]float32, len(c.Vector))
		copy(vec, c.Vector)
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(id),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(map[string]any{
				parsedHashField: parsedHash,
				"start":         int64(c.Start),
				"end":           int64(c.End),
			}),
		})
	}
	if len(points) > 0 {
		if _, err := v.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: v.collection,
			Points:         points,
		}); err != nil {
			return fmt.Errorf("store: upsert chunks for %s: %w", parsedHash, err)
		}
	}

	existing, err := v.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: v.collection,
		Filter:         &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatch(parsedHashField, parsedHash)}},
		WithPayload:    qdrant.NewWithPayload(false),
	})
	if err != nil {
		return fmt.Errorf("store: scroll existing chunks for %s: %w", parsedHash, err)
	}
	var stale []*qdrant.PointId
	for _, p := range existing {
		id := p.Id.GetUuid()
		if _, ok := desired[id]; !ok {
			stale = append(stale, p.Id)
		}
	}
	if len(stale) > 0 {
		if _, err := v.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: v.collection,
			Points:         qdrant.NewPointsSelector(stale...),
		}); err != nil {
			return fmt.Errorf("store: delete stale chunks for %s: %w", parsedHash, err)
		}
	}
	return nil
}

// isIndexed reports whether any chunk row exists for parsedHash. Chunks are
// written last in replaceChunks, so their presence implies the markdown row
// is present too.
func (v *vectorStore) isIndexed(ctx context.Context, parsedHash string) (bool, error) {
	limit := uint32(1)
	existing, err := v.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: v.collection,
		Filter:         &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatch(parsedHashField, parsedHash)}},
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(false),
	})
	if err != nil {
		return false, fmt.Errorf("store: is_indexed %s: %w", parsedHash, err)
	}
	return len(existing) > 0, nil
}

// chunkHit is one nearest-neighbor result, grouped by parsed_hash at the
// store.query facade level.
type chunkHit struct {
	ParsedHash string
	Start      int
	End        int
	Distance   float64
}

func (v *vectorStore) queryTopK(ctx context.Context, vector []float32, k int) ([]chunkHit, error) {
	if k <= 0 {
		k = 10
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	limit := uint64(k)
	results, err := v.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: v.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("store: query top-%d: %w", k, err)
	}
	hits := make([]chunkHit, 0, len(results))
	for _, r := range results {
		var hashStr string
		if v, ok := r.Payload[parsedHashField]; ok {
			hashStr = v.GetStringValue()
		}
		var start, end int64
		if v, ok := r.Payload["start"]; ok {
			start = v.GetIntegerValue()
		}
		if v, ok := r.Payload["end"]; ok {
			end = v.GetIntegerValue()
		}
		hits = append(hits, chunkHit{
			ParsedHash: hashStr,
			Start:      int(start),
			End:        int(end),
			Distance:   float64(r.Score),
		})
	}
	return hits, nil
}

func (v *vectorStore) close() error { return v.client.Close() }
