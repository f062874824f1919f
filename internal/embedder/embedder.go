// Package embedder implements batch-embedding of document chunks and
// single queries into fixed-dimension vectors via an OpenAI-compatible
// embeddings endpoint.
package embedder

import (
	"context"
	"fmt"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/param"

	"seemantic/internal/chunker"
	"seemantic/internal/config"
	"seemantic/internal/observability"
	"seemantic/internal/parser"
)

// EmbeddedChunk pairs one chunk's byte range with its embedding vector.
type EmbeddedChunk struct {
	Start  int
	End    int
	Vector []float32
}

// Embedder turns document chunks and queries into vectors. Dimension and
// metric are fixed at construction and must match the vector store.
type Embedder interface {
	EmbedDocument(ctx context.Context, parsed parser.ParsedDocument, chunks []chunker.Chunk) ([]EmbeddedChunk, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// client calls the embeddings endpoint in batches whose concatenated
// character length stays under maxChars, treating that as a heuristic
// upper bound on the provider's token budget.
type client struct {
	sdk       sdk.Client
	model     string
	dimension int
	maxChars  int
}

// New constructs an Embedder against the configured OpenAI-compatible
// endpoint, following the openai/v2 SDK client construction style used
// for the chat client (option.WithAPIKey/WithBaseURL).
func New(cfg config.OpenAIConfig, dimension, maxChars int) Embedder {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(observability.NewHTTPClient(nil)),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if maxChars <= 0 {
		maxChars = 8_000
	}
	return &client{
		sdk:       sdk.NewClient(opts...),
		model:     cfg.EmbeddingModel,
		dimension: dimension,
		maxChars:  maxChars,
	}
}

func (c *client) Dimension() int { return c.dimension }

func (c *client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embedder: embed query: %w", err)
	}
	return vecs[0], nil
}

func (c *client) EmbedDocument(ctx context.Context, parsed parser.ParsedDocument, chunks []chunker.Chunk) ([]EmbeddedChunk, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	out := make([]EmbeddedChunk, 0, len(chunks))
	batchStart := 0
	batchChars := 0
	flush := func(upto int) error {
		if upto <= batchStart {
			return nil
		}
		texts := make([]string, 0, upto-batchStart)
		for i := batchStart; i < upto; i++ {
			texts = append(texts, parsed.Markdown[chunks[i].Start:chunks[i].End])
		}
		vecs, err := c.embedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embedder: embed document %s: %w", parsed.ParsedHashHex(), err)
		}
		for i, v := range vecs {
			ch := chunks[batchStart+i]
			out = append(out, EmbeddedChunk{Start: ch.Start, End: ch.End, Vector: v})
		}
		return nil
	}
	for i, ch := range chunks {
		n := ch.End - ch.Start
		if batchChars > 0 && batchChars+n > c.maxChars {
			if err := flush(i); err != nil {
				return nil, err
			}
			batchStart = i
			batchChars = 0
		}
		batchChars += n
	}
	if err := flush(len(chunks)); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	params := sdk.EmbeddingNewParams{
		Model: sdk.EmbeddingModel(c.model),
		Input: sdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	}
	if c.dimension > 0 {
		params.Dimensions = param.NewOpt(int64(c.dimension))
	}
	resp, err := c.sdk.Embeddings.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedder: expected %d embeddings, got %d", len(texts), len(resp.Data))
	}
	out := make([][]float32, len(resp.Data))
	byIndex := make(map[int64][]float32, len(resp.Data))
	for _, d := range resp.Data {
		v := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			v[i] = float32(f)
		}
		byIndex[d.Index] = v
	}
	for i := range out {
		out[i] = byIndex[int64(i)]
	}
	return out, nil
}
