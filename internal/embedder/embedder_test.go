package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"seemantic/internal/chunker"
	"seemantic/internal/config"
	"seemantic/internal/parser"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (Embedder, func()) {
	t.Helper()
	ts := httptest.NewServer(handler)
	cfg := config.OpenAIConfig{APIKey: "test-key", BaseURL: ts.URL, EmbeddingModel: "test-embed"}
	return New(cfg, 3, 8_000), ts.Close
}

type embeddingDatum struct {
	Object    string    `json:"object"`
	Index     int64     `json:"index"`
	Embedding []float64 `json:"embedding"`
}

func writeEmbeddingResponse(w http.ResponseWriter, vectors [][]float64) {
	data := make([]embeddingDatum, len(vectors))
	for i, v := range vectors {
		data[i] = embeddingDatum{Object: "embedding", Index: int64(i), Embedding: v}
	}
	resp := map[string]any{
		"object": "list",
		"data":   data,
		"model":  "test-embed",
		"usage":  map[string]any{"prompt_tokens": 1, "total_tokens": 1},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func TestEmbedQuery_ReturnsVector(t *testing.T) {
	emb, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("expected Bearer auth header, got %q", got)
		}
		writeEmbeddingResponse(w, [][]float64{{0.1, 0.2, 0.3}})
	})
	defer closeFn()

	vec, err := emb.EmbedQuery(context.Background(), "what is seemantic?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("expected 3-dim vector, got %d", len(vec))
	}
	if vec[0] != 0.1 {
		t.Fatalf("expected first component 0.1, got %v", vec[0])
	}
}

func TestEmbedDocument_EmptyChunksNoRequest(t *testing.T) {
	called := false
	emb, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		writeEmbeddingResponse(w, nil)
	})
	defer closeFn()

	doc := parser.ParsedDocument{Markdown: ""}
	out, err := emb.EmbedDocument(context.Background(), doc, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != nil {
		t.Fatalf("expected nil output for no chunks, got %v", out)
	}
	if called {
		t.Fatalf("expected no request to be made for zero chunks")
	}
}

func TestEmbedDocument_OneVectorPerChunkInOrder(t *testing.T) {
	emb, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		vectors := make([][]float64, len(body.Input))
		for i := range body.Input {
			vectors[i] = []float64{float64(i), float64(i), float64(i)}
		}
		writeEmbeddingResponse(w, vectors)
	})
	defer closeFn()

	md := "first chunk text||second chunk text||third chunk"
	doc := parser.ParsedDocument{Markdown: md}
	chunks := []chunker.Chunk{
		{Start: 0, End: 18},
		{Start: 18, End: 38},
		{Start: 38, End: len(md)},
	}
	out, err := emb.EmbedDocument(context.Background(), doc, chunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 embedded chunks, got %d", len(out))
	}
	for i, ec := range out {
		if ec.Start != chunks[i].Start || ec.End != chunks[i].End {
			t.Fatalf("chunk %d range mismatch: got %+v, want %+v", i, ec, chunks[i])
		}
		if ec.Vector[0] != float64ToFloat32(i) {
			t.Fatalf("chunk %d vector mismatch: got %v", i, ec.Vector)
		}
	}
}

func float64ToFloat32(i int) float32 { return float32(i) }

func TestEmbedDocument_BatchesByMaxChars(t *testing.T) {
	var requestSizes []int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		requestSizes = append(requestSizes, len(body.Input))
		vectors := make([][]float64, len(body.Input))
		for i := range body.Input {
			vectors[i] = []float64{1, 1, 1}
		}
		writeEmbeddingResponse(w, vectors)
	}))
	defer ts.Close()

	cfg := config.OpenAIConfig{APIKey: "k", BaseURL: ts.URL, EmbeddingModel: "m"}
	emb := New(cfg, 3, 10) // tiny char budget forces multiple batches

	md := "aaaaa" + "bbbbb" + "ccccc" + "ddddd"
	doc := parser.ParsedDocument{Markdown: md}
	chunks := []chunker.Chunk{
		{Start: 0, End: 5},
		{Start: 5, End: 10},
		{Start: 10, End: 15},
		{Start: 15, End: 20},
	}
	out, err := emb.EmbedDocument(context.Background(), doc, chunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 4 {
		t.Fatalf("expected 4 embedded chunks total, got %d", len(out))
	}
	if len(requestSizes) < 2 {
		t.Fatalf("expected at least 2 batch requests given the tiny char budget, got %d: %v", len(requestSizes), requestSizes)
	}
}

func TestEmbedDocument_MismatchedResponseCountErrors(t *testing.T) {
	emb, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEmbeddingResponse(w, [][]float64{{1, 2, 3}}) // always returns 1, regardless of input count
	})
	defer closeFn()

	doc := parser.ParsedDocument{Markdown: "one two three"}
	chunks := []chunker.Chunk{{Start: 0, End: 4}, {Start: 4, End: 8}}
	_, err := emb.EmbedDocument(context.Background(), doc, chunks)
	if err == nil {
		t.Fatalf("expected an error when the provider returns fewer embeddings than requested")
	}
}

func TestDimension(t *testing.T) {
	emb, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEmbeddingResponse(w, nil)
	})
	defer closeFn()

	if emb.Dimension() != 3 {
		t.Fatalf("expected configured dimension 3, got %d", emb.Dimension())
	}
}
