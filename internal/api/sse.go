package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// sseWriter wraps an http.ResponseWriter for Server-Sent Events: it sets
// the streaming headers, flushes after every write, and panics on a
// non-flushable ResponseWriter since that indicates a misconfigured
// server, not a client error.
type sseWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		panic("api: streaming unsupported by the underlying ResponseWriter")
	}
	return &sseWriter{w: w, f: flusher}
}

func (s *sseWriter) sendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("api: marshal sse event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

func (s *sseWriter) sendKeepAlive() {
	fmt.Fprint(s.w, ": keep-alive\n\n")
	s.f.Flush()
}
