// Package api implements the external HTTP surface — file
// upload/delete, the document explorer, natural-language queries streamed
// as generated answers, and the change-notification SSE feed. This is the
// consumer that exercises the rest of the system end to end.
//
// Route registration follows the stdlib http.ServeMux, Go 1.22
// method+path pattern style.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"seemantic/internal/catalog"
	"seemantic/internal/changebus"
	"seemantic/internal/config"
	"seemantic/internal/embedder"
	"seemantic/internal/generator"
	"seemantic/internal/observability"
	"seemantic/internal/passage"
	"seemantic/internal/sourceadapter"
	"seemantic/internal/store"
)

// topK is the number of nearest chunks requested per query.
const topK = 10

// Server wires the external HTTP surface to the core components.
type Server struct {
	src  *sourceadapter.S3Adapter
	cat  *catalog.Catalog
	st   *store.Store
	emb  embedder.Embedder
	gen  *generator.Generator
	bus  *changebus.Bus
	cfg  config.Config
	log  zerolog.Logger
	mux  *http.ServeMux
}

// New constructs the Server and registers its routes.
func New(src *sourceadapter.S3Adapter, cat *catalog.Catalog, st *store.Store, emb embedder.Embedder, gen *generator.Generator, bus *changebus.Bus, cfg config.Config, log zerolog.Logger) *Server {
	s := &Server{
		src: src, cat: cat, st: st, emb: emb, gen: gen, bus: bus, cfg: cfg,
		log: log.With().Str("component", "api").Logger(),
		mux: http.NewServeMux(),
	}
	s.registerRoutes()
	s.log.Info().Msg("api routes registered")
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("PUT /files/{uri...}", s.handlePutFile)
	s.mux.HandleFunc("DELETE /files/{uri...}", s.handleDeleteFile)
	s.mux.HandleFunc("GET /explorer", s.handleExplorer)
	s.mux.HandleFunc("POST /queries", s.handleQuery)
	s.mux.HandleFunc("GET /changes", s.handleChanges)
}

func (s *Server) handlePutFile(w http.ResponseWriter, r *http.Request) {
	uri := r.PathValue("uri")
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.src.PutObject(r.Context(), uri, data, r.Header.Get("Content-Type")); err != nil {
		observability.LoggerWithTrace(r.Context()).Error().Err(err).Str("uri", uri).Msg("put file failed")
		http.Error(w, "put failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	uri := r.PathValue("uri")
	if err := s.src.DeleteObject(r.Context(), uri); err != nil {
		observability.LoggerWithTrace(r.Context()).Error().Err(err).Str("uri", uri).Msg("delete file failed")
		http.Error(w, "delete failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type explorerEntry struct {
	URI            string  `json:"uri"`
	IndexerVersion int     `json:"indexer_version"`
	Status         string  `json:"status"`
	ErrorMessage   *string `json:"error_message,omitempty"`
}

func (s *Server) handleExplorer(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	docs, err := s.cat.GetExplorerDocuments(r.Context(), prefix)
	if err != nil {
		observability.LoggerWithTrace(r.Context()).Error().Err(err).Msg("explorer query failed")
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	out := make([]explorerEntry, 0, len(docs))
	for _, d := range docs {
		out = append(out, explorerEntry{
			URI:            d.URI,
			IndexerVersion: d.IndexerVersion,
			Status:         string(d.Status),
			ErrorMessage:   d.ErrorMessage,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

type queryRequest struct {
	Content string `json:"content"`
}

type queryEvent struct {
	DeltaAnswer string `json:"delta_answer"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "decode body: "+err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	sets, err := s.retrievePassages(ctx, req.Content)
	if err != nil {
		observability.LoggerWithTrace(ctx).Error().Err(err).Msg("retrieval failed")
		http.Error(w, "retrieval failed", http.StatusInternalServerError)
		return
	}

	sse := newSSEWriter(w)
	deltas, errs := s.gen.GenerateStream(ctx, req.Content, sets)
	keepAlive := time.NewTicker(s.cfg.KeepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deltas:
			if !ok {
				return
			}
			if err := sse.sendJSON(queryEvent{DeltaAnswer: d.Answer}); err != nil {
				return
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				observability.LoggerWithTrace(ctx).Error().Err(err).Msg("generation stream failed")
			}
		case <-keepAlive.C:
			sse.sendKeepAlive()
		}
	}
}

// retrievePassages embeds the query, retrieves top-k chunks from the
// vector store, joins them with the catalog (discarding hits whose content
// anchor is no longer current), and assembles section-aligned passages per
// document.
func (s *Server) retrievePassages(ctx context.Context, question string) ([]generator.PassageSet, error) {
	vec, err := s.emb.EmbedQuery(ctx, question)
	if err != nil {
		return nil, err
	}
	hits, err := s.st.Query(ctx, vec, topK)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}
	parsedHashes := make([]string, 0, len(hits))
	for _, h := range hits {
		parsedHashes = append(parsedHashes, h.ParsedHash)
	}
	docs, err := s.cat.GetDocumentsFromIndexedParsedHashes(ctx, parsedHashes, s.cfg.IndexerVersion)
	if err != nil {
		return nil, err
	}

	sets := make([]generator.PassageSet, 0, len(hits))
	for _, h := range hits {
		doc, ok := docs[h.ParsedHash]
		if !ok {
			continue
		}
		phits := make([]passage.Hit, 0, len(h.Chunks))
		for _, c := range h.Chunks {
			phits = append(phits, passage.Hit{Start: c.Start, End: c.End, Distance: c.Distance})
		}
		passages := passage.Assemble(h.Markdown, phits)
		sets = append(sets, generator.PassageSet{URI: doc.URI, Passages: passages})
	}
	return sets, nil
}

type changeEvent struct {
	EventType string `json:"event_type"`
	URI       string `json:"uri"`
	Status    string `json:"status"`
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var nbEvents int
	var limited bool
	if v := r.URL.Query().Get("nb_events"); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil && n > 0 {
			nbEvents = n
			limited = true
		}
	}

	ch := s.bus.Subscribe(ctx)
	defer s.bus.Unsubscribe(ch)

	sse := newSSEWriter(w)
	keepAlive := time.NewTicker(s.cfg.KeepAliveInterval)
	defer keepAlive.Stop()

	sent := 0
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			payload := changeEvent{
				EventType: string(ev.Type),
				URI:       ev.Document.URI,
				Status:    string(ev.Document.Status),
			}
			if err := sse.sendJSON(payload); err != nil {
				return
			}
			sent++
			if limited && sent >= nbEvents {
				return
			}
		case <-keepAlive.C:
			sse.sendKeepAlive()
		}
	}
}
