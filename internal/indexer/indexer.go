// Package indexer implements the reconciliation loop, bounded work
// queue, and per-document indexing state machine that keeps the catalog,
// parsed-content store, and vector store mutually consistent.
//
// The staged-orchestration shape (timed stages, metrics per stage) and
// the raw_hash/parsed_hash early-exit ladder below follow the
// idempotency-resolution pattern used elsewhere in this codebase's
// ingest pipelines.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/zeebo/xxh3"

	"seemantic/internal/catalog"
	"seemantic/internal/chunker"
	"seemantic/internal/config"
	"seemantic/internal/embedder"
	"seemantic/internal/parser"
	"seemantic/internal/sourceadapter"
)

// workItem is one unit of the bounded queue Q: a source reference plus the
// catalog row it targets.
type workItem struct {
	ref          sourceadapter.Ref
	indexedDocID uuid.UUID
}

// catalogStore is the slice of *catalog.Catalog the indexer depends on,
// narrowed to an interface so the state machine can be exercised against a
// fake in tests.
type catalogStore interface {
	GetAllDocuments(ctx context.Context, indexerVersion int) ([]catalog.IndexedDocument, error)
	CreateIndexedDocuments(ctx context.Context, uris []string, indexerVersion int) (map[string]uuid.UUID, error)
	UpdateIndexedDocumentsStatus(ctx context.Context, ids []uuid.UUID, status catalog.Status, errorMessage *string) error
	DeleteDocuments(ctx context.Context, uris []string) error
	GetDocuments(ctx context.Context, uris []string, indexerVersion int) ([]catalog.IndexedDocument, error)
	GetIndexedContentIfExists(ctx context.Context, rawHash string, indexerVersion int) (uuid.UUID, string, bool, error)
	UpsertIndexedContent(ctx context.Context, rawHash, parsedHash string, indexerVersion int) (uuid.UUID, error)
	FinalizeIndexedDocument(ctx context.Context, id uuid.UUID, sourceVersion *string, contentID uuid.UUID) error
}

// contentStore is the slice of *store.Store the indexer depends on.
type contentStore interface {
	IsIndexed(ctx context.Context, parsedHash string) (bool, error)
	Index(ctx context.Context, parsedHash, markdown string, chunks []embedder.EmbeddedChunk) error
}

// Indexer is the orchestrator. It is the only writer across the catalog
// and the parsed+vector store; per-uri serialization is provided by inQueue.
type Indexer struct {
	source sourceadapter.Adapter
	cat    catalogStore
	store  contentStore
	emb    embedder.Embedder
	log    zerolog.Logger

	indexerVersion  int
	chunkerMaxChars int

	queue chan workItem

	mu      sync.Mutex
	inQueue map[string]struct{}
}

// New constructs the indexer for a single, fixed indexer_version.
func New(cfg config.Config, source sourceadapter.Adapter, cat catalogStore, st contentStore, emb embedder.Embedder, log zerolog.Logger) *Indexer {
	return &Indexer{
		source:          source,
		cat:             cat,
		store:           st,
		emb:             emb,
		log:             log.With().Str("component", "indexer").Logger(),
		indexerVersion:  cfg.IndexerVersion,
		chunkerMaxChars: cfg.ChunkerMaxChars,
		queue:           make(chan workItem, cfg.MaxQueueSize),
		inQueue:         make(map[string]struct{}),
	}
}

// Run performs startup reconciliation, then drives the event subscriber
// (T1) and queue consumer (T2) until ctx is canceled.
func (ix *Indexer) Run(ctx context.Context) error {
	if err := ix.Reconcile(ctx); err != nil {
		return fmt.Errorf("indexer: reconcile: %w", err)
	}
	go ix.runConsumer(ctx)
	return ix.runEventLoop(ctx)
}

// Reconcile diffs the source's current listing against the catalog for
// this indexer_version: new uris are created and enqueued, changed uris are
// reset to pending and enqueued, unchanged uris are skipped, and uris no
// longer in the source are deleted (cascading to all their
// IndexedDocuments).
func (ix *Indexer) Reconcile(ctx context.Context) error {
	refs, err := ix.source.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("indexer: list source: %w", err)
	}
	existing, err := ix.cat.GetAllDocuments(ctx, ix.indexerVersion)
	if err != nil {
		return fmt.Errorf("indexer: get all documents: %w", err)
	}
	byURI := make(map[string]catalog.IndexedDocument, len(existing))
	for _, d := range existing {
		byURI[d.URI] = d
	}

	refByURI := make(map[string]sourceadapter.Ref, len(refs))
	var newURIs []string
	var changedIDs []uuid.UUID
	var changedRefs []sourceadapter.Ref
	for _, ref := range refs {
		refByURI[ref.URI] = ref
		d, ok := byURI[ref.URI]
		if !ok {
			newURIs = append(newURIs, ref.URI)
			continue
		}
		if isChanged(d, ref) {
			changedIDs = append(changedIDs, d.ID)
			changedRefs = append(changedRefs, ref)
		}
	}

	if len(newURIs) > 0 {
		ids, err := ix.cat.CreateIndexedDocuments(ctx, newURIs, ix.indexerVersion)
		if err != nil {
			return fmt.Errorf("indexer: create indexed documents: %w", err)
		}
		for _, uri := range newURIs {
			ix.enqueue(ctx, refByURI[uri], ids[uri])
		}
	}
	if len(changedIDs) > 0 {
		if err := ix.cat.UpdateIndexedDocumentsStatus(ctx, changedIDs, catalog.StatusPending, nil); err != nil {
			return fmt.Errorf("indexer: reset changed documents to pending: %w", err)
		}
		for i, id := range changedIDs {
			ix.enqueue(ctx, changedRefs[i], id)
		}
	}

	var toDelete []string
	for uri := range byURI {
		if _, ok := refByURI[uri]; !ok {
			toDelete = append(toDelete, uri)
		}
	}
	if len(toDelete) > 0 {
		if err := ix.cat.DeleteDocuments(ctx, toDelete); err != nil {
			return fmt.Errorf("indexer: delete vanished documents: %w", err)
		}
	}
	return nil
}

// isChanged classifies a known uri as changed when it was never
// successfully indexed, or the source version on record differs from (or
// is absent relative to) the freshly observed one.
func isChanged(d catalog.IndexedDocument, ref sourceadapter.Ref) bool {
	if d.LastIndexing == nil {
		return true
	}
	if d.IndexedSourceVersion == nil {
		return true
	}
	return *d.IndexedSourceVersion != ref.SourceVersion
}

// runEventLoop drives the source adapter's subscription stream, re-classifying each Upsert
// against the catalog and deleting on Delete.
func (ix *Indexer) runEventLoop(ctx context.Context) error {
	ch, err := ix.source.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("indexer: subscribe: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			switch ev.Kind {
			case sourceadapter.EventUpsert:
				ix.handleUpsert(ctx, ev.Ref)
			case sourceadapter.EventDelete:
				if err := ix.cat.DeleteDocuments(ctx, []string{ev.Ref.URI}); err != nil {
					ix.log.Warn().Err(err).Str("uri", ev.Ref.URI).Msg("delete on event failed")
				}
			}
		}
	}
}

func (ix *Indexer) handleUpsert(ctx context.Context, ref sourceadapter.Ref) {
	docs, err := ix.cat.GetDocuments(ctx, []string{ref.URI}, ix.indexerVersion)
	if err != nil {
		ix.log.Warn().Err(err).Str("uri", ref.URI).Msg("classify upsert failed")
		return
	}
	if len(docs) == 0 {
		ids, err := ix.cat.CreateIndexedDocuments(ctx, []string{ref.URI}, ix.indexerVersion)
		if err != nil {
			ix.log.Warn().Err(err).Str("uri", ref.URI).Msg("create on upsert failed")
			return
		}
		ix.enqueue(ctx, ref, ids[ref.URI])
		return
	}
	d := docs[0]
	if isChanged(d, ref) {
		if err := ix.cat.UpdateIndexedDocumentsStatus(ctx, []uuid.UUID{d.ID}, catalog.StatusPending, nil); err != nil {
			ix.log.Warn().Err(err).Str("uri", ref.URI).Msg("reset on upsert failed")
			return
		}
		ix.enqueue(ctx, ref, d.ID)
	}
}

// enqueue adds uri to inQueue and blocks pushing onto the queue if it is
// full, providing backpressure against a slow consumer. Duplicate
// enqueues for a uri already in flight are suppressed.
func (ix *Indexer) enqueue(ctx context.Context, ref sourceadapter.Ref, id uuid.UUID) {
	ix.mu.Lock()
	if _, ok := ix.inQueue[ref.URI]; ok {
		ix.mu.Unlock()
		return
	}
	ix.inQueue[ref.URI] = struct{}{}
	ix.mu.Unlock()

	select {
	case ix.queue <- workItem{ref: ref, indexedDocID: id}:
	case <-ctx.Done():
	}
}

// runConsumer is T2: the single consumer of Q. inQueue membership is
// removed at dequeue start so a concurrent Upsert for the same uri can
// re-enqueue cleanly.
func (ix *Indexer) runConsumer(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-ix.queue:
			ix.mu.Lock()
			delete(ix.inQueue, item.ref.URI)
			ix.mu.Unlock()
			ix.processUnit(ctx, item)
		}
	}
}

// outcomeKind is the closed sum type IndexResult collapses onto for
// catalog purposes: either success (with the content anchor to finalize
// with) or one taxonomy-tagged error message.
type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota
	outcomeError
)

type indexOutcome struct {
	kind      outcomeKind
	contentID uuid.UUID
	message   string
}

func errOutcome(msg string) indexOutcome { return indexOutcome{kind: outcomeError, message: msg} }

// processUnit runs the per-unit state machine: pending -> indexing, then
// exactly one terminal transition. Errors inside a unit never poison the
// queue; the consumer loop always continues regardless of outcome.
func (ix *Indexer) processUnit(ctx context.Context, item workItem) {
	log := ix.log.With().Str("uri", item.ref.URI).Logger()

	outcome := func() (result indexOutcome) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("index unit panicked")
				result = errOutcome("unknown error")
			}
		}()
		if err := ix.cat.UpdateIndexedDocumentsStatus(ctx, []uuid.UUID{item.indexedDocID}, catalog.StatusIndexing, nil); err != nil {
			log.Error().Err(err).Msg("mark indexing failed")
			return errOutcome("transient")
		}
		return ix.index(ctx, item.ref)
	}()

	if outcome.kind == outcomeSuccess {
		sv := item.ref.SourceVersion
		if err := ix.cat.FinalizeIndexedDocument(ctx, item.indexedDocID, &sv, outcome.contentID); err != nil {
			log.Error().Err(err).Msg("finalize failed")
		}
		return
	}
	msg := outcome.message
	if err := ix.cat.UpdateIndexedDocumentsStatus(ctx, []uuid.UUID{item.indexedDocID}, catalog.StatusIndexingError, &msg); err != nil {
		log.Error().Err(err).Msg("mark error failed")
	}
}

// index walks parse->chunk->embed->store with early exits at both
// content-addressed layers: the raw-hash early exit happens before parse,
// the parsed-hash early exit happens after parse but before embed.
func (ix *Indexer) index(ctx context.Context, ref sourceadapter.Ref) indexOutcome {
	obj, err := ix.source.GetObject(ctx, ref.URI)
	if err != nil {
		if errors.Is(err, sourceadapter.ErrNotFound) {
			return errOutcome("document not found in source")
		}
		return errOutcome("transient")
	}

	ft, err := parser.DetectFiletype(ref.URI, obj.Bytes)
	if err != nil {
		return errOutcome(fmt.Sprintf("unsupported filetype %s", extOf(ref.URI)))
	}

	rawHash := hashHex(obj.Bytes)
	if contentID, _, ok, err := ix.cat.GetIndexedContentIfExists(ctx, rawHash, ix.indexerVersion); err != nil {
		return errOutcome("transient")
	} else if ok {
		return indexOutcome{kind: outcomeSuccess, contentID: contentID}
	}

	parsed, err := parser.Parse(ref.URI, ft, obj.Bytes)
	if err != nil {
		var parseErr *parser.ParseError
		if errors.As(err, &parseErr) {
			return errOutcome("parse error")
		}
		if errors.Is(err, parser.ErrUnsupportedType) {
			return errOutcome(fmt.Sprintf("unsupported filetype %s", ft))
		}
		return errOutcome("unknown error")
	}
	parsedHashHex := parsed.ParsedHashHex()

	already, err := ix.store.IsIndexed(ctx, parsedHashHex)
	if err != nil {
		return errOutcome("transient")
	}
	if !already {
		chunks := chunker.Chunk(parsed.Markdown, ix.chunkerMaxChars)
		var embedded []embedder.EmbeddedChunk
		if len(parsed.Markdown) > 0 {
			embedded, err = ix.emb.EmbedDocument(ctx, parsed, chunks)
			if err != nil {
				return errOutcome("transient")
			}
		}
		if err := ix.store.Index(ctx, parsedHashHex, parsed.Markdown, embedded); err != nil {
			return errOutcome("transient")
		}
	}

	contentID, err := ix.cat.UpsertIndexedContent(ctx, rawHash, parsedHashHex, ix.indexerVersion)
	if err != nil {
		return errOutcome("transient")
	}
	return indexOutcome{kind: outcomeSuccess, contentID: contentID}
}

func hashHex(data []byte) string {
	h := xxh3.Hash128(data).Bytes()
	return fmt.Sprintf("%x", h)
}

func extOf(uri string) string {
	for i := len(uri) - 1; i >= 0; i-- {
		if uri[i] == '.' {
			return uri[i+1:]
		}
		if uri[i] == '/' {
			break
		}
	}
	return ""
}
