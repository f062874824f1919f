// Package changebus implements fan-out of catalog change events to
// subscribed consumers, fed by the catalog's table_changes NOTIFY channel.
//
// Subscribers eventually drain into an SSE sink (see the api package);
// delivery itself rides pgx's native WaitForNotification, the idiomatic
// mechanism for a dependency already pulled in for the catalog.
package changebus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"seemantic/internal/catalog"
)

// EventType is the tagged-variant discriminant for a catalog change.
type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// Event is one catalog change, carrying the row as the catalog's own
// DocumentView-shaped payload.
type Event struct {
	Type     EventType
	Document catalog.DocumentView
}

// rawPayload mirrors the JSON shape emitted by notify_indexed_document_change:
// {"operation": "insert"|"update"|"delete", "data": <indexed_document row>}.
type rawPayload struct {
	Operation string          `json:"operation"`
	Data      indexedDocRow   `json:"data"`
}

type indexedDocRow struct {
	ID                   string  `json:"id"`
	DocumentID           string  `json:"document_id"`
	URI                  string  `json:"uri"`
	IndexerVersion       int     `json:"indexer_version"`
	IndexedSourceVersion *string `json:"indexed_source_version"`
	IndexedContentID     *string `json:"indexed_content_id"`
	Status               string  `json:"status"`
}

const queueSize = 256
const blockTimeout = time.Second

// Bus is the process-internal pub/sub mechanism. A single shared DB
// listener feeds every subscriber's own bounded queue.
type Bus struct {
	pool *pgxpool.Pool
	log  zerolog.Logger

	mu          sync.Mutex
	subscribers map[chan Event]struct{}
	listenerCtx context.Context
	cancelFn    context.CancelFunc
	listenerWG  sync.WaitGroup
}

// New constructs a Bus bound to the catalog's pool. No DB listener is
// opened until the first Subscribe call.
func New(pool *pgxpool.Pool, log zerolog.Logger) *Bus {
	return &Bus{
		pool:        pool,
		log:         log.With().Str("component", "changebus").Logger(),
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe registers a new bounded queue. On the first subscriber, a
// LISTEN connection is opened; it stays open until the last subscriber
// calls Unsubscribe.
func (b *Bus) Subscribe(ctx context.Context) chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, queueSize)
	b.subscribers[ch] = struct{}{}
	if len(b.subscribers) == 1 {
		b.listenerCtx, b.cancelFn = context.WithCancel(context.Background())
		b.listenerWG.Add(1)
		go b.listen(b.listenerCtx)
	}
	return ch
}

// Unsubscribe removes ch. If it was the last subscriber, the DB listener is
// closed.
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[ch]; !ok {
		return
	}
	delete(b.subscribers, ch)
	close(ch)
	if len(b.subscribers) == 0 && b.cancelFn != nil {
		b.cancelFn()
		b.cancelFn = nil
	}
}

func (b *Bus) listen(ctx context.Context) {
	defer b.listenerWG.Done()
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		if err := b.listenOnce(ctx); err != nil {
			b.log.Warn().Err(err).Dur("backoff", backoff).Msg("listen: connection failed, reconnecting")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
	}
}

func (b *Bus) listenOnce(ctx context.Context) error {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN table_changes"); err != nil {
		return err
	}

	for {
		notif, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		b.dispatch(notif.Payload)
	}
}

// dispatch parses one NOTIFY payload and fans it out. A parse error
// terminates only this event; the listener keeps running.
func (b *Bus) dispatch(payload string) {
	var raw rawPayload
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		b.log.Warn().Err(err).Msg("dispatch: malformed notify payload, dropping event")
		return
	}
	ev := Event{Type: EventType(raw.Operation), Document: raw.Data.toDocumentView()}
	b.publish(ev)
}

// publish delivers ev to every subscriber. Drops are forbidden: a full
// queue blocks for up to 1s with a warning logged, then blocks
// indefinitely with a second warning.
func (b *Bus) publish(ev Event) {
	b.mu.Lock()
	chans := make([]chan Event, 0, len(b.subscribers))
	for ch := range b.subscribers {
		chans = append(chans, ch)
	}
	b.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- ev:
		default:
			b.log.Warn().Msg("publish: subscriber queue full, blocking publisher")
			timer := time.NewTimer(blockTimeout)
			select {
			case ch <- ev:
				timer.Stop()
			case <-timer.C:
				b.log.Warn().Msg("publish: subscriber queue still full after 1s, blocking publisher further")
				ch <- ev
			}
		}
	}
}

func (row indexedDocRow) toDocumentView() catalog.DocumentView {
	// The raw row carries indexed_content_id, not parsed_hash directly;
	// callers needing parsed_hash re-join through the catalog. The change
	// bus's contract only promises the document identity and status
	// transition.
	id, _ := uuid.Parse(row.ID)
	docID, _ := uuid.Parse(row.DocumentID)
	return catalog.DocumentView{
		IndexedDocumentID: id,
		DocumentID:        docID,
		URI:               row.URI,
		IndexerVersion:    row.IndexerVersion,
		Status:            catalog.Status(row.Status),
	}
}
