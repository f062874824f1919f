package changebus

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"seemantic/internal/catalog"
)

func newTestBus() *Bus {
	return &Bus{
		log:         zerolog.Nop(),
		subscribers: make(map[chan Event]struct{}),
	}
}

func TestPublish_DeliversToEverySubscriber(t *testing.T) {
	b := newTestBus()
	a := make(chan Event, 1)
	c := make(chan Event, 1)
	b.subscribers[a] = struct{}{}
	b.subscribers[c] = struct{}{}

	ev := Event{Type: EventInsert, Document: catalog.DocumentView{URI: "doc.md"}}
	b.publish(ev)

	select {
	case got := <-a:
		if got.Document.URI != "doc.md" {
			t.Fatalf("unexpected event on subscriber a: %+v", got)
		}
	default:
		t.Fatalf("expected subscriber a to receive the event")
	}
	select {
	case got := <-c:
		if got.Document.URI != "doc.md" {
			t.Fatalf("unexpected event on subscriber c: %+v", got)
		}
	default:
		t.Fatalf("expected subscriber c to receive the event")
	}
}

func TestPublish_BlocksRatherThanDropsOnFullQueue(t *testing.T) {
	b := newTestBus()
	ch := make(chan Event, 1)
	ch <- Event{Type: EventInsert} // fill the queue so the next publish must block
	b.subscribers[ch] = struct{}{}

	done := make(chan struct{})
	go func() {
		b.publish(Event{Type: EventUpdate, Document: catalog.DocumentView{URI: "second.md"}})
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("expected publish to block while the subscriber's queue is full")
	case <-time.After(50 * time.Millisecond):
	}

	<-ch // drain the first event, unblocking the publisher
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected publish to deliver the second event once space freed up")
	}
	got := <-ch
	if got.Document.URI != "second.md" {
		t.Fatalf("expected the blocked event to be delivered, got %+v", got)
	}
}

func TestDispatch_MalformedPayloadIsDroppedNotFatal(t *testing.T) {
	b := newTestBus()
	ch := make(chan Event, 1)
	b.subscribers[ch] = struct{}{}

	b.dispatch("not json")

	select {
	case ev := <-ch:
		t.Fatalf("expected no event for a malformed payload, got %+v", ev)
	default:
	}
}

func TestDispatch_ValidPayloadParsesAndPublishes(t *testing.T) {
	b := newTestBus()
	ch := make(chan Event, 1)
	b.subscribers[ch] = struct{}{}

	payload := `{"operation":"update","data":{"id":"11111111-1111-1111-1111-111111111111","document_id":"22222222-2222-2222-2222-222222222222","uri":"a.md","indexer_version":1,"status":"indexing_success"}}`
	b.dispatch(payload)

	select {
	case ev := <-ch:
		if ev.Type != EventUpdate || ev.Document.URI != "a.md" {
			t.Fatalf("unexpected parsed event: %+v", ev)
		}
	default:
		t.Fatalf("expected a published event for a well-formed payload")
	}
}

func TestUnsubscribe_ClosesChannelAndRemovesIt(t *testing.T) {
	b := newTestBus()
	ch := make(chan Event, 1)
	b.subscribers[ch] = struct{}{}
	b.Unsubscribe(ch)

	if _, ok := b.subscribers[ch]; ok {
		t.Fatalf("expected subscriber to be removed")
	}
	select {
	case _, open := <-ch:
		if open {
			t.Fatalf("expected the channel to be closed")
		}
	default:
		t.Fatalf("expected the closed channel to read immediately")
	}
}
