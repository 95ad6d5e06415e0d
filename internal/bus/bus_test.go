package bus

import (
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	b.Publish(Event{Kind: "session.phase_changed", Timestamp: time.Now(), Payload: "test"})

	select {
	case evt := <-ch:
		if evt.Kind != "session.phase_changed" {
			t.Errorf("got kind %q, want session.phase_changed", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("sync.", 10)
	defer unsub()

	b.Publish(Event{Kind: "session.phase_changed"})
	b.Publish(Event{Kind: "sync.connected"})

	select {
	case evt := <-ch:
		if evt.Kind != "sync.connected" {
			t.Errorf("got kind %q, want sync.connected", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Ensure session event was not delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected: no more events.
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("session.", 10)
	unsub()

	b.Publish(Event{Kind: "session.phase_changed"})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected.
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("test.", 1)
	defer unsub()

	// Fill buffer.
	b.Publish(Event{Kind: "test.one"})
	// This should be dropped (non-blocking).
	b.Publish(Event{Kind: "test.two"})

	evt := <-ch
	if evt.Kind != "test.one" {
		t.Errorf("got %q, want test.one", evt.Kind)
	}
}

func TestHandleReplacesByKey(t *testing.T) {
	b := New()
	first := make(chan Event, 10)
	second := make(chan Event, 10)

	b.Handle("remote.message", "ui", func(evt Event) { first <- evt })
	unsub := b.Handle("remote.message", "ui", func(evt Event) { second <- evt })
	defer unsub()

	if n := b.Handlers(); n != 1 {
		t.Fatalf("Handlers() = %d, want 1", n)
	}

	b.Publish(Event{Kind: "remote.message", Payload: "hi"})

	select {
	case <-second:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for replacement handler")
	}
	select {
	case evt := <-first:
		t.Errorf("replaced handler still received %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandleStaleUnsubscribeKeepsReplacement(t *testing.T) {
	b := New()
	got := make(chan Event, 10)

	stale := b.Handle("remote.ack", "k", func(Event) {})
	current := b.Handle("remote.ack", "k", func(evt Event) { got <- evt })
	defer current()

	stale()
	if n := b.Handlers(); n != 1 {
		t.Fatalf("Handlers() = %d after stale unsubscribe, want 1", n)
	}

	b.Publish(Event{Kind: "remote.ack"})
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("current handler removed by stale unsubscribe")
	}
}

func TestHandleDistinctKeysBothRun(t *testing.T) {
	b := New()
	got := make(chan string, 10)
	defer b.Handle("notify.", "a", func(Event) { got <- "a" })()
	defer b.Handle("notify.", "b", func(Event) { got <- "b" })()

	b.Publish(Event{Kind: "notify.info"})

	seen := map[string]bool{}
	for range 2 {
		select {
		case k := <-got:
			seen[k] = true
		case <-time.After(time.Second):
			t.Fatal("timeout")
		}
	}
	if !seen["a"] || !seen["b"] {
		t.Errorf("seen = %v, want both handlers", seen)
	}
}

func TestPublishCountsAndLogsDrops(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	b := New(WithLogger(zap.New(core)))
	_, unsub := b.Subscribe("remote.", 1)
	defer unsub()

	b.Publish(Event{Kind: "remote.message"})
	b.Publish(Event{Kind: "remote.ack"})
	b.Publish(Event{Kind: "session.qr"})

	if got := b.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}
	entries := logs.FilterMessage("event dropped, subscriber full").All()
	if len(entries) != 1 {
		t.Fatalf("logged %d drops, want 1", len(entries))
	}
	if kind := entries[0].ContextMap()["kind"]; kind != "remote.ack" {
		t.Errorf("kind = %v, want remote.ack", kind)
	}
}

func TestSubscribeManyKeepsPublishOrder(t *testing.T) {
	b := New()
	ch, unsub := b.SubscribeMany(10, "remote.", "message.")
	defer unsub()

	kinds := []string{"message.upserted", "remote.message", "state.changed", "message.send_ack", "remote.ack"}
	for _, k := range kinds {
		b.Publish(Event{Kind: k})
	}

	want := []string{"message.upserted", "remote.message", "message.send_ack", "remote.ack"}
	for _, w := range want {
		select {
		case evt := <-ch:
			if evt.Kind != w {
				t.Fatalf("got %q, want %q", evt.Kind, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %q", w)
		}
	}
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	default:
	}
}
