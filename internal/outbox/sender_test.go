package outbox

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wppc/internal/bus"
	"github.com/matheus3301/wppc/internal/jid"
	"github.com/matheus3301/wppc/internal/remote"
	"github.com/matheus3301/wppc/internal/store"
)

const chatID = "5511999999999@c.us"

// mockRemote records calls and returns configurable results.
type mockRemote struct {
	mu    sync.Mutex
	calls []sendCall
	err   error
}

type sendCall struct {
	ChatID   string
	Text     string
	QuotedID string
}

func (m *mockRemote) SendText(_ context.Context, chatID, text string) (remote.Sent, error) {
	return m.record(sendCall{ChatID: chatID, Text: text})
}

func (m *mockRemote) SendReply(_ context.Context, chatID, text, quotedID string) (remote.Sent, error) {
	return m.record(sendCall{ChatID: chatID, Text: text, QuotedID: quotedID})
}

func (m *mockRemote) record(c sendCall) (remote.Sent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, c)
	if m.err != nil {
		return remote.Sent{}, m.err
	}
	return remote.Sent{ID: remote.ID(fmt.Sprintf("true_%s_%d", c.ChatID, len(m.calls)))}, nil
}

func (m *mockRemote) snapshot() []sendCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sendCall(nil), m.calls...)
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func waitEvent(t *testing.T, ch <-chan bus.Event, kind string) bus.Event {
	t.Helper()
	for {
		select {
		case evt := <-ch:
			if evt.Kind == kind {
				return evt
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for %s", kind)
		}
	}
}

func TestSenderSendsQueuedMessage(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	mock := &mockRemote{}
	s := NewSender(db, mock, nil, nil, b, zap.NewNop())

	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	s.Start(context.Background())
	defer s.Stop()

	clientID, err := s.Queue(chatID, "hello", "")
	if err != nil {
		t.Fatal(err)
	}

	up := waitEvent(t, ch, bus.KindMessageUpserted).Payload.(Update)
	if up.ClientMsgID != clientID || up.Status != StatusSending {
		t.Errorf("upserted = %+v", up)
	}
	ack := waitEvent(t, ch, bus.KindMessageSendAck).Payload.(Update)
	if ack.ServerMsgID == "" || ack.Status != StatusSent {
		t.Errorf("ack = %+v", ack)
	}

	calls := mock.snapshot()
	if len(calls) != 1 || calls[0].ChatID != chatID || calls[0].Text != "hello" || calls[0].QuotedID != "" {
		t.Fatalf("calls = %+v", calls)
	}

	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("got %d pending, want 0 after send", len(pending))
	}

	msgs, err := db.ListMessages(chatID, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].MsgID != ack.ServerMsgID {
		t.Errorf("cached messages = %+v, want one under the server id", msgs)
	}
}

func TestSenderUsesReplyWhenQuoted(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	mock := &mockRemote{}
	s := NewSender(db, mock, nil, nil, b, zap.NewNop())
	ch, unsub := b.Subscribe("message.send_ack", 10)
	defer unsub()

	s.Start(context.Background())
	defer s.Stop()

	if _, err := s.Queue(chatID, "sure", "false_"+chatID+"_Q1"); err != nil {
		t.Fatal(err)
	}
	waitEvent(t, ch, bus.KindMessageSendAck)

	calls := mock.snapshot()
	if len(calls) != 1 || calls[0].QuotedID != "false_"+chatID+"_Q1" {
		t.Errorf("calls = %+v, want a reply", calls)
	}
}

func TestSenderHandlesFailure(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	mock := &mockRemote{err: errors.New("network error")}
	s := NewSender(db, mock, nil, nil, b, zap.NewNop())

	ch, unsub := b.Subscribe("message.send_failed", 10)
	defer unsub()

	s.Start(context.Background())
	defer s.Stop()

	clientID, err := s.Queue(chatID, "hello", "")
	if err != nil {
		t.Fatal(err)
	}
	failed := waitEvent(t, ch, bus.KindMessageSendFailed).Payload.(Update)
	if failed.ClientMsgID != clientID || failed.Err == "" {
		t.Errorf("failed = %+v", failed)
	}

	pending, _ := db.PendingOutbox()
	if len(pending) != 0 {
		t.Errorf("failed message still pending: %+v", pending)
	}

	mock.mu.Lock()
	mock.err = nil
	mock.mu.Unlock()
	ackCh, unsubAck := b.Subscribe("message.send_ack", 10)
	defer unsubAck()
	if err := s.Retry(clientID); err != nil {
		t.Fatal(err)
	}
	waitEvent(t, ackCh, bus.KindMessageSendAck)
}

func TestSenderWaitsUntilReady(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	mock := &mockRemote{}
	var mu sync.Mutex
	ready := false
	s := NewSender(db, mock, nil, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ready
	}, b, zap.NewNop())
	ch, unsub := b.Subscribe("message.send_ack", 10)
	defer unsub()

	s.Start(context.Background())
	defer s.Stop()

	if _, err := s.Queue(chatID, "later", ""); err != nil {
		t.Fatal(err)
	}
	time.Sleep(700 * time.Millisecond)
	if n := len(mock.snapshot()); n != 0 {
		t.Fatalf("sent %d messages before ready", n)
	}

	mu.Lock()
	ready = true
	mu.Unlock()
	waitEvent(t, ch, bus.KindMessageSendAck)
}

func TestQueueValidates(t *testing.T) {
	db := testDB(t)
	s := NewSender(db, &mockRemote{}, nil, nil, bus.New(), zap.NewNop())

	if _, err := s.Queue("123", "hi", ""); !errors.Is(err, jid.ErrInvalid) {
		t.Errorf("invalid chat err = %v", err)
	}
	if _, err := s.Queue(chatID, "   ", ""); !errors.Is(err, ErrEmptyBody) {
		t.Errorf("blank body err = %v", err)
	}
}
