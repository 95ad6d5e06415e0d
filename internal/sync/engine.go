// Package sync keeps the chat list and the open conversation in step with
// the server: it runs the bulk load after login, merges pushed events and
// applies user actions to one shared State, caching what it learns.
package sync

import (
	"context"

	"go.uber.org/zap"

	"github.com/matheus3301/wppc/internal/bus"
	"github.com/matheus3301/wppc/internal/outbox"
	"github.com/matheus3301/wppc/internal/remote"
	"github.com/matheus3301/wppc/internal/retry"
	"github.com/matheus3301/wppc/internal/status"
	"github.com/matheus3301/wppc/internal/store"
)

// Remote is the part of the remote client the engine reads from.
type Remote interface {
	Binding() remote.Binding
	Chats(ctx context.Context) ([]remote.Chat, error)
	Contacts(ctx context.Context) ([]remote.Contact, error)
	Messages(ctx context.Context, chatID string) (remote.MessagePage, error)
	EarlierMessages(ctx context.Context, chatID string, isGroup bool) ([]remote.Message, error)
	SendSeen(ctx context.Context, chatID string) error
	DeleteMessage(ctx context.Context, chatID, messageID string) error
}

// Notifier surfaces outcomes to the user.
type Notifier interface {
	Info(msg string)
	Success(msg string)
	Warn(msg string)
	Error(msg string)
}

// Engine applies pushed events and user actions to State.
type Engine struct {
	remote Remote
	state  *State
	db     *store.DB
	retry  *retry.Controller
	notify Notifier
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates a new sync engine. rc drives the bulk load; when nil
// the default policy is used with remote.IsRetryable.
func NewEngine(r Remote, state *State, db *store.DB, rc *retry.Controller, n Notifier, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rc == nil {
		rc = retry.New(retry.DefaultPolicy, remote.IsRetryable, logger)
	}
	return &Engine{
		remote: r,
		state:  state,
		db:     db,
		retry:  rc,
		notify: n,
		bus:    b,
		logger: logger,
	}
}

// State returns the shared state the engine writes to.
func (e *Engine) State() *State { return e.state }

// Start subscribes to pushed events, outbox progress and session resets.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	// One channel keeps remote, outbox and session events in publish order.
	events, unsub := e.bus.SubscribeMany(512, "remote.", "message.", bus.KindSessionReset)

	go func() {
		defer close(e.done)
		defer unsub()
		for {
			select {
			case evt := <-events:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine and waits for the event loop to exit.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindRemoteMessage:
		if ev, ok := evt.Payload.(remote.MessageEvent); ok && e.current(ev.Session) {
			e.IngestMessage(ev.Message)
		}
	case bus.KindRemoteAck:
		if ev, ok := evt.Payload.(remote.AckEvent); ok && e.current(ev.Session) {
			e.IngestAck(ev.Ack)
		}
	case bus.KindRemoteConnection:
		if ev, ok := evt.Payload.(remote.ConnectionEvent); ok && e.current(ev.Session) {
			e.IngestConnection(ev.Connected)
		}
	case bus.KindMessageUpserted, bus.KindMessageSendAck, bus.KindMessageSendFailed:
		if u, ok := evt.Payload.(outbox.Update); ok {
			e.state.ApplyOutbox(u)
			if u.Status == outbox.StatusFailed {
				e.notify.Error("Failed to send message")
			}
		}
	case bus.KindSessionReset:
		if r, ok := evt.Payload.(status.SessionReset); ok {
			e.Reset(r.ClearCache)
		}
	}
}

// current reports whether session is the one the client is bound to.
// Events from a previous binding are dropped.
func (e *Engine) current(session string) bool {
	return session == "" || session == e.remote.Binding().Session
}

// IngestMessage applies a pushed message to the state and the cache.
func (e *Engine) IngestMessage(rm remote.Message) {
	msg, ok := messageFromRemote(rm, "")
	if !ok {
		e.logger.Debug("dropping message without a usable chat id", zap.String("msg_id", string(rm.ID)))
		return
	}
	res := e.state.ApplyMessage(msg)

	if err := e.db.UpsertMessage(ptr(toStoreMessage(msg))); err != nil {
		e.logger.Error("failed to cache message", zap.Error(err), zap.String("msg_id", msg.ID))
	}
	if res.KnownChat {
		if chat, ok := e.state.Chat(msg.ChatID); ok {
			if err := e.db.UpsertChat(ptr(toStoreChat(chat))); err != nil {
				e.logger.Error("failed to cache chat", zap.Error(err), zap.String("chat_id", chat.ID))
			}
		}
	}

	if !msg.FromMe && !res.Duplicate {
		sender := msg.SenderName
		if sender == "" {
			sender = "Contact"
			if chat, ok := e.state.Chat(msg.ChatID); ok {
				sender = chat.Title()
			}
		}
		e.notify.Info("New message from " + sender)
	}
}

// IngestAck applies a delivery receipt.
func (e *Engine) IngestAck(a remote.Ack) {
	id := string(a.ID)
	if id == "" {
		return
	}
	e.state.ApplyAck(id, a.Ack)
	if err := e.db.UpdateMessageAck(id, a.Ack); err != nil {
		e.logger.Error("failed to cache ack", zap.Error(err), zap.String("msg_id", id))
	}
}

// IngestConnection records the phone connection reported by the server.
func (e *Engine) IngestConnection(connected bool) {
	was := e.state.SetConnected(connected)
	switch {
	case !connected:
		e.logger.Warn("phone connection lost")
		e.notify.Error("Connection to WhatsApp lost")
	case !was:
		e.logger.Info("phone connected")
	}
}

// Reset clears the state, and the cache when clearCache is set.
func (e *Engine) Reset(clearCache bool) {
	e.state.Reset()
	if !clearCache {
		return
	}
	if err := e.db.ClearCache(); err != nil {
		e.logger.Error("failed to clear cache", zap.Error(err))
		return
	}
	e.logger.Info("local cache cleared")
}

func ptr[T any](v T) *T { return &v }
