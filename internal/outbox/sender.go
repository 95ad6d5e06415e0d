// Package outbox queues outgoing text messages in the local store and sends
// them in order, showing each one optimistically before the server accepts it.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/wppc/internal/bus"
	"github.com/matheus3301/wppc/internal/jid"
	"github.com/matheus3301/wppc/internal/remote"
	"github.com/matheus3301/wppc/internal/retry"
	"github.com/matheus3301/wppc/internal/store"
)

// Status values of an Update.
const (
	StatusSending = "sending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// ErrEmptyBody is returned when queuing a blank message.
var ErrEmptyBody = errors.New("message body is empty")

// Remote sends text messages to the server.
type Remote interface {
	SendText(ctx context.Context, chatID, text string) (remote.Sent, error)
	SendReply(ctx context.Context, chatID, text, quotedID string) (remote.Sent, error)
}

// Update describes a change to an outgoing message. It is the payload of the
// message.upserted, message.send_ack and message.send_failed events.
type Update struct {
	ChatID      string
	ClientMsgID string
	ServerMsgID string
	Body        string
	QuotedMsgID string
	Status      string
	Err         string
	Timestamp   time.Time
}

// Sender drains the outbox and sends messages through the remote client.
type Sender struct {
	db     *store.DB
	remote Remote
	retry  *retry.Controller
	ready  func() bool
	bus    *bus.Bus
	logger *zap.Logger
	kick   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSender creates a new outbox sender. ready gates sending; entries stay
// queued while it returns false. rc may be nil for a single attempt per send.
func NewSender(db *store.DB, r Remote, rc *retry.Controller, ready func() bool, b *bus.Bus, logger *zap.Logger) *Sender {
	if ready == nil {
		ready = func() bool { return true }
	}
	if rc == nil {
		rc = retry.New(retry.Policy{MaxAttempts: 1}, nil, logger)
	}
	return &Sender{
		db:     db,
		remote: r,
		retry:  rc,
		ready:  ready,
		bus:    b,
		logger: logger,
		kick:   make(chan struct{}, 1),
	}
}

// Queue stores a message for chatID and wakes the sender. quotedID makes it
// a reply. It returns the client id the message is tracked under.
func (s *Sender) Queue(chatID, body, quotedID string) (string, error) {
	if !jid.IsValid(chatID) {
		return "", fmt.Errorf("queue message: %w: %q", jid.ErrInvalid, chatID)
	}
	if strings.TrimSpace(body) == "" {
		return "", ErrEmptyBody
	}
	clientMsgID := "local-" + uuid.NewString()
	if err := s.db.QueueOutbox(clientMsgID, chatID, body, quotedID); err != nil {
		return "", fmt.Errorf("queue message: %w", err)
	}
	s.Kick()
	return clientMsgID, nil
}

// Retry requeues a failed message.
func (s *Sender) Retry(clientMsgID string) error {
	if err := s.db.RequeueOutbox(clientMsgID); err != nil {
		return fmt.Errorf("requeue message: %w", err)
	}
	s.Kick()
	return nil
}

// Kick asks the loop to look at the outbox now.
func (s *Sender) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Start begins polling the outbox for pending messages.
func (s *Sender) Start(ctx context.Context) {
	if n, err := s.db.RecoverOutbox(); err != nil {
		s.logger.Error("failed to recover outbox", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("requeued interrupted sends", zap.Int64("count", n))
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
}

// Stop stops the sender loop and waits for it to exit.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Sender) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-s.kick:
		case <-ctx.Done():
			return
		}
		if s.ready() {
			s.processPending(ctx)
		}
	}
}

func (s *Sender) processPending(ctx context.Context) {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if ctx.Err() != nil {
			return
		}
		s.send(ctx, entry)
	}
}

func (s *Sender) send(ctx context.Context, entry store.OutboxEntry) {
	log := s.logger.With(zap.String("client_msg_id", entry.ClientMsgID), zap.String("chat_id", entry.ChatID))
	if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
		log.Error("failed to mark sending", zap.Error(err))
		return
	}

	// Optimistic insert: show the message in the UI immediately.
	created := time.UnixMilli(entry.CreatedAt)
	msg := store.Message{
		ChatID:      entry.ChatID,
		MsgID:       entry.ClientMsgID,
		Body:        entry.Body,
		MessageType: "chat",
		FromMe:      true,
		QuotedMsgID: entry.QuotedMsgID,
		Timestamp:   created.Unix(),
	}
	_ = s.db.UpsertMessage(&msg)
	update := Update{
		ChatID:      entry.ChatID,
		ClientMsgID: entry.ClientMsgID,
		Body:        entry.Body,
		QuotedMsgID: entry.QuotedMsgID,
		Status:      StatusSending,
		Timestamp:   created,
	}
	s.bus.Emit(bus.KindMessageUpserted, update)

	var sent remote.Sent
	err := s.retry.Do(ctx, "send message", func(ctx context.Context) error {
		var err error
		if entry.QuotedMsgID != "" {
			sent, err = s.remote.SendReply(ctx, entry.ChatID, entry.Body, entry.QuotedMsgID)
		} else {
			sent, err = s.remote.SendText(ctx, entry.ChatID, entry.Body)
		}
		return err
	})
	if err != nil {
		log.Error("failed to send message", zap.Error(err))
		_ = s.db.MarkOutboxFailed(entry.ClientMsgID, err.Error())
		update.Status = StatusFailed
		update.Err = err.Error()
		s.bus.Emit(bus.KindMessageSendFailed, update)
		return
	}

	serverMsgID := string(sent.ID)
	if err := s.db.MarkOutboxSent(entry.ClientMsgID, serverMsgID); err != nil {
		log.Error("failed to mark sent", zap.Error(err))
	}
	if serverMsgID != "" {
		if err := s.db.RenameMessage(entry.ChatID, entry.ClientMsgID, serverMsgID); err != nil {
			log.Warn("failed to rename optimistic message", zap.Error(err))
		}
	}

	log.Info("message sent", zap.String("server_msg_id", serverMsgID))
	update.Status = StatusSent
	update.ServerMsgID = serverMsgID
	s.bus.Emit(bus.KindMessageSendAck, update)
}
