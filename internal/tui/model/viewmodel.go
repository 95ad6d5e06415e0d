package model

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/matheus3301/wppc/internal/bootstrap"
	"github.com/matheus3301/wppc/internal/media"
	"github.com/matheus3301/wppc/internal/notify"
	"github.com/matheus3301/wppc/internal/remote"
	"github.com/matheus3301/wppc/internal/status"
	"github.com/matheus3301/wppc/internal/store"
	chatsync "github.com/matheus3301/wppc/internal/sync"
)

// ErrNoChat is returned by chat actions when no conversation is open.
var ErrNoChat = errors.New("no conversation is open")

// ErrNoMessage is returned when a message reference does not resolve.
var ErrNoMessage = errors.New("no such message")

// Engine is the part of the sync engine the UI drives.
type Engine interface {
	State() *chatsync.State
	SelectChat(ctx context.Context, chatID string) error
	LoadEarlier(ctx context.Context) (int, error)
	DeleteMessage(ctx context.Context, messageID string) error
	CloseChat()
	Search(query string) []chatsync.Chat
	SearchMessages(query, chatID string, limit int) ([]store.SearchResult, error)
}

// Outbox queues text messages.
type Outbox interface {
	Queue(chatID, body, quotedID string) (string, error)
	Retry(clientMsgID string) error
}

// Remote sends what the outbox does not carry.
type Remote interface {
	SendFile(ctx context.Context, chatID string, f remote.File) (remote.Sent, error)
	SendVoice(ctx context.Context, chatID, data, quotedID string) (remote.Sent, error)
	SetTyping(ctx context.Context, chatID string, typing bool) error
}

// Profile edits the signed-in account.
type Profile interface {
	Update(ctx context.Context, name, about string) error
	SetPicture(ctx context.Context, path string) error
	Avatar(ctx context.Context, contactID, name string) string
}

// Downloader saves attachments.
type Downloader interface {
	Save(ctx context.Context, messageID, name string) (media.Saved, error)
}

// Session is the bootstrapper as seen by the UI.
type Session interface {
	Phase() status.Phase
	Reason() error
	QR() (bootstrap.QR, bool)
	Login()
	CloseSession(ctx context.Context) error
	Logout(ctx context.Context) error
	ForceLogout(ctx context.Context) error
	DisconnectAndShowQR(ctx context.Context) error
}

// Notifier surfaces outcomes to the user.
type Notifier interface {
	Info(msg string)
	Success(msg string)
	Warn(msg string)
	Error(msg string)
	Current() (notify.Notification, bool)
}

// Deps groups the services behind the view model.
type Deps struct {
	SessionName string
	Engine      Engine
	Outbox      Outbox
	Remote      Remote
	Profile     Profile
	Media       Downloader
	Session     Session
	Notifier    Notifier
	Logger      *zap.Logger
}

// ViewModel turns user actions into calls on the client services and keeps
// the little state that belongs to the UI alone, such as the message being
// replied to.
type ViewModel struct {
	Deps

	mu      sync.Mutex
	replyTo *chatsync.Message
}

// NewViewModel creates a view model over d.
func NewViewModel(d Deps) *ViewModel {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &ViewModel{Deps: d}
}

// Snapshot returns the shared chat state.
func (vm *ViewModel) Snapshot() chatsync.Snapshot {
	return vm.Engine.State().Snapshot()
}

// Phase returns the bootstrap phase.
func (vm *ViewModel) Phase() status.Phase { return vm.Session.Phase() }

// Flash returns the notification to show, if any.
func (vm *ViewModel) Flash() (notify.Notification, bool) { return vm.Notifier.Current() }

// OpenChat makes chatID the active conversation.
func (vm *ViewModel) OpenChat(ctx context.Context, chatID string) error {
	vm.ClearReply()
	return vm.Engine.SelectChat(ctx, chatID)
}

// CloseChat leaves the active conversation.
func (vm *ViewModel) CloseChat() {
	vm.ClearReply()
	vm.Engine.CloseChat()
}

// Chats returns the chat list, filtered by query when it is not blank.
func (vm *ViewModel) Chats(query string) []chatsync.Chat {
	if strings.TrimSpace(query) == "" {
		return vm.Snapshot().Chats
	}
	return vm.Engine.Search(query)
}

// FindChat returns the first chat matching query.
func (vm *ViewModel) FindChat(query string) (chatsync.Chat, bool) {
	chats := vm.Engine.Search(query)
	if len(chats) == 0 {
		return chatsync.Chat{}, false
	}
	return chats[0], true
}

// SearchMessages searches the cached messages of every chat.
func (vm *ViewModel) SearchMessages(query string) ([]store.SearchResult, error) {
	return vm.Engine.SearchMessages(query, "", 50)
}

func (vm *ViewModel) activeChat() (string, error) {
	id := vm.Engine.State().ActiveChat()
	if id == "" {
		return "", ErrNoChat
	}
	return id, nil
}

// Send queues text for the active chat, quoting the reply target when one is
// set. The reply target is cleared once the message is queued.
func (vm *ViewModel) Send(text string) error {
	chatID, err := vm.activeChat()
	if err != nil {
		return err
	}
	quoted := ""
	if m := vm.ReplyTarget(); m != nil {
		quoted = m.ID
	}
	if _, err := vm.Outbox.Queue(chatID, text, quoted); err != nil {
		return err
	}
	vm.ClearReply()
	return nil
}

// MessageAt returns the nth newest message of the open transcript, counting
// from 1.
func (vm *ViewModel) MessageAt(n int) (chatsync.Message, error) {
	msgs := vm.Snapshot().Transcript
	if n < 1 || n > len(msgs) {
		return chatsync.Message{}, fmt.Errorf("%w: #%d", ErrNoMessage, n)
	}
	return msgs[len(msgs)-n], nil
}

// newest returns the newest message of the transcript satisfying keep.
func (vm *ViewModel) newest(keep func(chatsync.Message) bool) (chatsync.Message, bool) {
	msgs := vm.Snapshot().Transcript
	for i := len(msgs) - 1; i >= 0; i-- {
		if keep(msgs[i]) {
			return msgs[i], true
		}
	}
	return chatsync.Message{}, false
}

// Reply handles ":reply [n] [text]". Without n it targets the newest message
// from the other side. With text the reply is sent at once, otherwise the
// target is kept for the next message typed in the composer.
func (vm *ViewModel) Reply(args string) error {
	if _, err := vm.activeChat(); err != nil {
		return err
	}
	first, rest, _ := strings.Cut(strings.TrimSpace(args), " ")
	var target chatsync.Message
	if n, err := strconv.Atoi(first); err == nil {
		if target, err = vm.MessageAt(n); err != nil {
			return err
		}
		args = rest
	} else {
		var ok bool
		target, ok = vm.newest(func(m chatsync.Message) bool { return !m.FromMe && !m.Pending })
		if !ok {
			if target, ok = vm.newest(func(m chatsync.Message) bool { return !m.Pending }); !ok {
				return ErrNoMessage
			}
		}
	}
	if target.Pending || target.Failed {
		return fmt.Errorf("%w: message was not delivered", ErrNoMessage)
	}

	vm.mu.Lock()
	vm.replyTo = &target
	vm.mu.Unlock()

	if strings.TrimSpace(args) == "" {
		return nil
	}
	return vm.Send(args)
}

// ReplyTarget returns the message the next send will quote.
func (vm *ViewModel) ReplyTarget() *chatsync.Message {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.replyTo
}

// ClearReply forgets the reply target.
func (vm *ViewModel) ClearReply() {
	vm.mu.Lock()
	vm.replyTo = nil
	vm.mu.Unlock()
}

// SendFile handles ":file <path> [caption]".
func (vm *ViewModel) SendFile(ctx context.Context, args string) error {
	chatID, err := vm.activeChat()
	if err != nil {
		return err
	}
	path, caption := splitPath(args)
	if path == "" {
		return errors.New("usage: :file <path> [caption]")
	}
	f, err := media.Encode(path, caption)
	if err != nil {
		return err
	}
	if _, err := vm.Remote.SendFile(ctx, chatID, f); err != nil {
		return fmt.Errorf("send %s: %w", f.Name, err)
	}
	vm.Logger.Info("file sent", zap.String("chat", chatID), zap.String("file", f.Name))
	return nil
}

// SendVoice handles ":voice <path>". The reply target, if any, is quoted.
func (vm *ViewModel) SendVoice(ctx context.Context, args string) error {
	chatID, err := vm.activeChat()
	if err != nil {
		return err
	}
	path, _ := splitPath(args)
	if path == "" {
		return errors.New("usage: :voice <path>")
	}
	data, err := media.EncodeVoice(path)
	if err != nil {
		return err
	}
	quoted := ""
	if m := vm.ReplyTarget(); m != nil {
		quoted = m.ID
	}
	if _, err := vm.Remote.SendVoice(ctx, chatID, data, quoted); err != nil {
		return fmt.Errorf("send voice note: %w", err)
	}
	vm.ClearReply()
	return nil
}

// LoadEarlier fetches older messages of the open chat.
func (vm *ViewModel) LoadEarlier(ctx context.Context) (int, error) {
	if _, err := vm.activeChat(); err != nil {
		return 0, err
	}
	return vm.Engine.LoadEarlier(ctx)
}

// SaveMedia handles ":media [n]": it downloads the attachment of the nth
// newest message, or of the newest message carrying one.
func (vm *ViewModel) SaveMedia(ctx context.Context, args string) (media.Saved, error) {
	if _, err := vm.activeChat(); err != nil {
		return media.Saved{}, err
	}
	var target chatsync.Message
	if args = strings.TrimSpace(args); args != "" {
		n, err := strconv.Atoi(args)
		if err != nil {
			return media.Saved{}, fmt.Errorf("usage: :media [n]")
		}
		if target, err = vm.MessageAt(n); err != nil {
			return media.Saved{}, err
		}
	} else {
		var ok bool
		if target, ok = vm.newest(chatsync.Message.HasMedia); !ok {
			return media.Saved{}, fmt.Errorf("%w: nothing to download", ErrNoMessage)
		}
	}
	if !target.HasMedia() {
		return media.Saved{}, fmt.Errorf("%w: message has no attachment", ErrNoMessage)
	}
	return vm.Media.Save(ctx, target.ID, target.Filename)
}

// DeleteMessage handles ":delete [n]": it deletes for everyone the nth newest
// message, or our newest delivered one. Only our own messages qualify.
func (vm *ViewModel) DeleteMessage(ctx context.Context, args string) error {
	if _, err := vm.activeChat(); err != nil {
		return err
	}
	var target chatsync.Message
	if args = strings.TrimSpace(args); args != "" {
		n, err := strconv.Atoi(args)
		if err != nil {
			return errors.New("usage: :delete [n]")
		}
		if target, err = vm.MessageAt(n); err != nil {
			return err
		}
	} else {
		var ok bool
		target, ok = vm.newest(func(m chatsync.Message) bool { return m.FromMe && !m.Pending && !m.Failed })
		if !ok {
			return fmt.Errorf("%w: nothing of yours to delete", ErrNoMessage)
		}
	}
	if !target.FromMe {
		return fmt.Errorf("%w: only your own messages can be deleted", ErrNoMessage)
	}
	if target.Pending || target.Failed {
		return fmt.Errorf("%w: message was not delivered", ErrNoMessage)
	}
	if err := vm.Engine.DeleteMessage(ctx, target.ID); err != nil {
		return err
	}
	vm.mu.Lock()
	if vm.replyTo != nil && vm.replyTo.ID == target.ID {
		vm.replyTo = nil
	}
	vm.mu.Unlock()
	return nil
}

// RetryFailed requeues the newest failed message of the open chat.
func (vm *ViewModel) RetryFailed() error {
	if _, err := vm.activeChat(); err != nil {
		return err
	}
	m, ok := vm.newest(func(m chatsync.Message) bool { return m.Failed })
	if !ok {
		return fmt.Errorf("%w: no failed message", ErrNoMessage)
	}
	return vm.Outbox.Retry(m.ID)
}

// Typing tells the server whether the user is typing in the open chat.
// Failures are only logged.
func (vm *ViewModel) Typing(ctx context.Context, typing bool) {
	chatID := vm.Engine.State().ActiveChat()
	if chatID == "" {
		return
	}
	if err := vm.Remote.SetTyping(ctx, chatID, typing); err != nil {
		vm.Logger.Debug("typing indicator failed", zap.Error(err))
	}
}

// Avatar returns the picture URL of chat.
func (vm *ViewModel) Avatar(ctx context.Context, chat chatsync.Chat) string {
	return vm.Profile.Avatar(ctx, chat.ID, chat.Title())
}

// splitPath splits "<path> [rest]". A path containing spaces may be quoted.
func splitPath(args string) (path, rest string) {
	args = strings.TrimSpace(args)
	if strings.HasPrefix(args, `"`) {
		if end := strings.Index(args[1:], `"`); end >= 0 {
			return args[1 : end+1], strings.TrimSpace(args[end+2:])
		}
	}
	path, rest, _ = strings.Cut(args, " ")
	return path, strings.TrimSpace(rest)
}
