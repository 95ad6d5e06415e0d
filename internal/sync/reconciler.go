package sync

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/matheus3301/wppc/internal/jid"
	"github.com/matheus3301/wppc/internal/remote"
	"github.com/matheus3301/wppc/internal/retry"
	"github.com/matheus3301/wppc/internal/store"
)

// Checkpoint keys written after a bulk load.
const (
	CheckpointBulkLoad  = "last_bulk_load"
	CheckpointChatCount = "last_bulk_load_chats"
)

const (
	cachedChats    = 100
	cachedMessages = 50
)

// Warm seeds the state from the local cache so the chat list is not empty
// while the session authenticates. The list is marked stale until
// LoadInitial replaces it.
func (e *Engine) Warm() error {
	cached, err := e.db.ListChats(cachedChats)
	if err != nil {
		return fmt.Errorf("read cached chats: %w", err)
	}
	contacts, err := e.db.ListContacts()
	if err != nil {
		return fmt.Errorf("read cached contacts: %w", err)
	}

	chats := make([]Chat, 0, len(cached))
	for _, c := range cached {
		chats = append(chats, fromStoreChat(c))
	}
	var me *Contact
	out := make([]Contact, 0, len(contacts))
	for _, c := range contacts {
		contact := fromStoreContact(c)
		if contact.IsMe {
			me = &contact
		}
		if contact.IsMyContact {
			out = append(out, contact)
		}
	}
	e.state.SetContacts(out, me)
	e.state.SetChats(chats, true)
	e.logger.Info("state warmed from cache", zap.Int("chats", len(chats)), zap.Int("contacts", len(out)))
	return nil
}

// LoadInitial fetches contacts and chats, each independently under the retry
// policy, and installs them. When one collection cannot be loaded it is left
// empty and the other still loads. The returned error reports a chat list
// failure.
func (e *Engine) LoadInitial(ctx context.Context) error {
	start := time.Now()
	e.state.SetLoading(true)
	defer e.state.SetLoading(false)

	var (
		rawChats        []remote.Chat
		rawContacts     []remote.Contact
		chatAttempts    int
		chatErr         error
		contactErr      error
		contactAttempts int
	)
	var g errgroup.Group
	g.Go(func() error {
		rawContacts, contactAttempts, contactErr = retry.Collect(ctx, e.retry, "load contacts", e.remote.Contacts)
		return nil
	})
	g.Go(func() error {
		rawChats, chatAttempts, chatErr = retry.Collect(ctx, e.retry, "load chats", e.remote.Chats)
		return nil
	})
	_ = g.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}

	contacts, me := filterContacts(rawContacts)
	if contactErr != nil {
		e.logger.Error("failed to load contacts", zap.Error(contactErr), zap.Int("attempts", contactAttempts))
		e.notify.Warn("Could not load contacts")
	}
	e.state.SetContacts(contacts, me)

	chats := e.buildChats(rawChats, contacts)
	if chatErr != nil {
		e.logger.Error("failed to load chats", zap.Error(chatErr), zap.Int("attempts", chatAttempts))
		e.state.SetChats(nil, false)
		e.state.SetLoadError("Could not load chats")
		e.notify.Error("Could not load data after several attempts")
	} else {
		e.state.SetChats(chats, false)
		e.state.SetLoadError("")
		if chatAttempts > 1 {
			e.notify.Success("Data loaded successfully")
		}
	}

	e.persist(chats, contacts, me, chatErr == nil)
	e.logger.Info("bulk load finished",
		zap.Int("chats", len(chats)),
		zap.Int("contacts", len(contacts)),
		zap.Int("chat_attempts", chatAttempts),
		zap.Duration("took", time.Since(start)),
	)
	if chatErr != nil {
		return fmt.Errorf("load chats: %w", chatErr)
	}
	return nil
}

// filterContacts keeps the user's own contacts with a usable id. The
// signed-in account is picked from the unfiltered list.
func filterContacts(raw []remote.Contact) ([]Contact, *Contact) {
	var me *Contact
	out := make([]Contact, 0, len(raw))
	for _, rc := range raw {
		c := contactFromRemote(rc)
		if rc.IsMe && me == nil {
			me = &c
		}
		if !rc.IsMyContact || rc.ID.User == "" || c.ID == "" || jid.IsAlternate(c.ID) {
			continue
		}
		out = append(out, c)
	}
	return out, me
}

// buildChats drops archived chats and chats whose id does not validate, names
// unnamed chats after their contact and sorts newest first.
func (e *Engine) buildChats(raw []remote.Chat, contacts []Contact) []Chat {
	names := make(map[string]string, len(contacts))
	for _, c := range contacts {
		names[c.ID] = c.DisplayName()
	}
	out := make([]Chat, 0, len(raw))
	for _, rc := range raw {
		if rc.IsArchived() {
			continue
		}
		chat, err := chatFromRemote(rc)
		if err != nil {
			e.logger.Debug("dropping chat with invalid id", zap.ByteString("id", rc.ID))
			continue
		}
		if chat.Name == "" {
			chat.Name = names[chat.ID]
		}
		out = append(out, chat)
	}
	slices.SortStableFunc(out, func(a, b Chat) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	return out
}

func (e *Engine) persist(chats []Chat, contacts []Contact, me *Contact, chatsOK bool) {
	storeContacts := make([]store.Contact, 0, len(contacts)+1)
	if me != nil {
		storeContacts = append(storeContacts, toStoreContact(*me))
	}
	for _, c := range contacts {
		storeContacts = append(storeContacts, toStoreContact(c))
	}
	if err := e.db.ReplaceContacts(storeContacts); err != nil {
		e.logger.Error("failed to cache contacts", zap.Error(err))
	}
	if !chatsOK {
		return
	}
	storeChats := make([]store.Chat, 0, len(chats))
	for _, c := range chats {
		storeChats = append(storeChats, toStoreChat(c))
	}
	if err := e.db.ReplaceChats(storeChats); err != nil {
		e.logger.Error("failed to cache chats", zap.Error(err))
		return
	}
	_ = e.db.SetCheckpoint(CheckpointBulkLoad, time.Now().UTC().Format(time.RFC3339))
	_ = e.db.SetCheckpoint(CheckpointChatCount, fmt.Sprint(len(chats)))
}

// SelectChat opens chatID and loads its history. An id that does not
// validate is rejected before any request. The loading flag is cleared on
// every path.
func (e *Engine) SelectChat(ctx context.Context, chatID string) error {
	isGroup := jid.IsGroup(chatID)
	if chat, ok := e.state.Chat(chatID); ok {
		isGroup = chat.IsGroup
	}
	id, err := jid.Normalize(chatID, isGroup)
	if err != nil {
		e.logger.Warn("refusing to open chat", zap.String("chat_id", chatID), zap.Error(err))
		e.notify.Error("Invalid chat: " + chatID)
		return fmt.Errorf("select chat: %w", err)
	}

	e.state.BeginSelect(id, e.cachedTranscript(id))
	page, err := e.remote.Messages(ctx, id)
	switch {
	case err != nil:
		e.state.AbortSelect(id)
		e.logger.Error("failed to load messages", zap.String("chat_id", id), zap.Error(err))
		if remote.IsAuth(err) {
			e.notify.Error("Authentication error. Please log in again.")
		} else {
			e.notify.Error("Could not load messages")
		}
		return fmt.Errorf("select chat: %w", err)

	case page.NotFound:
		e.state.FinishSelect(id, nil, false)
		e.notify.Warn("Chat not found or has no messages")
		return nil
	}

	msgs := messagesFromRemote(page.Messages, id)
	if !e.state.FinishSelect(id, msgs, true) {
		// Another chat was opened meanwhile.
		return nil
	}
	if err := e.remote.SendSeen(ctx, id); err != nil {
		e.logger.Warn("failed to mark chat as seen", zap.String("chat_id", id), zap.Error(err))
	}
	e.cacheTranscript(id, msgs)
	return nil
}

// cachedTranscript reads the cached tail of chatID, oldest first.
func (e *Engine) cachedTranscript(chatID string) []Message {
	rows, err := e.db.ListMessages(chatID, 0, cachedMessages)
	if err != nil {
		e.logger.Warn("failed to read cached transcript", zap.String("chat_id", chatID), zap.Error(err))
		return nil
	}
	msgs := make([]Message, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		msgs = append(msgs, fromStoreMessage(rows[i]))
	}
	return msgs
}

// LoadEarlier prepends older messages of the open chat and returns how many
// were new.
func (e *Engine) LoadEarlier(ctx context.Context) (int, error) {
	id := e.state.ActiveChat()
	if id == "" {
		return 0, errors.New("load earlier messages: no chat open")
	}
	older, err := e.remote.EarlierMessages(ctx, id, jid.IsGroup(id))
	if err != nil {
		e.logger.Error("failed to load earlier messages", zap.String("chat_id", id), zap.Error(err))
		e.notify.Error("Could not load earlier messages")
		return 0, fmt.Errorf("load earlier messages: %w", err)
	}
	msgs := messagesFromRemote(older, id)
	n := e.state.PrependTranscript(id, msgs)
	if n == 0 {
		e.notify.Info("No earlier messages")
		return 0, nil
	}
	e.cacheTranscript(id, msgs)
	return n, nil
}

// DeleteMessage deletes messageID of the open chat for everyone and drops it
// from the transcript and the cache.
func (e *Engine) DeleteMessage(ctx context.Context, messageID string) error {
	id := e.state.ActiveChat()
	if id == "" {
		return errors.New("delete message: no chat open")
	}
	if err := e.remote.DeleteMessage(ctx, id, messageID); err != nil {
		e.logger.Error("failed to delete message", zap.String("chat_id", id), zap.String("msg_id", messageID), zap.Error(err))
		return fmt.Errorf("delete message: %w", err)
	}
	e.state.RemoveMessage(id, messageID)
	if err := e.db.DeleteMessage(id, messageID); err != nil {
		e.logger.Error("failed to uncache message", zap.String("msg_id", messageID), zap.Error(err))
	}
	e.logger.Info("message deleted", zap.String("chat_id", id), zap.String("msg_id", messageID))
	return nil
}

// CloseChat clears the open chat.
func (e *Engine) CloseChat() { e.state.CloseChat() }

func (e *Engine) cacheTranscript(chatID string, msgs []Message) {
	if len(msgs) == 0 {
		return
	}
	rows := make([]store.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ID != "" {
			rows = append(rows, toStoreMessage(m))
		}
	}
	if err := e.db.UpsertMessages(rows); err != nil {
		e.logger.Error("failed to cache transcript", zap.String("chat_id", chatID), zap.Error(err))
	}
	if chat, ok := e.state.Chat(chatID); ok {
		if err := e.db.UpsertChat(ptr(toStoreChat(chat))); err != nil {
			e.logger.Error("failed to cache chat", zap.String("chat_id", chatID), zap.Error(err))
		}
	}
}
