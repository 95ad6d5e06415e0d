package sync

import (
	"strings"
	"time"

	"github.com/rivo/uniseg"

	"github.com/matheus3301/wppc/internal/jid"
	"github.com/matheus3301/wppc/internal/remote"
	"github.com/matheus3301/wppc/internal/store"
)

// Contact is a contact of the signed-in account.
type Contact struct {
	ID            string
	Name          string
	PushName      string
	ShortName     string
	FormattedName string
	IsMe          bool
	IsMyContact   bool
}

// DisplayName returns the first non-empty of formattedName, name, pushname
// and shortName, then the bare number.
func (c Contact) DisplayName() string {
	for _, name := range []string{c.FormattedName, c.Name, c.PushName, c.ShortName} {
		if name != "" {
			return name
		}
	}
	return jid.Clean(c.ID)
}

// Message is one entry of a transcript. Only Ack changes after receipt.
type Message struct {
	ID         string
	ChatID     string
	Body       string
	Caption    string
	Type       string
	SenderName string
	Author     string
	FromMe     bool
	Ack        int
	Timestamp  time.Time
	QuotedID   string
	QuotedBody string
	Filename   string
	Mimetype   string
	Size       int64

	// Pending and Failed mark optimistic entries of the outbox.
	Pending bool
	Failed  bool
}

// HasMedia reports whether the message carries a downloadable attachment.
func (m Message) HasMedia() bool {
	switch m.Type {
	case "image", "video", "audio", "ptt", "document", "sticker":
		return true
	}
	return false
}

// Label is the one-line text shown for m in the chat list.
func (m Message) Label() string {
	switch m.Type {
	case "image":
		return "📷 Photo"
	case "video":
		return "🎥 Video"
	case "audio", "ptt":
		return "🎵 Audio"
	case "document":
		return "📄 Document"
	case "sticker":
		return "🎭 Sticker"
	case "location":
		return "📍 Location"
	case "revoked":
		return "Message deleted"
	case "gp2", "notification_template":
		return ""
	}
	if m.Body != "" {
		return m.Body
	}
	return "Media message"
}

// Chat is a conversation in the chat list.
type Chat struct {
	ID          string
	Name        string
	IsGroup     bool
	UnreadCount int
	Timestamp   time.Time
	Archived    bool
	Pinned      bool
	Muted       bool
	// LastMessage is replaced, never modified, so snapshots may share it.
	LastMessage *Message
	// Placeholder is set on search results built from a contact without a chat.
	Placeholder bool
}

// Title is the chat's name, or its number when it has none.
func (c Chat) Title() string {
	if c.Name != "" {
		return c.Name
	}
	return jid.Clean(c.ID)
}

// Preview is the last message's label on one line, cut to width cells.
func (c Chat) Preview(width int) string {
	if c.LastMessage == nil {
		return ""
	}
	text := c.LastMessage.Label()
	if c.LastMessage.FromMe && text != "" {
		text = "You: " + text
	}
	return truncate(strings.Join(strings.Fields(text), " "), width)
}

// truncate cuts s to at most width terminal cells, ending with an ellipsis
// when anything was dropped. width <= 0 disables truncation.
func truncate(s string, width int) string {
	if width <= 0 || uniseg.StringWidth(s) <= width {
		return s
	}
	var sb strings.Builder
	used := 0
	g := uniseg.NewGraphemes(s)
	for g.Next() {
		w := g.Width()
		if used+w > width-1 {
			break
		}
		sb.WriteString(g.Str())
		used += w
	}
	sb.WriteString("…")
	return sb.String()
}

func contactFromRemote(c remote.Contact) Contact {
	return Contact{
		ID:            c.ID.String(),
		Name:          c.Name,
		PushName:      c.PushName,
		ShortName:     c.ShortName,
		FormattedName: c.FormattedName,
		IsMe:          c.IsMe,
		IsMyContact:   c.IsMyContact,
	}
}

// messageFromRemote converts m. chatID is used when m does not name its chat
// in a usable form; ok is false when no chat could be resolved at all.
func messageFromRemote(m remote.Message, chatID string) (Message, bool) {
	id, err := jid.Normalize(m.ChatID, m.IsGroupMsg)
	if err != nil {
		peer := m.From
		if m.FromMe {
			peer = m.To
		}
		id, err = jid.Normalize(peer, m.IsGroupMsg)
	}
	if err != nil {
		if chatID == "" {
			return Message{}, false
		}
		id = chatID
	}

	sender := m.SenderName
	if sender == "" && m.Sender != nil {
		sender = remoteContactName(*m.Sender)
	}
	msg := Message{
		ID:         string(m.ID),
		ChatID:     id,
		Body:       m.Body,
		Caption:    m.Caption,
		Type:       m.Type,
		SenderName: sender,
		Author:     m.Author,
		FromMe:     m.FromMe,
		Ack:        m.Ack,
		Timestamp:  m.Time(),
		Filename:   m.Filename,
		Mimetype:   m.Mimetype,
		Size:       m.Size,
	}
	if m.HasMedia() {
		// Media bodies are base64 thumbnails, not text.
		msg.Body = m.Caption
	}
	if m.QuotedMsg != nil {
		msg.QuotedID = string(m.QuotedMsg.ID)
		msg.QuotedBody = m.QuotedMsg.Body
	}
	return msg, true
}

func remoteContactName(c remote.Contact) string {
	for _, name := range []string{c.Name, c.PushName, c.FormattedName, c.ShortName} {
		if name != "" {
			return name
		}
	}
	return c.ID.User
}

func messagesFromRemote(msgs []remote.Message, chatID string) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if msg, ok := messageFromRemote(m, chatID); ok {
			out = append(out, msg)
		}
	}
	return out
}

// chatFromRemote normalizes c's identifier and synthesizes its last message
// from the newest entry of msgs. It fails when the identifier is unusable.
func chatFromRemote(c remote.Chat) (Chat, error) {
	id, err := jid.Normalize(c.ID, c.IsGroup)
	if err != nil {
		return Chat{}, err
	}
	chat := Chat{
		ID:          id,
		Name:        c.Name,
		IsGroup:     c.IsGroup || jid.IsGroup(id),
		UnreadCount: c.UnreadCount,
		Timestamp:   c.Time(),
		Archived:    c.IsArchived(),
		Pinned:      c.IsPinned(),
		Muted:       c.IsMuted,
	}
	if chat.Name == "" && c.Contact != nil {
		chat.Name = remoteContactName(*c.Contact)
	}
	last := c.LastMessage
	if n := len(c.Msgs); n > 0 {
		last = &c.Msgs[n-1]
	}
	if last != nil {
		if msg, ok := messageFromRemote(*last, id); ok {
			chat.LastMessage = &msg
		}
	}
	return chat, nil
}

func toStoreChat(c Chat) store.Chat {
	sc := store.Chat{
		ID:            c.ID,
		Name:          c.Name,
		IsGroup:       c.IsGroup,
		UnreadCount:   c.UnreadCount,
		LastMessageAt: unixOrZero(c.Timestamp),
	}
	if c.LastMessage != nil {
		sc.LastMessagePreview = c.LastMessage.Label()
	}
	return sc
}

func fromStoreChat(sc store.Chat) Chat {
	c := Chat{
		ID:          sc.ID,
		Name:        sc.Name,
		IsGroup:     sc.IsGroup || jid.IsGroup(sc.ID),
		UnreadCount: sc.UnreadCount,
	}
	if sc.Name == sc.ID {
		c.Name = ""
	}
	if sc.LastMessageAt > 0 {
		c.Timestamp = time.Unix(sc.LastMessageAt, 0)
	}
	if sc.LastMessagePreview != "" {
		c.LastMessage = &Message{ChatID: sc.ID, Body: sc.LastMessagePreview, Type: "chat", Timestamp: c.Timestamp}
	}
	return c
}

func toStoreContact(c Contact) store.Contact {
	return store.Contact{
		ID:            c.ID,
		Name:          c.Name,
		PushName:      c.PushName,
		ShortName:     c.ShortName,
		FormattedName: c.FormattedName,
		IsMe:          c.IsMe,
		IsMyContact:   c.IsMyContact,
	}
}

func fromStoreContact(sc store.Contact) Contact {
	return Contact{
		ID:            sc.ID,
		Name:          sc.Name,
		PushName:      sc.PushName,
		ShortName:     sc.ShortName,
		FormattedName: sc.FormattedName,
		IsMe:          sc.IsMe,
		IsMyContact:   sc.IsMyContact,
	}
}

func toStoreMessage(m Message) store.Message {
	return store.Message{
		ChatID:      m.ChatID,
		MsgID:       m.ID,
		SenderID:    m.Author,
		SenderName:  m.SenderName,
		Body:        m.Body,
		MessageType: m.Type,
		FromMe:      m.FromMe,
		Ack:         m.Ack,
		QuotedMsgID: m.QuotedID,
		Timestamp:   unixOrZero(m.Timestamp),
	}
}

func fromStoreMessage(sm store.Message) Message {
	m := Message{
		ID:         sm.MsgID,
		ChatID:     sm.ChatID,
		Body:       sm.Body,
		Type:       sm.MessageType,
		SenderName: sm.SenderName,
		Author:     sm.SenderID,
		FromMe:     sm.FromMe,
		Ack:        sm.Ack,
		QuotedID:   sm.QuotedMsgID,
	}
	if sm.Timestamp > 0 {
		m.Timestamp = time.Unix(sm.Timestamp, 0)
	}
	return m
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
