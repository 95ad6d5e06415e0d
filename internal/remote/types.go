package remote

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/matheus3301/wppc/internal/jid"
)

// Status is the status field of a server response. The server sends it
// either as a string ("success", "error") or as a bool.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

func (s *Status) UnmarshalJSON(data []byte) error {
	switch string(bytes.TrimSpace(data)) {
	case "true":
		*s = StatusSuccess
		return nil
	case "false":
		*s = StatusError
		return nil
	case "null":
		*s = ""
		return nil
	}
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = Status(v)
	return nil
}

// OK reports whether the server did not flag the response as an error.
func (s Status) OK() bool { return s != StatusError }

// Envelope is the common response wrapper.
type Envelope[T any] struct {
	Status   Status `json:"status"`
	Response T      `json:"response"`
	Message  string `json:"message,omitempty"`
	Code     string `json:"code,omitempty"`
	Error    string `json:"error,omitempty"`
}

// message returns the failure text, which older servers put in error.
func (e Envelope[T]) message() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

// ID is a message identifier. The server sends either a plain string or an
// object carrying _serialized.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	*id = ""
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if data[0] == '{' {
		var w jid.Wire
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		*id = ID(w.String())
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*id = ID(s)
	return nil
}

// SessionState is the server-side state of a session.
type SessionState string

const (
	StateInitializing   SessionState = "INITIALIZING"
	StateAuthenticating SessionState = "AUTHENTICATING"
	StateReady          SessionState = "READY"
	StateClosed         SessionState = "CLOSED"
	StateConnected      SessionState = "CONNECTED"
	StateQRCode         SessionState = "QRCODE"
)

// Authenticated reports whether the state means the phone is linked.
func (s SessionState) Authenticated() bool {
	return s == StateReady || s == StateConnected
}

// SessionStatus is returned by start-session and status-session.
type SessionStatus struct {
	Status  SessionState `json:"status"`
	QRCode  string       `json:"qrcode,omitempty"`
	URLCode string       `json:"urlcode,omitempty"`
	Version string       `json:"version,omitempty"`
}

// Token is returned by generate-token.
type Token struct {
	Status  Status `json:"status"`
	Session string `json:"session"`
	Token   string `json:"token"`
	Full    string `json:"full"`
}

// Contact is a contact record.
type Contact struct {
	ID            jid.Wire `json:"id"`
	Name          string   `json:"name,omitempty"`
	ShortName     string   `json:"shortName,omitempty"`
	PushName      string   `json:"pushname,omitempty"`
	FormattedName string   `json:"formattedName,omitempty"`
	VerifiedName  string   `json:"verifiedName,omitempty"`
	IsMe          bool     `json:"isMe,omitempty"`
	IsMyContact   bool     `json:"isMyContact,omitempty"`
	IsGroup       bool     `json:"isGroup,omitempty"`
	IsBlocked     bool     `json:"isBlocked,omitempty"`
}

// DisplayName picks the best human-readable name for c, falling back to its
// number.
func (c Contact) DisplayName() string {
	for _, name := range []string{c.FormattedName, c.Name, c.PushName, c.ShortName} {
		if name != "" {
			return name
		}
	}
	return c.ID.User
}

// Message is a message as the server sends it.
type Message struct {
	ID          ID              `json:"id"`
	Body        string          `json:"body"`
	Caption     string          `json:"caption,omitempty"`
	Type        string          `json:"type"`
	FromMe      bool            `json:"fromMe"`
	ChatID      json.RawMessage `json:"chatId,omitempty"`
	From        string          `json:"from,omitempty"`
	To          string          `json:"to,omitempty"`
	Author      string          `json:"author,omitempty"`
	SenderName  string          `json:"senderName,omitempty"`
	Sender      *Contact        `json:"sender,omitempty"`
	T           int64           `json:"t,omitempty"`
	Timestamp   int64           `json:"timestamp,omitempty"`
	Ack         int             `json:"ack,omitempty"`
	IsGroupMsg  bool            `json:"isGroupMsg,omitempty"`
	IsForwarded bool            `json:"isForwarded,omitempty"`
	Filename    string          `json:"filename,omitempty"`
	Mimetype    string          `json:"mimetype,omitempty"`
	Size        int64           `json:"size,omitempty"`
	QuotedMsg   *Message        `json:"quotedMsg,omitempty"`
}

// Time returns the message's send time, preferring t over timestamp.
func (m Message) Time() time.Time {
	sec := m.T
	if sec == 0 {
		sec = m.Timestamp
	}
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

// HasMedia reports whether the message carries downloadable media.
func (m Message) HasMedia() bool {
	switch m.Type {
	case "image", "video", "audio", "ptt", "document", "sticker":
		return true
	}
	return false
}

// Chat is a conversation as returned by list-chats. Depending on the server
// version some flags arrive under short names (t, archive, pin).
type Chat struct {
	ID          json.RawMessage `json:"id"`
	Name        string          `json:"name,omitempty"`
	IsGroup     bool            `json:"isGroup"`
	IsReadOnly  bool            `json:"isReadOnly,omitempty"`
	UnreadCount int             `json:"unreadCount"`
	T           int64           `json:"t,omitempty"`
	Timestamp   int64           `json:"timestamp,omitempty"`
	Archive     bool            `json:"archive,omitempty"`
	Archived    bool            `json:"archived,omitempty"`
	Pin         int64           `json:"pin,omitempty"`
	Pinned      bool            `json:"pinned,omitempty"`
	IsMuted     bool            `json:"isMuted,omitempty"`
	Contact     *Contact        `json:"contact,omitempty"`
	Msgs        []Message       `json:"msgs,omitempty"`
	LastMessage *Message        `json:"lastMessage,omitempty"`
}

// IsArchived reports whether the chat is archived.
func (c Chat) IsArchived() bool { return c.Archive || c.Archived }

// IsPinned reports whether the chat is pinned.
func (c Chat) IsPinned() bool { return c.Pinned || c.Pin > 0 }

// Time returns the chat's last activity time.
func (c Chat) Time() time.Time {
	sec := c.Timestamp
	if sec == 0 {
		sec = c.T
	}
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

// MessagePage is the result of fetching a chat's messages. NotFound is set
// when the server does not know the chat; Messages is then empty.
type MessagePage struct {
	Messages []Message
	NotFound bool
}

// Media is a downloaded attachment.
type Media struct {
	Base64   string `json:"base64"`
	Mimetype string `json:"mimetype"`
}

// Ack is a delivery receipt pushed by the server.
type Ack struct {
	ID     ID              `json:"id"`
	Ack    int             `json:"ack"`
	ChatID json.RawMessage `json:"chatId,omitempty"`
	From   string          `json:"from,omitempty"`
	To     string          `json:"to,omitempty"`
	FromMe bool            `json:"fromMe,omitempty"`
}

// Health is the result of a bounded connection check.
type Health struct {
	Connected     bool
	SessionExists bool
	Err           error
}
