package store

// Chat is a cached chat list entry.
type Chat struct {
	ID                 string
	Name               string
	IsGroup            bool
	UnreadCount        int
	LastMessageAt      int64
	LastMessagePreview string
}

// Contact is a cached contact.
type Contact struct {
	ID            string
	Name          string
	PushName      string
	ShortName     string
	FormattedName string
	IsMe          bool
	IsMyContact   bool
}

// Message is a cached message.
type Message struct {
	ID          int64
	ChatID      string
	MsgID       string
	SenderID    string
	SenderName  string
	Body        string
	MessageType string
	FromMe      bool
	Ack         int
	QuotedMsgID string
	Timestamp   int64
}

// OutboxEntry represents a pending outgoing message.
type OutboxEntry struct {
	ID           int64
	ClientMsgID  string
	ChatID       string
	Body         string
	QuotedMsgID  string
	Status       string // queued, sending, sent, failed
	ErrorMessage string
	ServerMsgID  string
	CreatedAt    int64
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message
	Snippet string
}
