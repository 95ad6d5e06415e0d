package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/matheus3301/wppc/internal/jid"
)

// ListChatsCount is how many chats one bulk load asks for.
const ListChatsCount = 100

// Chats lists the bound session's chats.
func (c *Client) Chats(ctx context.Context) ([]Chat, error) {
	const op = "list chats"
	data, err := c.call(ctx, request{
		op:      op,
		method:  http.MethodPost,
		path:    "/list-chats",
		body:    map[string]any{"count": ListChatsCount, "onlyWithUnreadMessage": false},
		timeout: c.opts.ListChatsTimeout,
	})
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	// list-chats replies with a bare array; failures come wrapped.
	if data[0] == '[' {
		var chats []Chat
		if err := json.Unmarshal(data, &chats); err != nil {
			return nil, &Error{Op: op, Kind: KindFatal, Err: err}
		}
		return chats, nil
	}
	var env Envelope[[]Chat]
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &Error{Op: op, Kind: KindFatal, Err: err}
	}
	if !env.Status.OK() {
		return nil, loadError(op, env.Code, env.message())
	}
	return env.Response, nil
}

// Contacts lists every contact known to the bound session.
func (c *Client) Contacts(ctx context.Context) ([]Contact, error) {
	const op = "list contacts"
	var env Envelope[[]Contact]
	if err := c.callJSON(ctx, request{
		op:     op,
		method: http.MethodGet,
		path:   "/all-contacts",
	}, &env); err != nil {
		return nil, err
	}
	if !env.Status.OK() {
		return nil, loadError(op, env.Code, env.message())
	}
	return env.Response, nil
}

// Messages fetches the recent messages of chatID. An unknown chat is not an
// error: the page comes back empty with NotFound set.
func (c *Client) Messages(ctx context.Context, chatID string) (MessagePage, error) {
	var env Envelope[[]Message]
	err := c.callJSON(ctx, request{
		op:     "get messages",
		method: http.MethodGet,
		path:   "/get-messages/" + url.PathEscape(jid.Clean(chatID)),
	}, &env)
	if IsNotFound(err) {
		return MessagePage{NotFound: true}, nil
	}
	if err != nil {
		return MessagePage{}, err
	}
	if !env.Status.OK() {
		// The server answers 200 with an error status for chats it cannot open.
		return MessagePage{NotFound: true}, nil
	}
	return MessagePage{Messages: env.Response}, nil
}

// EarlierMessages loads messages older than those already fetched for chatID.
func (c *Client) EarlierMessages(ctx context.Context, chatID string, isGroup bool) ([]Message, error) {
	return callEnvelope[[]Message](ctx, c, request{
		op:     "load earlier messages",
		method: http.MethodGet,
		path:   "/load-earlier-messages/" + url.PathEscape(jid.Clean(chatID)) + "?isGroup=" + strconv.FormatBool(isGroup),
	})
}

// SendSeen marks chatID as read.
func (c *Client) SendSeen(ctx context.Context, chatID string) error {
	_, err := callEnvelope[json.RawMessage](ctx, c, request{
		op:     "send seen",
		method: http.MethodPost,
		path:   "/send-seen",
		body:   map[string]any{"phone": jid.Clean(chatID)},
	})
	return err
}

// SetTyping shows or hides the typing indicator in chatID.
func (c *Client) SetTyping(ctx context.Context, chatID string, typing bool) error {
	_, err := callEnvelope[json.RawMessage](ctx, c, request{
		op:     "set typing",
		method: http.MethodPost,
		path:   "/typing",
		body:   map[string]any{"phone": jid.Clean(chatID), "isTyping": typing},
	})
	return err
}
