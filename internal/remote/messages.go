package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/matheus3301/wppc/internal/jid"
)

// Sent identifies a message the server accepted.
type Sent struct {
	ID ID
}

// sentFrom extracts the id of the first message in a send reply. The reply
// carries either one message or a list of them.
func sentFrom(raw json.RawMessage) Sent {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Sent{}
	}
	if raw[0] == '[' {
		var msgs []Message
		if json.Unmarshal(raw, &msgs) == nil && len(msgs) > 0 {
			return Sent{ID: msgs[0].ID}
		}
		return Sent{}
	}
	var m Message
	if json.Unmarshal(raw, &m) == nil {
		return Sent{ID: m.ID}
	}
	return Sent{}
}

// SendText sends text to chatID.
func (c *Client) SendText(ctx context.Context, chatID, text string) (Sent, error) {
	raw, err := callEnvelope[json.RawMessage](ctx, c, request{
		op:     "send message",
		method: http.MethodPost,
		path:   "/send-message",
		body: map[string]any{
			"phone":   []string{jid.Clean(chatID)},
			"message": text,
			"isGroup": jid.IsGroup(chatID),
		},
	})
	if err != nil {
		return Sent{}, err
	}
	return sentFrom(raw), nil
}

// SendReply sends text to chatID quoting quotedID.
func (c *Client) SendReply(ctx context.Context, chatID, text, quotedID string) (Sent, error) {
	raw, err := callEnvelope[json.RawMessage](ctx, c, request{
		op:     "send reply",
		method: http.MethodPost,
		path:   "/send-reply",
		body: map[string]any{
			"phone":     []string{jid.Clean(chatID)},
			"message":   text,
			"messageId": quotedID,
			"isGroup":   jid.IsGroup(chatID),
		},
	})
	if err != nil {
		return Sent{}, err
	}
	return sentFrom(raw), nil
}

// File is an attachment ready to send. Data is a base64 data URL.
type File struct {
	Name    string
	Data    string
	Caption string
}

// SendFile sends an attachment to chatID.
func (c *Client) SendFile(ctx context.Context, chatID string, f File) (Sent, error) {
	raw, err := callEnvelope[json.RawMessage](ctx, c, request{
		op:     "send file",
		method: http.MethodPost,
		path:   "/send-file-base64",
		body: map[string]any{
			"phone":    []string{jid.Clean(chatID)},
			"base64":   f.Data,
			"filename": f.Name,
			"caption":  f.Caption,
			"isGroup":  jid.IsGroup(chatID),
		},
	})
	if err != nil {
		return Sent{}, err
	}
	return sentFrom(raw), nil
}

// SendVoice sends a voice note to chatID. data is a base64 data URL of the
// recording; quotedID may be empty.
func (c *Client) SendVoice(ctx context.Context, chatID, data, quotedID string) (Sent, error) {
	body := map[string]any{
		"phone":     []string{jid.Clean(chatID)},
		"base64Ptt": data,
	}
	if quotedID != "" {
		body["quotedMessageId"] = quotedID
	}
	raw, err := callEnvelope[json.RawMessage](ctx, c, request{
		op:     "send voice",
		method: http.MethodPost,
		path:   "/send-voice-base64",
		body:   body,
	})
	if err != nil {
		return Sent{}, err
	}
	return sentFrom(raw), nil
}

// MediaByMessage downloads the attachment of messageID.
func (c *Client) MediaByMessage(ctx context.Context, messageID string) (Media, error) {
	var m Media
	data, err := c.call(ctx, request{
		op:     "get media",
		method: http.MethodGet,
		path:   "/get-media-by-message/" + url.PathEscape(messageID),
	})
	if err != nil {
		return Media{}, err
	}
	// Some server versions wrap the payload, others return it bare.
	var env Envelope[Media]
	if json.Unmarshal(data, &env) == nil && env.Response.Base64 != "" {
		return env.Response, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return Media{}, &Error{Op: "get media", Kind: KindFatal, Err: err}
	}
	if m.Base64 == "" {
		return Media{}, serverError("get media", env.Code, "no media in reply")
	}
	return m, nil
}

// DeleteMessage deletes messageID in chatID for everyone.
func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	_, err := callEnvelope[json.RawMessage](ctx, c, request{
		op:     "delete message",
		method: http.MethodPost,
		path:   "/delete-message",
		body: map[string]any{
			"phone":     jid.Clean(chatID),
			"messageId": messageID,
			"isGroup":   jid.IsGroup(chatID),
		},
	})
	return err
}
