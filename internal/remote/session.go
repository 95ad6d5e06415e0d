package remote

import (
	"context"
	"net/http"
	"net/url"

	"go.uber.org/zap"
)

// GenerateToken asks the server for a token for session, authorised by the
// server's secret key. It does not bind the client.
func (c *Client) GenerateToken(ctx context.Context, session, secret string) (Token, error) {
	var tok Token
	err := c.callJSON(ctx, request{
		op:      "generate token",
		method:  http.MethodPost,
		path:    "/" + url.PathEscape(secret) + "/generate-token",
		binding: &Binding{Session: session},
	}, &tok)
	if err != nil {
		return Token{}, err
	}
	if tok.Token == "" {
		return Token{}, serverError("generate token", "", "server returned an empty token")
	}
	return tok, nil
}

// StartSession starts the bound session. With waitQR the server holds the
// reply until a QR code is available.
func (c *Client) StartSession(ctx context.Context, waitQR bool) (SessionStatus, error) {
	var st SessionStatus
	err := c.callJSON(ctx, request{
		op:     "start session",
		method: http.MethodPost,
		path:   "/start-session",
		body:   map[string]any{"waitQrCode": waitQR},
	}, &st)
	return st, err
}

// SessionStatus returns the bound session's server-side state.
func (c *Client) SessionStatus(ctx context.Context) (SessionStatus, error) {
	var st SessionStatus
	err := c.callJSON(ctx, request{
		op:     "session status",
		method: http.MethodGet,
		path:   "/status-session",
	}, &st)
	return st, err
}

// QRCode fetches the current QR code as a PNG image.
func (c *Client) QRCode(ctx context.Context) ([]byte, error) {
	return c.call(ctx, request{
		op:     "qr code",
		method: http.MethodGet,
		path:   "/qrcode-session",
	})
}

type connectionCheck struct {
	Status   Status `json:"status"`
	Message  string `json:"message"`
	Response struct {
		Status bool `json:"status"`
	} `json:"response"`
}

// CheckConnection reports whether the bound session is linked and usable.
func (c *Client) CheckConnection(ctx context.Context) (bool, error) {
	var cc connectionCheck
	err := c.callJSON(ctx, request{
		op:     "check connection",
		method: http.MethodGet,
		path:   "/check-connection-session",
	}, &cc)
	if err != nil {
		return false, err
	}
	return cc.Response.Status, nil
}

// CheckHealth runs CheckConnection under the health timeout and never fails;
// problems are reported in the result.
func (c *Client) CheckHealth(ctx context.Context) Health {
	ctx, cancel := context.WithTimeout(ctx, c.opts.HealthTimeout)
	defer cancel()
	ok, err := c.CheckConnection(ctx)
	if err != nil {
		return Health{Err: err}
	}
	return Health{Connected: ok, SessionExists: true}
}

// CloseSession closes the bound session on the server. Credentials stay
// valid so the session can be resumed.
func (c *Client) CloseSession(ctx context.Context) error {
	_, err := callEnvelope[any](ctx, c, request{
		op:     "close session",
		method: http.MethodPost,
		path:   "/close-session",
	})
	return err
}

// LogoutSession unlinks the phone from the bound session.
func (c *Client) LogoutSession(ctx context.Context) error {
	_, err := callEnvelope[any](ctx, c, request{
		op:     "logout session",
		method: http.MethodPost,
		path:   "/logout-session",
	})
	return err
}

// Logout unlinks the session and unbinds the client. Without force a server
// failure is returned and the binding kept, unless the server could not be
// reached at all. With force the binding is always dropped and the server is
// not contacted.
func (c *Client) Logout(ctx context.Context, force bool) error {
	if c.Binding().Session == "" {
		c.Unbind()
		return nil
	}
	if !force {
		if err := c.LogoutSession(ctx); err != nil {
			if !IsNetwork(err) {
				return err
			}
			c.logger.Warn("logout could not reach server, clearing anyway", zap.Error(err))
		}
	}
	c.Unbind()
	return nil
}

// DisconnectKeepingCredentials unlinks the phone and closes the push channel
// but keeps the binding, so a new QR login can reuse the same token.
func (c *Client) DisconnectKeepingCredentials(ctx context.Context) error {
	if c.Binding().Session != "" {
		if err := c.LogoutSession(ctx); err != nil {
			return err
		}
	}
	c.Close()
	return nil
}
