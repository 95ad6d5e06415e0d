// Package remote talks to the WhatsApp automation server: REST calls bound
// to one session and token, plus a push channel for live events.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/matheus3301/wppc/internal/bus"
)

// Options configures a Client.
type Options struct {
	BaseURL          string
	SocketURL        string
	Timeout          time.Duration
	ListChatsTimeout time.Duration
	HealthTimeout    time.Duration
	// RequestsPerSecond caps outgoing REST calls. Zero disables the limit.
	RequestsPerSecond float64
	Burst             int
	HTTPClient        *http.Client
}

// DefaultOptions returns the options of a server on this machine.
func DefaultOptions() Options {
	return Options{
		BaseURL:           "http://localhost:21465/api",
		SocketURL:         "http://localhost:21465",
		Timeout:           30 * time.Second,
		ListChatsTimeout:  25 * time.Second,
		HealthTimeout:     5 * time.Second,
		RequestsPerSecond: 10,
		Burst:             20,
	}
}

// Binding is the session name and token every call is made with.
type Binding struct {
	Session string
	Token   string
}

// Bound reports whether both halves are present.
func (b Binding) Bound() bool { return b.Session != "" && b.Token != "" }

// Client is a session-bound client of the automation server.
type Client struct {
	opts    Options
	http    *http.Client
	limiter *rate.Limiter
	bus     *bus.Bus
	logger  *zap.Logger

	mu      sync.RWMutex
	binding Binding
	events  *eventChannel
}

// New creates an unbound Client. Events received on the push channel are
// published on b.
func New(opts Options, b *bus.Bus, logger *zap.Logger) *Client {
	def := DefaultOptions()
	if opts.BaseURL == "" {
		opts.BaseURL = def.BaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.ListChatsTimeout <= 0 {
		opts.ListChatsTimeout = def.ListChatsTimeout
	}
	if opts.HealthTimeout <= 0 {
		opts.HealthTimeout = def.HealthTimeout
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		opts:    opts,
		http:    hc,
		limiter: limiter,
		bus:     b,
		logger:  logger,
	}
}

// Bind switches the client to session and token and reconnects the push
// channel. Calls started after Bind returns use the new pair.
func (c *Client) Bind(session, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopEventsLocked()
	c.binding = Binding{Session: session, Token: token}
	c.startEventsLocked()
	c.logger.Info("session bound", zap.String("session", session))
}

// Unbind forgets the binding and closes the push channel.
func (c *Client) Unbind() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopEventsLocked()
	c.binding = Binding{}
}

// Binding returns the current binding.
func (c *Client) Binding() Binding {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.binding
}

// Close shuts down the push channel. The binding is kept.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopEventsLocked()
}

type request struct {
	op      string
	method  string
	path    string
	body    any
	timeout time.Duration
	// contentType overrides JSON encoding; body must then be an io.Reader.
	contentType string
	binding     *Binding
}

// call performs req and returns the raw response body of a 2xx reply.
func (c *Client) call(ctx context.Context, req request) ([]byte, error) {
	b := c.Binding()
	if req.binding != nil {
		b = *req.binding
	}
	if b.Session == "" {
		return nil, &Error{Op: req.op, Kind: KindFatal, Err: ErrUnbound}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", req.op, err)
	}

	timeout := req.timeout
	if timeout <= 0 {
		timeout = c.opts.Timeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	contentType := req.contentType
	switch v := req.body.(type) {
	case nil:
	case io.Reader:
		body = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%s: encode body: %w", req.op, err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	endpoint := c.opts.BaseURL + "/" + url.PathEscape(b.Session) + req.path
	httpReq, err := http.NewRequestWithContext(reqCtx, req.method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", req.op, err)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	if b.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.Token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, transportError(ctx, req.op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(ctx, req.op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		rerr := httpError(req.op, resp.StatusCode, data)
		c.logger.Debug("request failed",
			zap.String("op", req.op),
			zap.Int("status", resp.StatusCode),
			zap.String("code", rerr.Code),
		)
		return nil, rerr
	}
	return data, nil
}

// callJSON performs req and decodes a 2xx reply into out.
func (c *Client) callJSON(ctx context.Context, req request, out any) error {
	data, err := c.call(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Op: req.op, Kind: KindFatal, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// callEnvelope performs req, decodes the wrapped response and turns a
// server-flagged failure into an Error.
func callEnvelope[T any](ctx context.Context, c *Client, req request) (T, error) {
	var env Envelope[T]
	if err := c.callJSON(ctx, req, &env); err != nil {
		var zero T
		return zero, err
	}
	if !env.Status.OK() {
		return env.Response, serverError(req.op, env.Code, env.message())
	}
	return env.Response, nil
}
