// Package bootstrap takes a session from cold start to authenticated: it
// resumes stored credentials, or requests a token, starts the session and
// polls its state while the user scans the QR code. It also owns the ways a
// session ends.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wppc/internal/bus"
	"github.com/matheus3301/wppc/internal/remote"
	"github.com/matheus3301/wppc/internal/status"
)

var (
	// ErrAuthTimeout is returned when the session is not ready after the
	// maximum number of status polls.
	ErrAuthTimeout = errors.New("authentication timed out")
	// ErrSessionClosed is returned when the server closes the session while
	// waiting for the QR code to be scanned.
	ErrSessionClosed = errors.New("session was closed")
)

// Remote is the part of the remote client the bootstrapper drives.
type Remote interface {
	Binding() remote.Binding
	Bind(session, token string)
	GenerateToken(ctx context.Context, session, secret string) (remote.Token, error)
	StartSession(ctx context.Context, waitQR bool) (remote.SessionStatus, error)
	SessionStatus(ctx context.Context) (remote.SessionStatus, error)
	QRCode(ctx context.Context) ([]byte, error)
	CheckConnection(ctx context.Context) (bool, error)
	CloseSession(ctx context.Context) error
	Logout(ctx context.Context, force bool) error
	DisconnectKeepingCredentials(ctx context.Context) error
}

// Credentials persists the session name and token between runs.
type Credentials interface {
	LoadCredentials() (session, token string, err error)
	SaveCredentials(session, token string) error
	ClearCredentials() error
}

// Notifier surfaces outcomes to the user.
type Notifier interface {
	Info(msg string)
	Success(msg string)
	Warn(msg string)
	Error(msg string)
}

// Options configures the bootstrap flow.
type Options struct {
	// Session is used when no credentials are stored.
	Session   string
	SecretKey string

	PollInterval time.Duration
	MaxPolls     int
	// SettleDelay is waited after the session reports ready, before the
	// first bulk load.
	SettleDelay time.Duration
	// RecheckDelay is waited after a soft close before checking the
	// connection again.
	RecheckDelay time.Duration
	// RestartDelay is waited after a disconnect before a new QR login.
	RestartDelay time.Duration
}

// DefaultOptions returns the stock timings.
func DefaultOptions() Options {
	return Options{
		Session:      "default",
		PollInterval: 3 * time.Second,
		MaxPolls:     60,
		SettleDelay:  time.Second,
		RecheckDelay: 2 * time.Second,
		RestartDelay: time.Second,
	}
}

// QR is the payload of session.qr. Image is a data URL, Code the raw string
// encoded in the QR and PNG the image fetched when the server sent neither.
type QR struct {
	Image string
	Code  string
	PNG   []byte
}

// Bootstrapper runs the login flow and the termination variants.
type Bootstrapper struct {
	opts    Options
	remote  Remote
	creds   Credentials
	machine *status.Machine
	notify  Notifier
	bus     *bus.Bus
	logger  *zap.Logger

	onAuth func(ctx context.Context) error

	qrMu  sync.Mutex
	qr    QR
	qrKey string
	hasQR bool

	mu     sync.Mutex
	base   context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Bootstrapper.
func New(opts Options, r Remote, creds Credentials, m *status.Machine, n Notifier, b *bus.Bus, logger *zap.Logger) *Bootstrapper {
	def := DefaultOptions()
	if opts.Session == "" {
		opts.Session = def.Session
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.MaxPolls <= 0 {
		opts.MaxPolls = def.MaxPolls
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bootstrapper{
		opts:    opts,
		remote:  r,
		creds:   creds,
		machine: m,
		notify:  n,
		bus:     b,
		logger:  logger,
		base:    context.Background(),
	}
}

// OnAuthenticated sets the callback run once each time the session becomes
// authenticated. It runs on the bootstrap goroutine; its error is logged.
func (b *Bootstrapper) OnAuthenticated(fn func(ctx context.Context) error) {
	b.onAuth = fn
}

// Phase returns the current bootstrap phase.
func (b *Bootstrapper) Phase() status.Phase { return b.machine.Current() }

// Reason returns why the flow failed, when it did.
func (b *Bootstrapper) Reason() error { return b.machine.Reason() }

// QR returns the QR code last published, if any.
func (b *Bootstrapper) QR() (QR, bool) {
	b.qrMu.Lock()
	defer b.qrMu.Unlock()
	return b.qr, b.hasQR
}

// Run executes the flow once and returns when the session is authenticated,
// has failed or ctx is done.
func (b *Bootstrapper) Run(ctx context.Context) error {
	b.machine.Reset()
	b.clearQR()

	session, token, err := b.creds.LoadCredentials()
	if err != nil {
		b.logger.Warn("failed to read stored credentials", zap.Error(err))
	}
	if session == "" {
		session = b.opts.Session
	}
	log := b.logger.With(zap.String("session", session))

	if token != "" {
		b.remote.Bind(session, token)
		ok, err := b.remote.CheckConnection(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			log.Warn("connection check failed, requesting a new token", zap.Error(err))
		case ok:
			log.Info("stored session is connected")
			return b.authenticated(ctx)
		default:
			log.Info("stored session is not connected, requesting a new token")
		}
	}
	return b.fresh(ctx, session)
}

// fresh requests a new token, starts the session and waits for it to be
// linked.
func (b *Bootstrapper) fresh(ctx context.Context, session string) error {
	log := b.logger.With(zap.String("session", session))
	if err := b.machine.Transition(status.AwaitingToken); err != nil {
		return err
	}

	tok, err := b.remote.GenerateToken(ctx, session, b.opts.SecretKey)
	if err != nil {
		return b.fail(ctx, fmt.Errorf("generate token: %w", err), "Could not start session")
	}
	if err := b.creds.SaveCredentials(session, tok.Token); err != nil {
		log.Error("failed to store credentials", zap.Error(err))
	}
	b.remote.Bind(session, tok.Token)

	st, err := b.remote.StartSession(ctx, true)
	if err != nil {
		return b.fail(ctx, fmt.Errorf("start session: %w", err), "Could not start session")
	}
	log.Info("session started", zap.String("state", string(st.Status)))

	if st.Status.Authenticated() {
		return b.authenticated(ctx)
	}
	if needsQR(st) {
		if err := b.machine.Transition(status.AwaitingQR); err != nil {
			return err
		}
		if st.QRCode != "" || st.URLCode != "" {
			b.publishQR(st)
		} else {
			b.fetchQR(ctx)
		}
	}
	return b.poll(ctx)
}

func needsQR(st remote.SessionStatus) bool {
	switch st.Status {
	case remote.StateAuthenticating, remote.StateInitializing, remote.StateQRCode:
		return true
	}
	return st.QRCode != "" || st.URLCode != ""
}

// poll queries the session state every PollInterval until it is linked,
// closed, or MaxPolls requests were made. Failed requests count as polls.
func (b *Bootstrapper) poll(ctx context.Context) error {
	if err := b.machine.Transition(status.Polling); err != nil {
		return err
	}
	ticker := time.NewTicker(b.opts.PollInterval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		st, err := b.remote.SessionStatus(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			b.logger.Warn("status check failed", zap.Int("attempt", attempt), zap.Error(err))
		default:
			b.publishQR(st)
			if st.Status.Authenticated() {
				ticker.Stop()
				b.logger.Info("session linked", zap.Int("attempt", attempt))
				return b.authenticated(ctx)
			}
			if st.Status == remote.StateClosed {
				return b.fail(ctx, ErrSessionClosed, "Session was closed. Try again.")
			}
		}

		if attempt >= b.opts.MaxPolls {
			return b.fail(ctx, ErrAuthTimeout, "Authentication timed out. Try again.")
		}
	}
}

// authenticated waits for the server to settle, enters Authenticated and
// runs the callback once.
func (b *Bootstrapper) authenticated(ctx context.Context) error {
	if err := sleepContext(ctx, b.opts.SettleDelay); err != nil {
		return err
	}
	if err := b.machine.Transition(status.Authenticated); err != nil {
		return err
	}
	b.clearQR()
	if b.onAuth != nil {
		if err := b.onAuth(ctx); err != nil {
			b.logger.Error("post-login load failed", zap.Error(err))
		}
	}
	return nil
}

func (b *Bootstrapper) fail(ctx context.Context, err error, msg string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	b.logger.Error("authentication failed", zap.Error(err))
	if terr := b.machine.Fail(err); terr != nil {
		b.logger.Warn("phase transition rejected", zap.Error(terr), zap.String("phase", string(b.machine.Current())))
	}
	b.notify.Error(msg)
	return err
}

// publishQR announces the QR carried by st unless it is the one already
// shown.
func (b *Bootstrapper) publishQR(st remote.SessionStatus) {
	if st.QRCode == "" && st.URLCode == "" {
		return
	}
	key := st.QRCode + "\x00" + st.URLCode
	b.qrMu.Lock()
	if b.hasQR && b.qrKey == key {
		b.qrMu.Unlock()
		return
	}
	qr := QR{Image: st.QRCode, Code: st.URLCode}
	b.qr, b.qrKey, b.hasQR = qr, key, true
	b.qrMu.Unlock()
	b.bus.Emit(bus.KindQRCode, qr)
}

func (b *Bootstrapper) fetchQR(ctx context.Context) {
	png, err := b.remote.QRCode(ctx)
	if err != nil {
		b.logger.Warn("failed to fetch QR code", zap.Error(err))
		return
	}
	qr := QR{PNG: png}
	b.qrMu.Lock()
	b.qr, b.qrKey, b.hasQR = qr, "", true
	b.qrMu.Unlock()
	b.bus.Emit(bus.KindQRCode, qr)
}

func (b *Bootstrapper) clearQR() {
	b.qrMu.Lock()
	b.qr, b.qrKey, b.hasQR = QR{}, "", false
	b.qrMu.Unlock()
}

// Start runs the flow in the background. The run is cancelled when ctx is
// done or Stop is called.
func (b *Bootstrapper) Start(ctx context.Context) {
	b.mu.Lock()
	b.base = ctx
	b.mu.Unlock()
	b.launch(0, b.Run)
}

// Login starts the flow again, typically after a failure or a logout.
func (b *Bootstrapper) Login() {
	b.launch(0, b.Run)
}

// Stop cancels a running flow and waits for it to return.
func (b *Bootstrapper) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopLocked()
}

func (b *Bootstrapper) stopLocked() {
	if b.cancel == nil {
		return
	}
	b.cancel()
	<-b.done
	b.cancel, b.done = nil, nil
}

// launch replaces any running flow with run, started after delay.
func (b *Bootstrapper) launch(delay time.Duration, run func(context.Context) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopLocked()

	ctx, cancel := context.WithCancel(b.base)
	done := make(chan struct{})
	b.cancel, b.done = cancel, done
	go func() {
		defer close(done)
		if err := sleepContext(ctx, delay); err != nil {
			return
		}
		if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			b.logger.Warn("bootstrap ended", zap.Error(err))
		}
	}()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
