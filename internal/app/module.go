// Package app wires the client together for one session.
package app

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/wppc/internal/bootstrap"
	"github.com/matheus3301/wppc/internal/bus"
	"github.com/matheus3301/wppc/internal/config"
	"github.com/matheus3301/wppc/internal/lock"
	"github.com/matheus3301/wppc/internal/logging"
	"github.com/matheus3301/wppc/internal/media"
	"github.com/matheus3301/wppc/internal/notify"
	"github.com/matheus3301/wppc/internal/outbox"
	"github.com/matheus3301/wppc/internal/profile"
	"github.com/matheus3301/wppc/internal/remote"
	"github.com/matheus3301/wppc/internal/retry"
	"github.com/matheus3301/wppc/internal/session"
	"github.com/matheus3301/wppc/internal/status"
	"github.com/matheus3301/wppc/internal/store"
	chatsync "github.com/matheus3301/wppc/internal/sync"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	Config      *config.Config
}

// Module returns the fx module for a client session, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	if p.Config == nil {
		p.Config = config.Default()
	}
	return fx.Module("wppc",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideRemote,
			provideNotifier,
			provideRetry,
			provideState,
			provideSyncEngine,
			provideSender,
			provideBootstrapper,
			provideProfile,
			provideDownloader,
			NewHealth,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(logging.Options{
		Path:       session.LogPath(p.SessionName),
		Session:    p.SessionName,
		Level:      p.Config.Log.Level,
		MaxSizeMB:  p.Config.Log.MaxSizeMB,
		MaxBackups: p.Config.Log.MaxBackups,
	})
}

func provideBus(logger *zap.Logger) *bus.Bus {
	return bus.New(bus.WithLogger(logger.Named("bus")))
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired", zap.String("path", l.Path()))
	return l, nil
}

// provideStore depends on the lock so the database is never opened by a
// second process.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideRemote(p Params, b *bus.Bus, logger *zap.Logger) *remote.Client {
	s := p.Config.Server
	return remote.New(remote.Options{
		BaseURL:           s.APIURL,
		SocketURL:         s.SocketURL,
		Timeout:           s.Timeout,
		ListChatsTimeout:  s.ListChatsTimeout,
		HealthTimeout:     s.HealthTimeout,
		RequestsPerSecond: s.RequestsPerSecond,
		Burst:             s.Burst,
	}, b, logger)
}

func provideNotifier(b *bus.Bus, logger *zap.Logger) *notify.Notifier {
	return notify.New(b, logger)
}

func provideRetry(p Params, logger *zap.Logger) *retry.Controller {
	policy := retry.DefaultPolicy
	if p.Config.Retry.Base > 0 {
		policy.Base = p.Config.Retry.Base
	}
	if p.Config.Retry.MaxAttempts > 0 {
		policy.MaxAttempts = p.Config.Retry.MaxAttempts
	}
	return retry.New(policy, remote.IsRetryable, logger)
}

func provideState(b *bus.Bus) *chatsync.State {
	return chatsync.NewState(b)
}

func provideSyncEngine(c *remote.Client, state *chatsync.State, db *store.DB, rc *retry.Controller, n *notify.Notifier, b *bus.Bus, logger *zap.Logger) *chatsync.Engine {
	return chatsync.NewEngine(c, state, db, rc, n, b, logger.Named("sync"))
}

func provideSender(db *store.DB, c *remote.Client, m *status.Machine, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	ready := func() bool { return m.Current() == status.Authenticated }
	return outbox.NewSender(db, c, nil, ready, b, logger.Named("outbox"))
}

func provideBootstrapper(p Params, c *remote.Client, db *store.DB, m *status.Machine, n *notify.Notifier, b *bus.Bus, logger *zap.Logger) *bootstrap.Bootstrapper {
	opts := bootstrap.DefaultOptions()
	opts.Session = p.SessionName
	opts.SecretKey = p.Config.Server.SecretKey
	if a := p.Config.Auth; a.PollInterval > 0 {
		opts.PollInterval = a.PollInterval
	}
	if a := p.Config.Auth; a.MaxPolls > 0 {
		opts.MaxPolls = a.MaxPolls
	}
	if a := p.Config.Auth; a.SettleDelay > 0 {
		opts.SettleDelay = a.SettleDelay
	}
	return bootstrap.New(opts, c, db, m, n, b, logger.Named("bootstrap"))
}

func provideProfile(c *remote.Client, db *store.DB, state *chatsync.State, logger *zap.Logger) *profile.Service {
	return profile.NewService(c, db, state, logger.Named("profile"))
}

func provideDownloader(p Params, c *remote.Client, logger *zap.Logger) *media.Downloader {
	return media.NewDownloader(c, session.MediaDir(p.SessionName), logger.Named("media"))
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, db *store.DB, c *remote.Client, engine *chatsync.Engine, sender *outbox.Sender, boot *bootstrap.Bootstrapper, health *Health, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Show what the cache knows while the session comes up.
			if err := engine.Warm(); err != nil {
				logger.Warn("failed to read cache", zap.Error(err))
			}
			engine.Start(context.Background())
			sender.Start(context.Background())

			boot.OnAuthenticated(engine.LoadInitial)
			boot.Start(context.Background())

			return health.Start()
		},
		OnStop: func(_ context.Context) error {
			health.Stop()
			boot.Stop()
			sender.Stop()
			engine.Stop()
			c.Close()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("client stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
