package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/matheus3301/wppc/internal/remote"
	"github.com/matheus3301/wppc/internal/status"
	"github.com/matheus3301/wppc/internal/store"
	chatsync "github.com/matheus3301/wppc/internal/sync"
)

// HealthChecker probes the server.
type HealthChecker interface {
	CheckHealth(ctx context.Context) remote.Health
}

// Connection records the phone connection.
type Connection interface {
	State() *chatsync.State
	IngestConnection(connected bool)
}

// AvatarPruner drops stale avatar cache entries.
type AvatarPruner interface {
	PruneAvatars(cutoff time.Time) (int64, error)
}

// Health runs the periodic jobs: a connection check while authenticated and
// a daily avatar cache cleanup.
type Health struct {
	sched    *cron.Cron
	checker  HealthChecker
	machine  *status.Machine
	conn     Connection
	avatars  AvatarPruner
	interval time.Duration
	logger   *zap.Logger
}

// NewHealth creates the scheduler. It does nothing until Start.
func NewHealth(p Params, c *remote.Client, m *status.Machine, engine *chatsync.Engine, db *store.DB, logger *zap.Logger) *Health {
	return newHealth(c, m, engine, db, p.Config.Server.HealthInterval, logger)
}

func newHealth(c HealthChecker, m *status.Machine, conn Connection, avatars AvatarPruner, interval time.Duration, logger *zap.Logger) *Health {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Health{
		sched: cron.New(cron.WithChain(
			cron.Recover(cron.DiscardLogger),
			cron.SkipIfStillRunning(cron.DiscardLogger),
		)),
		checker:  c,
		machine:  m,
		conn:     conn,
		avatars:  avatars,
		interval: interval,
		logger:   logger.Named("health"),
	}
}

// Start schedules the jobs.
func (h *Health) Start() error {
	if _, err := h.sched.AddFunc(fmt.Sprintf("@every %s", h.interval), func() {
		h.Check(context.Background())
	}); err != nil {
		return fmt.Errorf("schedule health check: %w", err)
	}
	if _, err := h.sched.AddFunc("@daily", h.pruneAvatars); err != nil {
		return fmt.Errorf("schedule avatar cleanup: %w", err)
	}
	h.sched.Start()
	return nil
}

// Stop cancels the schedule and waits for running jobs.
func (h *Health) Stop() {
	<-h.sched.Stop().Done()
}

// Check probes the server once and records a change in the phone connection.
// It does nothing unless the session is authenticated.
func (h *Health) Check(ctx context.Context) {
	if h.machine.Current() != status.Authenticated {
		return
	}
	res := h.checker.CheckHealth(ctx)
	if res.Err != nil {
		h.logger.Warn("health check failed", zap.Error(res.Err))
	}
	connected := res.Err == nil && res.Connected
	if connected == h.conn.State().Snapshot().Connected {
		return
	}
	h.conn.IngestConnection(connected)
}

func (h *Health) pruneAvatars() {
	n, err := h.avatars.PruneAvatars(time.Now().Add(-24 * time.Hour))
	if err != nil {
		h.logger.Warn("avatar cleanup failed", zap.Error(err))
		return
	}
	if n > 0 {
		h.logger.Info("stale avatars removed", zap.Int64("count", n))
	}
}
