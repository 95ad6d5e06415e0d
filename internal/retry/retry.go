// Package retry re-runs bulk fetches that fail transiently, waiting a little
// longer before each new attempt.
package retry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Policy controls how many times an operation runs and how long to wait
// between runs. The wait before attempt n+1 is Base*(n+1).
type Policy struct {
	Base        time.Duration
	MaxAttempts int
	// RetryEmpty retries once when the first attempt succeeds with no items.
	RetryEmpty bool
}

// DefaultPolicy is used for the initial chat and contact loads.
var DefaultPolicy = Policy{
	Base:        3 * time.Second,
	MaxAttempts: 3,
	RetryEmpty:  true,
}

// ExhaustedError is returned when every allowed attempt failed.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Controller runs operations under a Policy.
type Controller struct {
	policy    Policy
	retryable func(error) bool
	logger    *zap.Logger

	// sleep waits d or until ctx is done. Tests swap it out.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Controller. retryable decides whether an error is worth
// another attempt; errors it rejects are returned immediately.
func New(policy Policy, retryable func(error) bool, logger *zap.Logger) *Controller {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if retryable == nil {
		retryable = func(error) bool { return false }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		policy:    policy,
		retryable: retryable,
		logger:    logger,
		sleep:     sleepContext,
	}
}

// Policy returns the controller's policy.
func (c *Controller) Policy() Policy { return c.policy }

// Delay returns the wait before the attempt following attempt (zero-based).
func (c *Controller) Delay(attempt int) time.Duration {
	return c.policy.Base * time.Duration(attempt+1)
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// policy runs out of attempts.
func (c *Controller) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	_, _, err := collect(ctx, c, op, false, func(ctx context.Context) ([]struct{}, error) {
		return nil, fn(ctx)
	})
	return err
}

// Collect runs a list-producing fn under c's policy and reports how many
// attempts were made. An empty first result is retried once when the policy
// asks for it; the retry's result is accepted whatever its length.
func Collect[T any](ctx context.Context, c *Controller, op string, fn func(context.Context) ([]T, error)) ([]T, int, error) {
	return collect(ctx, c, op, c.policy.RetryEmpty, fn)
}

func collect[T any](ctx context.Context, c *Controller, op string, retryEmpty bool, fn func(context.Context) ([]T, error)) ([]T, int, error) {
	var lastErr error
	for attempt := 0; attempt < c.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.Delay(attempt - 1)
			c.logger.Info("retrying",
				zap.String("op", op),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
			)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, attempt, err
			}
		}

		items, err := fn(ctx)
		if err == nil {
			if attempt == 0 && len(items) == 0 && retryEmpty && c.policy.MaxAttempts > 1 {
				c.logger.Warn("empty result, retrying once", zap.String("op", op))
				continue
			}
			return items, attempt + 1, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return nil, attempt + 1, ctx.Err()
		}
		if !c.retryable(err) {
			return nil, attempt + 1, err
		}
		c.logger.Warn("attempt failed",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return nil, c.policy.MaxAttempts, &ExhaustedError{Op: op, Attempts: c.policy.MaxAttempts, Err: lastErr}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
