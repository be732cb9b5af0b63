package store

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/unicom/engagement/internal/engagement"
	"github.com/unicom/engagement/pkg/config"
)

// RetryPolicy bounds the optimistic retry loop.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// PolicyFromConfig reads the retry budget from the store section.
func PolicyFromConfig(cfg *config.StoreConfig) RetryPolicy {
	return RetryPolicy{MaxAttempts: cfg.MaxAttempts, BaseBackoff: cfg.BaseBackoff, MaxBackoff: cfg.MaxBackoff}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 5
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = 10 * time.Millisecond
	}
	if p.MaxBackoff < p.BaseBackoff {
		p.MaxBackoff = 20 * p.BaseBackoff
	}
	return p
}

// backoff returns a jittered exponential delay for the given retry (0-based).
func (p RetryPolicy) backoff(retry int) time.Duration {
	d := p.BaseBackoff << uint(retry)
	if d <= 0 || d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	// Full jitter keeps colliding writers from retrying in lockstep.
	return d/2 + time.Duration(rand.Int64N(int64(d/2)+1))
}

// Runner executes store operations with retry, metrics and error mapping.
type Runner struct {
	policy RetryPolicy
	hooks  Hooks
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRunner builds a runner. Nil hooks and logger are replaced by no-ops.
func NewRunner(policy RetryPolicy, hooks Hooks, logger *zap.Logger) *Runner {
	if hooks == nil {
		hooks = noopHooks{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{policy: policy.withDefaults(), hooks: hooks, logger: logger, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs fn until it succeeds, fails with a non-retryable error, the context
// ends or the attempt budget is spent.
func (r *Runner) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	start := time.Now()
	err := r.do(ctx, op, fn)
	r.hooks.ObserveOperation(op, status(err), time.Since(start))
	return err
}

func (r *Runner) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var last error
	for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			r.hooks.IncRetry(op)
			if err := r.sleep(ctx, r.policy.backoff(attempt-1)); err != nil {
				return engagement.Unavailable(op, err)
			}
		}
		if err := ctx.Err(); err != nil {
			return engagement.Unavailable(op, err)
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if ctxErr == nil {
				ctxErr = err
			}
			return engagement.Unavailable(op, ctxErr)
		}
		if !retryable(err) {
			return domainError(op, err)
		}
		if errors.Is(err, errVersionConflict) {
			r.hooks.IncConflict(op)
		}
		last = err
		r.logger.Debug("Retrying store operation",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	r.logger.Warn("Store retries exhausted",
		zap.String("op", op),
		zap.Int("attempts", r.policy.MaxAttempts),
		zap.Error(last),
	)
	return engagement.Unavailable(op, last)
}

func status(err error) string {
	if err == nil {
		return "success"
	}
	if code := engagement.CodeOf(err); code != "" {
		return string(code)
	}
	return "failure"
}
