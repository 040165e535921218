package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/accessd/pkg/logger"
	"github.com/charlesng35/accessd/pkg/metrics"
)

const (
	defaultResetSpec     = "@every 15m"
	defaultRateLimitSpec = "@every 5m"
	defaultRunTimeout    = time.Minute
)

// Sweeper removes stale records and reports how many were dropped.
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// Cleaner coordinates background maintenance: purging expired or consumed password
// reset tokens and dropping closed rate limit windows.
type Cleaner struct {
	resets  Sweeper
	limits  Sweeper
	cron    *cron.Cron
	log     *zap.Logger
	timeout time.Duration

	resetSchedule     string
	rateLimitSchedule string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithResetSchedule overrides the cron expression for reset token sweeps.
func WithResetSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.resetSchedule = spec
		}
	}
}

// WithRateLimitSchedule overrides the cron expression for rate limit sweeps.
func WithRateLimitSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.rateLimitSchedule = spec
		}
	}
}

// WithRunTimeout bounds a single scheduled sweep.
func WithRunTimeout(d time.Duration) Option {
	return func(cleaner *Cleaner) {
		if d > 0 {
			cleaner.timeout = d
		}
	}
}

// NewCleaner constructs a Cleaner. A nil sweeper skips the corresponding job.
func NewCleaner(resets, limits Sweeper, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		resets:            resets,
		limits:            limits,
		timeout:           defaultRunTimeout,
		resetSchedule:     defaultResetSpec,
		rateLimitSchedule: defaultRateLimitSpec,
		log:               logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

// Start registers the sweep jobs and launches the scheduler if at least one is enabled.
func (c *Cleaner) Start() error {
	if c.resets == nil && c.limits == nil {
		return nil
	}

	if c.resets != nil {
		if _, err := c.cron.AddFunc(c.resetSchedule, c.job("reset_tokens", c.resets)); err != nil {
			return fmt.Errorf("maintenance: schedule reset sweep %q: %w", c.resetSchedule, err)
		}
	}
	if c.limits != nil {
		if _, err := c.cron.AddFunc(c.rateLimitSchedule, c.job("rate_limits", c.limits)); err != nil {
			return fmt.Errorf("maintenance: schedule rate limit sweep %q: %w", c.rateLimitSchedule, err)
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler. The returned context is done once running jobs finish.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes every configured sweep sequentially and aggregates their failures.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	if c.resets != nil {
		if _, err := c.resets.Sweep(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("reset tokens: %w", err))
		}
	}
	if c.limits != nil {
		if _, err := c.limits.Sweep(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("rate limits: %w", err))
		}
	}
	return errs
}

func (c *Cleaner) job(name string, sweeper Sweeper) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		removed, err := sweeper.Sweep(ctx)
		if err != nil {
			metrics.MaintenanceRuns.WithLabelValues(name, "failure").Inc()
			c.log.Warn("sweep failed", zap.String("job", name), zap.Error(err))
			return
		}
		metrics.MaintenanceRuns.WithLabelValues(name, "success").Inc()
		if removed > 0 {
			c.log.Info("sweep completed", zap.String("job", name), zap.Int64("removed", removed))
		}
	}
}
