// Package maintenance runs the background retention jobs. Token validity is
// always decided lazily at read time; these jobs are storage hygiene only
// and never change what a request would observe.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/danproc/qrverify/internal/middleware"
	"github.com/danproc/qrverify/internal/models"
	"github.com/danproc/qrverify/pkg/logger"
)

const (
	defaultTokenRetention = 90 * 24 * time.Hour
	defaultTokenSpec      = "@daily"
	defaultLimiterSpec    = "@hourly"
)

// Cleaner prunes dead verification tokens past their retention window and
// expired rate limiter buckets.
type Cleaner struct {
	db        *gorm.DB
	limiter   *middleware.RateLimiter
	cron      *cron.Cron
	now       func() time.Time
	log       *zap.Logger
	retention time.Duration

	tokenSchedule   string
	limiterSchedule string
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

// WithNow overrides the clock used for retention comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithTokenRetention adjusts how long dead token rows are kept for audit.
func WithTokenRetention(d time.Duration) Option {
	return func(cleaner *Cleaner) {
		if d > 0 {
			cleaner.retention = d
		}
	}
}

// WithTokenSchedule overrides the cron specification for token pruning.
func WithTokenSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.tokenSchedule = spec
		}
	}
}

// WithRateLimiter registers a limiter whose stale buckets should be pruned.
func WithRateLimiter(limiter *middleware.RateLimiter) Option {
	return func(cleaner *Cleaner) {
		cleaner.limiter = limiter
	}
}

// NewCleaner constructs a Cleaner with sensible defaults.
func NewCleaner(db *gorm.DB, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		db:              db,
		now:             time.Now,
		retention:       defaultTokenRetention,
		tokenSchedule:   defaultTokenSpec,
		limiterSchedule: defaultLimiterSpec,
		log:             logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

// Start registers the cleanup jobs and launches the scheduler.
func (c *Cleaner) Start() error {
	if c.db != nil {
		if _, err := c.cron.AddFunc(c.tokenSchedule, func() {
			if _, err := CleanupTokens(context.Background(), c.db, c.now().Add(-c.retention)); err != nil {
				c.log.Warn("token retention cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if c.limiter != nil {
		if _, err := c.cron.AddFunc(c.limiterSchedule, c.limiter.Prune); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured cleanup routines sequentially. Used in
// tests and during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.db != nil {
		if _, err := CleanupTokens(ctx, c.db, c.now().Add(-c.retention)); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.limiter != nil {
		c.limiter.Prune()
	}

	return errs
}

// CleanupTokens removes verification token rows that can no longer be
// consumed and were issued before the cutoff. Live tokens are never touched
// regardless of age.
func CleanupTokens(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	if db == nil {
		return 0, errors.New("cleanup tokens: db is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result := db.WithContext(ctx).
		Where("issued_at < ?", cutoff).
		Where("consumed_at IS NOT NULL OR superseded_at IS NOT NULL OR expires_at < ?", cutoff).
		Delete(&models.VerificationToken{})
	if result.Error != nil {
		return 0, fmt.Errorf("cleanup tokens: %w", result.Error)
	}

	return result.RowsAffected, nil
}
