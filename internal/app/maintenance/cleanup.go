package maintenance

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/accounts/pkg/logger"
	"github.com/charlesng35/accounts/pkg/metrics"
)

const (
	defaultSessionSchedule  = "@hourly"
	defaultCacheSchedule    = "@every 15m"
	defaultSessionRetention = 30 * 24 * time.Hour

	jobSessions = "sessions"
	jobCache    = "cache"
)

// SessionPurger deletes sessions that expired more than retention ago.
type SessionPurger interface {
	PurgeExpired(ctx context.Context, retention time.Duration) (int64, error)
}

// CachePurger deletes expired cache entries.
type CachePurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Cleaner coordinates background maintenance tasks: purging long-expired
// sessions and expired cache entries.
type Cleaner struct {
	sessions SessionPurger
	cache    CachePurger
	cron     *cron.Cron
	log      *zap.Logger
	timeout  time.Duration

	retention       time.Duration
	sessionSchedule string
	cacheSchedule   string
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

// WithSessionRetention keeps expired sessions for d before purging them.
func WithSessionRetention(d time.Duration) Option {
	return func(cleaner *Cleaner) {
		if d > 0 {
			cleaner.retention = d
		}
	}
}

// WithSessionSchedule overrides the cron schedule for session cleanup.
func WithSessionSchedule(schedule string) Option {
	return func(cleaner *Cleaner) {
		if schedule != "" {
			cleaner.sessionSchedule = schedule
		}
	}
}

// WithCacheSchedule overrides the cron schedule for cache cleanup.
func WithCacheSchedule(schedule string) Option {
	return func(cleaner *Cleaner) {
		if schedule != "" {
			cleaner.cacheSchedule = schedule
		}
	}
}

// WithJobTimeout bounds each scheduled run.
func WithJobTimeout(d time.Duration) Option {
	return func(cleaner *Cleaner) {
		if d > 0 {
			cleaner.timeout = d
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. A nil purger skips
// the corresponding job.
func NewCleaner(sessions SessionPurger, cache CachePurger, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		sessions:        sessions,
		cache:           cache,
		retention:       defaultSessionRetention,
		sessionSchedule: defaultSessionSchedule,
		cacheSchedule:   defaultCacheSchedule,
		timeout:         time.Minute,
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

// Start registers cleanup jobs with the cron scheduler and launches it if at least one cleanup is enabled.
func (c *Cleaner) Start() error {
	if c.sessions == nil && c.cache == nil {
		return nil
	}

	if c.sessions != nil {
		if _, err := c.cron.AddFunc(c.sessionSchedule, c.scheduled(jobSessions, c.purgeSessions)); err != nil {
			return err
		}
	}

	if c.cache != nil {
		if _, err := c.cron.AddFunc(c.cacheSchedule, c.scheduled(jobCache, c.purgeCache)); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler. The returned context is done once
// running jobs complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured cleanup routines sequentially. Used during
// graceful shutdown and in tests.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	if c.sessions != nil {
		errs = multierr.Append(errs, c.run(ctx, jobSessions, c.purgeSessions))
	}
	if c.cache != nil {
		errs = multierr.Append(errs, c.run(ctx, jobCache, c.purgeCache))
	}
	return errs
}

func (c *Cleaner) scheduled(job string, fn func(context.Context) (int64, error)) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		_ = c.run(ctx, job, fn)
	}
}

func (c *Cleaner) run(ctx context.Context, job string, fn func(context.Context) (int64, error)) error {
	purged, err := fn(ctx)
	if err != nil {
		metrics.MaintenanceRuns.WithLabelValues(job, "failure").Inc()
		c.log.Warn("maintenance job failed", zap.String("job", job), zap.Error(err))
		return err
	}

	metrics.MaintenanceRuns.WithLabelValues(job, "success").Inc()
	if purged > 0 {
		c.log.Info("maintenance job purged records", zap.String("job", job), zap.Int64("purged", purged))
	}
	return nil
}

func (c *Cleaner) purgeSessions(ctx context.Context) (int64, error) {
	if c.sessions == nil {
		return 0, errors.New("maintenance: session purger is nil")
	}
	return c.sessions.PurgeExpired(ctx, c.retention)
}

func (c *Cleaner) purgeCache(ctx context.Context) (int64, error) {
	if c.cache == nil {
		return 0, errors.New("maintenance: cache purger is nil")
	}
	return c.cache.PurgeExpired(ctx)
}
