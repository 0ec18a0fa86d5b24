package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/lifelink/lifelink/internal/auditctx"
	"github.com/lifelink/lifelink/pkg/logger"
)

const (
	defaultAuditRetentionDays = 365
	defaultSweepSpec          = "@every 5m"
	defaultAuditSpec          = "@daily"
	defaultCacheSpec          = "@hourly"
)

// Job names recorded as the audit actor for maintenance work.
const (
	JobExpirySweep    = "expiry-sweep"
	JobAuditRetention = "audit-retention"
	JobCachePurge     = "cache-purge"
	JobMaintenance    = "maintenance"
)

// RequisitionSweeper flips requisitions past their expiry to EXPIRED.
type RequisitionSweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// AuditPruner removes audit records older than a retention window.
type AuditPruner interface {
	CleanupOlderThan(ctx context.Context, retentionDays int) (int64, error)
}

// CachePurger removes expired cache rows. Only the SQL cache needs it; Redis expires keys itself.
type CachePurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Cleaner coordinates background maintenance: the requisition expiry sweep, audit retention
// and expired cache cleanup.
type Cleaner struct {
	sweeper   RequisitionSweeper
	audit     AuditPruner
	cache     CachePurger
	cron      *cron.Cron
	log       *zap.Logger
	retention int

	sweepSchedule string
	auditSchedule string
	cacheSchedule string
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

// WithAuditRetentionDays adjusts how long audit logs are retained before cleanup.
func WithAuditRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.retention = days
		}
	}
}

// WithSweepSchedule overrides the cron expression for the expiry sweep.
func WithSweepSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.sweepSchedule = spec
		}
	}
}

// WithAuditSchedule overrides the cron expression for audit retention enforcement.
func WithAuditSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.auditSchedule = spec
		}
	}
}

// WithCacheSchedule overrides the cron expression for cache cleanup.
func WithCacheSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.cacheSchedule = spec
		}
	}
}

// WithCachePurger enables expired cache cleanup.
func WithCachePurger(p CachePurger) Option {
	return func(cleaner *Cleaner) {
		cleaner.cache = p
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. Any nil dependency results in
// the corresponding job being skipped.
func NewCleaner(sweeper RequisitionSweeper, audit AuditPruner, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		sweeper:       sweeper,
		audit:         audit,
		retention:     defaultAuditRetentionDays,
		sweepSchedule: defaultSweepSpec,
		auditSchedule: defaultAuditSpec,
		cacheSchedule: defaultCacheSpec,
		log:           logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

// Start registers the jobs with the cron scheduler and launches it.
func (c *Cleaner) Start() error {
	jobs := 0

	if c.sweeper != nil {
		if _, err := c.cron.AddFunc(c.sweepSchedule, func() { c.runSweep(auditctx.ForJob(context.Background(), JobExpirySweep)) }); err != nil {
			return err
		}
		jobs++
	}

	if c.audit != nil && c.retention > 0 {
		if _, err := c.cron.AddFunc(c.auditSchedule, func() {
			if _, err := c.audit.CleanupOlderThan(auditctx.ForJob(context.Background(), JobAuditRetention), c.retention); err != nil {
				c.log.Warn("audit cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
		jobs++
	}

	if c.cache != nil {
		if _, err := c.cron.AddFunc(c.cacheSchedule, func() {
			if _, err := c.cache.PurgeExpired(auditctx.ForJob(context.Background(), JobCachePurge)); err != nil {
				c.log.Warn("cache cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
		jobs++
	}

	if jobs == 0 {
		return nil
	}
	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return c.cron.Stop()
}

// RunOnce executes every configured job sequentially. Used by the sweep command, on shutdown
// and in tests.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := auditctx.FromContext(ctx); !ok {
		ctx = auditctx.ForJob(ctx, JobMaintenance)
	}

	var errs error

	if c.sweeper != nil {
		if _, err := c.sweeper.SweepExpired(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.audit != nil && c.retention > 0 {
		if _, err := c.audit.CleanupOlderThan(ctx, c.retention); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.cache != nil {
		if _, err := c.cache.PurgeExpired(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}

func (c *Cleaner) runSweep(ctx context.Context) {
	started := time.Now()
	count, err := c.sweeper.SweepExpired(ctx)
	if err != nil {
		c.log.Warn("requisition sweep failed", zap.Error(err))
		return
	}
	c.log.Debug("requisition sweep finished",
		zap.Int64("expired", count),
		zap.Duration("duration", time.Since(started)),
	)
}
