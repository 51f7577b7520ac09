// Package jobs runs the periodic sweeps. Each job takes a Redis leader lock
// before running so replicas do not sweep the same rows concurrently; with no
// Redis configured the runner assumes a single instance and always runs.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sharevest/sharevest/internal/installment"
	"github.com/sharevest/sharevest/internal/market"
)

const lockPrefix = "jobs:lock:"

// Config sets the sweep cadence. Zero intervals disable the job.
type Config struct {
	InstallmentInterval time.Duration
	MarketInterval      time.Duration
	LockTTL             time.Duration
}

// DefaultConfig is the production cadence: overdue plans hourly, stuck offers
// every 15 minutes.
func DefaultConfig() Config {
	return Config{
		InstallmentInterval: time.Hour,
		MarketInterval:      15 * time.Minute,
		LockTTL:             5 * time.Minute,
	}
}

// Runner owns the sweep goroutines.
type Runner struct {
	plans  *installment.Service
	offers *market.Service
	cache  *redis.Client
	cfg    Config
	logger *slog.Logger
	id     string
}

// NewRunner builds a runner. cache may be nil in single-instance deployments.
func NewRunner(plans *installment.Service, offers *market.Service, cache *redis.Client, cfg Config, logger *slog.Logger) *Runner {
	return &Runner{
		plans:  plans,
		offers: offers,
		cache:  cache,
		cfg:    cfg,
		logger: logger,
		id:     uuid.NewString(),
	}
}

// Start launches the sweep loops. They stop when ctx is cancelled.
func (r *Runner) Start(ctx context.Context) {
	if r.cfg.InstallmentInterval > 0 {
		go r.loop(ctx, "installment_overdue", r.cfg.InstallmentInterval, r.sweepInstallments)
	}
	if r.cfg.MarketInterval > 0 {
		go r.loop(ctx, "market_stuck", r.cfg.MarketInterval, r.sweepMarket)
	}
}

func (r *Runner) loop(ctx context.Context, job string, interval time.Duration, run func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOnce(ctx, job, run)
		}
	}
}

// RunOnce executes one named sweep immediately, honoring the leader lock.
func (r *Runner) RunOnce(ctx context.Context, job string) error {
	switch job {
	case "installment_overdue":
		return r.runOnce(ctx, job, r.sweepInstallments)
	case "market_stuck":
		return r.runOnce(ctx, job, r.sweepMarket)
	}
	return nil
}

func (r *Runner) runOnce(ctx context.Context, job string, run func(context.Context) error) error {
	ok, err := r.acquire(ctx, job)
	if err != nil {
		r.logger.Error("job lock failed", slog.String("job", job), slog.Any("error", err))
		return err
	}
	if !ok {
		r.logger.Debug("job lock held elsewhere", slog.String("job", job))
		return nil
	}
	defer r.release(ctx, job)
	if err := run(ctx); err != nil {
		r.logger.Error("job failed", slog.String("job", job), slog.Any("error", err))
		return err
	}
	return nil
}

func (r *Runner) sweepInstallments(ctx context.Context) error {
	result, err := r.plans.SweepOverdue(ctx, time.Now())
	if err != nil {
		return err
	}
	r.logger.Info("installment sweep",
		slog.Int("scanned", result.Scanned),
		slog.Int("marked_late", result.MarkedLate),
		slog.Int("defaulted", result.Defaulted),
		slog.Int64("fees_levied", result.FeesLevied))
	return nil
}

func (r *Runner) sweepMarket(ctx context.Context) error {
	stuck, err := r.offers.SweepStuck(ctx, time.Now())
	if err != nil {
		return err
	}
	r.logger.Info("market sweep", slog.Int("stuck_offers", len(stuck)))
	return nil
}

// acquire takes the per-job leader lock. Without Redis every call wins.
func (r *Runner) acquire(ctx context.Context, job string) (bool, error) {
	if r.cache == nil {
		return true, nil
	}
	ttl := r.cfg.LockTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return r.cache.SetNX(ctx, lockPrefix+job, r.id, ttl).Result()
}

// release drops the lock if this runner still holds it. Best effort; an
// expired lock is already gone.
func (r *Runner) release(ctx context.Context, job string) {
	if r.cache == nil {
		return
	}
	key := lockPrefix + job
	holder, err := r.cache.Get(ctx, key).Result()
	if err != nil || holder != r.id {
		return
	}
	r.cache.Del(ctx, key)
}
