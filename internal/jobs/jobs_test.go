package jobs

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"

	"github.com/sharevest/sharevest/internal/audit"
	"github.com/sharevest/sharevest/internal/blob"
	"github.com/sharevest/sharevest/internal/gateway"
	"github.com/sharevest/sharevest/internal/holding"
	"github.com/sharevest/sharevest/internal/identity"
	"github.com/sharevest/sharevest/internal/installment"
	"github.com/sharevest/sharevest/internal/inventory"
	"github.com/sharevest/sharevest/internal/ledger"
	"github.com/sharevest/sharevest/internal/logging"
	"github.com/sharevest/sharevest/internal/market"
	"github.com/sharevest/sharevest/internal/metrics"
	"github.com/sharevest/sharevest/internal/notification"
	"github.com/sharevest/sharevest/internal/pricing"
	"github.com/sharevest/sharevest/internal/referral"
)

func newRunner(t *testing.T, cache *redis.Client) (*Runner, *metrics.Set) {
	t.Helper()
	logger := logging.Discard()
	auditSvc := audit.NewService(audit.NewMemoryStore(), logger)
	prices := pricing.NewService(pricing.NewMemoryStore(), auditSvc, logger)
	if err := prices.Seed(context.Background(), pricing.Snapshot{
		Tiers: [3]pricing.Tier{
			{Capacity: 2000, PriceFiat: 50_000, PriceStable: 80},
			{Capacity: 3000, PriceFiat: 70_000, PriceStable: 112},
			{Capacity: 5000, PriceFiat: 100_000, PriceStable: 160},
		},
		CofounderTotal:       100,
		CofounderPriceFiat:   1_450_000,
		CofounderPriceStable: 2320,
		CofounderRatio:       29,
		CommissionRates:      [3]int64{15, 3, 2},
		InstallmentMinMonths: 2,
		InstallmentMaxMonths: 12,
	}); err != nil {
		t.Fatalf("seed pricing: %v", err)
	}

	led := ledger.NewMemoryStore()
	counters := inventory.NewMemoryStore()
	holdings := holding.NewMemoryStore()
	users := identity.NewService(identity.NewMemoryRepository())
	mailer := notification.NewLoggerMailer(logger)
	m := metrics.Nop()
	refSvc := referral.NewService(referral.NewMemoryStore(), users, prices, m, logger)

	plans := installment.NewService(installment.Deps{
		Store:     installment.NewMemoryStore(led, counters, holdings),
		Inventory: counters,
		Prices:    prices,
		Referrals: refSvc,
		Gateway:   gateway.NewStaticGateway(),
		Chain:     gateway.NewStaticVerifier(),
		Proofs:    blob.NewMemoryStore(),
		Mailer:    mailer,
		Users:     users,
		Audits:    auditSvc,
		Metrics:   m,
		Logger:    logger,
	})
	offers := market.NewService(market.Deps{
		Store:   market.NewMemoryStore(led, holdings),
		Users:   users,
		Gateway: gateway.NewStaticGateway(),
		Chain:   gateway.NewStaticVerifier(),
		Mailer:  mailer,
		Audits:  auditSvc,
		Metrics: m,
		Logger:  logger,
	})
	return NewRunner(plans, offers, cache, DefaultConfig(), logger), m
}

func sweepCount(m *metrics.Set, job string) float64 {
	return testutil.ToFloat64(m.SweepRuns.WithLabelValues(job))
}

func TestRunOnceWithoutRedis(t *testing.T) {
	runner, m := newRunner(t, nil)
	ctx := context.Background()

	if err := runner.RunOnce(ctx, "market_stuck"); err != nil {
		t.Fatalf("market sweep: %v", err)
	}
	if err := runner.RunOnce(ctx, "installment_overdue"); err != nil {
		t.Fatalf("installment sweep: %v", err)
	}
	if got := sweepCount(m, "market_stuck"); got != 1 {
		t.Fatalf("market sweeps = %v", got)
	}
	if got := sweepCount(m, "installment_overdue"); got != 1 {
		t.Fatalf("installment sweeps = %v", got)
	}
}

func TestLeaderLockBlocksOtherHolders(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	runner, m := newRunner(t, cache)
	ctx := context.Background()

	if err := mr.Set(lockPrefix+"market_stuck", "another-instance"); err != nil {
		t.Fatalf("seed lock: %v", err)
	}
	mr.SetTTL(lockPrefix+"market_stuck", time.Minute)

	if err := runner.RunOnce(ctx, "market_stuck"); err != nil {
		t.Fatalf("locked sweep: %v", err)
	}
	if got := sweepCount(m, "market_stuck"); got != 0 {
		t.Fatalf("sweep ran under a foreign lock: %v", got)
	}

	// The foreign lock expires; the next run goes through.
	mr.FastForward(2 * time.Minute)
	if err := runner.RunOnce(ctx, "market_stuck"); err != nil {
		t.Fatalf("sweep after expiry: %v", err)
	}
	if got := sweepCount(m, "market_stuck"); got != 1 {
		t.Fatalf("sweeps = %v", got)
	}
}

func TestLockReleasedAfterRun(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	runner, m := newRunner(t, cache)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := runner.RunOnce(ctx, "installment_overdue"); err != nil {
			t.Fatalf("sweep %d: %v", i, err)
		}
	}
	if got := sweepCount(m, "installment_overdue"); got != 3 {
		t.Fatalf("sweeps = %v", got)
	}
	if mr.Exists(lockPrefix + "installment_overdue") {
		t.Fatal("lock not released")
	}
}
