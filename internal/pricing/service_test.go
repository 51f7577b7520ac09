package pricing

import (
	"context"
	"testing"

	"github.com/sharevest/sharevest/internal/apperr"
	"github.com/sharevest/sharevest/internal/audit"
	"github.com/sharevest/sharevest/internal/logging"
)

func seedSnapshot() Snapshot {
	return Snapshot{
		Tiers: [3]Tier{
			{Capacity: 2000, PriceFiat: 50_000, PriceStable: 80},
			{Capacity: 3000, PriceFiat: 70_000, PriceStable: 112},
			{Capacity: 5000, PriceFiat: 100_000, PriceStable: 160},
		},
		CofounderTotal:       100,
		CofounderPriceFiat:   1_450_000,
		CofounderPriceStable: 2320,
		CofounderRatio:       29,
		CommissionRates:      [3]int64{15, 3, 2},
		Withdrawal:           WithdrawalPolicy{Enabled: true, Minimum: 1_000, DailyCap: 5, FeePercent: 2},
		LateFeePercent:       2,
		LateFeeCapPercent:    5,
		InstallmentMinMonths: 2,
		InstallmentMaxMonths: 12,
	}
}

func newFixture(t *testing.T) (*Service, *audit.MemoryStore) {
	t.Helper()
	auditLog := audit.NewMemoryStore()
	svc := NewService(NewMemoryStore(), audit.NewService(auditLog, logging.Discard()), logging.Discard())
	if err := svc.Seed(context.Background(), seedSnapshot()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return svc, auditLog
}

func TestSeedAppliesOnlyOnce(t *testing.T) {
	svc, _ := newFixture(t)
	ctx := context.Background()

	snap, err := svc.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Version != 1 {
		t.Fatalf("version = %d, want 1", snap.Version)
	}

	reseed := seedSnapshot()
	reseed.CofounderRatio = 99
	if err := svc.Seed(ctx, reseed); err != nil {
		t.Fatalf("second seed: %v", err)
	}
	snap, err = svc.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Version != 1 || snap.CofounderRatio != 29 {
		t.Fatalf("second seed overwrote the store: %+v", snap)
	}
}

func TestApplyUpdateAppendsVersion(t *testing.T) {
	svc, auditLog := newFixture(t)
	ctx := context.Background()
	actor := audit.Actor{AdminID: "admin-1", IP: "127.0.0.1"}

	minimum := int64(5_000)
	enabled := false
	next, err := svc.ApplyUpdate(ctx, actor, Update{
		WithdrawalMinimum: &minimum,
		WithdrawalEnabled: &enabled,
	})
	if err != nil {
		t.Fatalf("apply update: %v", err)
	}
	if next.Version != 2 {
		t.Fatalf("version = %d, want 2", next.Version)
	}
	if next.Withdrawal.Minimum != 5_000 || next.Withdrawal.Enabled {
		t.Fatalf("withdrawal policy = %+v", next.Withdrawal)
	}
	// Untouched fields carry over.
	if next.CommissionRates != [3]int64{15, 3, 2} || next.Tiers[2].PriceFiat != 100_000 {
		t.Fatalf("update clobbered unrelated fields: %+v", next)
	}
	if next.UpdatedBy != "admin-1" {
		t.Fatalf("updated_by = %q", next.UpdatedBy)
	}

	// The prior version stays readable for entries pinned to it.
	prior, err := svc.ByVersion(ctx, 1)
	if err != nil {
		t.Fatalf("by version: %v", err)
	}
	if prior.Withdrawal.Minimum != 1_000 {
		t.Fatalf("prior minimum = %d", prior.Withdrawal.Minimum)
	}

	entries := auditLog.All()
	if len(entries) != 1 || entries[0].Action != "pricing.update" {
		t.Fatalf("audit entries = %+v", entries)
	}
}

func TestApplyUpdateValidates(t *testing.T) {
	svc, _ := newFixture(t)
	ctx := context.Background()
	actor := audit.Actor{AdminID: "admin-1"}

	bad := int64(101)
	if _, err := svc.ApplyUpdate(ctx, actor, Update{CommissionRates: [3]*int64{&bad, nil, nil}}); !apperr.IsCode(err, apperr.CodeValidation) {
		t.Fatalf("rate 101 err = %v", err)
	}

	months := 1
	if _, err := svc.ApplyUpdate(ctx, actor, Update{InstallmentMinMonths: &months}); !apperr.IsCode(err, apperr.CodeValidation) {
		t.Fatalf("min months 1 err = %v", err)
	}

	ratio := int64(0)
	if _, err := svc.ApplyUpdate(ctx, actor, Update{CofounderRatio: &ratio}); !apperr.IsCode(err, apperr.CodeValidation) {
		t.Fatalf("ratio 0 err = %v", err)
	}

	// Nothing invalid landed.
	snap, err := svc.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Version != 1 {
		t.Fatalf("version = %d after rejected updates", snap.Version)
	}
}
