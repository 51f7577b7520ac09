package inventory

import (
	"errors"
	"testing"

	"github.com/sharevest/sharevest/internal/apperr"
	"github.com/sharevest/sharevest/internal/money"
	"github.com/sharevest/sharevest/internal/pricing"
)

func testSnapshot() pricing.Snapshot {
	return pricing.Snapshot{
		Version: 1,
		Tiers: [3]pricing.Tier{
			{Capacity: 2000, PriceFiat: 50_000, PriceStable: 50},
			{Capacity: 3000, PriceFiat: 70_000, PriceStable: 70},
			{Capacity: 5000, PriceFiat: 80_000, PriceStable: 80},
		},
		CofounderTotal:       100,
		CofounderPriceFiat:   1_450_000,
		CofounderPriceStable: 1_450,
		CofounderRatio:       29,
	}
}

func TestPlanRegularTieredBreakdown(t *testing.T) {
	snap := testSnapshot()
	var c Counters

	res, err := PlanRegular(c, snap, 2500, money.Fiat)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if res.Tiers != [3]int64{2000, 500, 0} {
		t.Fatalf("unexpected breakdown %v", res.Tiers)
	}
	if want := int64(2000*50_000 + 500*70_000); res.Total != want {
		t.Fatalf("total = %d, want %d", res.Total, want)
	}

	if err := c.Commit(res, snap); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if c.Tiers != [3]int64{2000, 500, 0} {
		t.Fatalf("counters after commit %v", c.Tiers)
	}
}

func TestCofounderEquivalenceShiftsAvailability(t *testing.T) {
	snap := testSnapshot()
	c := Counters{Cofounder: 1}

	avail := Available(c, snap)
	if avail.Total != 10_000-29 {
		t.Fatalf("total availability = %d, want %d", avail.Total, 10_000-29)
	}
	if avail.Tiers[0] != 2000-29 {
		t.Fatalf("tier1 availability = %d, want %d", avail.Tiers[0], 2000-29)
	}

	res, err := PlanRegular(c, snap, 2000, money.Fiat)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if res.Tiers != [3]int64{1971, 29, 0} {
		t.Fatalf("unexpected breakdown %v", res.Tiers)
	}
}

func TestExactRemainingSucceedsPlusOneFails(t *testing.T) {
	snap := testSnapshot()
	var c Counters

	res, err := PlanRegular(c, snap, 10_000, money.Fiat)
	if err != nil {
		t.Fatalf("exact-capacity plan: %v", err)
	}
	if err := c.Commit(res, snap); err != nil {
		t.Fatalf("exact-capacity commit: %v", err)
	}

	_, err = PlanRegular(c, snap, 1, money.Fiat)
	if !apperr.IsCode(err, apperr.CodeInsufficientShares) {
		t.Fatalf("expected INSUFFICIENT_SHARES, got %v", err)
	}
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Meta["available"].(int64) != 0 {
		t.Fatalf("expected available=0 metadata, got %+v", appErr)
	}
}

func TestCommitLoserGetsInsufficientShares(t *testing.T) {
	snap := testSnapshot()
	var c Counters

	// two buyers price the same last 10_000 shares from the same observation
	first, err := PlanRegular(c, snap, 10_000, money.Fiat)
	if err != nil {
		t.Fatalf("first plan: %v", err)
	}
	second, err := PlanRegular(c, snap, 10_000, money.Fiat)
	if err != nil {
		t.Fatalf("second plan: %v", err)
	}

	if err := c.Commit(first, snap); err != nil {
		t.Fatalf("winner commit: %v", err)
	}
	if err := c.Commit(second, snap); !apperr.IsCode(err, apperr.CodeInsufficientShares) {
		t.Fatalf("expected loser to observe INSUFFICIENT_SHARES, got %v", err)
	}
}

func TestCofounderPoolBounds(t *testing.T) {
	snap := testSnapshot()
	c := Counters{Cofounder: 99}

	res, err := PlanCofounder(c, snap, 1, money.Fiat)
	if err != nil {
		t.Fatalf("plan last cofounder share: %v", err)
	}
	if res.Total != 1_450_000 {
		t.Fatalf("cofounder price = %d", res.Total)
	}
	if err := c.Commit(res, snap); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if _, err := PlanCofounder(c, snap, 1, money.Fiat); !apperr.IsCode(err, apperr.CodeInsufficientShares) {
		t.Fatalf("expected INSUFFICIENT_SHARES on exhausted pool, got %v", err)
	}
}

func TestReleaseRestoresCounters(t *testing.T) {
	snap := testSnapshot()
	var c Counters

	res, err := PlanRegular(c, snap, 2500, money.Fiat)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if err := c.Commit(res, snap); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := c.Release(res); err != nil {
		t.Fatalf("release: %v", err)
	}
	if c.Tiers != [3]int64{} || c.Cofounder != 0 {
		t.Fatalf("counters not restored: %+v", c)
	}

	if err := c.Release(res); err == nil {
		t.Fatalf("expected underflow error on double release")
	}
}
