// Package pricing holds the versioned platform configuration: tier capacities
// and prices, the cofounder pool, commission rates and the withdrawal policy.
// Reads always observe one immutable snapshot; admin updates append a new
// version.
package pricing

import (
	"time"

	"github.com/sharevest/sharevest/internal/config"
	"github.com/sharevest/sharevest/internal/money"
)

// Tier is one price band of regular shares.
type Tier struct {
	Capacity    int64
	PriceFiat   int64
	PriceStable int64
}

// WithdrawalPolicy gates withdrawal requests globally.
type WithdrawalPolicy struct {
	Enabled    bool
	Minimum    int64
	DailyCap   int
	FeePercent int64
}

// Snapshot is one immutable configuration version. All engine reads bind to a
// single snapshot for the duration of an operation.
type Snapshot struct {
	Version int64

	Tiers [3]Tier

	CofounderTotal       int64
	CofounderPriceFiat   int64
	CofounderPriceStable int64
	// CofounderRatio is the regular-share equivalence of one cofounder share.
	CofounderRatio int64

	// CommissionRates are integer percentages per generation (index 0 = gen 1).
	CommissionRates [3]int64

	Withdrawal WithdrawalPolicy

	LateFeePercent        int64
	LateFeeCapPercent     int64
	InstallmentMinMonths  int
	InstallmentMaxMonths  int
	InstallmentMinDownPct int64
	InstallmentGraceDays  int

	UpdatedBy string
	CreatedAt time.Time
}

// TierPrice returns the per-share price of the given tier (1-based) in the
// requested currency.
func (s Snapshot) TierPrice(tier int, c money.Currency) int64 {
	t := s.Tiers[tier-1]
	if c == money.Stable {
		return t.PriceStable
	}
	return t.PriceFiat
}

// CofounderPrice returns the cofounder share price in the requested currency.
func (s Snapshot) CofounderPrice(c money.Currency) int64 {
	if c == money.Stable {
		return s.CofounderPriceStable
	}
	return s.CofounderPriceFiat
}

// TotalCapacity is the summed regular capacity across tiers.
func (s Snapshot) TotalCapacity() int64 {
	var total int64
	for _, t := range s.Tiers {
		total += t.Capacity
	}
	return total
}

// Rate returns the commission percentage for a generation in [1,3]; zero for
// anything else.
func (s Snapshot) Rate(generation int) int64 {
	if generation < 1 || generation > 3 {
		return 0
	}
	return s.CommissionRates[generation-1]
}

// FromConfig builds the seed snapshot applied when the store is empty.
func FromConfig(cfg config.Config) Snapshot {
	var snap Snapshot
	for i := 0; i < 3; i++ {
		snap.Tiers[i] = Tier{
			Capacity:    cfg.TierCapacities[i],
			PriceFiat:   cfg.TierPricesFiat[i],
			PriceStable: cfg.TierPricesStable[i],
		}
	}
	snap.CofounderTotal = cfg.CofounderTotal
	snap.CofounderPriceFiat = cfg.CofounderPriceFiat
	snap.CofounderPriceStable = cfg.CofounderPriceStable
	snap.CofounderRatio = cfg.CofounderRatio
	snap.CommissionRates = cfg.CommissionRates
	snap.Withdrawal = WithdrawalPolicy{
		Enabled:    cfg.WithdrawalEnabled,
		Minimum:    cfg.WithdrawalMinimum,
		DailyCap:   cfg.WithdrawalDailyCap,
		FeePercent: cfg.WithdrawalFeePercent,
	}
	snap.LateFeePercent = cfg.LateFeePercent
	snap.LateFeeCapPercent = cfg.LateFeeCapPercent
	snap.InstallmentMinMonths = cfg.InstallmentMinMonths
	snap.InstallmentMaxMonths = cfg.InstallmentMaxMonths
	snap.InstallmentMinDownPct = cfg.InstallmentMinDownPct
	snap.InstallmentGraceDays = cfg.InstallmentGraceDays
	return snap
}
