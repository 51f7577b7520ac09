package pricing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sharevest/sharevest/internal/apperr"
	"github.com/sharevest/sharevest/internal/audit"
)

// Service exposes snapshot reads and admin updates over the pricing store.
type Service struct {
	store  Store
	audits *audit.Service
	logger *slog.Logger
}

// NewService builds a pricing service.
func NewService(store Store, audits *audit.Service, logger *slog.Logger) *Service {
	return &Service{store: store, audits: audits, logger: logger}
}

// Seed installs the configuration seed when the store holds no version yet.
func (s *Service) Seed(ctx context.Context, seed Snapshot) error {
	_, err := s.store.Current(ctx)
	if err == nil {
		return nil
	}
	if !apperr.IsCode(err, apperr.CodeNotFound) {
		return err
	}
	seed.CreatedAt = time.Now().UTC()
	if _, err := s.store.Append(ctx, seed); err != nil {
		return err
	}
	s.logger.Info("pricing seeded from environment defaults")
	return nil
}

// Snapshot returns the current configuration version.
func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	return s.store.Current(ctx)
}

// ByVersion returns a historical configuration version.
func (s *Service) ByVersion(ctx context.Context, version int64) (Snapshot, error) {
	return s.store.ByVersion(ctx, version)
}

// TierUpdate optionally overrides fields of one tier.
type TierUpdate struct {
	Capacity    *int64
	PriceFiat   *int64
	PriceStable *int64
}

// Update is a partial overlay on the current snapshot; nil fields keep their
// current value.
type Update struct {
	Tiers [3]TierUpdate

	CofounderTotal       *int64
	CofounderPriceFiat   *int64
	CofounderPriceStable *int64
	CofounderRatio       *int64

	CommissionRates [3]*int64

	WithdrawalEnabled    *bool
	WithdrawalMinimum    *int64
	WithdrawalDailyCap   *int
	WithdrawalFeePercent *int64

	LateFeePercent        *int64
	LateFeeCapPercent     *int64
	InstallmentMinMonths  *int
	InstallmentMaxMonths  *int
	InstallmentMinDownPct *int64
	InstallmentGraceDays  *int
}

// Apply overlays the update onto a snapshot copy.
func (u Update) Apply(base Snapshot) Snapshot {
	next := base
	for i := range u.Tiers {
		if v := u.Tiers[i].Capacity; v != nil {
			next.Tiers[i].Capacity = *v
		}
		if v := u.Tiers[i].PriceFiat; v != nil {
			next.Tiers[i].PriceFiat = *v
		}
		if v := u.Tiers[i].PriceStable; v != nil {
			next.Tiers[i].PriceStable = *v
		}
	}
	if u.CofounderTotal != nil {
		next.CofounderTotal = *u.CofounderTotal
	}
	if u.CofounderPriceFiat != nil {
		next.CofounderPriceFiat = *u.CofounderPriceFiat
	}
	if u.CofounderPriceStable != nil {
		next.CofounderPriceStable = *u.CofounderPriceStable
	}
	if u.CofounderRatio != nil {
		next.CofounderRatio = *u.CofounderRatio
	}
	for i, v := range u.CommissionRates {
		if v != nil {
			next.CommissionRates[i] = *v
		}
	}
	if u.WithdrawalEnabled != nil {
		next.Withdrawal.Enabled = *u.WithdrawalEnabled
	}
	if u.WithdrawalMinimum != nil {
		next.Withdrawal.Minimum = *u.WithdrawalMinimum
	}
	if u.WithdrawalDailyCap != nil {
		next.Withdrawal.DailyCap = *u.WithdrawalDailyCap
	}
	if u.WithdrawalFeePercent != nil {
		next.Withdrawal.FeePercent = *u.WithdrawalFeePercent
	}
	if u.LateFeePercent != nil {
		next.LateFeePercent = *u.LateFeePercent
	}
	if u.LateFeeCapPercent != nil {
		next.LateFeeCapPercent = *u.LateFeeCapPercent
	}
	if u.InstallmentMinMonths != nil {
		next.InstallmentMinMonths = *u.InstallmentMinMonths
	}
	if u.InstallmentMaxMonths != nil {
		next.InstallmentMaxMonths = *u.InstallmentMaxMonths
	}
	if u.InstallmentMinDownPct != nil {
		next.InstallmentMinDownPct = *u.InstallmentMinDownPct
	}
	if u.InstallmentGraceDays != nil {
		next.InstallmentGraceDays = *u.InstallmentGraceDays
	}
	return next
}

func validate(snap Snapshot) error {
	for i, t := range snap.Tiers {
		if t.Capacity < 0 {
			return apperr.Validation("tier %d capacity must not be negative", i+1)
		}
		if t.PriceFiat <= 0 || t.PriceStable <= 0 {
			return apperr.Validation("tier %d prices must be positive", i+1)
		}
	}
	if snap.CofounderRatio < 1 {
		return apperr.Validation("cofounder ratio must be at least 1")
	}
	if snap.CofounderTotal < 0 {
		return apperr.Validation("cofounder capacity must not be negative")
	}
	for i, r := range snap.CommissionRates {
		if r < 0 || r > 100 {
			return apperr.Validation("generation %d commission rate must be within [0,100]", i+1)
		}
	}
	if snap.Withdrawal.Minimum < 0 || snap.Withdrawal.FeePercent < 0 || snap.Withdrawal.FeePercent > 100 {
		return apperr.Validation("invalid withdrawal policy")
	}
	if snap.InstallmentMinMonths < 2 || snap.InstallmentMaxMonths > 12 || snap.InstallmentMinMonths > snap.InstallmentMaxMonths {
		return apperr.Validation("installment months bounds must stay within [2,12]")
	}
	if snap.LateFeePercent < 0 || snap.LateFeeCapPercent < 0 {
		return apperr.Validation("late fee percentages must not be negative")
	}
	return nil
}

// ApplyUpdate writes a new configuration version from the current snapshot
// plus the admin's delta, and records the change in the audit log.
func (s *Service) ApplyUpdate(ctx context.Context, actor audit.Actor, update Update) (Snapshot, error) {
	current, err := s.store.Current(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	next := update.Apply(current)
	if err := validate(next); err != nil {
		return Snapshot{}, err
	}
	next.UpdatedBy = actor.AdminID
	next.CreatedAt = time.Now().UTC()

	written, err := s.store.Append(ctx, next)
	if err != nil {
		return Snapshot{}, err
	}
	if err := s.audits.Record(ctx, actor, "pricing.update", "", "pricing_config", current, written); err != nil {
		return Snapshot{}, errors.Join(err, apperr.Internal("pricing version %d written but audit failed", written.Version))
	}
	s.logger.Info("pricing updated", slog.Int64("version", written.Version), slog.String("admin", actor.AdminID))
	return written, nil
}
