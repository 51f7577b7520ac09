package pricing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sharevest/sharevest/internal/apperr"
)

// PostgresStore persists configuration versions in PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore builds a Postgres-backed pricing store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const snapshotColumns = `version,
    tier1_capacity, tier1_price_fiat, tier1_price_stable,
    tier2_capacity, tier2_price_fiat, tier2_price_stable,
    tier3_capacity, tier3_price_fiat, tier3_price_stable,
    cofounder_total, cofounder_price_fiat, cofounder_price_stable, cofounder_ratio,
    rate_gen1, rate_gen2, rate_gen3,
    withdrawal_enabled, withdrawal_minimum, withdrawal_daily_cap, withdrawal_fee_percent,
    late_fee_percent, late_fee_cap_percent,
    installment_min_months, installment_max_months, installment_min_down_pct, installment_grace_days,
    updated_by, created_at`

// Current loads the highest configuration version.
func (s *PostgresStore) Current(ctx context.Context) (Snapshot, error) {
	row := s.db.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM pricing_configs ORDER BY version DESC LIMIT 1`)
	snap, err := scanSnapshot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{}, apperr.NotFound("no pricing configuration")
	}
	return snap, err
}

// ByVersion loads one historical configuration version.
func (s *PostgresStore) ByVersion(ctx context.Context, version int64) (Snapshot, error) {
	row := s.db.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM pricing_configs WHERE version = $1`, version)
	snap, err := scanSnapshot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{}, apperr.NotFound("pricing version %d", version)
	}
	return snap, err
}

// Append writes a new configuration version and returns it with the assigned
// version number.
func (s *PostgresStore) Append(ctx context.Context, snap Snapshot) (Snapshot, error) {
	var updatedBy any
	if snap.UpdatedBy != "" {
		id, err := uuid.Parse(snap.UpdatedBy)
		if err != nil {
			return Snapshot{}, err
		}
		updatedBy = id
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	row := s.db.QueryRow(ctx, `INSERT INTO pricing_configs (
        tier1_capacity, tier1_price_fiat, tier1_price_stable,
        tier2_capacity, tier2_price_fiat, tier2_price_stable,
        tier3_capacity, tier3_price_fiat, tier3_price_stable,
        cofounder_total, cofounder_price_fiat, cofounder_price_stable, cofounder_ratio,
        rate_gen1, rate_gen2, rate_gen3,
        withdrawal_enabled, withdrawal_minimum, withdrawal_daily_cap, withdrawal_fee_percent,
        late_fee_percent, late_fee_cap_percent,
        installment_min_months, installment_max_months, installment_min_down_pct, installment_grace_days,
        updated_by, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28)
        RETURNING version`,
		snap.Tiers[0].Capacity, snap.Tiers[0].PriceFiat, snap.Tiers[0].PriceStable,
		snap.Tiers[1].Capacity, snap.Tiers[1].PriceFiat, snap.Tiers[1].PriceStable,
		snap.Tiers[2].Capacity, snap.Tiers[2].PriceFiat, snap.Tiers[2].PriceStable,
		snap.CofounderTotal, snap.CofounderPriceFiat, snap.CofounderPriceStable, snap.CofounderRatio,
		snap.CommissionRates[0], snap.CommissionRates[1], snap.CommissionRates[2],
		snap.Withdrawal.Enabled, snap.Withdrawal.Minimum, snap.Withdrawal.DailyCap, snap.Withdrawal.FeePercent,
		snap.LateFeePercent, snap.LateFeeCapPercent,
		snap.InstallmentMinMonths, snap.InstallmentMaxMonths, snap.InstallmentMinDownPct, snap.InstallmentGraceDays,
		updatedBy, snap.CreatedAt.UTC())
	if err := row.Scan(&snap.Version); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func scanSnapshot(row pgx.Row) (Snapshot, error) {
	var (
		snap      Snapshot
		updatedBy *uuid.UUID
		createdAt time.Time
	)
	err := row.Scan(&snap.Version,
		&snap.Tiers[0].Capacity, &snap.Tiers[0].PriceFiat, &snap.Tiers[0].PriceStable,
		&snap.Tiers[1].Capacity, &snap.Tiers[1].PriceFiat, &snap.Tiers[1].PriceStable,
		&snap.Tiers[2].Capacity, &snap.Tiers[2].PriceFiat, &snap.Tiers[2].PriceStable,
		&snap.CofounderTotal, &snap.CofounderPriceFiat, &snap.CofounderPriceStable, &snap.CofounderRatio,
		&snap.CommissionRates[0], &snap.CommissionRates[1], &snap.CommissionRates[2],
		&snap.Withdrawal.Enabled, &snap.Withdrawal.Minimum, &snap.Withdrawal.DailyCap, &snap.Withdrawal.FeePercent,
		&snap.LateFeePercent, &snap.LateFeeCapPercent,
		&snap.InstallmentMinMonths, &snap.InstallmentMaxMonths, &snap.InstallmentMinDownPct, &snap.InstallmentGraceDays,
		&updatedBy, &createdAt)
	if err != nil {
		return Snapshot{}, err
	}
	if updatedBy != nil {
		snap.UpdatedBy = updatedBy.String()
	}
	snap.CreatedAt = createdAt.UTC()
	return snap, nil
}
