package referral

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sharevest/sharevest/internal/apperr"
)

// PostgresStore persists commissions in PostgreSQL. Stats rows are refreshed
// from the commission table inside the same transaction as every mutation,
// so the roll-up can never drift from the aggregation.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed referral store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const commissionColumns = `id, beneficiary, referred_user, generation, purchase_type, source_entry_id, source_model,
    amount, currency, status, rate_used, base_amount, created_at, rolled_back_at, rollback_reason`

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// SaveCompleted implements Store.
func (s *PostgresStore) SaveCompleted(ctx context.Context, c Commission) (Commission, bool, error) {
	if c.Generation < 1 || c.Generation > 3 {
		return Commission{}, false, apperr.Validation("generation must be within [1,3]")
	}
	var (
		out     Commission
		applied bool
	)
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT `+commissionColumns+` FROM referral_commissions
            WHERE beneficiary = $1 AND referred_user = $2 AND generation = $3
              AND source_entry_id = $4 AND source_model = $5
            ORDER BY created_at FOR UPDATE`,
			mustUUID(c.Beneficiary), mustUUID(c.ReferredUser), c.Generation, mustUUID(c.SourceEntryID), c.SourceModel)
		if err != nil {
			return err
		}
		existing, err := scanCommissions(rows)
		if err != nil {
			return err
		}
		for _, e := range existing {
			switch e.Status {
			case StatusCompleted, StatusDuplicate:
				out, applied = e, false
				return nil
			}
		}
		for _, e := range existing {
			if e.Status == StatusPending {
				if _, err := tx.Exec(ctx, `UPDATE referral_commissions SET status = $1 WHERE id = $2`,
					StatusCompleted, mustUUID(e.ID)); err != nil {
					return err
				}
				e.Status = StatusCompleted
				out, applied = e, true
				return refreshStatsTx(ctx, tx, e.Beneficiary)
			}
		}

		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = time.Now().UTC()
		}
		c.Status = StatusCompleted
		if _, err := tx.Exec(ctx, `INSERT INTO referral_commissions
            (id, beneficiary, referred_user, generation, purchase_type, source_entry_id, source_model,
             amount, currency, status, rate_used, base_amount, created_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			mustUUID(c.ID), mustUUID(c.Beneficiary), mustUUID(c.ReferredUser), c.Generation, c.PurchaseType,
			mustUUID(c.SourceEntryID), c.SourceModel, c.Amount, c.Currency, c.Status,
			c.RateUsed, c.BaseAmount, c.CreatedAt.UTC()); err != nil {
			return err
		}
		out, applied = c, true
		return refreshStatsTx(ctx, tx, c.Beneficiary)
	})
	return out, applied, err
}

// RollbackSource implements Store.
func (s *PostgresStore) RollbackSource(ctx context.Context, sourceEntryID, reason string, now time.Time) ([]Commission, error) {
	var rolled []Commission
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `UPDATE referral_commissions
            SET status = $1, rolled_back_at = $2, rollback_reason = $3
            WHERE source_entry_id = $4 AND status = $5
            RETURNING `+commissionColumns,
			StatusRolledBack, now.UTC(), reason, mustUUID(sourceEntryID), StatusCompleted)
		if err != nil {
			return err
		}
		if rolled, err = scanCommissions(rows); err != nil {
			return err
		}
		for _, c := range rolled {
			if err := refreshStatsTx(ctx, tx, c.Beneficiary); err != nil {
				return err
			}
		}
		return nil
	})
	return rolled, err
}

// MarkDuplicate implements Store.
func (s *PostgresStore) MarkDuplicate(ctx context.Context, id string, now time.Time) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `UPDATE referral_commissions SET status = $1, rolled_back_at = $2
            WHERE id = $3 AND status = $4
            RETURNING beneficiary`, StatusDuplicate, now.UTC(), mustUUID(id), StatusCompleted)
		var beneficiary uuid.UUID
		if err := row.Scan(&beneficiary); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperr.StateConflict("commission %s is not completed", id)
			}
			return err
		}
		return refreshStatsTx(ctx, tx, beneficiary.String())
	})
}

// BySource implements Store.
func (s *PostgresStore) BySource(ctx context.Context, sourceEntryID string) ([]Commission, error) {
	rows, err := s.db.Query(ctx, `SELECT `+commissionColumns+` FROM referral_commissions
        WHERE source_entry_id = $1 ORDER BY generation`, mustUUID(sourceEntryID))
	if err != nil {
		return nil, err
	}
	return scanCommissions(rows)
}

// ByBeneficiary implements Store.
func (s *PostgresStore) ByBeneficiary(ctx context.Context, userID string, limit int) ([]Commission, error) {
	return s.list(ctx, `beneficiary`, userID, limit)
}

// ByReferredUser implements Store.
func (s *PostgresStore) ByReferredUser(ctx context.Context, userID string, limit int) ([]Commission, error) {
	return s.list(ctx, `referred_user`, userID, limit)
}

func (s *PostgresStore) list(ctx context.Context, column, userID string, limit int) ([]Commission, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.Query(ctx, `SELECT `+commissionColumns+` FROM referral_commissions
        WHERE `+column+` = $1 ORDER BY created_at DESC LIMIT $2`, mustUUID(userID), limit)
	if err != nil {
		return nil, err
	}
	return scanCommissions(rows)
}

// Stats implements Store.
func (s *PostgresStore) Stats(ctx context.Context, userID string) (Stats, error) {
	row := s.db.QueryRow(ctx, `SELECT user_id, gen1_count, gen1_earnings, gen2_count, gen2_earnings,
        gen3_count, gen3_earnings, total_earnings, updated_at
        FROM referral_stats WHERE user_id = $1`, mustUUID(userID))
	var (
		uid   uuid.UUID
		stats Stats
	)
	err := row.Scan(&uid,
		&stats.Generations[0].Count, &stats.Generations[0].Earnings,
		&stats.Generations[1].Count, &stats.Generations[1].Earnings,
		&stats.Generations[2].Count, &stats.Generations[2].Earnings,
		&stats.TotalEarnings, &stats.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Stats{UserID: userID}, nil
	}
	if err != nil {
		return Stats{}, err
	}
	stats.UserID = uid.String()
	stats.UpdatedAt = stats.UpdatedAt.UTC()
	return stats, nil
}

// CompletedEarnings implements Store.
func (s *PostgresStore) CompletedEarnings(ctx context.Context, userID string) (int64, error) {
	var sum int64
	err := s.db.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM referral_commissions
        WHERE beneficiary = $1 AND status = $2`, mustUUID(userID), StatusCompleted).Scan(&sum)
	return sum, err
}

// DuplicateGroups implements Store.
func (s *PostgresStore) DuplicateGroups(ctx context.Context) ([][]Commission, error) {
	rows, err := s.db.Query(ctx, `SELECT `+commissionColumns+` FROM referral_commissions c
        WHERE status = $1 AND EXISTS (
            SELECT 1 FROM referral_commissions d
            WHERE d.status = $1 AND d.id <> c.id
              AND d.beneficiary = c.beneficiary AND d.referred_user = c.referred_user
              AND d.generation = c.generation AND d.source_entry_id = c.source_entry_id
              AND d.source_model = c.source_model)
        ORDER BY beneficiary, referred_user, generation, source_entry_id, source_model, created_at`, StatusCompleted)
	if err != nil {
		return nil, err
	}
	flat, err := scanCommissions(rows)
	if err != nil {
		return nil, err
	}
	var groups [][]Commission
	for _, c := range flat {
		if n := len(groups); n > 0 && groups[n-1][0].Key() == c.Key() {
			groups[n-1] = append(groups[n-1], c)
			continue
		}
		groups = append(groups, []Commission{c})
	}
	return groups, nil
}

// CountDuplicates implements Store.
func (s *PostgresStore) CountDuplicates(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `SELECT COALESCE(SUM(cnt - 1), 0) FROM (
        SELECT COUNT(*) AS cnt FROM referral_commissions WHERE status = $1
        GROUP BY beneficiary, referred_user, generation, source_entry_id, source_model
        HAVING COUNT(*) > 1) g`, StatusCompleted).Scan(&n)
	return n, err
}

// refreshStatsTx recomputes one beneficiary's roll-up from the commission
// table inside the caller's transaction.
func refreshStatsTx(ctx context.Context, tx pgx.Tx, beneficiary string) error {
	_, err := tx.Exec(ctx, `INSERT INTO referral_stats
        (user_id, gen1_count, gen1_earnings, gen2_count, gen2_earnings, gen3_count, gen3_earnings, total_earnings, updated_at)
        SELECT $1,
            COUNT(DISTINCT referred_user) FILTER (WHERE generation = 1),
            COALESCE(SUM(amount) FILTER (WHERE generation = 1), 0),
            COUNT(DISTINCT referred_user) FILTER (WHERE generation = 2),
            COALESCE(SUM(amount) FILTER (WHERE generation = 2), 0),
            COUNT(DISTINCT referred_user) FILTER (WHERE generation = 3),
            COALESCE(SUM(amount) FILTER (WHERE generation = 3), 0),
            COALESCE(SUM(amount), 0), $2
        FROM referral_commissions WHERE beneficiary = $1 AND status = $3
        ON CONFLICT (user_id) DO UPDATE SET
            gen1_count = EXCLUDED.gen1_count, gen1_earnings = EXCLUDED.gen1_earnings,
            gen2_count = EXCLUDED.gen2_count, gen2_earnings = EXCLUDED.gen2_earnings,
            gen3_count = EXCLUDED.gen3_count, gen3_earnings = EXCLUDED.gen3_earnings,
            total_earnings = EXCLUDED.total_earnings, updated_at = EXCLUDED.updated_at`,
		mustUUID(beneficiary), time.Now().UTC(), StatusCompleted)
	return err
}

func scanCommissions(rows pgx.Rows) ([]Commission, error) {
	defer rows.Close()
	var out []Commission
	for rows.Next() {
		var (
			c                 Commission
			id, ben, ref, src uuid.UUID
			createdAt         time.Time
			rolledBackAt      *time.Time
			rollbackReason    *string
		)
		if err := rows.Scan(&id, &ben, &ref, &c.Generation, &c.PurchaseType, &src, &c.SourceModel,
			&c.Amount, &c.Currency, &c.Status, &c.RateUsed, &c.BaseAmount, &createdAt,
			&rolledBackAt, &rollbackReason); err != nil {
			return nil, err
		}
		c.ID = id.String()
		c.Beneficiary = ben.String()
		c.ReferredUser = ref.String()
		c.SourceEntryID = src.String()
		c.CreatedAt = createdAt.UTC()
		if rolledBackAt != nil {
			t := rolledBackAt.UTC()
			c.RolledBackAt = &t
		}
		if rollbackReason != nil {
			c.RollbackReason = *rollbackReason
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func mustUUID(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil
	}
	return id
}
