package installment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sharevest/sharevest/internal/apperr"
	"github.com/sharevest/sharevest/internal/holding"
	"github.com/sharevest/sharevest/internal/inventory"
	"github.com/sharevest/sharevest/internal/ledger"
	"github.com/sharevest/sharevest/internal/pricing"
)

// PostgresStore runs plan transitions inside pgx transactions. The plan row
// lock serializes user payments, admin actions and sweeps on one plan.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed installment store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const planColumns = `id, user_id, share_kind, total_shares, total_price, currency, months, min_down, state,
    tier1, tier2, tier3, paid_amount, released_shares, released_tier1, released_tier2, released_tier3,
    late_fee_accrued, months_late, config_version, cancel_reason, last_payment_at, created_at, updated_at`

const itemColumns = `plan_id, idx, due_date, nominal_amount, paid_amount, paid_at, status, external_ref,
    is_first, force_approved, method, proof_handle, tx_hash`

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

// CreatePlan implements Store.
func (s *PostgresStore) CreatePlan(ctx context.Context, plan Plan, items []Item, snap pricing.Snapshot) (Plan, error) {
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if plan.Kind == ledger.ShareCofounder {
			counters, err := inventory.GetForUpdateTx(ctx, tx)
			if err != nil {
				return err
			}
			res := inventory.Reservation{Kind: ledger.ShareCofounder, Quantity: plan.TotalShares}
			if err := counters.Commit(res, snap); err != nil {
				return err
			}
			if err := inventory.SaveTx(ctx, tx, counters); err != nil {
				return err
			}
		}
		if err := insertPlanTx(ctx, tx, plan); err != nil {
			return err
		}
		for _, item := range items {
			item.PlanID = plan.ID
			if _, err := tx.Exec(ctx, `INSERT INTO installment_items
                (plan_id, idx, due_date, nominal_amount, paid_amount, status, is_first)
                VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				mustUUID(plan.ID), item.Index, item.DueDate.UTC(), item.Nominal, item.PaidAmount,
				item.Status, item.IsFirst); err != nil {
				return err
			}
		}
		return nil
	})
	return plan, err
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, planID string) (Plan, []Item, error) {
	plan, err := scanPlan(s.db.QueryRow(ctx,
		`SELECT `+planColumns+` FROM installment_plans WHERE id = $1`, mustUUID(planID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return Plan{}, nil, apperr.NotFound("plan %s", planID)
	}
	if err != nil {
		return Plan{}, nil, err
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+itemColumns+` FROM installment_items WHERE plan_id = $1 ORDER BY idx`, mustUUID(planID))
	if err != nil {
		return Plan{}, nil, err
	}
	items, err := scanItems(rows)
	if err != nil {
		return Plan{}, nil, err
	}
	return plan, items, nil
}

// ByUser implements Store.
func (s *PostgresStore) ByUser(ctx context.Context, userID string) ([]Plan, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+planColumns+` FROM installment_plans WHERE user_id = $1 ORDER BY created_at DESC`, mustUUID(userID))
	if err != nil {
		return nil, err
	}
	return scanPlans(rows)
}

// NonTerminalByUserKind implements Store.
func (s *PostgresStore) NonTerminalByUserKind(ctx context.Context, userID string, kind ledger.ShareKind) (Plan, error) {
	plan, err := scanPlan(s.db.QueryRow(ctx, `SELECT `+planColumns+` FROM installment_plans
        WHERE user_id = $1 AND share_kind = $2 AND state NOT IN ($3, $4, $5) LIMIT 1`,
		mustUUID(userID), kind, StateCompleted, StateCancelled, StateDefaulted))
	if errors.Is(err, pgx.ErrNoRows) {
		return Plan{}, apperr.NotFound("no open %s plan for user", kind)
	}
	return plan, err
}

// ByExternalRef implements Store.
func (s *PostgresStore) ByExternalRef(ctx context.Context, ref string) (Plan, Item, error) {
	return s.byRef(ctx, s.db, ref, false)
}

// byRef resolves a payment reference. With lock, rows are locked plan first,
// then item, the same order OpenPayment takes them.
func (s *PostgresStore) byRef(ctx context.Context, q Querier, ref string, lock bool) (Plan, Item, error) {
	if ref == "" {
		return Plan{}, Item{}, apperr.Validation("reference is required")
	}
	item, err := scanItem(q.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM installment_items WHERE external_ref = $1`, ref))
	if errors.Is(err, pgx.ErrNoRows) {
		return Plan{}, Item{}, apperr.NotFound("installment reference %s", ref)
	}
	if err != nil {
		return Plan{}, Item{}, err
	}
	suffix := ""
	if lock {
		suffix = " FOR UPDATE"
	}
	plan, err := scanPlan(q.QueryRow(ctx,
		`SELECT `+planColumns+` FROM installment_plans WHERE id = $1`+suffix, mustUUID(item.PlanID)))
	if err != nil {
		return Plan{}, Item{}, err
	}
	if lock {
		// Re-read under the plan lock; the unlocked snapshot may be stale.
		item, err = scanItem(q.QueryRow(ctx,
			`SELECT `+itemColumns+` FROM installment_items WHERE external_ref = $1 FOR UPDATE`, ref))
		if errors.Is(err, pgx.ErrNoRows) {
			return Plan{}, Item{}, apperr.NotFound("installment reference %s", ref)
		}
		if err != nil {
			return Plan{}, Item{}, err
		}
	}
	return plan, item, nil
}

// Querier is the read surface shared by the pool and a pgx transaction.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ListSweepable implements Store.
func (s *PostgresStore) ListSweepable(ctx context.Context) ([]Plan, error) {
	rows, err := s.db.Query(ctx, `SELECT `+planColumns+` FROM installment_plans
        WHERE state IN ($1, $2, $3) ORDER BY created_at`, StatePending, StateActive, StateLate)
	if err != nil {
		return nil, err
	}
	return scanPlans(rows)
}

// CountByState implements Store.
func (s *PostgresStore) CountByState(ctx context.Context) (map[State]int64, error) {
	rows, err := s.db.Query(ctx, `SELECT state, COUNT(*) FROM installment_plans GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[State]int64)
	for rows.Next() {
		var (
			state State
			n     int64
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		out[state] = n
	}
	return out, rows.Err()
}

// OpenPayment implements Store.
func (s *PostgresStore) OpenPayment(ctx context.Context, planID string, index int, amount int64, method ledger.PaymentMethod, ref, proofHandle, txHash string) (Item, error) {
	var out Item
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		plan, err := scanPlan(tx.QueryRow(ctx,
			`SELECT `+planColumns+` FROM installment_plans WHERE id = $1 FOR UPDATE`, mustUUID(planID)))
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("plan %s", planID)
		}
		if err != nil {
			return err
		}
		if plan.State.Terminal() {
			return apperr.StateConflict("plan %s is %s", planID, plan.State)
		}
		item, err := scanItem(tx.QueryRow(ctx,
			`SELECT `+itemColumns+` FROM installment_items WHERE plan_id = $1 AND idx = $2 FOR UPDATE`,
			mustUUID(planID), index))
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("installment %d of plan %s", index, planID)
		}
		if err != nil {
			return err
		}
		switch item.Status {
		case ItemCompleted:
			return apperr.StateConflict("installment %d is already paid", index)
		case ItemPending:
			return apperr.StateConflict("installment %d has a payment in flight", index)
		}
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM installment_items WHERE external_ref = $1)`, ref).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return apperr.Duplicate("installment reference %s already exists", ref)
		}
		if _, err := tx.Exec(ctx, `UPDATE installment_items SET status = $1, paid_amount = $2,
            external_ref = $3, method = $4, proof_handle = $5, tx_hash = $6
            WHERE plan_id = $7 AND idx = $8`,
			ItemPending, amount, ref, nullable(string(method)), nullable(proofHandle), nullable(txHash),
			mustUUID(planID), index); err != nil {
			return err
		}
		item.Status = ItemPending
		item.PaidAmount = amount
		item.ExternalRef = ref
		item.Method = method
		item.ProofHandle = proofHandle
		item.TxHash = txHash
		out = item
		return nil
	})
	return out, err
}

// ApplyPayment implements Store.
func (s *PostgresStore) ApplyPayment(ctx context.Context, ref string, snap pricing.Snapshot, force bool, now time.Time) (PaymentOutcome, error) {
	var out PaymentOutcome
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		plan, item, err := s.byRef(ctx, tx, ref, true)
		if err != nil {
			return err
		}
		if item.Status == ItemCompleted {
			entry, _ := ledger.ByReferenceTx(ctx, tx, ledger.KindInstallmentPayment, ref)
			out = PaymentOutcome{Plan: plan, Item: item, Entry: entry, Applied: false}
			return nil
		}
		if item.Status != ItemPending {
			return apperr.StateConflict("installment %d is %s", item.Index, item.Status)
		}
		if plan.State.Terminal() {
			return apperr.StateConflict("plan %s is %s", plan.ID, plan.State)
		}
		// Re-check the balance at apply time: another installment may have
		// been verified after this payment was opened.
		if plan.PaidAmount+item.PaidAmount > plan.TotalPrice {
			return apperr.StateConflict("payment %d exceeds the remaining balance %d of plan %s",
				item.PaidAmount, plan.Remaining(), plan.ID)
		}

		at := now.UTC()
		next := plan
		next.PaidAmount += item.PaidAmount
		next.LastPaymentAt = &at
		next.MonthsLate = 0
		next.UpdatedAt = at

		target := next.ReleaseTarget()
		delta := target - plan.ReleasedShares
		cumTiers := next.TiersForRelease(target)
		var deltaTiers [3]int64
		for i := range deltaTiers {
			deltaTiers[i] = cumTiers[i] - plan.ReleasedTiers[i]
		}

		if delta > 0 && plan.Kind == ledger.ShareRegular {
			counters, err := inventory.GetForUpdateTx(ctx, tx)
			if err != nil {
				return err
			}
			res := inventory.Reservation{Kind: ledger.ShareRegular, Quantity: delta, Tiers: deltaTiers}
			if err := counters.Commit(res, snap); err != nil {
				return err
			}
			if err := inventory.SaveTx(ctx, tx, counters); err != nil {
				return err
			}
		}

		item.Status = ItemCompleted
		item.PaidAt = &at
		item.ForceApproved = force

		entry, err := ledger.InsertTx(ctx, tx, paymentEntry(next, item, deltaTiers, delta, force, now))
		if err != nil {
			return err
		}

		if delta > 0 {
			h, err := holding.GetForUpdateTx(ctx, tx, plan.UserID)
			if err != nil {
				return err
			}
			h.Credit(plan.Kind, delta)
			if err := holding.SaveTx(ctx, tx, h); err != nil {
				return err
			}
			if _, err := holding.InsertRecordTx(ctx, tx, releaseRecord(next, entry.ID, delta, deltaTiers, now)); err != nil {
				return err
			}
		}

		next.ReleasedShares = target
		next.ReleasedTiers = cumTiers
		if next.PaidAmount >= next.TotalPrice {
			next.State = StateCompleted
		} else {
			next.State = StateActive
		}

		if err := savePlanTx(ctx, tx, next); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE installment_items SET status = $1, paid_at = $2, force_approved = $3
            WHERE plan_id = $4 AND idx = $5`,
			ItemCompleted, at, force, mustUUID(plan.ID), item.Index); err != nil {
			return err
		}
		out = PaymentOutcome{Plan: next, Item: item, Entry: entry, ReleasedDelta: delta, DeltaTiers: deltaTiers, Applied: true}
		return nil
	})
	return out, err
}

// FailPayment implements Store.
func (s *PostgresStore) FailPayment(ctx context.Context, ref string, _ time.Time) (Item, error) {
	var out Item
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		plan, item, err := s.byRef(ctx, tx, ref, true)
		if err != nil {
			return err
		}
		if item.Status != ItemPending {
			return apperr.StateConflict("installment %d is %s", item.Index, item.Status)
		}
		if _, err := tx.Exec(ctx, `UPDATE installment_items SET status = $1, paid_amount = 0,
            external_ref = NULL, method = NULL, proof_handle = NULL, tx_hash = NULL
            WHERE plan_id = $2 AND idx = $3`,
			ItemUpcoming, mustUUID(plan.ID), item.Index); err != nil {
			return err
		}
		item.Status = ItemFailed
		out = item
		return nil
	})
	return out, err
}

// Unverify implements Store.
func (s *PostgresStore) Unverify(ctx context.Context, ref, reason string, now time.Time) (UnverifyOutcome, error) {
	var out UnverifyOutcome
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		plan, item, err := s.byRef(ctx, tx, ref, true)
		if err != nil {
			return err
		}
		if item.Status != ItemCompleted {
			return apperr.StateConflict("installment %d is %s, expected completed", item.Index, item.Status)
		}

		source, err := ledger.ByReferenceTx(ctx, tx, ledger.KindInstallmentPayment, ref)
		if err != nil {
			return err
		}
		if _, err := ledger.MarkReversedTx(ctx, tx, source.ID, now); err != nil {
			return err
		}

		amount := item.PaidAmount
		next := plan
		next.PaidAmount -= amount
		if next.PaidAmount < 0 {
			next.PaidAmount = 0
		}
		target := next.ReleaseTarget()
		claw := plan.ReleasedShares - target
		cumTiers := next.TiersForRelease(target)
		var clawTiers [3]int64
		for i := range clawTiers {
			clawTiers[i] = plan.ReleasedTiers[i] - cumTiers[i]
		}

		if claw > 0 {
			h, err := holding.GetForUpdateTx(ctx, tx, plan.UserID)
			if err != nil {
				return err
			}
			if err := h.Debit(plan.Kind, claw); err != nil {
				return err
			}
			if err := holding.SaveTx(ctx, tx, h); err != nil {
				return err
			}
			if err := holding.MarkRecordReversedTx(ctx, tx, source.ID); err != nil {
				return err
			}
			if plan.Kind == ledger.ShareRegular {
				counters, err := inventory.GetForUpdateTx(ctx, tx)
				if err != nil {
					return err
				}
				res := inventory.Reservation{Kind: ledger.ShareRegular, Quantity: claw, Tiers: clawTiers}
				if err := counters.Release(res); err != nil {
					return err
				}
				if err := inventory.SaveTx(ctx, tx, counters); err != nil {
					return err
				}
			}
		}

		reversal, err := ledger.InsertTx(ctx, tx, ledger.Entry{
			Kind:        ledger.KindAdminReversal,
			Status:      ledger.StatusCompleted,
			ActorUser:   plan.UserID,
			Amount:      -amount,
			Currency:    plan.Currency,
			ParentEntry: source.ID,
			Metadata: ledger.Metadata{
				ShareKind:        plan.Kind,
				Quantity:         claw,
				Tiers:            clawTiers,
				PlanID:           plan.ID,
				InstallmentIndex: item.Index,
				Reason:           reason,
			},
			CreatedAt: now.UTC(),
		})
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `UPDATE installment_items SET status = $1, paid_amount = 0, paid_at = NULL,
            external_ref = NULL, method = NULL, proof_handle = NULL, tx_hash = NULL, force_approved = FALSE
            WHERE plan_id = $2 AND idx = $3`,
			ItemUpcoming, mustUUID(plan.ID), item.Index); err != nil {
			return err
		}

		next.ReleasedShares = target
		next.ReleasedTiers = cumTiers
		next.UpdatedAt = now.UTC()
		if next.PaidAmount == 0 {
			next.State = StatePending
		} else {
			next.State = StateActive
		}
		if err := savePlanTx(ctx, tx, next); err != nil {
			return err
		}

		reset := item
		reset.Status = ItemUpcoming
		reset.PaidAmount = 0
		reset.PaidAt = nil
		reset.ExternalRef = ""
		reset.ForceApproved = false
		out = UnverifyOutcome{
			Plan:          next,
			Item:          reset,
			Reversal:      reversal,
			ClawedShares:  claw,
			ClawedTiers:   clawTiers,
			SourceEntryID: source.ID,
		}
		return nil
	})
	return out, err
}

// Cancel implements Store.
func (s *PostgresStore) Cancel(ctx context.Context, planID, reason string, now time.Time) (Plan, error) {
	var out Plan
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		plan, err := scanPlan(tx.QueryRow(ctx,
			`SELECT `+planColumns+` FROM installment_plans WHERE id = $1 FOR UPDATE`, mustUUID(planID)))
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("plan %s", planID)
		}
		if err != nil {
			return err
		}
		if plan.State.Terminal() {
			return apperr.StateConflict("plan %s is %s", planID, plan.State)
		}

		if plan.Kind == ledger.ShareCofounder {
			if unreleased := plan.TotalShares - plan.ReleasedShares; unreleased > 0 {
				counters, err := inventory.GetForUpdateTx(ctx, tx)
				if err != nil {
					return err
				}
				res := inventory.Reservation{Kind: ledger.ShareCofounder, Quantity: unreleased}
				if err := counters.Release(res); err != nil {
					return err
				}
				if err := inventory.SaveTx(ctx, tx, counters); err != nil {
					return err
				}
			}
		}

		plan.State = StateCancelled
		plan.CancelReason = reason
		plan.UpdatedAt = now.UTC()
		if err := savePlanTx(ctx, tx, plan); err != nil {
			return err
		}
		out = plan
		return nil
	})
	return out, err
}

// SaveSweep implements Store.
func (s *PostgresStore) SaveSweep(ctx context.Context, plan Plan) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		current, err := scanPlan(tx.QueryRow(ctx,
			`SELECT `+planColumns+` FROM installment_plans WHERE id = $1 FOR UPDATE`, mustUUID(plan.ID)))
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("plan %s", plan.ID)
		}
		if err != nil {
			return err
		}
		if current.State.Terminal() {
			return apperr.StateConflict("plan %s is %s", plan.ID, current.State)
		}
		if plan.State == StateDefaulted && plan.Kind == ledger.ShareCofounder {
			if unreleased := plan.TotalShares - plan.ReleasedShares; unreleased > 0 {
				counters, err := inventory.GetForUpdateTx(ctx, tx)
				if err != nil {
					return err
				}
				res := inventory.Reservation{Kind: ledger.ShareCofounder, Quantity: unreleased}
				if err := counters.Release(res); err != nil {
					return err
				}
				if err := inventory.SaveTx(ctx, tx, counters); err != nil {
					return err
				}
			}
		}
		return savePlanTx(ctx, tx, plan)
	})
}

func insertPlanTx(ctx context.Context, tx pgx.Tx, p Plan) error {
	_, err := tx.Exec(ctx, `INSERT INTO installment_plans (`+planColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)`,
		mustUUID(p.ID), mustUUID(p.UserID), p.Kind, p.TotalShares, p.TotalPrice, p.Currency, p.Months, p.MinDown, p.State,
		p.TierBreakdown[0], p.TierBreakdown[1], p.TierBreakdown[2],
		p.PaidAmount, p.ReleasedShares, p.ReleasedTiers[0], p.ReleasedTiers[1], p.ReleasedTiers[2],
		p.LateFeeAccrued, p.MonthsLate, p.ConfigVersion, nullable(p.CancelReason),
		p.LastPaymentAt, p.CreatedAt.UTC(), p.UpdatedAt.UTC())
	return err
}

func savePlanTx(ctx context.Context, tx pgx.Tx, p Plan) error {
	_, err := tx.Exec(ctx, `UPDATE installment_plans SET state = $1, paid_amount = $2, released_shares = $3,
        released_tier1 = $4, released_tier2 = $5, released_tier3 = $6, late_fee_accrued = $7,
        months_late = $8, cancel_reason = $9, last_payment_at = $10, updated_at = $11
        WHERE id = $12`,
		p.State, p.PaidAmount, p.ReleasedShares,
		p.ReleasedTiers[0], p.ReleasedTiers[1], p.ReleasedTiers[2], p.LateFeeAccrued,
		p.MonthsLate, nullable(p.CancelReason), p.LastPaymentAt, p.UpdatedAt.UTC(), mustUUID(p.ID))
	return err
}

func scanPlan(row pgx.Row) (Plan, error) {
	var (
		p             Plan
		id, userID    uuid.UUID
		cancelReason  *string
		lastPaymentAt *time.Time
	)
	err := row.Scan(&id, &userID, &p.Kind, &p.TotalShares, &p.TotalPrice, &p.Currency, &p.Months, &p.MinDown, &p.State,
		&p.TierBreakdown[0], &p.TierBreakdown[1], &p.TierBreakdown[2],
		&p.PaidAmount, &p.ReleasedShares, &p.ReleasedTiers[0], &p.ReleasedTiers[1], &p.ReleasedTiers[2],
		&p.LateFeeAccrued, &p.MonthsLate, &p.ConfigVersion, &cancelReason, &lastPaymentAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Plan{}, err
	}
	p.ID = id.String()
	p.UserID = userID.String()
	if cancelReason != nil {
		p.CancelReason = *cancelReason
	}
	if lastPaymentAt != nil {
		at := lastPaymentAt.UTC()
		p.LastPaymentAt = &at
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func scanPlans(rows pgx.Rows) ([]Plan, error) {
	defer rows.Close()
	var out []Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanItem(row pgx.Row) (Item, error) {
	var (
		item                       Item
		planID                     uuid.UUID
		paidAt                     *time.Time
		ref, method, proof, txHash *string
	)
	err := row.Scan(&planID, &item.Index, &item.DueDate, &item.Nominal, &item.PaidAmount, &paidAt,
		&item.Status, &ref, &item.IsFirst, &item.ForceApproved, &method, &proof, &txHash)
	if err != nil {
		return Item{}, err
	}
	item.PlanID = planID.String()
	item.DueDate = item.DueDate.UTC()
	if paidAt != nil {
		at := paidAt.UTC()
		item.PaidAt = &at
	}
	if ref != nil {
		item.ExternalRef = *ref
	}
	if method != nil {
		item.Method = ledger.PaymentMethod(*method)
	}
	if proof != nil {
		item.ProofHandle = *proof
	}
	if txHash != nil {
		item.TxHash = *txHash
	}
	return item, nil
}

func scanItems(rows pgx.Rows) ([]Item, error) {
	defer rows.Close()
	var out []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func mustUUID(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil
	}
	return id
}
