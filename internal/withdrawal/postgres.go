package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sharevest/sharevest/internal/apperr"
	"github.com/sharevest/sharevest/internal/ledger"
)

// PostgresStore persists requests and restrictions. Settlement transitions
// take the request row lock and write the ledger entry in the same
// transaction.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed withdrawal store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const requestColumns = `id, user_id, amount, fee, method, destination, status,
    provider_ref, fail_reason, created_at, updated_at`

const restrictionColumns = `id, user_id, is_restricted, scope, starts_at, ends_at,
    reason, created_by, created_at`

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

// CreateRequest implements Store.
func (s *PostgresStore) CreateRequest(ctx context.Context, r Request) (Request, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := s.db.Exec(ctx, `INSERT INTO withdrawal_requests (`+requestColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		mustUUID(r.ID), mustUUID(r.UserID), r.Amount, r.Fee, r.Method, r.Destination, r.Status,
		nullable(r.ProviderRef), nullable(r.FailReason), r.CreatedAt.UTC(), r.UpdatedAt.UTC())
	return r, err
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id string) (Request, error) {
	r, err := scanRequest(s.db.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM withdrawal_requests WHERE id = $1`, mustUUID(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return Request{}, apperr.NotFound("withdrawal %s", id)
	}
	return r, err
}

// ByUser implements Store, newest first.
func (s *PostgresStore) ByUser(ctx context.Context, userID string) ([]Request, error) {
	rows, err := s.db.Query(ctx, `SELECT `+requestColumns+` FROM withdrawal_requests
        WHERE user_id = $1 ORDER BY created_at DESC`, mustUUID(userID))
	if err != nil {
		return nil, err
	}
	return scanRequests(rows)
}

// SumCompleted implements Store.
func (s *PostgresStore) SumCompleted(ctx context.Context, userID string) (int64, error) {
	var total int64
	err := s.db.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM withdrawal_requests
        WHERE user_id = $1 AND status = $2`, mustUUID(userID), StatusCompleted).Scan(&total)
	return total, err
}

// SumInFlight implements Store.
func (s *PostgresStore) SumInFlight(ctx context.Context, userID string) (int64, error) {
	var total int64
	err := s.db.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM withdrawal_requests
        WHERE user_id = $1 AND status IN ($2, $3)`,
		mustUUID(userID), StatusPending, StatusProcessing).Scan(&total)
	return total, err
}

// CountToday implements Store.
func (s *PostgresStore) CountToday(ctx context.Context, userID string, now time.Time) (int, error) {
	day := now.UTC().Truncate(24 * time.Hour)
	var count int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM withdrawal_requests
        WHERE user_id = $1 AND status NOT IN ($2, $3)
          AND created_at >= $4 AND created_at < $5`,
		mustUUID(userID), StatusFailed, StatusCancelled, day, day.Add(24*time.Hour)).Scan(&count)
	return count, err
}

// MarkProcessing implements Store.
func (s *PostgresStore) MarkProcessing(ctx context.Context, id string, now time.Time) (Request, error) {
	return s.transition(ctx, id, StatusPending, StatusProcessing, "", now)
}

// Complete implements Store.
func (s *PostgresStore) Complete(ctx context.Context, id, providerRef string, now time.Time) (Outcome, error) {
	var out Outcome
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		r, err := lockRequest(ctx, tx, id)
		if err != nil {
			return err
		}
		if r.Status != StatusProcessing {
			return apperr.StateConflict("withdrawal %s is %s, expected processing", id, r.Status)
		}
		entry, err := ledger.InsertTx(ctx, tx, debitEntry(r, now))
		if err != nil {
			return err
		}
		at := now.UTC()
		if _, err := tx.Exec(ctx, `UPDATE withdrawal_requests
            SET status = $1, provider_ref = $2, updated_at = $3 WHERE id = $4`,
			StatusCompleted, nullable(providerRef), at, mustUUID(id)); err != nil {
			return err
		}
		r.Status = StatusCompleted
		r.ProviderRef = providerRef
		r.UpdatedAt = at
		out = Outcome{Request: r, Entry: entry}
		return nil
	})
	return out, err
}

// Fail implements Store.
func (s *PostgresStore) Fail(ctx context.Context, id, reason string, now time.Time) (Request, error) {
	return s.transition(ctx, id, StatusProcessing, StatusFailed, reason, now)
}

// RefundCompleted implements Store.
func (s *PostgresStore) RefundCompleted(ctx context.Context, id, reason string, now time.Time) (Outcome, error) {
	var out Outcome
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		r, err := lockRequest(ctx, tx, id)
		if err != nil {
			return err
		}
		if r.Status != StatusCompleted {
			return apperr.StateConflict("withdrawal %s is %s, expected completed", id, r.Status)
		}
		debit, err := ledger.ByReferenceTx(ctx, tx, ledger.KindWithdrawalDebit, r.ID)
		if err != nil {
			return err
		}
		entry, err := ledger.InsertTx(ctx, tx, refundEntry(r, debit, reason, now))
		if err != nil {
			return err
		}
		at := now.UTC()
		if _, err := tx.Exec(ctx, `UPDATE withdrawal_requests
            SET status = $1, fail_reason = $2, updated_at = $3 WHERE id = $4`,
			StatusFailed, nullable(reason), at, mustUUID(id)); err != nil {
			return err
		}
		r.Status = StatusFailed
		r.FailReason = reason
		r.UpdatedAt = at
		out = Outcome{Request: r, Entry: entry}
		return nil
	})
	return out, err
}

// Cancel implements Store.
func (s *PostgresStore) Cancel(ctx context.Context, id string, now time.Time) (Request, error) {
	return s.transition(ctx, id, StatusPending, StatusCancelled, "", now)
}

func (s *PostgresStore) transition(ctx context.Context, id string, from, to Status, reason string, now time.Time) (Request, error) {
	var out Request
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		r, err := lockRequest(ctx, tx, id)
		if err != nil {
			return err
		}
		if r.Status != from {
			return apperr.StateConflict("withdrawal %s is %s, expected %s", id, r.Status, from)
		}
		at := now.UTC()
		if _, err := tx.Exec(ctx, `UPDATE withdrawal_requests
            SET status = $1, fail_reason = $2, updated_at = $3 WHERE id = $4`,
			to, nullable(reason), at, mustUUID(id)); err != nil {
			return err
		}
		r.Status = to
		r.FailReason = reason
		r.UpdatedAt = at
		out = r
		return nil
	})
	return out, err
}

// CountByStatus implements Store.
func (s *PostgresStore) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	rows, err := s.db.Query(ctx, `SELECT status, COUNT(*) FROM withdrawal_requests GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[Status]int64)
	for rows.Next() {
		var (
			status Status
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

// Restriction implements Store.
func (s *PostgresStore) Restriction(ctx context.Context, userID string) (Restriction, error) {
	r, err := scanRestriction(s.db.QueryRow(ctx,
		`SELECT `+restrictionColumns+` FROM withdrawal_restrictions
         WHERE user_id = $1 ORDER BY created_at DESC LIMIT 1`, mustUUID(userID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return Restriction{}, apperr.NotFound("no restriction for user %s", userID)
	}
	return r, err
}

// SetRestriction implements Store.
func (s *PostgresStore) SetRestriction(ctx context.Context, r Restriction) (Restriction, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := s.db.Exec(ctx, `INSERT INTO withdrawal_restrictions (`+restrictionColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		mustUUID(r.ID), mustUUID(r.UserID), r.IsRestricted, r.Scope, r.StartsAt, r.EndsAt,
		nullable(r.Reason), nullableUUID(r.CreatedBy), r.CreatedAt.UTC())
	return r, err
}

// RestrictionsByUser implements Store.
func (s *PostgresStore) RestrictionsByUser(ctx context.Context, userID string) ([]Restriction, error) {
	rows, err := s.db.Query(ctx, `SELECT `+restrictionColumns+` FROM withdrawal_restrictions
        WHERE user_id = $1 ORDER BY created_at`, mustUUID(userID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Restriction
	for rows.Next() {
		r, err := scanRestriction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func lockRequest(ctx context.Context, tx pgx.Tx, id string) (Request, error) {
	r, err := scanRequest(tx.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM withdrawal_requests WHERE id = $1 FOR UPDATE`, mustUUID(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return Request{}, apperr.NotFound("withdrawal %s", id)
	}
	return r, err
}

func scanRequest(row pgx.Row) (Request, error) {
	var (
		r           Request
		id, userID  uuid.UUID
		providerRef *string
		failReason  *string
	)
	err := row.Scan(&id, &userID, &r.Amount, &r.Fee, &r.Method, &r.Destination, &r.Status,
		&providerRef, &failReason, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return Request{}, err
	}
	r.ID = id.String()
	r.UserID = userID.String()
	if providerRef != nil {
		r.ProviderRef = *providerRef
	}
	if failReason != nil {
		r.FailReason = *failReason
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r, nil
}

func scanRequests(rows pgx.Rows) ([]Request, error) {
	defer rows.Close()
	var out []Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRestriction(row pgx.Row) (Restriction, error) {
	var (
		r                Restriction
		id, userID       uuid.UUID
		startsAt, endsAt *time.Time
		reason           *string
		createdBy        *uuid.UUID
	)
	err := row.Scan(&id, &userID, &r.IsRestricted, &r.Scope, &startsAt, &endsAt,
		&reason, &createdBy, &r.CreatedAt)
	if err != nil {
		return Restriction{}, err
	}
	r.ID = id.String()
	r.UserID = userID.String()
	if startsAt != nil {
		at := startsAt.UTC()
		r.StartsAt = &at
	}
	if endsAt != nil {
		at := endsAt.UTC()
		r.EndsAt = &at
	}
	if reason != nil {
		r.Reason = *reason
	}
	if createdBy != nil {
		r.CreatedBy = createdBy.String()
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return r, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableUUID(s string) *uuid.UUID {
	if s == "" {
		return nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil
	}
	return &id
}

func mustUUID(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil
	}
	return id
}
