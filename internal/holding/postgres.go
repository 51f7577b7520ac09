package holding

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sharevest/sharevest/internal/apperr"
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore reads holdings from PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed holding reader.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const holdingColumns = `user_id, regular_total, cofounder_total, listed_regular, listed_cofounder`
const recordColumns = `id, user_id, entry_id, share_kind, shares, tier1, tier2, tier3, price_per_share, currency, amount, status, created_at`

// GetForUpdateTx loads (creating if absent) a user's holding row under
// FOR UPDATE. Must run inside a transaction.
func GetForUpdateTx(ctx context.Context, q Querier, userID string) (Holding, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return Holding{}, err
	}
	if _, err := q.Exec(ctx, `INSERT INTO holdings (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, uid); err != nil {
		return Holding{}, err
	}
	row := q.QueryRow(ctx, `SELECT `+holdingColumns+` FROM holdings WHERE user_id = $1 FOR UPDATE`, uid)
	return scanHolding(row, userID)
}

// SaveTx writes a holding row back inside the caller's transaction.
func SaveTx(ctx context.Context, q Querier, h Holding) error {
	uid, err := uuid.Parse(h.UserID)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `UPDATE holdings
        SET regular_total = $1, cofounder_total = $2, listed_regular = $3, listed_cofounder = $4
        WHERE user_id = $5`,
		h.RegularTotal, h.CofounderTotal, h.ListedRegular, h.ListedCofounder, uid)
	return err
}

// InsertRecordTx appends a purchase record inside the caller's transaction.
func InsertRecordTx(ctx context.Context, q Querier, r Record) (Record, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return Record{}, err
	}
	uid, err := uuid.Parse(r.UserID)
	if err != nil {
		return Record{}, err
	}
	entryID, err := uuid.Parse(r.EntryID)
	if err != nil {
		return Record{}, err
	}
	_, err = q.Exec(ctx, `INSERT INTO holding_records
        (id, user_id, entry_id, share_kind, shares, tier1, tier2, tier3, price_per_share, currency, amount, status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		id, uid, entryID, r.ShareKind, r.Shares, r.Tiers[0], r.Tiers[1], r.Tiers[2],
		r.PricePerShare, r.Currency, r.Amount, r.Status, r.CreatedAt.UTC())
	return r, err
}

// MarkRecordReversedTx flips the record attached to a ledger entry to
// reversed inside the caller's transaction.
func MarkRecordReversedTx(ctx context.Context, q Querier, entryID string) error {
	eid, err := uuid.Parse(entryID)
	if err != nil {
		return err
	}
	cmd, err := q.Exec(ctx, `UPDATE holding_records SET status = $1 WHERE entry_id = $2 AND status = $3`,
		RecordReversed, eid, RecordCompleted)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return apperr.NotFound("holding record for entry %s", entryID)
	}
	return nil
}

// Get implements Store. Users without activity read as a zero holding.
func (s *PostgresStore) Get(ctx context.Context, userID string) (Holding, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return Holding{}, err
	}
	row := s.db.QueryRow(ctx, `SELECT `+holdingColumns+` FROM holdings WHERE user_id = $1`, uid)
	h, err := scanHolding(row, userID)
	if apperr.IsCode(err, apperr.CodeNotFound) {
		return Holding{UserID: userID}, nil
	}
	return h, err
}

// Records implements Store, newest first.
func (s *PostgresStore) Records(ctx context.Context, userID string, limit int) ([]Record, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.Query(ctx, `SELECT `+recordColumns+` FROM holding_records
        WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, uid, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Totals implements Store.
func (s *PostgresStore) Totals(ctx context.Context) (Totals, error) {
	var t Totals
	err := s.db.QueryRow(ctx, `SELECT COALESCE(SUM(regular_total), 0), COALESCE(SUM(cofounder_total), 0) FROM holdings`).
		Scan(&t.Regular, &t.Cofounder)
	return t, err
}

func scanHolding(row pgx.Row, userID string) (Holding, error) {
	var (
		uid uuid.UUID
		h   Holding
	)
	err := row.Scan(&uid, &h.RegularTotal, &h.CofounderTotal, &h.ListedRegular, &h.ListedCofounder)
	if errors.Is(err, pgx.ErrNoRows) {
		return Holding{}, apperr.NotFound("holding %s", userID)
	}
	if err != nil {
		return Holding{}, err
	}
	h.UserID = uid.String()
	return h, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		id, uid, eid uuid.UUID
		r            Record
		createdAt    time.Time
	)
	if err := row.Scan(&id, &uid, &eid, &r.ShareKind, &r.Shares, &r.Tiers[0], &r.Tiers[1], &r.Tiers[2],
		&r.PricePerShare, &r.Currency, &r.Amount, &r.Status, &createdAt); err != nil {
		return Record{}, err
	}
	r.ID = id.String()
	r.UserID = uid.String()
	r.EntryID = eid.String()
	r.CreatedAt = createdAt.UTC()
	return r, nil
}
