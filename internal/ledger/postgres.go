package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sharevest/sharevest/internal/apperr"
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx so the exported helpers
// below can run either standalone or inside an engine transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore persists ledger entries in PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed ledger store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const entryColumns = `id, seq, kind, status, actor_user, counterparty_user, amount, currency, reference, parent_entry, metadata, created_at, completed_at`

// InsertTx appends an entry using the given querier. Engine stores call it
// inside their own transactions so the entry commits atomically with derived
// state. A (kind, reference) collision returns the existing entry with
// ErrDuplicateReference.
func InsertTx(ctx context.Context, q Querier, entry Entry) (Entry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.Reference == "" {
		entry.Reference = entry.ID
	}

	existing, err := byReferenceTx(ctx, q, entry.Kind, entry.Reference)
	if err == nil {
		return existing, ErrDuplicateReference
	}
	if !apperr.IsCode(err, apperr.CodeNotFound) {
		return Entry{}, err
	}

	id, err := uuid.Parse(entry.ID)
	if err != nil {
		return Entry{}, err
	}
	actor, err := uuid.Parse(entry.ActorUser)
	if err != nil {
		return Entry{}, fmt.Errorf("actor user: %w", err)
	}
	var counterparty, parent any
	if entry.CounterpartyUser != "" {
		cp, err := uuid.Parse(entry.CounterpartyUser)
		if err != nil {
			return Entry{}, fmt.Errorf("counterparty user: %w", err)
		}
		counterparty = cp
	}
	if entry.ParentEntry != "" {
		p, err := uuid.Parse(entry.ParentEntry)
		if err != nil {
			return Entry{}, fmt.Errorf("parent entry: %w", err)
		}
		parent = p
	}
	meta, err := json.Marshal(entry.Metadata)
	if err != nil {
		return Entry{}, err
	}

	row := q.QueryRow(ctx, `INSERT INTO ledger_entries
        (id, kind, status, actor_user, counterparty_user, amount, currency, reference, parent_entry, metadata, created_at, completed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
        RETURNING seq`,
		id, entry.Kind, entry.Status, actor, counterparty, entry.Amount, entry.Currency,
		entry.Reference, parent, meta, entry.CreatedAt.UTC(), entry.CompletedAt)
	if err := row.Scan(&entry.Seq); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// CompleteTx transitions a pending entry to completed inside the caller's
// transaction and returns the updated entry.
func CompleteTx(ctx context.Context, q Querier, id string, at time.Time) (Entry, error) {
	return transitionTx(ctx, q, id, StatusPending, StatusCompleted, at)
}

// FailTx transitions a pending entry to failed inside the caller's transaction.
func FailTx(ctx context.Context, q Querier, id string, at time.Time) (Entry, error) {
	return transitionTx(ctx, q, id, StatusPending, StatusFailed, at)
}

// MarkReversedTx flags a completed entry as reversed. The compensating
// admin_reversal entry is appended separately; the original row is never
// deleted.
func MarkReversedTx(ctx context.Context, q Querier, id string, at time.Time) (Entry, error) {
	return transitionTx(ctx, q, id, StatusCompleted, StatusReversed, at)
}

func transitionTx(ctx context.Context, q Querier, id string, from, to Status, at time.Time) (Entry, error) {
	entryID, err := uuid.Parse(id)
	if err != nil {
		return Entry{}, err
	}
	row := q.QueryRow(ctx, `UPDATE ledger_entries SET status = $1, completed_at = $2
        WHERE id = $3 AND status = $4
        RETURNING `+entryColumns, to, at.UTC(), entryID, from)
	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		current, getErr := getTx(ctx, q, id)
		if getErr != nil {
			return Entry{}, apperr.NotFound("ledger entry %s", id)
		}
		return Entry{}, apperr.StateConflict("ledger entry %s is %s, expected %s", id, current.Status, from)
	}
	return entry, err
}

// GetForUpdateTx loads an entry under FOR UPDATE so concurrent verifications
// of the same intent serialize.
func GetForUpdateTx(ctx context.Context, q Querier, id string) (Entry, error) {
	entryID, err := uuid.Parse(id)
	if err != nil {
		return Entry{}, err
	}
	row := q.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1 FOR UPDATE`, entryID)
	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, apperr.NotFound("ledger entry %s", id)
	}
	return entry, err
}

// ByReferenceTx looks an entry up by (kind, reference) inside the caller's
// transaction.
func ByReferenceTx(ctx context.Context, q Querier, kind Kind, reference string) (Entry, error) {
	return byReferenceTx(ctx, q, kind, reference)
}

// Append implements Store.
func (s *PostgresStore) Append(ctx context.Context, entry Entry) (Entry, error) {
	return InsertTx(ctx, s.db, entry)
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id string) (Entry, error) {
	return getTx(ctx, s.db, id)
}

// ByReference implements Store.
func (s *PostgresStore) ByReference(ctx context.Context, kind Kind, reference string) (Entry, error) {
	return byReferenceTx(ctx, s.db, kind, reference)
}

// ByUser implements Store.
func (s *PostgresStore) ByUser(ctx context.Context, userID string, kinds []Kind, from, to time.Time, limit int) ([]Entry, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE actor_user = $1`
	args := []any{uid}
	if len(kinds) > 0 {
		args = append(args, kinds)
		query += fmt.Sprintf(" AND kind = ANY($%d)", len(args))
	}
	if !from.IsZero() {
		args = append(args, from.UTC())
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !to.IsZero() {
		args = append(args, to.UTC())
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	args = append(args, clampLimit(limit))
	query += fmt.Sprintf(" ORDER BY seq DESC LIMIT $%d", len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Children implements Store.
func (s *PostgresStore) Children(ctx context.Context, parentID string) ([]Entry, error) {
	pid, err := uuid.Parse(parentID)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE parent_entry = $1 ORDER BY seq`, pid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListCompleted implements Store.
func (s *PostgresStore) ListCompleted(ctx context.Context, kinds []Kind, since time.Time, afterSeq int64, limit int) ([]Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE status = $1`
	args := []any{StatusCompleted}
	if len(kinds) > 0 {
		args = append(args, kinds)
		query += fmt.Sprintf(" AND kind = ANY($%d)", len(args))
	}
	if !since.IsZero() {
		args = append(args, since.UTC())
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if afterSeq > 0 {
		args = append(args, afterSeq)
		query += fmt.Sprintf(" AND seq > $%d", len(args))
	}
	args = append(args, clampLimit(limit))
	query += fmt.Sprintf(" ORDER BY seq LIMIT $%d", len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func getTx(ctx context.Context, q Querier, id string) (Entry, error) {
	entryID, err := uuid.Parse(id)
	if err != nil {
		return Entry{}, err
	}
	row := q.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1`, entryID)
	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, apperr.NotFound("ledger entry %s", id)
	}
	return entry, err
}

func byReferenceTx(ctx context.Context, q Querier, kind Kind, reference string) (Entry, error) {
	row := q.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE kind = $1 AND reference = $2`, kind, reference)
	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, apperr.NotFound("ledger entry %s/%s", kind, reference)
	}
	return entry, err
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e            Entry
		id, actor    uuid.UUID
		counterparty *uuid.UUID
		parent       *uuid.UUID
		meta         []byte
		createdAt    time.Time
	)
	if err := row.Scan(&id, &e.Seq, &e.Kind, &e.Status, &actor, &counterparty, &e.Amount, &e.Currency,
		&e.Reference, &parent, &meta, &createdAt, &e.CompletedAt); err != nil {
		return Entry{}, err
	}
	e.ID = id.String()
	e.ActorUser = actor.String()
	if counterparty != nil {
		e.CounterpartyUser = counterparty.String()
	}
	if parent != nil {
		e.ParentEntry = parent.String()
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return Entry{}, err
		}
	}
	e.CreatedAt = createdAt.UTC()
	if e.CompletedAt != nil {
		t := e.CompletedAt.UTC()
		e.CompletedAt = &t
	}
	return e, nil
}

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 200
	}
	return limit
}
