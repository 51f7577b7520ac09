package inventory

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore reads the single inventory row.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed inventory reader.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Counters implements Store with a plain (non-locking) read.
func (s *PostgresStore) Counters(ctx context.Context) (Counters, error) {
	return countersTx(ctx, s.db, false)
}

// GetForUpdateTx loads the counters under FOR UPDATE so reserve→commit is
// serialized across concurrent buyers. Must run inside a transaction.
func GetForUpdateTx(ctx context.Context, q Querier) (Counters, error) {
	return countersTx(ctx, q, true)
}

// SaveTx writes the counters back inside the caller's transaction.
func SaveTx(ctx context.Context, q Querier, c Counters) error {
	_, err := q.Exec(ctx, `UPDATE share_inventory
        SET sold_tier1 = $1, sold_tier2 = $2, sold_tier3 = $3, sold_cofounder = $4
        WHERE id = 1`, c.Tiers[0], c.Tiers[1], c.Tiers[2], c.Cofounder)
	return err
}

func countersTx(ctx context.Context, q Querier, forUpdate bool) (Counters, error) {
	query := `SELECT sold_tier1, sold_tier2, sold_tier3, sold_cofounder FROM share_inventory WHERE id = 1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var c Counters
	err := q.QueryRow(ctx, query).Scan(&c.Tiers[0], &c.Tiers[1], &c.Tiers[2], &c.Cofounder)
	return c, err
}
