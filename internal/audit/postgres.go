package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore stores audit entries in PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore builds a Postgres-backed audit store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Append inserts an audit entry.
func (s *PostgresStore) Append(ctx context.Context, entry Entry) error {
	id, err := uuid.Parse(entry.ID)
	if err != nil {
		return err
	}
	adminID, err := uuid.Parse(entry.AdminID)
	if err != nil {
		return err
	}
	var target any
	if entry.TargetUser != "" {
		tu, err := uuid.Parse(entry.TargetUser)
		if err != nil {
			return err
		}
		target = tu
	}
	_, err = s.db.Exec(ctx, `INSERT INTO audit_entries
        (id, admin_id, action, target_user, target_entity, before, after, ip, user_agent, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		id, adminID, entry.Action, target, nullable(entry.TargetEntity),
		rawOrNull(entry.Before), rawOrNull(entry.After),
		nullable(entry.IP), nullable(entry.UserAgent), entry.CreatedAt.UTC())
	return err
}

// ByAdmin returns the most recent entries recorded by one admin.
func (s *PostgresStore) ByAdmin(ctx context.Context, adminID string, limit int) ([]Entry, error) {
	id, err := uuid.Parse(adminID)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, `SELECT id, admin_id, action, target_user, target_entity, before, after, ip, user_agent, created_at
        FROM audit_entries WHERE admin_id = $1 ORDER BY created_at DESC LIMIT $2`, id, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ByTargetUser returns the most recent entries touching one user.
func (s *PostgresStore) ByTargetUser(ctx context.Context, userID string, limit int) ([]Entry, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, `SELECT id, admin_id, action, target_user, target_entity, before, after, ip, user_agent, created_at
        FROM audit_entries WHERE target_user = $1 ORDER BY created_at DESC LIMIT $2`, id, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanEntries(rows pgxRows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			id, admin uuid.UUID
			target    *uuid.UUID
			entity    *string
			ip, ua    *string
			before    []byte
			after     []byte
			createdAt time.Time
		)
		if err := rows.Scan(&id, &admin, &e.Action, &target, &entity, &before, &after, &ip, &ua, &createdAt); err != nil {
			return nil, err
		}
		e.ID = id.String()
		e.AdminID = admin.String()
		if target != nil {
			e.TargetUser = target.String()
		}
		if entity != nil {
			e.TargetEntity = *entity
		}
		if ip != nil {
			e.IP = *ip
		}
		if ua != nil {
			e.UserAgent = *ua
		}
		e.Before = before
		e.After = after
		e.CreatedAt = createdAt.UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func rawOrNull(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}
