package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sharevest/sharevest/internal/apperr"
)

// Repository persists users.
type Repository interface {
	Create(ctx context.Context, user User) error
	FindByID(ctx context.Context, id string) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	FindByReferralCode(ctx context.Context, code string) (User, error)
	// ListByReferredBy returns the users whose ReferredBy equals code.
	ListByReferredBy(ctx context.Context, code string) ([]User, error)
	Update(ctx context.Context, user User) error
	CountByKYC(ctx context.Context, status KYCStatus) (int64, error)
	ListByKYC(ctx context.Context, status KYCStatus, limit int) ([]User, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed identity repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const userColumns = `id, name, email, password_hash, referral_code, referred_by, is_admin, is_banned, kyc_status, created_at, updated_at`

// Create inserts a new user. Email and referral code collisions surface as
// DUPLICATE errors.
func (r *PostgresRepository) Create(ctx context.Context, user User) error {
	userID, err := uuid.Parse(user.ID)
	if err != nil {
		return err
	}
	var referredBy any
	if user.ReferredBy != "" {
		referredBy = user.ReferredBy
	}
	_, err = r.db.Exec(ctx, `INSERT INTO users
        (id, name, email, password_hash, referral_code, referred_by, is_admin, is_banned, kyc_status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		userID, user.Name, user.Email, user.PasswordHash, user.ReferralCode, referredBy,
		user.IsAdmin, user.IsBanned, user.KYC, user.CreatedAt.UTC(), user.UpdatedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		if strings.Contains(pgErr.ConstraintName, "email") {
			return apperr.Duplicate("email already registered")
		}
		return apperr.Duplicate("referral code collision")
	}
	return err
}

// FindByID fetches a user by id.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (User, error) {
	userID, err := uuid.Parse(id)
	if err != nil {
		return User{}, apperr.NotFound("user %s", id)
	}
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
	return scanUser(row, id)
}

// FindByEmail fetches a user by normalized email.
func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row, email)
}

// FindByReferralCode fetches the owner of a referral code. Codes are
// case-sensitive.
func (r *PostgresRepository) FindByReferralCode(ctx context.Context, code string) (User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE referral_code = $1`, code)
	return scanUser(row, code)
}

// ListByReferredBy returns the direct downline of a referral code.
func (r *PostgresRepository) ListByReferredBy(ctx context.Context, code string) ([]User, error) {
	rows, err := r.db.Query(ctx, `SELECT `+userColumns+` FROM users WHERE referred_by = $1 ORDER BY created_at`, code)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUsers(rows)
}

// Update persists mutable profile and admin fields.
func (r *PostgresRepository) Update(ctx context.Context, user User) error {
	userID, err := uuid.Parse(user.ID)
	if err != nil {
		return err
	}
	cmd, err := r.db.Exec(ctx, `UPDATE users
        SET name = $1, is_admin = $2, is_banned = $3, kyc_status = $4, updated_at = $5
        WHERE id = $6`,
		user.Name, user.IsAdmin, user.IsBanned, user.KYC, time.Now().UTC(), userID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return apperr.NotFound("user %s", user.ID)
	}
	return nil
}

// CountByKYC counts users in the given KYC state.
func (r *PostgresRepository) CountByKYC(ctx context.Context, status KYCStatus) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE kyc_status = $1`, status).Scan(&n)
	return n, err
}

// ListByKYC lists users in the given KYC state, oldest first.
func (r *PostgresRepository) ListByKYC(ctx context.Context, status KYCStatus, limit int) ([]User, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `SELECT `+userColumns+` FROM users WHERE kyc_status = $1 ORDER BY updated_at LIMIT $2`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUsers(rows)
}

func scanUser(row pgx.Row, ref string) (User, error) {
	var (
		id         uuid.UUID
		referredBy *string
		user       User
		createdAt  time.Time
		updatedAt  time.Time
	)
	err := row.Scan(&id, &user.Name, &user.Email, &user.PasswordHash, &user.ReferralCode,
		&referredBy, &user.IsAdmin, &user.IsBanned, &user.KYC, &createdAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, apperr.NotFound("user %s", ref)
	}
	if err != nil {
		return User{}, err
	}
	user.ID = id.String()
	if referredBy != nil {
		user.ReferredBy = *referredBy
	}
	user.CreatedAt = createdAt.UTC()
	user.UpdatedAt = updatedAt.UTC()
	return user, nil
}

func scanUsers(rows pgx.Rows) ([]User, error) {
	var users []User
	for rows.Next() {
		u, err := scanUser(rows, "")
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
