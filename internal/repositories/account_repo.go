package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/lockbox/internal/database"
	"github.com/BradenHooton/lockbox/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const accountColumns = `id, username, email, password_hash, role, failed_attempts, locked_until, last_login_at, created_at, updated_at, version`

// AccountRepository stores accounts in PostgreSQL
type AccountRepository struct {
	db   *database.DB
	pool *pgxpool.Pool
}

func NewAccountRepository(db *database.DB) *AccountRepository {
	return &AccountRepository{db: db, pool: db.Pool}
}

// rowScanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccountRow(scanner rowScanner) (*models.Account, error) {
	var acct models.Account
	var lockedUntil, lastLoginAt *time.Time

	err := scanner.Scan(
		&acct.ID, &acct.Username, &acct.Email, &acct.PasswordHash, &acct.Role,
		&acct.FailedAttempts, &lockedUntil, &lastLoginAt,
		&acct.CreatedAt, &acct.UpdatedAt, &acct.Version,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	acct.LockedUntil = lockedUntil
	acct.LastLoginAt = lastLoginAt
	return &acct, nil
}

func (r *AccountRepository) Create(ctx context.Context, acct *models.Account) (*models.Account, error) {
	id := acct.ID
	if id == "" {
		id = uuid.New().String()
	}
	role := acct.Role
	if role == "" {
		role = models.RoleUser
	}
	now := time.Now().UTC()

	query := `
		INSERT INTO accounts (id, username, email, password_hash, role, failed_attempts, locked_until, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8, 1)
		RETURNING ` + accountColumns

	created, err := scanAccountRow(r.pool.QueryRow(ctx, query,
		id, acct.Username, acct.Email, acct.PasswordHash, role,
		acct.FailedAttempts, acct.LockedUntil, now,
	))
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, models.ErrNotFound
	}
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccountRow(r.pool.QueryRow(ctx, query, id))
}

func (r *AccountRepository) GetByUsername(ctx context.Context, username string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE username = $1`
	return scanAccountRow(r.pool.QueryRow(ctx, query, username))
}

func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`
	return scanAccountRow(r.pool.QueryRow(ctx, query, email))
}

// CompareAndSwap writes the mutable fields of acct only if the stored version
// still equals acct.Version. A stale version yields models.ErrConflict.
func (r *AccountRepository) CompareAndSwap(ctx context.Context, acct *models.Account) (*models.Account, error) {
	query := `
		UPDATE accounts
		SET password_hash = $2, role = $3, failed_attempts = $4, locked_until = $5,
		    last_login_at = $6, updated_at = $7, version = version + 1
		WHERE id = $1 AND version = $8
		RETURNING ` + accountColumns

	updated, err := scanAccountRow(r.pool.QueryRow(ctx, query,
		acct.ID, acct.PasswordHash, acct.Role, acct.FailedAttempts, acct.LockedUntil,
		acct.LastLoginAt, time.Now().UTC(), acct.Version,
	))
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to update account: %w", err)
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, acct.ID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check account: %w", err)
	}
	if exists {
		return nil, models.ErrConflict
	}
	return nil, models.ErrNotFound
}

func (r *AccountRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *AccountRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}
