package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/lockbox/internal/database"
	"github.com/BradenHooton/lockbox/internal/models"
	"github.com/google/uuid"
)

// Timestamps are stored as Unix nanoseconds in UTC.

func toUnix(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromUnix(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func toNullUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toUnix(*t), Valid: true}
}

func fromNullUnix(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromUnix(n.Int64)
	return &t
}

// SQLiteAccountRepository stores accounts in a SQLite database
type SQLiteAccountRepository struct {
	db *database.SQLiteDB
}

func NewSQLiteAccountRepository(db *database.SQLiteDB) *SQLiteAccountRepository {
	return &SQLiteAccountRepository{db: db}
}

func scanSQLiteAccount(scanner rowScanner) (*models.Account, error) {
	var acct models.Account
	var lockedUntil, lastLoginAt sql.NullInt64
	var createdAt, updatedAt int64

	err := scanner.Scan(
		&acct.ID, &acct.Username, &acct.Email, &acct.PasswordHash, &acct.Role,
		&acct.FailedAttempts, &lockedUntil, &lastLoginAt,
		&createdAt, &updatedAt, &acct.Version,
	)
	if err != nil {
		return nil, database.MapSQLiteError(err)
	}

	acct.LockedUntil = fromNullUnix(lockedUntil)
	acct.LastLoginAt = fromNullUnix(lastLoginAt)
	acct.CreatedAt = fromUnix(createdAt)
	acct.UpdatedAt = fromUnix(updatedAt)
	return &acct, nil
}

func (r *SQLiteAccountRepository) Create(ctx context.Context, acct *models.Account) (*models.Account, error) {
	id := acct.ID
	if id == "" {
		id = uuid.New().String()
	}
	role := acct.Role
	if role == "" {
		role = models.RoleUser
	}
	now := toUnix(time.Now())

	query := `
		INSERT INTO accounts (id, username, email, password_hash, role, failed_attempts, locked_until, created_at, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
	`
	_, err := r.db.DB.ExecContext(ctx, query,
		id, acct.Username, acct.Email, acct.PasswordHash, role,
		acct.FailedAttempts, toNullUnix(acct.LockedUntil), now, now,
	)
	if err != nil {
		return nil, database.MapSQLiteError(err)
	}

	return r.GetByID(ctx, id)
}

func (r *SQLiteAccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = ?`
	return scanSQLiteAccount(r.db.DB.QueryRowContext(ctx, query, id))
}

func (r *SQLiteAccountRepository) GetByUsername(ctx context.Context, username string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE username = ?`
	return scanSQLiteAccount(r.db.DB.QueryRowContext(ctx, query, username))
}

func (r *SQLiteAccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = ?`
	return scanSQLiteAccount(r.db.DB.QueryRowContext(ctx, query, email))
}

// CompareAndSwap writes the mutable fields of acct only if the stored version
// still equals acct.Version
func (r *SQLiteAccountRepository) CompareAndSwap(ctx context.Context, acct *models.Account) (*models.Account, error) {
	var updated *models.Account

	err := r.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE accounts
			SET password_hash = ?, role = ?, failed_attempts = ?, locked_until = ?,
			    last_login_at = ?, updated_at = ?, version = version + 1
			WHERE id = ? AND version = ?`,
			acct.PasswordHash, acct.Role, acct.FailedAttempts, toNullUnix(acct.LockedUntil),
			toNullUnix(acct.LastLoginAt), toUnix(time.Now()), acct.ID, acct.Version,
		)
		if err != nil {
			return fmt.Errorf("failed to update account: %w", err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return err
		}

		row := tx.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, acct.ID)
		current, err := scanSQLiteAccount(row)
		if err != nil {
			return err
		}
		if n == 0 {
			return models.ErrConflict
		}
		updated = current
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to swap account: %w", err)
	}
	return updated, nil
}

func (r *SQLiteAccountRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.DB.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *SQLiteAccountRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

// SQLiteSessionRepository stores session records in a SQLite database
type SQLiteSessionRepository struct {
	db *database.SQLiteDB
}

func NewSQLiteSessionRepository(db *database.SQLiteDB) *SQLiteSessionRepository {
	return &SQLiteSessionRepository{db: db}
}

func (r *SQLiteSessionRepository) Create(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		session.ID = uuid.New().String()
	}

	query := `
		INSERT INTO sessions (id, token_hash, account_id, ip_address, user_agent, issued_at, expires_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.DB.ExecContext(ctx, query,
		session.ID, session.TokenHash, session.AccountID, session.IPAddress, session.UserAgent,
		toUnix(session.IssuedAt), toUnix(session.ExpiresAt), toUnix(session.LastSeenAt),
	)
	if err != nil {
		return database.MapSQLiteError(err)
	}
	return nil
}

func (r *SQLiteSessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	query := `
		SELECT id, token_hash, account_id, ip_address, user_agent, issued_at, expires_at, last_seen_at
		FROM sessions WHERE token_hash = ?
	`

	var s models.Session
	var issuedAt, expiresAt, lastSeenAt int64
	err := r.db.DB.QueryRowContext(ctx, query, tokenHash).Scan(
		&s.ID, &s.TokenHash, &s.AccountID, &s.IPAddress, &s.UserAgent,
		&issuedAt, &expiresAt, &lastSeenAt,
	)
	if err != nil {
		return nil, database.MapSQLiteError(err)
	}

	s.IssuedAt = fromUnix(issuedAt)
	s.ExpiresAt = fromUnix(expiresAt)
	s.LastSeenAt = fromUnix(lastSeenAt)
	return &s, nil
}

func (r *SQLiteSessionRepository) Touch(ctx context.Context, tokenHash string, lastSeen, expiresAt time.Time) error {
	res, err := r.db.DB.ExecContext(ctx,
		`UPDATE sessions SET last_seen_at = ?, expires_at = ? WHERE token_hash = ?`,
		toUnix(lastSeen), toUnix(expiresAt), tokenHash,
	)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *SQLiteSessionRepository) DeleteByTokenHash(ctx context.Context, tokenHash string) error {
	if _, err := r.db.DB.ExecContext(ctx, `DELETE FROM sessions WHERE token_hash = ?`, tokenHash); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (r *SQLiteSessionRepository) DeleteByAccount(ctx context.Context, accountID string) (int64, error) {
	res, err := r.db.DB.ExecContext(ctx, `DELETE FROM sessions WHERE account_id = ?`, accountID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete account sessions: %w", err)
	}
	return res.RowsAffected()
}

func (r *SQLiteSessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.DB.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, toUnix(now))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}
