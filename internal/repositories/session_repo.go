package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/lockbox/internal/database"
	"github.com/BradenHooton/lockbox/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SessionRepository stores session records in PostgreSQL
type SessionRepository struct {
	pool *pgxpool.Pool
}

func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{pool: db.Pool}
}

func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		session.ID = uuid.New().String()
	}

	query := `
		INSERT INTO sessions (id, token_hash, account_id, ip_address, user_agent, issued_at, expires_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.pool.Exec(ctx, query,
		session.ID, session.TokenHash, session.AccountID, session.IPAddress, session.UserAgent,
		session.IssuedAt, session.ExpiresAt, session.LastSeenAt,
	)
	if err != nil {
		return database.MapPostgresError(err)
	}
	return nil
}

func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	query := `
		SELECT id, token_hash, account_id, ip_address, user_agent, issued_at, expires_at, last_seen_at
		FROM sessions WHERE token_hash = $1
	`

	var s models.Session
	err := r.pool.QueryRow(ctx, query, tokenHash).Scan(
		&s.ID, &s.TokenHash, &s.AccountID, &s.IPAddress, &s.UserAgent,
		&s.IssuedAt, &s.ExpiresAt, &s.LastSeenAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &s, nil
}

func (r *SessionRepository) Touch(ctx context.Context, tokenHash string, lastSeen, expiresAt time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE sessions SET last_seen_at = $2, expires_at = $3 WHERE token_hash = $1`,
		tokenHash, lastSeen, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *SessionRepository) DeleteByTokenHash(ctx context.Context, tokenHash string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE token_hash = $1`, tokenHash); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (r *SessionRepository) DeleteByAccount(ctx context.Context, accountID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE account_id = $1`, accountID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete account sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
