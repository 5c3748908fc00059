// Package session issues, validates and revokes login sessions.
//
// A session is a server-side record keyed by the SHA-256 of a random secret.
// Clients hold a signed token carrying that secret, so a token cannot be
// minted without the signing key and cannot outlive its record.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/lockbox/internal/models"
	pkgauth "github.com/BradenHooton/lockbox/pkg/auth"
)

const (
	// DefaultLifetime applies when Config.Lifetime is not set
	DefaultLifetime = 30 * time.Minute

	secretBytes = 32
)

// Store persists session records
type Store interface {
	Create(ctx context.Context, session *models.Session) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error)
	Touch(ctx context.Context, tokenHash string, lastSeen, expiresAt time.Time) error
	DeleteByTokenHash(ctx context.Context, tokenHash string) error
	DeleteByAccount(ctx context.Context, accountID string) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// AccountLookup confirms the owning account still exists
type AccountLookup interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
}

// TokenCodec turns session claims into a client token and back
type TokenCodec interface {
	Encode(claims models.SessionClaims) (string, error)
	Decode(token string) (models.SessionClaims, error)
}

// Config controls session lifetime
type Config struct {
	Lifetime time.Duration
	// Sliding pushes ExpiresAt forward by Lifetime on every successful validation
	Sliding bool
}

// Meta is client information recorded with a new session
type Meta struct {
	IPAddress string
	UserAgent string
}

// Manager implements the session lifecycle on top of a Store
type Manager struct {
	store    Store
	accounts AccountLookup
	codec    TokenCodec
	config   Config
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Manager
type Option func(*Manager)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a Manager
func NewManager(store Store, accounts AccountLookup, codec TokenCodec, config Config, logger *slog.Logger, opts ...Option) *Manager {
	if config.Lifetime <= 0 {
		config.Lifetime = DefaultLifetime
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:    store,
		accounts: accounts,
		codec:    codec,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Lifetime returns the configured session lifetime
func (m *Manager) Lifetime() time.Duration {
	return m.config.Lifetime
}

// Issue creates a session for accountID and returns the client token
func (m *Manager) Issue(ctx context.Context, accountID string, meta Meta) (string, *models.Session, error) {
	secret, err := pkgauth.GenerateSecret(secretBytes)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate session secret: %w", err)
	}

	now := m.now().UTC()
	record := &models.Session{
		TokenHash:  hashSecret(secret),
		AccountID:  accountID,
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
		IssuedAt:   now,
		ExpiresAt:  now.Add(m.config.Lifetime),
		LastSeenAt: now,
	}

	token, err := m.codec.Encode(models.SessionClaims{
		AccountID: accountID,
		Secret:    secret,
		IssuedAt:  now,
	})
	if err != nil {
		return "", nil, err
	}

	if err := m.store.Create(ctx, record); err != nil {
		m.logger.Error("failed to store session", slog.String("account_id", accountID), slog.Any("error", err))
		return "", nil, models.ErrPersistence
	}

	return token, record, nil
}

// Validate returns the account id the token belongs to, or models.ErrSessionInvalid
func (m *Manager) Validate(ctx context.Context, token string) (string, error) {
	_, record, err := m.Authenticate(ctx, token)
	if err != nil {
		return "", err
	}
	return record.AccountID, nil
}

// Authenticate is Validate returning the loaded account and session record.
// Expired sessions and sessions of vanished accounts are deleted on the way.
func (m *Manager) Authenticate(ctx context.Context, token string) (*models.Account, *models.Session, error) {
	claims, err := m.codec.Decode(token)
	if err != nil {
		return nil, nil, models.ErrSessionInvalid
	}

	hash := hashSecret(claims.Secret)
	record, err := m.store.GetByTokenHash(ctx, hash)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil, models.ErrSessionInvalid
		}
		m.logger.Error("failed to load session", slog.Any("error", err))
		return nil, nil, models.ErrPersistence
	}

	if record.AccountID != claims.AccountID {
		return nil, nil, models.ErrSessionInvalid
	}

	now := m.now().UTC()
	if record.Expired(now) {
		m.discard(ctx, hash)
		return nil, nil, models.ErrSessionInvalid
	}

	acct, err := m.accounts.GetByID(ctx, record.AccountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			m.discard(ctx, hash)
			return nil, nil, models.ErrSessionInvalid
		}
		m.logger.Error("failed to load session account", slog.String("account_id", record.AccountID), slog.Any("error", err))
		return nil, nil, models.ErrPersistence
	}

	if m.config.Sliding {
		expires := now.Add(m.config.Lifetime)
		if err := m.store.Touch(ctx, hash, now, expires); err != nil {
			// the session is still valid until its old expiry
			m.logger.Warn("failed to extend session", slog.String("account_id", record.AccountID), slog.Any("error", err))
		} else {
			record.LastSeenAt = now
			record.ExpiresAt = expires
		}
	}

	return acct, record, nil
}

// Revoke deletes the session behind token and returns the removed record.
// Unknown, already revoked or malformed tokens are not an error and yield nil.
func (m *Manager) Revoke(ctx context.Context, token string) (*models.Session, error) {
	claims, err := m.codec.Decode(token)
	if err != nil {
		return nil, nil
	}

	hash := hashSecret(claims.Secret)
	record, err := m.store.GetByTokenHash(ctx, hash)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil
		}
		m.logger.Error("failed to load session", slog.Any("error", err))
		return nil, models.ErrPersistence
	}

	if err := m.store.DeleteByTokenHash(ctx, hash); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil
		}
		m.logger.Error("failed to revoke session", slog.String("account_id", record.AccountID), slog.Any("error", err))
		return nil, models.ErrPersistence
	}
	return record, nil
}

// RevokeAll deletes every session of an account and returns how many there were
func (m *Manager) RevokeAll(ctx context.Context, accountID string) (int64, error) {
	n, err := m.store.DeleteByAccount(ctx, accountID)
	if err != nil {
		m.logger.Error("failed to revoke account sessions", slog.String("account_id", accountID), slog.Any("error", err))
		return 0, models.ErrPersistence
	}
	return n, nil
}

// PurgeExpired reclaims storage held by expired sessions
func (m *Manager) PurgeExpired(ctx context.Context) (int64, error) {
	return m.store.DeleteExpired(ctx, m.now().UTC())
}

func (m *Manager) discard(ctx context.Context, hash string) {
	if err := m.store.DeleteByTokenHash(ctx, hash); err != nil && !errors.Is(err, models.ErrNotFound) {
		m.logger.Warn("failed to delete stale session", slog.Any("error", err))
	}
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
