package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BradenHooton/lockbox/internal/lockout"
	"github.com/BradenHooton/lockbox/internal/models"
	pkglogger "github.com/BradenHooton/lockbox/pkg/logger"
)

// AccountStatus is the admin view of an account's lockout state
type AccountStatus struct {
	Account          *models.Account
	State            lockout.State
	RemainingLockout time.Duration
}

// AccountService holds administrative account operations
type AccountService struct {
	accounts AccountRepository
	sessions SessionIssuer
	hasher   PasswordHasher
	tracker  *lockout.Tracker
	logger   *slog.Logger
	audit    *pkglogger.AuditLogger
	events   EventPublisher
	exchange string
	now      func() time.Time
}

// AccountOption configures optional settings of AccountService
type AccountOption func(*AccountService)

// WithAccountEventExchange overrides the exchange unlock events go to
func WithAccountEventExchange(exchange string) AccountOption {
	return func(s *AccountService) {
		if exchange != "" {
			s.exchange = exchange
		}
	}
}

// NewAccountService creates a new AccountService. events may be nil.
func NewAccountService(
	accounts AccountRepository,
	sessions SessionIssuer,
	hasher PasswordHasher,
	policy lockout.Policy,
	logger *slog.Logger,
	audit *pkglogger.AuditLogger,
	events EventPublisher,
	opts ...AccountOption,
) *AccountService {
	s := &AccountService{
		accounts: accounts,
		sessions: sessions,
		hasher:   hasher,
		tracker:  lockout.NewTracker(accounts, policy, nil),
		logger:   logger,
		audit:    audit,
		events:   events,
		exchange: DefaultEventExchange,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Status returns an account together with its current lockout state
func (s *AccountService) Status(ctx context.Context, accountID string) (*AccountStatus, error) {
	acct, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to load account", slog.String("account_id", accountID), slog.Any("error", err))
		return nil, models.ErrPersistence
	}

	now := s.now()
	return &AccountStatus{
		Account:          acct,
		State:            lockout.Evaluate(acct, now),
		RemainingLockout: lockout.Remaining(acct, now),
	}, nil
}

// Unlock clears the lockout and failure counter of an account.
// With revokeSessions set, every session of the account is ended too.
func (s *AccountService) Unlock(ctx context.Context, accountID, actorID string, revokeSessions bool) error {
	if _, err := s.tracker.Unlock(ctx, accountID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to unlock account", slog.String("account_id", accountID), slog.Any("error", err))
		return models.ErrPersistence
	}

	metadata := map[string]string{}
	if revokeSessions && s.sessions != nil {
		n, err := s.sessions.RevokeAll(ctx, accountID)
		if err != nil {
			return err
		}
		metadata["sessions_revoked"] = strconv.FormatInt(n, 10)
	}

	s.audit.LogAccountAction(ctx, "account_unlocked", accountID, actorID, metadata)

	if s.events != nil {
		event := models.SecurityEvent{
			Type:       models.EventAccountUnlocked,
			AccountID:  accountID,
			OccurredAt: s.now().UTC(),
			Metadata:   map[string]string{"actor_id": actorID},
		}
		if err := s.events.Publish(ctx, s.exchange, event.Type, event); err != nil {
			s.logger.Warn("failed to publish security event", slog.String("type", event.Type), slog.Any("error", err))
		}
	}
	return nil
}

// EnsureAdmin creates the bootstrap admin account unless an account with that
// username already exists. It returns true when an account was created.
func (s *AccountService) EnsureAdmin(ctx context.Context, username, email, password string) (bool, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	if strings.Contains(username, "@") {
		return false, fmt.Errorf("admin username must not contain '@'")
	}

	_, err := s.accounts.GetByUsername(ctx, username)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return false, fmt.Errorf("failed to look up admin: %w", err)
	}

	digest, err := s.hasher.Hash(password)
	if err != nil {
		return false, fmt.Errorf("failed to hash admin password: %w", err)
	}

	created, err := s.accounts.Create(ctx, &models.Account{
		Username:     username,
		Email:        email,
		PasswordHash: digest,
		Role:         models.RoleAdmin,
	})
	if err != nil {
		return false, fmt.Errorf("failed to create admin: %w", err)
	}

	s.audit.LogAccountAction(ctx, "admin_bootstrapped", created.ID, "", nil)
	return true, nil
}
