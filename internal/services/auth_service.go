package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/lockbox/internal/auth"
	"github.com/BradenHooton/lockbox/internal/lockout"
	"github.com/BradenHooton/lockbox/internal/models"
	"github.com/BradenHooton/lockbox/internal/ratelimit"
	"github.com/BradenHooton/lockbox/internal/session"
	pkgauth "github.com/BradenHooton/lockbox/pkg/auth"
	pkglogger "github.com/BradenHooton/lockbox/pkg/logger"
)

// DefaultEventExchange is the topic exchange security events are published to
const DefaultEventExchange = "lockbox.security"

// AccountRepository is the account store contract.
//
// CompareAndSwap must write acct only if the stored Version equals acct.Version
// and return models.ErrConflict otherwise. Create must report unique violations
// as *models.DuplicateIdentityError.
type AccountRepository interface {
	Create(ctx context.Context, acct *models.Account) (*models.Account, error)
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByUsername(ctx context.Context, username string) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	CompareAndSwap(ctx context.Context, acct *models.Account) (*models.Account, error)
}

// SessionRepository is the session store contract
type SessionRepository interface {
	session.Store
}

// PasswordHasher hashes and verifies passwords
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(digest, password string) bool
	VerifyDummy(password string)
	NeedsRehash(digest string) bool
}

// RateLimiter throttles attempts per source address
type RateLimiter interface {
	Check(key string, max int, window time.Duration) ratelimit.Decision
}

// SessionIssuer is the session lifecycle used by the services
type SessionIssuer interface {
	Issue(ctx context.Context, accountID string, meta session.Meta) (string, *models.Session, error)
	Authenticate(ctx context.Context, token string) (*models.Account, *models.Session, error)
	Revoke(ctx context.Context, token string) (*models.Session, error)
	RevokeAll(ctx context.Context, accountID string) (int64, error)
}

// EventPublisher publishes security events
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body any) error
}

// AuthConfig holds the tunables of the login flow
type AuthConfig struct {
	Lockout         lockout.Policy
	RateLimitMax    int
	RateLimitWindow time.Duration
	PasswordPolicy  pkgauth.PasswordPolicy
	EventExchange   string
}

// DefaultAuthConfig returns the documented defaults
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		Lockout:         lockout.DefaultPolicy(),
		RateLimitMax:    20,
		RateLimitWindow: 60 * time.Second,
		PasswordPolicy:  pkgauth.DefaultPasswordPolicy(),
		EventExchange:   DefaultEventExchange,
	}
}

// LoginMeta is request information the login flow needs
type LoginMeta struct {
	SourceAddress string
	UserAgent     string
}

// LoginResult is returned by a successful login
type LoginResult struct {
	Account   *models.Account
	Token     string
	ExpiresAt time.Time
}

// AuthService orchestrates registration, login and logout
type AuthService struct {
	accounts AccountRepository
	sessions SessionIssuer
	hasher   PasswordHasher
	limiter  RateLimiter
	timing   *auth.TimingDelay
	tracker  *lockout.Tracker
	config   AuthConfig
	logger   *slog.Logger
	audit    *pkglogger.AuditLogger
	notifier LockoutNotifier
	events   EventPublisher
	now      func() time.Time
}

// AuthOption configures optional collaborators of AuthService
type AuthOption func(*AuthService)

// WithNotifier sets the lockout notifier
func WithNotifier(n LockoutNotifier) AuthOption {
	return func(s *AuthService) { s.notifier = n }
}

// WithEventPublisher sets where security events go
func WithEventPublisher(p EventPublisher) AuthOption {
	return func(s *AuthService) { s.events = p }
}

// WithClock replaces time.Now for lockout and rate-limit decisions
func WithClock(now func() time.Time) AuthOption {
	return func(s *AuthService) { s.now = now }
}

// NewAuthService creates a new AuthService. timing may be nil to disable padding.
func NewAuthService(
	accounts AccountRepository,
	sessions SessionIssuer,
	hasher PasswordHasher,
	limiter RateLimiter,
	timing *auth.TimingDelay,
	config AuthConfig,
	logger *slog.Logger,
	audit *pkglogger.AuditLogger,
	opts ...AuthOption,
) *AuthService {
	if config.EventExchange == "" {
		config.EventExchange = DefaultEventExchange
	}
	s := &AuthService{
		accounts: accounts,
		sessions: sessions,
		hasher:   hasher,
		limiter:  limiter,
		timing:   timing,
		config:   config,
		logger:   logger,
		audit:    audit,
		notifier: NoopNotifier{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.tracker = lockout.NewTracker(accounts, config.Lockout, s.now)
	return s
}

// Register creates an account.
// Username is trimmed, email is trimmed and lowercased, both must be unused.
// Login accepts either as identifier, so a username may not contain "@" and
// an email may not equal an existing username.
func (s *AuthService) Register(ctx context.Context, username, email, password string) (*models.Account, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	if username == "" || email == "" {
		return nil, fmt.Errorf("%w: username and email are required", models.ErrBadRequest)
	}
	if strings.Contains(username, "@") {
		return nil, fmt.Errorf("%w: username must not contain '@'", models.ErrBadRequest)
	}

	if err := s.ensureUnused(ctx, models.FieldUsername, username, s.accounts.GetByUsername); err != nil {
		return nil, err
	}
	if err := s.ensureUnused(ctx, models.FieldEmail, email, s.accounts.GetByEmail); err != nil {
		return nil, err
	}
	if err := s.ensureUnused(ctx, models.FieldEmail, email, s.accounts.GetByUsername); err != nil {
		return nil, err
	}

	if err := s.config.PasswordPolicy.Validate(password); err != nil {
		var policyErr *pkgauth.PasswordPolicyError
		if errors.As(err, &policyErr) {
			return nil, &models.WeakPasswordError{Violations: policyErr.Violations}
		}
		return nil, &models.WeakPasswordError{Violations: []string{err.Error()}}
	}

	digest, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	created, err := s.accounts.Create(ctx, &models.Account{
		Username:     username,
		Email:        email,
		PasswordHash: digest,
		Role:         models.RoleUser,
	})
	if err != nil {
		// a concurrent registration can still win the race after the checks above
		if errors.Is(err, models.ErrDuplicateIdentity) {
			return nil, err
		}
		s.logger.Error("failed to create account",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Any("error", err))
		return nil, models.ErrPersistence
	}

	s.audit.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType: "register",
		AccountID: created.ID,
		Success:   true,
	})
	s.emit(ctx, models.SecurityEvent{Type: models.EventAccountRegistered, AccountID: created.ID})

	return created, nil
}

func (s *AuthService) ensureUnused(ctx context.Context, field, value string, lookup func(context.Context, string) (*models.Account, error)) error {
	_, err := lookup(ctx, value)
	switch {
	case err == nil:
		return &models.DuplicateIdentityError{Field: field}
	case errors.Is(err, models.ErrNotFound):
		return nil
	default:
		s.logger.Error("failed to check identity", slog.String("field", field), slog.Any("error", err))
		return models.ErrPersistence
	}
}

// Login authenticates identifier (username or email) and password.
//
// Steps run in a fixed order: source rate limit, account lookup, lockout check,
// password verification, then either the success or the failure transition.
// The password hasher runs whether or not the account exists, and every
// failure is padded to the same minimum duration.
func (s *AuthService) Login(ctx context.Context, identifier, password string, meta LoginMeta) (*LoginResult, error) {
	start := time.Now()
	identifier = strings.TrimSpace(identifier)

	decision := s.limiter.Check(meta.SourceAddress, s.config.RateLimitMax, s.config.RateLimitWindow)
	if !decision.Allowed {
		s.recordFailure(ctx, "", identifier, meta, models.ReasonRateLimited, 0)
		s.pad(ctx, start)
		return nil, &models.RateLimitedError{RetryAfter: decision.RetryAfter}
	}

	acct, err := s.lookup(ctx, identifier)
	if err != nil {
		s.pad(ctx, start)
		return nil, err
	}

	now := s.now()
	if acct != nil && lockout.IsLocked(acct, now) {
		s.recordFailure(ctx, acct.ID, identifier, meta, models.ReasonAccountLocked, acct.FailedAttempts)
		s.pad(ctx, start)
		return nil, &models.AccountLockedError{Remaining: lockout.Remaining(acct, now)}
	}

	if acct == nil {
		s.hasher.VerifyDummy(password)
		s.recordFailure(ctx, "", identifier, meta, models.ReasonUnknownAccount, 0)
		s.pad(ctx, start)
		return nil, models.ErrInvalidCredentials
	}

	if !s.hasher.Verify(acct.PasswordHash, password) {
		err := s.failedPassword(ctx, acct, identifier, meta)
		s.pad(ctx, start)
		return nil, err
	}

	return s.succeeded(ctx, acct, password, meta)
}

// lookup finds the account by username, then by lowercased email.
// A missing account is (nil, nil).
func (s *AuthService) lookup(ctx context.Context, identifier string) (*models.Account, error) {
	if identifier == "" {
		return nil, nil
	}

	acct, err := s.accounts.GetByUsername(ctx, identifier)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to look up account by username", slog.Any("error", err))
		return nil, models.ErrPersistence
	}

	acct, err = s.accounts.GetByEmail(ctx, strings.ToLower(identifier))
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to look up account by email", slog.Any("error", err))
		return nil, models.ErrPersistence
	}
	return nil, nil
}

func (s *AuthService) failedPassword(ctx context.Context, acct *models.Account, identifier string, meta LoginMeta) error {
	outcome, updated, err := s.tracker.RecordFailure(ctx, acct)
	if err != nil {
		s.logger.Error("failed to record failed login",
			slog.String("account_id", acct.ID),
			slog.Any("error", err))
		return models.ErrPersistence
	}

	if !outcome.Locked {
		s.recordFailure(ctx, acct.ID, identifier, meta, models.ReasonInvalidCredentials, outcome.Attempts)
		return models.ErrInvalidCredentials
	}

	remaining := outcome.LockedUntil.Sub(s.now())
	if outcome.AlreadyLocked {
		s.recordFailure(ctx, acct.ID, identifier, meta, models.ReasonAccountLocked, outcome.Attempts)
		return &models.AccountLockedError{Remaining: remaining}
	}

	s.recordFailure(ctx, acct.ID, identifier, meta, models.ReasonInvalidCredentials, outcome.Attempts)
	s.audit.LogLockout(ctx, acct.ID, meta.SourceAddress, outcome.Attempts, outcome.LockedUntil)

	until := outcome.LockedUntil
	s.emit(ctx, models.SecurityEvent{
		Type:           models.EventAccountLocked,
		AccountID:      acct.ID,
		SourceAddress:  meta.SourceAddress,
		FailedAttempts: outcome.Attempts,
		LockedUntil:    &until,
	})

	if err := s.notifier.NotifyLockout(ctx, updated, until); err != nil {
		s.logger.Warn("failed to send lockout notification",
			slog.String("account_id", acct.ID),
			slog.Any("error", err))
	}

	return &models.AccountLockedError{Remaining: remaining}
}

func (s *AuthService) succeeded(ctx context.Context, acct *models.Account, password string, meta LoginMeta) (*LoginResult, error) {
	var upgrade func(*models.Account)
	if s.hasher.NeedsRehash(acct.PasswordHash) {
		if digest, err := s.hasher.Hash(password); err == nil {
			upgrade = func(a *models.Account) { a.PasswordHash = digest }
		} else {
			s.logger.Warn("failed to rehash password", slog.String("account_id", acct.ID), slog.Any("error", err))
		}
	}

	updated, err := s.tracker.RecordSuccess(ctx, acct, upgrade)
	if err != nil {
		s.logger.Error("failed to record successful login",
			slog.String("account_id", acct.ID),
			slog.Any("error", err))
		return nil, models.ErrPersistence
	}
	if upgrade != nil {
		s.logger.Info("password hash upgraded", slog.String("account_id", acct.ID))
	}

	token, record, err := s.sessions.Issue(ctx, updated.ID, session.Meta{
		IPAddress: meta.SourceAddress,
		UserAgent: meta.UserAgent,
	})
	if err != nil {
		return nil, err
	}

	s.audit.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType: "login",
		AccountID: updated.ID,
		IPAddress: meta.SourceAddress,
		UserAgent: meta.UserAgent,
		Success:   true,
	})
	s.emit(ctx, models.SecurityEvent{
		Type:          models.EventLoginSucceeded,
		AccountID:     updated.ID,
		SourceAddress: meta.SourceAddress,
	})

	return &LoginResult{
		Account:   updated,
		Token:     token,
		ExpiresAt: record.ExpiresAt,
	}, nil
}

// Logout revokes the session. Unknown tokens are not an error.
// The revocation event is emitted only when a session was actually removed.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	record, err := s.sessions.Revoke(ctx, token)
	if err != nil {
		return err
	}
	if record == nil {
		return nil
	}

	s.audit.LogAccountAction(ctx, "logout", record.AccountID, record.AccountID, nil)
	s.emit(ctx, models.SecurityEvent{Type: models.EventLoggedOut, AccountID: record.AccountID})
	return nil
}

// CurrentAccount returns the account behind a session token
func (s *AuthService) CurrentAccount(ctx context.Context, token string) (*models.Account, error) {
	acct, _, err := s.sessions.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	return acct, nil
}

func (s *AuthService) recordFailure(ctx context.Context, accountID, identifier string, meta LoginMeta, reason string, attempts int) {
	s.audit.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType:      "login",
		AccountID:      accountID,
		Identifier:     identifier,
		IPAddress:      meta.SourceAddress,
		UserAgent:      meta.UserAgent,
		Success:        false,
		FailureReason:  reason,
		FailedAttempts: attempts,
	})
	s.emit(ctx, models.SecurityEvent{
		Type:           models.EventLoginFailed,
		AccountID:      accountID,
		SourceAddress:  meta.SourceAddress,
		FailureReason:  reason,
		FailedAttempts: attempts,
	})
}

func (s *AuthService) emit(ctx context.Context, event models.SecurityEvent) {
	if s.events == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now().UTC()
	}
	if err := s.events.Publish(ctx, s.config.EventExchange, event.Type, event); err != nil {
		s.logger.Warn("failed to publish security event",
			slog.String("type", event.Type),
			slog.Any("error", err))
	}
}

func (s *AuthService) pad(ctx context.Context, start time.Time) {
	if s.timing != nil {
		s.timing.WaitFromContext(ctx, start, false)
	}
}
