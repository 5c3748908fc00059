package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/lockbox/internal/auth"
	"github.com/BradenHooton/lockbox/internal/lockout"
	"github.com/BradenHooton/lockbox/internal/models"
	"github.com/BradenHooton/lockbox/internal/ratelimit"
	"github.com/BradenHooton/lockbox/internal/repositories"
	"github.com/BradenHooton/lockbox/internal/session"
	pkgauth "github.com/BradenHooton/lockbox/pkg/auth"
	pkglogger "github.com/BradenHooton/lockbox/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/pbkdf2"
)

const alicePassword = "Abcdef1!"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	svc      *AuthService
	accounts *repositories.MemoryAccountRepository
	sessions *session.Manager
	hasher   *pkgauth.Hasher
	clock    *testClock
	events   *RecordingPublisher
	notifier *MockNotifier
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() AuthConfig {
	cfg := DefaultAuthConfig()
	cfg.Lockout = lockout.Policy{MaxAttempts: 5, Duration: 900 * time.Second}
	cfg.RateLimitMax = 1000
	cfg.RateLimitWindow = time.Minute
	return cfg
}

func newHarness(t *testing.T, cfg AuthConfig, timing *auth.TimingDelay) *harness {
	t.Helper()

	hasher, err := pkgauth.NewHasher(4)
	require.NoError(t, err)

	clock := &testClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	logger := testLogger()
	accounts := repositories.NewMemoryAccountRepository()
	sessions := session.NewManager(
		repositories.NewMemorySessionRepository(),
		accounts,
		auth.NewSessionTokenCodec("test-secret-key-min-32-characters-long"),
		session.Config{Lifetime: 30 * time.Minute},
		logger,
		session.WithClock(clock.Now),
	)
	events := &RecordingPublisher{}
	notifier := &MockNotifier{}

	svc := NewAuthService(
		accounts,
		sessions,
		hasher,
		ratelimit.New(ratelimit.WithClock(clock.Now)),
		timing,
		cfg,
		logger,
		pkglogger.NewAuditLogger(logger),
		WithClock(clock.Now),
		WithEventPublisher(events),
		WithNotifier(notifier),
	)

	return &harness{
		svc:      svc,
		accounts: accounts,
		sessions: sessions,
		hasher:   hasher,
		clock:    clock,
		events:   events,
		notifier: notifier,
	}
}

func (h *harness) registerAlice(t *testing.T) *models.Account {
	t.Helper()
	acct, err := h.svc.Register(context.Background(), "alice", "alice@x.com", alicePassword)
	require.NoError(t, err)
	return acct
}

var meta = LoginMeta{SourceAddress: "203.0.113.7", UserAgent: "go-test"}

// ============================================================================
// Register
// ============================================================================

func TestAuthService_Register_NormalizesIdentity(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	acct, err := h.svc.Register(context.Background(), "  alice ", " Alice@X.com ", alicePassword)
	require.NoError(t, err)

	assert.Equal(t, "alice", acct.Username)
	assert.Equal(t, "alice@x.com", acct.Email)
	assert.Equal(t, 0, acct.FailedAttempts)
	assert.Nil(t, acct.LockedUntil)
	assert.Nil(t, acct.LastLoginAt)
	assert.Equal(t, models.RoleUser, acct.Role)
	assert.NotEqual(t, alicePassword, acct.PasswordHash)
	assert.True(t, h.hasher.Verify(acct.PasswordHash, alicePassword))

	assert.Equal(t, []string{models.EventAccountRegistered}, h.events.Types())
}

func TestAuthService_Register_DuplicateIdentity(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.registerAlice(t)

	tests := []struct {
		name     string
		username string
		email    string
		field    string
	}{
		{"same username", "alice", "other@x.com", models.FieldUsername},
		{"same email", "bob", "alice@x.com", models.FieldEmail},
		{"same email different case", "bob", "ALICE@x.com", models.FieldEmail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Register(context.Background(), tt.username, tt.email, alicePassword)
			require.ErrorIs(t, err, models.ErrDuplicateIdentity)

			var dup *models.DuplicateIdentityError
			require.True(t, errors.As(err, &dup))
			assert.Equal(t, tt.field, dup.Field)
		})
	}
}

func TestAuthService_Register_UsernameCannotShadowAnotherEmail(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	ctx := context.Background()

	victim, err := h.svc.Register(ctx, "victim", "victim@x.com", alicePassword)
	require.NoError(t, err)

	_, err = h.svc.Register(ctx, "victim@x.com", "mallory@y.com", alicePassword)
	require.ErrorIs(t, err, models.ErrBadRequest)
	_, err = h.accounts.GetByEmail(ctx, "mallory@y.com")
	assert.ErrorIs(t, err, models.ErrNotFound)

	result, err := h.svc.Login(ctx, "victim@x.com", alicePassword, meta)
	require.NoError(t, err)
	assert.Equal(t, victim.ID, result.Account.ID)
}

func TestAuthService_Register_EmailCannotMatchExistingUsername(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	ctx := context.Background()

	// accounts imported before usernames were restricted may still carry an "@"
	_, err := h.accounts.Create(ctx, &models.Account{
		Username:     "legacy@x.com",
		Email:        "legacy-owner@x.com",
		PasswordHash: "digest",
	})
	require.NoError(t, err)

	_, err = h.svc.Register(ctx, "bob", "Legacy@X.com", alicePassword)
	require.ErrorIs(t, err, models.ErrDuplicateIdentity)

	var dup *models.DuplicateIdentityError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, models.FieldEmail, dup.Field)
}

func TestAuthService_Register_WeakPassword(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	_, err := h.svc.Register(context.Background(), "alice", "alice@x.com", "abc")
	require.ErrorIs(t, err, models.ErrWeakPassword)

	var weak *models.WeakPasswordError
	require.True(t, errors.As(err, &weak))
	assert.GreaterOrEqual(t, len(weak.Violations), 3)

	_, err = h.accounts.GetByUsername(context.Background(), "alice")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAuthService_Register_MissingIdentity(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	_, err := h.svc.Register(context.Background(), "   ", "alice@x.com", alicePassword)
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestAuthService_Register_PersistenceFailureIsGeneric(t *testing.T) {
	hasher, err := pkgauth.NewHasher(4)
	require.NoError(t, err)

	repo := &MockAccountRepository{
		CreateFunc: func(ctx context.Context, acct *models.Account) (*models.Account, error) {
			return nil, errors.New("pq: connection reset by peer")
		},
	}
	logger := testLogger()
	svc := NewAuthService(repo, nil, hasher, ratelimit.New(), nil, testConfig(), logger, pkglogger.NewAuditLogger(logger))

	_, err = svc.Register(context.Background(), "alice", "alice@x.com", alicePassword)
	assert.ErrorIs(t, err, models.ErrPersistence)
	assert.NotContains(t, err.Error(), "connection reset")
}

func TestAuthService_Register_LookupFailureIsPersistence(t *testing.T) {
	hasher, err := pkgauth.NewHasher(4)
	require.NoError(t, err)

	repo := &MockAccountRepository{
		GetByUsernameFunc: func(ctx context.Context, username string) (*models.Account, error) {
			return nil, errors.New("timeout")
		},
	}
	logger := testLogger()
	svc := NewAuthService(repo, nil, hasher, ratelimit.New(), nil, testConfig(), logger, pkglogger.NewAuditLogger(logger))

	_, err = svc.Register(context.Background(), "alice", "alice@x.com", alicePassword)
	assert.ErrorIs(t, err, models.ErrPersistence)
}

func TestAuthService_Register_CreateRaceReportsDuplicate(t *testing.T) {
	hasher, err := pkgauth.NewHasher(4)
	require.NoError(t, err)

	repo := &MockAccountRepository{
		CreateFunc: func(ctx context.Context, acct *models.Account) (*models.Account, error) {
			return nil, &models.DuplicateIdentityError{Field: models.FieldEmail}
		},
	}
	logger := testLogger()
	svc := NewAuthService(repo, nil, hasher, ratelimit.New(), nil, testConfig(), logger, pkglogger.NewAuditLogger(logger))

	_, err = svc.Register(context.Background(), "alice", "alice@x.com", alicePassword)
	var dup *models.DuplicateIdentityError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, models.FieldEmail, dup.Field)
}

// ============================================================================
// Login
// ============================================================================

func TestAuthService_AliceScenario(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	ctx := context.Background()

	alice, err := h.svc.Register(ctx, "alice", "alice@x.com", alicePassword)
	require.NoError(t, err)

	_, err = h.svc.Register(ctx, "alice", "alice@x.com", alicePassword)
	require.ErrorIs(t, err, models.ErrDuplicateIdentity)

	for i := 1; i <= 4; i++ {
		_, err := h.svc.Login(ctx, "alice", "wrong", meta)
		require.ErrorIs(t, err, models.ErrInvalidCredentials, "attempt %d", i)
	}

	_, err = h.svc.Login(ctx, "alice", "wrong", meta)
	require.ErrorIs(t, err, models.ErrAccountLocked)
	var locked *models.AccountLockedError
	require.True(t, errors.As(err, &locked))
	assert.Equal(t, 900, locked.RemainingSeconds())

	// correct password while locked
	_, err = h.svc.Login(ctx, "alice", alicePassword, meta)
	require.ErrorIs(t, err, models.ErrAccountLocked)

	h.clock.Advance(900*time.Second + time.Second)

	result, err := h.svc.Login(ctx, "alice", alicePassword, meta)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Account.FailedAttempts)
	assert.Nil(t, result.Account.LockedUntil)
	require.NotNil(t, result.Account.LastLoginAt)

	accountID, err := h.sessions.Validate(ctx, result.Token)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, accountID)
}

func TestAuthService_Login_ByEmailCaseInsensitive(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	alice := h.registerAlice(t)

	result, err := h.svc.Login(context.Background(), " ALICE@x.com ", alicePassword, meta)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, result.Account.ID)
	assert.Equal(t, h.clock.Now().Add(30*time.Minute), result.ExpiresAt)
}

func TestAuthService_Login_UnknownAndWrongPasswordLookAlike(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.registerAlice(t)

	_, unknownErr := h.svc.Login(context.Background(), "mallory", "whatever", meta)
	_, wrongErr := h.svc.Login(context.Background(), "alice", "whatever", meta)

	assert.Equal(t, models.ErrInvalidCredentials, unknownErr)
	assert.Equal(t, models.ErrInvalidCredentials, wrongErr)
	assert.Equal(t, unknownErr.Error(), wrongErr.Error())
}

func TestAuthService_Login_UnknownAccountLeavesNoState(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	alice := h.registerAlice(t)

	for i := 0; i < 10; i++ {
		_, err := h.svc.Login(context.Background(), "mallory", alicePassword, meta)
		require.ErrorIs(t, err, models.ErrInvalidCredentials)
	}

	stored, err := h.accounts.GetByID(context.Background(), alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.FailedAttempts)
}

func TestAuthService_Login_TimingIsIndistinguishable(t *testing.T) {
	if testing.Short() {
		t.Skip("timing test")
	}

	timing := auth.NewTimingDelay(auth.TimingConfig{Floor: 60 * time.Millisecond})
	cfg := testConfig()
	cfg.Lockout.MaxAttempts = 1000
	h := newHarness(t, cfg, timing)
	h.registerAlice(t)

	measure := func(identifier string) time.Duration {
		var total time.Duration
		for i := 0; i < 5; i++ {
			start := time.Now()
			_, err := h.svc.Login(context.Background(), identifier, "wrong-password", meta)
			require.ErrorIs(t, err, models.ErrInvalidCredentials)
			total += time.Since(start)
		}
		return total / 5
	}

	unknown := measure("mallory")
	existing := measure("alice")

	assert.GreaterOrEqual(t, unknown, 60*time.Millisecond)
	assert.GreaterOrEqual(t, existing, 60*time.Millisecond)

	diff := unknown - existing
	if diff < 0 {
		diff = -diff
	}
	assert.Less(t, diff, 25*time.Millisecond)
}

func TestAuthService_Login_RateLimitedFirst(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitMax = 3
	h := newHarness(t, cfg, nil)
	h.registerAlice(t)

	for i := 0; i < 3; i++ {
		_, err := h.svc.Login(context.Background(), "nobody", "x", meta)
		require.ErrorIs(t, err, models.ErrInvalidCredentials)
	}

	// even the right password is throttled, and the attempt never reaches the account
	_, err := h.svc.Login(context.Background(), "alice", alicePassword, meta)
	require.ErrorIs(t, err, models.ErrRateLimited)
	var limited *models.RateLimitedError
	require.True(t, errors.As(err, &limited))
	assert.Equal(t, time.Minute, limited.RetryAfter)

	other := LoginMeta{SourceAddress: "198.51.100.1"}
	_, err = h.svc.Login(context.Background(), "alice", alicePassword, other)
	assert.NoError(t, err)

	h.clock.Advance(time.Minute)
	_, err = h.svc.Login(context.Background(), "alice", alicePassword, meta)
	assert.NoError(t, err)
}

func TestAuthService_Login_SuccessResetsCounter(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	alice := h.registerAlice(t)

	for i := 0; i < 4; i++ {
		_, _ = h.svc.Login(context.Background(), "alice", "wrong", meta)
	}
	stored, err := h.accounts.GetByID(context.Background(), alice.ID)
	require.NoError(t, err)
	require.Equal(t, 4, stored.FailedAttempts)

	_, err = h.svc.Login(context.Background(), "alice", alicePassword, meta)
	require.NoError(t, err)

	stored, err = h.accounts.GetByID(context.Background(), alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.FailedAttempts)

	// the next four failures do not lock
	for i := 0; i < 4; i++ {
		_, err := h.svc.Login(context.Background(), "alice", "wrong", meta)
		assert.ErrorIs(t, err, models.ErrInvalidCredentials)
	}
}

func TestAuthService_Login_FailureAfterExpiredLockRelocks(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.registerAlice(t)

	for i := 0; i < 5; i++ {
		_, _ = h.svc.Login(context.Background(), "alice", "wrong", meta)
	}
	h.clock.Advance(901 * time.Second)

	_, err := h.svc.Login(context.Background(), "alice", "wrong", meta)
	assert.ErrorIs(t, err, models.ErrAccountLocked)
}

func TestAuthService_Login_LockoutNotifiesAndPublishes(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	alice := h.registerAlice(t)

	for i := 0; i < 5; i++ {
		_, _ = h.svc.Login(context.Background(), "alice", "wrong", meta)
	}
	// attempts against the locked account do not notify again
	_, _ = h.svc.Login(context.Background(), "alice", "wrong", meta)

	assert.Equal(t, 1, h.notifier.Count())
	assert.Equal(t, []string{alice.ID}, h.notifier.Notified)
	assert.Contains(t, h.events.Types(), models.EventAccountLocked)
}

func TestAuthService_Login_NotifierFailureDoesNotChangeOutcome(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.notifier.Err = errors.New("ses throttled")
	h.registerAlice(t)

	var err error
	for i := 0; i < 5; i++ {
		_, err = h.svc.Login(context.Background(), "alice", "wrong", meta)
	}
	assert.ErrorIs(t, err, models.ErrAccountLocked)
}

func legacyDigest(password, salt string) string {
	key := pbkdf2.Key([]byte(password), []byte(salt), 1000, sha256.Size, sha256.New)
	return "pbkdf2:sha256:1000$" + salt + "$" + hex.EncodeToString(key)
}

func TestAuthService_Login_UpgradesLegacyHash(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	legacy, err := h.accounts.Create(context.Background(), &models.Account{
		Username:     "legacy",
		Email:        "legacy@x.com",
		PasswordHash: legacyDigest(alicePassword, "NaCl"),
	})
	require.NoError(t, err)

	_, err = h.svc.Login(context.Background(), "legacy", alicePassword, meta)
	require.NoError(t, err)

	stored, err := h.accounts.GetByID(context.Background(), legacy.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stored.PasswordHash, "$2"))
	assert.False(t, h.hasher.NeedsRehash(stored.PasswordHash))

	_, err = h.svc.Login(context.Background(), "legacy", alicePassword, meta)
	assert.NoError(t, err)
}

func TestAuthService_Login_ConcurrentFailuresAreAllCounted(t *testing.T) {
	cfg := testConfig()
	cfg.Lockout.MaxAttempts = 100
	h := newHarness(t, cfg, nil)
	alice := h.registerAlice(t)

	const workers = 6
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.Login(context.Background(), "alice", "wrong", meta)
			assert.ErrorIs(t, err, models.ErrInvalidCredentials)
		}()
	}
	wg.Wait()

	stored, err := h.accounts.GetByID(context.Background(), alice.ID)
	require.NoError(t, err)
	assert.Equal(t, workers, stored.FailedAttempts)
}

func TestAuthService_Login_StoreFailureIsPersistence(t *testing.T) {
	hasher, err := pkgauth.NewHasher(4)
	require.NoError(t, err)
	digest, err := hasher.Hash(alicePassword)
	require.NoError(t, err)

	repo := &MockAccountRepository{
		GetByUsernameFunc: func(ctx context.Context, username string) (*models.Account, error) {
			return &models.Account{ID: "a1", Username: "alice", PasswordHash: digest, Version: 1}, nil
		},
		CompareAndSwapFunc: func(ctx context.Context, acct *models.Account) (*models.Account, error) {
			return nil, errors.New("disk full")
		},
	}
	logger := testLogger()
	svc := NewAuthService(repo, nil, hasher, ratelimit.New(), nil, testConfig(), logger, pkglogger.NewAuditLogger(logger))

	_, err = svc.Login(context.Background(), "alice", "wrong", meta)
	assert.ErrorIs(t, err, models.ErrPersistence)

	_, err = svc.Login(context.Background(), "alice", alicePassword, meta)
	assert.ErrorIs(t, err, models.ErrPersistence)
}

// ============================================================================
// Logout / CurrentAccount
// ============================================================================

func TestAuthService_LogoutRevokesSession(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	alice := h.registerAlice(t)

	result, err := h.svc.Login(context.Background(), "alice", alicePassword, meta)
	require.NoError(t, err)

	current, err := h.svc.CurrentAccount(context.Background(), result.Token)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, current.ID)

	require.NoError(t, h.svc.Logout(context.Background(), result.Token))

	_, err = h.svc.CurrentAccount(context.Background(), result.Token)
	assert.ErrorIs(t, err, models.ErrSessionInvalid)

	require.NotEmpty(t, h.events.Events)
	last := h.events.Events[len(h.events.Events)-1]
	assert.Equal(t, models.EventLoggedOut, last.Type)
	assert.Equal(t, alice.ID, last.AccountID)
	published := len(h.events.Events)

	assert.NoError(t, h.svc.Logout(context.Background(), result.Token))
	assert.NoError(t, h.svc.Logout(context.Background(), "garbage"))
	assert.Len(t, h.events.Events, published, "nothing was revoked, so nothing is published")
}

func TestAuthService_CurrentAccount_ExpiredSession(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.registerAlice(t)

	result, err := h.svc.Login(context.Background(), "alice", alicePassword, meta)
	require.NoError(t, err)

	h.clock.Advance(30 * time.Minute)
	_, err = h.svc.CurrentAccount(context.Background(), result.Token)
	assert.ErrorIs(t, err, models.ErrSessionInvalid)
}
