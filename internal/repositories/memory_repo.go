package repositories

import (
	"context"
	"sync"
	"time"

	"github.com/BradenHooton/lockbox/internal/models"
	"github.com/google/uuid"
)

// MemoryAccountRepository keeps accounts in process memory.
// Used by tests and by STORAGE_DRIVER=memory; nothing survives a restart.
type MemoryAccountRepository struct {
	mu         sync.RWMutex
	accounts   map[string]*models.Account
	byUsername map[string]string
	byEmail    map[string]string
}

// NewMemoryAccountRepository creates an empty MemoryAccountRepository
func NewMemoryAccountRepository() *MemoryAccountRepository {
	return &MemoryAccountRepository{
		accounts:   make(map[string]*models.Account),
		byUsername: make(map[string]string),
		byEmail:    make(map[string]string),
	}
}

func (r *MemoryAccountRepository) Create(ctx context.Context, acct *models.Account) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byUsername[acct.Username]; taken {
		return nil, &models.DuplicateIdentityError{Field: models.FieldUsername}
	}
	if _, taken := r.byEmail[acct.Email]; taken {
		return nil, &models.DuplicateIdentityError{Field: models.FieldEmail}
	}

	stored := acct.Clone()
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	if stored.Role == "" {
		stored.Role = models.RoleUser
	}
	stored.Version = 1

	r.accounts[stored.ID] = stored
	r.byUsername[stored.Username] = stored.ID
	r.byEmail[stored.Email] = stored.ID

	return stored.Clone(), nil
}

func (r *MemoryAccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	acct, ok := r.accounts[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return acct.Clone(), nil
}

func (r *MemoryAccountRepository) GetByUsername(ctx context.Context, username string) (*models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byUsername[username]
	if !ok {
		return nil, models.ErrNotFound
	}
	return r.accounts[id].Clone(), nil
}

func (r *MemoryAccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[email]
	if !ok {
		return nil, models.ErrNotFound
	}
	return r.accounts[id].Clone(), nil
}

// CompareAndSwap writes the mutable lockout and credential fields of acct if
// the stored version still matches acct.Version
func (r *MemoryAccountRepository) CompareAndSwap(ctx context.Context, acct *models.Account) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.accounts[acct.ID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if stored.Version != acct.Version {
		return nil, models.ErrConflict
	}

	next := acct.Clone()
	next.Username = stored.Username
	next.Email = stored.Email
	next.CreatedAt = stored.CreatedAt
	next.UpdatedAt = time.Now().UTC()
	next.Version = stored.Version + 1

	r.accounts[acct.ID] = next
	return next.Clone(), nil
}

// Delete removes an account. Account removal is an operator concern; the
// service itself never calls this.
func (r *MemoryAccountRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	acct, ok := r.accounts[id]
	if !ok {
		return models.ErrNotFound
	}
	delete(r.byUsername, acct.Username)
	delete(r.byEmail, acct.Email)
	delete(r.accounts, id)
	return nil
}

func (r *MemoryAccountRepository) HealthCheck(ctx context.Context) error {
	return nil
}

// MemorySessionRepository keeps sessions in process memory
type MemorySessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

// NewMemorySessionRepository creates an empty MemorySessionRepository
func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{
		sessions: make(map[string]*models.Session),
	}
}

func (r *MemorySessionRepository) Create(ctx context.Context, session *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[session.TokenHash]; exists {
		return models.ErrConflict
	}
	stored := *session
	if stored.ID == "" {
		stored.ID = uuid.New().String()
		session.ID = stored.ID
	}
	r.sessions[session.TokenHash] = &stored
	return nil
}

func (r *MemorySessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[tokenHash]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *session
	return &copied, nil
}

func (r *MemorySessionRepository) Touch(ctx context.Context, tokenHash string, lastSeen, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[tokenHash]
	if !ok {
		return models.ErrNotFound
	}
	session.LastSeenAt = lastSeen
	session.ExpiresAt = expiresAt
	return nil
}

func (r *MemorySessionRepository) DeleteByTokenHash(ctx context.Context, tokenHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, tokenHash)
	return nil
}

func (r *MemorySessionRepository) DeleteByAccount(ctx context.Context, accountID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for hash, session := range r.sessions {
		if session.AccountID == accountID {
			delete(r.sessions, hash)
			deleted++
		}
	}
	return deleted, nil
}

func (r *MemorySessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for hash, session := range r.sessions {
		if session.Expired(now) {
			delete(r.sessions, hash)
			deleted++
		}
	}
	return deleted, nil
}
