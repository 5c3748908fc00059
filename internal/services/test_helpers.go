package services

import (
	"context"
	"sync"
	"time"

	"github.com/BradenHooton/lockbox/internal/models"
)

// MockAccountRepository implements AccountRepository for testing
type MockAccountRepository struct {
	CreateFunc         func(ctx context.Context, acct *models.Account) (*models.Account, error)
	GetByIDFunc        func(ctx context.Context, id string) (*models.Account, error)
	GetByUsernameFunc  func(ctx context.Context, username string) (*models.Account, error)
	GetByEmailFunc     func(ctx context.Context, email string) (*models.Account, error)
	CompareAndSwapFunc func(ctx context.Context, acct *models.Account) (*models.Account, error)
}

func (m *MockAccountRepository) Create(ctx context.Context, acct *models.Account) (*models.Account, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, acct)
	}
	return nil, models.ErrPersistence
}

func (m *MockAccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) GetByUsername(ctx context.Context, username string) (*models.Account, error) {
	if m.GetByUsernameFunc != nil {
		return m.GetByUsernameFunc(ctx, username)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) CompareAndSwap(ctx context.Context, acct *models.Account) (*models.Account, error) {
	if m.CompareAndSwapFunc != nil {
		return m.CompareAndSwapFunc(ctx, acct)
	}
	return nil, models.ErrNotFound
}

// RecordingPublisher keeps every published event in memory
type RecordingPublisher struct {
	mu     sync.Mutex
	Events []models.SecurityEvent
}

func (p *RecordingPublisher) Publish(ctx context.Context, exchange, routingKey string, body any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if event, ok := body.(models.SecurityEvent); ok {
		p.Events = append(p.Events, event)
	}
	return nil
}

// Types returns the event types in publish order
func (p *RecordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, len(p.Events))
	for i, e := range p.Events {
		types[i] = e.Type
	}
	return types
}

// MockNotifier records lockout notifications
type MockNotifier struct {
	mu       sync.Mutex
	Notified []string
	Err      error
}

func (n *MockNotifier) NotifyLockout(ctx context.Context, acct *models.Account, until time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Notified = append(n.Notified, acct.ID)
	return n.Err
}

// Count returns how many notifications were sent
func (n *MockNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.Notified)
}
