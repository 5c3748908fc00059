package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SessionPurger deletes sessions past their expiry
type SessionPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// WindowSweeper drops rate-limit windows with no live entries
type WindowSweeper interface {
	Sweep(now time.Time) int
}

// CleanupManager periodically removes expired sessions and idle limiter windows
type CleanupManager struct {
	sessions SessionPurger
	limiter  WindowSweeper
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCleanupManager creates a new cleanup manager. limiter may be nil.
func NewCleanupManager(
	sessions SessionPurger,
	limiter WindowSweeper,
	logger *slog.Logger,
	interval time.Duration,
) *CleanupManager {
	return &CleanupManager{
		sessions: sessions,
		limiter:  limiter,
		logger:   logger,
		interval: interval,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the periodic cleanup task until Stop is called or ctx is done
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			cm.RunOnce(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunOnce performs a single cleanup pass
func (cm *CleanupManager) RunOnce(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rowsDeleted, err := cm.sessions.PurgeExpired(cleanupCtx)
	if err != nil {
		cm.logger.Error("failed to purge expired sessions", slog.Any("error", err))
	} else if rowsDeleted > 0 {
		cm.logger.Info("expired session cleanup completed", slog.Int64("rows_deleted", rowsDeleted))
	}

	if cm.limiter != nil {
		if dropped := cm.limiter.Sweep(cm.now()); dropped > 0 {
			cm.logger.Debug("idle rate limit windows dropped", slog.Int("windows", dropped))
		}
	}
}

// Stop signals the cleanup manager to stop. Safe to call more than once.
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
