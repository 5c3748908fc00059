package lockout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/lockbox/internal/models"
)

// maxSwapAttempts bounds the re-read loop when concurrent logins race on one account
const maxSwapAttempts = 8

// Store is the subset of the account store the tracker needs.
//
// CompareAndSwap must persist acct only if the stored Version still equals
// acct.Version, returning the stored record with its new Version, or
// models.ErrConflict when another writer got there first.
type Store interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
	CompareAndSwap(ctx context.Context, acct *models.Account) (*models.Account, error)
}

// Tracker persists lockout transitions with optimistic concurrency.
// Two parallel failures on the same account always end up as N+1 and N+2.
type Tracker struct {
	store  Store
	policy Policy
	now    func() time.Time
}

// NewTracker creates a Tracker. A nil clock means time.Now.
func NewTracker(store Store, policy Policy, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		store:  store,
		policy: policy.normalized(),
		now:    now,
	}
}

// Policy returns the effective policy
func (t *Tracker) Policy() Policy {
	return t.policy
}

// Now returns the tracker's current time
func (t *Tracker) Now() time.Time {
	return t.now()
}

// RecordFailure applies a failed attempt to acct and persists it.
//
// If a concurrent writer locked the account in the meantime, the attempt is not
// counted and the returned Outcome reports the existing lock.
func (t *Tracker) RecordFailure(ctx context.Context, acct *models.Account) (Outcome, *models.Account, error) {
	var out Outcome
	updated, err := t.swap(ctx, acct, func(working *models.Account, now time.Time) bool {
		if IsLocked(working, now) {
			out = Outcome{Locked: true, AlreadyLocked: true, Attempts: working.FailedAttempts, LockedUntil: *working.LockedUntil}
			return false
		}
		out = ApplyFailure(working, now, t.policy)
		return true
	})
	if err != nil {
		return Outcome{}, nil, err
	}
	return out, updated, nil
}

// RecordSuccess resets the lockout state after a verified login.
// extra, if not nil, is applied in the same write (used to upgrade the password hash).
func (t *Tracker) RecordSuccess(ctx context.Context, acct *models.Account, extra func(*models.Account)) (*models.Account, error) {
	return t.swap(ctx, acct, func(working *models.Account, now time.Time) bool {
		ApplySuccess(working, now)
		if extra != nil {
			extra(working)
		}
		return true
	})
}

// Unlock clears the lockout of the account with the given id
func (t *Tracker) Unlock(ctx context.Context, accountID string) (*models.Account, error) {
	acct, err := t.store.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return t.swap(ctx, acct, func(working *models.Account, _ time.Time) bool {
		Unlock(working)
		return true
	})
}

// swap runs mutate against a copy of acct and writes it back, re-reading on conflict.
// mutate returns false when there is nothing to write.
func (t *Tracker) swap(ctx context.Context, acct *models.Account, mutate func(*models.Account, time.Time) bool) (*models.Account, error) {
	current := acct
	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		working := current.Clone()
		if !mutate(working, t.now()) {
			return current, nil
		}

		updated, err := t.store.CompareAndSwap(ctx, working)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, models.ErrConflict) {
			return nil, err
		}

		current, err = t.store.GetByID(ctx, acct.ID)
		if err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("account %s: %d concurrent updates in a row: %w", acct.ID, maxSwapAttempts, models.ErrConflict)
}
