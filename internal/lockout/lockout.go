// Package lockout implements the per-account failed-attempt state machine.
//
// An account is Active or Locked. Whether it is locked is never stored as a
// flag: IsLocked derives it from LockedUntil and the current time on every
// call, so an expired lockout silently becomes Active without any write.
//
// The counter is not decayed by time. It returns to zero only on a successful
// login or an admin unlock, which means a failure right after a lockout expires
// immediately locks the account again.
package lockout

import (
	"time"

	"github.com/BradenHooton/lockbox/internal/models"
)

const (
	DefaultMaxAttempts = 5
	DefaultDuration    = 15 * time.Minute
)

// State of an account with respect to lockout
type State int

const (
	Active State = iota
	Locked
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Locked:
		return "locked"
	default:
		return "unknown"
	}
}

// Policy holds the lockout threshold and duration
type Policy struct {
	MaxAttempts int
	Duration    time.Duration
}

// DefaultPolicy returns the policy used when nothing is configured
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		Duration:    DefaultDuration,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Duration <= 0 {
		p.Duration = DefaultDuration
	}
	return p
}

// Outcome describes the result of applying a failed attempt
type Outcome struct {
	// Locked is true when the account is Locked after this failure
	Locked bool
	// AlreadyLocked means a concurrent writer locked the account first and
	// this failure was not counted
	AlreadyLocked bool
	Attempts      int
	LockedUntil   time.Time
}

// IsLocked reports whether the account is locked at now
func IsLocked(acct *models.Account, now time.Time) bool {
	return acct.LockedUntil != nil && now.Before(*acct.LockedUntil)
}

// Evaluate returns the state of the account at now
func Evaluate(acct *models.Account, now time.Time) State {
	if IsLocked(acct, now) {
		return Locked
	}
	return Active
}

// Remaining returns how long the account stays locked, or zero if it is Active
func Remaining(acct *models.Account, now time.Time) time.Duration {
	if !IsLocked(acct, now) {
		return 0
	}
	return acct.LockedUntil.Sub(now)
}

// ApplyFailure records a failed attempt on acct.
//
// Callers must check IsLocked first: a failure against a Locked account is not a
// transition. An expired lockout counts as Active, so the counter keeps growing
// from where it was and the account relocks once it reaches the threshold.
func ApplyFailure(acct *models.Account, now time.Time, policy Policy) Outcome {
	policy = policy.normalized()

	acct.FailedAttempts++
	out := Outcome{Attempts: acct.FailedAttempts}

	if acct.FailedAttempts >= policy.MaxAttempts {
		until := now.Add(policy.Duration)
		acct.LockedUntil = &until
		out.Locked = true
		out.LockedUntil = until
	}

	return out
}

// ApplySuccess resets the counter, clears any lockout and stamps the login time
func ApplySuccess(acct *models.Account, now time.Time) {
	acct.FailedAttempts = 0
	acct.LockedUntil = nil
	stamp := now
	acct.LastLoginAt = &stamp
}

// Unlock is the admin transition back to Active
func Unlock(acct *models.Account) {
	acct.FailedAttempts = 0
	acct.LockedUntil = nil
}
