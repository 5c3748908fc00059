package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound     = errors.New("resource not found")
	ErrConflict     = errors.New("resource already exists or was modified concurrently")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrBadRequest   = errors.New("bad request")

	// Authentication outcomes
	ErrDuplicateIdentity  = errors.New("identity already registered")
	ErrWeakPassword       = errors.New("password does not meet policy")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account is temporarily locked")
	ErrRateLimited        = errors.New("too many attempts from this source")
	ErrSessionInvalid     = errors.New("session invalid or expired")

	// ErrPersistence is the only storage failure callers ever see. Details stay in the logs.
	ErrPersistence = errors.New("temporary failure, please retry later")
)

// Identity fields that must be unique across accounts.
const (
	FieldUsername = "username"
	FieldEmail    = "email"
)

// DuplicateIdentityError reports which identity field is already taken.
type DuplicateIdentityError struct {
	Field string
}

func (e *DuplicateIdentityError) Error() string {
	return fmt.Sprintf("%s already registered", e.Field)
}

func (e *DuplicateIdentityError) Is(target error) bool {
	return target == ErrDuplicateIdentity
}

// WeakPasswordError enumerates every password rule that failed
type WeakPasswordError struct {
	Violations []string
}

func (e *WeakPasswordError) Error() string {
	if len(e.Violations) == 0 {
		return ErrWeakPassword.Error()
	}
	return "password " + strings.Join(e.Violations, "; ")
}

func (e *WeakPasswordError) Is(target error) bool {
	return target == ErrWeakPassword
}

// AccountLockedError carries the time left until the lockout expires.
// Locking is disclosed on purpose: an attacker who triggered it already knows.
type AccountLockedError struct {
	Remaining time.Duration
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account is temporarily locked, retry in %d seconds", e.RemainingSeconds())
}

func (e *AccountLockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

// RemainingSeconds rounds up so a client never retries a moment too early.
func (e *AccountLockedError) RemainingSeconds() int {
	secs := int(e.Remaining / time.Second)
	if e.Remaining%time.Second > 0 {
		secs++
	}
	return secs
}

// RateLimitedError is returned when the source address exhausted its window.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return ErrRateLimited.Error()
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}
