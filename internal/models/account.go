package models

import "time"

// Account roles
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Account is a registered identity together with its lockout state.
// Version is bumped by every store update and is the compare-and-swap token.
type Account struct {
	ID             string
	Username       string
	Email          string
	PasswordHash   string
	Role           string
	FailedAttempts int
	LockedUntil    *time.Time
	LastLoginAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Version        int64
}

// Clone returns a deep copy so callers can mutate state without aliasing the stored record.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	if a.LockedUntil != nil {
		t := *a.LockedUntil
		c.LockedUntil = &t
	}
	if a.LastLoginAt != nil {
		t := *a.LastLoginAt
		c.LastLoginAt = &t
	}
	return &c
}
