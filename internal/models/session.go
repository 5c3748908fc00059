package models

import "time"

// Session is a server-side record of an authenticated login.
// Only the SHA-256 of the session secret is stored.
type Session struct {
	ID         string
	TokenHash  string
	AccountID  string
	IPAddress  string
	UserAgent  string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	LastSeenAt time.Time
}

// Expired reports whether the session is past its expiry at now
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// SessionClaims are the signed claims carried inside a session token
type SessionClaims struct {
	AccountID string
	Secret    string
	IssuedAt  time.Time
}
