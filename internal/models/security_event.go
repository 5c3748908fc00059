package models

import "time"

// Security event types published on the event stream
const (
	EventAccountRegistered = "auth.account.registered"
	EventLoginSucceeded    = "auth.login.succeeded"
	EventLoginFailed       = "auth.login.failed"
	EventAccountLocked     = "auth.account.locked"
	EventAccountUnlocked   = "auth.account.unlocked"
	EventLoggedOut         = "auth.session.revoked"
)

// Failure reasons recorded on failed login events
const (
	ReasonInvalidCredentials = "invalid_credentials"
	ReasonUnknownAccount     = "unknown_account"
	ReasonAccountLocked      = "account_locked"
	ReasonRateLimited        = "rate_limited"
)

// SecurityEvent is the payload of an event on the security stream.
// It never carries secrets or raw identifiers typed by the client.
type SecurityEvent struct {
	Type           string            `json:"type"`
	AccountID      string            `json:"account_id,omitempty"`
	SourceAddress  string            `json:"source_address,omitempty"`
	FailureReason  string            `json:"failure_reason,omitempty"`
	FailedAttempts int               `json:"failed_attempts,omitempty"`
	LockedUntil    *time.Time        `json:"locked_until,omitempty"`
	OccurredAt     time.Time         `json:"occurred_at"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}
