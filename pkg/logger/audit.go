package logger

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent is one entry of the security audit trail
type AuditEvent struct {
	EventType string
	AccountID string
	// Identifier is what the client typed; it is masked before logging
	Identifier     string
	IPAddress      string
	UserAgent      string
	Success        bool
	FailureReason  string
	FailedAttempts int
	Metadata       map[string]string
}

// AuditLogger writes audit entries through slog
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// LogAuthAttempt logs a login or registration attempt.
// Failures log at warn so they stand out in aggregated output.
func (al *AuditLogger) LogAuthAttempt(ctx context.Context, event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "auth"),
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.AccountID != "" {
		attrs = append(attrs, slog.String("account_id", event.AccountID))
	}
	if event.Identifier != "" {
		attrs = append(attrs, slog.String("identifier", MaskIdentifier(event.Identifier)))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}
	if event.FailedAttempts > 0 {
		attrs = append(attrs, slog.Int("failed_attempts", event.FailedAttempts))
	}
	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(ctx, level, "audit", attrs...)
}

// LogLockout records an account entering the locked state
func (al *AuditLogger) LogLockout(ctx context.Context, accountID, ipAddress string, attempts int, until time.Time) {
	al.logger.LogAttrs(ctx, slog.LevelWarn, "audit",
		slog.String("audit_type", "lockout"),
		slog.String("event_type", "account_locked"),
		slog.String("account_id", accountID),
		slog.String("ip_address", ipAddress),
		slog.Int("failed_attempts", attempts),
		slog.String("locked_until", until.UTC().Format(time.RFC3339)),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	)
}

// LogAccountAction logs administrative account actions
func (al *AuditLogger) LogAccountAction(ctx context.Context, eventType, accountID, actorID string, metadata map[string]string) {
	attrs := []slog.Attr{
		slog.String("audit_type", "account"),
		slog.String("event_type", eventType),
		slog.String("account_id", accountID),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if actorID != "" {
		attrs = append(attrs, slog.String("actor_id", actorID))
	}

	for key, val := range metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	al.logger.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
}
