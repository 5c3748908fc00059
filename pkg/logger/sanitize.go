package logger

import (
	"log/slog"
	"strings"
)

// SanitizedEmail masks an email address for logging (e.g., "u***@e***.com")
func SanitizedEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") {
		return "[invalid-email]"
	}

	if len(local) > 1 {
		local = local[:1] + strings.Repeat("*", len(local)-1)
	}

	// keep the TLD only
	labels := strings.Split(domain, ".")
	if len(labels) > 1 {
		for i := 0; i < len(labels)-1; i++ {
			labels[i] = strings.Repeat("*", len(labels[i]))
		}
		domain = strings.Join(labels, ".")
	}

	return local + "@" + domain
}

// MaskIdentifier masks a login identifier, which may be a username or an email
func MaskIdentifier(identifier string) string {
	if strings.Contains(identifier, "@") {
		return SanitizedEmail(identifier)
	}
	switch len(identifier) {
	case 0:
		return ""
	case 1, 2:
		return strings.Repeat("*", len(identifier))
	default:
		return identifier[:1] + strings.Repeat("*", len(identifier)-2) + identifier[len(identifier)-1:]
	}
}

// RedactedAttr returns "[REDACTED]" in production and the real value elsewhere
func RedactedAttr(key, value, env string) slog.Attr {
	if env == "production" {
		return slog.String(key, "[REDACTED]")
	}
	return slog.String(key, value)
}

var sensitiveParams = []string{
	"password",
	"token",
	"secret",
	"session",
	"email",
	"username",
	"identifier",
	"auth",
}

// SanitizeQueryString reports whether the query string mentions a sensitive
// parameter and must be redacted as a whole
func SanitizeQueryString(rawQuery string) bool {
	query := strings.ToLower(rawQuery)
	for _, param := range sensitiveParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}
