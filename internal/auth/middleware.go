package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/BradenHooton/lockbox/internal/models"
	pkghttp "github.com/BradenHooton/lockbox/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	accountContextKey contextKey = "account"
	sessionContextKey contextKey = "session"
	tokenContextKey   contextKey = "session_token"
)

// SessionAuthenticator resolves a session token to its account
type SessionAuthenticator interface {
	Authenticate(ctx context.Context, token string) (*models.Account, *models.Session, error)
}

// RequireSession rejects requests without a valid session and puts the
// account, session record and raw token into the request context.
func RequireSession(sessions SessionAuthenticator, cookieConfig CookieConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := SessionTokenFromRequest(r)
			if token == "" {
				pkghttp.WriteUnauthorized(w, "authentication required")
				return
			}

			acct, record, err := sessions.Authenticate(r.Context(), token)
			if err != nil {
				if errors.Is(err, models.ErrSessionInvalid) {
					ClearSessionCookie(w, cookieConfig)
					pkghttp.WriteUnauthorized(w, "session invalid or expired")
					return
				}
				pkghttp.WriteServiceUnavailable(w, models.ErrPersistence.Error())
				return
			}

			ctx := context.WithValue(r.Context(), accountContextKey, acct)
			ctx = context.WithValue(ctx, sessionContextKey, record)
			ctx = context.WithValue(ctx, tokenContextKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole allows the request only if the session account has role.
// Must run after RequireSession.
func RequireRole(role string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			acct := AccountFromContext(r.Context())
			if acct == nil {
				pkghttp.WriteUnauthorized(w, "authentication required")
				return
			}
			if acct.Role != role {
				pkghttp.WriteForbidden(w, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AccountFromContext returns the authenticated account, or nil
func AccountFromContext(ctx context.Context) *models.Account {
	acct, _ := ctx.Value(accountContextKey).(*models.Account)
	return acct
}

// SessionFromContext returns the current session record, or nil
func SessionFromContext(ctx context.Context) *models.Session {
	record, _ := ctx.Value(sessionContextKey).(*models.Session)
	return record
}

// TokenFromContext returns the raw session token of the request
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenContextKey).(string)
	return token
}

// WithAccount returns a copy of ctx carrying acct. Used by tests and by
// handlers mounted without RequireSession.
func WithAccount(ctx context.Context, acct *models.Account) context.Context {
	return context.WithValue(ctx, accountContextKey, acct)
}
