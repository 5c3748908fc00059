package middleware

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	pkghttp "github.com/BradenHooton/lockbox/pkg/http"
)

// SameOrigin rejects state-changing requests whose Origin header names a site
// other than the request host or one of allowedOrigins. Requests without an
// Origin header (non-browser clients) pass through.
func SameOrigin(allowedOrigins []string, logger *slog.Logger) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isStateChangingMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			if _, ok := allowed[strings.ToLower(origin)]; ok {
				next.ServeHTTP(w, r)
				return
			}

			if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
				next.ServeHTTP(w, r)
				return
			}

			logger.Warn("cross-origin request rejected",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("origin", origin))
			pkghttp.WriteForbidden(w, "Cross-origin request rejected")
		})
	}
}

// isStateChangingMethod checks if the HTTP method modifies state
func isStateChangingMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
