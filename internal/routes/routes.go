package routes

import (
	"log/slog"

	"github.com/BradenHooton/lockbox/internal/auth"
	"github.com/BradenHooton/lockbox/internal/handlers"
	"github.com/BradenHooton/lockbox/internal/middleware"
	"github.com/BradenHooton/lockbox/internal/models"
	pkghttp "github.com/BradenHooton/lockbox/pkg/http"
	"github.com/go-chi/chi/v5"
)

// Dependencies bundles everything the route table needs
type Dependencies struct {
	AuthHandler    *handlers.AuthHandler
	AdminHandler   *handlers.AdminHandler
	Sessions       auth.SessionAuthenticator
	Store          handlers.HealthChecker
	Cookies        auth.CookieConfig
	IPConfig       *pkghttp.IPConfig
	RateLimit      middleware.RateLimitConfig
	AllowedOrigins []string
	Logger         *slog.Logger
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, deps Dependencies) {
	router.Get("/health", handlers.Health(deps.Store))

	// Public auth endpoints, throttled per client address
	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(deps.RateLimit, deps.IPConfig))
		r.Use(middleware.SameOrigin(deps.AllowedOrigins, deps.Logger))

		r.Post("/auth/register", deps.AuthHandler.Register)
		r.Post("/auth/login", deps.AuthHandler.Login)
		r.Post("/auth/logout", deps.AuthHandler.Logout)
	})

	// Protected routes - a valid session is required
	router.Group(func(r chi.Router) {
		r.Use(auth.RequireSession(deps.Sessions, deps.Cookies))
		r.Use(middleware.SameOrigin(deps.AllowedOrigins, deps.Logger))

		r.Get("/dashboard", handlers.Dashboard)

		// Admin-only routes
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(models.RoleAdmin))
			r.Get("/admin/accounts/{id}", deps.AdminHandler.GetAccountStatus)
			r.Post("/admin/accounts/{id}/unlock", deps.AdminHandler.UnlockAccount)
		})
	})
}
