package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BradenHooton/lockbox/internal/auth"
	"github.com/BradenHooton/lockbox/internal/background"
	"github.com/BradenHooton/lockbox/internal/config"
	"github.com/BradenHooton/lockbox/internal/database"
	"github.com/BradenHooton/lockbox/internal/handlers"
	"github.com/BradenHooton/lockbox/internal/lockout"
	middlewareCustom "github.com/BradenHooton/lockbox/internal/middleware"
	"github.com/BradenHooton/lockbox/internal/ratelimit"
	"github.com/BradenHooton/lockbox/internal/repositories"
	"github.com/BradenHooton/lockbox/internal/routes"
	"github.com/BradenHooton/lockbox/internal/services"
	"github.com/BradenHooton/lockbox/internal/session"
	pkgauth "github.com/BradenHooton/lockbox/pkg/auth"
	pkghttp "github.com/BradenHooton/lockbox/pkg/http"
	pkglogger "github.com/BradenHooton/lockbox/pkg/logger"
	"github.com/BradenHooton/lockbox/pkg/rabbitmq"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/stdlib"
)

// accountStore is what the services and the health endpoint need from account storage
type accountStore interface {
	services.AccountRepository
	HealthCheck(ctx context.Context) error
}

// storage is the selected backend with its cleanup hook
type storage struct {
	accounts accountStore
	sessions services.SessionRepository
	close    func()
}

// eventPublisher is the broker client, real or fallback
type eventPublisher interface {
	services.EventPublisher
	Close()
}

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	level.Set(parseLevel(cfg.Server.LogLevel))

	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("storage", cfg.Database.Driver))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := openStorage(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Error("failed to open storage", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.close()

	ipConfig, err := pkghttp.NewIPConfig(cfg.Server.TrustedProxies)
	if err != nil {
		logger.Error("invalid TRUSTED_PROXIES", slog.Any("error", err))
		os.Exit(1)
	}

	hasher, err := pkgauth.NewHasher(cfg.Auth.HashWorkFactor)
	if err != nil {
		logger.Error("invalid HASH_WORK_FACTOR", slog.Any("error", err))
		os.Exit(1)
	}

	// Session manager
	sessionManager := session.NewManager(
		store.sessions,
		store.accounts,
		auth.NewSessionTokenCodec(cfg.Auth.SessionSecret),
		session.Config{Lifetime: cfg.Auth.SessionLifetime, Sliding: cfg.Auth.SessionSliding},
		logger,
	)

	limiter := ratelimit.New()
	auditLogger := pkglogger.NewAuditLogger(logger)
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		Floor:  cfg.Auth.TimingFloor,
		Jitter: cfg.Auth.TimingJitter,
	})

	events := newEventPublisher(cfg, logger)
	defer events.Close()

	notifier := newNotifier(cfg, logger)

	policy := lockout.Policy{
		MaxAttempts: cfg.Auth.MaxLoginAttempts,
		Duration:    cfg.Auth.LockoutDuration,
	}

	authService := services.NewAuthService(
		store.accounts,
		sessionManager,
		hasher,
		limiter,
		timingDelay,
		services.AuthConfig{
			Lockout:         policy,
			RateLimitMax:    cfg.Auth.RateLimitMax,
			RateLimitWindow: cfg.Auth.RateLimitWindow,
			PasswordPolicy:  pkgauth.DefaultPasswordPolicy(),
			EventExchange:   cfg.Events.Exchange,
		},
		logger,
		auditLogger,
		services.WithNotifier(notifier),
		services.WithEventPublisher(events),
	)
	accountService := services.NewAccountService(
		store.accounts,
		sessionManager,
		hasher,
		policy,
		logger,
		auditLogger,
		events,
		services.WithAccountEventExchange(cfg.Events.Exchange),
	)

	// Bootstrap first admin account if configured
	if cfg.Admin.Username != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		created, err := accountService.EnsureAdmin(ctx, cfg.Admin.Username, cfg.Admin.Email, cfg.Admin.Password)
		cancel()
		if err != nil {
			logger.Error("failed to ensure admin account", slog.Any("error", err))
		} else if created {
			logger.Info("admin account created", slog.String("username", cfg.Admin.Username))
		}
	}

	cookies := auth.CookieConfig{
		Domain:   cfg.Auth.CookieDomain,
		Secure:   cfg.Auth.CookieSecure,
		SameSite: cfg.Auth.CookieSameSite,
	}

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.CORSConfig{AllowedOrigins: cfg.Server.AllowedOrigins}))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, routes.Dependencies{
		AuthHandler:    handlers.NewAuthHandler(authService, ipConfig, cookies, cfg.Auth.SessionLifetime, logger),
		AdminHandler:   handlers.NewAdminHandler(accountService),
		Sessions:       sessionManager,
		Store:          store.accounts,
		Cookies:        cookies,
		IPConfig:       ipConfig,
		RateLimit:      middlewareCustom.RateLimitConfig{RequestsPerMinute: cfg.Auth.HTTPRateLimit},
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupManager := background.NewCleanupManager(sessionManager, limiter, logger, cfg.Auth.CleanupInterval)
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		return
	}

	logger.Info("server stopped gracefully")
}

// openStorage connects the configured backend and applies its migrations
func openStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storage, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		db, err := database.NewConnection(&cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		sqlDB := stdlib.OpenDBFromPool(db.Pool)
		err = database.Migrate(ctx, sqlDB, database.DialectPostgres, logger)
		sqlDB.Close()
		if err != nil {
			db.Close()
			return nil, err
		}
		return &storage{
			accounts: repositories.NewAccountRepository(db),
			sessions: repositories.NewSessionRepository(db),
			close:    db.Close,
		}, nil

	case config.DriverSQLite:
		db, err := database.OpenSQLite(cfg.Database.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx, db.DB, database.DialectSQLite, logger); err != nil {
			db.Close()
			return nil, err
		}
		return &storage{
			accounts: repositories.NewSQLiteAccountRepository(db),
			sessions: repositories.NewSQLiteSessionRepository(db),
			close:    func() { _ = db.Close() },
		}, nil

	case config.DriverMemory:
		logger.Warn("using in-memory storage, accounts are lost on restart")
		return &storage{
			accounts: repositories.NewMemoryAccountRepository(),
			sessions: repositories.NewMemorySessionRepository(),
			close:    func() {},
		}, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Database.Driver)
}

// newEventPublisher connects to the broker, falling back to logging events
func newEventPublisher(cfg *config.Config, logger *slog.Logger) eventPublisher {
	if cfg.Events.AMQPURL == "" {
		logger.Info("AMQP_URL not set, security events are logged only")
		return &rabbitmq.EventProducerFallback{Logger: logger}
	}

	producer, err := rabbitmq.NewEventProducer(cfg.Events.AMQPURL, logger)
	if err != nil {
		logger.Warn("event broker unavailable, security events are logged only", slog.Any("error", err))
		return &rabbitmq.EventProducerFallback{Logger: logger}
	}
	return producer
}

// newNotifier returns an SES notifier when a sender address is configured
func newNotifier(cfg *config.Config, logger *slog.Logger) services.LockoutNotifier {
	if cfg.Notify.SESFromAddress == "" {
		return services.NoopNotifier{}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	notifier, err := services.NewSESNotifier(ctx, cfg.Notify.SESRegion, cfg.Notify.SESFromAddress, logger)
	if err != nil {
		logger.Warn("lockout notifications disabled", slog.Any("error", err))
		return services.NoopNotifier{}
	}
	return notifier
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(raw) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
