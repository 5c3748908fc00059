package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage drivers
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	Admin    AdminConfig
	Notify   NotifyConfig
	Events   EventsConfig
}

type DatabaseConfig struct {
	Driver            string
	SQLitePath        string
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

type AuthConfig struct {
	SessionSecret    string
	SessionLifetime  time.Duration
	SessionSliding   bool
	CookieSecure     bool
	CookieDomain     string
	CookieSameSite   string
	MaxLoginAttempts int
	LockoutDuration  time.Duration
	RateLimitMax     int
	RateLimitWindow  time.Duration
	HTTPRateLimit    int
	HashWorkFactor   int
	TimingFloor      time.Duration
	TimingJitter     time.Duration
	CleanupInterval  time.Duration
}

// AdminConfig seeds the first admin account. Empty Username disables seeding.
type AdminConfig struct {
	Username string
	Email    string
	Password string
}

type NotifyConfig struct {
	SESRegion      string
	SESFromAddress string
}

type EventsConfig struct {
	AMQPURL  string
	Exchange string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	sessionSecret := getEnv("SESSION_SECRET", "")
	if sessionSecret == "" {
		return nil, fmt.Errorf("SESSION_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Driver:            strings.ToLower(getEnv("STORAGE_DRIVER", DriverMemory)),
			SQLitePath:        getEnv("SQLITE_PATH", "lockbox.db"),
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "lockbox"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: splitList(getEnv("TRUSTED_PROXIES", "")),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Auth: AuthConfig{
			SessionSecret:    sessionSecret,
			SessionLifetime:  getEnvAsDurationOrSeconds("SESSION_LIFETIME", "SESSION_LIFETIME_SECONDS", 30*time.Minute),
			SessionSliding:   getEnvAsBool("SESSION_SLIDING", false),
			CookieSecure:     getEnvAsBool("SESSION_COOKIE_SECURE", env == "production"),
			CookieDomain:     getEnv("SESSION_COOKIE_DOMAIN", ""),
			CookieSameSite:   getEnv("SESSION_COOKIE_SAMESITE", "Lax"),
			MaxLoginAttempts: getEnvAsInt("MAX_LOGIN_ATTEMPTS", 5),
			LockoutDuration:  getEnvAsDurationOrSeconds("LOCKOUT_DURATION", "LOCKOUT_DURATION_SECONDS", 15*time.Minute),
			RateLimitMax:     getEnvAsInt("RATE_LIMIT_MAX_ATTEMPTS", 20),
			RateLimitWindow:  getEnvAsDurationOrSeconds("RATE_LIMIT_WINDOW", "RATE_LIMIT_WINDOW_SECONDS", 60*time.Second),
			HTTPRateLimit:    getEnvAsInt("HTTP_RATE_LIMIT_PER_MINUTE", 100),
			HashWorkFactor:   getEnvAsInt("HASH_WORK_FACTOR", 12),
			TimingFloor:      getEnvAsDuration("LOGIN_TIMING_FLOOR", 250*time.Millisecond),
			TimingJitter:     getEnvAsDuration("LOGIN_TIMING_JITTER", 50*time.Millisecond),
			CleanupInterval:  getEnvAsDuration("CLEANUP_INTERVAL", 10*time.Minute),
		},
		Admin: AdminConfig{
			Username: getEnv("ADMIN_USERNAME", ""),
			Email:    getEnv("ADMIN_EMAIL", ""),
			Password: getEnv("ADMIN_PASSWORD", ""),
		},
		Notify: NotifyConfig{
			SESRegion:      getEnv("AWS_REGION", "us-east-1"),
			SESFromAddress: getEnv("SES_FROM_ADDRESS", ""),
		},
		Events: EventsConfig{
			AMQPURL:  getEnv("AMQP_URL", ""),
			Exchange: getEnv("EVENT_EXCHANGE", "lockbox.security"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.Database.Password == "" {
			return fmt.Errorf("DB_PASSWORD is required when STORAGE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.Database.Driver)
	}

	if err := validateSessionSecret(c.Auth.SessionSecret, c.Server.Env); err != nil {
		return err
	}

	if c.Auth.MaxLoginAttempts <= 0 {
		return fmt.Errorf("MAX_LOGIN_ATTEMPTS must be positive")
	}
	if c.Auth.LockoutDuration <= 0 {
		return fmt.Errorf("LOCKOUT_DURATION must be positive")
	}
	if c.Auth.RateLimitMax <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX_ATTEMPTS must be positive")
	}
	if c.Auth.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
	}
	if c.Auth.SessionLifetime <= 0 {
		return fmt.Errorf("SESSION_LIFETIME must be positive")
	}

	if c.Admin.Username != "" && (c.Admin.Email == "" || c.Admin.Password == "") {
		return fmt.Errorf("ADMIN_EMAIL and ADMIN_PASSWORD are required when ADMIN_USERNAME is set")
	}

	return nil
}

// validateSessionSecret enforces minimum security standards for the token signing key
func validateSessionSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("SESSION_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if strings.Repeat(weak, len(secretLower)/len(weak)) == secretLower {
			return fmt.Errorf("SESSION_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

// getEnvAsDurationOrSeconds prefers the duration form (e.g. "15m") and falls
// back to a plain integer number of seconds under secondsKey.
func getEnvAsDurationOrSeconds(key, secondsKey string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	if value := os.Getenv(secondsKey); value != "" {
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		origins := splitList(getEnv("ALLOWED_ORIGINS", ""))
		if origins == nil {
			return []string{}
		}
		return origins
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173", // Vite default
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
