package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Session   SessionConfig
	Security  SecurityConfig
	RateLimit RateLimitConfig
	Redis     RedisConfig
}

type DatabaseConfig struct {
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
	StatementTimeout  time.Duration
	MigrateOnStart    bool
}

type ServerConfig struct {
	Port            string
	Env             string
	LogLevel        string
	AllowedOrigins  []string
	TrustedProxies  []string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	CSRFExemptPaths []string
	MetricsEnabled  bool
}

type SessionConfig struct {
	Secret     string
	TTL        time.Duration
	CookieName string
	Store      string // "memory" or "redis"
}

// SecurityConfig holds the lockout policy and its maintenance settings
type SecurityConfig struct {
	MaxLoginAttempts    int
	LockoutDuration     time.Duration
	LookbackWindow      time.Duration
	LockoutFailClosed   bool
	AttemptRetention    time.Duration
	EventRetention      time.Duration
	CleanupInterval     time.Duration
	TimingDelayBaseMs   int
	TimingDelayRandomMs int
}

// RateLimitConfig holds the fixed window for each protected surface
type RateLimitConfig struct {
	Store               string // "memory" or "redis"
	LoginWindow         time.Duration
	LoginMax            int
	APIWindow           time.Duration
	APIMax              int
	PasswordResetWindow time.Duration
	PasswordResetMax    int
	RegisterWindow      time.Duration
	RegisterMax         int
	FloodGuardPerMinute int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
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
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "assetdesk"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			StatementTimeout:  getEnvAsDuration("DB_STATEMENT_TIMEOUT", 30*time.Second),
			MigrateOnStart:    getEnvAsBool("DB_MIGRATE_ON_START", true),
		},
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			Env:             env,
			LogLevel:        getEnv("LOG_LEVEL", "info"),
			AllowedOrigins:  parseAllowedOrigins(env),
			TrustedProxies:  getEnvAsList("TRUSTED_PROXIES", nil),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			CSRFExemptPaths: getEnvAsList("CSRF_EXEMPT_PATHS", []string{"/csp-report"}),
			MetricsEnabled:  getEnvAsBool("METRICS_ENABLED", true),
		},
		Session: SessionConfig{
			Secret:     sessionSecret,
			TTL:        getEnvAsDuration("SESSION_TTL", 8*time.Hour),
			CookieName: getEnv("SESSION_COOKIE_NAME", "assetdesk.sid"),
			Store:      getEnv("SESSION_STORE", "memory"),
		},
		Security: SecurityConfig{
			MaxLoginAttempts:    getEnvAsInt("MAX_LOGIN_ATTEMPTS", 5),
			LockoutDuration:     time.Duration(getEnvAsInt("LOCKOUT_DURATION_MINUTES", 30)) * time.Minute,
			LookbackWindow:      time.Duration(getEnvAsInt("LOCKOUT_LOOKBACK_MINUTES", 60)) * time.Minute,
			LockoutFailClosed:   getEnvAsBool("LOCKOUT_FAIL_CLOSED", false),
			AttemptRetention:    getEnvAsDuration("LOGIN_ATTEMPT_RETENTION", 24*time.Hour),
			EventRetention:      getEnvAsDuration("SECURITY_EVENT_RETENTION", 90*24*time.Hour),
			CleanupInterval:     getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Hour),
			TimingDelayBaseMs:   getEnvAsInt("TIMING_DELAY_BASE_MS", 250),
			TimingDelayRandomMs: getEnvAsInt("TIMING_DELAY_RANDOM_MS", 100),
		},
		RateLimit: RateLimitConfig{
			Store:               getEnv("RATE_LIMIT_STORE", "memory"),
			LoginWindow:         getEnvAsDuration("RATE_LIMIT_LOGIN_WINDOW", 15*time.Minute),
			LoginMax:            getEnvAsInt("RATE_LIMIT_LOGIN_MAX", 5),
			APIWindow:           getEnvAsDuration("RATE_LIMIT_API_WINDOW", 15*time.Minute),
			APIMax:              getEnvAsInt("RATE_LIMIT_API_MAX", 100),
			PasswordResetWindow: getEnvAsDuration("RATE_LIMIT_PASSWORD_RESET_WINDOW", 60*time.Minute),
			PasswordResetMax:    getEnvAsInt("RATE_LIMIT_PASSWORD_RESET_MAX", 3),
			RegisterWindow:      getEnvAsDuration("RATE_LIMIT_REGISTER_WINDOW", 60*time.Minute),
			RegisterMax:         getEnvAsInt("RATE_LIMIT_REGISTER_MAX", 3),
			FloodGuardPerMinute: getEnvAsInt("FLOOD_GUARD_PER_MINUTE", 300),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateSessionSecret(sessionSecret, env); err != nil {
		return nil, err
	}

	if err := cfg.Security.validate(); err != nil {
		return nil, err
	}

	for _, store := range []string{cfg.Session.Store, cfg.RateLimit.Store} {
		if store != "memory" && store != "redis" {
			return nil, fmt.Errorf("unsupported store %q (want memory or redis)", store)
		}
	}

	return cfg, nil
}

// IsProduction reports whether secure cookies and strict CSP apply
func (c *ServerConfig) IsProduction() bool {
	return c.Env == "production"
}

func (s *SecurityConfig) validate() error {
	if s.MaxLoginAttempts < 1 {
		return fmt.Errorf("MAX_LOGIN_ATTEMPTS must be at least 1 (got %d)", s.MaxLoginAttempts)
	}
	if s.LockoutDuration <= 0 {
		return fmt.Errorf("LOCKOUT_DURATION_MINUTES must be positive")
	}
	if s.LookbackWindow <= 0 {
		return fmt.Errorf("LOCKOUT_LOOKBACK_MINUTES must be positive")
	}
	if s.CleanupInterval <= 0 {
		return fmt.Errorf("CLEANUP_INTERVAL must be positive")
	}
	return nil
}

// validateSessionSecret enforces minimum strength for the cookie signing secret
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
		"admin", "root", "default", "example", "keyboard cat",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
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

func getEnvAsList(key string, defaultVal []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		return getEnvAsList("ALLOWED_ORIGINS", []string{})
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
	}
}
