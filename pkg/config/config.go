package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config holds the application configuration
type Config struct {
	Environment        string
	ServerPort         int
	LogLevel           string
	StoreBackend       string
	RedisURL           string
	CORSAllowedOrigins []string
	TrustProxyHeaders  bool

	Database DatabaseConfig
	Session  SessionConfig
	Lockout  LockoutConfig
	Throttle ThrottleConfig

	BcryptCost    int
	AuditTimeout  time.Duration
	SweepInterval time.Duration
}

// DatabaseConfig describes the Postgres connection
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// SessionConfig controls session lifetime and cookie delivery
type SessionConfig struct {
	Lifetime       time.Duration
	RotateInterval time.Duration
	CookieName     string
	CookieSecure   bool
}

// LockoutConfig controls failed-login lockout
type LockoutConfig struct {
	MaxAttempts int
	Duration    time.Duration
}

// ThrottleConfig controls the per-IP login request rate
type ThrottleConfig struct {
	RatePerSecond float64
	Burst         int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	port, err := strconv.Atoi(getEnv("SERVER_PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	dbMaxOpen, err := strconv.Atoi(getEnv("DB_MAX_OPEN_CONNS", "25"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_OPEN_CONNS: %w", err)
	}

	dbMaxIdle, err := strconv.Atoi(getEnv("DB_MAX_IDLE_CONNS", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_IDLE_CONNS: %w", err)
	}

	sessionLifetime, err := getSeconds("SESSION_LIFETIME_SECONDS", "1800")
	if err != nil {
		return nil, err
	}

	rotateInterval, err := getSeconds("SESSION_ROTATE_SECONDS", "300")
	if err != nil {
		return nil, err
	}

	maxAttempts, err := strconv.Atoi(getEnv("LOGIN_MAX_ATTEMPTS", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOGIN_MAX_ATTEMPTS: %w", err)
	}

	lockout, err := getSeconds("LOCKOUT_SECONDS", "900")
	if err != nil {
		return nil, err
	}

	ratePerSecond, err := strconv.ParseFloat(getEnv("LOGIN_RATE_PER_SECOND", "5"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid LOGIN_RATE_PER_SECOND: %w", err)
	}

	burst, err := strconv.Atoi(getEnv("LOGIN_BURST", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOGIN_BURST: %w", err)
	}

	bcryptCost, err := strconv.Atoi(getEnv("BCRYPT_COST", "12"))
	if err != nil {
		return nil, fmt.Errorf("invalid BCRYPT_COST: %w", err)
	}

	auditTimeoutMS, err := strconv.Atoi(getEnv("AUDIT_TIMEOUT_MS", "2000"))
	if err != nil {
		return nil, fmt.Errorf("invalid AUDIT_TIMEOUT_MS: %w", err)
	}

	sweepInterval, err := getSeconds("SWEEP_INTERVAL_SECONDS", "60")
	if err != nil {
		return nil, err
	}

	cookieSecure, err := strconv.ParseBool(getEnv("COOKIE_SECURE", "true"))
	if err != nil {
		return nil, fmt.Errorf("invalid COOKIE_SECURE: %w", err)
	}

	trustProxy, err := strconv.ParseBool(getEnv("TRUST_PROXY_HEADERS", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid TRUST_PROXY_HEADERS: %w", err)
	}

	cfg := &Config{
		Environment:        getEnv("ENVIRONMENT", "development"),
		ServerPort:         port,
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		StoreBackend:       strings.ToLower(getEnv("STORE_BACKEND", BackendRedis)),
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
		CORSAllowedOrigins: parseCSVEnv("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		TrustProxyHeaders:  trustProxy,
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            dbPort,
			User:            getEnv("DB_USER", "gatekeeper"),
			Password:        getEnv("DB_PASSWORD", "dev"),
			Name:            getEnv("DB_NAME", "gatekeeper"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    dbMaxOpen,
			MaxIdleConns:    dbMaxIdle,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Session: SessionConfig{
			Lifetime:       sessionLifetime,
			RotateInterval: rotateInterval,
			CookieName:     getEnv("SESSION_COOKIE_NAME", "gk_session"),
			CookieSecure:   cookieSecure,
		},
		Lockout: LockoutConfig{
			MaxAttempts: maxAttempts,
			Duration:    lockout,
		},
		Throttle: ThrottleConfig{
			RatePerSecond: ratePerSecond,
			Burst:         burst,
		},
		BcryptCost:    bcryptCost,
		AuditTimeout:  time.Duration(auditTimeoutMS) * time.Millisecond,
		SweepInterval: sweepInterval,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the security core cannot run with
func (c *Config) Validate() error {
	if c.StoreBackend != BackendRedis && c.StoreBackend != BackendMemory {
		return fmt.Errorf("invalid STORE_BACKEND %q: want %s or %s", c.StoreBackend, BackendRedis, BackendMemory)
	}
	if c.Session.Lifetime <= 0 {
		return fmt.Errorf("SESSION_LIFETIME_SECONDS must be positive")
	}
	if c.Session.RotateInterval <= 0 {
		return fmt.Errorf("SESSION_ROTATE_SECONDS must be positive")
	}
	if strings.TrimSpace(c.Session.CookieName) == "" {
		return fmt.Errorf("SESSION_COOKIE_NAME must not be empty")
	}
	if c.Lockout.MaxAttempts <= 0 {
		return fmt.Errorf("LOGIN_MAX_ATTEMPTS must be positive")
	}
	if c.Lockout.Duration <= 0 {
		return fmt.Errorf("LOCKOUT_SECONDS must be positive")
	}
	if c.Throttle.RatePerSecond <= 0 || c.Throttle.Burst <= 0 {
		return fmt.Errorf("LOGIN_RATE_PER_SECOND and LOGIN_BURST must be positive")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST must be between 4 and 31")
	}
	if c.AuditTimeout <= 0 {
		return fmt.Errorf("AUDIT_TIMEOUT_MS must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL_SECONDS must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getSeconds(key, defaultValue string) (time.Duration, error) {
	n, err := strconv.Atoi(getEnv(key, defaultValue))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return time.Duration(n) * time.Second, nil
}

func parseCSVEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
