// Package config loads service configuration from the environment, with an
// optional .env file for local development. Validation is fail-fast: the
// binary refuses to serve traffic with a missing or placeholder JWT secret.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/helpdeskd/authkit/token"
)

// Config is the full service configuration.
type Config struct {
	AppEnv     string
	ListenAddr string

	JWTSecret  string
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	BcryptCost int

	MaxSessionsPerUser int
	SessionTTL         time.Duration
	SessionMaxIdle     time.Duration
	SweepInterval      time.Duration

	MaxLoginAttempts int
	AttemptWindow    time.Duration
	LockoutDuration  time.Duration

	AuditBufferSize int
}

// IsDev reports whether the service runs in development mode. Dev mode
// exposes error detail in responses and seeds a demo admin account.
func (c Config) IsDev() bool {
	return c.AppEnv == "development"
}

// Load reads configuration from the environment (and a .env file when
// present) and validates it.
func Load() (Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	// Missing .env is fine; real deployments configure via environment.
	_ = v.ReadInConfig()
	v.AutomaticEnv()

	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LISTEN_ADDR", ":8080")
	v.SetDefault("ACCESS_TTL", "15m")
	v.SetDefault("REFRESH_TTL", "168h")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("MAX_SESSIONS_PER_USER", 5)
	v.SetDefault("SESSION_TTL", "24h")
	v.SetDefault("SESSION_MAX_IDLE", "24h")
	v.SetDefault("SWEEP_INTERVAL", "1h")
	v.SetDefault("MAX_LOGIN_ATTEMPTS", 5)
	v.SetDefault("ATTEMPT_WINDOW", "1h")
	v.SetDefault("LOCKOUT_DURATION", "15m")
	v.SetDefault("AUDIT_BUFFER_SIZE", 256)

	cfg := Config{
		AppEnv:             v.GetString("APP_ENV"),
		ListenAddr:         v.GetString("LISTEN_ADDR"),
		JWTSecret:          v.GetString("JWT_SECRET"),
		AccessTTL:          v.GetDuration("ACCESS_TTL"),
		RefreshTTL:         v.GetDuration("REFRESH_TTL"),
		DatabaseURL:        v.GetString("DATABASE_URL"),
		RedisAddr:          v.GetString("REDIS_ADDR"),
		RedisPassword:      v.GetString("REDIS_PASSWORD"),
		RedisDB:            v.GetInt("REDIS_DB"),
		BcryptCost:         v.GetInt("BCRYPT_COST"),
		MaxSessionsPerUser: v.GetInt("MAX_SESSIONS_PER_USER"),
		SessionTTL:         v.GetDuration("SESSION_TTL"),
		SessionMaxIdle:     v.GetDuration("SESSION_MAX_IDLE"),
		SweepInterval:      v.GetDuration("SWEEP_INTERVAL"),
		MaxLoginAttempts:   v.GetInt("MAX_LOGIN_ATTEMPTS"),
		AttemptWindow:      v.GetDuration("ATTEMPT_WINDOW"),
		LockoutDuration:    v.GetDuration("LOCKOUT_DURATION"),
		AuditBufferSize:    v.GetInt("AUDIT_BUFFER_SIZE"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces the startup invariants. The JWT secret check reuses the
// token engine's own validation so the two can never drift apart.
func (c Config) Validate() error {
	if err := token.ValidateSecret(c.JWTSecret); err != nil {
		return fmt.Errorf("JWT_SECRET: %w", err)
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return errors.New("ACCESS_TTL and REFRESH_TTL must be positive")
	}
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.MaxSessionsPerUser < 1 {
		return errors.New("MAX_SESSIONS_PER_USER must be at least 1")
	}
	if c.MaxLoginAttempts < 1 {
		return errors.New("MAX_LOGIN_ATTEMPTS must be at least 1")
	}
	return nil
}
