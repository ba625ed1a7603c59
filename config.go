package authkit

import (
	"errors"
	"time"
)

// Defaults applied by Config.withDefaults. Lockout values follow the
// deployed policy: five failures inside an hour lock the email+IP pair for
// fifteen minutes.
const (
	DefaultMaxSessionsPerUser = 5
	DefaultSessionTTL         = 24 * time.Hour
	DefaultMaxInactivity      = 24 * time.Hour
	DefaultSweepInterval      = time.Hour
	DefaultMaxLoginAttempts   = 5
	DefaultAttemptWindow      = time.Hour
	DefaultLockoutDuration    = 15 * time.Minute
)

// Config tunes the session manager. The zero value is usable: every field
// falls back to its documented default.
type Config struct {
	// MaxSessionsPerUser caps concurrent sessions. Exceeding it evicts the
	// least recently active session rather than rejecting the login.
	MaxSessionsPerUser int
	// SessionTTL is the sliding-window lifetime of a session entry,
	// refreshed on every authenticated request.
	SessionTTL time.Duration
	// MaxInactivity is the idle age past which the background sweeper
	// deletes a session even if its TTL has not elapsed.
	MaxInactivity time.Duration
	// SweepInterval is how often the background sweeper runs. Zero disables
	// the sweeper.
	SweepInterval time.Duration

	// MaxLoginAttempts failures within AttemptWindow lock the email+IP
	// identifier for LockoutDuration.
	MaxLoginAttempts int
	AttemptWindow    time.Duration
	LockoutDuration  time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxSessionsPerUser <= 0 {
		c.MaxSessionsPerUser = DefaultMaxSessionsPerUser
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	if c.MaxInactivity <= 0 {
		c.MaxInactivity = DefaultMaxInactivity
	}
	if c.MaxLoginAttempts <= 0 {
		c.MaxLoginAttempts = DefaultMaxLoginAttempts
	}
	if c.AttemptWindow <= 0 {
		c.AttemptWindow = DefaultAttemptWindow
	}
	if c.LockoutDuration <= 0 {
		c.LockoutDuration = DefaultLockoutDuration
	}
	return c
}

// Validate rejects configurations that would weaken the session model.
func (c Config) Validate() error {
	if c.MaxSessionsPerUser < 0 {
		return errors.New("MaxSessionsPerUser must not be negative")
	}
	if c.SessionTTL < 0 || c.MaxInactivity < 0 || c.SweepInterval < 0 {
		return errors.New("session durations must not be negative")
	}
	if c.MaxLoginAttempts < 0 {
		return errors.New("MaxLoginAttempts must not be negative")
	}
	if c.AttemptWindow < 0 || c.LockoutDuration < 0 {
		return errors.New("lockout durations must not be negative")
	}
	return nil
}
