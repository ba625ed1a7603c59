package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a session key has no entry (or has expired).
	ErrNotFound = errors.New("session not found")
	// ErrUnavailable wraps backend transport failures. Callers must treat it
	// as "unknown", never as "valid".
	ErrUnavailable = errors.New("session backend unavailable")
)

// Session is the server-side record binding a sessionId to a user. Its
// presence in the store is what makes an otherwise stateless token revocable.
type Session struct {
	UserID       string    `json:"userId"`
	SessionID    string    `json:"sessionId"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	UserAgent    string    `json:"userAgent,omitempty"`
	IPAddress    string    `json:"ipAddress,omitempty"`
}

// Store is the narrow adapter interface over the session backend. Two
// implementations exist with identical observable behavior: Redis and an
// in-process fallback. All shared mutable auth state (sessions, blacklist,
// login-attempt counters) lives behind it, never in package globals.
type Store interface {
	// BlacklistToken records a revoked token string for ttl, after which the
	// token would have expired on its own and the entry may be purged.
	BlacklistToken(ctx context.Context, token string, ttl time.Duration) error
	// IsBlacklisted reports whether a token has been revoked.
	IsBlacklisted(ctx context.Context, token string) (bool, error)

	// PutSession writes a session entry with the given ttl, overwriting any
	// previous entry for the same (userId, sessionId) pair.
	PutSession(ctx context.Context, sess Session, ttl time.Duration) error
	// GetSession returns the session or ErrNotFound. As a side effect it
	// bumps LastActivity and extends the entry's ttl (sliding window).
	GetSession(ctx context.Context, userID, sessionID string) (*Session, error)
	// DeleteSession removes one session. Deleting an absent session is not
	// an error.
	DeleteSession(ctx context.Context, userID, sessionID string) error
	// DeleteAllForUser removes every session for a user and returns how many
	// were deleted.
	DeleteAllForUser(ctx context.Context, userID string) (int, error)
	// ListSessions returns all live sessions for a user without touching
	// their activity timestamps.
	ListSessions(ctx context.Context, userID string) ([]Session, error)
	// SweepInactive deletes sessions whose LastActivity is older than
	// maxIdle, returning the number removed. Guards against sessions kept
	// alive past their usefulness by long-lived refresh tokens.
	SweepInactive(ctx context.Context, maxIdle time.Duration) (int, error)

	// IncrAttempts bumps the failed-login counter for an identifier
	// (email:ip) and returns the new count. The counter expires window after
	// the first failure.
	IncrAttempts(ctx context.Context, identifier string, window time.Duration) (int64, error)
	// ResetAttempts clears the counter and any lockout, e.g. after a
	// successful login.
	ResetAttempts(ctx context.Context, identifier string) error
	// Lock marks an identifier locked out for ttl.
	Lock(ctx context.Context, identifier string, ttl time.Duration) error
	// LockRemaining returns how long an identifier stays locked, or zero.
	LockRemaining(ctx context.Context, identifier string) (time.Duration, error)

	// Ping checks backend reachability.
	Ping(ctx context.Context) error
	// Close releases backend resources and stops background work.
	Close() error
}

const (
	sessionKeyPrefix   = "session:"
	blacklistKeyPrefix = "blacklist:"
	userIndexKeyPrefix = "usersessions:"
	attemptsKeyPrefix  = "loginattempts:"
	lockKeyPrefix      = "loginlock:"
)

func sessionKey(userID, sessionID string) string {
	return sessionKeyPrefix + userID + ":" + sessionID
}

func blacklistKey(token string) string {
	return blacklistKeyPrefix + token
}

func userIndexKey(userID string) string {
	return userIndexKeyPrefix + userID
}

func attemptsKey(identifier string) string {
	return attemptsKeyPrefix + identifier
}

func lockKey(identifier string) string {
	return lockKeyPrefix + identifier
}
