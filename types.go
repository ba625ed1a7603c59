package authkit

import (
	"context"
	"time"
)

// Roles understood by the service.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is the credential-store record. PasswordHash is the only secret field
// and never leaves the auth core.
type User struct {
	ID                string
	Email             string
	PasswordHash      string
	Role              string
	CreatedAt         time.Time
	LastLogin         *time.Time
	PasswordChangedAt *time.Time
}

// UserStore is the credential repository the session manager reads users
// from. Implementations: pgstore.Store for production, MemoryUserStore for
// tests and demos.
type UserStore interface {
	// GetByEmail returns the user with the given normalized email, or
	// ErrUserNotFound.
	GetByEmail(ctx context.Context, email string) (*User, error)
	// GetByID returns the user with the given id, or ErrUserNotFound.
	GetByID(ctx context.Context, id string) (*User, error)
	// Create inserts a new user. Returns ErrUserExists for a duplicate email.
	Create(ctx context.Context, u *User) error
	// UpdatePassword persists a new hash and the change timestamp.
	UpdatePassword(ctx context.Context, id, hash string, changedAt time.Time) error
	// UpdateLastLogin records a successful login time.
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
}

// RequestMeta carries the client attributes recorded on sessions and audit
// events.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// Identity is the authenticated principal placed in request context by the
// middleware after a token passes all three validity checks.
type Identity struct {
	UserID    string
	Email     string
	Role      string
	SessionID string
}

// LoginResult is returned by Login and Refresh.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	SessionID    string
	ExpiresIn    time.Duration
	User         *User
}
