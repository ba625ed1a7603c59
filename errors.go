package authkit

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials covers unknown email and wrong password alike so
	// responses never reveal which one failed.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrRevokedToken marks a token that was explicitly invalidated (logout,
	// password change) before its expiry.
	ErrRevokedToken = errors.New("token has been revoked")
	// ErrInvalidSession marks a structurally valid token whose server-side
	// session no longer exists.
	ErrInvalidSession = errors.New("session is no longer valid")
	// ErrInvalidCurrentPassword is returned by ChangePassword when the caller
	// fails to prove knowledge of the current password.
	ErrInvalidCurrentPassword = errors.New("current password is incorrect")
	// ErrWeakPassword is returned when a candidate password fails the policy.
	ErrWeakPassword = errors.New("password does not meet security requirements")
	// ErrSamePassword is returned when the new password matches the current one.
	ErrSamePassword = errors.New("new password must be different from current password")
	// ErrUserExists is returned by Register for a duplicate email.
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound is returned by UserStore lookups that match nothing.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidEmail is returned for malformed email addresses.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrInvalidRole is returned for roles outside {user, admin}.
	ErrInvalidRole = errors.New("invalid role")
	// ErrLoginLocked marks an identifier locked out after repeated failures.
	// Returned wrapped in a LockedError carrying the remaining duration.
	ErrLoginLocked = errors.New("too many login attempts")
)

// LockedError is the concrete error returned while a login identifier is
// locked out. It unwraps to ErrLoginLocked; RetryAfter is the remaining
// lockout duration for the Retry-After response header.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("too many login attempts, retry in %s", e.RetryAfter.Round(time.Second))
}

func (e *LockedError) Unwrap() error {
	return ErrLoginLocked
}
