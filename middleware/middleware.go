// Package middleware adapts the session manager to net/http. It extracts
// bearer tokens, maps authentication failures to machine-readable error
// codes, and places the authenticated Identity in the request context.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/helpdeskd/authkit"
	"github.com/helpdeskd/authkit/token"
)

// Machine-readable error codes returned in the "code" field of error
// responses. Clients branch on these, never on the human-readable message.
const (
	CodeMissingToken           = "MISSING_TOKEN"
	CodeRevokedToken           = "REVOKED_TOKEN"
	CodeInvalidSession         = "INVALID_SESSION"
	CodeTokenExpired           = "TOKEN_EXPIRED"
	CodeMalformedToken         = "MALFORMED_TOKEN"
	CodeInsufficientPrivileges = "INSUFFICIENT_PRIVILEGES"
	CodeAuthUnavailable        = "AUTH_UNAVAILABLE"
)

type contextKey struct{}

var identityKey contextKey

// IdentityFrom returns the authenticated Identity stored by Authenticate,
// or nil when the request did not pass through it.
func IdentityFrom(ctx context.Context) *authkit.Identity {
	id, _ := ctx.Value(identityKey).(*authkit.Identity)
	return id
}

// WithIdentity returns a context carrying the identity. Exported for tests
// of handlers that sit behind Authenticate.
func WithIdentity(ctx context.Context, id *authkit.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// Authenticator is the subset of the session manager the middleware needs.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*authkit.Identity, error)
}

// ExtractToken pulls the bearer token from the Authorization header.
// Returns "" when the header is absent or not a bearer scheme.
func ExtractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// Authenticate rejects requests without a valid access token. The token must
// pass signature, blacklist, and session checks; each failure mode gets its
// own status and code so clients can distinguish "log in again" from
// "refresh your token".
func Authenticate(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := ExtractToken(r)
			if tokenStr == "" {
				WriteError(w, http.StatusUnauthorized, CodeMissingToken, "Access token required")
				return
			}

			identity, err := auth.Authenticate(r.Context(), tokenStr)
			if err != nil {
				status, code, msg := mapAuthError(err)
				WriteError(w, status, code, msg)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// RequireAdmin allows only identities with the admin role. Must run after
// Authenticate.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := IdentityFrom(r.Context())
		if identity == nil {
			WriteError(w, http.StatusUnauthorized, CodeMissingToken, "Access token required")
			return
		}
		if identity.Role != authkit.RoleAdmin {
			WriteError(w, http.StatusForbidden, CodeInsufficientPrivileges, "Admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func mapAuthError(err error) (status int, code, msg string) {
	switch {
	case errors.Is(err, authkit.ErrRevokedToken):
		return http.StatusForbidden, CodeRevokedToken, "Token has been revoked"
	case errors.Is(err, authkit.ErrInvalidSession):
		return http.StatusForbidden, CodeInvalidSession, "Session is no longer valid"
	case errors.Is(err, token.ErrTokenExpired):
		return http.StatusForbidden, CodeTokenExpired, "Token has expired"
	case errors.Is(err, token.ErrTokenMalformed):
		return http.StatusForbidden, CodeMalformedToken, "Invalid token"
	default:
		// Store outage or similar. Fail closed, but do not blame the client.
		return http.StatusServiceUnavailable, CodeAuthUnavailable, "Authentication temporarily unavailable"
	}
}

// ErrorResponse is the JSON error envelope shared by middleware and httpapi.
type ErrorResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// WriteError writes the standard error envelope.
func WriteError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: msg, Code: code})
}

// WriteLocked writes the 429 lockout response with a Retry-After header and
// a retryAfter body field in whole seconds.
func WriteLocked(w http.ResponseWriter, retryAfterSeconds int) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:      "Too many login attempts. Please try again later.",
		Code:       "TOO_MANY_ATTEMPTS",
		RetryAfter: retryAfterSeconds,
	})
}
