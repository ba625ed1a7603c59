package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind distinguishes the two credential types the engine can mint.
type Kind string

const (
	// KindAccess is the short-lived per-request credential.
	KindAccess Kind = "access"
	// KindRefresh is the long-lived credential used to mint new access tokens.
	KindRefresh Kind = "refresh"
)

var (
	// ErrTokenExpired is returned by Verify when the token is past its expiry.
	ErrTokenExpired = errors.New("token has expired")
	// ErrTokenMalformed is returned by Verify for any structural or signature failure.
	ErrTokenMalformed = errors.New("malformed token")
)

// Placeholder secrets shipped in sample env files. Startup must refuse them.
var placeholderSecrets = []string{
	"your_super_secret_jwt_key_here",
	"demo_jwt_secret_key_for_testing_only_change_in_production_a1b2c3d4e5f6789012345678901234567890",
}

const minSecretLength = 32

// ValidateSecret rejects empty, placeholder, and too-short signing secrets.
// Exposed so the config loader applies the same rule before the engine is
// ever constructed.
func ValidateSecret(secret string) error {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return errors.New("signing secret must be set")
	}
	for _, placeholder := range placeholderSecrets {
		if secret == placeholder {
			return errors.New("signing secret is a known placeholder value")
		}
	}
	if len(secret) < minSecretLength {
		return fmt.Errorf("signing secret must be at least %d characters", minSecretLength)
	}
	return nil
}

// Config holds the signing parameters for an Engine. Instances are set up
// once at process start and treated as immutable afterwards.
type Config struct {
	Secret     []byte
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Leeway     time.Duration
}

// Claims is the full claim set carried by both token kinds. Claims are
// immutable once issued; revocation happens at the session layer, never by
// rewriting a token.
type Claims struct {
	UserID    string `json:"uid"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	SessionID string `json:"sid"`
	Kind      Kind   `json:"kind"`
	jwt.RegisteredClaims
}

// Subject identifies the account a token is issued for.
type Subject struct {
	ID    string
	Email string
	Role  string
}

// Engine issues and verifies signed bearer tokens. It is pure: no store
// access, no shared mutable state, safe for concurrent use. Session
// registration and revocation belong to the Manager layer.
type Engine struct {
	config Config
}

// NewEngine validates cfg and returns a ready Engine. A missing, placeholder,
// or short signing secret is a configuration error: the process must not
// serve traffic with it, so construction fails rather than degrading.
func NewEngine(cfg Config) (*Engine, error) {
	if err := ValidateSecret(string(cfg.Secret)); err != nil {
		return nil, err
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.RefreshTTL < cfg.AccessTTL {
		return nil, errors.New("refresh TTL must not be shorter than access TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.Issuer == "" || cfg.Audience == "" {
		return nil, errors.New("issuer and audience must be set")
	}

	return &Engine{config: cfg}, nil
}

// TTL returns the configured lifetime for a token kind. Callers use it to
// bound blacklist entries to a revoked token's maximum remaining life.
func (e *Engine) TTL(kind Kind) time.Duration {
	if kind == KindRefresh {
		return e.config.RefreshTTL
	}
	return e.config.AccessTTL
}

// Issue signs a new token for sub. When sessionID is empty a fresh random one
// is generated; the caller registers the session entry itself, keeping the
// engine stateless. Returns the serialized token and the session id it is
// bound to.
func (e *Engine) Issue(sub Subject, kind Kind, sessionID string) (string, string, error) {
	if kind != KindAccess && kind != KindRefresh {
		return "", "", fmt.Errorf("unknown token kind %q", kind)
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	now := time.Now()
	claims := Claims{
		UserID:    sub.ID,
		Email:     sub.Email,
		Role:      sub.Role,
		SessionID: sessionID,
		Kind:      kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    e.config.Issuer,
			Audience:  jwt.ClaimStrings{e.config.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(e.TTL(kind))),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(e.config.Secret)
	if err != nil {
		return "", "", err
	}
	return signed, sessionID, nil
}

// Verify checks signature, issuer, audience, and expiry. It does not consult
// the blacklist or the session store; those checks are composed above it.
func (e *Engine) Verify(tokenStr string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(e.config.Issuer),
		jwt.WithAudience(e.config.Audience),
		jwt.WithIssuedAt(),
	}
	if e.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(e.config.Leeway))
	}

	parser := jwt.NewParser(options...)
	parsed, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return e.config.Secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenMalformed
	}
	if claims.Kind != KindAccess && claims.Kind != KindRefresh {
		return nil, ErrTokenMalformed
	}
	if claims.SessionID == "" || claims.UserID == "" {
		return nil, ErrTokenMalformed
	}

	return claims, nil
}
