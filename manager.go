package authkit

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/helpdeskd/authkit/audit"
	"github.com/helpdeskd/authkit/password"
	"github.com/helpdeskd/authkit/store"
	"github.com/helpdeskd/authkit/token"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Deps are the collaborators injected into a Manager. Tokens, Sessions, and
// Users are required; Policy and Hasher fall back to defaults and Audit may
// be nil to disable event emission.
type Deps struct {
	Tokens   *token.Engine
	Sessions store.Store
	Users    UserStore
	Policy   *password.Policy
	Hasher   *password.Hasher
	Audit    *audit.Dispatcher
}

// Manager is the session manager. It owns no transport concerns; the
// middleware and httpapi packages adapt it to HTTP. Safe for concurrent use.
type Manager struct {
	cfg      Config
	tokens   *token.Engine
	sessions store.Store
	users    UserStore
	policy   *password.Policy
	hasher   *password.Hasher
	auditor  *audit.Dispatcher

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New validates cfg, applies defaults, and returns a running Manager. When
// SweepInterval is positive a background goroutine sweeps inactive sessions
// until Close is called.
func New(cfg Config, deps Deps) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	if deps.Tokens == nil {
		return nil, errors.New("token engine is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("session store is required")
	}
	if deps.Users == nil {
		return nil, errors.New("user store is required")
	}
	if deps.Policy == nil {
		deps.Policy = password.NewPolicy(password.DefaultRequirements())
	}
	if deps.Hasher == nil {
		h, err := password.NewHasher(0)
		if err != nil {
			return nil, err
		}
		deps.Hasher = h
	}

	m := &Manager{
		cfg:      cfg,
		tokens:   deps.Tokens,
		sessions: deps.Sessions,
		users:    deps.Users,
		policy:   deps.Policy,
		hasher:   deps.Hasher,
		auditor:  deps.Audit,
		done:     make(chan struct{}),
	}

	if cfg.SweepInterval > 0 {
		m.wg.Add(1)
		go m.sweep()
	}

	return m, nil
}

func (m *Manager) sweep() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			_, _ = m.sessions.SweepInactive(ctx, m.cfg.MaxInactivity)
			cancel()
		case <-m.done:
			return
		}
	}
}

// Close stops the sweeper. It does not close the injected store; the owner
// of the store closes it.
func (m *Manager) Close() {
	m.stopOnce.Do(func() {
		close(m.done)
		m.wg.Wait()
	})
}

func (m *Manager) emit(ctx context.Context, event audit.Event) {
	if m.auditor == nil {
		return
	}
	event.Timestamp = time.Now()
	m.auditor.Emit(ctx, event)
}

// NormalizeEmail lowercases and trims an email address. Lookups and storage
// both go through it so casing never creates duplicate accounts.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func attemptIdentifier(email, ip string) string {
	return NormalizeEmail(email) + ":" + ip
}

// Login authenticates a credential pair and creates a session. Lockout is
// checked before the credential store is touched; failed attempts are
// recorded explicitly here, never inferred from response status codes.
func (m *Manager) Login(ctx context.Context, email, pass string, meta RequestMeta) (*LoginResult, error) {
	identifier := attemptIdentifier(email, meta.IP)

	remaining, err := m.sessions.LockRemaining(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if remaining > 0 {
		m.emit(ctx, audit.Event{
			EventType: audit.EventLoginLocked,
			IP:        meta.IP,
			UserAgent: meta.UserAgent,
			Metadata:  map[string]string{"email": NormalizeEmail(email)},
		})
		return nil, &LockedError{RetryAfter: remaining}
	}

	user, err := m.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, m.recordFailure(ctx, identifier, "", meta)
		}
		return nil, err
	}

	if !m.hasher.Verify(pass, user.PasswordHash) {
		return nil, m.recordFailure(ctx, identifier, user.ID, meta)
	}

	accessToken, sessionID, err := m.tokens.Issue(token.Subject{ID: user.ID, Email: user.Email, Role: user.Role}, token.KindAccess, "")
	if err != nil {
		return nil, err
	}
	// The refresh token shares the access token's sessionId, so revoking the
	// session kills both.
	refreshToken, _, err := m.tokens.Issue(token.Subject{ID: user.ID, Email: user.Email, Role: user.Role}, token.KindRefresh, sessionID)
	if err != nil {
		return nil, err
	}

	if err := m.enforceSessionLimit(ctx, user.ID, meta); err != nil {
		return nil, err
	}

	now := time.Now()
	sess := store.Session{
		UserID:       user.ID,
		SessionID:    sessionID,
		CreatedAt:    now,
		LastActivity: now,
		UserAgent:    meta.UserAgent,
		IPAddress:    meta.IP,
	}
	if err := m.sessions.PutSession(ctx, sess, m.cfg.SessionTTL); err != nil {
		return nil, err
	}

	if err := m.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return nil, err
	}
	user.LastLogin = &now

	if err := m.sessions.ResetAttempts(ctx, identifier); err != nil {
		return nil, err
	}

	m.emit(ctx, audit.Event{
		EventType: audit.EventLoginSuccess,
		UserID:    user.ID,
		SessionID: sessionID,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Success:   true,
	})

	return &LoginResult{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		SessionID:    sessionID,
		ExpiresIn:    m.tokens.TTL(token.KindAccess),
		User:         user,
	}, nil
}

// recordFailure increments the attempt counter and converts the threshold
// crossing into a lockout. The returned error is what Login hands back.
func (m *Manager) recordFailure(ctx context.Context, identifier, userID string, meta RequestMeta) error {
	count, err := m.sessions.IncrAttempts(ctx, identifier, m.cfg.AttemptWindow)
	if err != nil {
		return err
	}

	m.emit(ctx, audit.Event{
		EventType: audit.EventLoginFailure,
		UserID:    userID,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Error:     ErrInvalidCredentials.Error(),
		Metadata:  map[string]string{"attempts": fmt.Sprintf("%d", count)},
	})

	if count >= int64(m.cfg.MaxLoginAttempts) {
		if err := m.sessions.Lock(ctx, identifier, m.cfg.LockoutDuration); err != nil {
			return err
		}
		m.emit(ctx, audit.Event{
			EventType: audit.EventLoginLocked,
			UserID:    userID,
			IP:        meta.IP,
			UserAgent: meta.UserAgent,
		})
		return &LockedError{RetryAfter: m.cfg.LockoutDuration}
	}

	return ErrInvalidCredentials
}

// enforceSessionLimit makes room for one new session, evicting the least
// recently active sessions when the user is at the cap.
func (m *Manager) enforceSessionLimit(ctx context.Context, userID string, meta RequestMeta) error {
	sessions, err := m.sessions.ListSessions(ctx, userID)
	if err != nil {
		return err
	}
	if len(sessions) < m.cfg.MaxSessionsPerUser {
		return nil
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastActivity.Before(sessions[j].LastActivity)
	})

	evict := len(sessions) - m.cfg.MaxSessionsPerUser + 1
	for _, victim := range sessions[:evict] {
		if err := m.sessions.DeleteSession(ctx, userID, victim.SessionID); err != nil {
			return err
		}
		m.emit(ctx, audit.Event{
			EventType: audit.EventSessionEvicted,
			UserID:    userID,
			SessionID: victim.SessionID,
			IP:        meta.IP,
			Success:   true,
		})
	}
	return nil
}

// Authenticate runs the three validity checks on an access token: signature
// and expiry, blacklist, session presence. The session read doubles as the
// activity touch that keeps the sliding window open. Store failures
// propagate; an unreachable store never validates a token.
func (m *Manager) Authenticate(ctx context.Context, tokenStr string) (*Identity, error) {
	claims, err := m.tokens.Verify(tokenStr)
	if err != nil {
		return nil, err
	}
	// Refresh tokens mint new access tokens; they never grant access directly.
	if claims.Kind != token.KindAccess {
		return nil, token.ErrTokenMalformed
	}

	revoked, err := m.sessions.IsBlacklisted(ctx, tokenStr)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrRevokedToken
	}

	if _, err := m.sessions.GetSession(ctx, claims.UserID, claims.SessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, err
	}

	return &Identity{
		UserID:    claims.UserID,
		Email:     claims.Email,
		Role:      claims.Role,
		SessionID: claims.SessionID,
	}, nil
}

// Logout revokes a token and destroys its session. Idempotent by design: an
// already-invalid token or missing session still reports success, because
// the caller's goal (not being logged in) is already met.
func (m *Manager) Logout(ctx context.Context, tokenStr string, meta RequestMeta) error {
	claims, err := m.tokens.Verify(tokenStr)
	if err != nil {
		return nil
	}

	if err := m.sessions.BlacklistToken(ctx, tokenStr, m.tokens.TTL(claims.Kind)); err != nil {
		return err
	}
	if err := m.sessions.DeleteSession(ctx, claims.UserID, claims.SessionID); err != nil {
		return err
	}

	m.emit(ctx, audit.Event{
		EventType: audit.EventLogout,
		UserID:    claims.UserID,
		SessionID: claims.SessionID,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Success:   true,
	})
	return nil
}

// Refresh exchanges a live refresh token for a new access token on the same
// session. The refresh token goes through the same blacklist and session
// checks as an access token, so logout and revoke-all cut it off too.
func (m *Manager) Refresh(ctx context.Context, refreshToken string, meta RequestMeta) (*LoginResult, error) {
	claims, err := m.tokens.Verify(refreshToken)
	if err != nil {
		return nil, err
	}
	if claims.Kind != token.KindRefresh {
		return nil, token.ErrTokenMalformed
	}

	revoked, err := m.sessions.IsBlacklisted(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrRevokedToken
	}

	if _, err := m.sessions.GetSession(ctx, claims.UserID, claims.SessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, err
	}

	user, err := m.users.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}

	accessToken, _, err := m.tokens.Issue(token.Subject{ID: user.ID, Email: user.Email, Role: user.Role}, token.KindAccess, claims.SessionID)
	if err != nil {
		return nil, err
	}

	m.emit(ctx, audit.Event{
		EventType: audit.EventTokenRefreshed,
		UserID:    user.ID,
		SessionID: claims.SessionID,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Success:   true,
	})

	return &LoginResult{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		SessionID:    claims.SessionID,
		ExpiresIn:    m.tokens.TTL(token.KindAccess),
		User:         user,
	}, nil
}

// Register creates a user account. Role defaults to RoleUser; the password
// must pass the policy before it is hashed.
func (m *Manager) Register(ctx context.Context, email, pass, role string, meta RequestMeta) (*User, error) {
	email = NormalizeEmail(email)
	if !emailPattern.MatchString(email) {
		return nil, ErrInvalidEmail
	}

	if role == "" {
		role = RoleUser
	}
	if role != RoleUser && role != RoleAdmin {
		return nil, ErrInvalidRole
	}

	if res := m.policy.Validate(pass); !res.Valid {
		return nil, fmt.Errorf("%w: %s", ErrWeakPassword, strings.Join(res.Errors, "; "))
	}

	if _, err := m.users.GetByEmail(ctx, email); err == nil {
		return nil, ErrUserExists
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	hash, err := m.hasher.Hash(pass)
	if err != nil {
		return nil, err
	}

	user := &User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    time.Now(),
	}
	if err := m.users.Create(ctx, user); err != nil {
		return nil, err
	}

	m.emit(ctx, audit.Event{
		EventType: audit.EventUserRegistered,
		UserID:    user.ID,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Success:   true,
	})

	return user, nil
}

// ChangePassword verifies the current password, applies the policy to the
// new one, persists the new hash, and revokes every session the user holds.
// Forcing re-login everywhere is the point: a password change must cut off
// any attacker already holding a token.
func (m *Manager) ChangePassword(ctx context.Context, userID, current, next string, meta RequestMeta) error {
	user, err := m.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	if !m.hasher.Verify(current, user.PasswordHash) {
		return ErrInvalidCurrentPassword
	}
	if m.hasher.Verify(next, user.PasswordHash) {
		return ErrSamePassword
	}
	if res := m.policy.Validate(next); !res.Valid {
		return fmt.Errorf("%w: %s", ErrWeakPassword, strings.Join(res.Errors, "; "))
	}

	hash, err := m.hasher.Hash(next)
	if err != nil {
		return err
	}
	if err := m.users.UpdatePassword(ctx, userID, hash, time.Now()); err != nil {
		return err
	}

	revoked, err := m.sessions.DeleteAllForUser(ctx, userID)
	if err != nil {
		return err
	}

	m.emit(ctx, audit.Event{
		EventType: audit.EventPasswordChanged,
		UserID:    userID,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Success:   true,
		Metadata:  map[string]string{"sessions_revoked": fmt.Sprintf("%d", revoked)},
	})
	return nil
}

// RevokeAllSessions destroys every session the user holds and returns how
// many were removed.
func (m *Manager) RevokeAllSessions(ctx context.Context, userID string, meta RequestMeta) (int, error) {
	revoked, err := m.sessions.DeleteAllForUser(ctx, userID)
	if err != nil {
		return 0, err
	}

	m.emit(ctx, audit.Event{
		EventType: audit.EventAllSessionsRevoked,
		UserID:    userID,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Success:   true,
		Metadata:  map[string]string{"sessions_revoked": fmt.Sprintf("%d", revoked)},
	})
	return revoked, nil
}

// ListSessions returns the user's live sessions without touching their
// activity timestamps.
func (m *Manager) ListSessions(ctx context.Context, userID string) ([]store.Session, error) {
	return m.sessions.ListSessions(ctx, userID)
}
