package store

import (
	"context"
	"sync"
	"time"
)

const defaultJanitorInterval = time.Minute

type memoryEntry struct {
	sess     Session
	expireAt time.Time
}

type memoryValue struct {
	expireAt time.Time
}

type memoryCounter struct {
	count    int64
	expireAt time.Time
}

// Memory is the in-process fallback Store. It mirrors the Redis store's
// observable behavior (same key semantics, same sliding expiry) so the
// session manager cannot tell the backends apart. Because it has no native
// TTL support, a janitor goroutine sweeps expired entries on an interval.
type Memory struct {
	mu         sync.RWMutex
	sessions   map[string]memoryEntry // sessionKey(userID, sessionID)
	blacklist  map[string]memoryValue
	attempts   map[string]memoryCounter
	locks      map[string]memoryValue
	sessionTTL time.Duration

	done     chan struct{}
	stopOnce sync.Once
}

// NewMemory creates a Memory store with the same sliding sessionTTL the
// Redis store would use, and starts its self-sweep janitor.
func NewMemory(sessionTTL time.Duration) *Memory {
	m := &Memory{
		sessions:   make(map[string]memoryEntry),
		blacklist:  make(map[string]memoryValue),
		attempts:   make(map[string]memoryCounter),
		locks:      make(map[string]memoryValue),
		sessionTTL: sessionTTL,
		done:       make(chan struct{}),
	}
	go m.janitor(defaultJanitorInterval)
	return m
}

func (m *Memory) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweepExpired(time.Now())
		case <-m.done:
			return
		}
	}
}

func (m *Memory) sweepExpired(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, entry := range m.sessions {
		if entry.expireAt.Before(now) {
			delete(m.sessions, key)
		}
	}
	for key, v := range m.blacklist {
		if v.expireAt.Before(now) {
			delete(m.blacklist, key)
		}
	}
	for key, c := range m.attempts {
		if c.expireAt.Before(now) {
			delete(m.attempts, key)
		}
	}
	for key, v := range m.locks {
		if v.expireAt.Before(now) {
			delete(m.locks, key)
		}
	}
}

// BlacklistToken records the revoked token until ttl elapses.
func (m *Memory) BlacklistToken(_ context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blacklist[blacklistKey(token)] = memoryValue{expireAt: time.Now().Add(ttl)}
	return nil
}

// IsBlacklisted reports whether the token has a live blacklist entry,
// dropping it lazily if expired.
func (m *Memory) IsBlacklisted(_ context.Context, token string) (bool, error) {
	key := blacklistKey(token)

	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.blacklist[key]
	if !ok {
		return false, nil
	}
	if v.expireAt.Before(time.Now()) {
		delete(m.blacklist, key)
		return false, nil
	}
	return true, nil
}

// PutSession stores the session with the given ttl.
func (m *Memory) PutSession(_ context.Context, sess Session, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = m.sessionTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionKey(sess.UserID, sess.SessionID)] = memoryEntry{
		sess:     sess,
		expireAt: time.Now().Add(ttl),
	}
	return nil
}

// GetSession returns the session, bumping LastActivity and extending the
// entry's expiry (sliding window), or ErrNotFound.
func (m *Memory) GetSession(_ context.Context, userID, sessionID string) (*Session, error) {
	key := sessionKey(userID, sessionID)
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.sessions[key]
	if !ok {
		return nil, ErrNotFound
	}
	if entry.expireAt.Before(now) {
		delete(m.sessions, key)
		return nil, ErrNotFound
	}

	entry.sess.LastActivity = now
	entry.expireAt = now.Add(m.sessionTTL)
	m.sessions[key] = entry

	sess := entry.sess
	return &sess, nil
}

// DeleteSession removes one session. Idempotent.
func (m *Memory) DeleteSession(_ context.Context, userID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionKey(userID, sessionID))
	return nil
}

// DeleteAllForUser removes every live session owned by the user.
func (m *Memory) DeleteAllForUser(_ context.Context, userID string) (int, error) {
	prefix := sessionKey(userID, "")

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, entry := range m.sessions {
		if entry.sess.UserID == userID && len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(m.sessions, key)
			removed++
		}
	}
	return removed, nil
}

// ListSessions returns the user's live sessions without touching activity.
func (m *Memory) ListSessions(_ context.Context, userID string) ([]Session, error) {
	now := time.Now()

	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]Session, 0)
	for _, entry := range m.sessions {
		if entry.sess.UserID == userID && entry.expireAt.After(now) {
			sessions = append(sessions, entry.sess)
		}
	}
	return sessions, nil
}

// SweepInactive deletes sessions idle past maxIdle.
func (m *Memory) SweepInactive(_ context.Context, maxIdle time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxIdle)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, entry := range m.sessions {
		if entry.sess.LastActivity.Before(cutoff) {
			delete(m.sessions, key)
			removed++
		}
	}
	return removed, nil
}

// IncrAttempts bumps the failure counter, starting the window on the first
// failure.
func (m *Memory) IncrAttempts(_ context.Context, identifier string, window time.Duration) (int64, error) {
	key := attemptsKey(identifier)
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.attempts[key]
	if !ok || c.expireAt.Before(now) {
		c = memoryCounter{count: 0, expireAt: now.Add(window)}
	}
	c.count++
	m.attempts[key] = c
	return c.count, nil
}

// ResetAttempts clears the counter and lockout marker.
func (m *Memory) ResetAttempts(_ context.Context, identifier string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.attempts, attemptsKey(identifier))
	delete(m.locks, lockKey(identifier))
	return nil
}

// Lock marks the identifier locked out for ttl.
func (m *Memory) Lock(_ context.Context, identifier string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locks[lockKey(identifier)] = memoryValue{expireAt: time.Now().Add(ttl)}
	return nil
}

// LockRemaining returns the remaining lockout duration, or zero.
func (m *Memory) LockRemaining(_ context.Context, identifier string) (time.Duration, error) {
	key := lockKey(identifier)
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.locks[key]
	if !ok {
		return 0, nil
	}
	remaining := v.expireAt.Sub(now)
	if remaining <= 0 {
		delete(m.locks, key)
		return 0, nil
	}
	return remaining, nil
}

// Ping always succeeds for the in-process store.
func (m *Memory) Ping(context.Context) error {
	return nil
}

// Close stops the janitor.
func (m *Memory) Close() error {
	m.stopOnce.Do(func() {
		close(m.done)
	})
	return nil
}
