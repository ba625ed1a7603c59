package store

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"
)

// Failover wraps a primary Store and an in-process fallback. While the
// primary is reachable every call goes to it; once a call fails with
// ErrUnavailable the wrapper flips to the fallback and a background probe
// retries the primary until it answers again.
//
// Sessions created on one backend are not migrated to the other. After a
// flip, clients whose sessions lived on the unreachable backend must log in
// again. That trade was made deliberately: degraded-but-working auth beats a
// hard outage.
type Failover struct {
	primary  Store
	fallback Store
	degraded atomic.Bool

	probeInterval time.Duration
	done          chan struct{}
	logf          func(format string, args ...any)
}

// FailoverOption configures a Failover wrapper.
type FailoverOption func(*Failover)

// WithProbeInterval overrides how often a degraded wrapper re-probes the
// primary. Default is 30 seconds.
func WithProbeInterval(d time.Duration) FailoverOption {
	return func(f *Failover) { f.probeInterval = d }
}

// WithLogger replaces the wrapper's log function. Default is log.Printf.
func WithLogger(logf func(format string, args ...any)) FailoverOption {
	return func(f *Failover) { f.logf = logf }
}

// NewFailover wraps primary with fallback. The returned store starts in
// primary mode; call Close to stop the recovery probe.
func NewFailover(primary, fallback Store, opts ...FailoverOption) *Failover {
	f := &Failover{
		primary:       primary,
		fallback:      fallback,
		probeInterval: 30 * time.Second,
		done:          make(chan struct{}),
		logf:          log.Printf,
	}
	for _, opt := range opts {
		opt(f)
	}
	go f.probe()
	return f
}

// Degraded reports whether calls are currently served by the fallback.
func (f *Failover) Degraded() bool {
	return f.degraded.Load()
}

func (f *Failover) active() Store {
	if f.degraded.Load() {
		return f.fallback
	}
	return f.primary
}

// noteErr flips to the fallback when the primary reports ErrUnavailable.
func (f *Failover) noteErr(err error) {
	if err == nil || !errors.Is(err, ErrUnavailable) {
		return
	}
	if f.degraded.CompareAndSwap(false, true) {
		f.logf("session store: primary unavailable, switching to in-memory fallback: %v", err)
	}
}

func (f *Failover) probe() {
	ticker := time.NewTicker(f.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !f.degraded.Load() {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := f.primary.Ping(ctx)
			cancel()
			if err == nil && f.degraded.CompareAndSwap(true, false) {
				f.logf("session store: primary recovered, switching back")
			}
		case <-f.done:
			return
		}
	}
}

func (f *Failover) BlacklistToken(ctx context.Context, token string, ttl time.Duration) error {
	s := f.active()
	err := s.BlacklistToken(ctx, token, ttl)
	if s == f.primary && errors.Is(err, ErrUnavailable) {
		f.noteErr(err)
		return f.fallback.BlacklistToken(ctx, token, ttl)
	}
	return err
}

func (f *Failover) IsBlacklisted(ctx context.Context, token string) (bool, error) {
	s := f.active()
	found, err := s.IsBlacklisted(ctx, token)
	if s == f.primary && errors.Is(err, ErrUnavailable) {
		f.noteErr(err)
		return f.fallback.IsBlacklisted(ctx, token)
	}
	return found, err
}

func (f *Failover) PutSession(ctx context.Context, sess Session, ttl time.Duration) error {
	s := f.active()
	err := s.PutSession(ctx, sess, ttl)
	if s == f.primary && errors.Is(err, ErrUnavailable) {
		f.noteErr(err)
		return f.fallback.PutSession(ctx, sess, ttl)
	}
	return err
}

func (f *Failover) GetSession(ctx context.Context, userID, sessionID string) (*Session, error) {
	s := f.active()
	sess, err := s.GetSession(ctx, userID, sessionID)
	if s == f.primary && errors.Is(err, ErrUnavailable) {
		f.noteErr(err)
		return f.fallback.GetSession(ctx, userID, sessionID)
	}
	return sess, err
}

func (f *Failover) DeleteSession(ctx context.Context, userID, sessionID string) error {
	s := f.active()
	err := s.DeleteSession(ctx, userID, sessionID)
	if s == f.primary && errors.Is(err, ErrUnavailable) {
		f.noteErr(err)
		return f.fallback.DeleteSession(ctx, userID, sessionID)
	}
	return err
}

func (f *Failover) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	s := f.active()
	n, err := s.DeleteAllForUser(ctx, userID)
	if s == f.primary && errors.Is(err, ErrUnavailable) {
		f.noteErr(err)
		return f.fallback.DeleteAllForUser(ctx, userID)
	}
	return n, err
}

func (f *Failover) ListSessions(ctx context.Context, userID string) ([]Session, error) {
	s := f.active()
	sessions, err := s.ListSessions(ctx, userID)
	if s == f.primary && errors.Is(err, ErrUnavailable) {
		f.noteErr(err)
		return f.fallback.ListSessions(ctx, userID)
	}
	return sessions, err
}

func (f *Failover) SweepInactive(ctx context.Context, maxIdle time.Duration) (int, error) {
	s := f.active()
	n, err := s.SweepInactive(ctx, maxIdle)
	if s == f.primary && errors.Is(err, ErrUnavailable) {
		f.noteErr(err)
		return f.fallback.SweepInactive(ctx, maxIdle)
	}
	return n, err
}

func (f *Failover) IncrAttempts(ctx context.Context, identifier string, window time.Duration) (int64, error) {
	s := f.active()
	n, err := s.IncrAttempts(ctx, identifier, window)
	if s == f.primary && errors.Is(err, ErrUnavailable) {
		f.noteErr(err)
		return f.fallback.IncrAttempts(ctx, identifier, window)
	}
	return n, err
}

func (f *Failover) ResetAttempts(ctx context.Context, identifier string) error {
	s := f.active()
	err := s.ResetAttempts(ctx, identifier)
	if s == f.primary && errors.Is(err, ErrUnavailable) {
		f.noteErr(err)
		return f.fallback.ResetAttempts(ctx, identifier)
	}
	return err
}

func (f *Failover) Lock(ctx context.Context, identifier string, ttl time.Duration) error {
	s := f.active()
	err := s.Lock(ctx, identifier, ttl)
	if s == f.primary && errors.Is(err, ErrUnavailable) {
		f.noteErr(err)
		return f.fallback.Lock(ctx, identifier, ttl)
	}
	return err
}

func (f *Failover) LockRemaining(ctx context.Context, identifier string) (time.Duration, error) {
	s := f.active()
	d, err := s.LockRemaining(ctx, identifier)
	if s == f.primary && errors.Is(err, ErrUnavailable) {
		f.noteErr(err)
		return f.fallback.LockRemaining(ctx, identifier)
	}
	return d, err
}

// Ping reports the health of whichever backend is active.
func (f *Failover) Ping(ctx context.Context) error {
	return f.active().Ping(ctx)
}

// Close stops the recovery probe and closes both backends.
func (f *Failover) Close() error {
	close(f.done)
	err := f.primary.Close()
	if ferr := f.fallback.Close(); err == nil {
		err = ferr
	}
	return err
}
