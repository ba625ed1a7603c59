package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is the primary Store implementation. Keys are namespaced under a
// configurable prefix; session values are JSON blobs with a native TTL, and a
// per-user set indexes session ids for list/revoke-all operations.
type Redis struct {
	client     redis.UniversalClient
	prefix     string
	sessionTTL time.Duration
}

// NewRedis creates a Redis store. prefix namespaces every key (e.g.
// "helpdesk:"); sessionTTL is the sliding-window lifetime applied on every
// write and refreshed on every read.
func NewRedis(client redis.UniversalClient, prefix string, sessionTTL time.Duration) *Redis {
	return &Redis{
		client:     client,
		prefix:     prefix,
		sessionTTL: sessionTTL,
	}
}

func (r *Redis) key(suffix string) string {
	return r.prefix + suffix
}

// BlacklistToken stores the revoked token string with the given ttl.
func (r *Redis) BlacklistToken(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, r.key(blacklistKey(token)), "1", ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// IsBlacklisted reports whether the token has a live blacklist entry.
func (r *Redis) IsBlacklisted(ctx context.Context, token string) (bool, error) {
	err := r.client.Get(ctx, r.key(blacklistKey(token))).Err()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return true, nil
}

// PutSession writes the session blob and registers it in the user index.
func (r *Redis) PutSession(ctx context.Context, sess Session, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.sessionTTL
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}

	key := r.key(sessionKey(sess.UserID, sess.SessionID))
	indexKey := r.key(userIndexKey(sess.UserID))
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, ttl)
		pipe.SAdd(ctx, indexKey, sess.SessionID)
		pipe.Expire(ctx, indexKey, r.sessionTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// GetSession loads the session, bumps LastActivity, and rewrites the entry
// with a full sliding-window TTL.
func (r *Redis) GetSession(ctx context.Context, userID, sessionID string) (*Session, error) {
	key := r.key(sessionKey(userID, sessionID))

	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Entry expired under us; drop the stale index member.
			_ = r.client.SRem(ctx, r.key(userIndexKey(userID)), sessionID).Err()
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("corrupt session entry: %w", err)
	}

	sess.LastActivity = time.Now()
	updated, err := json.Marshal(sess)
	if err != nil {
		return nil, err
	}
	if err := r.client.Set(ctx, key, updated, r.sessionTTL).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return &sess, nil
}

// DeleteSession removes the session and its index member. Idempotent.
func (r *Redis) DeleteSession(ctx context.Context, userID, sessionID string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key(sessionKey(userID, sessionID)))
		pipe.SRem(ctx, r.key(userIndexKey(userID)), sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// DeleteAllForUser removes every indexed session for the user.
func (r *Redis) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	indexKey := r.key(userIndexKey(userID))

	sessionIDs, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(sessionIDs) == 0 {
		_ = r.client.Del(ctx, indexKey).Err()
		return 0, nil
	}

	keys := make([]string, 0, len(sessionIDs)+1)
	for _, sid := range sessionIDs {
		keys = append(keys, r.key(sessionKey(userID, sid)))
	}
	keys = append(keys, indexKey)

	deleted, err := r.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	n := int(deleted) - 1 // exclude the index key itself
	if n < 0 {
		n = 0
	}
	return n, nil
}

// ListSessions returns the user's live sessions without touching TTLs.
func (r *Redis) ListSessions(ctx context.Context, userID string) ([]Session, error) {
	indexKey := r.key(userIndexKey(userID))

	sessionIDs, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []Session{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	sessions := make([]Session, 0, len(sessionIDs))
	for _, sid := range sessionIDs {
		data, err := r.client.Get(ctx, r.key(sessionKey(userID, sid))).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				// Expired entry still indexed; clean it up as we pass.
				_ = r.client.SRem(ctx, indexKey, sid).Err()
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		var sess Session
		if err := json.Unmarshal(data, &sess); err != nil {
			continue
		}
		sessions = append(sessions, sess)
	}

	return sessions, nil
}

// SweepInactive scans session keys and deletes entries idle past maxIdle.
// O(n) over live sessions; runs from the background sweeper, never from a
// request path.
func (r *Redis) SweepInactive(ctx context.Context, maxIdle time.Duration) (int, error) {
	pattern := r.key(sessionKeyPrefix) + "*"
	cutoff := time.Now().Add(-maxIdle)

	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 512).Result()
		if err != nil {
			return removed, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		for _, key := range keys {
			data, err := r.client.Get(ctx, key).Bytes()
			if err != nil {
				continue
			}
			var sess Session
			if err := json.Unmarshal(data, &sess); err != nil {
				continue
			}
			if sess.LastActivity.Before(cutoff) {
				if err := r.DeleteSession(ctx, sess.UserID, sess.SessionID); err == nil {
					removed++
				}
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return removed, nil
}

// IncrAttempts bumps the failure counter, starting the counting window on the
// first failure.
func (r *Redis) IncrAttempts(ctx context.Context, identifier string, window time.Duration) (int64, error) {
	key := r.key(attemptsKey(identifier))

	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count == 1 && window > 0 {
		if err := r.client.Expire(ctx, key, window).Err(); err != nil {
			return count, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return count, nil
}

// ResetAttempts clears the counter and any lockout marker.
func (r *Redis) ResetAttempts(ctx context.Context, identifier string) error {
	if err := r.client.Del(ctx, r.key(attemptsKey(identifier)), r.key(lockKey(identifier))).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Lock marks the identifier locked out for ttl.
func (r *Redis) Lock(ctx context.Context, identifier string, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.key(lockKey(identifier)), "1", ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// LockRemaining returns the remaining lockout duration, or zero when the
// identifier is not locked.
func (r *Redis) LockRemaining(ctx context.Context, identifier string) (time.Duration, error) {
	ttl, err := r.client.TTL(ctx, r.key(lockKey(identifier))).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// Ping checks Redis reachability.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
