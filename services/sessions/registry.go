// Package sessions tracks which users currently count as online. Records live
// in a shared TTL store keyed by user ID, so every service instance sees the
// same population and expiry is handled by the store itself.
package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/amyflash/audio-drama-system/models"
)

// ErrStoreUnavailable wraps any store failure. Callers must not read it as
// "no session" or "under capacity".
var ErrStoreUnavailable = errors.New("session store unavailable")

const (
	defaultKeyPrefix = "session:"
	scanBatch        = 100
)

// Registry is the only shared mutable state of the login path. Each method
// maps onto a single atomic store operation.
type Registry interface {
	// Count returns the number of sessions the store has not yet expired.
	Count(ctx context.Context) (int, error)
	// Put upserts the user's session, replacing any previous one.
	Put(ctx context.Context, userID string, s models.Session, ttl time.Duration) error
	// Remove deletes the user's session. Missing sessions are not an error.
	Remove(ctx context.Context, userID string) error
	// Renew resets the TTL of an existing session and reports whether one
	// existed. It never recreates an expired session.
	Renew(ctx context.Context, userID string, ttl time.Duration) (bool, error)
	// Exists reports whether the user currently holds a session.
	Exists(ctx context.Context, userID string) (bool, error)
	// Get returns the stored session or nil when there is none.
	Get(ctx context.Context, userID string) (*models.Session, error)
}

type RedisRegistry struct {
	client redis.UniversalClient
	prefix string
}

var _ Registry = (*RedisRegistry)(nil)

// NewRedisRegistry stores sessions under "<prefix><userID>". An empty prefix
// falls back to "session:".
func NewRedisRegistry(client redis.UniversalClient, prefix string) *RedisRegistry {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisRegistry{client: client, prefix: prefix}
}

func (r *RedisRegistry) key(userID string) string {
	return r.prefix + userID
}

// Count walks the key space with SCAN. Keys can be reported twice while
// Redis rehashes, so they are de-duplicated.
func (r *RedisRegistry) Count(ctx context.Context) (int, error) {
	seen := make(map[string]struct{})
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", scanBatch).Result()
		if err != nil {
			return 0, fmt.Errorf("%w: scan: %v", ErrStoreUnavailable, err)
		}
		for _, k := range keys {
			seen[k] = struct{}{}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return len(seen), nil
}

func (r *RedisRegistry) Put(ctx context.Context, userID string, s models.Session, ttl time.Duration) error {
	if userID == "" {
		return errors.New("sessions: user id is required")
	}
	if ttl <= 0 {
		return errors.New("sessions: ttl must be positive")
	}
	s.UserID = userID
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("sessions: marshal: %w", err)
	}
	if err := r.client.Set(ctx, r.key(userID), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (r *RedisRegistry) Remove(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, r.key(userID)).Err(); err != nil {
		return fmt.Errorf("%w: del: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (r *RedisRegistry) Renew(ctx context.Context, userID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, errors.New("sessions: ttl must be positive")
	}
	// EXPIRE is a no-op on a missing key, so an expired session stays gone.
	ok, err := r.client.Expire(ctx, r.key(userID), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: expire: %v", ErrStoreUnavailable, err)
	}
	return ok, nil
}

func (r *RedisRegistry) Exists(ctx context.Context, userID string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: exists: %v", ErrStoreUnavailable, err)
	}
	return n > 0, nil
}

func (r *RedisRegistry) Get(ctx context.Context, userID string) (*models.Session, error) {
	data, err := r.client.Get(ctx, r.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get: %v", ErrStoreUnavailable, err)
	}
	var s models.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("sessions: decode %s: %w", userID, err)
	}
	return &s, nil
}
