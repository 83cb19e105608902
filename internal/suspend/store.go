// Package suspend provides Redis-backed temporary account suspensions.
// Records are simple key-value pairs with TTL-based expiry:
//
//	Key:   suspend:<user_id>
//	Value: <reason>
//	TTL:   suspension duration
//
// Suspensions are written by moderation tooling; this server only checks
// them at connection time.
package suspend

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix is the Redis key prefix for suspension records.
const KeyPrefix = "suspend:"

// Store manages suspension records in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a suspension store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// IsSuspended checks whether the user is currently suspended. Returns the
// suspension state, the remaining duration, and the recorded reason. Redis
// errors are returned so callers can decide policy; the recommended policy
// is fail-open, since blocking all logins on a cache outage is worse than
// briefly admitting a suspended user.
func (s *Store) IsSuspended(ctx context.Context, userID int64) (bool, time.Duration, string, error) {
	key := KeyPrefix + strconv.FormatInt(userID, 10)

	reason, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, 0, "", nil
	}
	if err != nil {
		return false, 0, "", fmt.Errorf("suspend: lookup user %d: %w", userID, err)
	}

	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		// The record exists but the TTL is unreadable; report suspended
		// with zero remaining rather than swallowing the suspension.
		return true, 0, reason, nil
	}
	return true, ttl, reason, nil
}

// Suspend records a suspension for the given duration, replacing any
// existing record.
func (s *Store) Suspend(ctx context.Context, userID int64, reason string, d time.Duration) error {
	key := KeyPrefix + strconv.FormatInt(userID, 10)
	if err := s.client.Set(ctx, key, reason, d).Err(); err != nil {
		return fmt.Errorf("suspend: set for user %d: %w", userID, err)
	}
	return nil
}

// Lift removes the user's suspension, if any.
func (s *Store) Lift(ctx context.Context, userID int64) error {
	key := KeyPrefix + strconv.FormatInt(userID, 10)
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("suspend: lift for user %d: %w", userID, err)
	}
	return nil
}
