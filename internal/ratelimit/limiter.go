// Package ratelimit provides a Redis-backed fixed-window rate limiter for
// per-user actions. The limiter fails open: if Redis is unreachable the
// action is allowed, since dropping calls is worse than briefly losing
// throttling.
package ratelimit

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule names one throttled action and its window.
type Rule struct {
	Name   string
	Limit  int64
	Window time.Duration
}

// Throttled actions.
var (
	// RuleFindMatch caps how often a user can start a search.
	RuleFindMatch = Rule{Name: "find_match", Limit: 10, Window: time.Minute}
	// RuleSignal caps relayed signaling messages; generous because ICE
	// candidate exchange is bursty.
	RuleSignal = Rule{Name: "signal", Limit: 300, Window: time.Minute}
	// RuleConnect caps socket handshakes per user.
	RuleConnect = Rule{Name: "connect", Limit: 20, Window: time.Minute}
)

// Limiter counts actions per user in fixed Redis windows.
type Limiter struct {
	rdb *redis.Client
}

// NewLimiter creates a limiter. rdb may be nil, which disables limiting.
func NewLimiter(rdb *redis.Client) *Limiter {
	return &Limiter{rdb: rdb}
}

// Allow increments the user's counter for the rule and reports whether they
// are still inside the limit. The first hit in a window sets the expiry.
func (l *Limiter) Allow(ctx context.Context, rule Rule, userID int64) bool {
	if l.rdb == nil {
		return true
	}

	key := fmt.Sprintf("ratelimit:%s:%d", rule.Name, userID)

	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, rule.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[ratelimit] %s for user %d: %v", rule.Name, userID, err)
		return true
	}

	return incr.Val() <= rule.Limit
}

// Reset clears the user's counter for the rule. Used by tests and admin
// tooling.
func (l *Limiter) Reset(ctx context.Context, rule Rule, userID int64) error {
	if l.rdb == nil {
		return nil
	}
	key := fmt.Sprintf("ratelimit:%s:%d", rule.Name, userID)
	if err := l.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("ratelimit: reset %s for user %d: %w", rule.Name, userID, err)
	}
	return nil
}
