// Package ratelimit bounds how often an identity may perform sensitive actions.
//
// The algorithm is a fixed window: the first increment of a key opens a window
// that expires after a fixed length; every increment inside it counts toward
// the limit. A burst straddling two windows can pass up to twice the limit;
// that imprecision is accepted in exchange for one atomic increment per check.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"realtime-ws/internal/observability"

	"github.com/rs/zerolog"
)

type Action string

const (
	ActionMessageSend   Action = "message_send"
	ActionRequestCreate Action = "request_create"
)

// Store increments a counter atomically. The first increment of a window sets
// the key's expiry to window; the returned value is the count after increment.
type Store interface {
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
}

type Policy struct {
	Limit  int
	Window time.Duration
}

type Limiter struct {
	store    Store
	policies map[Action]Policy
	log      zerolog.Logger
}

func NewLimiter(store Store, policies map[Action]Policy, log zerolog.Logger) *Limiter {
	return &Limiter{
		store:    store,
		policies: policies,
		log:      observability.Component(log, "ratelimit"),
	}
}

// Allow increments key and reports whether the count is still within limit.
// A failing store allows the action.
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) bool {
	count, err := l.store.Increment(ctx, key, window)
	if err != nil {
		observability.RecordDegraded(observability.DegradedRateLimit)
		l.log.Warn().Err(err).Str("key", key).Msg("rate limit store unavailable, allowing")
		return true
	}
	return count <= int64(limit)
}

// AllowAction applies the configured policy of action to identityID.
// Actions without a policy are always allowed.
func (l *Limiter) AllowAction(ctx context.Context, identityID string, action Action) bool {
	policy, ok := l.policies[action]
	if !ok {
		return true
	}
	if l.Allow(ctx, Key(identityID, action), policy.Limit, policy.Window) {
		return true
	}
	observability.RateLimited.WithLabelValues(string(action)).Inc()
	l.log.Debug().Str("identity_id", identityID).Str("action", string(action)).Msg("rate limited")
	return false
}

// Key is the counter key of (identityID, action).
func Key(identityID string, action Action) string {
	return fmt.Sprintf("ratelimit:%s:%s", action, identityID)
}
