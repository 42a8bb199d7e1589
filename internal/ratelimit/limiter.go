// Package ratelimit makes fixed-window allow/deny decisions over a
// pluggable counter store.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Store counts hits per key. Implementations must increment atomically and
// expire a key no earlier than window after its first hit.
type Store interface {
	Incr(ctx context.Context, key string, window time.Duration, now time.Time) (int64, error)
}

// Rule is a fixed-window limit.
type Rule struct {
	Limit  int64
	Window time.Duration
}

// Decision is the outcome of one check.
type Decision struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   time.Time
}

// RetryAfter is the wait until the window resets, at least one second.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	wait := d.ResetAt.Sub(now)
	if wait < time.Second {
		return time.Second
	}
	return wait.Round(time.Second)
}

// Decide turns a window hit count into a decision.
func Decide(count, limit int64, resetAt time.Time) Decision {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

// Limiter applies one rule to arbitrary keys.
type Limiter struct {
	store Store
	rule  Rule
}

func NewLimiter(store Store, rule Rule) *Limiter {
	if rule.Window <= 0 {
		rule.Window = time.Minute
	}
	return &Limiter{store: store, rule: rule}
}

// Rule returns the applied rule.
func (l *Limiter) Rule() Rule {
	return l.rule
}

// Allow records a hit for key at now and reports whether it is within the limit.
func (l *Limiter) Allow(ctx context.Context, key string, now time.Time) (Decision, error) {
	start := now.Truncate(l.rule.Window)
	windowKey := fmt.Sprintf("%s:%d", key, start.Unix())

	count, err := l.store.Incr(ctx, windowKey, l.rule.Window, now)
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit incr: %w", err)
	}
	return Decide(count, l.rule.Limit, start.Add(l.rule.Window)), nil
}
