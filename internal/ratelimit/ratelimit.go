// Package ratelimit implements sliding-window admission control keyed by
// (org, category). The window is a sorted set of request timestamps in the
// coordination store; entries older than the trailing window are pruned on
// every check and the key self-expires when an org goes quiet.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/atlashq/atlas/internal/coordination"
)

// Result is the admission decision for a single request.
type Result struct {
	Allowed   bool `json:"allowed"`
	Remaining int  `json:"remaining"`
	// ResetAt is a forward-looking epoch-millisecond bound on when the
	// window frees up, suitable for client backoff hints.
	ResetAt int64 `json:"reset_at"`
}

type Limiter struct {
	store coordination.Store
	now   func() time.Time
}

func NewLimiter(store coordination.Store) *Limiter {
	if store == nil {
		panic("coordination store is required")
	}
	return &Limiter{store: store, now: time.Now}
}

// SetClock replaces the limiter's time source for tests.
func (l *Limiter) SetClock(now func() time.Time) {
	l.now = now
}

// CheckAndConsume records the request in the (orgID, category) window and
// decides admission. A rejected request's own entry is retracted immediately
// so it never counts against a future window.
func (l *Limiter) CheckAndConsume(ctx context.Context, orgID, category string, limit int, window time.Duration) (Result, error) {
	nowMs := l.now().UnixMilli()
	resetAt := nowMs + window.Milliseconds()

	if limit <= 0 {
		return Result{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
	}

	key := windowKey(orgID, category)
	cutoff := float64(nowMs - window.Milliseconds())
	// Timestamp alone collides when requests share a millisecond; the uuid
	// suffix keeps every entry distinct.
	member := fmt.Sprintf("%d-%s", nowMs, uuid.NewString())

	count, err := l.store.SlideWindow(ctx, key, cutoff, float64(nowMs), member, window)
	if err != nil {
		return Result{}, fmt.Errorf("rate limit %s/%s: %w", orgID, category, err)
	}

	if count > int64(limit) {
		if err := l.store.RemoveFromSortedSet(ctx, key, member); err != nil {
			return Result{}, fmt.Errorf("retract rate limit entry %s/%s: %w", orgID, category, err)
		}
		return Result{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: true, Remaining: remaining, ResetAt: resetAt}, nil
}

func windowKey(orgID, category string) string {
	return fmt.Sprintf("ratelimit:%s:%s", orgID, category)
}
