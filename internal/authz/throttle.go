package authz

import (
	"context"
	"fmt"
	"time"
)

// Default destructive throttle settings.
const (
	DefaultDestructiveLimit  = 5
	DefaultDestructiveWindow = 15 * time.Minute
)

// CounterStore is a shared fixed-window counter. Increment must be atomic: it
// increments key, starts the window on the first hit and reports the new count and
// the time left in the window.
type CounterStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)
}

// Throttle limits how often an actor may perform a class of actions.
type Throttle struct {
	store  CounterStore
	limit  int64
	window time.Duration
}

// NewThrottle builds a Throttle. Non-positive limit or window fall back to defaults.
func NewThrottle(store CounterStore, limit int, window time.Duration) *Throttle {
	if limit <= 0 {
		limit = DefaultDestructiveLimit
	}
	if window <= 0 {
		window = DefaultDestructiveWindow
	}
	return &Throttle{store: store, limit: int64(limit), window: window}
}

// ThrottleKey returns the counter key for actor and class.
func ThrottleKey(actorID int64, class string) string {
	return fmt.Sprintf("authz:bulk:%d:%s", actorID, class)
}

// Allow counts one attempt. It returns a rate_limited denial carrying the remaining
// window once the limit is exceeded; store failures are returned as-is.
func (t *Throttle) Allow(ctx context.Context, actorID int64, class string) error {
	count, ttl, err := t.store.Increment(ctx, ThrottleKey(actorID, class), t.window)
	if err != nil {
		return fmt.Errorf("authz: throttle: %w", err)
	}
	if count > t.limit {
		return &Denial{Kind: KindRateLimited, Field: "action", Reason: ReasonThrottled, RetryAfter: ttl}
	}
	return nil
}
