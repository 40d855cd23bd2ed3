// Package ratelimit provides fixed-window counter stores for the authz throttle.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrementScript increments the counter and starts its window in one round trip.
// Keys that lost their expiry are given a fresh window.
var incrementScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// Redis is a counter store shared by every API instance.
type Redis struct {
	client redis.Scripter
	prefix string
}

// NewRedis builds a Redis counter store. prefix namespaces every key.
func NewRedis(client redis.Scripter, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// Increment implements authz.CounterStore.
func (r *Redis) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if window <= 0 {
		return 0, 0, fmt.Errorf("ratelimit: window must be positive")
	}
	vals, err := incrementScript.Run(ctx, r.client, []string{r.prefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("ratelimit: increment %s: %w", key, err)
	}
	if len(vals) != 2 {
		return 0, 0, fmt.Errorf("ratelimit: unexpected script reply %v", vals)
	}
	return vals[0], time.Duration(vals[1]) * time.Millisecond, nil
}
