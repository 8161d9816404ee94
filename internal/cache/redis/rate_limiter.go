package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/theatom/atombot/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

// Wait's implicit budget when the caller passes no explicit limit: one
// request per second per key, which is what the venue pollers need.
const (
	waitLimit  = 1
	waitWindow = time.Second
)

// RateLimiter is a sliding-window limiter over a Redis sorted set. All
// window bookkeeping runs inside one Lua script, so concurrent callers on
// different processes cannot double-count.
type RateLimiter struct {
	rdb    *redis.Client
	script *redis.Script
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{
		rdb:    c.Underlying(),
		script: redis.NewScript(slidingWindowLua),
	}
}

var _ domain.RateLimiter = (*RateLimiter)(nil)

// Allow reports whether one more request fits the key's window, counting
// the request when it does.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	allowed, _, err := rl.run(ctx, key, limit, window)
	return allowed, err
}

// Wait blocks until the key's window admits a request. The script reports
// when the oldest counted request slides out, so Wait sleeps exactly that
// long instead of polling.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	for {
		allowed, retry, err := rl.run(ctx, key, waitLimit, waitWindow)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("redis: rate limit wait %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}

// run evaluates the window script and decodes its {allowed, remaining,
// retry_after_ms} reply.
func (rl *RateLimiter) run(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	res, err := rl.script.Run(
		ctx,
		rl.rdb,
		[]string{"ratelimit:" + key},
		time.Now().UnixMilli(),
		window.Milliseconds(),
		limit,
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	if len(res) != 3 {
		return false, 0, fmt.Errorf("redis: rate limit %s: script returned %d values", key, len(res))
	}
	return res[0] == 1, time.Duration(res[2]) * time.Millisecond, nil
}
