package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

var slidingWindow = redis.NewScript(slidingWindowLua)

// minBackoff keeps Wait from spinning when a slot is about to free.
const minBackoff = 10 * time.Millisecond

// RateLimiter implements domain.RateLimiter. The Binance client draws its
// request weight from "binance:weight"; the API middleware keys by client IP.
type RateLimiter struct {
	c *Client
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{c: c}
}

// verdict is one evaluation of the window.
type verdict struct {
	admitted   bool
	used       int64
	retryAfter time.Duration
}

func (rl *RateLimiter) take(ctx context.Context, key string, limit int, window time.Duration) (verdict, error) {
	res, err := slidingWindow.Run(ctx, rl.c.rdb,
		[]string{rl.c.key("ratelimit", key)},
		time.Now().UnixMicro(), window.Microseconds(), limit, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return verdict{}, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	if len(res) != 3 {
		return verdict{}, fmt.Errorf("redis: rate limit %s: want 3 values, got %d", key, len(res))
	}
	return verdict{
		admitted:   res[0] == 1,
		used:       res[1],
		retryAfter: time.Duration(res[2]) * time.Microsecond,
	}, nil
}

// Allow counts one request against key and reports whether it fits in the
// window. A rejected request is not counted.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	v, err := rl.take(ctx, key, limit, window)
	return v.admitted, err
}

// Wait blocks until a slot frees for key or ctx is done. It sleeps until the
// oldest request in the window expires instead of polling.
func (rl *RateLimiter) Wait(ctx context.Context, key string, limit int, window time.Duration) error {
	for {
		v, err := rl.take(ctx, key, limit, window)
		if err != nil {
			return err
		}
		if v.admitted {
			return nil
		}

		timer := time.NewTimer(max(v.retryAfter, minBackoff))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("redis: rate limit wait %s (%d in window): %w", key, v.used, ctx.Err())
		case <-timer.C:
		}
	}
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
