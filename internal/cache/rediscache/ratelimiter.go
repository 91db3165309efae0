package rediscache

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const rateLimitPrefix = "rl:"

// RateLimiter is a fixed-window counter. Each subject gets one Redis key per
// window, named after the window start.
type RateLimiter struct {
	c   *redis.Client
	now func() time.Time
}

func NewRateLimiter(c *redis.Client) *RateLimiter {
	return &RateLimiter{c: c, now: time.Now}
}

// Allow counts a hit for subject (for example "checkpoint:<carrier id>") in
// the current window and reports whether the count is still within limit.
func (rl *RateLimiter) Allow(ctx context.Context, subject string, limit int64, window time.Duration) (bool, int64, error) {
	if window <= 0 {
		return false, 0, errors.New("redis ratelimit: window must be positive")
	}
	now := rl.now()
	start := now.Truncate(window)
	key := bucketKey(subject, start)

	pipe := rl.c.TxPipeline()
	incr := pipe.Incr(ctx, key)
	// kept one second past the window end
	pipe.ExpireAt(ctx, key, start.Add(window+time.Second))
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, errors.Wrapf(err, "redis ratelimit %s", subject)
	}
	n := incr.Val()
	return n <= limit, n, nil
}

func bucketKey(subject string, start time.Time) string {
	return rateLimitPrefix + subject + ":" + strconv.FormatInt(start.Unix(), 10)
}
