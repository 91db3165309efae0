// Package cache declares the small key/value surfaces the services depend on.
package cache

import (
	"context"
	"time"
)

// BytesCache stores opaque values with a TTL. A miss is (nil, false, nil).
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// RateLimiter counts hits per subject in fixed windows and reports whether
// the current hit is within limit.
type RateLimiter interface {
	Allow(ctx context.Context, subject string, limit int64, window time.Duration) (bool, int64, error)
}
