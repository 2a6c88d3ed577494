package ratelimit

import (
	"context"
	"fmt"
	"strings"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/time/rate"
)

const defaultLimitPerSec = 50

var _ RateLimiter = (*LocalRateLimiter)(nil)

// LocalRateLimiter keeps one token bucket per key in process memory.
type LocalRateLimiter struct {
	limit   rate.Limit
	burst   int
	buckets *xsync.MapOf[string, *rate.Limiter]
}

func NewLocalRateLimiter(limitPerSec int) *LocalRateLimiter {
	if limitPerSec <= 0 {
		limitPerSec = defaultLimitPerSec
	}

	return &LocalRateLimiter{
		limit:   rate.Limit(limitPerSec),
		burst:   limitPerSec,
		buckets: xsync.NewMapOf[string, *rate.Limiter](),
	}
}

func (l *LocalRateLimiter) Allow(_ context.Context, key string) (bool, error) {
	bucket, err := l.bucket(key)
	if err != nil {
		return false, err
	}
	return bucket.Allow(), nil
}

func (l *LocalRateLimiter) Wait(ctx context.Context, key string) error {
	bucket, err := l.bucket(key)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return bucket.Wait(ctx)
}

func (l *LocalRateLimiter) bucket(key string) (*rate.Limiter, error) {
	if l == nil || l.buckets == nil {
		return nil, fmt.Errorf("rate limiter is not initialized")
	}

	normalized := strings.ToLower(strings.TrimSpace(key))
	if normalized == "" {
		return nil, fmt.Errorf("rate limit key is required")
	}

	bucket, _ := l.buckets.LoadOrCompute(normalized, func() *rate.Limiter {
		return rate.NewLimiter(l.limit, l.burst)
	})
	return bucket, nil
}
