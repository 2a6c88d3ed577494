package ratelimit

import (
	"context"
	"net/url"
	"strings"
)

// RateLimiter throttles outbound callbacks per key (the callback host).
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Wait(ctx context.Context, key string) error
}

// KeyForURL returns the limiter key for a callback URL: its lowercase host,
// or the raw value when it does not parse.
func KeyForURL(rawURL string) string {
	trimmed := strings.TrimSpace(rawURL)
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" {
		return strings.ToLower(trimmed)
	}
	return strings.ToLower(parsed.Host)
}
