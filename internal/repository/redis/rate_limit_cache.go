package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"prediction-auth/internal/client"
	"prediction-auth/internal/util"
)

const rateLimitPrefix = "rate_limit:"

// RateLimitCache is the fixed-window counter primitive shared by every
// abuse-control call site. Keys are namespaced by prefix and identifier,
// e.g. rate_limit:send_otp:09123456789.
type RateLimitCache struct {
	client *client.RedisClient
}

func NewRateLimitCache(client *client.RedisClient) *RateLimitCache {
	return &RateLimitCache{client: client}
}

// CheckAndConsume performs a single atomic read-increment against the window
// counter. The TTL is bound to the 0 -> 1 transition inside the store, so
// concurrent first hits agree on one window. When the post-increment count
// exceeds the limit the call is blocked and retryAfter carries the remaining
// window.
func (c *RateLimitCache) CheckAndConsume(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, retryAfter time.Duration, err error) {
	fullKey := rateLimitPrefix + key

	count, err := c.client.IncrWithExpireNX(ctx, fullKey, window)
	if err != nil {
		util.Error("Failed to consume rate limit counter",
			zap.String("key", key),
			zap.Duration("window", window),
			zap.Error(err))
		return false, 0, fmt.Errorf("failed to consume rate limit counter: %w", err)
	}

	if count > int64(limit) {
		ttl, ttlErr := c.client.TTL(ctx, fullKey)
		if ttlErr != nil || ttl < time.Second {
			ttl = window
		}
		util.Warn("Rate limit exceeded",
			zap.String("key", key),
			zap.Int("limit", limit),
			zap.Duration("retry_after", ttl))
		return false, ttl, nil
	}

	util.Debug("Rate limit check passed",
		zap.String("key", key),
		zap.Int("count", int(count)),
		zap.Int("limit", limit))
	return true, 0, nil
}

// Reset clears the counter for a key. Test and admin use only.
func (c *RateLimitCache) Reset(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, rateLimitPrefix+key); err != nil {
		util.Error("Failed to reset rate limit counter", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to reset rate limit counter: %w", err)
	}
	return nil
}
