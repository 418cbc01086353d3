package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	redisrepo "prediction-auth/internal/repository/redis"
)

// Policy decides what happens when the rate-limit backend is unavailable.
type Policy int

const (
	// FailOpen allows the request when the backend cannot be consulted.
	FailOpen Policy = iota
	// FailClosed blocks the request when the backend cannot be consulted.
	FailClosed
)

// RateLimiter enforces fixed-window counters backed by Redis.
type RateLimiter struct {
	cache  *redisrepo.RateLimitCache
	logger *zap.Logger
}

func NewRateLimiter(cache *redisrepo.RateLimitCache, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{cache: cache, logger: logger}
}

// Allow consumes one unit from the window for key. When the backend fails,
// the outcome follows the caller's policy and the failure is logged.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration, policy Policy) (bool, time.Duration, error) {
	allowed, retryAfter, err := r.cache.CheckAndConsume(ctx, key, limit, window)
	if err != nil {
		r.logger.Error("Rate limit backend unavailable",
			zap.String("key", key),
			zap.Error(err))
		if policy == FailOpen {
			return true, 0, nil
		}
		return false, window, nil
	}
	return allowed, retryAfter, nil
}
