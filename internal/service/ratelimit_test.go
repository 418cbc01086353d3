package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"prediction-auth/internal/client"
	redisrepo "prediction-auth/internal/repository/redis"
)

func TestAllowWithinLimit(t *testing.T) {
	srv := miniredis.RunT(t)
	rc := client.NewRedisClientFromAddr(srv.Addr())
	t.Cleanup(func() { _ = rc.Close() })

	limiter := NewRateLimiter(redisrepo.NewRateLimitCache(rc), zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, _, err := limiter.Allow(ctx, "verify_otp:09123456789", 3, time.Minute, FailClosed)
		if err != nil {
			t.Fatalf("Allow failed: %v", err)
		}
		if !allowed {
			t.Fatalf("request %d unexpectedly blocked", i+1)
		}
	}

	allowed, retryAfter, err := limiter.Allow(ctx, "verify_otp:09123456789", 3, time.Minute, FailClosed)
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if allowed {
		t.Fatal("expected fourth request to be blocked")
	}
	if retryAfter <= 0 {
		t.Errorf("expected positive retry-after, got %s", retryAfter)
	}

	// Separate keys have separate windows.
	allowed, _, err = limiter.Allow(ctx, "verify_otp:09987654321", 3, time.Minute, FailClosed)
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if !allowed {
		t.Fatal("different key should not share the window")
	}
}

func TestWindowResets(t *testing.T) {
	srv := miniredis.RunT(t)
	rc := client.NewRedisClientFromAddr(srv.Addr())
	t.Cleanup(func() { _ = rc.Close() })

	limiter := NewRateLimiter(redisrepo.NewRateLimitCache(rc), zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if allowed, _, _ := limiter.Allow(ctx, "k", 1, time.Minute, FailClosed); allowed != (i == 0) {
			t.Fatalf("request %d: unexpected outcome", i+1)
		}
	}

	srv.FastForward(time.Minute + time.Second)

	allowed, _, err := limiter.Allow(ctx, "k", 1, time.Minute, FailClosed)
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if !allowed {
		t.Fatal("expected fresh window after expiry")
	}
}

func TestPolicyOnBackendFailure(t *testing.T) {
	srv := miniredis.RunT(t)
	rc := client.NewRedisClientFromAddr(srv.Addr())
	t.Cleanup(func() { _ = rc.Close() })

	limiter := NewRateLimiter(redisrepo.NewRateLimitCache(rc), zap.NewNop())
	ctx := context.Background()

	srv.Close()

	allowed, _, err := limiter.Allow(ctx, "k", 1, time.Minute, FailOpen)
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if !allowed {
		t.Fatal("FailOpen should admit the request when the backend is down")
	}

	allowed, retryAfter, err := limiter.Allow(ctx, "k", 1, time.Minute, FailClosed)
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if allowed {
		t.Fatal("FailClosed should block the request when the backend is down")
	}
	if retryAfter != time.Minute {
		t.Errorf("expected window as retry-after, got %s", retryAfter)
	}
}
