package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"prediction-auth/internal/client"
	"prediction-auth/internal/config"
	"prediction-auth/internal/model"
	redisrepo "prediction-auth/internal/repository/redis"
)

const testPhone = "09123456789"

func newOTPTestService(t *testing.T) (*OTPService, *redisrepo.OTPCache, *miniredis.Miniredis) {
	t.Helper()

	srv := miniredis.RunT(t)
	rc := client.NewRedisClientFromAddr(srv.Addr())
	t.Cleanup(func() { _ = rc.Close() })

	cfg := &config.Config{}
	cfg.OTP = config.OTPConfig{
		CodeLength:        6,
		TTL:               2 * time.Minute,
		SendCooldown:      2 * time.Minute,
		MaxVerifyAttempts: 5,
		VerifyAttemptsTTL: time.Minute,
	}

	cache := redisrepo.NewOTPCache(rc)
	return NewOTPService(cache, cfg, zap.NewNop()), cache, srv
}

func TestIssueAndVerifyOnce(t *testing.T) {
	svc, _, _ := newOTPTestService(t)
	ctx := context.Background()

	code, err := svc.Issue(ctx, testPhone)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("expected 6-digit code, got %q", code)
	}

	if err := svc.Verify(ctx, testPhone, code); err != nil {
		t.Fatalf("Verify with correct code failed: %v", err)
	}

	// A consumed challenge cannot be replayed.
	if err := svc.Verify(ctx, testPhone, code); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected ErrChallengeNotFound on replay, got %v", err)
	}
}

func TestIssueBlockedByCooldown(t *testing.T) {
	svc, _, _ := newOTPTestService(t)
	ctx := context.Background()

	if _, err := svc.Issue(ctx, testPhone); err != nil {
		t.Fatalf("first Issue failed: %v", err)
	}

	_, err := svc.Issue(ctx, testPhone)
	var rateErr *RateLimitedError
	if !errors.As(err, &rateErr) {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
	if rateErr.RetryAfter <= 0 {
		t.Errorf("expected positive retry-after, got %s", rateErr.RetryAfter)
	}

	// The cooldown is per phone.
	if _, err := svc.Issue(ctx, "09987654321"); err != nil {
		t.Fatalf("Issue for a different phone failed: %v", err)
	}
}

func TestIssueAfterCooldownExpires(t *testing.T) {
	svc, _, srv := newOTPTestService(t)
	ctx := context.Background()

	if _, err := svc.Issue(ctx, testPhone); err != nil {
		t.Fatalf("first Issue failed: %v", err)
	}

	srv.FastForward(2*time.Minute + time.Second)

	if _, err := svc.Issue(ctx, testPhone); err != nil {
		t.Fatalf("Issue after cooldown expiry failed: %v", err)
	}
}

func TestVerifyWrongCodeBurnsAttempts(t *testing.T) {
	svc, _, _ := newOTPTestService(t)
	ctx := context.Background()

	code, err := svc.Issue(ctx, testPhone)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	for want := 4; want >= 1; want-- {
		err := svc.Verify(ctx, testPhone, wrong)
		var mismatch *CodeMismatchError
		if !errors.As(err, &mismatch) {
			t.Fatalf("expected CodeMismatchError, got %v", err)
		}
		if mismatch.RemainingAttempts != want {
			t.Fatalf("expected %d remaining attempts, got %d", want, mismatch.RemainingAttempts)
		}
	}

	// The fifth wrong code exhausts the budget and destroys the challenge.
	if err := svc.Verify(ctx, testPhone, wrong); !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("expected ErrAttemptsExhausted, got %v", err)
	}

	// Even the correct code is now refused.
	if err := svc.Verify(ctx, testPhone, code); !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("expected ErrAttemptsExhausted after lockout, got %v", err)
	}
}

func TestReissueResetsAttempts(t *testing.T) {
	srv := miniredis.RunT(t)
	rc := client.NewRedisClientFromAddr(srv.Addr())
	t.Cleanup(func() { _ = rc.Close() })

	// The attempt counter outlives the cooldown here, so a stale counter
	// would poison the next challenge.
	cfg := &config.Config{}
	cfg.OTP = config.OTPConfig{
		CodeLength:        6,
		TTL:               2 * time.Minute,
		SendCooldown:      5 * time.Second,
		MaxVerifyAttempts: 5,
		VerifyAttemptsTTL: 10 * time.Minute,
	}
	svc := NewOTPService(redisrepo.NewOTPCache(rc), cfg, zap.NewNop())
	ctx := context.Background()

	first, err := svc.Issue(ctx, testPhone)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	wrong := "000000"
	if wrong == first {
		wrong = "000001"
	}

	for i := 0; i < 5; i++ {
		if err := svc.Verify(ctx, testPhone, wrong); err == nil {
			t.Fatal("expected wrong code to fail")
		}
	}
	if err := svc.Verify(ctx, testPhone, wrong); !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("expected lockout, got %v", err)
	}

	srv.FastForward(6 * time.Second)

	// A fresh challenge starts with a fresh attempt budget.
	code, err := svc.Issue(ctx, testPhone)
	if err != nil {
		t.Fatalf("Issue after cooldown failed: %v", err)
	}
	if err := svc.Verify(ctx, testPhone, code); err != nil {
		t.Fatalf("verify of fresh challenge failed: %v", err)
	}
}

func TestVerifySuccessResetsAttempts(t *testing.T) {
	svc, cache, _ := newOTPTestService(t)
	ctx := context.Background()

	code, err := svc.Issue(ctx, testPhone)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	for i := 0; i < 2; i++ {
		var mismatch *CodeMismatchError
		if err := svc.Verify(ctx, testPhone, wrong); !errors.As(err, &mismatch) {
			t.Fatalf("expected CodeMismatchError, got %v", err)
		}
	}

	if err := svc.Verify(ctx, testPhone, code); err != nil {
		t.Fatalf("Verify with correct code failed: %v", err)
	}

	attempts, err := cache.GetAttempts(ctx, testPhone)
	if err != nil {
		t.Fatalf("GetAttempts failed: %v", err)
	}
	if attempts != 0 {
		t.Errorf("expected attempt counter reset, got %d", attempts)
	}
}

func TestVerifyExpiredChallenge(t *testing.T) {
	svc, cache, _ := newOTPTestService(t)
	ctx := context.Background()

	challenge := &model.OtpChallenge{
		Code:      "482913",
		ExpiresAt: time.Now().Add(-time.Second).UnixMilli(),
	}
	if err := cache.StoreChallenge(ctx, testPhone, challenge, time.Minute); err != nil {
		t.Fatalf("StoreChallenge failed: %v", err)
	}

	if err := svc.Verify(ctx, testPhone, "482913"); !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("expected ErrChallengeExpired, got %v", err)
	}

	// The expired challenge is removed as a side effect.
	got, err := cache.GetChallenge(ctx, testPhone)
	if err != nil {
		t.Fatalf("GetChallenge failed: %v", err)
	}
	if got != nil {
		t.Error("expected expired challenge to be deleted")
	}
}

func TestVerifyNoChallenge(t *testing.T) {
	svc, _, _ := newOTPTestService(t)

	err := svc.Verify(context.Background(), testPhone, "123456")
	if !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected ErrChallengeNotFound, got %v", err)
	}
}

func TestIssueRejectsInvalidPhone(t *testing.T) {
	svc, _, _ := newOTPTestService(t)

	for _, phone := range []string{"", "12345", "0912345678", "091234567890", "9123456789"} {
		if _, err := svc.Issue(context.Background(), phone); !errors.Is(err, ErrInvalidPhone) {
			t.Errorf("Issue(%q): expected ErrInvalidPhone, got %v", phone, err)
		}
	}
}

func TestVerifyRejectsMalformedCode(t *testing.T) {
	svc, _, _ := newOTPTestService(t)
	ctx := context.Background()

	if _, err := svc.Issue(ctx, testPhone); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	for _, code := range []string{"", "12345", "1234567", "12a456"} {
		if err := svc.Verify(ctx, testPhone, code); !errors.Is(err, ErrInvalidCode) {
			t.Errorf("Verify(%q): expected ErrInvalidCode, got %v", code, err)
		}
	}
}
