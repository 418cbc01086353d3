package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"time"

	"go.uber.org/zap"

	"prediction-auth/internal/config"
	"prediction-auth/internal/hashing"
	"prediction-auth/internal/model"
	redisrepo "prediction-auth/internal/repository/redis"
	"prediction-auth/internal/util"
)

// OTPService owns the challenge lifecycle: issuing codes under a per-phone
// cooldown and verifying them under a bounded attempt budget.
type OTPService struct {
	cache  *redisrepo.OTPCache
	config *config.Config
	logger *zap.Logger
}

func NewOTPService(cache *redisrepo.OTPCache, cfg *config.Config, logger *zap.Logger) *OTPService {
	return &OTPService{
		cache:  cache,
		config: cfg,
		logger: logger,
	}
}

// Issue generates a fresh challenge for phone and arms the send cooldown.
// The plain code is returned for delivery; it is never logged.
func (s *OTPService) Issue(ctx context.Context, phone string) (string, error) {
	if !util.IsValidPhone(phone) {
		return "", ErrInvalidPhone
	}

	if remaining, err := s.cache.CooldownTTL(ctx, phone); err != nil {
		return "", fmt.Errorf("failed to check send cooldown: %w", err)
	} else if remaining > 0 {
		s.logger.Warn("OTP send blocked by cooldown",
			zap.String("phone", phone),
			zap.Duration("retry_after", remaining))
		return "", &RateLimitedError{RetryAfter: remaining}
	}

	code, err := generateCode(s.config.OTP.CodeLength)
	if err != nil {
		return "", fmt.Errorf("failed to generate verification code: %w", err)
	}

	challenge := &model.OtpChallenge{
		Code:      code,
		ExpiresAt: time.Now().Add(s.config.OTP.TTL).UnixMilli(),
	}
	if err := s.cache.StoreChallenge(ctx, phone, challenge, s.config.OTP.TTL); err != nil {
		return "", fmt.Errorf("failed to store challenge: %w", err)
	}
	// A fresh challenge starts with a fresh attempt budget; a lockout only
	// holds until the next issuance.
	if err := s.cache.ResetAttempts(ctx, phone); err != nil {
		return "", fmt.Errorf("failed to reset verify attempts: %w", err)
	}
	if err := s.cache.SetCooldown(ctx, phone, s.config.OTP.SendCooldown); err != nil {
		return "", fmt.Errorf("failed to set send cooldown: %w", err)
	}

	s.logger.Info("OTP challenge issued",
		zap.String("phone", phone),
		zap.Duration("ttl", s.config.OTP.TTL))

	return code, nil
}

// Verify checks code against the pending challenge for phone. A correct code
// consumes the challenge; a wrong one burns an attempt. Once the budget is
// spent the challenge is destroyed and the phone must request a new code.
func (s *OTPService) Verify(ctx context.Context, phone, code string) error {
	if !util.IsValidPhone(phone) {
		return ErrInvalidPhone
	}
	if !util.IsValidOTPCode(code, s.config.OTP.CodeLength) {
		return ErrInvalidCode
	}

	attempts, err := s.cache.GetAttempts(ctx, phone)
	if err != nil {
		return fmt.Errorf("failed to check verify attempts: %w", err)
	}
	if attempts >= s.config.OTP.MaxVerifyAttempts {
		s.logger.Warn("OTP verify blocked, attempt budget spent",
			zap.String("phone", phone))
		return ErrAttemptsExhausted
	}

	challenge, err := s.cache.GetChallenge(ctx, phone)
	if err != nil {
		return fmt.Errorf("failed to load challenge: %w", err)
	}
	if challenge == nil {
		return ErrChallengeNotFound
	}

	if challenge.Expired(time.Now()) {
		if err := s.cache.DeleteChallenge(ctx, phone); err != nil {
			s.logger.Error("Failed to delete expired challenge",
				zap.String("phone", phone),
				zap.Error(err))
		}
		return ErrChallengeExpired
	}

	if !hashing.SecureCompare(challenge.Code, code) {
		count, err := s.cache.IncrementAttempts(ctx, phone, s.config.OTP.VerifyAttemptsTTL)
		if err != nil {
			return fmt.Errorf("failed to record verify attempt: %w", err)
		}
		remaining := s.config.OTP.MaxVerifyAttempts - count
		if remaining <= 0 {
			if err := s.cache.DeleteChallenge(ctx, phone); err != nil {
				s.logger.Error("Failed to delete challenge after exhausted attempts",
					zap.String("phone", phone),
					zap.Error(err))
			}
			s.logger.Warn("OTP attempt budget exhausted",
				zap.String("phone", phone))
			return ErrAttemptsExhausted
		}
		return &CodeMismatchError{RemainingAttempts: remaining}
	}

	if err := s.cache.DeleteChallenge(ctx, phone); err != nil {
		return fmt.Errorf("failed to consume challenge: %w", err)
	}
	if err := s.cache.ResetAttempts(ctx, phone); err != nil {
		s.logger.Error("Failed to reset verify attempts",
			zap.String("phone", phone),
			zap.Error(err))
	}

	s.logger.Info("OTP challenge verified",
		zap.String("phone", phone))

	return nil
}

// generateCode draws a uniform number below 10^length and zero pads it.
func generateCode(length int) (string, error) {
	max := big.NewInt(int64(math.Pow10(length)))
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", length, n), nil
}
