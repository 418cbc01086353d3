package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"prediction-auth/internal/client"
	"prediction-auth/internal/model"
	"prediction-auth/internal/util"
)

const (
	otpChallengePrefix = "otp:phone:"
	otpCooldownPrefix  = "otp:send:limit:"
	otpAttemptsPrefix  = "otp:verify:attempts:"
)

// OTPCache stores the per-phone challenge, the send cooldown marker, and the
// verification attempt counter. All three are TTL-bounded; Redis eviction is
// the backstop when the flow never reaches an explicit delete.
type OTPCache struct {
	client *client.RedisClient
}

func NewOTPCache(client *client.RedisClient) *OTPCache {
	return &OTPCache{client: client}
}

// StoreChallenge writes a fresh challenge for the phone, replacing any prior
// state. The key TTL matches the challenge's absolute expiry.
func (c *OTPCache) StoreChallenge(ctx context.Context, phone string, challenge *model.OtpChallenge, ttl time.Duration) error {
	data, err := json.Marshal(challenge)
	if err != nil {
		return fmt.Errorf("failed to marshal challenge: %w", err)
	}

	key := otpChallengePrefix + phone
	if err := c.client.Set(ctx, key, data, ttl); err != nil {
		util.Error("Failed to store OTP challenge",
			zap.String("phone", phone),
			zap.Duration("ttl", ttl),
			zap.Error(err))
		return fmt.Errorf("failed to store OTP challenge: %w", err)
	}

	util.Debug("OTP challenge stored", zap.String("phone", phone), zap.Duration("ttl", ttl))
	return nil
}

// GetChallenge loads the live challenge for a phone, or (nil, nil) when none
// exists.
func (c *OTPCache) GetChallenge(ctx context.Context, phone string) (*model.OtpChallenge, error) {
	key := otpChallengePrefix + phone

	raw, err := c.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return nil, nil
		}
		util.Error("Failed to get OTP challenge", zap.String("phone", phone), zap.Error(err))
		return nil, fmt.Errorf("failed to get OTP challenge: %w", err)
	}

	var challenge model.OtpChallenge
	if err := json.Unmarshal([]byte(raw), &challenge); err != nil {
		util.Error("Corrupt OTP challenge payload", zap.String("phone", phone), zap.Error(err))
		return nil, fmt.Errorf("corrupt OTP challenge payload: %w", err)
	}
	return &challenge, nil
}

func (c *OTPCache) DeleteChallenge(ctx context.Context, phone string) error {
	if err := c.client.Del(ctx, otpChallengePrefix+phone); err != nil {
		util.Error("Failed to delete OTP challenge", zap.String("phone", phone), zap.Error(err))
		return fmt.Errorf("failed to delete OTP challenge: %w", err)
	}
	util.Debug("OTP challenge deleted", zap.String("phone", phone))
	return nil
}

// SetCooldown installs the presence-only marker that blocks re-issuance.
func (c *OTPCache) SetCooldown(ctx context.Context, phone string, ttl time.Duration) error {
	if err := c.client.Set(ctx, otpCooldownPrefix+phone, "1", ttl); err != nil {
		util.Error("Failed to set send cooldown", zap.String("phone", phone), zap.Error(err))
		return fmt.Errorf("failed to set send cooldown: %w", err)
	}
	return nil
}

// CooldownTTL returns the remaining cooldown for a phone, or zero when no
// cooldown is active.
func (c *OTPCache) CooldownTTL(ctx context.Context, phone string) (time.Duration, error) {
	key := otpCooldownPrefix + phone

	exists, err := c.client.Exists(ctx, key)
	if err != nil {
		util.Error("Failed to check send cooldown", zap.String("phone", phone), zap.Error(err))
		return 0, fmt.Errorf("failed to check send cooldown: %w", err)
	}
	if !exists {
		return 0, nil
	}

	ttl, err := c.client.TTL(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("failed to read cooldown TTL: %w", err)
	}
	if ttl < time.Second {
		// Marker with no usable TTL still blocks; report the minimum wait.
		ttl = time.Second
	}
	return ttl, nil
}

// IncrementAttempts bumps the failed-verification counter, binding the TTL to
// the first increment of the window. Returns the post-increment count.
func (c *OTPCache) IncrementAttempts(ctx context.Context, phone string, ttl time.Duration) (int, error) {
	count, err := c.client.IncrWithExpireNX(ctx, otpAttemptsPrefix+phone, ttl)
	if err != nil {
		util.Error("Failed to increment verify attempts", zap.String("phone", phone), zap.Error(err))
		return 0, fmt.Errorf("failed to increment verify attempts: %w", err)
	}
	util.Debug("Verify attempts incremented",
		zap.String("phone", phone),
		zap.Int("count", int(count)))
	return int(count), nil
}

// GetAttempts returns the current failed-verification count, zero when the
// counter does not exist.
func (c *OTPCache) GetAttempts(ctx context.Context, phone string) (int, error) {
	raw, err := c.client.Get(ctx, otpAttemptsPrefix+phone)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get verify attempts: %w", err)
	}

	count, err := strconv.Atoi(raw)
	if err != nil {
		util.Error("Invalid attempt count format",
			zap.String("phone", phone),
			zap.String("raw", raw),
			zap.Error(err))
		return 0, fmt.Errorf("invalid attempt count format: %w", err)
	}
	return count, nil
}

func (c *OTPCache) ResetAttempts(ctx context.Context, phone string) error {
	if err := c.client.Del(ctx, otpAttemptsPrefix+phone); err != nil {
		util.Error("Failed to reset verify attempts", zap.String("phone", phone), zap.Error(err))
		return fmt.Errorf("failed to reset verify attempts: %w", err)
	}
	return nil
}
