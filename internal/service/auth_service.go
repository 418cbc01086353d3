package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"prediction-auth/internal/client"
	"prediction-auth/internal/config"
	"prediction-auth/internal/model"
	"prediction-auth/internal/repository/postgres"
	"prediction-auth/internal/sms"
)

const verifyRateLimitPrefix = "verify_otp:"

// SMSSender delivers verification codes. Satisfied by sms.Client.
type SMSSender interface {
	SendOTP(ctx context.Context, phone, code string) (*sms.Response, error)
}

// EventPublisher emits auth lifecycle events. Satisfied by
// client.KafkaProducer; nil disables publishing.
type EventPublisher interface {
	PublishAuthEvent(ctx context.Context, event client.AuthEvent) error
}

// SendOTPResult is what a successful send returns. Code is populated only
// outside production so integration tests and local clients can complete
// the flow without a real SMS gateway.
type SendOTPResult struct {
	ExpiresIn time.Duration
	Code      string
}

// AuthResult is the outcome of a successful verification: a minted session
// and its plaintext token.
type AuthResult struct {
	Identity *model.Identity
	Session  *model.Session
	Token    string
}

// AuthService orchestrates the login flow on top of OTPService and
// TokenService: code delivery, identity find-or-create, session minting,
// and lifecycle events.
type AuthService struct {
	otp        *OTPService
	tokens     *TokenService
	identities postgres.IdentityRepository
	limiter    *RateLimiter
	sender     SMSSender
	events     EventPublisher
	config     *config.Config
	logger     *zap.Logger
}

func NewAuthService(
	otp *OTPService,
	tokens *TokenService,
	identities postgres.IdentityRepository,
	limiter *RateLimiter,
	sender SMSSender,
	events EventPublisher,
	cfg *config.Config,
	logger *zap.Logger,
) *AuthService {
	return &AuthService{
		otp:        otp,
		tokens:     tokens,
		identities: identities,
		limiter:    limiter,
		sender:     sender,
		events:     events,
		config:     cfg,
		logger:     logger,
	}
}

// SendOTP issues a challenge for phone and delivers it over SMS. In sandbox
// mode a gateway failure is tolerated and the code is handed back directly.
func (s *AuthService) SendOTP(ctx context.Context, phone string) (*SendOTPResult, error) {
	code, err := s.otp.Issue(ctx, phone)
	if err != nil {
		return nil, err
	}

	resp, err := s.sender.SendOTP(ctx, phone, code)
	if err != nil {
		return nil, fmt.Errorf("failed to send SMS: %w", err)
	}
	if !sms.IsSuccess(resp) {
		if !s.config.SMS.Sandbox {
			return nil, &SMSSendError{Status: resp.Status, Reason: sms.StatusMessage(resp.Status)}
		}
		s.logger.Warn("SMS delivery failed, continuing in sandbox mode",
			zap.String("phone", phone),
			zap.Int("status", resp.Status))
	}

	s.publishEvent(ctx, client.AuthEvent{
		Type:       client.EventOTPIssued,
		Phone:      phone,
		OccurredAt: time.Now().UTC(),
	})

	result := &SendOTPResult{ExpiresIn: s.config.OTP.TTL}
	if !s.config.IsProduction() {
		result.Code = code
	}
	return result, nil
}

// VerifyOTP checks the submitted code under a per-phone rate limit and, on
// success, resolves or creates the identity and mints a session. The rate
// limit fails closed: if Redis is down, brute forcing stays impossible.
func (s *AuthService) VerifyOTP(ctx context.Context, phone, code string, device model.DeviceInfo) (*AuthResult, error) {
	allowed, retryAfter, err := s.limiter.Allow(ctx, verifyRateLimitPrefix+phone,
		s.config.OTP.MaxVerifyAttempts, s.config.OTP.VerifyAttemptsTTL, FailClosed)
	if err != nil {
		return nil, fmt.Errorf("failed to check rate limit: %w", err)
	}
	if !allowed {
		return nil, &RateLimitedError{RetryAfter: retryAfter}
	}

	if err := s.otp.Verify(ctx, phone, code); err != nil {
		return nil, err
	}

	identity, err := s.findOrCreateIdentity(ctx, phone)
	if err != nil {
		return nil, err
	}
	if !identity.IsActive {
		return nil, ErrIdentityInactive
	}

	session, token, err := s.tokens.CreateSession(ctx, identity.ID, device)
	if err != nil {
		return nil, err
	}

	s.publishEvent(ctx, client.AuthEvent{
		Type:       client.EventOTPVerified,
		Phone:      phone,
		IdentityID: identity.ID.String(),
		OccurredAt: time.Now().UTC(),
	})
	s.publishEvent(ctx, client.AuthEvent{
		Type:       client.EventSessionCreated,
		Phone:      phone,
		IdentityID: identity.ID.String(),
		SessionID:  session.ID.String(),
		OccurredAt: time.Now().UTC(),
	})

	return &AuthResult{Identity: identity, Session: session, Token: token}, nil
}

// Logout revokes the session the request authenticated with.
func (s *AuthService) Logout(ctx context.Context, identity *model.Identity, session *model.Session) error {
	if err := s.tokens.InvalidateSession(ctx, identity.ID, session.ID); err != nil {
		return err
	}

	s.publishEvent(ctx, client.AuthEvent{
		Type:       client.EventSessionRevoked,
		Phone:      identity.Phone,
		IdentityID: identity.ID.String(),
		SessionID:  session.ID.String(),
		OccurredAt: time.Now().UTC(),
	})
	return nil
}

// LogoutAll revokes every active session of identity, including the current
// one. Returns the number of sessions revoked.
func (s *AuthService) LogoutAll(ctx context.Context, identity *model.Identity) (int, error) {
	count, err := s.tokens.InvalidateAllForIdentity(ctx, identity.ID)
	if err != nil {
		return 0, err
	}

	s.publishEvent(ctx, client.AuthEvent{
		Type:       client.EventSessionRevoked,
		Phone:      identity.Phone,
		IdentityID: identity.ID.String(),
		OccurredAt: time.Now().UTC(),
	})
	return count, nil
}

// RevokeSession revokes one named session owned by identity.
func (s *AuthService) RevokeSession(ctx context.Context, identity *model.Identity, sessionID uuid.UUID) error {
	if err := s.tokens.InvalidateSession(ctx, identity.ID, sessionID); err != nil {
		return err
	}

	s.publishEvent(ctx, client.AuthEvent{
		Type:       client.EventSessionRevoked,
		Phone:      identity.Phone,
		IdentityID: identity.ID.String(),
		SessionID:  sessionID.String(),
		OccurredAt: time.Now().UTC(),
	})
	return nil
}

// ListSessions returns the caller's active sessions, newest first.
func (s *AuthService) ListSessions(ctx context.Context, identity *model.Identity) ([]model.SessionSummary, error) {
	return s.tokens.ListSessions(ctx, identity.ID)
}

// ValidateToken resolves a bearer token; the auth middleware calls this.
func (s *AuthService) ValidateToken(ctx context.Context, token string) (*model.Identity, *model.Session, error) {
	return s.tokens.ValidateToken(ctx, token)
}

func (s *AuthService) findOrCreateIdentity(ctx context.Context, phone string) (*model.Identity, error) {
	identity, err := s.identities.FindByPhone(ctx, phone)
	if err == nil {
		return identity, nil
	}
	if !errors.Is(err, postgres.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up identity: %w", err)
	}

	identity = &model.Identity{
		ID:       uuid.New(),
		Phone:    phone,
		IsActive: true,
	}
	if err := s.identities.Create(ctx, identity); err != nil {
		// A concurrent verification may have won the insert race.
		if existing, findErr := s.identities.FindByPhone(ctx, phone); findErr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("failed to create identity: %w", err)
	}

	s.logger.Info("Identity created",
		zap.String("identity_id", identity.ID.String()),
		zap.String("phone", phone))

	return identity, nil
}

func (s *AuthService) publishEvent(ctx context.Context, event client.AuthEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishAuthEvent(ctx, event); err != nil {
		s.logger.Warn("Failed to publish auth event",
			zap.String("event_type", event.Type),
			zap.Error(err))
	}
}
