package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"prediction-auth/internal/config"
	"prediction-auth/internal/hashing"
	"prediction-auth/internal/model"
	"prediction-auth/internal/repository/postgres"
	redisrepo "prediction-auth/internal/repository/redis"
)

// TokenService manages opaque session tokens. The durable store is the
// source of truth; the Redis projection only short-circuits the token-hash
// lookup and is re-verified against the store on every hit.
type TokenService struct {
	sessions   postgres.SessionRepository
	identities postgres.IdentityRepository
	cache      *redisrepo.SessionCache
	config     *config.Config
	logger     *zap.Logger
}

func NewTokenService(
	sessions postgres.SessionRepository,
	identities postgres.IdentityRepository,
	cache *redisrepo.SessionCache,
	cfg *config.Config,
	logger *zap.Logger,
) *TokenService {
	return &TokenService{
		sessions:   sessions,
		identities: identities,
		cache:      cache,
		config:     cfg,
		logger:     logger,
	}
}

// CreateSession mints a fresh opaque token for identityID and persists the
// session with only the token's digest. The plaintext token is returned to
// the caller exactly once and cannot be recovered afterwards.
func (s *TokenService) CreateSession(ctx context.Context, identityID uuid.UUID, device model.DeviceInfo) (*model.Session, string, error) {
	token, err := hashing.NewOpaqueToken(s.config.Token.ByteLength)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate session token: %w", err)
	}
	tokenHash := hashing.HashToken(token)

	now := time.Now().UTC()
	session := &model.Session{
		ID:         uuid.New(),
		IdentityID: identityID,
		TokenHash:  tokenHash,
		DeviceInfo: device,
		IsActive:   true,
		ExpiresAt:  now.AddDate(0, 0, s.config.Token.ExpiryDays),
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, "", fmt.Errorf("failed to persist session: %w", err)
	}

	s.cacheSession(ctx, session)

	s.logger.Info("Session created",
		zap.String("session_id", session.ID.String()),
		zap.String("identity_id", identityID.String()),
		zap.Time("expires_at", session.ExpiresAt))

	return session, token, nil
}

// ValidateToken resolves a presented token to its identity and session.
// Any failure along the way, including store errors, yields ErrUnauthorized
// so an outage never admits a request.
func (s *TokenService) ValidateToken(ctx context.Context, token string) (*model.Identity, *model.Session, error) {
	if token == "" {
		return nil, nil, ErrUnauthorized
	}
	tokenHash := hashing.HashToken(token)

	session, cached := s.lookupSession(ctx, tokenHash)
	if session == nil {
		return nil, nil, ErrUnauthorized
	}

	if !session.IsActive || session.TokenHash != tokenHash {
		return nil, nil, ErrUnauthorized
	}

	if time.Now().After(session.ExpiresAt) {
		if err := s.sessions.Deactivate(ctx, session.ID); err != nil {
			s.logger.Error("Failed to deactivate expired session",
				zap.String("session_id", session.ID.String()),
				zap.Error(err))
		}
		if err := s.cache.Delete(ctx, tokenHash); err != nil {
			s.logger.Error("Failed to evict expired session from cache",
				zap.String("session_id", session.ID.String()),
				zap.Error(err))
		}
		return nil, nil, ErrUnauthorized
	}

	identity, err := s.identities.FindByID(ctx, session.IdentityID)
	if err != nil {
		if !errors.Is(err, postgres.ErrNotFound) {
			s.logger.Error("Failed to load identity during validation",
				zap.String("identity_id", session.IdentityID.String()),
				zap.Error(err))
		}
		return nil, nil, ErrUnauthorized
	}
	if !identity.IsActive {
		return nil, nil, ErrUnauthorized
	}

	now := time.Now().UTC()
	if err := s.sessions.UpdateLastUsed(ctx, session.ID, now); err != nil {
		s.logger.Warn("Failed to record session use",
			zap.String("session_id", session.ID.String()),
			zap.Error(err))
	} else {
		session.LastUsedAt = &now
	}

	if !cached {
		s.cacheSession(ctx, session)
	}

	return identity, session, nil
}

// lookupSession resolves a token hash to its durable session row, trying the
// cache first. The returned flag reports whether the cache already held the
// entry.
func (s *TokenService) lookupSession(ctx context.Context, tokenHash string) (*model.Session, bool) {
	entry, err := s.cache.Get(ctx, tokenHash)
	if err != nil {
		s.logger.Warn("Session cache unavailable, falling back to store",
			zap.Error(err))
	}

	if entry != nil {
		session, err := s.sessions.FindByID(ctx, entry.SessionID)
		if err == nil {
			return session, true
		}
		if errors.Is(err, postgres.ErrNotFound) {
			if delErr := s.cache.Delete(ctx, tokenHash); delErr != nil {
				s.logger.Error("Failed to evict stale session cache entry",
					zap.Error(delErr))
			}
		} else {
			s.logger.Error("Failed to load session by id",
				zap.String("session_id", entry.SessionID.String()),
				zap.Error(err))
		}
		return nil, false
	}

	session, err := s.sessions.FindByTokenHash(ctx, tokenHash)
	if err != nil {
		if !errors.Is(err, postgres.ErrNotFound) {
			s.logger.Error("Failed to load session by token hash",
				zap.Error(err))
		}
		return nil, false
	}
	return session, false
}

// InvalidateSession revokes one session owned by identityID. Revoking a
// session that belongs to someone else is a permission error, not a 404.
func (s *TokenService) InvalidateSession(ctx context.Context, identityID, sessionID uuid.UUID) error {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("failed to load session: %w", err)
	}
	if session.IdentityID != identityID {
		return ErrPermissionDenied
	}

	if err := s.sessions.Deactivate(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to deactivate session: %w", err)
	}
	if err := s.cache.Delete(ctx, session.TokenHash); err != nil {
		s.logger.Error("Failed to evict revoked session from cache",
			zap.String("session_id", sessionID.String()),
			zap.Error(err))
	}

	s.logger.Info("Session revoked",
		zap.String("session_id", sessionID.String()),
		zap.String("identity_id", identityID.String()))

	return nil
}

// InvalidateAllForIdentity revokes every active session of identityID and
// purges their cache entries concurrently. Returns the number of sessions
// revoked.
func (s *TokenService) InvalidateAllForIdentity(ctx context.Context, identityID uuid.UUID) (int, error) {
	tokenHashes, err := s.sessions.DeactivateAllForIdentity(ctx, identityID)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate sessions: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, hash := range tokenHashes {
		hash := hash
		g.Go(func() error {
			return s.cache.Delete(gctx, hash)
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Error("Failed to purge some session cache entries",
			zap.String("identity_id", identityID.String()),
			zap.Error(err))
	}

	s.logger.Info("All sessions revoked",
		zap.String("identity_id", identityID.String()),
		zap.Int("count", len(tokenHashes)))

	return len(tokenHashes), nil
}

// ListSessions returns the active sessions of identityID, newest first.
func (s *TokenService) ListSessions(ctx context.Context, identityID uuid.UUID) ([]model.SessionSummary, error) {
	sessions, err := s.sessions.FindActiveByIdentity(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	summaries := make([]model.SessionSummary, 0, len(sessions))
	for _, session := range sessions {
		summaries = append(summaries, session.Summary())
	}
	return summaries, nil
}

// CleanupExpired deletes durable rows whose absolute expiry has passed.
func (s *TokenService) CleanupExpired(ctx context.Context) (int64, error) {
	deleted, err := s.sessions.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return deleted, nil
}

func (s *TokenService) cacheSession(ctx context.Context, session *model.Session) {
	entry := &model.SessionCacheEntry{
		SessionID:  session.ID,
		IdentityID: session.IdentityID,
		ExpiresAt:  session.ExpiresAt,
	}
	if err := s.cache.Put(ctx, session.TokenHash, entry, s.config.Token.SessionCacheTTL); err != nil {
		s.logger.Warn("Failed to cache session",
			zap.String("session_id", session.ID.String()),
			zap.Error(err))
	}
}
