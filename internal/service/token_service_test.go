package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"prediction-auth/internal/client"
	"prediction-auth/internal/config"
	"prediction-auth/internal/model"
	"prediction-auth/internal/repository/postgres"
	redisrepo "prediction-auth/internal/repository/redis"
)

type memIdentityRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*model.Identity
}

func newMemIdentityRepo() *memIdentityRepo {
	return &memIdentityRepo{rows: make(map[uuid.UUID]*model.Identity)}
}

func (r *memIdentityRepo) Create(_ context.Context, identity *model.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.Phone == identity.Phone {
			return errors.New("duplicate phone")
		}
	}
	cp := *identity
	r.rows[identity.ID] = &cp
	return nil
}

func (r *memIdentityRepo) FindByPhone(_ context.Context, phone string) (*model.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.Phone == phone {
			cp := *row
			return &cp, nil
		}
	}
	return nil, postgres.ErrNotFound
}

func (r *memIdentityRepo) FindByID(_ context.Context, id uuid.UUID) (*model.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, postgres.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (r *memIdentityRepo) setActive(id uuid.UUID, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.rows[id]; ok {
		row.IsActive = active
	}
}

type memSessionRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*model.Session
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{rows: make(map[uuid.UUID]*model.Session)}
}

func (r *memSessionRepo) Create(_ context.Context, session *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *session
	r.rows[session.ID] = &cp
	return nil
}

func (r *memSessionRepo) FindByID(_ context.Context, id uuid.UUID) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, postgres.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (r *memSessionRepo) FindByTokenHash(_ context.Context, tokenHash string) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.TokenHash == tokenHash && row.IsActive {
			cp := *row
			return &cp, nil
		}
	}
	return nil, postgres.ErrNotFound
}

func (r *memSessionRepo) FindActiveByIdentity(_ context.Context, identityID uuid.UUID) ([]*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Session
	for _, row := range r.rows {
		if row.IdentityID == identityID && row.IsActive {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memSessionRepo) Deactivate(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return postgres.ErrNotFound
	}
	row.IsActive = false
	return nil
}

func (r *memSessionRepo) DeactivateAllForIdentity(_ context.Context, identityID uuid.UUID) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var hashes []string
	for _, row := range r.rows {
		if row.IdentityID == identityID && row.IsActive {
			row.IsActive = false
			hashes = append(hashes, row.TokenHash)
		}
	}
	return hashes, nil
}

func (r *memSessionRepo) UpdateLastUsed(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return postgres.ErrNotFound
	}
	row.LastUsedAt = &at
	return nil
}

func (r *memSessionRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for id, row := range r.rows {
		if row.ExpiresAt.Before(now) {
			delete(r.rows, id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *memSessionRepo) setExpiry(id uuid.UUID, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.rows[id]; ok {
		row.ExpiresAt = at
	}
}

type tokenTestEnv struct {
	svc        *TokenService
	identities *memIdentityRepo
	sessions   *memSessionRepo
	redis      *miniredis.Miniredis
	identity   *model.Identity
}

func newTokenTestEnv(t *testing.T) *tokenTestEnv {
	t.Helper()

	srv := miniredis.RunT(t)
	rc := client.NewRedisClientFromAddr(srv.Addr())
	t.Cleanup(func() { _ = rc.Close() })

	cfg := &config.Config{}
	cfg.Token = config.TokenConfig{
		ByteLength:      64,
		ExpiryDays:      30,
		SessionCacheTTL: time.Hour,
	}

	identities := newMemIdentityRepo()
	sessions := newMemSessionRepo()

	identity := &model.Identity{
		ID:       uuid.New(),
		Phone:    "09123456789",
		IsActive: true,
	}
	if err := identities.Create(context.Background(), identity); err != nil {
		t.Fatalf("failed to seed identity: %v", err)
	}

	svc := NewTokenService(sessions, identities, redisrepo.NewSessionCache(rc), cfg, zap.NewNop())
	return &tokenTestEnv{
		svc:        svc,
		identities: identities,
		sessions:   sessions,
		redis:      srv,
		identity:   identity,
	}
}

func TestCreateAndValidateSession(t *testing.T) {
	env := newTokenTestEnv(t)
	ctx := context.Background()

	session, token, err := env.svc.CreateSession(ctx, env.identity.ID, model.DeviceInfo{Platform: "Linux"})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if len(token) != 128 {
		t.Fatalf("expected 128-char token, got %d", len(token))
	}

	identity, got, err := env.svc.ValidateToken(ctx, token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if identity.ID != env.identity.ID {
		t.Errorf("wrong identity: got %s, want %s", identity.ID, env.identity.ID)
	}
	if got.ID != session.ID {
		t.Errorf("wrong session: got %s, want %s", got.ID, session.ID)
	}
	if got.LastUsedAt == nil {
		t.Error("expected last-used timestamp after validation")
	}
}

func TestValidateDistinctTokens(t *testing.T) {
	env := newTokenTestEnv(t)
	ctx := context.Background()

	const sessions = 8

	type minted struct {
		token     string
		sessionID uuid.UUID
	}
	results := make(chan minted, sessions)

	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			session, token, err := env.svc.CreateSession(ctx, env.identity.ID, model.DeviceInfo{})
			if err != nil {
				t.Errorf("CreateSession failed: %v", err)
				return
			}
			results <- minted{token: token, sessionID: session.ID}
		}()
	}
	wg.Wait()
	close(results)

	tokens := make(map[string]uuid.UUID)
	for m := range results {
		if _, dup := tokens[m.token]; dup {
			t.Fatal("duplicate token issued")
		}
		tokens[m.token] = m.sessionID
	}
	if len(tokens) != sessions {
		t.Fatalf("expected %d distinct tokens, got %d", sessions, len(tokens))
	}

	// Each token resolves to its own session.
	for token, sessionID := range tokens {
		_, session, err := env.svc.ValidateToken(ctx, token)
		if err != nil {
			t.Fatalf("ValidateToken failed: %v", err)
		}
		if session.ID != sessionID {
			t.Errorf("token resolved to %s, want %s", session.ID, sessionID)
		}
	}
}

func TestValidateColdAndWarmCacheAgree(t *testing.T) {
	env := newTokenTestEnv(t)
	ctx := context.Background()

	_, token, err := env.svc.CreateSession(ctx, env.identity.ID, model.DeviceInfo{})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	_, warm, err := env.svc.ValidateToken(ctx, token)
	if err != nil {
		t.Fatalf("warm ValidateToken failed: %v", err)
	}

	env.redis.FlushAll()

	_, cold, err := env.svc.ValidateToken(ctx, token)
	if err != nil {
		t.Fatalf("cold ValidateToken failed: %v", err)
	}
	if cold.ID != warm.ID {
		t.Errorf("cold and warm paths resolved different sessions: %s vs %s", cold.ID, warm.ID)
	}
}

func TestValidateUnknownToken(t *testing.T) {
	env := newTokenTestEnv(t)

	for _, token := range []string{"", "deadbeef", "not-a-real-token"} {
		if _, _, err := env.svc.ValidateToken(context.Background(), token); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("ValidateToken(%q): expected ErrUnauthorized, got %v", token, err)
		}
	}
}

func TestValidateExpiredSession(t *testing.T) {
	env := newTokenTestEnv(t)
	ctx := context.Background()

	session, token, err := env.svc.CreateSession(ctx, env.identity.ID, model.DeviceInfo{})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	env.sessions.setExpiry(session.ID, time.Now().Add(-time.Minute))

	if _, _, err := env.svc.ValidateToken(ctx, token); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for expired session, got %v", err)
	}

	// Expiry discovery deactivates the row.
	row, err := env.sessions.FindByID(ctx, session.ID)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if row.IsActive {
		t.Error("expected expired session to be deactivated")
	}
}

func TestValidateInactiveIdentity(t *testing.T) {
	env := newTokenTestEnv(t)
	ctx := context.Background()

	_, token, err := env.svc.CreateSession(ctx, env.identity.ID, model.DeviceInfo{})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	env.identities.setActive(env.identity.ID, false)

	if _, _, err := env.svc.ValidateToken(ctx, token); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for inactive identity, got %v", err)
	}
}

func TestInvalidateSession(t *testing.T) {
	env := newTokenTestEnv(t)
	ctx := context.Background()

	session, token, err := env.svc.CreateSession(ctx, env.identity.ID, model.DeviceInfo{})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if err := env.svc.InvalidateSession(ctx, env.identity.ID, session.ID); err != nil {
		t.Fatalf("InvalidateSession failed: %v", err)
	}

	if _, _, err := env.svc.ValidateToken(ctx, token); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized after revocation, got %v", err)
	}
}

func TestInvalidateSessionOwnership(t *testing.T) {
	env := newTokenTestEnv(t)
	ctx := context.Background()

	session, _, err := env.svc.CreateSession(ctx, env.identity.ID, model.DeviceInfo{})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	other := uuid.New()
	if err := env.svc.InvalidateSession(ctx, other, session.ID); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}

	if err := env.svc.InvalidateSession(ctx, env.identity.ID, uuid.New()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestInvalidateRevokedEvenWhenCached(t *testing.T) {
	env := newTokenTestEnv(t)
	ctx := context.Background()

	session, token, err := env.svc.CreateSession(ctx, env.identity.ID, model.DeviceInfo{})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	// Revoke directly in the store, leaving the cache entry in place. The
	// durable row must still win.
	if err := env.sessions.Deactivate(ctx, session.ID); err != nil {
		t.Fatalf("Deactivate failed: %v", err)
	}

	if _, _, err := env.svc.ValidateToken(ctx, token); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized despite warm cache, got %v", err)
	}
}

func TestInvalidateAllForIdentity(t *testing.T) {
	env := newTokenTestEnv(t)
	ctx := context.Background()

	var tokens []string
	for i := 0; i < 3; i++ {
		_, token, err := env.svc.CreateSession(ctx, env.identity.ID, model.DeviceInfo{})
		if err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}
		tokens = append(tokens, token)
	}

	count, err := env.svc.InvalidateAllForIdentity(ctx, env.identity.ID)
	if err != nil {
		t.Fatalf("InvalidateAllForIdentity failed: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 revoked sessions, got %d", count)
	}

	for _, token := range tokens {
		if _, _, err := env.svc.ValidateToken(ctx, token); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized after bulk revocation, got %v", err)
		}
	}

	summaries, err := env.svc.ListSessions(ctx, env.identity.ID)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(summaries) != 0 {
		t.Errorf("expected no active sessions, got %d", len(summaries))
	}
}

func TestCleanupExpired(t *testing.T) {
	env := newTokenTestEnv(t)
	ctx := context.Background()

	keep, _, err := env.svc.CreateSession(ctx, env.identity.ID, model.DeviceInfo{})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	stale, _, err := env.svc.CreateSession(ctx, env.identity.ID, model.DeviceInfo{})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	env.sessions.setExpiry(stale.ID, time.Now().Add(-time.Hour))

	deleted, err := env.svc.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("CleanupExpired failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted session, got %d", deleted)
	}

	if _, err := env.sessions.FindByID(ctx, stale.ID); !errors.Is(err, postgres.ErrNotFound) {
		t.Error("expected stale session to be deleted")
	}
	if _, err := env.sessions.FindByID(ctx, keep.ID); err != nil {
		t.Errorf("live session should survive cleanup: %v", err)
	}
}
