package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"prediction-auth/internal/model"
)

// ErrNotFound is returned by lookup methods when no row matches.
var ErrNotFound = errors.New("record not found")

// IdentityRepository is the durable-store contract for phone identities.
type IdentityRepository interface {
	Create(ctx context.Context, identity *model.Identity) error
	FindByPhone(ctx context.Context, phone string) (*model.Identity, error)
	FindByID(ctx context.Context, id uuid.UUID) (*model.Identity, error)
}

// SessionRepository is the durable-store contract for sessions. The durable
// row is the source of truth; the Redis projection never overrides it.
type SessionRepository interface {
	Create(ctx context.Context, session *model.Session) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Session, error)
	FindByTokenHash(ctx context.Context, tokenHash string) (*model.Session, error)
	FindActiveByIdentity(ctx context.Context, identityID uuid.UUID) ([]*model.Session, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
	// DeactivateAllForIdentity clears the active flag on every active session
	// and returns the token hashes of the affected rows for cache purging.
	DeactivateAllForIdentity(ctx context.Context, identityID uuid.UUID) ([]string, error)
	UpdateLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error
	// DeleteExpired removes rows whose absolute expiry has passed. Idempotent
	// and safe to run concurrently with validations.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
