package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"prediction-auth/internal/client"
	"prediction-auth/internal/model"
)

type identityRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewIdentityRepository(pg *client.PostgresClient, logger *zap.Logger) IdentityRepository {
	return &identityRepository{db: pg.DB, logger: logger}
}

func (r *identityRepository) Create(ctx context.Context, identity *model.Identity) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	now := time.Now().UTC()
	identity.CreatedAt = now
	identity.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO identities (id, phone, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		identity.ID, identity.Phone, identity.IsActive, identity.CreatedAt, identity.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create identity",
			zap.String("identity_id", identity.ID.String()),
			zap.Error(err))
		return fmt.Errorf("failed to create identity: %w", err)
	}
	return nil
}

func (r *identityRepository) FindByPhone(ctx context.Context, phone string) (*model.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	row := r.db.QueryRowContext(ctx,
		`SELECT id, phone, is_active, created_at, updated_at
		 FROM identities WHERE phone = $1`, phone)
	return scanIdentity(row)
}

func (r *identityRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	row := r.db.QueryRowContext(ctx,
		`SELECT id, phone, is_active, created_at, updated_at
		 FROM identities WHERE id = $1`, id)
	return scanIdentity(row)
}

func scanIdentity(row *sql.Row) (*model.Identity, error) {
	var identity model.Identity
	err := row.Scan(&identity.ID, &identity.Phone, &identity.IsActive,
		&identity.CreatedAt, &identity.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan identity: %w", err)
	}
	return &identity, nil
}
