package client

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"prediction-auth/internal/config"
	"prediction-auth/internal/util"
)

type PostgresClient struct {
	DB     *sql.DB
	config *config.PostgresConfig
}

const schema = `
CREATE TABLE IF NOT EXISTS identities (
    id         UUID PRIMARY KEY,
    phone      VARCHAR(11) UNIQUE NOT NULL,
    is_active  BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS sessions (
    id           UUID PRIMARY KEY,
    identity_id  UUID NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
    token_hash   VARCHAR(64) UNIQUE NOT NULL,
    device_info  JSONB,
    is_active    BOOLEAN NOT NULL DEFAULT TRUE,
    expires_at   TIMESTAMPTZ NOT NULL,
    last_used_at TIMESTAMPTZ,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_sessions_identity_active ON sessions (identity_id, is_active);
CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions (expires_at);
`

// NewPostgresClient opens the durable store, verifies connectivity, and
// bootstraps the schema this subsystem owns.
func NewPostgresClient(cfg *config.Config, logger *zap.Logger) (*PostgresClient, error) {
	pgConfig := cfg.Postgres

	db, err := sql.Open("pgx", pgConfig.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(pgConfig.MaxOpenConns)
	db.SetMaxIdleConns(pgConfig.MaxIdleConns)
	db.SetConnMaxLifetime(pgConfig.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to bootstrap schema: %w", err)
	}

	logger.Info("Postgres client initialized",
		zap.Int("max_open_conns", pgConfig.MaxOpenConns),
		zap.Int("max_idle_conns", pgConfig.MaxIdleConns))

	return &PostgresClient{
		DB:     db,
		config: &pgConfig,
	}, nil
}

func (p *PostgresClient) Close() error {
	if p.DB != nil {
		if err := p.DB.Close(); err != nil {
			util.Error("failed to close Postgres client", zap.Error(err))
			return err
		}
		util.Info("Postgres client closed")
	}
	return nil
}

func (p *PostgresClient) HealthCheck(ctx context.Context) error {
	if err := p.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}
