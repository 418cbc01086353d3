package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"prediction-auth/internal/client"
	"prediction-auth/internal/model"
)

const sessionColumns = `id, identity_id, token_hash, device_info, is_active,
	expires_at, last_used_at, created_at, updated_at`

type sessionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewSessionRepository(pg *client.PostgresClient, logger *zap.Logger) SessionRepository {
	return &sessionRepository{db: pg.DB, logger: logger}
}

func (r *sessionRepository) Create(ctx context.Context, session *model.Session) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	now := time.Now().UTC()
	session.CreatedAt = now
	session.UpdatedAt = now

	deviceInfo, err := json.Marshal(session.DeviceInfo)
	if err != nil {
		return fmt.Errorf("failed to marshal device info: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, identity_id, token_hash, device_info, is_active,
		     expires_at, last_used_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		session.ID, session.IdentityID, session.TokenHash, deviceInfo,
		session.IsActive, session.ExpiresAt, session.LastUsedAt,
		session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create session",
			zap.String("session_id", session.ID.String()),
			zap.Error(err))
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *sessionRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	return scanSession(row)
}

func (r *sessionRepository) FindByTokenHash(ctx context.Context, tokenHash string) (*model.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE token_hash = $1 AND is_active = TRUE`,
		tokenHash)
	return scanSession(row)
}

func (r *sessionRepository) FindActiveByIdentity(ctx context.Context, identityID uuid.UUID) ([]*model.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE identity_id = $1 AND is_active = TRUE
		 ORDER BY created_at DESC`, identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query active sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*model.Session
	for rows.Next() {
		session, err := scanSessionRows(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate active sessions: %w", err)
	}
	return sessions, nil
}

func (r *sessionRepository) Deactivate(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		r.logger.Error("Failed to deactivate session",
			zap.String("session_id", id.String()),
			zap.Error(err))
		return fmt.Errorf("failed to deactivate session: %w", err)
	}
	return nil
}

func (r *sessionRepository) DeactivateAllForIdentity(ctx context.Context, identityID uuid.UUID) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := r.db.QueryContext(ctx,
		`UPDATE sessions SET is_active = FALSE, updated_at = NOW()
		 WHERE identity_id = $1 AND is_active = TRUE
		 RETURNING token_hash`, identityID)
	if err != nil {
		r.logger.Error("Failed to deactivate identity sessions",
			zap.String("identity_id", identityID.String()),
			zap.Error(err))
		return nil, fmt.Errorf("failed to deactivate identity sessions: %w", err)
	}
	defer rows.Close()

	var tokenHashes []string
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, fmt.Errorf("failed to scan token hash: %w", err)
		}
		tokenHashes = append(tokenHashes, hash)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate deactivated sessions: %w", err)
	}
	return tokenHashes, nil
}

func (r *sessionRepository) UpdateLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET last_used_at = $2, updated_at = NOW() WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to update last used: %w", err)
	}
	return nil
}

func (r *sessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	result, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at < $1`, now)
	if err != nil {
		r.logger.Error("Failed to delete expired sessions", zap.Error(err))
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row *sql.Row) (*model.Session, error) {
	session, err := scanSessionFrom(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return session, nil
}

func scanSessionRows(rows *sql.Rows) (*model.Session, error) {
	return scanSessionFrom(rows)
}

func scanSessionFrom(s rowScanner) (*model.Session, error) {
	var (
		session    model.Session
		deviceInfo []byte
		lastUsed   sql.NullTime
	)
	err := s.Scan(&session.ID, &session.IdentityID, &session.TokenHash,
		&deviceInfo, &session.IsActive, &session.ExpiresAt, &lastUsed,
		&session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	if len(deviceInfo) > 0 {
		if err := json.Unmarshal(deviceInfo, &session.DeviceInfo); err != nil {
			return nil, fmt.Errorf("failed to unmarshal device info: %w", err)
		}
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		session.LastUsedAt = &t
	}
	return &session, nil
}
