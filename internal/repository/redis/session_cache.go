package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"prediction-auth/internal/client"
	"prediction-auth/internal/model"
	"prediction-auth/internal/util"
)

const sessionTokenPrefix = "session:token:"

// SessionCache holds token-keyed projections of durable sessions. Entries
// are performance hints only: every hit is re-verified against the durable
// store, and writes are idempotent full overwrites so concurrent
// re-population races are harmless.
type SessionCache struct {
	client *client.RedisClient
}

func NewSessionCache(client *client.RedisClient) *SessionCache {
	return &SessionCache{client: client}
}

// Put caches the projection for a token hash with its own TTL, independent
// of the session's absolute expiry.
func (c *SessionCache) Put(ctx context.Context, tokenHash string, entry *model.SessionCacheEntry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal session cache entry: %w", err)
	}

	if err := c.client.Set(ctx, sessionTokenPrefix+tokenHash, data, ttl); err != nil {
		util.Error("Failed to cache session",
			zap.String("session_id", entry.SessionID.String()),
			zap.Error(err))
		return fmt.Errorf("failed to cache session: %w", err)
	}

	util.Debug("Session cached",
		zap.String("session_id", entry.SessionID.String()),
		zap.Duration("ttl", ttl))
	return nil
}

// Get returns the cached projection, or (nil, nil) on a miss.
func (c *SessionCache) Get(ctx context.Context, tokenHash string) (*model.SessionCacheEntry, error) {
	raw, err := c.client.Get(ctx, sessionTokenPrefix+tokenHash)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return nil, nil
		}
		util.Error("Failed to read session cache", zap.Error(err))
		return nil, fmt.Errorf("failed to read session cache: %w", err)
	}

	var entry model.SessionCacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		util.Error("Corrupt session cache entry", zap.Error(err))
		return nil, fmt.Errorf("corrupt session cache entry: %w", err)
	}
	return &entry, nil
}

// Delete removes the cache entry for a token hash; idempotent.
func (c *SessionCache) Delete(ctx context.Context, tokenHash string) error {
	if err := c.client.Del(ctx, sessionTokenPrefix+tokenHash); err != nil {
		util.Error("Failed to delete session cache entry", zap.Error(err))
		return fmt.Errorf("failed to delete session cache entry: %w", err)
	}
	return nil
}
