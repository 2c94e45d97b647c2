// Package sessioncache implements SessionCache: a short-TTL,
// one-shot-consumption cache of pending eID hub sessions, backed by
// Redis (the same client the teacher wires for its own cache layer).
package sessioncache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tracepost-larvae/agecred/apperr"
	"github.com/tracepost-larvae/agecred/models"
)

const keyPrefix = "auth:session:"

// Cache wraps a redis.Client with the Set/Get/Exists/Remove contract
// spec.md §4.5 mandates.
type Cache struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

func cacheKey(sessionID string) string {
	return keyPrefix + sessionID
}

// Set stores (providerId, externalReference) under sessionId with the
// given TTL.
func (c *Cache) Set(ctx context.Context, sessionID string, session models.Session, ttl time.Duration) error {
	data, err := json.Marshal(session)
	if err != nil {
		return apperr.Wrap(apperr.SystemError, "marshaling session", err)
	}
	if err := c.rdb.Set(ctx, cacheKey(sessionID), data, ttl).Err(); err != nil {
		return apperr.Wrap(apperr.SystemError, "storing session", err)
	}
	return nil
}

// Get retrieves the session, or SessionNotFound if it has expired or
// was never created.
func (c *Cache) Get(ctx context.Context, sessionID string) (models.Session, error) {
	data, err := c.rdb.Get(ctx, cacheKey(sessionID)).Bytes()
	if err == redis.Nil {
		return models.Session{}, apperr.New(apperr.SessionNotFound, "session not found or expired")
	}
	if err != nil {
		return models.Session{}, apperr.Wrap(apperr.SystemError, "reading session", err)
	}
	var s models.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return models.Session{}, apperr.Wrap(apperr.SystemError, "unmarshaling session", err)
	}
	return s, nil
}

// Exists reports whether sessionId is still present. Callback flows
// MUST call Exists before consuming.
func (c *Cache) Exists(ctx context.Context, sessionID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, cacheKey(sessionID)).Result()
	if err != nil {
		return false, apperr.Wrap(apperr.SystemError, "checking session existence", err)
	}
	return n > 0, nil
}

// Remove deletes sessionId. A second Remove on an already-removed
// session is a no-op that still reports success — duplicate callbacks
// must be rejected idempotently, never treated as an error on the
// cache layer itself.
func (c *Cache) Remove(ctx context.Context, sessionID string) error {
	if err := c.rdb.Del(ctx, cacheKey(sessionID)).Err(); err != nil {
		return apperr.Wrap(apperr.SystemError, "removing session", err)
	}
	return nil
}
