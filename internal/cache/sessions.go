// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/streamwarden/streamwarden/internal/logging"
	"github.com/streamwarden/streamwarden/internal/models"
)

const (
	keySessionPrefix  = "streamwarden:sessions:"
	keyActiveSessions = "streamwarden:sessions:active"
	keyUserIndex      = "streamwarden:sessions:user:"
	keyCreateLock     = "streamwarden:sessions:lock:"

	sessionTTL = 48 * time.Hour

	createLockTTL          = 10 * time.Second
	createLockRetryDelay   = 50 * time.Millisecond
	createLockAcquireLimit = 5 * time.Second
)

// releaseScript deletes the lock key only when it still holds our token,
// so an expired-and-retaken lock is never released by the stale owner.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// SessionCache is the Redis-backed live-session view shared across
// processes: a hash per session, a set of active session IDs, and a
// per-user session-id index for fast concurrent-stream answers.
type SessionCache struct {
	client goredis.UniversalClient
}

// NewSessionCache wraps a Redis client as the live-session cache.
func NewSessionCache(client goredis.UniversalClient) *SessionCache {
	return &SessionCache{client: client}
}

func sessionKey(id string) string { return keySessionPrefix + id }

func userIndexKey(serverUserID string) string { return keyUserIndex + serverUserID }

func createLockKey(serverID, sessionKey string) string {
	return keyCreateLock + serverID + ":" + sessionKey
}

// AddActiveSession stores the session and indexes it as active for its
// user.
func (c *SessionCache) AddActiveSession(ctx context.Context, s *models.Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, sessionKey(s.ID), raw, sessionTTL)
	pipe.SAdd(ctx, keyActiveSessions, s.ID)
	pipe.SAdd(ctx, userIndexKey(s.ServerUserID), s.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache session add: %w", err)
	}
	return nil
}

// UpdateActiveSession overwrites the stored session. Overwrites are
// idempotent; out-of-order progress updates are harmless.
func (c *SessionCache) UpdateActiveSession(ctx context.Context, s *models.Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := c.client.Set(ctx, sessionKey(s.ID), raw, sessionTTL).Err(); err != nil {
		return fmt.Errorf("cache session update: %w", err)
	}
	return nil
}

// RemoveActiveSession drops the session from the active set and the
// user index, keeping the session blob briefly for late readers.
func (c *SessionCache) RemoveActiveSession(ctx context.Context, s *models.Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, sessionKey(s.ID), raw, time.Hour)
	pipe.SRem(ctx, keyActiveSessions, s.ID)
	pipe.SRem(ctx, userIndexKey(s.ServerUserID), s.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache session remove: %w", err)
	}
	return nil
}

// GetSessionByID returns the cached session, or nil when unknown.
func (c *SessionCache) GetSessionByID(ctx context.Context, id string) (*models.Session, error) {
	raw, err := c.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache session get: %w", err)
	}

	var s models.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("unmarshal cached session %s: %w", id, err)
	}
	return &s, nil
}

// GetAllActiveSessions returns a snapshot of every active session.
// Members whose blobs have expired are pruned from the index as they
// are encountered.
func (c *SessionCache) GetAllActiveSessions(ctx context.Context) ([]*models.Session, error) {
	ids, err := c.client.SMembers(ctx, keyActiveSessions).Result()
	if err != nil {
		return nil, fmt.Errorf("cache active set: %w", err)
	}

	out := make([]*models.Session, 0, len(ids))
	for _, id := range ids {
		s, err := c.GetSessionByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if s == nil {
			if err := c.client.SRem(ctx, keyActiveSessions, id).Err(); err != nil {
				logging.Ctx(ctx).Warn().Err(err).Str("session_id", id).Msg("stale active-set prune failed")
			}
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// GetUserSessionIDs returns the user's active session IDs.
func (c *SessionCache) GetUserSessionIDs(ctx context.Context, serverUserID string) ([]string, error) {
	ids, err := c.client.SMembers(ctx, userIndexKey(serverUserID)).Result()
	if err != nil {
		return nil, fmt.Errorf("cache user index: %w", err)
	}
	return ids, nil
}

// WithSessionCreateLock runs fn under the distributed create lock for
// (serverID, sessionKey). Acquisition polls SET NX with a short TTL;
// release is token-checked so only the acquiring caller can free it. A
// lock that cannot be acquired within the limit returns an error and fn
// never runs — the next observation of the session retries naturally.
func (c *SessionCache) WithSessionCreateLock(ctx context.Context, serverID, sessionKey string, fn func(ctx context.Context) error) error {
	key := createLockKey(serverID, sessionKey)
	token := uuid.New().String()

	deadline := time.Now().Add(createLockAcquireLimit)
	for {
		ok, err := c.client.SetNX(ctx, key, token, createLockTTL).Result()
		if err != nil {
			return fmt.Errorf("session create lock: %w", err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("session create lock %s: acquisition timed out", key)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(createLockRetryDelay):
		}
	}

	defer func() {
		if err := releaseScript.Run(ctx, c.client, []string{key}, token).Err(); err != nil && !errors.Is(err, goredis.Nil) {
			logging.Ctx(ctx).Warn().Err(err).Str("lock", key).Msg("create lock release failed")
		}
	}()

	return fn(ctx)
}
