// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package cache

import (
	"context"
	"sync"
	"time"

	"github.com/streamwarden/streamwarden/internal/models"
)

// MemorySessionCache is the single-process live-session view used when
// no Redis backend is configured. Same contract as SessionCache, minus
// cross-process visibility.
type MemorySessionCache struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	active   map[string]struct{}
	byUser   map[string]map[string]struct{}
	locks    map[string]*sync.Mutex
}

// NewMemorySessionCache creates an empty in-process cache.
func NewMemorySessionCache() *MemorySessionCache {
	return &MemorySessionCache{
		sessions: make(map[string]*models.Session),
		active:   make(map[string]struct{}),
		byUser:   make(map[string]map[string]struct{}),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (c *MemorySessionCache) store(s *models.Session) {
	cp := *s
	c.sessions[s.ID] = &cp
}

// AddActiveSession stores the session and indexes it as active for its
// user.
func (c *MemorySessionCache) AddActiveSession(_ context.Context, s *models.Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store(s)
	c.active[s.ID] = struct{}{}
	if c.byUser[s.ServerUserID] == nil {
		c.byUser[s.ServerUserID] = make(map[string]struct{})
	}
	c.byUser[s.ServerUserID][s.ID] = struct{}{}
	return nil
}

// UpdateActiveSession overwrites the stored session.
func (c *MemorySessionCache) UpdateActiveSession(_ context.Context, s *models.Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store(s)
	return nil
}

// RemoveActiveSession drops the session from the active set and the
// user index.
func (c *MemorySessionCache) RemoveActiveSession(_ context.Context, s *models.Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store(s)
	delete(c.active, s.ID)
	if ids := c.byUser[s.ServerUserID]; ids != nil {
		delete(ids, s.ID)
		if len(ids) == 0 {
			delete(c.byUser, s.ServerUserID)
		}
	}
	return nil
}

// GetSessionByID returns the cached session, or nil when unknown.
func (c *MemorySessionCache) GetSessionByID(_ context.Context, id string) (*models.Session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

// GetAllActiveSessions returns a snapshot of every active session.
func (c *MemorySessionCache) GetAllActiveSessions(_ context.Context) ([]*models.Session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*models.Session, 0, len(c.active))
	for id := range c.active {
		if s, ok := c.sessions[id]; ok {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

// GetUserSessionIDs returns the user's active session IDs.
func (c *MemorySessionCache) GetUserSessionIDs(_ context.Context, serverUserID string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.byUser[serverUserID]))
	for id := range c.byUser[serverUserID] {
		ids = append(ids, id)
	}
	return ids, nil
}

// WithSessionCreateLock runs fn under a per-(server, key) mutex. Lock
// entries are never removed; the key space is bounded by the number of
// distinct streams a deployment ever sees.
func (c *MemorySessionCache) WithSessionCreateLock(ctx context.Context, serverID, sessionKey string, fn func(ctx context.Context) error) error {
	key := serverID + ":" + sessionKey

	c.mu.Lock()
	l, ok := c.locks[key]
	if !ok {
		l = &sync.Mutex{}
		c.locks[key] = l
	}
	c.mu.Unlock()

	l.Lock()
	defer l.Unlock()
	return fn(ctx)
}

type memKVEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryKV is the in-process fallback for the heavy-operations lock's
// KV contract. It guards against concurrency within one instance only.
type MemoryKV struct {
	mu      sync.Mutex
	entries map[string]memKVEntry
}

// NewMemoryKV creates an empty in-process KV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{entries: make(map[string]memKVEntry)}
}

func (k *MemoryKV) expired(e memKVEntry) bool {
	return !e.expiresAt.IsZero() && time.Now().After(e.expiresAt)
}

// SetNX stores the value only if the key is absent or expired.
func (k *MemoryKV) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if e, ok := k.entries[key]; ok && !k.expired(e) {
		return false, nil
	}
	k.entries[key] = newMemKVEntry(value, ttl)
	return true, nil
}

// Get returns the stored value and whether the key exists.
func (k *MemoryKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.entries[key]
	if !ok || k.expired(e) {
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set stores the value unconditionally with a fresh TTL.
func (k *MemoryKV) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.entries[key] = newMemKVEntry(value, ttl)
	return nil
}

// Del removes the key.
func (k *MemoryKV) Del(_ context.Context, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.entries, key)
	return nil
}

func newMemKVEntry(value []byte, ttl time.Duration) memKVEntry {
	e := memKVEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	return e
}
