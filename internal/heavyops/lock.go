// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package heavyops

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/streamwarden/streamwarden/internal/logging"
)

// LockKey is the single global cache key heavy operations contend on.
// The scope is deliberately global, not per-resource: import and
// maintenance jobs both perform exclusive database rewrites that must
// never overlap.
const LockKey = "streamwarden:heavyops:lock"

// DefaultTTL bounds how long a crashed holder can block the system.
const DefaultTTL = 4 * time.Hour

// Holder describes who owns the lock, stored as JSON under LockKey.
type Holder struct {
	JobType     string    `json:"job_type"`
	JobID       string    `json:"job_id"`
	Description string    `json:"description,omitempty"`
	AcquiredAt  time.Time `json:"acquired_at"`
}

// KV is the atomic conditional-set primitive backing the lock. The Redis
// cache implements it; tests use an in-memory map.
type KV interface {
	// SetNX stores the value only if the key is absent and reports
	// whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Get returns the stored value and whether the key exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores the value unconditionally with a fresh TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	Del(ctx context.Context, key string) error
}

// Lock is the global heavy-operations mutex. One lock instance per
// process; all methods are safe for concurrent use given an atomic KV.
type Lock struct {
	kv  KV
	ttl time.Duration
	now func() time.Time
}

// NewLock creates the lock over a KV backend. A non-positive ttl uses
// DefaultTTL.
func NewLock(kv KV, ttl time.Duration) *Lock {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Lock{
		kv:  kv,
		ttl: ttl,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Acquire attempts to take the lock for a job. On success the returned
// holder is nil. On conflict the current holder is returned so callers
// can surface "blocked by X" — unless the holder carries the same job ID,
// which means the same logical job is resuming after a restart: the lock
// is reacquired with a fresh TTL and treated as success.
func (l *Lock) Acquire(ctx context.Context, jobType, jobID, description string) (*Holder, error) {
	holder := Holder{
		JobType:     jobType,
		JobID:       jobID,
		Description: description,
		AcquiredAt:  l.now(),
	}
	raw, err := json.Marshal(holder)
	if err != nil {
		return nil, fmt.Errorf("marshal lock holder: %w", err)
	}

	ok, err := l.kv.SetNX(ctx, LockKey, raw, l.ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire heavy-ops lock: %w", err)
	}
	if ok {
		logging.Ctx(ctx).Info().
			Str("job_type", jobType).
			Str("job_id", jobID).
			Msg("heavy-ops lock acquired")
		return nil, nil
	}

	current, err := l.Status(ctx)
	if err != nil {
		return nil, err
	}
	if current == nil {
		// The holder vanished (expiry or corrupt state cleanup) between
		// the failed SetNX and the read; take it now.
		if err := l.kv.Set(ctx, LockKey, raw, l.ttl); err != nil {
			return nil, fmt.Errorf("acquire heavy-ops lock: %w", err)
		}
		return nil, nil
	}

	if current.JobID == jobID {
		// Same logical job resuming. Overwrite with a fresh TTL.
		if err := l.kv.Set(ctx, LockKey, raw, l.ttl); err != nil {
			return nil, fmt.Errorf("reacquire heavy-ops lock: %w", err)
		}
		logging.Ctx(ctx).Info().
			Str("job_type", jobType).
			Str("job_id", jobID).
			Msg("heavy-ops lock reacquired")
		return nil, nil
	}

	return current, nil
}

// Release frees the lock if the stored holder matches the job ID. It
// reports whether the lock was released; a mismatch leaves someone
// else's lock untouched.
func (l *Lock) Release(ctx context.Context, jobID string) (bool, error) {
	raw, found, err := l.kv.Get(ctx, LockKey)
	if err != nil {
		return false, fmt.Errorf("read heavy-ops lock: %w", err)
	}
	if !found {
		return true, nil
	}

	var holder Holder
	if err := json.Unmarshal(raw, &holder); err != nil {
		// Corrupt holder state is an implicit release; clean it up.
		logging.Ctx(ctx).Warn().Err(err).Msg("corrupt heavy-ops lock state, clearing")
		if err := l.kv.Del(ctx, LockKey); err != nil {
			return false, fmt.Errorf("clear heavy-ops lock: %w", err)
		}
		return true, nil
	}
	if holder.JobID != jobID {
		return false, nil
	}

	if err := l.kv.Del(ctx, LockKey); err != nil {
		return false, fmt.Errorf("release heavy-ops lock: %w", err)
	}
	logging.Ctx(ctx).Info().Str("job_id", jobID).Msg("heavy-ops lock released")
	return true, nil
}

// Extend refreshes the TTL mid-job, conditioned on ownership. It reports
// whether the extension applied.
func (l *Lock) Extend(ctx context.Context, jobID string) (bool, error) {
	raw, found, err := l.kv.Get(ctx, LockKey)
	if err != nil {
		return false, fmt.Errorf("read heavy-ops lock: %w", err)
	}
	if !found {
		return false, nil
	}

	var holder Holder
	if err := json.Unmarshal(raw, &holder); err != nil {
		return false, nil
	}
	if holder.JobID != jobID {
		return false, nil
	}

	if err := l.kv.Set(ctx, LockKey, raw, l.ttl); err != nil {
		return false, fmt.Errorf("extend heavy-ops lock: %w", err)
	}
	return true, nil
}

// Status returns the current holder, or nil when the lock is free.
// Corrupt stored JSON counts as free (implicit release) and is cleared.
func (l *Lock) Status(ctx context.Context) (*Holder, error) {
	raw, found, err := l.kv.Get(ctx, LockKey)
	if err != nil {
		return nil, fmt.Errorf("read heavy-ops lock: %w", err)
	}
	if !found {
		return nil, nil
	}

	var holder Holder
	if err := json.Unmarshal(raw, &holder); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("corrupt heavy-ops lock state, clearing")
		if err := l.kv.Del(ctx, LockKey); err != nil {
			return nil, fmt.Errorf("clear heavy-ops lock: %w", err)
		}
		return nil, nil
	}
	return &holder, nil
}
