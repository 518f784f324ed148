// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/streamwarden/streamwarden/internal/logging"
	"github.com/streamwarden/streamwarden/internal/models"
	"github.com/streamwarden/streamwarden/internal/notifications"
)

// Store is the session persistence contract the manager writes through.
type Store interface {
	InsertSession(ctx context.Context, s *models.Session) error
	UpdateSession(ctx context.Context, s *models.Session) error

	// StopSession finalizes a session conditionally (only while still
	// active) and reports whether this call performed the stop. A false
	// return means a concurrent stop won; the caller must treat the
	// operation as a no-op.
	StopSession(ctx context.Context, sessionID string, stoppedAt time.Time, durationMs int64, watched bool) (bool, error)

	// GetActiveSessionsByKey returns every active row for the server's
	// session key. More than one row indicates an earlier duplicate-create
	// bug; stop handling processes them all to self-heal.
	GetActiveSessionsByKey(ctx context.Context, serverID, sessionKey string) ([]*models.Session, error)
}

// Cache is the live-session view and the create-lock provider.
type Cache interface {
	AddActiveSession(ctx context.Context, s *models.Session) error
	UpdateActiveSession(ctx context.Context, s *models.Session) error
	RemoveActiveSession(ctx context.Context, s *models.Session) error

	// WithSessionCreateLock runs fn under mutual exclusion keyed by
	// (serverID, sessionKey), across processes when backed by Redis.
	WithSessionCreateLock(ctx context.Context, serverID, sessionKey string, fn func(ctx context.Context) error) error
}

// EventPublisher broadcasts session lifecycle events to subscribers
// (operator API websocket, other processes via Redis pub/sub).
type EventPublisher interface {
	SessionStarted(ctx context.Context, s *models.Session) error
	SessionUpdated(ctx context.Context, s *models.Session) error
	SessionStopped(ctx context.Context, s *models.Session) error
}

// PolicyEvaluator is invoked after every create and update so rules see
// fresh session state.
type PolicyEvaluator interface {
	OnSessionEvent(ctx context.Context, s *models.Session)
}

// Manager owns all writes to session state. It is the single writer of
// the live-session cache; push listeners, pollers, and API handlers all
// funnel through it.
type Manager struct {
	store  Store
	cache  Cache
	events EventPublisher
	queue  notifications.Queue
	policy PolicyEvaluator

	now func() time.Time
}

// NewManager wires the lifecycle manager. events, queue, and policy may
// be nil; the corresponding side effects are skipped.
func NewManager(store Store, cache Cache, events EventPublisher, queue notifications.Queue, policy PolicyEvaluator) *Manager {
	return &Manager{
		store:  store,
		cache:  cache,
		events: events,
		queue:  queue,
		policy: policy,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Observe reconciles one observed session snapshot (from a push event or
// a poll tick) against stored state. Unknown sessions are created under
// the per-key create lock with a post-acquisition re-check, so racing
// push and poll observers produce exactly one row. A known session with
// a changed quality signature is stopped and recreated as one logical
// transition.
func (m *Manager) Observe(ctx context.Context, incoming *models.Session) error {
	if incoming.ServerID == "" || incoming.SessionKey == "" {
		return fmt.Errorf("session observation missing server id or session key")
	}

	// Fast path: a known session with an unchanged quality signature is a
	// plain update and needs no lock.
	existing, err := m.store.GetActiveSessionsByKey(ctx, incoming.ServerID, incoming.SessionKey)
	if err != nil {
		return fmt.Errorf("load active sessions: %w", err)
	}
	if len(existing) > 0 && existing[0].QualitySignature() == incoming.QualitySignature() {
		return m.applyUpdate(ctx, existing[0], incoming)
	}

	return m.cache.WithSessionCreateLock(ctx, incoming.ServerID, incoming.SessionKey, func(ctx context.Context) error {
		// Re-check: a concurrent creator may have won while we waited.
		existing, err := m.store.GetActiveSessionsByKey(ctx, incoming.ServerID, incoming.SessionKey)
		if err != nil {
			return fmt.Errorf("load active sessions: %w", err)
		}

		if len(existing) > 0 {
			if existing[0].QualitySignature() == incoming.QualitySignature() {
				return m.applyUpdate(ctx, existing[0], incoming)
			}
			// Quality change: finalize the old delivery and create the new
			// one as a single transition. The stop event is published but
			// the stop notification is suppressed; the viewer never stopped
			// watching.
			at := m.now()
			for _, old := range existing {
				if err := m.finalize(ctx, old, at, false); err != nil {
					logging.Ctx(ctx).Error().Err(err).
						Str("session_id", old.ID).
						Msg("quality-change stop failed")
				}
			}
		}

		return m.create(ctx, incoming)
	})
}

func (m *Manager) create(ctx context.Context, s *models.Session) error {
	now := m.now()
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.State == "" {
		s.State = models.StatePlaying
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = now
	}
	s.LastSeenAt = now

	if err := m.store.InsertSession(ctx, s); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	if err := m.cache.AddActiveSession(ctx, s); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("session_id", s.ID).Msg("live cache add failed")
	}

	logging.Ctx(ctx).Info().
		Str("session_id", s.ID).
		Str("server_id", s.ServerID).
		Str("server_user_id", s.ServerUserID).
		Str("title", s.Title).
		Msg("session started")

	if m.events != nil {
		if err := m.events.SessionStarted(ctx, s); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("session_id", s.ID).Msg("session started publish failed")
		}
	}
	if m.policy != nil {
		m.policy.OnSessionEvent(ctx, s)
	}
	return nil
}

func (m *Manager) applyUpdate(ctx context.Context, cur, incoming *models.Session) error {
	now := m.now()

	st := CalculatePauseAccumulation(cur.State, incoming.State,
		PauseState{LastPausedAt: cur.LastPausedAt, PausedDurationMs: cur.PausedDurationMs}, now)
	cur.LastPausedAt = st.LastPausedAt
	cur.PausedDurationMs = st.PausedDurationMs
	if incoming.State != "" {
		cur.State = incoming.State
	}

	// Progress overwrites are idempotent; out-of-order ticks are harmless.
	if incoming.ProgressMs > 0 {
		cur.ProgressMs = incoming.ProgressMs
	}
	if incoming.TotalDurationMs > 0 {
		cur.TotalDurationMs = incoming.TotalDurationMs
	}
	if incoming.IPAddress != "" {
		cur.IPAddress = incoming.IPAddress
	}
	if incoming.Geo != (models.GeoLocation{}) {
		cur.Geo = incoming.Geo
	}
	cur.Stream.StreamBitrate = pickNonZero(incoming.Stream.StreamBitrate, cur.Stream.StreamBitrate)
	cur.LastSeenAt = now

	// Watched latches and never resets.
	if !cur.Watched && CheckWatchCompletion(WatchTimeMs(cur, now), cur.TotalDurationMs) {
		cur.Watched = true
	}

	if err := m.store.UpdateSession(ctx, cur); err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if err := m.cache.UpdateActiveSession(ctx, cur); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("session_id", cur.ID).Msg("live cache update failed")
	}

	if m.events != nil {
		if err := m.events.SessionUpdated(ctx, cur); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("session_id", cur.ID).Msg("session updated publish failed")
		}
	}
	if m.policy != nil {
		m.policy.OnSessionEvent(ctx, cur)
	}
	return nil
}

func pickNonZero(a, b int64) int64 {
	if a != 0 {
		return a
	}
	return b
}

// Stop finalizes every active row for the session key. Duplicate stop
// deliveries resolve as no-ops through the store's conditional update,
// so the stopped event and notification fire exactly once per row.
func (m *Manager) Stop(ctx context.Context, serverID, sessionKey string, at time.Time) error {
	if at.IsZero() {
		at = m.now()
	}

	active, err := m.store.GetActiveSessionsByKey(ctx, serverID, sessionKey)
	if err != nil {
		return fmt.Errorf("load active sessions: %w", err)
	}
	if len(active) == 0 {
		logging.Ctx(ctx).Debug().
			Str("server_id", serverID).
			Str("session_key", sessionKey).
			Msg("stop for unknown session, ignored")
		return nil
	}

	for _, s := range active {
		if err := m.finalize(ctx, s, at, true); err != nil {
			logging.Ctx(ctx).Error().Err(err).Str("session_id", s.ID).Msg("session stop failed")
		}
	}
	return nil
}

// StopSessionByID finalizes one specific session, used by the staleness
// sweeper and manual termination.
func (m *Manager) StopSessionByID(ctx context.Context, s *models.Session, at time.Time) error {
	if at.IsZero() {
		at = m.now()
	}
	return m.finalize(ctx, s, at, true)
}

func (m *Manager) finalize(ctx context.Context, s *models.Session, at time.Time, notify bool) error {
	duration := WatchTimeMs(s, at)
	watched := s.Watched || CheckWatchCompletion(duration, s.TotalDurationMs)

	stopped, err := m.store.StopSession(ctx, s.ID, at, duration, watched)
	if err != nil {
		return fmt.Errorf("stop session: %w", err)
	}
	if !stopped {
		// A concurrent stop won; everything downstream already happened.
		return nil
	}

	s.State = models.StateStopped
	s.StoppedAt = &at
	s.DurationMs = &duration
	s.Watched = watched

	if err := m.cache.RemoveActiveSession(ctx, s); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("session_id", s.ID).Msg("live cache remove failed")
	}

	logging.Ctx(ctx).Info().
		Str("session_id", s.ID).
		Str("server_id", s.ServerID).
		Int64("duration_ms", duration).
		Bool("watched", watched).
		Msg("session stopped")

	if m.events != nil {
		if err := m.events.SessionStopped(ctx, s); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("session_id", s.ID).Msg("session stopped publish failed")
		}
	}
	if notify && m.queue != nil {
		if err := m.queue.Enqueue(ctx, notifications.NewSessionStoppedWith(s, duration)); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("session_id", s.ID).Msg("stop notification enqueue failed")
		}
	}
	return nil
}
