// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/thejerf/suture/v4"

	"github.com/streamwarden/streamwarden/internal/eventprocessor"
	"github.com/streamwarden/streamwarden/internal/logging"
	"github.com/streamwarden/streamwarden/internal/models"
	"github.com/streamwarden/streamwarden/internal/notifications"
)

// UserStore resolves and maintains server-user identities.
type UserStore interface {
	GetServerUserByExternalID(ctx context.Context, serverID, externalUserID string) (*models.ServerUser, error)
	UpsertServerUser(ctx context.Context, u *models.ServerUser) error
	TouchUserActivity(ctx context.Context, id string, at time.Time) error
}

// GeoResolver looks up the location for a public IP. Implementations
// decide what to do with private addresses.
type GeoResolver interface {
	Resolve(ctx context.Context, ip string) (models.GeoLocation, error)
}

// Config tunes the sync layer.
type Config struct {
	PollInterval    time.Duration `koanf:"poll_interval"`
	StaleAfter      time.Duration `koanf:"stale_after"`
	DownNotifyDelay time.Duration `koanf:"down_notify_delay"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:    30 * time.Second,
		StaleAfter:      90 * time.Second,
		DownNotifyDelay: DefaultDownNotifyDelay,
	}
}

// Manager owns one client, poller, and push listener per configured
// media server, merges their observations onto the event bus, and
// serves kill/message requests from the action executor.
type Manager struct {
	cfg        Config
	publisher  *eventprocessor.EventPublisher
	users      UserStore
	store      SessionReader
	geo        GeoResolver
	reconciler *Reconciler

	mu      sync.RWMutex
	servers map[string]*serverHandle
}

type serverHandle struct {
	server   *models.Server
	client   *ResilientClient
	poller   *Poller
	listener *PushListener
}

// NewManager creates the sync manager. geo may be nil to skip
// geolocation entirely.
func NewManager(cfg Config, publisher *eventprocessor.EventPublisher, users UserStore, store SessionReader, queue notifications.Queue, geo GeoResolver) *Manager {
	m := &Manager{
		cfg:       cfg,
		publisher: publisher,
		users:     users,
		store:     store,
		geo:       geo,
		servers:   make(map[string]*serverHandle),
	}
	m.reconciler = NewReconciler(queue, m.TriggerPoll, cfg.DownNotifyDelay)
	return m
}

// Reconciler exposes the connectivity tracker (API surface and tests).
func (m *Manager) Reconciler() *Reconciler {
	return m.reconciler
}

// Close cancels pending connectivity timers. Call after the supervised
// pollers and listeners have drained.
func (m *Manager) Close() {
	m.reconciler.Close()
}

// AddServer registers a server and returns the long-running services
// (poller, push listener) for the caller to supervise.
func (m *Manager) AddServer(server *models.Server) ([]suture.Service, error) {
	client := NewResilientClient(NewClient(server), server.ID)
	poller := NewPoller(server.ID, client, m.store, m, m.reconciler, m.cfg.PollInterval, m.cfg.StaleAfter)

	listener, err := NewPushListener(server, m, m.reconciler)
	if err != nil {
		return nil, fmt.Errorf("push listener for %s: %w", server.ID, err)
	}

	m.mu.Lock()
	m.servers[server.ID] = &serverHandle{
		server:   server,
		client:   client,
		poller:   poller,
		listener: listener,
	}
	m.mu.Unlock()
	m.reconciler.Track(server.ID, server.Name)

	return []suture.Service{poller, listener}, nil
}

func (m *Manager) handle(serverID string) (*serverHandle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.servers[serverID]
	if !ok {
		return nil, fmt.Errorf("unknown media server %q", serverID)
	}
	return h, nil
}

// TriggerPoll requests an immediate poll of one server.
func (m *Manager) TriggerPoll(serverID string) {
	h, err := m.handle(serverID)
	if err != nil {
		return
	}
	h.poller.TriggerNow()
}

// PublishObservation resolves identity and geo, then emits the
// observation onto the bus. Implements EventSink.
func (m *Manager) PublishObservation(ctx context.Context, origin eventprocessor.Origin, ob Observation) error {
	user, err := m.ensureUser(ctx, ob)
	if err != nil {
		return fmt.Errorf("resolve user for session %s: %w", ob.Session.SessionKey, err)
	}
	ob.Session.ServerUserID = user.ID

	if m.geo != nil && ob.Session.IPAddress != "" {
		geo, err := m.geo.Resolve(ctx, ob.Session.IPAddress)
		if err != nil {
			logging.Debug().Err(err).Str("ip", ob.Session.IPAddress).Msg("geo lookup failed")
		} else {
			ob.Session.Geo = geo
		}
	}

	ev := eventprocessor.NewPlaybackEvent(eventprocessor.EventUpdate, origin, ob.Session.ServerID, ob.Session.SessionKey)
	ev.Session = &ob.Session
	return m.publisher.Publish(ctx, ev)
}

// PublishStop emits a stop event. Implements EventSink.
func (m *Manager) PublishStop(ctx context.Context, origin eventprocessor.Origin, serverID, sessionKey string, at time.Time) error {
	ev := eventprocessor.NewPlaybackEvent(eventprocessor.EventStop, origin, serverID, sessionKey)
	ev.Timestamp = at
	return m.publisher.Publish(ctx, ev)
}

// OnPushStop implements PushEvents: a keyed stop frame finalizes the
// stream without waiting for the next poll.
func (m *Manager) OnPushStop(serverID, sessionKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.PublishStop(ctx, eventprocessor.OriginPush, serverID, sessionKey, time.Now().UTC()); err != nil {
		logging.Error().Err(err).Str("session_key", sessionKey).Msg("publish push stop")
	}
}

// OnPushActivity implements PushEvents: push frames carry too little
// detail to build a session, so activity triggers an immediate poll.
func (m *Manager) OnPushActivity(serverID string) {
	m.TriggerPoll(serverID)
}

// ensureUser finds or creates the server_users row for an external
// identity and refreshes its activity timestamp.
func (m *Manager) ensureUser(ctx context.Context, ob Observation) (*models.ServerUser, error) {
	if ob.ExternalUserID == "" {
		return nil, fmt.Errorf("observation carries no user identity")
	}

	user, err := m.users.GetServerUserByExternalID(ctx, ob.Session.ServerID, ob.ExternalUserID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if user == nil {
		user = &models.ServerUser{
			ID:             uuid.New().String(),
			ServerID:       ob.Session.ServerID,
			ExternalUserID: ob.ExternalUserID,
			Username:       ob.Username,
			TrustScore:     models.TrustScoreDefault,
			CreatedAt:      now,
		}
		if err := m.users.UpsertServerUser(ctx, user); err != nil {
			return nil, err
		}
		logging.Info().
			Str("server_id", ob.Session.ServerID).
			Str("username", ob.Username).
			Msg("discovered new server user")
		return user, nil
	}

	if err := m.users.TouchUserActivity(ctx, user.ID, now); err != nil {
		logging.Warn().Err(err).Str("user_id", user.ID).Msg("touch user activity")
	}
	return user, nil
}

// KillSession terminates a stream on the owning server. Implements the
// action executor's server control surface.
func (m *Manager) KillSession(ctx context.Context, serverID, sessionKey, message string) error {
	h, err := m.handle(serverID)
	if err != nil {
		return err
	}
	if err := h.client.KillSession(ctx, sessionKey, message); err != nil {
		return fmt.Errorf("kill session %s on %s: %w", sessionKey, serverID, err)
	}
	// The server will drop the stream; poll soon to finalize promptly.
	h.poller.TriggerNow()
	return nil
}

// MessageSession shows a message on the streaming client.
func (m *Manager) MessageSession(ctx context.Context, serverID, sessionKey, message string) error {
	h, err := m.handle(serverID)
	if err != nil {
		return err
	}
	if err := h.client.MessageSession(ctx, sessionKey, message); err != nil {
		return fmt.Errorf("message session %s on %s: %w", sessionKey, serverID, err)
	}
	return nil
}
