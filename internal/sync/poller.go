// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package sync

import (
	"context"
	"time"

	"github.com/streamwarden/streamwarden/internal/eventprocessor"
	"github.com/streamwarden/streamwarden/internal/logging"
	"github.com/streamwarden/streamwarden/internal/models"
)

// EventSink receives normalized observations. The manager implements it:
// it resolves external user identity and geo, then publishes onto the
// event bus.
type EventSink interface {
	PublishObservation(ctx context.Context, origin eventprocessor.Origin, ob Observation) error
	PublishStop(ctx context.Context, origin eventprocessor.Origin, serverID, sessionKey string, at time.Time) error
}

// SessionReader exposes the active-session rows the sweep compares
// against.
type SessionReader interface {
	GetActiveSessionsByServer(ctx context.Context, serverID string) ([]*models.Session, error)
}

// Poller periodically snapshots a server's sessions. It is the
// authoritative recovery path: every poll refreshes lastSeenAt for the
// sessions it sees and stops active rows the server no longer reports.
type Poller struct {
	serverID   string
	client     Client
	store      SessionReader
	sink       EventSink
	reconciler *Reconciler

	interval   time.Duration
	staleAfter time.Duration

	kick chan struct{}
}

// NewPoller creates a poller. staleAfter guards the sweep: an active row
// absent from a poll is only stopped once its lastSeenAt is older than
// this, so one missed poll response cannot kill a healthy stream.
func NewPoller(serverID string, client Client, store SessionReader, sink EventSink, reconciler *Reconciler, interval, staleAfter time.Duration) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if staleAfter <= 0 {
		staleAfter = 3 * interval
	}
	return &Poller{
		serverID:   serverID,
		client:     client,
		store:      store,
		sink:       sink,
		reconciler: reconciler,
		interval:   interval,
		staleAfter: staleAfter,
		kick:       make(chan struct{}, 1),
	}
}

// TriggerNow requests an immediate poll outside the regular cadence,
// used by the reconciler after push gaps and server recovery.
func (p *Poller) TriggerNow() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Serve runs the poll loop until the context is canceled. It satisfies
// suture.Service.
func (p *Poller) Serve(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.poll(ctx)
		case <-p.kick:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	observations, err := p.client.GetSessions(ctx)
	if err != nil {
		logging.Warn().Err(err).Str("server_id", p.serverID).Msg("session poll failed")
		p.reconciler.ServerDown(p.serverID)
		return
	}
	p.reconciler.ServerUp(p.serverID)

	seen := make(map[string]struct{}, len(observations))
	for i := range observations {
		seen[observations[i].Session.SessionKey] = struct{}{}
		if err := p.sink.PublishObservation(ctx, eventprocessor.OriginPoll, observations[i]); err != nil {
			logging.Error().Err(err).
				Str("server_id", p.serverID).
				Str("session_key", observations[i].Session.SessionKey).
				Msg("publish polled session")
		}
	}

	p.sweep(ctx, seen)
}

// sweep stops active rows the server stopped reporting. The staleAfter
// guard keeps a single flaky poll from finalizing live sessions.
func (p *Poller) sweep(ctx context.Context, seen map[string]struct{}) {
	active, err := p.store.GetActiveSessionsByServer(ctx, p.serverID)
	if err != nil {
		logging.Error().Err(err).Str("server_id", p.serverID).Msg("load active sessions for sweep")
		return
	}

	now := time.Now().UTC()
	cutoff := now.Add(-p.staleAfter)
	for _, s := range active {
		if _, ok := seen[s.SessionKey]; ok {
			continue
		}
		if s.LastSeenAt.After(cutoff) {
			continue
		}
		logging.Info().
			Str("server_id", p.serverID).
			Str("session_key", s.SessionKey).
			Time("last_seen", s.LastSeenAt).
			Msg("sweeping stale session")
		if err := p.sink.PublishStop(ctx, eventprocessor.OriginPoll, p.serverID, s.SessionKey, now); err != nil {
			logging.Error().Err(err).Str("session_key", s.SessionKey).Msg("publish sweep stop")
		}
	}
}
