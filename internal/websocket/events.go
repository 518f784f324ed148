// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package websocket

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/streamwarden/streamwarden/internal/cache"
	"github.com/streamwarden/streamwarden/internal/models"
)

// Publisher feeds session lifecycle transitions straight into the hub.
// It is the single-process wiring; Redis-backed deployments use
// cache.SessionEvents plus a RedisBridge instead so every process sees
// every transition.
type Publisher struct {
	hub *Hub
}

// NewPublisher wraps the hub as a session event publisher.
func NewPublisher(hub *Hub) *Publisher {
	return &Publisher{hub: hub}
}

// SessionStarted broadcasts a session_started frame.
func (p *Publisher) SessionStarted(_ context.Context, s *models.Session) error {
	p.hub.Broadcast(Message{Type: MessageTypeSessionStarted, Data: s})
	return nil
}

// SessionUpdated broadcasts a session_updated frame.
func (p *Publisher) SessionUpdated(_ context.Context, s *models.Session) error {
	p.hub.Broadcast(Message{Type: MessageTypeSessionUpdated, Data: s})
	return nil
}

// SessionStopped broadcasts a session_stopped frame.
func (p *Publisher) SessionStopped(_ context.Context, s *models.Session) error {
	p.hub.Broadcast(Message{Type: MessageTypeSessionStopped, Data: s})
	return nil
}

// RedisBridge relays session events from Redis pub/sub into the hub, so
// transitions made by any process reach this process's websocket
// clients.
type RedisBridge struct {
	hub    *Hub
	events *cache.SessionEvents
}

// NewRedisBridge creates the relay.
func NewRedisBridge(hub *Hub, events *cache.SessionEvents) *RedisBridge {
	return &RedisBridge{hub: hub, events: events}
}

// Serve consumes the three lifecycle channels until the context is
// canceled. Designed to run under suture supervision.
func (b *RedisBridge) Serve(ctx context.Context) error {
	relay := func(channel, msgType string) func() error {
		return func() error {
			return b.events.SubscribeSessions(ctx, channel, func(s *models.Session) {
				b.hub.Broadcast(Message{Type: msgType, Data: s})
			})
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(relay(cache.ChannelSessionStarted, MessageTypeSessionStarted))
	g.Go(relay(cache.ChannelSessionUpdated, MessageTypeSessionUpdated))
	g.Go(relay(cache.ChannelSessionStopped, MessageTypeSessionStopped))
	return g.Wait()
}
