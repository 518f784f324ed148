// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package cache

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	goredis "github.com/redis/go-redis/v9"

	"github.com/streamwarden/streamwarden/internal/logging"
	"github.com/streamwarden/streamwarden/internal/models"
)

// Session lifecycle channels.
const (
	ChannelSessionStarted = "session:started"
	ChannelSessionUpdated = "session:updated"
	ChannelSessionStopped = "session:stopped"
)

// TypedPubSub publishes and subscribes JSON-encoded values of one type
// over Redis pub/sub channels.
type TypedPubSub[T any] struct {
	client goredis.UniversalClient
}

// NewTypedPubSub creates a typed pub/sub over the client.
func NewTypedPubSub[T any](client goredis.UniversalClient) *TypedPubSub[T] {
	return &TypedPubSub[T]{client: client}
}

// Publish sends one value on the channel.
func (p *TypedPubSub[T]) Publish(ctx context.Context, channel string, msg T) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal pubsub payload: %w", err)
	}
	if err := p.client.Publish(ctx, channel, raw).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe consumes the channel until the context is canceled, invoking
// handler per decoded message. Malformed payloads are logged and skipped.
func (p *TypedPubSub[T]) Subscribe(ctx context.Context, channel string, handler func(T)) error {
	sub := p.client.Subscribe(ctx, channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var payload T
			if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
				logging.Ctx(ctx).Warn().Err(err).Str("channel", channel).Msg("malformed pubsub payload skipped")
				continue
			}
			handler(payload)
		}
	}
}

// SessionEvents broadcasts session lifecycle transitions over Redis
// pub/sub so other processes (and the operator API's websocket fanout)
// see them as they happen.
type SessionEvents struct {
	pubsub *TypedPubSub[*models.Session]
}

// NewSessionEvents creates the session event publisher.
func NewSessionEvents(client goredis.UniversalClient) *SessionEvents {
	return &SessionEvents{pubsub: NewTypedPubSub[*models.Session](client)}
}

// SessionStarted publishes a session:started event.
func (e *SessionEvents) SessionStarted(ctx context.Context, s *models.Session) error {
	return e.pubsub.Publish(ctx, ChannelSessionStarted, s)
}

// SessionUpdated publishes a session:updated event.
func (e *SessionEvents) SessionUpdated(ctx context.Context, s *models.Session) error {
	return e.pubsub.Publish(ctx, ChannelSessionUpdated, s)
}

// SessionStopped publishes a session:stopped event.
func (e *SessionEvents) SessionStopped(ctx context.Context, s *models.Session) error {
	return e.pubsub.Publish(ctx, ChannelSessionStopped, s)
}

// SubscribeSessions consumes one lifecycle channel.
func (e *SessionEvents) SubscribeSessions(ctx context.Context, channel string, handler func(*models.Session)) error {
	return e.pubsub.Subscribe(ctx, channel, handler)
}
