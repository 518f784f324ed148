// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package eventprocessor

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/streamwarden/streamwarden/internal/logging"
	"github.com/streamwarden/streamwarden/internal/models"
)

// SessionLifecycle is the Manager surface the handler drives. Observe
// absorbs start and update events; Stop finalizes by stream identity.
type SessionLifecycle interface {
	Observe(ctx context.Context, s *models.Session) error
	Stop(ctx context.Context, serverID, sessionKey string, at time.Time) error
}

// MetricsRecorder counts handler outcomes.
type MetricsRecorder interface {
	EventProcessed(eventType string)
	EventFailed(eventType string)
}

// LifecycleHandler consumes playback events and drives the session
// lifecycle. Handler errors propagate to the router's retry middleware;
// malformed payloads are dropped without retry since replaying them
// cannot succeed.
type LifecycleHandler struct {
	sessions SessionLifecycle
	metrics  MetricsRecorder
}

// NewLifecycleHandler creates the handler. metrics may be nil.
func NewLifecycleHandler(sessions SessionLifecycle, metrics MetricsRecorder) *LifecycleHandler {
	return &LifecycleHandler{sessions: sessions, metrics: metrics}
}

// Register attaches the handler to the router.
func (h *LifecycleHandler) Register(r *Router, sub message.Subscriber) {
	r.AddConsumerHandler("session-lifecycle", TopicPlayback, sub, h.Handle)
}

// Handle processes one message.
func (h *LifecycleHandler) Handle(msg *message.Message) error {
	ctx := msg.Context()

	ev, err := UnmarshalPlaybackEvent(msg.Payload)
	if err != nil {
		logging.Warn().Err(err).Str("message_id", msg.UUID).Msg("dropping undecodable playback event")
		return nil
	}
	if err := ev.Validate(); err != nil {
		logging.Warn().Err(err).Str("message_id", msg.UUID).Msg("dropping invalid playback event")
		return nil
	}

	switch ev.Type {
	case EventStart, EventUpdate:
		err = h.sessions.Observe(ctx, ev.Session)
	case EventStop:
		at := ev.Timestamp
		if at.IsZero() {
			at = time.Now().UTC()
		}
		err = h.sessions.Stop(ctx, ev.ServerID, ev.SessionKey, at)
	}
	if err != nil {
		if h.metrics != nil {
			h.metrics.EventFailed(string(ev.Type))
		}
		return fmt.Errorf("handle %s event %s: %w", ev.Type, ev.EventID, err)
	}
	if h.metrics != nil {
		h.metrics.EventProcessed(string(ev.Type))
	}
	return nil
}

// EventPublisher is the producer side: push listeners and pollers hand it
// normalized observations.
type EventPublisher struct {
	pub message.Publisher
}

// NewEventPublisher wraps a transport publisher.
func NewEventPublisher(pub message.Publisher) *EventPublisher {
	return &EventPublisher{pub: pub}
}

// Publish validates and emits one event onto the playback topic.
func (p *EventPublisher) Publish(ctx context.Context, ev *PlaybackEvent) error {
	msg, err := ev.Message()
	if err != nil {
		return err
	}
	msg.SetContext(ctx)
	if err := p.pub.Publish(TopicPlayback, msg); err != nil {
		return fmt.Errorf("publish %s event %s: %w", ev.Type, ev.EventID, err)
	}
	return nil
}
