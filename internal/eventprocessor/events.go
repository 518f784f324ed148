// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package eventprocessor

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/streamwarden/streamwarden/internal/models"
)

// SchemaVersion is the current PlaybackEvent schema version. Increment on
// breaking changes; consumers treat 0 as 1 for legacy payloads.
const SchemaVersion = 1

// Topics carried by the event bus.
const (
	// TopicPlayback carries normalized playback observations from push
	// listeners and pollers to the lifecycle handler.
	TopicPlayback = "playback.events"

	// TopicPoison receives messages that failed after all retries.
	TopicPoison = "dlq.playback"
)

// EventType distinguishes lifecycle transitions on the bus.
type EventType string

const (
	EventStart  EventType = "session.start"
	EventUpdate EventType = "session.update"
	EventStop   EventType = "session.stop"
)

// Origin records which observation path produced an event. Push and poll
// observations merge into the same lifecycle; origin is diagnostic only.
type Origin string

const (
	OriginPush Origin = "push"
	OriginPoll Origin = "poll"
)

// PlaybackEvent is the canonical event format for all media-server
// sources. Start and update events carry the full normalized session
// observation; stop events carry only the identity of the stream.
type PlaybackEvent struct {
	SchemaVersion int       `json:"schema_version,omitempty"`
	EventID       string    `json:"event_id"`
	Type          EventType `json:"type"`
	Origin        Origin    `json:"origin,omitempty"`
	ServerID      string    `json:"server_id"`
	SessionKey    string    `json:"session_key"`
	Timestamp     time.Time `json:"timestamp"`

	Session *models.Session `json:"session,omitempty"`
}

// NewPlaybackEvent creates an event with a fresh ID and timestamp.
func NewPlaybackEvent(t EventType, origin Origin, serverID, sessionKey string) *PlaybackEvent {
	return &PlaybackEvent{
		SchemaVersion: SchemaVersion,
		EventID:       uuid.New().String(),
		Type:          t,
		Origin:        origin,
		ServerID:      serverID,
		SessionKey:    sessionKey,
		Timestamp:     time.Now().UTC(),
	}
}

// Validate checks the fields every consumer depends on.
func (e *PlaybackEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("playback event missing event_id")
	}
	switch e.Type {
	case EventStart, EventUpdate, EventStop:
	default:
		return fmt.Errorf("playback event has unknown type %q", e.Type)
	}
	if e.ServerID == "" {
		return fmt.Errorf("playback event %s missing server_id", e.EventID)
	}
	if e.SessionKey == "" {
		return fmt.Errorf("playback event %s missing session_key", e.EventID)
	}
	if e.Type != EventStop && e.Session == nil {
		return fmt.Errorf("playback event %s (%s) missing session payload", e.EventID, e.Type)
	}
	return nil
}

// Marshal encodes the event for the wire, validating first.
func (e *PlaybackEvent) Marshal() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal playback event %s: %w", e.EventID, err)
	}
	return data, nil
}

// UnmarshalPlaybackEvent decodes a wire payload.
func UnmarshalPlaybackEvent(data []byte) (*PlaybackEvent, error) {
	var e PlaybackEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("unmarshal playback event: %w", err)
	}
	if e.SchemaVersion == 0 {
		e.SchemaVersion = 1
	}
	return &e, nil
}

// Message converts the event to a watermill message. The message UUID is
// the event ID so broker-side deduplication can key on it.
func (e *PlaybackEvent) Message() (*message.Message, error) {
	data, err := e.Marshal()
	if err != nil {
		return nil, err
	}
	msg := message.NewMessage(e.EventID, data)
	msg.Metadata.Set("event_type", string(e.Type))
	msg.Metadata.Set("server_id", e.ServerID)
	return msg, nil
}
