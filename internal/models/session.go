// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package models

import (
	"fmt"
	"time"
)

// SessionState is the playback state of a session.
type SessionState string

const (
	StatePlaying SessionState = "playing"
	StatePaused  SessionState = "paused"
	StateStopped SessionState = "stopped"
)

// TranscodeDecision describes how a media-server delivers a stream track.
type TranscodeDecision string

const (
	DecisionDirectPlay   TranscodeDecision = "directplay"
	DecisionDirectStream TranscodeDecision = "copy"
	DecisionTranscode    TranscodeDecision = "transcode"
)

// IsTranscode reports whether the track is being re-encoded server-side.
func (d TranscodeDecision) IsTranscode() bool {
	return d == DecisionTranscode
}

// StreamDetails carries the quality facts for one delivered stream.
// Source fields describe the original media; Output fields describe the
// delivered stream and are only populated when a transcode is in play.
type StreamDetails struct {
	VideoDecision TranscodeDecision `json:"video_decision,omitempty"`
	AudioDecision TranscodeDecision `json:"audio_decision,omitempty"`

	VideoCodec string `json:"video_codec,omitempty"`
	AudioCodec string `json:"audio_codec,omitempty"`

	SourceWidth  int `json:"source_width,omitempty"`
	SourceHeight int `json:"source_height,omitempty"`
	OutputWidth  int `json:"output_width,omitempty"`
	OutputHeight int `json:"output_height,omitempty"`

	// SourceBitrate is the original media bitrate in bits per second.
	SourceBitrate int64 `json:"source_bitrate,omitempty"`
	// StreamBitrate is the delivered bitrate in bits per second.
	StreamBitrate int64 `json:"stream_bitrate,omitempty"`
}

// IsTranscoding reports whether either track is being transcoded.
func (s StreamDetails) IsTranscoding() bool {
	return s.VideoDecision.IsTranscode() || s.AudioDecision.IsTranscode()
}

// GeoLocation carries the geographic facts resolved for a session IP.
type GeoLocation struct {
	City            string  `json:"city,omitempty"`
	Region          string  `json:"region,omitempty"`
	Country         string  `json:"country,omitempty"`
	Continent       string  `json:"continent,omitempty"`
	Postal          string  `json:"postal,omitempty"`
	Latitude        float64 `json:"latitude,omitempty"`
	Longitude       float64 `json:"longitude,omitempty"`
	ASNNumber       int     `json:"asn_number,omitempty"`
	ASNOrganization string  `json:"asn_organization,omitempty"`
}

// Session is one playback instance on one media server.
//
// Exactly one session may be active (StoppedAt == nil) per (ServerID,
// SessionKey) at a time; that invariant is enforced by the lifecycle
// manager's lock-protected create and conditional stop.
type Session struct {
	ID           string       `json:"id"`
	ServerID     string       `json:"server_id"`
	ServerUserID string       `json:"server_user_id"`
	SessionKey   string       `json:"session_key"`
	State        SessionState `json:"state"`

	MediaType        string `json:"media_type"`
	LibraryID        string `json:"library_id,omitempty"`
	Title            string `json:"title"`
	ParentTitle      string `json:"parent_title,omitempty"`
	GrandparentTitle string `json:"grandparent_title,omitempty"`
	Year             int    `json:"year,omitempty"`

	StartedAt time.Time  `json:"started_at"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`

	// DurationMs is the final watch time, set once on stop; nil while active.
	DurationMs *int64 `json:"duration_ms,omitempty"`
	// TotalDurationMs is the media length.
	TotalDurationMs int64 `json:"total_duration_ms,omitempty"`
	// ProgressMs is the player-reported playback position. It can be wrong
	// for transcoded mobile clients; watch-time math never depends on it.
	ProgressMs int64 `json:"progress_ms,omitempty"`

	LastPausedAt     *time.Time `json:"last_paused_at,omitempty"`
	PausedDurationMs int64      `json:"paused_duration_ms"`

	// Watched latches true once 80% of the media has been watched and
	// never resets.
	Watched bool `json:"watched"`

	IPAddress string      `json:"ip_address,omitempty"`
	Geo       GeoLocation `json:"geo,omitempty"`

	DeviceID   string `json:"device_id,omitempty"`
	DeviceName string `json:"device_name,omitempty"`
	Platform   string `json:"platform,omitempty"`
	Product    string `json:"product,omitempty"`
	Player     string `json:"player,omitempty"`

	Stream StreamDetails `json:"stream,omitempty"`

	// LastSeenAt is the staleness heartbeat, refreshed on every push event
	// and poll tick that observes the session.
	LastSeenAt time.Time `json:"last_seen_at"`
}

// IsActive reports whether the session has not been finalized.
func (s *Session) IsActive() bool {
	return s.StoppedAt == nil
}

// QualitySignature summarizes the stream-quality facts that identify one
// logical delivery. A changed signature on the same session key is a
// quality change: the old session is stopped and a new one created as a
// single logical transition.
func (s *Session) QualitySignature() string {
	return fmt.Sprintf("%s|%s|%s|%s|%dx%d|%d",
		s.Stream.VideoDecision, s.Stream.AudioDecision,
		s.Stream.VideoCodec, s.Stream.AudioCodec,
		s.Stream.OutputWidth, s.Stream.OutputHeight,
		s.Stream.StreamBitrate)
}

// DeviceKey returns the device identity used by uniqueness evaluators:
// the device ID when present, otherwise the player name.
func (s *Session) DeviceKey() string {
	if s.DeviceID != "" {
		return s.DeviceID
	}
	return s.Player
}
