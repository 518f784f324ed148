// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package sync

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/streamwarden/streamwarden/internal/models"
)

// JellyfinClient talks to a Jellyfin server. Emby shares the same wire
// format; see EmbyClient.
type JellyfinClient struct {
	serverID   string
	baseURL    string
	apiKey     string
	serverType models.ServerType
	httpClient *http.Client
}

// NewJellyfinClient creates a client for one Jellyfin server.
func NewJellyfinClient(serverID, baseURL, apiKey string) *JellyfinClient {
	return &JellyfinClient{
		serverID:   serverID,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		serverType: models.ServerTypeJellyfin,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *JellyfinClient) Type() models.ServerType { return c.serverType }

// Jellyfin/Emby durations are in ticks (100ns units).
const ticksPerMs = 10_000

type jellyfinSession struct {
	ID             string `json:"Id"`
	UserID         string `json:"UserId"`
	UserName       string `json:"UserName"`
	Client         string `json:"Client"`
	DeviceName     string `json:"DeviceName"`
	DeviceID       string `json:"DeviceId"`
	RemoteEndPoint string `json:"RemoteEndPoint"`
	LastActivity   string `json:"LastActivityDate"`

	NowPlayingItem *struct {
		ID             string `json:"Id"`
		Name           string `json:"Name"`
		SeriesName     string `json:"SeriesName"`
		SeasonName     string `json:"SeasonName"`
		Type           string `json:"Type"`
		ProductionYear int    `json:"ProductionYear"`
		RunTimeTicks   int64  `json:"RunTimeTicks"`
		ParentID       string `json:"ParentId"`
		Width          int    `json:"Width"`
		Height         int    `json:"Height"`
	} `json:"NowPlayingItem"`

	PlayState *struct {
		PositionTicks int64  `json:"PositionTicks"`
		IsPaused      bool   `json:"IsPaused"`
		PlayMethod    string `json:"PlayMethod"`
	} `json:"PlayState"`

	TranscodingInfo *struct {
		VideoCodec    string `json:"VideoCodec"`
		AudioCodec    string `json:"AudioCodec"`
		Bitrate       int64  `json:"Bitrate"`
		Width         int    `json:"Width"`
		Height        int    `json:"Height"`
		IsVideoDirect bool   `json:"IsVideoDirect"`
		IsAudioDirect bool   `json:"IsAudioDirect"`
	} `json:"TranscodingInfo"`
}

// GetSessions fetches /Sessions and normalizes playing sessions. Idle
// device connections (no NowPlayingItem) are skipped.
func (c *JellyfinClient) GetSessions(ctx context.Context) ([]Observation, error) {
	var sessions []jellyfinSession
	if err := c.do(ctx, http.MethodGet, "/Sessions", nil, &sessions); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	out := make([]Observation, 0, len(sessions))
	for i := range sessions {
		if sessions[i].NowPlayingItem == nil {
			continue
		}
		out = append(out, c.mapSession(&sessions[i], now))
	}
	return out, nil
}

func (c *JellyfinClient) mapSession(js *jellyfinSession, now time.Time) Observation {
	item := js.NowPlayingItem
	s := models.Session{
		ServerID:         c.serverID,
		SessionKey:       js.ID,
		State:            models.StatePlaying,
		MediaType:        strings.ToLower(item.Type),
		LibraryID:        item.ParentID,
		Title:            item.Name,
		ParentTitle:      item.SeasonName,
		GrandparentTitle: item.SeriesName,
		Year:             item.ProductionYear,
		TotalDurationMs:  item.RunTimeTicks / ticksPerMs,
		IPAddress:        stripPort(js.RemoteEndPoint),
		DeviceID:         js.DeviceID,
		DeviceName:       js.DeviceName,
		Player:           js.Client,
		Product:          js.Client,
		StartedAt:        now,
		LastSeenAt:       now,
	}
	s.Stream.SourceWidth = item.Width
	s.Stream.SourceHeight = item.Height

	if ps := js.PlayState; ps != nil {
		s.ProgressMs = ps.PositionTicks / ticksPerMs
		if ps.IsPaused {
			s.State = models.StatePaused
		}
	}

	if ti := js.TranscodingInfo; ti != nil {
		s.Stream.VideoCodec = ti.VideoCodec
		s.Stream.AudioCodec = ti.AudioCodec
		s.Stream.StreamBitrate = ti.Bitrate
		s.Stream.OutputWidth = ti.Width
		s.Stream.OutputHeight = ti.Height
		s.Stream.VideoDecision = directness(ti.IsVideoDirect)
		s.Stream.AudioDecision = directness(ti.IsAudioDirect)
	} else {
		s.Stream.VideoDecision = models.DecisionDirectPlay
		s.Stream.AudioDecision = models.DecisionDirectPlay
	}

	return Observation{
		Session:        s,
		ExternalUserID: js.UserID,
		Username:       js.UserName,
	}
}

func directness(direct bool) models.TranscodeDecision {
	if direct {
		return models.DecisionDirectStream
	}
	return models.DecisionTranscode
}

// stripPort drops the port from "host:port" endpoints; bare addresses
// pass through.
func stripPort(endpoint string) string {
	if host, _, err := net.SplitHostPort(endpoint); err == nil {
		return host
	}
	return endpoint
}

// KillSession stops playback on the session. Jellyfin shows no reason to
// the viewer on stop, so the message is delivered separately first.
func (c *JellyfinClient) KillSession(ctx context.Context, sessionKey, message string) error {
	if message != "" {
		// Best effort; the stop must happen regardless.
		_ = c.MessageSession(ctx, sessionKey, message)
	}
	path := fmt.Sprintf("/Sessions/%s/Playing/Stop", url.PathEscape(sessionKey))
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// MessageSession shows an on-screen message on the client.
func (c *JellyfinClient) MessageSession(ctx context.Context, sessionKey, message string) error {
	body := map[string]any{
		"Text":      message,
		"Header":    "StreamWarden",
		"TimeoutMs": 10_000,
	}
	path := fmt.Sprintf("/Sessions/%s/Message", url.PathEscape(sessionKey))
	return c.do(ctx, http.MethodPost, path, body, nil)
}

// Ping checks the public system info endpoint.
func (c *JellyfinClient) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/System/Info/Public", nil, nil)
}

func (c *JellyfinClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s body: %w", path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", c.serverType, err)
	}
	req.Header.Set("X-Emby-Token", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request %s: %w", c.serverType, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s returned %d: %s", c.serverType, path, resp.StatusCode, snippet)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", c.serverType, path, err)
	}
	return nil
}
