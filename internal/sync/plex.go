// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package sync

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/streamwarden/streamwarden/internal/models"
)

// PlexClient talks to a Plex Media Server.
type PlexClient struct {
	serverID   string
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewPlexClient creates a client for one Plex server.
func NewPlexClient(serverID, baseURL, token string) *PlexClient {
	return &PlexClient{
		serverID:   serverID,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *PlexClient) Type() models.ServerType { return models.ServerTypePlex }

// flexString accepts JSON strings and numbers; Plex emits IDs as either
// depending on server version.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(data)
	return nil
}

type plexSessionsResponse struct {
	MediaContainer struct {
		Metadata []plexMetadata `json:"Metadata"`
	} `json:"MediaContainer"`
}

type plexMetadata struct {
	SessionKey       string     `json:"sessionKey"`
	Type             string     `json:"type"`
	Title            string     `json:"title"`
	ParentTitle      string     `json:"parentTitle"`
	GrandparentTitle string     `json:"grandparentTitle"`
	Year             int        `json:"year"`
	Duration         int64      `json:"duration"`
	ViewOffset       int64      `json:"viewOffset"`
	LibrarySectionID flexString `json:"librarySectionID"`

	User struct {
		ID    flexString `json:"id"`
		Title string     `json:"title"`
	} `json:"User"`

	Player struct {
		Address           string `json:"address"`
		Device            string `json:"device"`
		MachineIdentifier string `json:"machineIdentifier"`
		Platform          string `json:"platform"`
		Product           string `json:"product"`
		Title             string `json:"title"`
		State             string `json:"state"`
	} `json:"Player"`

	Session struct {
		ID       string `json:"id"`
		Location string `json:"location"`
	} `json:"Session"`

	Media []struct {
		Width           int    `json:"width"`
		Height          int    `json:"height"`
		Bitrate         int64  `json:"bitrate"`
		VideoCodec      string `json:"videoCodec"`
		AudioCodec      string `json:"audioCodec"`
		VideoResolution string `json:"videoResolution"`
		Part            []struct {
			Decision string `json:"decision"`
		} `json:"Part"`
	} `json:"Media"`

	TranscodeSession *struct {
		VideoDecision string `json:"videoDecision"`
		AudioDecision string `json:"audioDecision"`
		VideoCodec    string `json:"videoCodec"`
		AudioCodec    string `json:"audioCodec"`
		Width         int    `json:"width"`
		Height        int    `json:"height"`
	} `json:"TranscodeSession"`
}

// GetSessions fetches /status/sessions and normalizes it.
func (c *PlexClient) GetSessions(ctx context.Context) ([]Observation, error) {
	var payload plexSessionsResponse
	if err := c.get(ctx, "/status/sessions", &payload); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	out := make([]Observation, 0, len(payload.MediaContainer.Metadata))
	for i := range payload.MediaContainer.Metadata {
		out = append(out, c.mapSession(&payload.MediaContainer.Metadata[i], now))
	}
	return out, nil
}

func (c *PlexClient) mapSession(m *plexMetadata, now time.Time) Observation {
	s := models.Session{
		ServerID:         c.serverID,
		SessionKey:       m.SessionKey,
		State:            plexState(m.Player.State),
		MediaType:        m.Type,
		LibraryID:        string(m.LibrarySectionID),
		Title:            m.Title,
		ParentTitle:      m.ParentTitle,
		GrandparentTitle: m.GrandparentTitle,
		Year:             m.Year,
		TotalDurationMs:  m.Duration,
		ProgressMs:       m.ViewOffset,
		IPAddress:        m.Player.Address,
		DeviceID:         m.Player.MachineIdentifier,
		DeviceName:       m.Player.Device,
		Platform:         m.Player.Platform,
		Product:          m.Player.Product,
		Player:           m.Player.Title,
		StartedAt:        now,
		LastSeenAt:       now,
	}

	if len(m.Media) > 0 {
		media := m.Media[0]
		s.Stream.SourceWidth = media.Width
		s.Stream.SourceHeight = media.Height
		// Plex reports kbps.
		s.Stream.SourceBitrate = media.Bitrate * 1000
		s.Stream.VideoCodec = media.VideoCodec
		s.Stream.AudioCodec = media.AudioCodec
	}

	if ts := m.TranscodeSession; ts != nil {
		s.Stream.VideoDecision = plexDecision(ts.VideoDecision)
		s.Stream.AudioDecision = plexDecision(ts.AudioDecision)
		if ts.VideoCodec != "" {
			s.Stream.VideoCodec = ts.VideoCodec
		}
		if ts.AudioCodec != "" {
			s.Stream.AudioCodec = ts.AudioCodec
		}
		s.Stream.OutputWidth = ts.Width
		s.Stream.OutputHeight = ts.Height
	} else {
		s.Stream.VideoDecision = models.DecisionDirectPlay
		s.Stream.AudioDecision = models.DecisionDirectPlay
	}

	return Observation{
		Session:        s,
		ExternalUserID: string(m.User.ID),
		Username:       m.User.Title,
	}
}

func plexState(state string) models.SessionState {
	switch state {
	case "paused":
		return models.StatePaused
	default:
		// "buffering" counts as playing for watch-time purposes.
		return models.StatePlaying
	}
}

func plexDecision(d string) models.TranscodeDecision {
	switch d {
	case "transcode":
		return models.DecisionTranscode
	case "copy":
		return models.DecisionDirectStream
	default:
		return models.DecisionDirectPlay
	}
}

// KillSession terminates a stream. Plex's terminate endpoint keys on the
// internal session ID, so the session list is consulted to translate the
// session key first.
func (c *PlexClient) KillSession(ctx context.Context, sessionKey, message string) error {
	var payload plexSessionsResponse
	if err := c.get(ctx, "/status/sessions", &payload); err != nil {
		return fmt.Errorf("resolve plex session %s: %w", sessionKey, err)
	}

	var sessionID string
	for i := range payload.MediaContainer.Metadata {
		if payload.MediaContainer.Metadata[i].SessionKey == sessionKey {
			sessionID = payload.MediaContainer.Metadata[i].Session.ID
			break
		}
	}
	if sessionID == "" {
		return fmt.Errorf("plex session %s not found on server", sessionKey)
	}

	path := "/status/sessions/terminate?sessionId=" + url.QueryEscape(sessionID) +
		"&reason=" + url.QueryEscape(message)
	return c.get(ctx, path, nil)
}

// MessageSession is not offered by the Plex API.
func (c *PlexClient) MessageSession(_ context.Context, _, _ string) error {
	return ErrUnsupported
}

// Ping checks server identity.
func (c *PlexClient) Ping(ctx context.Context) error {
	return c.get(ctx, "/identity", nil)
}

func (c *PlexClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build plex request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Plex-Token", c.token)
	req.Header.Set("X-Plex-Client-Identifier", "streamwarden")
	req.Header.Set("X-Plex-Product", "StreamWarden")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("plex request %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("plex %s returned %d: %s", path, resp.StatusCode, strconv.Quote(string(body)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode plex %s response: %w", path, err)
	}
	return nil
}
