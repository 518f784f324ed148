// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package sync

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/streamwarden/streamwarden/internal/logging"
	"github.com/streamwarden/streamwarden/internal/models"
)

// pushSignal is the minimal fact a websocket frame yields. Stop signals
// carry the session key and finalize directly; everything else requests
// an immediate poll, which fetches the full session detail the push
// payloads lack.
type pushSignal struct {
	sessionKey string
	stopped    bool
}

// pushParser extracts signals from one websocket frame. Frames that
// carry nothing playback-related return no signals.
type pushParser func(data []byte) []pushSignal

// PushEvents receives parsed push activity from a listener.
type PushEvents interface {
	// OnPushStop finalizes one stream by key.
	OnPushStop(serverID, sessionKey string)
	// OnPushActivity requests an immediate poll of the server.
	OnPushActivity(serverID string)
}

const (
	pushReconnectBase = time.Second
	pushReconnectMax  = 32 * time.Second
	pushPingInterval  = 30 * time.Second
)

// PushListener maintains a websocket subscription to one media server
// and reconnects with exponential backoff. After the retry budget is
// spent it reports exhaustion (polling remains the data source) and
// keeps probing at the maximum backoff.
type PushListener struct {
	serverID   string
	wsURL      string
	header     map[string][]string
	parser     pushParser
	events     PushEvents
	reconciler *Reconciler

	// retryBudget is the consecutive-failure count that triggers the
	// exhaustion signal.
	retryBudget int

	// connectedOnce flips when a connection delivers a frame, resetting
	// the backoff schedule in Serve.
	connectedOnce bool
}

// NewPushListener builds a listener for a configured server.
func NewPushListener(server *models.Server, events PushEvents, reconciler *Reconciler) (*PushListener, error) {
	wsURL, header, parser, err := pushEndpoint(server)
	if err != nil {
		return nil, err
	}
	return &PushListener{
		serverID:    server.ID,
		wsURL:       wsURL,
		header:      header,
		parser:      parser,
		events:      events,
		reconciler:  reconciler,
		retryBudget: 10,
	}, nil
}

// pushEndpoint derives the vendor websocket URL and frame parser.
func pushEndpoint(server *models.Server) (string, map[string][]string, pushParser, error) {
	u, err := url.Parse(server.URL)
	if err != nil {
		return "", nil, nil, fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	switch server.Type {
	case models.ServerTypePlex:
		u.Path = "/:/websockets/notifications"
		u.RawQuery = "X-Plex-Token=" + url.QueryEscape(server.Token)
		return u.String(), nil, parsePlexFrame, nil
	case models.ServerTypeJellyfin, models.ServerTypeEmby:
		u.Path = strings.TrimSuffix(u.Path, "/") + "/socket"
		u.RawQuery = "api_key=" + url.QueryEscape(server.Token) + "&deviceId=streamwarden"
		return u.String(), nil, parseJellyfinFrame, nil
	default:
		return "", nil, nil, fmt.Errorf("unsupported server type %q", server.Type)
	}
}

// Serve runs the listen/reconnect loop until the context is canceled.
// It satisfies suture.Service.
func (l *PushListener) Serve(ctx context.Context) error {
	delay := pushReconnectBase
	failures := 0

	for {
		err := l.listenOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		failures++
		if failures == l.retryBudget {
			l.reconciler.PushExhausted(l.serverID)
		}
		logging.Warn().Err(err).
			Str("server_id", l.serverID).
			Dur("retry_in", delay).
			Int("consecutive_failures", failures).
			Msg("push listener disconnected")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > pushReconnectMax {
			delay = pushReconnectMax
		}
		if failures > l.retryBudget {
			delay = pushReconnectMax
		}

		// A successful connect resets the budget inside listenOnce via
		// the onConnected callback.
		if l.connectedOnce {
			failures = 0
			delay = pushReconnectBase
			l.connectedOnce = false
		}
	}
}

func (l *PushListener) listenOnce(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout:  10 * time.Second,
		EnableCompression: true,
	}
	conn, resp, err := dialer.DialContext(ctx, l.wsURL, l.header)
	if resp != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket dial (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket dial: %w", err)
	}
	defer func() { _ = conn.Close() }()
	logging.Info().Str("server_id", l.serverID).Msg("push listener connected")

	// Close the connection when the context ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	// Keepalive pings.
	go func() {
		ticker := time.NewTicker(pushPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("websocket read: %w", err)
		}
		l.connectedOnce = true
		l.dispatch(data)
	}
}

func (l *PushListener) dispatch(data []byte) {
	for _, sig := range l.parser(data) {
		if sig.stopped && sig.sessionKey != "" {
			l.events.OnPushStop(l.serverID, sig.sessionKey)
			continue
		}
		l.events.OnPushActivity(l.serverID)
	}
}

// parsePlexFrame handles Plex NotificationContainer frames. Only
// PlaySessionStateNotification is playback-relevant.
func parsePlexFrame(data []byte) []pushSignal {
	var frame struct {
		NotificationContainer struct {
			Type             string `json:"type"`
			PlaySessionState []struct {
				SessionKey string `json:"sessionKey"`
				State      string `json:"state"`
			} `json:"PlaySessionStateNotification"`
		} `json:"NotificationContainer"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil
	}
	if frame.NotificationContainer.Type != "playing" {
		return nil
	}

	signals := make([]pushSignal, 0, len(frame.NotificationContainer.PlaySessionState))
	for _, n := range frame.NotificationContainer.PlaySessionState {
		signals = append(signals, pushSignal{
			sessionKey: n.SessionKey,
			stopped:    n.State == "stopped",
		})
	}
	return signals
}

// parseJellyfinFrame handles Jellyfin/Emby socket frames. Session state
// payloads do not map cleanly to single streams, so every playback
// message type requests a poll; explicit stop messages are not keyed.
func parseJellyfinFrame(data []byte) []pushSignal {
	var frame struct {
		MessageType string `json:"MessageType"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil
	}
	switch frame.MessageType {
	case "PlaybackStart", "PlaybackProgress", "PlaybackStopped", "Sessions":
		return []pushSignal{{}}
	default:
		return nil
	}
}
