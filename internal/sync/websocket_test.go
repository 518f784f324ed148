// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package sync

import (
	"strings"
	"testing"

	"github.com/streamwarden/streamwarden/internal/models"
)

func TestParsePlexFrame(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		signals []pushSignal
	}{
		{
			name: "stop",
			data: `{"NotificationContainer":{"type":"playing","PlaySessionStateNotification":[{"sessionKey":"42","state":"stopped"}]}}`,
			signals: []pushSignal{
				{sessionKey: "42", stopped: true},
			},
		},
		{
			name: "playing",
			data: `{"NotificationContainer":{"type":"playing","PlaySessionStateNotification":[{"sessionKey":"42","state":"playing"}]}}`,
			signals: []pushSignal{
				{sessionKey: "42", stopped: false},
			},
		},
		{
			name: "multiple sessions",
			data: `{"NotificationContainer":{"type":"playing","PlaySessionStateNotification":[{"sessionKey":"1","state":"paused"},{"sessionKey":"2","state":"stopped"}]}}`,
			signals: []pushSignal{
				{sessionKey: "1", stopped: false},
				{sessionKey: "2", stopped: true},
			},
		},
		{
			name: "non-playback frame",
			data: `{"NotificationContainer":{"type":"timeline","TimelineEntry":[{"itemID":"5"}]}}`,
		},
		{
			name: "malformed",
			data: `{not json`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parsePlexFrame([]byte(tt.data))
			if len(got) != len(tt.signals) {
				t.Fatalf("signals = %v, want %v", got, tt.signals)
			}
			for i := range got {
				if got[i] != tt.signals[i] {
					t.Errorf("signal[%d] = %+v, want %+v", i, got[i], tt.signals[i])
				}
			}
		})
	}
}

func TestParseJellyfinFrame(t *testing.T) {
	tests := []struct {
		name string
		data string
		want int
	}{
		{"playback start", `{"MessageType":"PlaybackStart","Data":{}}`, 1},
		{"playback progress", `{"MessageType":"PlaybackProgress","Data":{}}`, 1},
		{"playback stopped", `{"MessageType":"PlaybackStopped","Data":{}}`, 1},
		{"sessions snapshot", `{"MessageType":"Sessions","Data":[]}`, 1},
		{"keepalive", `{"MessageType":"ForceKeepAlive","Data":60}`, 0},
		{"malformed", `not json`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseJellyfinFrame([]byte(tt.data))
			if len(got) != tt.want {
				t.Errorf("signals = %d, want %d", len(got), tt.want)
			}
			for _, sig := range got {
				if sig.stopped || sig.sessionKey != "" {
					t.Errorf("signal = %+v, want un-keyed poll request", sig)
				}
			}
		})
	}
}

func TestPushEndpointDerivation(t *testing.T) {
	plex := &models.Server{ID: "s1", Type: models.ServerTypePlex, URL: "https://plex.local:32400", Token: "tok"}
	wsURL, _, _, err := pushEndpoint(plex)
	if err != nil {
		t.Fatalf("pushEndpoint(plex): %v", err)
	}
	if !strings.HasPrefix(wsURL, "wss://plex.local:32400/:/websockets/notifications") {
		t.Errorf("plex ws url = %q", wsURL)
	}
	if !strings.Contains(wsURL, "X-Plex-Token=tok") {
		t.Errorf("plex ws url missing token: %q", wsURL)
	}

	jf := &models.Server{ID: "s2", Type: models.ServerTypeJellyfin, URL: "http://jellyfin.local:8096", Token: "key"}
	wsURL, _, _, err = pushEndpoint(jf)
	if err != nil {
		t.Fatalf("pushEndpoint(jellyfin): %v", err)
	}
	if !strings.HasPrefix(wsURL, "ws://jellyfin.local:8096/socket") {
		t.Errorf("jellyfin ws url = %q", wsURL)
	}
	if !strings.Contains(wsURL, "api_key=key") || !strings.Contains(wsURL, "deviceId=streamwarden") {
		t.Errorf("jellyfin ws url missing credentials: %q", wsURL)
	}

	if _, _, _, err := pushEndpoint(&models.Server{Type: "unknown", URL: "http://x"}); err == nil {
		t.Error("pushEndpoint(unknown type) = nil error")
	}
}
