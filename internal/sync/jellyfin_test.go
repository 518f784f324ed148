// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package sync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"

	"github.com/streamwarden/streamwarden/internal/models"
)

const jellyfinSessionsPayload = `[
	{
		"Id": "idle-device",
		"UserId": "u-9",
		"UserName": "carol",
		"DeviceId": "dev-idle"
	},
	{
		"Id": "sess-1",
		"UserId": "u-5",
		"UserName": "bob",
		"Client": "Jellyfin Web",
		"DeviceName": "Firefox",
		"DeviceId": "dev-web",
		"RemoteEndPoint": "198.51.100.7:51234",
		"NowPlayingItem": {
			"Id": "item-1",
			"Name": "The Heist",
			"SeriesName": "Crime Show",
			"SeasonName": "Season 2",
			"Type": "Episode",
			"ProductionYear": 2021,
			"RunTimeTicks": 36000000000,
			"ParentId": "lib-tv",
			"Width": 1920,
			"Height": 1080
		},
		"PlayState": {
			"PositionTicks": 9000000000,
			"IsPaused": true,
			"PlayMethod": "Transcode"
		},
		"TranscodingInfo": {
			"VideoCodec": "h264",
			"AudioCodec": "aac",
			"Bitrate": 4000000,
			"Width": 1280,
			"Height": 720,
			"IsVideoDirect": false,
			"IsAudioDirect": true
		}
	}
]`

func TestJellyfinGetSessionsMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Sessions" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("X-Emby-Token") != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(jellyfinSessionsPayload))
	}))
	defer srv.Close()

	client := NewJellyfinClient("srv-2", srv.URL, "key")
	obs, err := client.GetSessions(context.Background())
	if err != nil {
		t.Fatalf("GetSessions: %v", err)
	}
	if len(obs) != 1 {
		t.Fatalf("observations = %d, want idle device skipped", len(obs))
	}

	ob := obs[0]
	if ob.ExternalUserID != "u-5" || ob.Username != "bob" {
		t.Errorf("user = %s/%s", ob.ExternalUserID, ob.Username)
	}

	s := ob.Session
	if s.SessionKey != "sess-1" || s.ServerID != "srv-2" {
		t.Errorf("identity = %s@%s", s.SessionKey, s.ServerID)
	}
	if s.State != models.StatePaused {
		t.Errorf("state = %s, want paused", s.State)
	}
	if s.MediaType != "episode" {
		t.Errorf("media type = %q, want lowercased", s.MediaType)
	}
	if s.GrandparentTitle != "Crime Show" || s.ParentTitle != "Season 2" {
		t.Errorf("hierarchy = %q/%q", s.GrandparentTitle, s.ParentTitle)
	}
	if s.TotalDurationMs != 3_600_000 || s.ProgressMs != 900_000 {
		t.Errorf("ticks conversion = %d/%d ms", s.TotalDurationMs, s.ProgressMs)
	}
	if s.IPAddress != "198.51.100.7" {
		t.Errorf("ip = %q, want port stripped", s.IPAddress)
	}
	if s.Stream.VideoDecision != models.DecisionTranscode || s.Stream.AudioDecision != models.DecisionDirectStream {
		t.Errorf("decisions = %s/%s", s.Stream.VideoDecision, s.Stream.AudioDecision)
	}
	if s.Stream.SourceWidth != 1920 || s.Stream.OutputWidth != 1280 {
		t.Errorf("widths = %d/%d", s.Stream.SourceWidth, s.Stream.OutputWidth)
	}
	if s.Stream.StreamBitrate != 4_000_000 {
		t.Errorf("stream bitrate = %d", s.Stream.StreamBitrate)
	}
}

func TestJellyfinKillSessionMessagesFirst(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		if r.URL.Path == "/Sessions/sess-1/Message" {
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode message body: %v", err)
			}
			if body["Text"] != "stream limit reached" {
				t.Errorf("message text = %v", body["Text"])
			}
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewJellyfinClient("srv-2", srv.URL, "key")
	if err := client.KillSession(context.Background(), "sess-1", "stream limit reached"); err != nil {
		t.Fatalf("KillSession: %v", err)
	}

	want := []string{
		"POST /Sessions/sess-1/Message",
		"POST /Sessions/sess-1/Playing/Stop",
	}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call[%d] = %q, want %q", i, calls[i], want[i])
		}
	}
}

func TestJellyfinStripPort(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"198.51.100.7:51234", "198.51.100.7"},
		{"[2001:db8::1]:8096", "2001:db8::1"},
		{"198.51.100.7", "198.51.100.7"},
	}
	for _, tt := range tests {
		if got := stripPort(tt.in); got != tt.want {
			t.Errorf("stripPort(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEmbyClientType(t *testing.T) {
	client := NewClient(&models.Server{ID: "srv-3", Type: models.ServerTypeEmby, URL: "http://emby.local", Token: "k"})
	if client.Type() != models.ServerTypeEmby {
		t.Errorf("Type = %s, want emby", client.Type())
	}
}
