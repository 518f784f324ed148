// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package models

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestClampTrustScore(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{-10, 0},
		{0, 0},
		{50, 50},
		{100, 100},
		{150, 100},
	}
	for _, tt := range tests {
		if got := ClampTrustScore(tt.in); got != tt.want {
			t.Errorf("ClampTrustScore(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestSessionIsActive(t *testing.T) {
	s := &Session{}
	if !s.IsActive() {
		t.Error("session with nil StoppedAt should be active")
	}
	now := time.Now()
	s.StoppedAt = &now
	if s.IsActive() {
		t.Error("session with StoppedAt should not be active")
	}
}

func TestQualitySignatureChangesWithStream(t *testing.T) {
	a := &Session{Stream: StreamDetails{VideoDecision: DecisionDirectPlay, OutputWidth: 1920, OutputHeight: 1080}}
	b := &Session{Stream: StreamDetails{VideoDecision: DecisionTranscode, OutputWidth: 1280, OutputHeight: 720}}
	if a.QualitySignature() == b.QualitySignature() {
		t.Error("different stream details produced identical signatures")
	}

	c := &Session{Stream: a.Stream}
	if a.QualitySignature() != c.QualitySignature() {
		t.Error("identical stream details produced different signatures")
	}
}

func TestDeviceKeyFallsBackToPlayer(t *testing.T) {
	s := &Session{DeviceID: "machine-1", Player: "Plex for Roku"}
	if got := s.DeviceKey(); got != "machine-1" {
		t.Errorf("DeviceKey() = %q, want machine-1", got)
	}
	s.DeviceID = ""
	if got := s.DeviceKey(); got != "Plex for Roku" {
		t.Errorf("DeviceKey() = %q, want player name", got)
	}
}

func TestRuleAppliesToServer(t *testing.T) {
	agnostic := &Rule{}
	if !agnostic.AppliesToServer("srv-1") {
		t.Error("server-agnostic rule should apply to any server")
	}

	scoped := "srv-1"
	r := &Rule{ServerID: &scoped}
	if !r.AppliesToServer("srv-1") {
		t.Error("scoped rule should apply to its own server")
	}
	if r.AppliesToServer("srv-2") {
		t.Error("scoped rule should not apply to another server")
	}
}

func TestActionEffectiveTarget(t *testing.T) {
	if got := (Action{}).EffectiveTarget(); got != TargetTriggering {
		t.Errorf("empty target resolved to %q, want triggering", got)
	}
	if got := (Action{Target: TargetOldest}).EffectiveTarget(); got != TargetOldest {
		t.Errorf("explicit target resolved to %q, want oldest", got)
	}
}

func TestRuleJSONRoundTrip(t *testing.T) {
	raw := []byte(`{
		"id": "r1",
		"name": "limit streams",
		"is_active": true,
		"conditions": {"groups": [{"conditions": [
			{"field": "concurrent_streams", "operator": "gt", "value": 2},
			{"field": "country", "operator": "not_in", "value": ["US", "CA"]}
		]}]},
		"actions": {"actions": [
			{"type": "kill_stream", "target": "all_except_one", "message": "too many streams"},
			{"type": "adjust_trust", "delta": -10}
		]}
	}`)

	var r Rule
	if err := json.Unmarshal(raw, &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(r.Conditions.Groups) != 1 || len(r.Conditions.Groups[0].Conditions) != 2 {
		t.Fatalf("unexpected condition shape: %+v", r.Conditions)
	}
	if r.Conditions.Groups[0].Conditions[0].Field != FieldConcurrentStreams {
		t.Errorf("field = %q", r.Conditions.Groups[0].Conditions[0].Field)
	}
	if len(r.Actions.Actions) != 2 || r.Actions.Actions[0].Type != ActionKillStream {
		t.Fatalf("unexpected action shape: %+v", r.Actions)
	}
	if r.Actions.Actions[1].Delta != -10 {
		t.Errorf("delta = %d, want -10", r.Actions.Actions[1].Delta)
	}
}

func TestUserInactiveDays(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	created := now.AddDate(0, 0, -30)
	active := now.AddDate(0, 0, -3)

	u := &ServerUser{CreatedAt: created}
	if got := u.InactiveDays(now); got != 30 {
		t.Errorf("InactiveDays (no activity) = %v, want 30", got)
	}

	u.LastActivityAt = &active
	if got := u.InactiveDays(now); got != 3 {
		t.Errorf("InactiveDays = %v, want 3", got)
	}

	if got := u.AccountAgeDays(now); got != 30 {
		t.Errorf("AccountAgeDays = %v, want 30", got)
	}
}
