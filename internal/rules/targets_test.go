// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package rules

import (
	"testing"
	"time"

	"github.com/streamwarden/streamwarden/internal/models"
)

func TestResolveTargetSessions(t *testing.T) {
	oldest := sessionAt("oldest", "u1", testNow.Add(-3*time.Hour))
	middle := sessionAt("middle", "u1", testNow.Add(-2*time.Hour))
	newest := sessionAt("newest", "u1", testNow.Add(-time.Hour))
	otherUser := sessionAt("other", "u2", testNow.Add(-4*time.Hour))

	active := []*models.Session{newest, otherUser, oldest, middle} // deliberately unsorted

	tests := []struct {
		name    string
		target  models.ActionTarget
		trigger *models.Session
		wantIDs []string
	}{
		{"triggering", models.TargetTriggering, middle, []string{"middle"}},
		{"empty target defaults to triggering", "", middle, []string{"middle"}},
		{"oldest", models.TargetOldest, middle, []string{"oldest"}},
		{"newest", models.TargetNewest, middle, []string{"newest"}},
		{"all_user sorted ascending", models.TargetAllUser, middle, []string{"oldest", "middle", "newest"}},
		{"all_except_one keeps the oldest", models.TargetAllExceptOne, newest, []string{"middle", "newest"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveTargetSessions(tt.target, tt.trigger, active)
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("resolved %d sessions %v, want %v", len(got), sessionIDs(got), tt.wantIDs)
			}
			for i, want := range tt.wantIDs {
				if got[i].ID != want {
					t.Errorf("target[%d] = %s, want %s", i, got[i].ID, want)
				}
			}
		})
	}
}

func TestResolveTargetSessionsSingleSession(t *testing.T) {
	only := sessionAt("only", "u1", testNow.Add(-time.Hour))
	active := []*models.Session{only}

	if got := ResolveTargetSessions(models.TargetAllExceptOne, only, active); len(got) != 0 {
		t.Errorf("all_except_one with one session resolved %v, want empty", sessionIDs(got))
	}
	if got := ResolveTargetSessions(models.TargetOldest, only, active); len(got) != 1 || got[0].ID != "only" {
		t.Errorf("oldest with one session resolved %v, want [only]", sessionIDs(got))
	}
}

func TestResolveTargetSessionsExcludesOtherUsers(t *testing.T) {
	mine := sessionAt("mine", "u1", testNow.Add(-time.Hour))
	theirs := sessionAt("theirs", "u2", testNow.Add(-2*time.Hour))

	got := ResolveTargetSessions(models.TargetAllUser, mine, []*models.Session{mine, theirs})
	if len(got) != 1 || got[0].ID != "mine" {
		t.Errorf("all_user resolved %v, must never cross users", sessionIDs(got))
	}
}

func sessionIDs(sessions []*models.Session) []string {
	out := make([]string, len(sessions))
	for i, s := range sessions {
		out[i] = s.ID
	}
	return out
}
