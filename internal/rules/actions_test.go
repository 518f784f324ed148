// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package rules

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/streamwarden/streamwarden/internal/models"
	"github.com/streamwarden/streamwarden/internal/notifications"
)

type fakeViolationStore struct {
	inserted []*models.Violation
	err      error
}

func (f *fakeViolationStore) InsertViolation(_ context.Context, v *models.Violation) error {
	if f.err != nil {
		return f.err
	}
	f.inserted = append(f.inserted, v)
	return nil
}

type fakeTrustStore struct {
	score   int
	adjusts []int
	sets    []int
	resets  int
}

func (f *fakeTrustStore) AdjustTrustScore(_ context.Context, _ string, delta int) (int, error) {
	before := f.score
	f.score = models.ClampTrustScore(f.score + delta)
	applied := f.score - before
	f.adjusts = append(f.adjusts, applied)
	return applied, nil
}

func (f *fakeTrustStore) SetTrustScore(_ context.Context, _ string, value int) error {
	f.score = value
	f.sets = append(f.sets, value)
	return nil
}

func (f *fakeTrustStore) ResetTrustScore(_ context.Context, _ string) error {
	f.score = models.TrustScoreDefault
	f.resets++
	return nil
}

type fakeTerminationStore struct {
	logs []*models.TerminationLog
}

func (f *fakeTerminationStore) InsertTerminationLog(_ context.Context, t *models.TerminationLog) error {
	f.logs = append(f.logs, t)
	return nil
}

type fakeServerControl struct {
	killed   []string
	messaged []string
	killErr  error
	msgErr   error
}

func (f *fakeServerControl) KillSession(_ context.Context, _, sessionKey, _ string) error {
	if f.killErr != nil {
		return f.killErr
	}
	f.killed = append(f.killed, sessionKey)
	return nil
}

func (f *fakeServerControl) MessageSession(_ context.Context, _, sessionKey, _ string) error {
	if f.msgErr != nil {
		return f.msgErr
	}
	f.messaged = append(f.messaged, sessionKey)
	return nil
}

type fakeQueue struct {
	enqueued []*notifications.Notification
}

func (f *fakeQueue) Enqueue(_ context.Context, n *notifications.Notification) error {
	f.enqueued = append(f.enqueued, n)
	return nil
}

func executorFixture() (*Executor, *fakeViolationStore, *fakeTrustStore, *fakeTerminationStore, *fakeServerControl, *fakeQueue) {
	violations := &fakeViolationStore{}
	trust := &fakeTrustStore{score: 100}
	terminations := &fakeTerminationStore{}
	control := &fakeServerControl{}
	queue := &fakeQueue{}
	return NewExecutor(violations, trust, terminations, control, queue), violations, trust, terminations, control, queue
}

func actionRule(actions ...models.Action) *models.Rule {
	return &models.Rule{
		ID:        "rule-1",
		Name:      "Concurrent stream limit",
		IsActive:  true,
		Actions:   models.RuleActions{Actions: actions},
		CreatedAt: testNow,
	}
}

func TestExecuteActionIdempotency(t *testing.T) {
	x, violations, _, _, control, _ := executorFixture()

	s := sessionAt("s1", "u1", testNow.Add(-time.Hour))
	evalCtx := testCtx(s)

	// The same action listed twice must apply once per target session.
	rule := actionRule(
		models.Action{Type: models.ActionKillStream, Message: "too many streams"},
		models.Action{Type: models.ActionKillStream, Message: "too many streams"},
		models.Action{Type: models.ActionCreateViolation},
		models.Action{Type: models.ActionCreateViolation},
	)

	x.Execute(context.Background(), rule, evalCtx)

	if len(control.killed) != 1 {
		t.Errorf("KillSession called %d times, want 1", len(control.killed))
	}
	if len(violations.inserted) != 1 {
		t.Errorf("InsertViolation called %d times, want 1", len(violations.inserted))
	}
}

func TestExecuteTrustOncePerUser(t *testing.T) {
	x, _, trust, _, _, _ := executorFixture()

	s := sessionAt("s1", "u1", testNow.Add(-2*time.Hour))
	other := sessionAt("s2", "u1", testNow.Add(-time.Hour))
	evalCtx := testCtx(s)
	evalCtx.ActiveSessions = []*models.Session{s, other}

	// Trust is user-scoped: an all_user target must not multiply the penalty.
	rule := actionRule(
		models.Action{Type: models.ActionAdjustTrust, Target: models.TargetAllUser, Delta: -10},
	)

	x.Execute(context.Background(), rule, evalCtx)

	if len(trust.adjusts) != 1 {
		t.Fatalf("trust adjusted %d times, want 1", len(trust.adjusts))
	}
	if trust.score != 90 {
		t.Errorf("trust score = %d, want 90", trust.score)
	}
}

func TestExecuteTrustClamping(t *testing.T) {
	x, violations, trust, _, _, _ := executorFixture()
	trust.score = 5

	s := sessionAt("s1", "u1", testNow.Add(-time.Hour))
	evalCtx := testCtx(s)

	// Delta -30 from score 5 clamps to 0; only -5 actually applies, and the
	// violation must record the applied delta so deletion can restore it.
	rule := actionRule(
		models.Action{Type: models.ActionAdjustTrust, Delta: -30},
		models.Action{Type: models.ActionCreateViolation, Severity: models.SeverityCritical},
	)

	x.Execute(context.Background(), rule, evalCtx)

	if trust.score != 0 {
		t.Errorf("trust score = %d, want clamped to 0", trust.score)
	}
	if len(violations.inserted) != 1 {
		t.Fatalf("expected one violation, got %d", len(violations.inserted))
	}

	var data models.ViolationData
	if err := json.Unmarshal(violations.inserted[0].Data, &data); err != nil {
		t.Fatal(err)
	}
	if data.TrustDelta != -5 {
		t.Errorf("recorded trust delta = %d, want the applied -5, not the requested -30", data.TrustDelta)
	}
	if violations.inserted[0].Severity != models.SeverityCritical {
		t.Errorf("severity = %s, want critical", violations.inserted[0].Severity)
	}
}

func TestExecuteViolationRecordsDeltaRegardlessOfOrder(t *testing.T) {
	x, violations, trust, _, _, _ := executorFixture()

	s := sessionAt("s1", "u1", testNow.Add(-time.Hour))
	evalCtx := testCtx(s)

	// create_violation listed first must still record the penalty the
	// rule's adjust_trust applies.
	rule := actionRule(
		models.Action{Type: models.ActionCreateViolation},
		models.Action{Type: models.ActionAdjustTrust, Delta: -10},
	)

	x.Execute(context.Background(), rule, evalCtx)

	if trust.score != 90 {
		t.Fatalf("trust score = %d, want 90", trust.score)
	}
	if len(violations.inserted) != 1 {
		t.Fatalf("expected one violation, got %d", len(violations.inserted))
	}
	var data models.ViolationData
	if err := json.Unmarshal(violations.inserted[0].Data, &data); err != nil {
		t.Fatal(err)
	}
	if data.TrustDelta != -10 {
		t.Errorf("recorded trust delta = %d, want -10", data.TrustDelta)
	}
}

func TestExecuteViolationDefaultsAndNotification(t *testing.T) {
	x, violations, _, _, _, queue := executorFixture()

	s := sessionAt("s1", "u1", testNow.Add(-time.Hour))
	evalCtx := testCtx(s)

	rule := actionRule(models.Action{Type: models.ActionCreateViolation})
	x.Execute(context.Background(), rule, evalCtx)

	if len(violations.inserted) != 1 {
		t.Fatalf("expected one violation, got %d", len(violations.inserted))
	}
	v := violations.inserted[0]
	if v.Severity != models.SeverityWarning {
		t.Errorf("default severity = %s, want warning", v.Severity)
	}
	if v.RuleID != rule.ID || v.SessionID != s.ID || v.ServerUserID != s.ServerUserID {
		t.Errorf("violation keys = (%s, %s, %s), want (%s, %s, %s)",
			v.RuleID, v.SessionID, v.ServerUserID, rule.ID, s.ID, s.ServerUserID)
	}
	if v.ID == "" {
		t.Error("violation ID must be assigned")
	}

	if len(queue.enqueued) != 1 {
		t.Fatalf("expected one notification, got %d", len(queue.enqueued))
	}
	if queue.enqueued[0].Type != notifications.TypeViolation {
		t.Errorf("notification type = %s, want violation", queue.enqueued[0].Type)
	}
}

func TestExecuteKillStreamFailureIsRecorded(t *testing.T) {
	x, violations, _, terminations, control, _ := executorFixture()
	control.killErr = errors.New("server unreachable")

	s := sessionAt("s1", "u1", testNow.Add(-time.Hour))
	evalCtx := testCtx(s)

	// The failed kill must be logged with its reason and must not block the
	// violation that follows.
	rule := actionRule(
		models.Action{Type: models.ActionKillStream, Message: "bye"},
		models.Action{Type: models.ActionCreateViolation},
	)

	x.Execute(context.Background(), rule, evalCtx)

	if len(terminations.logs) != 1 {
		t.Fatalf("expected one termination log, got %d", len(terminations.logs))
	}
	entry := terminations.logs[0]
	if entry.Success {
		t.Error("termination log should record failure")
	}
	if entry.FailureReason != "server unreachable" {
		t.Errorf("failure reason = %q, want the kill error", entry.FailureReason)
	}
	if entry.Trigger != models.TriggerRule || entry.RuleID == nil || *entry.RuleID != rule.ID {
		t.Error("termination log must attribute the rule trigger")
	}

	if len(violations.inserted) != 1 {
		t.Error("kill failure must not block subsequent actions")
	}
}

func TestExecuteKillStreamTargetsResolved(t *testing.T) {
	x, _, _, terminations, control, _ := executorFixture()

	oldest := sessionAt("oldest", "u1", testNow.Add(-3*time.Hour))
	middle := sessionAt("middle", "u1", testNow.Add(-2*time.Hour))
	newest := sessionAt("newest", "u1", testNow.Add(-time.Hour))

	evalCtx := testCtx(newest)
	evalCtx.ActiveSessions = []*models.Session{oldest, middle, newest}

	rule := actionRule(models.Action{Type: models.ActionKillStream, Target: models.TargetAllExceptOne})
	x.Execute(context.Background(), rule, evalCtx)

	if len(control.killed) != 2 {
		t.Fatalf("killed %d sessions, want 2 (everything but the oldest)", len(control.killed))
	}
	if control.killed[0] != "key-middle" || control.killed[1] != "key-newest" {
		t.Errorf("killed %v, want [key-middle, key-newest]", control.killed)
	}
	if len(terminations.logs) != 2 {
		t.Errorf("expected 2 termination logs, got %d", len(terminations.logs))
	}
}

func TestExecuteNotifyCarriesBypassChannels(t *testing.T) {
	x, _, _, _, _, queue := executorFixture()

	s := sessionAt("s1", "u1", testNow.Add(-time.Hour))
	evalCtx := testCtx(s)

	rule := actionRule(models.Action{
		Type:          models.ActionNotify,
		Channels:      []string{"discord", "webhook"},
		CustomTitle:   "Stream limit hit",
		CustomMessage: "Too many concurrent streams",
	})
	x.Execute(context.Background(), rule, evalCtx)

	if len(queue.enqueued) != 1 {
		t.Fatalf("expected one notification, got %d", len(queue.enqueued))
	}
	n := queue.enqueued[0]
	if n.Type != notifications.TypeRuleTriggered {
		t.Fatalf("notification type = %s, want rule_triggered", n.Type)
	}

	var payload notifications.RulePayload
	if err := json.Unmarshal(n.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if !payload.RuleNotification {
		t.Error("rule notification must carry the routing bypass marker")
	}
	if len(payload.Channels) != 2 || payload.Channels[0] != "discord" || payload.Channels[1] != "webhook" {
		t.Errorf("channels = %v, want [discord, webhook]", payload.Channels)
	}
	if payload.CustomTitle != "Stream limit hit" {
		t.Errorf("custom title = %q", payload.CustomTitle)
	}
}

func TestExecuteSetAndResetTrust(t *testing.T) {
	x, _, trust, _, _, _ := executorFixture()

	s := sessionAt("s1", "u1", testNow.Add(-time.Hour))
	evalCtx := testCtx(s)

	x.Execute(context.Background(), actionRule(models.Action{Type: models.ActionSetTrust, Value: 150}), evalCtx)
	if len(trust.sets) != 1 || trust.sets[0] != 100 {
		t.Errorf("set_trust applied %v, want clamped [100]", trust.sets)
	}

	x.Execute(context.Background(), actionRule(models.Action{Type: models.ActionResetTrust}), evalCtx)
	if trust.resets != 1 {
		t.Errorf("reset_trust applied %d times, want 1", trust.resets)
	}
	if trust.score != models.TrustScoreDefault {
		t.Errorf("score after reset = %d, want %d", trust.score, models.TrustScoreDefault)
	}
}

func TestExecuteNilCollaboratorsSkipQuietly(t *testing.T) {
	x := NewExecutor(nil, nil, nil, nil, nil)

	s := sessionAt("s1", "u1", testNow.Add(-time.Hour))
	evalCtx := testCtx(s)

	rule := actionRule(
		models.Action{Type: models.ActionCreateViolation},
		models.Action{Type: models.ActionAdjustTrust, Delta: -10},
		models.Action{Type: models.ActionKillStream},
		models.Action{Type: models.ActionMessageClient, Message: "hi"},
		models.Action{Type: models.ActionNotify, Channels: []string{"discord"}},
		models.Action{Type: models.ActionLogOnly},
	)

	// Must not panic.
	x.Execute(context.Background(), rule, evalCtx)
}
