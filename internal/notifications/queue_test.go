// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

type stubAgent struct {
	name    string
	enabled bool
	sent    []*Notification
}

func (a *stubAgent) Name() string { return a.name }
func (a *stubAgent) Enabled() bool { return a.enabled }
func (a *stubAgent) Send(_ context.Context, n *Notification) error {
	a.sent = append(a.sent, n)
	return nil
}

func queuedMessage(t *testing.T, n *Notification) *message.Message {
	t.Helper()
	payload, err := json.Marshal(n)
	if err != nil {
		t.Fatal(err)
	}
	return message.NewMessage(uuid.New().String(), payload)
}

func TestDispatcherSkipsDisabledAgent(t *testing.T) {
	table := RoutingTable{TypeViolation: {"push", "stub"}}
	d := NewDispatcher(nil, table)

	stub := &stubAgent{name: "stub", enabled: true}
	d.RegisterAgent(NewPushAgent(nil))
	d.RegisterAgent(stub)

	n := &Notification{
		ID:        uuid.New().String(),
		Type:      TypeViolation,
		CreatedAt: time.Now().UTC(),
		Payload:   json.RawMessage(`{}`),
	}
	d.handle(context.Background(), queuedMessage(t, n))

	if len(stub.sent) != 1 {
		t.Fatalf("enabled agent received %d notifications, want 1", len(stub.sent))
	}
}

func TestPushAgentDisabledWithoutSender(t *testing.T) {
	if NewPushAgent(nil).Enabled() {
		t.Error("push agent with nil sender reports enabled")
	}
}

type recordingSender struct {
	titles []string
}

func (s *recordingSender) Push(_ context.Context, title, _ string) error {
	s.titles = append(s.titles, title)
	return nil
}

func TestPushAgentDeliversThroughSender(t *testing.T) {
	sender := &recordingSender{}
	a := NewPushAgent(sender)
	if !a.Enabled() {
		t.Fatal("push agent with sender reports disabled")
	}

	n := &Notification{
		ID:        uuid.New().String(),
		Type:      TypeViolation,
		CreatedAt: time.Now().UTC(),
		Payload:   json.RawMessage(`{}`),
	}
	if err := a.Send(context.Background(), n); err != nil {
		t.Fatal(err)
	}
	if len(sender.titles) != 1 {
		t.Fatalf("push sender called %d times, want 1", len(sender.titles))
	}
}
