// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package sync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/streamwarden/streamwarden/internal/eventprocessor"
	"github.com/streamwarden/streamwarden/internal/models"
)

type fakeClient struct {
	mu       sync.Mutex
	sessions []Observation
	err      error
	killed   []string
	messaged []string
}

func (c *fakeClient) Type() models.ServerType { return models.ServerTypePlex }

func (c *fakeClient) GetSessions(context.Context) ([]Observation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return append([]Observation(nil), c.sessions...), nil
}

func (c *fakeClient) KillSession(_ context.Context, sessionKey, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.killed = append(c.killed, sessionKey)
	return nil
}

func (c *fakeClient) MessageSession(_ context.Context, sessionKey, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messaged = append(c.messaged, sessionKey)
	return nil
}

func (c *fakeClient) Ping(context.Context) error { return nil }

type fakeStore struct {
	active []*models.Session
}

func (s *fakeStore) GetActiveSessionsByServer(context.Context, string) ([]*models.Session, error) {
	return s.active, nil
}

type recordingSink struct {
	mu       sync.Mutex
	observed []Observation
	stopped  []string
}

func (r *recordingSink) PublishObservation(_ context.Context, _ eventprocessor.Origin, ob Observation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observed = append(r.observed, ob)
	return nil
}

func (r *recordingSink) PublishStop(_ context.Context, _ eventprocessor.Origin, _, sessionKey string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = append(r.stopped, sessionKey)
	return nil
}

func pollObservation(sessionKey string) Observation {
	now := time.Now().UTC()
	return Observation{
		Session: models.Session{
			ServerID:   "srv-1",
			SessionKey: sessionKey,
			State:      models.StatePlaying,
			StartedAt:  now,
			LastSeenAt: now,
		},
		ExternalUserID: "ext-1",
		Username:       "alice",
	}
}

func activeRow(sessionKey string, lastSeen time.Time) *models.Session {
	return &models.Session{
		ID:         "id-" + sessionKey,
		ServerID:   "srv-1",
		SessionKey: sessionKey,
		State:      models.StatePlaying,
		StartedAt:  lastSeen.Add(-time.Hour),
		LastSeenAt: lastSeen,
	}
}

func TestPollPublishesAndSweeps(t *testing.T) {
	now := time.Now().UTC()
	client := &fakeClient{sessions: []Observation{pollObservation("key-live")}}
	// key-live is still reported, key-stale vanished long ago, key-recent
	// vanished within the stale window and must survive.
	store := &fakeStore{active: []*models.Session{
		activeRow("key-live", now),
		activeRow("key-stale", now.Add(-10*time.Minute)),
		activeRow("key-recent", now.Add(-5*time.Second)),
	}}
	sink := &recordingSink{}
	rec := NewReconciler(&recordingQueue{}, nil, time.Minute)

	p := NewPoller("srv-1", client, store, sink, rec, 30*time.Second, time.Minute)
	p.poll(context.Background())

	if len(sink.observed) != 1 || sink.observed[0].Session.SessionKey != "key-live" {
		t.Fatalf("observed = %+v, want [key-live]", sink.observed)
	}
	if len(sink.stopped) != 1 || sink.stopped[0] != "key-stale" {
		t.Fatalf("swept = %v, want [key-stale]: fresh sessions must survive one missed poll", sink.stopped)
	}
}

func TestPollFailureMarksServerDown(t *testing.T) {
	client := &fakeClient{err: errors.New("connection refused")}
	sink := &recordingSink{}
	q := &recordingQueue{}
	rec := NewReconciler(q, nil, 20*time.Millisecond)

	p := NewPoller("srv-1", client, &fakeStore{}, sink, rec, 30*time.Second, time.Minute)
	p.poll(context.Background())

	waitFor(t, func() bool { return rec.IsDown("srv-1") }, "server never marked down")
	if len(sink.observed) != 0 || len(sink.stopped) != 0 {
		t.Errorf("failed poll still published: %d/%d", len(sink.observed), len(sink.stopped))
	}

	// Recovery poll clears the down state.
	client.mu.Lock()
	client.err = nil
	client.mu.Unlock()
	p.poll(context.Background())
	if rec.IsDown("srv-1") {
		t.Error("server still down after successful poll")
	}
}

func TestTriggerNowDoesNotBlock(t *testing.T) {
	p := NewPoller("srv-1", &fakeClient{}, &fakeStore{}, &recordingSink{}, NewReconciler(&recordingQueue{}, nil, time.Minute), time.Second, time.Minute)
	// Channel has capacity 1; extra triggers must coalesce, not block.
	for i := 0; i < 10; i++ {
		p.TriggerNow()
	}
}
