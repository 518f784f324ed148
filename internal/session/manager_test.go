// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/streamwarden/streamwarden/internal/models"
	"github.com/streamwarden/streamwarden/internal/notifications"
)

// memStore is an in-memory Store with the same conditional-stop contract
// as the real one.
type memStore struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
	inserts  int
	updates  int
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]*models.Session)}
}

func (m *memStore) InsertSession(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	m.inserts++
	return nil
}

func (m *memStore) UpdateSession(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	m.updates++
	return nil
}

func (m *memStore) StopSession(_ context.Context, sessionID string, stoppedAt time.Time, durationMs int64, watched bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.StoppedAt != nil {
		return false, nil
	}
	at := stoppedAt
	s.StoppedAt = &at
	s.DurationMs = &durationMs
	s.Watched = watched
	s.State = models.StateStopped
	return true, nil
}

func (m *memStore) GetActiveSessionsByKey(_ context.Context, serverID, sessionKey string) ([]*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Session
	for _, s := range m.sessions {
		if s.ServerID == serverID && s.SessionKey == sessionKey && s.StoppedAt == nil {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) activeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s.StoppedAt == nil {
			n++
		}
	}
	return n
}

// memCache provides real mutual exclusion per key, standing in for the
// Redis-backed create lock.
type memCache struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newMemCache() *memCache {
	return &memCache{locks: make(map[string]*sync.Mutex)}
}

func (c *memCache) AddActiveSession(context.Context, *models.Session) error    { return nil }
func (c *memCache) UpdateActiveSession(context.Context, *models.Session) error { return nil }
func (c *memCache) RemoveActiveSession(context.Context, *models.Session) error { return nil }

func (c *memCache) WithSessionCreateLock(ctx context.Context, serverID, sessionKey string, fn func(ctx context.Context) error) error {
	c.mu.Lock()
	key := serverID + "|" + sessionKey
	l, ok := c.locks[key]
	if !ok {
		l = &sync.Mutex{}
		c.locks[key] = l
	}
	c.mu.Unlock()

	l.Lock()
	defer l.Unlock()
	return fn(ctx)
}

type recordingEvents struct {
	mu      sync.Mutex
	started []string
	updated []string
	stopped []string
}

func (r *recordingEvents) SessionStarted(_ context.Context, s *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, s.ID)
	return nil
}

func (r *recordingEvents) SessionUpdated(_ context.Context, s *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updated = append(r.updated, s.ID)
	return nil
}

func (r *recordingEvents) SessionStopped(_ context.Context, s *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = append(r.stopped, s.ID)
	return nil
}

type recordingQueue struct {
	mu       sync.Mutex
	enqueued []*notifications.Notification
}

func (r *recordingQueue) Enqueue(_ context.Context, n *notifications.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enqueued = append(r.enqueued, n)
	return nil
}

func (r *recordingQueue) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.enqueued)
}

type recordingPolicy struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingPolicy) OnSessionEvent(_ context.Context, s *models.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s.ID)
}

func managerFixture() (*Manager, *memStore, *recordingEvents, *recordingQueue, *recordingPolicy) {
	store := newMemStore()
	events := &recordingEvents{}
	queue := &recordingQueue{}
	policy := &recordingPolicy{}
	m := NewManager(store, newMemCache(), events, queue, policy)
	return m, store, events, queue, policy
}

func observation(sessionKey string) *models.Session {
	return &models.Session{
		ServerID:        "srv-1",
		ServerUserID:    "u1",
		SessionKey:      sessionKey,
		State:           models.StatePlaying,
		MediaType:       "movie",
		Title:           "Movie",
		TotalDurationMs: 2 * 60 * 60 * 1000,
		Stream: models.StreamDetails{
			VideoDecision: models.DecisionDirectPlay,
			VideoCodec:    "h264",
			OutputWidth:   1920,
			OutputHeight:  1080,
		},
	}
}

func TestObserveCreateRace(t *testing.T) {
	m, store, events, _, _ := managerFixture()

	// Push listener and poll tick race with the same observation.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Observe(context.Background(), observation("key-1")); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if store.inserts != 1 {
		t.Errorf("inserted %d rows, want exactly 1", store.inserts)
	}
	if store.activeCount() != 1 {
		t.Errorf("%d active rows, want 1", store.activeCount())
	}
	events.mu.Lock()
	defer events.mu.Unlock()
	if len(events.started) != 1 {
		t.Errorf("published %d started events, want exactly 1", len(events.started))
	}
}

func TestObserveUpdatesKnownSession(t *testing.T) {
	m, store, events, _, policy := managerFixture()
	ctx := context.Background()

	if err := m.Observe(ctx, observation("key-1")); err != nil {
		t.Fatal(err)
	}

	update := observation("key-1")
	update.ProgressMs = 600_000
	if err := m.Observe(ctx, update); err != nil {
		t.Fatal(err)
	}

	if store.inserts != 1 {
		t.Errorf("inserted %d rows, want 1", store.inserts)
	}
	if store.updates != 1 {
		t.Errorf("updated %d rows, want 1", store.updates)
	}
	if len(events.updated) != 1 {
		t.Errorf("published %d updated events, want 1", len(events.updated))
	}
	// Rules run on create and on update.
	if len(policy.events) != 2 {
		t.Errorf("policy invoked %d times, want 2", len(policy.events))
	}
}

func TestObservePauseAccounting(t *testing.T) {
	m, store, _, _, _ := managerFixture()
	ctx := context.Background()

	now := time.Date(2026, 3, 15, 20, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	if err := m.Observe(ctx, observation("key-1")); err != nil {
		t.Fatal(err)
	}

	// Pause after 10 minutes.
	now = now.Add(10 * time.Minute)
	paused := observation("key-1")
	paused.State = models.StatePaused
	if err := m.Observe(ctx, paused); err != nil {
		t.Fatal(err)
	}

	// Resume 3 minutes later.
	now = now.Add(3 * time.Minute)
	resumed := observation("key-1")
	if err := m.Observe(ctx, resumed); err != nil {
		t.Fatal(err)
	}

	active, _ := store.GetActiveSessionsByKey(ctx, "srv-1", "key-1")
	if len(active) != 1 {
		t.Fatalf("%d active rows, want 1", len(active))
	}
	if active[0].PausedDurationMs != 3*60_000 {
		t.Errorf("paused duration = %d, want %d", active[0].PausedDurationMs, 3*60_000)
	}
	if active[0].LastPausedAt != nil {
		t.Error("no pause should remain open after resume")
	}
}

func TestStopExactlyOnce(t *testing.T) {
	m, store, events, queue, _ := managerFixture()
	ctx := context.Background()

	if err := m.Observe(ctx, observation("key-1")); err != nil {
		t.Fatal(err)
	}

	at := time.Now().UTC()
	// Duplicate delivery of the same stop.
	if err := m.Stop(ctx, "srv-1", "key-1", at); err != nil {
		t.Fatal(err)
	}
	if err := m.Stop(ctx, "srv-1", "key-1", at); err != nil {
		t.Fatal(err)
	}

	if store.activeCount() != 0 {
		t.Errorf("%d active rows after stop, want 0", store.activeCount())
	}
	if len(events.stopped) != 1 {
		t.Errorf("published %d stopped events, want exactly 1", len(events.stopped))
	}
	if queue.count() != 1 {
		t.Errorf("enqueued %d stop notifications, want exactly 1", queue.count())
	}
	if queue.enqueued[0].Type != notifications.TypeSessionStopped {
		t.Errorf("notification type = %s, want session_stopped", queue.enqueued[0].Type)
	}
}

func TestStopUnknownSessionIsNoop(t *testing.T) {
	m, _, events, queue, _ := managerFixture()

	if err := m.Stop(context.Background(), "srv-1", "ghost", time.Now()); err != nil {
		t.Fatal(err)
	}
	if len(events.stopped) != 0 || queue.count() != 0 {
		t.Error("stop for an unknown session must have no side effects")
	}
}

func TestObserveQualityChange(t *testing.T) {
	m, store, events, queue, _ := managerFixture()
	ctx := context.Background()

	if err := m.Observe(ctx, observation("key-1")); err != nil {
		t.Fatal(err)
	}

	// The server switches to a transcode: new quality signature, same key.
	changed := observation("key-1")
	changed.Stream.VideoDecision = models.DecisionTranscode
	changed.Stream.OutputWidth = 1280
	changed.Stream.OutputHeight = 720
	if err := m.Observe(ctx, changed); err != nil {
		t.Fatal(err)
	}

	if store.inserts != 2 {
		t.Errorf("inserted %d rows, want 2 (old delivery plus new)", store.inserts)
	}
	if store.activeCount() != 1 {
		t.Errorf("%d active rows, want 1", store.activeCount())
	}
	if len(events.stopped) != 1 || len(events.started) != 2 {
		t.Errorf("events stopped=%d started=%d, want one stop and two starts", len(events.stopped), len(events.started))
	}
	// One logical transition: the intermediate stop notification is
	// suppressed.
	if queue.count() != 0 {
		t.Errorf("enqueued %d notifications during quality change, want 0", queue.count())
	}
}

func TestObserveWatchedLatch(t *testing.T) {
	m, store, _, _, _ := managerFixture()
	ctx := context.Background()

	now := time.Date(2026, 3, 15, 20, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	obs := observation("key-1")
	obs.TotalDurationMs = 60 * 60 * 1000 // 1 hour
	if err := m.Observe(ctx, obs); err != nil {
		t.Fatal(err)
	}

	// 50 minutes of wall-clock watching crosses the 80% threshold.
	now = now.Add(50 * time.Minute)
	tick := observation("key-1")
	tick.TotalDurationMs = obs.TotalDurationMs
	if err := m.Observe(ctx, tick); err != nil {
		t.Fatal(err)
	}

	active, _ := store.GetActiveSessionsByKey(ctx, "srv-1", "key-1")
	if len(active) != 1 || !active[0].Watched {
		t.Fatal("session should latch watched at 80% wall-clock watch time")
	}
}
