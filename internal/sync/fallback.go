// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package sync

import (
	"context"
	"sync"
	"time"

	"github.com/streamwarden/streamwarden/internal/logging"
	"github.com/streamwarden/streamwarden/internal/notifications"
)

// DefaultDownNotifyDelay is how long a server must stay unreachable
// before the down notification fires. Reconnects inside the window
// cancel it, so a transient blip never pages anyone.
const DefaultDownNotifyDelay = 60 * time.Second

// PollTrigger requests one immediate reconciliation poll of a server.
type PollTrigger func(serverID string)

// Reconciler tracks per-server connectivity and pairs down/up
// notifications. An up notification is only sent when a down
// notification actually went out first.
type Reconciler struct {
	queue   notifications.Queue
	trigger PollTrigger
	delay   time.Duration

	mu           sync.Mutex
	closed       bool
	names        map[string]string
	timers       map[string]*time.Timer
	notifiedDown map[string]bool
}

// NewReconciler creates a reconciler. trigger may be nil when no poller
// is wired (tests).
func NewReconciler(queue notifications.Queue, trigger PollTrigger, delay time.Duration) *Reconciler {
	if delay <= 0 {
		delay = DefaultDownNotifyDelay
	}
	return &Reconciler{
		queue:        queue,
		trigger:      trigger,
		delay:        delay,
		names:        make(map[string]string),
		timers:       make(map[string]*time.Timer),
		notifiedDown: make(map[string]bool),
	}
}

// Track registers a server's display name for notifications.
func (r *Reconciler) Track(serverID, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names[serverID] = name
}

// ServerDown marks a server unreachable. The down notification is
// delayed; repeated calls while the timer is pending are no-ops.
func (r *Reconciler) ServerDown(serverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.timers[serverID] != nil || r.notifiedDown[serverID] {
		return
	}
	logging.Warn().Str("server_id", serverID).Dur("notify_after", r.delay).Msg("media server unreachable")
	r.timers[serverID] = time.AfterFunc(r.delay, func() { r.downElapsed(serverID) })
}

func (r *Reconciler) downElapsed(serverID string) {
	r.mu.Lock()
	if r.closed || r.timers[serverID] == nil {
		r.mu.Unlock()
		return
	}
	delete(r.timers, serverID)
	r.notifiedDown[serverID] = true
	name := r.names[serverID]
	r.mu.Unlock()

	logging.Error().Str("server_id", serverID).Msg("media server down")
	r.enqueue(notifications.NewServerStatusNotification(notifications.TypeServerDown, serverID, name))
}

// ServerUp marks a server reachable again. A pending down timer is
// canceled silently; a sent down notification is paired with an up
// notification and a reconciliation poll to recover missed events.
func (r *Reconciler) ServerUp(serverID string) {
	r.mu.Lock()
	if t := r.timers[serverID]; t != nil {
		t.Stop()
		delete(r.timers, serverID)
	}
	wasDown := r.notifiedDown[serverID]
	delete(r.notifiedDown, serverID)
	name := r.names[serverID]
	trigger := r.trigger
	r.mu.Unlock()

	if !wasDown {
		return
	}
	logging.Info().Str("server_id", serverID).Msg("media server recovered")
	r.enqueue(notifications.NewServerStatusNotification(notifications.TypeServerUp, serverID, name))
	if trigger != nil {
		trigger(serverID)
	}
}

// PushExhausted signals that a server's push listener gave up
// reconnecting. Polling keeps the lifecycle alive; one immediate poll
// closes the gap the dead websocket left.
func (r *Reconciler) PushExhausted(serverID string) {
	r.mu.Lock()
	trigger := r.trigger
	r.mu.Unlock()

	logging.Warn().Str("server_id", serverID).Msg("push listener exhausted retries, polling is now the only source")
	if trigger != nil {
		trigger(serverID)
	}
}

// IsDown reports whether the down notification for a server has fired
// and not yet been paired with an up.
func (r *Reconciler) IsDown(serverID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.notifiedDown[serverID]
}

// Close cancels every pending down timer and stops the reconciler.
// A timer firing mid-shutdown must not page anyone about a server
// that is only unreachable because the process is draining.
func (r *Reconciler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
}

func (r *Reconciler) enqueue(n *notifications.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.queue.Enqueue(ctx, n); err != nil {
		logging.Error().Err(err).Str("type", string(n.Type)).Msg("enqueue server status notification")
	}
}
