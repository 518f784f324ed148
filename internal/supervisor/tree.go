// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig holds restart and shutdown tuning for the tree.
type TreeConfig struct {
	// FailureThreshold is the failure count before entering backoff.
	FailureThreshold float64
	// FailureDecay is the decay rate of counted failures, in seconds.
	FailureDecay float64
	// FailureBackoff is how long a thrashing supervisor pauses.
	FailureBackoff time.Duration
	// ShutdownTimeout bounds graceful service shutdown.
	ShutdownTimeout time.Duration
}

// DefaultTreeConfig mirrors suture's own defaults.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree is the supervision hierarchy. Three layers isolate failures:
//
//   - events: message router, embedded broker, notification dispatcher
//   - sync: per-server pollers and push listeners
//   - api: the HTTP server
//
// A crashing poller restarts inside the sync layer without touching
// the event pipeline or the API.
type Tree struct {
	root   *suture.Supervisor
	events *suture.Supervisor
	sync   *suture.Supervisor
	api    *suture.Supervisor

	mu      sync.Mutex
	servers map[string][]suture.ServiceToken
}

// NewTree builds the supervisor hierarchy. Events are logged through
// sutureslog onto the given logger.
func NewTree(logger *slog.Logger, cfg TreeConfig) *Tree {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5.0
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = 30.0
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = 15 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	rootSpec := suture.Spec{
		EventHook:        (&sutureslog.Handler{Logger: logger}).MustHook(),
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}
	childSpec := suture.Spec{
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}

	root := suture.New("streamwarden", rootSpec)
	events := suture.New("event-layer", childSpec)
	syncLayer := suture.New("sync-layer", childSpec)
	api := suture.New("api-layer", childSpec)

	root.Add(events)
	root.Add(syncLayer)
	root.Add(api)

	return &Tree{
		root:    root,
		events:  events,
		sync:    syncLayer,
		api:     api,
		servers: make(map[string][]suture.ServiceToken),
	}
}

// AddEventService supervises a service in the event layer.
func (t *Tree) AddEventService(svc suture.Service) suture.ServiceToken {
	return t.events.Add(svc)
}

// AddAPIService supervises a service in the API layer.
func (t *Tree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

// AddServerServices supervises one media server's long-running
// services (poller, push listener) in the sync layer, keyed by server
// for later removal.
func (t *Tree) AddServerServices(serverID string, services ...suture.Service) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, svc := range services {
		t.servers[serverID] = append(t.servers[serverID], t.sync.Add(svc))
	}
}

// RemoveServerServices stops and forgets a server's services, waiting
// up to the shutdown timeout per service.
func (t *Tree) RemoveServerServices(serverID string, timeout time.Duration) error {
	t.mu.Lock()
	tokens := t.servers[serverID]
	delete(t.servers, serverID)
	t.mu.Unlock()

	for _, token := range tokens {
		if err := t.sync.RemoveAndWait(token, timeout); err != nil {
			return fmt.Errorf("remove service for server %s: %w", serverID, err)
		}
	}
	return nil
}

// Serve runs the tree until the context is canceled.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground starts the tree and returns its completion channel.
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport lists services that ignored shutdown.
func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}

// ServiceFunc adapts a plain run function to suture.Service.
type ServiceFunc func(ctx context.Context) error

// Serve runs the function.
func (f ServiceFunc) Serve(ctx context.Context) error { return f(ctx) }
