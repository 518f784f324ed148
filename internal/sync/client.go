// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/streamwarden/streamwarden/internal/logging"
	"github.com/streamwarden/streamwarden/internal/models"
)

// ErrUnsupported is returned by client operations the vendor's API does
// not offer (e.g. on-screen messages on Plex).
var ErrUnsupported = errors.New("operation not supported by this media server")

// Observation is one normalized sighting of an active stream. The
// session carries no ServerUserID yet; the manager resolves the external
// identity against the user store before publishing.
type Observation struct {
	Session        models.Session
	ExternalUserID string
	Username       string
}

// Client is the vendor-neutral media-server API surface.
type Client interface {
	Type() models.ServerType

	// GetSessions returns all currently active playback sessions.
	GetSessions(ctx context.Context) ([]Observation, error)

	// KillSession terminates the stream identified by sessionKey,
	// showing message on the client where the vendor supports it.
	KillSession(ctx context.Context, sessionKey, message string) error

	// MessageSession displays message on the client without stopping
	// playback. Returns ErrUnsupported for vendors without the API.
	MessageSession(ctx context.Context, sessionKey, message string) error

	// Ping verifies the server is reachable and the token valid.
	Ping(ctx context.Context) error
}

// ResilientClient wraps a Client with a circuit breaker and rate limiter
// so a slow or flapping media server cannot stall the poll loop or get
// hammered during recovery.
type ResilientClient struct {
	inner   Client
	cb      *gobreaker.CircuitBreaker[any]
	limiter *rate.Limiter
}

// NewResilientClient wraps inner. The breaker opens after a 60% failure
// rate over at least 10 requests and probes again after 2 minutes. The
// limiter allows 10 req/s with a burst of 20, generous for polling but a
// hard stop for retry storms.
func NewResilientClient(inner Client, serverID string) *ResilientClient {
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        fmt.Sprintf("%s-%s", inner.Type(), serverID),
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("media server circuit breaker state change")
		},
	})
	return &ResilientClient{
		inner:   inner,
		cb:      cb,
		limiter: rate.NewLimiter(rate.Limit(10), 20),
	}
}

func (r *ResilientClient) execute(ctx context.Context, fn func() (any, error)) (any, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.cb.Execute(fn)
}

func (r *ResilientClient) Type() models.ServerType { return r.inner.Type() }

func (r *ResilientClient) GetSessions(ctx context.Context) ([]Observation, error) {
	result, err := r.execute(ctx, func() (any, error) {
		return r.inner.GetSessions(ctx)
	})
	if err != nil {
		return nil, err
	}
	obs, ok := result.([]Observation)
	if !ok {
		return nil, fmt.Errorf("unexpected breaker result type %T", result)
	}
	return obs, nil
}

func (r *ResilientClient) KillSession(ctx context.Context, sessionKey, message string) error {
	_, err := r.execute(ctx, func() (any, error) {
		return nil, r.inner.KillSession(ctx, sessionKey, message)
	})
	return err
}

func (r *ResilientClient) MessageSession(ctx context.Context, sessionKey, message string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	// Message delivery skips the breaker: an unsupported vendor error
	// must not count toward opening the circuit.
	return r.inner.MessageSession(ctx, sessionKey, message)
}

func (r *ResilientClient) Ping(ctx context.Context) error {
	_, err := r.execute(ctx, func() (any, error) {
		return nil, r.inner.Ping(ctx)
	})
	return err
}
