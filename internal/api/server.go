// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/streamwarden/streamwarden/internal/heavyops"
	"github.com/streamwarden/streamwarden/internal/logging"
	"github.com/streamwarden/streamwarden/internal/rules"
	"github.com/streamwarden/streamwarden/internal/sync"
	"github.com/streamwarden/streamwarden/internal/websocket"
)

// Config tunes the HTTP API server.
type Config struct {
	ListenAddr      string        `koanf:"listen_addr" validate:"required"`
	RequestTimeout  time.Duration `koanf:"request_timeout"`
	RateLimitPerMin int           `koanf:"rate_limit_per_min"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:      "127.0.0.1:8787",
		RequestTimeout:  30 * time.Second,
		RateLimitPerMin: 300,
	}
}

// ServerControl terminates or messages streams on a media server.
// Satisfied by the sync manager.
type ServerControl interface {
	KillSession(ctx context.Context, serverID, sessionKey, message string) error
	MessageSession(ctx context.Context, serverID, sessionKey, message string) error
}

// Server is the HTTP API: session visibility, violation management,
// rule CRUD, lock status, and manual stream control.
type Server struct {
	cfg      Config
	handlers *Handlers
	hub      *websocket.Hub
	httpSrv  *http.Server
}

// NewServer wires the API against its backing services. reconciler,
// heavy, and hub may be nil when those subsystems are disabled.
func NewServer(cfg Config, store Store, control ServerControl, engine *rules.Engine, heavy *heavyops.Lock, reconciler *sync.Reconciler, hub *websocket.Hub, version string) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.RateLimitPerMin <= 0 {
		cfg.RateLimitPerMin = 300
	}

	handlers := &Handlers{
		store:      store,
		control:    control,
		engine:     engine,
		heavy:      heavy,
		reconciler: reconciler,
		version:    version,
		startedAt:  time.Now().UTC(),
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}

	s := &Server{cfg: cfg, handlers: handlers, hub: hub}
	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.RequestTimeout,
		WriteTimeout:      cfg.RequestTimeout,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(s.cfg.RateLimitPerMin, time.Minute))

		r.Get("/health", s.handlers.Health)

		if s.hub != nil {
			r.Get("/ws", s.hub.HandleUpgrade)
		}

		r.Get("/servers", s.handlers.ListServers)
		r.Get("/sessions/active", s.handlers.ActiveSessions)
		r.Get("/sessions", s.handlers.SessionHistory)
		r.Post("/servers/{serverID}/sessions/{sessionKey}/kill", s.handlers.KillSession)
		r.Post("/servers/{serverID}/sessions/{sessionKey}/message", s.handlers.MessageSession)

		r.Get("/users", s.handlers.ListUsers)

		r.Route("/violations", func(r chi.Router) {
			r.Get("/", s.handlers.ListViolations)
			r.Post("/{id}/acknowledge", s.handlers.AcknowledgeViolation)
			r.Delete("/{id}", s.handlers.DeleteViolation)
		})

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", s.handlers.ListRules)
			r.Post("/", s.handlers.CreateRule)
			r.Get("/{id}", s.handlers.GetRule)
			r.Put("/{id}", s.handlers.UpdateRule)
			r.Delete("/{id}", s.handlers.DeleteRule)
		})
		r.Put("/engine", s.handlers.SetEngineEnabled)

		r.Get("/terminations", s.handlers.ListTerminations)
		r.Get("/heavyops/lock", s.handlers.HeavyOpsLockStatus)
	})

	return r
}

// Serve runs the HTTP server until the context is canceled. It
// satisfies suture.Service.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.cfg.ListenAddr).Msg("api server listening")
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}
