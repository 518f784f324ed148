// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/streamwarden/streamwarden/internal/heavyops"
	"github.com/streamwarden/streamwarden/internal/logging"
	"github.com/streamwarden/streamwarden/internal/metrics"
	"github.com/streamwarden/streamwarden/internal/models"
	"github.com/streamwarden/streamwarden/internal/rules"
	"github.com/streamwarden/streamwarden/internal/sync"
)

// Store is the persistence surface the API reads and writes. The
// database package satisfies it.
type Store interface {
	Ping(ctx context.Context) error

	ListServers(ctx context.Context) ([]*models.Server, error)
	GetActiveSessions(ctx context.Context) ([]*models.Session, error)
	ListSessions(ctx context.Context, limit, offset int) ([]*models.Session, error)
	ListServerUsers(ctx context.Context, serverID string) ([]*models.ServerUser, error)

	ListViolations(ctx context.Context, serverUserID string, unacknowledgedOnly bool, limit int) ([]*models.Violation, error)
	AcknowledgeViolation(ctx context.Context, id string, at time.Time) (bool, error)
	DeleteViolation(ctx context.Context, id string) error

	CreateRule(ctx context.Context, r *models.Rule) error
	UpdateRule(ctx context.Context, r *models.Rule) error
	DeleteRule(ctx context.Context, id string) error
	GetRule(ctx context.Context, id string) (*models.Rule, error)
	ListRules(ctx context.Context) ([]*models.Rule, error)

	ListTerminationLogs(ctx context.Context, limit int) ([]*models.TerminationLog, error)
}

// Handlers carries the API's backing services.
type Handlers struct {
	store      Store
	control    ServerControl
	engine     *rules.Engine
	heavy      *heavyops.Lock
	reconciler *sync.Reconciler
	version    string
	startedAt  time.Time
	validate   *validator.Validate
}

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Database      string `json:"database"`
	RulesEngine   bool   `json:"rules_engine_enabled"`
}

// Health reports process and database status. Degraded states answer
// 503 so load balancer checks fail over.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		Database:      "ok",
		RulesEngine:   h.engine != nil && h.engine.Enabled(),
	}
	status := http.StatusOK
	if err := h.store.Ping(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Database = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

type serverStatus struct {
	*models.Server
	Reachable bool `json:"reachable"`
}

// ListServers returns configured servers with live reachability.
func (h *Handlers) ListServers(w http.ResponseWriter, r *http.Request) {
	servers, err := h.store.ListServers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]serverStatus, 0, len(servers))
	for _, s := range servers {
		reachable := true
		if h.reconciler != nil {
			reachable = !h.reconciler.IsDown(s.ID)
		}
		out = append(out, serverStatus{Server: s, Reachable: reachable})
	}
	writeJSON(w, http.StatusOK, out)
}

// ActiveSessions returns every in-flight playback session.
func (h *Handlers) ActiveSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.GetActiveSessions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// SessionHistory pages through past sessions, newest first.
func (h *Handlers) SessionHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	if limit < 1 || limit > 1000 {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
		return
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		writeError(w, http.StatusBadRequest, "offset must not be negative")
		return
	}

	sessions, err := h.store.ListSessions(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// ListUsers returns the users of one server.
func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	serverID := r.URL.Query().Get("server_id")
	if serverID == "" {
		writeError(w, http.StatusBadRequest, "server_id query parameter is required")
		return
	}
	users, err := h.store.ListServerUsers(r.Context(), serverID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, users)
}

type controlRequest struct {
	Message string `json:"message" validate:"max=500"`
}

// KillSession terminates one stream on a media server.
func (h *Handlers) KillSession(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "serverID")
	sessionKey := chi.URLParam(r, "sessionKey")

	var req controlRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.control.KillSession(r.Context(), serverID, sessionKey, req.Message); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	metrics.SessionsKilled.WithLabelValues(serverID).Inc()
	logging.Info().
		Str("server_id", serverID).
		Str("session_key", sessionKey).
		Msg("session killed via api")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "terminated"})
}

// MessageSession shows an on-screen message on one streaming client.
func (h *Handlers) MessageSession(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "serverID")
	sessionKey := chi.URLParam(r, "sessionKey")

	var req controlRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.control.MessageSession(r.Context(), serverID, sessionKey, req.Message); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

// ListViolations returns violations, optionally filtered to one user or
// to unacknowledged entries.
func (h *Handlers) ListViolations(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	if limit < 1 || limit > 1000 {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
		return
	}
	userID := r.URL.Query().Get("user_id")
	unackOnly := r.URL.Query().Get("unacknowledged") == "true"

	violations, err := h.store.ListViolations(r.Context(), userID, unackOnly, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, violations)
}

// AcknowledgeViolation marks a violation acknowledged. Acknowledging an
// already-acknowledged violation is a no-op, not an error.
func (h *Handlers) AcknowledgeViolation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	acked, err := h.store.AcknowledgeViolation(r.Context(), id, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"acknowledged": acked})
}

// DeleteViolation removes a violation and restores any trust penalty it
// applied.
func (h *Handlers) DeleteViolation(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteViolation(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListRules returns all rules, active or not.
func (h *Handlers) ListRules(w http.ResponseWriter, r *http.Request) {
	ruleSet, err := h.store.ListRules(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ruleSet)
}

// CreateRule validates and persists a new rule.
func (h *Handlers) CreateRule(w http.ResponseWriter, r *http.Request) {
	var rule models.Rule
	if err := decodeJSON(r, &rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule payload: "+err.Error())
		return
	}
	if err := rules.ValidateRule(&rule); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	rule.ID = uuid.New().String()
	rule.CreatedAt = time.Now().UTC()
	if err := h.store.CreateRule(r.Context(), &rule); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	logging.Info().Str("rule_id", rule.ID).Str("name", rule.Name).Msg("rule created")
	writeJSON(w, http.StatusCreated, &rule)
}

// GetRule returns one rule by ID.
func (h *Handlers) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.store.GetRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rule == nil {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// UpdateRule replaces a rule's definition. The ID and creation time are
// immutable.
func (h *Handlers) UpdateRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	existing, err := h.store.GetRule(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}

	var rule models.Rule
	if err := decodeJSON(r, &rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule payload: "+err.Error())
		return
	}
	if err := rules.ValidateRule(&rule); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	rule.ID = existing.ID
	rule.CreatedAt = existing.CreatedAt
	if err := h.store.UpdateRule(r.Context(), &rule); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, &rule)
}

// DeleteRule removes a rule.
func (h *Handlers) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	existing, err := h.store.GetRule(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	if err := h.store.DeleteRule(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	logging.Info().Str("rule_id", id).Str("name", existing.Name).Msg("rule deleted")
	w.WriteHeader(http.StatusNoContent)
}

type engineRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// SetEngineEnabled toggles rule evaluation globally, a kill switch for
// runaway rules.
func (h *Handlers) SetEngineEnabled(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "rules engine is not running")
		return
	}
	var req engineRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.engine.SetEnabled(*req.Enabled)
	logging.Info().Bool("enabled", *req.Enabled).Msg("rules engine toggled via api")
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": h.engine.Enabled()})
}

// ListTerminations returns recent enforcement terminations.
func (h *Handlers) ListTerminations(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	if limit < 1 || limit > 1000 {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
		return
	}
	logs, err := h.store.ListTerminationLogs(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

type lockStatusResponse struct {
	Held   bool             `json:"held"`
	Holder *heavyops.Holder `json:"holder,omitempty"`
}

// HeavyOpsLockStatus reports the heavy operations lock holder, if any.
func (h *Handlers) HeavyOpsLockStatus(w http.ResponseWriter, r *http.Request) {
	if h.heavy == nil {
		writeError(w, http.StatusServiceUnavailable, "heavy operations lock is not configured")
		return
	}
	holder, err := h.heavy.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, lockStatusResponse{Held: holder != nil, Holder: holder})
}
