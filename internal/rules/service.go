// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package rules

import (
	"context"
	"time"

	"github.com/streamwarden/streamwarden/internal/logging"
	"github.com/streamwarden/streamwarden/internal/models"
)

// RuleSource lists the rules to evaluate.
type RuleSource interface {
	ListActiveRules(ctx context.Context) ([]*models.Rule, error)
}

// SessionSource supplies the session snapshots evaluators read.
type SessionSource interface {
	GetActiveSessions(ctx context.Context) ([]*models.Session, error)
	GetRecentSessions(ctx context.Context, serverUserID string, since time.Time) ([]*models.Session, error)
}

// UserSource resolves the triggering session's owner.
type UserSource interface {
	GetServerUser(ctx context.Context, id string) (*models.ServerUser, error)
}

// ServerSource resolves the triggering session's server.
type ServerSource interface {
	GetServer(ctx context.Context, id string) (*models.Server, error)
}

// recentWindow bounds the recent-session snapshot handed to velocity and
// uniqueness evaluators. Wide enough for any condition window a rule is
// likely to carry.
const recentWindow = 7 * 24 * time.Hour

// Service assembles evaluation contexts from stored state and runs the
// engine. It is the policy hook the session lifecycle manager invokes on
// every create and update.
type Service struct {
	engine   *Engine
	rules    RuleSource
	sessions SessionSource
	users    UserSource
	servers  ServerSource
}

// NewService wires the policy service.
func NewService(engine *Engine, rules RuleSource, sessions SessionSource, users UserSource, servers ServerSource) *Service {
	return &Service{
		engine:   engine,
		rules:    rules,
		sessions: sessions,
		users:    users,
		servers:  servers,
	}
}

// OnSessionEvent evaluates every active rule against the session. A
// missing user or server is an expected race (removed mid-session) and
// skips evaluation; transient load failures skip too, because the feed
// is continuous and the next event retries naturally.
func (s *Service) OnSessionEvent(ctx context.Context, session *models.Session) {
	if !s.engine.Enabled() {
		return
	}

	ruleSet, err := s.rules.ListActiveRules(ctx)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("rule load failed, evaluation skipped")
		return
	}
	if len(ruleSet) == 0 {
		return
	}

	user, err := s.users.GetServerUser(ctx, session.ServerUserID)
	if err != nil || user == nil {
		logging.Ctx(ctx).Warn().Err(err).
			Str("server_user_id", session.ServerUserID).
			Msg("server user not found, evaluation skipped")
		return
	}

	server, err := s.servers.GetServer(ctx, session.ServerID)
	if err != nil || server == nil {
		logging.Ctx(ctx).Warn().Err(err).
			Str("server_id", session.ServerID).
			Msg("server not found, evaluation skipped")
		return
	}

	now := time.Now().UTC()

	active, err := s.sessions.GetActiveSessions(ctx)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("active session load failed, evaluation skipped")
		return
	}

	recent, err := s.sessions.GetRecentSessions(ctx, session.ServerUserID, now.Add(-recentWindow))
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("recent session load failed, evaluation skipped")
		return
	}

	evalCtx := &EvaluationContext{
		Session:        session,
		User:           user,
		Server:         server,
		ActiveSessions: active,
		RecentSessions: recent,
		Now:            now,
	}
	s.engine.Evaluate(ctx, evalCtx, ruleSet)
}
