// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/streamwarden/streamwarden/internal/logging"
	"github.com/streamwarden/streamwarden/internal/models"
	"github.com/streamwarden/streamwarden/internal/notifications"
)

// ViolationStore persists rule violations.
type ViolationStore interface {
	InsertViolation(ctx context.Context, v *models.Violation) error
}

// TrustStore mutates user trust scores. All mutations clamp to the valid
// range; AdjustTrustScore returns the delta actually applied after
// clamping so violation records can carry the reversible penalty.
type TrustStore interface {
	AdjustTrustScore(ctx context.Context, serverUserID string, delta int) (applied int, err error)
	SetTrustScore(ctx context.Context, serverUserID string, value int) error
	ResetTrustScore(ctx context.Context, serverUserID string) error
}

// TerminationStore records kill-stream attempts.
type TerminationStore interface {
	InsertTerminationLog(ctx context.Context, t *models.TerminationLog) error
}

// ServerControl issues control operations against a media-server client.
type ServerControl interface {
	KillSession(ctx context.Context, serverID, sessionKey, message string) error
	MessageSession(ctx context.Context, serverID, sessionKey, message string) error
}

// Executor applies a matched rule's actions against resolved target
// sessions, each exactly once per (rule, session, action) within a single
// triggering evaluation.
type Executor struct {
	violations   ViolationStore
	trust        TrustStore
	terminations TerminationStore
	control      ServerControl
	queue        notifications.Queue
}

// NewExecutor wires the executor's collaborators. Any collaborator may be
// nil, in which case its action variants log and skip.
func NewExecutor(
	violations ViolationStore,
	trust TrustStore,
	terminations TerminationStore,
	control ServerControl,
	queue notifications.Queue,
) *Executor {
	return &Executor{
		violations:   violations,
		trust:        trust,
		terminations: terminations,
		control:      control,
		queue:        queue,
	}
}

// Execute applies every action of a matched rule. Failures of one action
// never block the rest; every failure is logged.
func (x *Executor) Execute(ctx context.Context, rule *models.Rule, evalCtx *EvaluationContext) {
	// applied dedupes side effects within this triggering evaluation.
	// Keyed (action type | scope); the rule is fixed for the whole call.
	applied := make(map[string]struct{})

	// trustDelta accumulates the applied trust penalty so violations
	// created by the same rule can record it for later compensation.
	// Adjustments run in a first pass so the recorded penalty does not
	// depend on where a create_violation sits in the action list.
	trustDelta := 0
	for _, action := range rule.Actions.Actions {
		if action.Type == models.ActionAdjustTrust {
			x.adjustTrust(ctx, rule, evalCtx, action, applied, &trustDelta)
		}
	}

	for _, action := range rule.Actions.Actions {
		targets := ResolveTargetSessions(action.EffectiveTarget(), evalCtx.Session, evalCtx.ActiveSessions)

		switch action.Type {
		case models.ActionAdjustTrust:
			// Applied in the first pass.
		case models.ActionSetTrust:
			x.setTrust(ctx, rule, evalCtx, action, applied)
		case models.ActionResetTrust:
			x.resetTrust(ctx, rule, evalCtx, action, applied)
		case models.ActionCreateViolation:
			for _, target := range targets {
				x.createViolation(ctx, rule, evalCtx, action, target, trustDelta, applied)
			}
		case models.ActionKillStream:
			for _, target := range targets {
				x.killStream(ctx, rule, action, target, applied)
			}
		case models.ActionMessageClient:
			for _, target := range targets {
				x.messageClient(ctx, rule, action, target, applied)
			}
		case models.ActionNotify:
			x.notify(ctx, rule, evalCtx, action, applied)
		case models.ActionLogOnly:
			logging.Ctx(ctx).Info().
				Str("rule_id", rule.ID).
				Str("rule_name", rule.Name).
				Str("session_id", evalCtx.Session.ID).
				Str("server_user_id", evalCtx.Session.ServerUserID).
				Msg("rule matched")
		default:
			logging.Ctx(ctx).Warn().
				Str("rule_id", rule.ID).
				Str("action", string(action.Type)).
				Msg("unknown action type, skipped")
		}
	}
}

// once records a side-effect key and reports whether it was already
// applied in this evaluation.
func once(applied map[string]struct{}, key string) bool {
	if _, done := applied[key]; done {
		return false
	}
	applied[key] = struct{}{}
	return true
}

// adjustTrust applies the delta once per user regardless of how many
// target sessions resolve; everything resolvable targets the triggering
// user, and a per-session application would multiply the penalty.
func (x *Executor) adjustTrust(ctx context.Context, rule *models.Rule, evalCtx *EvaluationContext, action models.Action, applied map[string]struct{}, trustDelta *int) {
	if x.trust == nil {
		return
	}
	userID := evalCtx.Session.ServerUserID
	if !once(applied, "adjust_trust|"+userID) {
		return
	}
	appliedDelta, err := x.trust.AdjustTrustScore(ctx, userID, action.Delta)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("rule_id", rule.ID).Str("server_user_id", userID).Msg("trust adjustment failed")
		return
	}
	*trustDelta += appliedDelta
}

func (x *Executor) setTrust(ctx context.Context, rule *models.Rule, evalCtx *EvaluationContext, action models.Action, applied map[string]struct{}) {
	if x.trust == nil {
		return
	}
	userID := evalCtx.Session.ServerUserID
	if !once(applied, "set_trust|"+userID) {
		return
	}
	if err := x.trust.SetTrustScore(ctx, userID, models.ClampTrustScore(action.Value)); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("rule_id", rule.ID).Str("server_user_id", userID).Msg("trust set failed")
	}
}

func (x *Executor) resetTrust(ctx context.Context, rule *models.Rule, evalCtx *EvaluationContext, _ models.Action, applied map[string]struct{}) {
	if x.trust == nil {
		return
	}
	userID := evalCtx.Session.ServerUserID
	if !once(applied, "reset_trust|"+userID) {
		return
	}
	if err := x.trust.ResetTrustScore(ctx, userID); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("rule_id", rule.ID).Str("server_user_id", userID).Msg("trust reset failed")
	}
}

func (x *Executor) createViolation(ctx context.Context, rule *models.Rule, evalCtx *EvaluationContext, action models.Action, target *models.Session, trustDelta int, applied map[string]struct{}) {
	if x.violations == nil {
		return
	}
	if !once(applied, "create_violation|"+target.ID) {
		return
	}

	severity := action.Severity
	if severity == "" {
		severity = models.SeverityWarning
	}

	data, err := json.Marshal(models.ViolationData{
		RuleName:   rule.Name,
		TrustDelta: trustDelta,
		Summary:    fmt.Sprintf("%s on %q (%s)", rule.Name, target.Title, target.MediaType),
	})
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("rule_id", rule.ID).Msg("violation payload marshal failed")
		return
	}

	v := &models.Violation{
		ID:           uuid.New().String(),
		RuleID:       rule.ID,
		ServerUserID: target.ServerUserID,
		SessionID:    target.ID,
		Severity:     severity,
		Data:         data,
		CreatedAt:    time.Now().UTC(),
	}
	if err := x.violations.InsertViolation(ctx, v); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("rule_id", rule.ID).Str("session_id", target.ID).Msg("violation insert failed")
		return
	}

	if x.queue != nil {
		if err := x.queue.Enqueue(ctx, notifications.NewViolationNotification(v, rule, target)); err != nil {
			logging.Ctx(ctx).Error().Err(err).Str("violation_id", v.ID).Msg("violation notification enqueue failed")
		}
	}
}

// killStream terminates the target's playback and records the attempt.
// A failed kill is recorded with its reason and never blocks the
// remaining actions.
func (x *Executor) killStream(ctx context.Context, rule *models.Rule, action models.Action, target *models.Session, applied map[string]struct{}) {
	if !once(applied, "kill_stream|"+target.ID) {
		return
	}

	entry := &models.TerminationLog{
		ID:         uuid.New().String(),
		SessionID:  target.ID,
		ServerID:   target.ServerID,
		SessionKey: target.SessionKey,
		Trigger:    models.TriggerRule,
		RuleID:     &rule.ID,
		Success:    true,
		CreatedAt:  time.Now().UTC(),
	}

	if x.control == nil {
		entry.Success = false
		entry.FailureReason = "no server control configured"
	} else if err := x.control.KillSession(ctx, target.ServerID, target.SessionKey, action.Message); err != nil {
		entry.Success = false
		entry.FailureReason = err.Error()
		logging.Ctx(ctx).Error().Err(err).
			Str("rule_id", rule.ID).
			Str("session_id", target.ID).
			Msg("stream termination failed")
	}

	if x.terminations != nil {
		if err := x.terminations.InsertTerminationLog(ctx, entry); err != nil {
			logging.Ctx(ctx).Error().Err(err).Str("session_id", target.ID).Msg("termination log insert failed")
		}
	}
}

func (x *Executor) messageClient(ctx context.Context, rule *models.Rule, action models.Action, target *models.Session, applied map[string]struct{}) {
	if x.control == nil {
		return
	}
	if !once(applied, "message_client|"+target.ID) {
		return
	}
	if err := x.control.MessageSession(ctx, target.ServerID, target.SessionKey, action.Message); err != nil {
		logging.Ctx(ctx).Warn().Err(err).
			Str("rule_id", rule.ID).
			Str("session_id", target.ID).
			Msg("client message failed")
	}
}

// notify enqueues a rule-triggered notification. The payload carries the
// rule's explicit channel list and the ruleNotification marker so the
// dispatcher bypasses settings-driven routing entirely.
func (x *Executor) notify(ctx context.Context, rule *models.Rule, evalCtx *EvaluationContext, action models.Action, applied map[string]struct{}) {
	if x.queue == nil {
		return
	}
	if !once(applied, "notify|"+evalCtx.Session.ID) {
		return
	}
	n := notifications.NewRuleNotification(rule, evalCtx.Session, action.Channels, action.CustomTitle, action.CustomMessage)
	if err := x.queue.Enqueue(ctx, n); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("rule_id", rule.ID).Msg("rule notification enqueue failed")
	}
}
