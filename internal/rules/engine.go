// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package rules

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/streamwarden/streamwarden/internal/logging"
	"github.com/streamwarden/streamwarden/internal/models"
)

// Engine evaluates declarative rules against live session state and hands
// matches to the action executor.
type Engine struct {
	executor *Executor

	mu      sync.RWMutex
	enabled bool

	metrics EngineMetricsRecorder
}

// EngineMetricsRecorder receives evaluation counters. Implemented by the
// metrics package; a nil recorder disables instrumentation.
type EngineMetricsRecorder interface {
	RuleEvaluated(ruleID string, matched bool)
	EvaluationError(ruleID string)
}

// NewEngine creates a rule engine that dispatches matches to executor.
func NewEngine(executor *Executor, metrics EngineMetricsRecorder) *Engine {
	return &Engine{
		executor: executor,
		enabled:  true,
		metrics:  metrics,
	}
}

// SetEnabled enables or disables evaluation globally.
func (e *Engine) SetEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = enabled
}

// Enabled reports whether the engine evaluates rules.
func (e *Engine) Enabled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.enabled
}

// EvaluateRule evaluates one rule against the context: logical OR over
// condition groups, logical AND within a group. A rule with zero groups,
// or a group with zero conditions, never matches; an always-fire policy
// must be written explicitly, not emerge from an empty rule. Conditions
// within a group short-circuit on the first false; groups are tried until
// one matches.
func EvaluateRule(ctx *EvaluationContext, rule *models.Rule) (bool, error) {
	if len(rule.Conditions.Groups) == 0 {
		return false, nil
	}

	evalCtx := *ctx
	evalCtx.Rule = rule

	for gi := range rule.Conditions.Groups {
		group := &rule.Conditions.Groups[gi]
		if len(group.Conditions) == 0 {
			continue
		}

		matched := true
		for ci := range group.Conditions {
			cond := &group.Conditions[ci]
			fn, err := EvaluatorFor(cond.Field)
			if err != nil {
				return false, &EvaluationError{Field: cond.Field, Err: err}
			}
			ok, err := fn(&evalCtx, cond)
			if err != nil {
				return false, &EvaluationError{Field: cond.Field, Err: err}
			}
			if !ok {
				matched = false
				break
			}
		}
		if matched {
			return true, nil
		}
	}
	return false, nil
}

// Evaluate runs every in-scope rule against the context (in rule-creation
// order) and executes the actions of each match. Evaluation errors on one
// rule are logged and do not stop the remaining rules.
func (e *Engine) Evaluate(ctx context.Context, evalCtx *EvaluationContext, ruleSet []*models.Rule) []*models.Rule {
	if !e.Enabled() {
		return nil
	}

	if evalCtx.Now.IsZero() {
		evalCtx.Now = time.Now().UTC()
	}

	rules := inScopeRules(ruleSet, evalCtx.Session.ServerID)

	var matched []*models.Rule
	for _, rule := range rules {
		ok, err := EvaluateRule(evalCtx, rule)
		if err != nil {
			if e.metrics != nil {
				e.metrics.EvaluationError(rule.ID)
			}
			logging.Ctx(ctx).Error().Err(err).
				Str("rule_id", rule.ID).
				Str("session_id", evalCtx.Session.ID).
				Msg("rule evaluation failed")
			continue
		}
		if e.metrics != nil {
			e.metrics.RuleEvaluated(rule.ID, ok)
		}
		if !ok {
			continue
		}

		matched = append(matched, rule)
		if e.executor != nil {
			e.executor.Execute(ctx, rule, evalCtx)
		}
	}
	return matched
}

// inScopeRules filters to active rules scoped to the server (or
// server-agnostic), preserving creation order.
func inScopeRules(ruleSet []*models.Rule, serverID string) []*models.Rule {
	out := make([]*models.Rule, 0, len(ruleSet))
	for _, r := range ruleSet {
		if r.IsActive && r.AppliesToServer(serverID) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
