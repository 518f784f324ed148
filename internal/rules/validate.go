// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package rules

import (
	"fmt"
	"strings"

	"github.com/streamwarden/streamwarden/internal/models"
)

var validOperators = map[models.Operator]bool{
	models.OpEq:       true,
	models.OpGt:       true,
	models.OpGte:      true,
	models.OpLt:       true,
	models.OpLte:      true,
	models.OpIn:       true,
	models.OpNotIn:    true,
	models.OpContains: true,
}

var validActionTypes = map[models.ActionType]bool{
	models.ActionCreateViolation: true,
	models.ActionLogOnly:         true,
	models.ActionNotify:          true,
	models.ActionAdjustTrust:     true,
	models.ActionSetTrust:        true,
	models.ActionResetTrust:      true,
	models.ActionKillStream:      true,
	models.ActionMessageClient:   true,
}

var validTargets = map[models.ActionTarget]bool{
	models.TargetTriggering:   true,
	models.TargetOldest:       true,
	models.TargetNewest:       true,
	models.TargetAllUser:      true,
	models.TargetAllExceptOne: true,
}

// ValidateRule checks a rule before it is persisted: the name is set,
// every condition field has an evaluator, operators and action variants
// are known. An empty group set is accepted (the rule simply never
// matches) so rules can be drafted before their conditions.
func ValidateRule(r *models.Rule) error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("rule name is required")
	}

	for gi, group := range r.Conditions.Groups {
		for ci, cond := range group.Conditions {
			if _, err := EvaluatorFor(cond.Field); err != nil {
				return fmt.Errorf("group %d condition %d: %w", gi, ci, err)
			}
			if !validOperators[cond.Operator] {
				return fmt.Errorf("group %d condition %d: unknown operator %q", gi, ci, cond.Operator)
			}
			if len(cond.Value) == 0 {
				return fmt.Errorf("group %d condition %d: value is required", gi, ci)
			}
		}
	}

	if len(r.Actions.Actions) == 0 {
		return fmt.Errorf("rule has no actions")
	}
	for ai, action := range r.Actions.Actions {
		if !validActionTypes[action.Type] {
			return fmt.Errorf("action %d: unknown action type %q", ai, action.Type)
		}
		if action.Target != "" && !validTargets[action.Target] {
			return fmt.Errorf("action %d: unknown target %q", ai, action.Target)
		}
		switch action.Type {
		case models.ActionCreateViolation:
			switch action.Severity {
			case models.SeverityInfo, models.SeverityWarning, models.SeverityCritical:
			default:
				return fmt.Errorf("action %d: create_violation requires a severity", ai)
			}
		case models.ActionAdjustTrust:
			if action.Delta == 0 {
				return fmt.Errorf("action %d: adjust_trust requires a non-zero delta", ai)
			}
		case models.ActionSetTrust:
			if action.Value < models.TrustScoreMin || action.Value > models.TrustScoreMax {
				return fmt.Errorf("action %d: set_trust value must be between %d and %d",
					ai, models.TrustScoreMin, models.TrustScoreMax)
			}
		case models.ActionMessageClient:
			if strings.TrimSpace(action.Message) == "" {
				return fmt.Errorf("action %d: message_client requires a message", ai)
			}
		}
	}
	return nil
}
