// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package rules

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/streamwarden/streamwarden/internal/models"
)

// conditionNumber decodes the condition value as a single number.
func conditionNumber(cond *models.Condition) (float64, error) {
	var n float64
	if err := json.Unmarshal(cond.Value, &n); err != nil {
		return 0, fmt.Errorf("condition value is not a number: %w", err)
	}
	return n, nil
}

// conditionNumbers decodes the condition value as a list of numbers,
// accepting a bare number as a one-element list.
func conditionNumbers(cond *models.Condition) ([]float64, error) {
	var list []float64
	if err := json.Unmarshal(cond.Value, &list); err == nil {
		return list, nil
	}
	n, err := conditionNumber(cond)
	if err != nil {
		return nil, err
	}
	return []float64{n}, nil
}

// conditionString decodes the condition value as a single string.
func conditionString(cond *models.Condition) (string, error) {
	var s string
	if err := json.Unmarshal(cond.Value, &s); err != nil {
		return "", fmt.Errorf("condition value is not a string: %w", err)
	}
	return s, nil
}

// conditionStrings decodes the condition value as a list of strings,
// accepting a bare string as a one-element list.
func conditionStrings(cond *models.Condition) ([]string, error) {
	var list []string
	if err := json.Unmarshal(cond.Value, &list); err == nil {
		return list, nil
	}
	s, err := conditionString(cond)
	if err != nil {
		return nil, err
	}
	return []string{s}, nil
}

// conditionBool decodes the condition value as a boolean.
func conditionBool(cond *models.Condition) (bool, error) {
	var b bool
	if err := json.Unmarshal(cond.Value, &b); err != nil {
		return false, fmt.Errorf("condition value is not a boolean: %w", err)
	}
	return b, nil
}

// compareNumber applies a numeric operator. in/not_in test list membership;
// the remaining operators compare against a single threshold. Infinity on
// the actual side behaves naturally (Inf > threshold is always true), which
// is exactly the travel-speed simultaneous-location semantic.
func compareNumber(cond *models.Condition, actual float64) (bool, error) {
	switch cond.Operator {
	case models.OpIn, models.OpNotIn:
		list, err := conditionNumbers(cond)
		if err != nil {
			return false, err
		}
		found := false
		for _, v := range list {
			if v == actual {
				found = true
				break
			}
		}
		if cond.Operator == models.OpIn {
			return found, nil
		}
		return !found, nil
	}

	threshold, err := conditionNumber(cond)
	if err != nil {
		return false, err
	}
	switch cond.Operator {
	case models.OpEq:
		return actual == threshold, nil
	case models.OpGt:
		return actual > threshold, nil
	case models.OpGte:
		return actual >= threshold, nil
	case models.OpLt:
		return actual < threshold, nil
	case models.OpLte:
		return actual <= threshold, nil
	default:
		return false, fmt.Errorf("operator %q not valid for numeric comparison", cond.Operator)
	}
}

// compareString applies a string operator. Matching is case-insensitive
// throughout; media servers are not consistent about casing.
func compareString(cond *models.Condition, actual string) (bool, error) {
	switch cond.Operator {
	case models.OpEq:
		want, err := conditionString(cond)
		if err != nil {
			return false, err
		}
		return strings.EqualFold(actual, want), nil
	case models.OpContains:
		want, err := conditionString(cond)
		if err != nil {
			return false, err
		}
		return strings.Contains(strings.ToLower(actual), strings.ToLower(want)), nil
	case models.OpIn, models.OpNotIn:
		list, err := conditionStrings(cond)
		if err != nil {
			return false, err
		}
		found := false
		for _, v := range list {
			if strings.EqualFold(actual, v) {
				found = true
				break
			}
		}
		if cond.Operator == models.OpIn {
			return found, nil
		}
		return !found, nil
	default:
		return false, fmt.Errorf("operator %q not valid for string comparison", cond.Operator)
	}
}
