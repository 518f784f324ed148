// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package metrics

import "strconv"

// Recorder adapts the package-level collectors to the small recorder
// interfaces consumed by the event handler and the rule engine, so
// those packages stay free of a prometheus dependency.
type Recorder struct{}

// EventProcessed counts one successfully handled playback event.
func (Recorder) EventProcessed(eventType string) {
	EventsProcessed.WithLabelValues(eventType).Inc()
}

// EventFailed counts one playback event whose handling failed.
func (Recorder) EventFailed(eventType string) {
	EventsFailed.WithLabelValues(eventType).Inc()
}

// RuleEvaluated counts one rule evaluation.
func (Recorder) RuleEvaluated(ruleID string, matched bool) {
	RulesEvaluated.WithLabelValues(ruleID, strconv.FormatBool(matched)).Inc()
}

// EvaluationError counts one errored rule evaluation.
func (Recorder) EvaluationError(ruleID string) {
	RuleEvaluationErrors.WithLabelValues(ruleID).Inc()
}
