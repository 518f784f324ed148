// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package models

import (
	"time"

	"github.com/goccy/go-json"
)

// Severity indicates the severity level of a violation.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Violation records one rule match against one session.
//
// Data carries an action-specific payload; when the rule also applied a
// trust penalty, the payload records the delta so deleting the violation
// can restore it.
type Violation struct {
	ID             string          `json:"id"`
	RuleID         string          `json:"rule_id"`
	ServerUserID   string          `json:"server_user_id"`
	SessionID      string          `json:"session_id"`
	Severity       Severity        `json:"severity"`
	Data           json.RawMessage `json:"data,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	AcknowledgedAt *time.Time      `json:"acknowledged_at,omitempty"`
}

// ViolationData is the canonical shape of Violation.Data.
type ViolationData struct {
	RuleName string `json:"rule_name,omitempty"`
	// TrustDelta is the signed trust-score change this violation caused;
	// negated and re-applied when the violation is deleted.
	TrustDelta int    `json:"trust_delta,omitempty"`
	Summary    string `json:"summary,omitempty"`
}

// TerminationTrigger records why a stream was killed.
type TerminationTrigger string

const (
	TriggerRule   TerminationTrigger = "rule"
	TriggerManual TerminationTrigger = "manual"
)

// TerminationLog records one kill-stream attempt, successful or not.
type TerminationLog struct {
	ID            string             `json:"id"`
	SessionID     string             `json:"session_id"`
	ServerID      string             `json:"server_id"`
	SessionKey    string             `json:"session_key"`
	Trigger       TerminationTrigger `json:"trigger"`
	RuleID        *string            `json:"rule_id,omitempty"`
	Success       bool               `json:"success"`
	FailureReason string             `json:"failure_reason,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
}
