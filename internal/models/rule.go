// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package models

import (
	"time"

	"github.com/goccy/go-json"
)

// ConditionField selects which evaluator a condition dispatches to.
// The set is closed: the rules engine matches it exhaustively, so adding a
// field here without adding an evaluator fails at evaluation registration.
type ConditionField string

const (
	FieldConcurrentStreams       ConditionField = "concurrent_streams"
	FieldActiveSessionDistanceKm ConditionField = "active_session_distance_km"
	FieldTravelSpeedKmh          ConditionField = "travel_speed_kmh"
	FieldUniqueIPsInWindow       ConditionField = "unique_ips_in_window"
	FieldUniqueDevicesInWindow   ConditionField = "unique_devices_in_window"
	FieldInactiveDays            ConditionField = "inactive_days"
	FieldSourceResolution        ConditionField = "source_resolution"
	FieldOutputResolution        ConditionField = "output_resolution"
	FieldIsTranscoding           ConditionField = "is_transcoding"
	FieldIsTranscodeDowngrade    ConditionField = "is_transcode_downgrade"
	FieldSourceBitrateMbps       ConditionField = "source_bitrate_mbps"
	FieldUserID                  ConditionField = "user_id"
	FieldServerID                ConditionField = "server_id"
	FieldMediaType               ConditionField = "media_type"
	FieldLibraryID               ConditionField = "library_id"
	FieldTrustScore              ConditionField = "trust_score"
	FieldAccountAgeDays          ConditionField = "account_age_days"
	FieldDeviceType              ConditionField = "device_type"
	FieldClientName              ConditionField = "client_name"
	FieldPlatform                ConditionField = "platform"
	FieldIsLocalNetwork          ConditionField = "is_local_network"
	FieldCountry                 ConditionField = "country"
	FieldIPInRange               ConditionField = "ip_in_range"
)

// Operator is a condition comparison operator.
type Operator string

const (
	OpEq       Operator = "eq"
	OpGt       Operator = "gt"
	OpGte      Operator = "gte"
	OpLt       Operator = "lt"
	OpLte      Operator = "lte"
	OpIn       Operator = "in"
	OpNotIn    Operator = "not_in"
	OpContains Operator = "contains"
)

// ConditionParams carries auxiliary evaluator configuration.
type ConditionParams struct {
	// WindowHours bounds the recent-session window for velocity and
	// uniqueness evaluators. Defaults to 24 when unset.
	WindowHours *float64 `json:"window_hours,omitempty"`
}

// Condition compares one session/user fact against a value.
// Value deserializes lazily because its type depends on the field and
// operator (number, string, bool, or list).
type Condition struct {
	Field    ConditionField  `json:"field"`
	Operator Operator        `json:"operator"`
	Value    json.RawMessage `json:"value"`
	Params   ConditionParams `json:"params,omitempty"`
}

// ConditionGroup is a conjunction: every condition in the group must hold.
type ConditionGroup struct {
	Conditions []Condition `json:"conditions"`
}

// RuleConditions is a disjunction of groups: the rule matches when any
// group's conditions all hold. Zero groups (or a group with zero
// conditions) never matches.
type RuleConditions struct {
	Groups []ConditionGroup `json:"groups"`
}

// ActionType identifies a rule action variant.
type ActionType string

const (
	ActionCreateViolation ActionType = "create_violation"
	ActionLogOnly         ActionType = "log_only"
	ActionNotify          ActionType = "notify"
	ActionAdjustTrust     ActionType = "adjust_trust"
	ActionSetTrust        ActionType = "set_trust"
	ActionResetTrust      ActionType = "reset_trust"
	ActionKillStream      ActionType = "kill_stream"
	ActionMessageClient   ActionType = "message_client"
)

// ActionTarget selects which of a user's active sessions an action applies to.
type ActionTarget string

const (
	TargetTriggering   ActionTarget = "triggering"
	TargetOldest       ActionTarget = "oldest"
	TargetNewest       ActionTarget = "newest"
	TargetAllUser      ActionTarget = "all_user"
	TargetAllExceptOne ActionTarget = "all_except_one"
)

// Action is a tagged variant; Type selects which of the remaining fields
// are meaningful. An empty Target means TargetTriggering.
type Action struct {
	Type   ActionType   `json:"type"`
	Target ActionTarget `json:"target,omitempty"`

	// Severity for create_violation.
	Severity Severity `json:"severity,omitempty"`

	// Channels for notify: delivery agents used directly, bypassing the
	// settings-driven routing table.
	Channels      []string `json:"channels,omitempty"`
	CustomTitle   string   `json:"custom_title,omitempty"`
	CustomMessage string   `json:"custom_message,omitempty"`

	// Delta for adjust_trust (signed), Value for set_trust.
	Delta int `json:"delta,omitempty"`
	Value int `json:"value,omitempty"`

	// Message for kill_stream / message_client, shown on the client.
	Message string `json:"message,omitempty"`
}

// EffectiveTarget resolves the default target.
func (a Action) EffectiveTarget() ActionTarget {
	if a.Target == "" {
		return TargetTriggering
	}
	return a.Target
}

// RuleActions wraps the ordered action list of a rule.
type RuleActions struct {
	Actions []Action `json:"actions"`
}

// Rule is a declarative policy evaluated against live session state.
type Rule struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// ServerID scopes the rule to one server; nil means server-agnostic.
	ServerID *string `json:"server_id,omitempty"`

	IsActive   bool           `json:"is_active"`
	Conditions RuleConditions `json:"conditions"`
	Actions    RuleActions    `json:"actions"`
	CreatedAt  time.Time      `json:"created_at"`
}

// AppliesToServer reports whether the rule is in scope for a server.
func (r *Rule) AppliesToServer(serverID string) bool {
	return r.ServerID == nil || *r.ServerID == serverID
}
