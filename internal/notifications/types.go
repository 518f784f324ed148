// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package notifications

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/streamwarden/streamwarden/internal/models"
)

// Type classifies a notification for settings-driven channel routing.
type Type string

const (
	TypeViolation      Type = "violation"
	TypeRuleTriggered  Type = "rule_triggered"
	TypeSessionStopped Type = "session_stopped"
	TypeServerDown     Type = "server_down"
	TypeServerUp       Type = "server_up"
)

// Notification is one queued delivery request. Payload shape depends on
// Type; rule-triggered payloads carry their own channel list and bypass
// settings routing entirely.
type Notification struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	CreatedAt time.Time       `json:"created_at"`
	Payload   json.RawMessage `json:"payload"`
}

// Queue accepts notifications for asynchronous, at-least-once delivery.
type Queue interface {
	Enqueue(ctx context.Context, n *Notification) error
}

// RulePayload is the payload for rule-triggered notifications.
//
// RuleNotification plus a non-empty Channels list marks the bypass path:
// the dispatcher uses those channels directly instead of the
// settings-derived routing table.
type RulePayload struct {
	RuleNotification bool     `json:"ruleNotification"`
	Channels         []string `json:"channels,omitempty"`
	CustomTitle      string   `json:"customTitle,omitempty"`
	CustomMessage    string   `json:"customMessage,omitempty"`

	RuleID       string `json:"rule_id"`
	RuleName     string `json:"rule_name"`
	SessionID    string `json:"session_id"`
	ServerUserID string `json:"server_user_id"`
	MediaTitle   string `json:"media_title,omitempty"`
}

// ViolationPayload is the payload for standard violation notifications,
// routed by settings.
type ViolationPayload struct {
	ViolationID  string          `json:"violation_id"`
	RuleID       string          `json:"rule_id"`
	RuleName     string          `json:"rule_name"`
	Severity     models.Severity `json:"severity"`
	SessionID    string          `json:"session_id"`
	ServerUserID string          `json:"server_user_id"`
	MediaTitle   string          `json:"media_title,omitempty"`
}

// SessionPayload is the payload for session lifecycle notifications.
type SessionPayload struct {
	SessionID    string `json:"session_id"`
	ServerID     string `json:"server_id"`
	ServerUserID string `json:"server_user_id"`
	MediaTitle   string `json:"media_title,omitempty"`
	DurationMs   int64  `json:"duration_ms,omitempty"`
	Watched      bool   `json:"watched,omitempty"`
}

// ServerStatusPayload is the payload for server down/up notifications.
type ServerStatusPayload struct {
	ServerID   string `json:"server_id"`
	ServerName string `json:"server_name,omitempty"`
}

func newNotification(t Type, payload interface{}) *Notification {
	raw, err := json.Marshal(payload)
	if err != nil {
		// Payload types are all package-local structs; a marshal failure
		// is a programming error.
		panic(err)
	}
	return &Notification{
		ID:        uuid.New().String(),
		Type:      t,
		CreatedAt: time.Now().UTC(),
		Payload:   raw,
	}
}

// NewRuleNotification builds a rule-triggered notification carrying the
// bypass marker and the rule's explicit channels.
func NewRuleNotification(rule *models.Rule, session *models.Session, channels []string, customTitle, customMessage string) *Notification {
	return newNotification(TypeRuleTriggered, RulePayload{
		RuleNotification: true,
		Channels:         channels,
		CustomTitle:      customTitle,
		CustomMessage:    customMessage,
		RuleID:           rule.ID,
		RuleName:         rule.Name,
		SessionID:        session.ID,
		ServerUserID:     session.ServerUserID,
		MediaTitle:       session.Title,
	})
}

// NewViolationNotification builds a standard violation notification.
func NewViolationNotification(v *models.Violation, rule *models.Rule, session *models.Session) *Notification {
	return newNotification(TypeViolation, ViolationPayload{
		ViolationID:  v.ID,
		RuleID:       v.RuleID,
		RuleName:     rule.Name,
		Severity:     v.Severity,
		SessionID:    v.SessionID,
		ServerUserID: v.ServerUserID,
		MediaTitle:   session.Title,
	})
}

// NewSessionStoppedNotification builds a session-stopped notification.
func NewSessionStoppedNotification(session *models.Session) *Notification {
	var duration int64
	if session.DurationMs != nil {
		duration = *session.DurationMs
	}
	return NewSessionStoppedWith(session, duration)
}

// NewSessionStoppedWith builds a session-stopped notification with an
// explicit final duration.
func NewSessionStoppedWith(session *models.Session, durationMs int64) *Notification {
	return newNotification(TypeSessionStopped, SessionPayload{
		SessionID:    session.ID,
		ServerID:     session.ServerID,
		ServerUserID: session.ServerUserID,
		MediaTitle:   session.Title,
		DurationMs:   durationMs,
		Watched:      session.Watched,
	})
}

// NewServerStatusNotification builds a server down or up notification.
func NewServerStatusNotification(t Type, serverID, serverName string) *Notification {
	return newNotification(t, ServerStatusPayload{ServerID: serverID, ServerName: serverName})
}
