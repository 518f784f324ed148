// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

// Package notifications queues and dispatches user-facing notifications.
//
// Producers enqueue typed notifications onto the event bus; the
// dispatcher consumes them, resolves delivery channels, and fans out to
// registered agents (Discord webhook, custom webhook, push).
//
// Channel resolution has two paths: settings-driven routing by
// notification type, and the rule bypass — rule-triggered notifications
// carry `ruleNotification: true` plus an explicit channels array and are
// delivered to exactly those channels, ignoring the routing table.
package notifications
