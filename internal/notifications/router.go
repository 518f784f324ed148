// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package notifications

import (
	"github.com/goccy/go-json"
)

// RoutingTable maps notification types to the channels that should
// receive them. It is settings-derived and applies to every notification
// except rule-triggered ones carrying their own channel list.
type RoutingTable map[Type][]string

// DefaultRoutingTable routes violations and server status changes to
// every configured channel and suppresses the chattier session events.
func DefaultRoutingTable() RoutingTable {
	return RoutingTable{
		TypeViolation:  {"discord", "webhook", "push"},
		TypeServerDown: {"discord", "webhook", "push"},
		TypeServerUp:   {"discord", "webhook", "push"},
	}
}

// ResolveChannels returns the delivery channels for a notification.
//
// Rule-triggered notifications whose payload carries the ruleNotification
// marker and an explicit channels array bypass the routing table; the
// rule's channels are used verbatim. Everything else routes by type.
func ResolveChannels(table RoutingTable, n *Notification) []string {
	if n.Type == TypeRuleTriggered {
		var p RulePayload
		if err := json.Unmarshal(n.Payload, &p); err == nil && p.RuleNotification && len(p.Channels) > 0 {
			return p.Channels
		}
	}
	return table[n.Type]
}
