// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package notifications

import (
	"context"
	"fmt"
)

// PushSender is the external push-notification delivery contract
// (mobile/browser push transports live outside this repository).
type PushSender interface {
	Push(ctx context.Context, title, message string) error
}

// PushAgent adapts a PushSender as a notification channel.
type PushAgent struct {
	sender PushSender
}

// NewPushAgent wraps a push transport. A nil sender yields a disabled
// agent, which keeps wiring simple when push is unconfigured.
func NewPushAgent(sender PushSender) *PushAgent {
	return &PushAgent{sender: sender}
}

// Name returns the channel identifier.
func (a *PushAgent) Name() string { return "push" }

// Enabled reports whether a transport is wired.
func (a *PushAgent) Enabled() bool { return a.sender != nil }

// Send delivers a summarized notification through the push transport.
func (a *PushAgent) Send(ctx context.Context, n *Notification) error {
	title, message := summarize(n)
	if err := a.sender.Push(ctx, title, message); err != nil {
		return fmt.Errorf("push delivery: %w", err)
	}
	return nil
}
