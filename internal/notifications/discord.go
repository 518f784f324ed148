// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package notifications

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// DiscordAgent delivers notifications to a Discord webhook as embeds.
type DiscordAgent struct {
	webhookURL string
	client     *http.Client

	mu       sync.Mutex
	lastSent time.Time
	minGap   time.Duration
}

// DiscordConfig configures the Discord agent.
type DiscordConfig struct {
	WebhookURL  string `json:"webhook_url" koanf:"webhook_url"`
	RateLimitMs int    `json:"rate_limit_ms" koanf:"rate_limit_ms"`
}

// NewDiscordAgent creates a Discord webhook agent.
func NewDiscordAgent(cfg DiscordConfig) *DiscordAgent {
	minGap := time.Duration(cfg.RateLimitMs) * time.Millisecond
	if minGap == 0 {
		minGap = time.Second
	}
	return &DiscordAgent{
		webhookURL: cfg.WebhookURL,
		minGap:     minGap,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Name returns the channel identifier.
func (a *DiscordAgent) Name() string { return "discord" }

// Enabled reports whether a webhook URL is configured.
func (a *DiscordAgent) Enabled() bool { return a.webhookURL != "" }

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Color       int    `json:"color"`
	Timestamp   string `json:"timestamp"`
}

type discordWebhookPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

// Send posts the notification to the Discord webhook, honoring the
// per-agent minimum gap between messages.
func (a *DiscordAgent) Send(ctx context.Context, n *Notification) error {
	if err := a.throttle(ctx); err != nil {
		return err
	}

	title, description := summarize(n)
	payload := discordWebhookPayload{
		Embeds: []discordEmbed{{
			Title:       title,
			Description: description,
			Color:       discordColor(n.Type),
			Timestamp:   n.CreatedAt.Format(time.RFC3339),
		}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to discord: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("discord returned status %d", resp.StatusCode)
	}
	return nil
}

func (a *DiscordAgent) throttle(ctx context.Context) error {
	a.mu.Lock()
	wait := a.minGap - time.Since(a.lastSent)
	a.lastSent = time.Now().Add(wait)
	a.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func discordColor(t Type) int {
	switch t {
	case TypeViolation, TypeServerDown:
		return 0xE74C3C // red
	case TypeServerUp:
		return 0x2ECC71 // green
	default:
		return 0x3498DB // blue
	}
}

// summarize renders a human-readable title and body for any notification
// payload. Rule payloads prefer their custom title/message when present.
func summarize(n *Notification) (title, description string) {
	switch n.Type {
	case TypeRuleTriggered:
		var p RulePayload
		if err := json.Unmarshal(n.Payload, &p); err == nil {
			title = p.CustomTitle
			if title == "" {
				title = fmt.Sprintf("Rule triggered: %s", p.RuleName)
			}
			description = p.CustomMessage
			if description == "" && p.MediaTitle != "" {
				description = fmt.Sprintf("While playing %q", p.MediaTitle)
			}
			return title, description
		}
	case TypeViolation:
		var p ViolationPayload
		if err := json.Unmarshal(n.Payload, &p); err == nil {
			return fmt.Sprintf("Policy violation: %s", p.RuleName),
				fmt.Sprintf("Severity %s while playing %q", p.Severity, p.MediaTitle)
		}
	case TypeSessionStopped:
		var p SessionPayload
		if err := json.Unmarshal(n.Payload, &p); err == nil {
			return "Playback stopped", fmt.Sprintf("%q after %s", p.MediaTitle, (time.Duration(p.DurationMs) * time.Millisecond).Round(time.Second))
		}
	case TypeServerDown:
		var p ServerStatusPayload
		if err := json.Unmarshal(n.Payload, &p); err == nil {
			return "Media server unreachable", fmt.Sprintf("Server %s stopped responding", serverLabel(p))
		}
	case TypeServerUp:
		var p ServerStatusPayload
		if err := json.Unmarshal(n.Payload, &p); err == nil {
			return "Media server recovered", fmt.Sprintf("Server %s is reachable again", serverLabel(p))
		}
	}
	return string(n.Type), ""
}

func serverLabel(p ServerStatusPayload) string {
	if p.ServerName != "" {
		return p.ServerName
	}
	return p.ServerID
}
