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
	"time"

	"github.com/goccy/go-json"
)

// WebhookFormat selects the payload shape for custom webhooks.
type WebhookFormat string

const (
	// FormatRaw posts the notification envelope as-is.
	FormatRaw WebhookFormat = "raw"
	// FormatSummary posts a flattened title/message shape for endpoints
	// that do not understand the envelope.
	FormatSummary WebhookFormat = "summary"
)

// WebhookAgent delivers notifications to a custom HTTP endpoint using the
// configured payload format.
type WebhookAgent struct {
	url     string
	format  WebhookFormat
	headers map[string]string
	client  *http.Client
}

// WebhookConfig configures the custom webhook agent.
type WebhookConfig struct {
	URL     string            `json:"url" koanf:"url"`
	Format  WebhookFormat     `json:"format" koanf:"format"`
	Headers map[string]string `json:"headers,omitempty" koanf:"headers"`
}

// NewWebhookAgent creates a custom webhook agent.
func NewWebhookAgent(cfg WebhookConfig) *WebhookAgent {
	format := cfg.Format
	if format == "" {
		format = FormatRaw
	}
	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	return &WebhookAgent{
		url:     cfg.URL,
		format:  format,
		headers: headers,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Name returns the channel identifier.
func (a *WebhookAgent) Name() string { return "webhook" }

// Enabled reports whether an endpoint is configured.
func (a *WebhookAgent) Enabled() bool { return a.url != "" }

type webhookSummaryPayload struct {
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// Send posts the notification in the configured format.
func (a *WebhookAgent) Send(ctx context.Context, n *Notification) error {
	var body []byte
	var err error

	switch a.format {
	case FormatSummary:
		title, message := summarize(n)
		body, err = json.Marshal(webhookSummaryPayload{
			Title:     title,
			Message:   message,
			Type:      n.Type,
			Timestamp: n.CreatedAt,
			Source:    "streamwarden",
		})
	default:
		body, err = json.Marshal(n)
	}
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range a.headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
