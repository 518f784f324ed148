// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package updater

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/mod/semver"

	"github.com/streamwarden/streamwarden/internal/logging"
)

// Release is one published release of the project.
type Release struct {
	TagName    string `json:"tag_name"`
	Name       string `json:"name"`
	Prerelease bool   `json:"prerelease"`
	Draft      bool   `json:"draft"`
	HTMLURL    string `json:"html_url"`
}

// FindBestUpdate picks the release a deployment at current should move
// to. Stable releases take precedence over prereleases: a newer stable
// wins even when an even newer prerelease exists, a deployment on a
// prerelease is steered to the stable line as soon as one passes it,
// and a stable deployment is never offered a prerelease. Returns nil
// when current is already the best choice.
func FindBestUpdate(current string, releases []Release) *Release {
	current = canonical(current)
	if current == "" {
		return nil
	}

	var bestStable, bestPre *Release
	var bestStableV, bestPreV string
	for i := range releases {
		r := &releases[i]
		if r.Draft {
			continue
		}
		v := canonical(r.TagName)
		if v == "" {
			continue
		}
		if r.Prerelease || semver.Prerelease(v) != "" {
			if bestPre == nil || semver.Compare(v, bestPreV) > 0 {
				bestPre, bestPreV = r, v
			}
			continue
		}
		if bestStable == nil || semver.Compare(v, bestStableV) > 0 {
			bestStable, bestStableV = r, v
		}
	}

	if bestStable != nil && semver.Compare(bestStableV, current) > 0 {
		return bestStable
	}
	// Prereleases are only offered to deployments already on one; a
	// stable deployment waits for the next stable.
	if semver.Prerelease(current) != "" && bestPre != nil && semver.Compare(bestPreV, current) > 0 {
		return bestPre
	}
	return nil
}

// canonical normalizes a tag to semver form ("1.2.3" -> "v1.2.3"),
// returning "" for tags that are not versions.
func canonical(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return ""
	}
	if !strings.HasPrefix(tag, "v") {
		tag = "v" + tag
	}
	if !semver.IsValid(tag) {
		return ""
	}
	return tag
}

// Checker periodically polls the release feed and logs when a newer
// version is available. It never installs anything.
type Checker struct {
	current  string
	endpoint string
	interval time.Duration
	client   *http.Client
}

// DefaultEndpoint is the GitHub releases feed for the project.
const DefaultEndpoint = "https://api.github.com/repos/streamwarden/streamwarden/releases"

// NewChecker creates a release checker. A non-positive interval
// defaults to 24h.
func NewChecker(current, endpoint string, interval time.Duration) *Checker {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Checker{
		current:  current,
		endpoint: endpoint,
		interval: interval,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Serve polls until the context is canceled. It satisfies
// suture.Service; fetch failures are logged and retried next tick.
func (c *Checker) Serve(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.checkOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.checkOnce(ctx)
		}
	}
}

func (c *Checker) checkOnce(ctx context.Context) {
	releases, err := c.fetch(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("release check failed")
		return
	}

	best := FindBestUpdate(c.current, releases)
	if best == nil {
		logging.Debug().Str("current", c.current).Msg("no newer release")
		return
	}
	logging.Info().
		Str("current", c.current).
		Str("available", best.TagName).
		Str("url", best.HTMLURL).
		Msg("newer release available")
}

func (c *Checker) fetch(ctx context.Context) ([]Release, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build release request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch releases: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("release feed returned %d", resp.StatusCode)
	}

	var releases []Release
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&releases); err != nil {
		return nil, fmt.Errorf("decode release feed: %w", err)
	}
	return releases, nil
}
