// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package sync

import (
	"net/http"
	"strings"
	"time"

	"github.com/streamwarden/streamwarden/internal/models"
)

// EmbyClient talks to an Emby server. Emby's session API is
// wire-compatible with Jellyfin's (Jellyfin forked from Emby), so the
// client shares the implementation and differs only in its reported type.
type EmbyClient struct {
	*JellyfinClient
}

// NewEmbyClient creates a client for one Emby server.
func NewEmbyClient(serverID, baseURL, apiKey string) *EmbyClient {
	inner := &JellyfinClient{
		serverID:   serverID,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		serverType: models.ServerTypeEmby,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	return &EmbyClient{JellyfinClient: inner}
}

// NewClient constructs the right vendor client for a configured server.
func NewClient(server *models.Server) Client {
	switch server.Type {
	case models.ServerTypeJellyfin:
		return NewJellyfinClient(server.ID, server.URL, server.Token)
	case models.ServerTypeEmby:
		return NewEmbyClient(server.ID, server.URL, server.Token)
	default:
		return NewPlexClient(server.ID, server.URL, server.Token)
	}
}
