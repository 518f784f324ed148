// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package models

import "time"

// ServerType identifies a media-server vendor.
type ServerType string

const (
	ServerTypePlex     ServerType = "plex"
	ServerTypeJellyfin ServerType = "jellyfin"
	ServerTypeEmby     ServerType = "emby"
)

// Server is one configured media-server instance.
type Server struct {
	ID        string     `json:"id"`
	Type      ServerType `json:"type"`
	Name      string     `json:"name"`
	URL       string     `json:"url"`
	Token     string     `json:"-"`
	Enabled   bool       `json:"enabled"`
	CreatedAt time.Time  `json:"created_at"`
}

// Trust score bounds. Scores are clamped to this range on every mutation.
const (
	TrustScoreMin     = 0
	TrustScoreMax     = 100
	TrustScoreDefault = 100
)

// ClampTrustScore clamps a score into the valid range.
func ClampTrustScore(score int) int {
	if score < TrustScoreMin {
		return TrustScoreMin
	}
	if score > TrustScoreMax {
		return TrustScoreMax
	}
	return score
}

// ServerUser is a media-server account as seen by one server.
type ServerUser struct {
	ID             string     `json:"id"`
	ServerID       string     `json:"server_id"`
	ExternalUserID string     `json:"external_user_id"`
	Username       string     `json:"username"`
	TrustScore     int        `json:"trust_score"`
	CreatedAt      time.Time  `json:"created_at"`
	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`
}

// AccountAgeDays returns whole days since the account was first seen.
func (u *ServerUser) AccountAgeDays(now time.Time) float64 {
	return now.Sub(u.CreatedAt).Hours() / 24
}

// InactiveDays returns whole days since last activity, falling back to the
// account creation date when the user has never been active.
func (u *ServerUser) InactiveDays(now time.Time) float64 {
	ref := u.CreatedAt
	if u.LastActivityAt != nil {
		ref = *u.LastActivityAt
	}
	return now.Sub(ref).Hours() / 24
}
