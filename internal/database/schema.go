// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package database

import (
	"context"
	"fmt"
)

// schemaStatements create the full schema. All statements are idempotent
// so startup can run them unconditionally.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS servers (
		id         TEXT PRIMARY KEY,
		type       TEXT NOT NULL,
		name       TEXT NOT NULL,
		url        TEXT NOT NULL,
		token      TEXT NOT NULL,
		enabled    BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS server_users (
		id               TEXT PRIMARY KEY,
		server_id        TEXT NOT NULL,
		external_user_id TEXT NOT NULL,
		username         TEXT NOT NULL,
		trust_score      INTEGER NOT NULL DEFAULT 100,
		created_at       TIMESTAMP NOT NULL,
		last_activity_at TIMESTAMP,
		UNIQUE (server_id, external_user_id)
	)`,

	`CREATE TABLE IF NOT EXISTS sessions (
		id                 TEXT PRIMARY KEY,
		server_id          TEXT NOT NULL,
		server_user_id     TEXT NOT NULL,
		session_key        TEXT NOT NULL,
		state              TEXT NOT NULL,
		media_type         TEXT NOT NULL DEFAULT '',
		library_id         TEXT NOT NULL DEFAULT '',
		title              TEXT NOT NULL DEFAULT '',
		parent_title       TEXT NOT NULL DEFAULT '',
		grandparent_title  TEXT NOT NULL DEFAULT '',
		year               INTEGER NOT NULL DEFAULT 0,
		started_at         TIMESTAMP NOT NULL,
		stopped_at         TIMESTAMP,
		duration_ms        BIGINT,
		total_duration_ms  BIGINT NOT NULL DEFAULT 0,
		progress_ms        BIGINT NOT NULL DEFAULT 0,
		last_paused_at     TIMESTAMP,
		paused_duration_ms BIGINT NOT NULL DEFAULT 0,
		watched            BOOLEAN NOT NULL DEFAULT false,
		ip_address         TEXT NOT NULL DEFAULT '',
		geo_city           TEXT NOT NULL DEFAULT '',
		geo_region         TEXT NOT NULL DEFAULT '',
		geo_country        TEXT NOT NULL DEFAULT '',
		geo_continent      TEXT NOT NULL DEFAULT '',
		geo_postal         TEXT NOT NULL DEFAULT '',
		geo_latitude       DOUBLE NOT NULL DEFAULT 0,
		geo_longitude      DOUBLE NOT NULL DEFAULT 0,
		geo_asn_number     INTEGER NOT NULL DEFAULT 0,
		geo_asn_org        TEXT NOT NULL DEFAULT '',
		device_id          TEXT NOT NULL DEFAULT '',
		device_name        TEXT NOT NULL DEFAULT '',
		platform           TEXT NOT NULL DEFAULT '',
		product            TEXT NOT NULL DEFAULT '',
		player             TEXT NOT NULL DEFAULT '',
		video_decision     TEXT NOT NULL DEFAULT '',
		audio_decision     TEXT NOT NULL DEFAULT '',
		video_codec        TEXT NOT NULL DEFAULT '',
		audio_codec        TEXT NOT NULL DEFAULT '',
		source_width       INTEGER NOT NULL DEFAULT 0,
		source_height      INTEGER NOT NULL DEFAULT 0,
		output_width       INTEGER NOT NULL DEFAULT 0,
		output_height      INTEGER NOT NULL DEFAULT 0,
		source_bitrate     BIGINT NOT NULL DEFAULT 0,
		stream_bitrate     BIGINT NOT NULL DEFAULT 0,
		last_seen_at       TIMESTAMP NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_sessions_server_key ON sessions (server_id, session_key)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_user_started ON sessions (server_user_id, started_at)`,

	`CREATE TABLE IF NOT EXISTS rules (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		server_id  TEXT,
		is_active  BOOLEAN NOT NULL DEFAULT true,
		conditions TEXT NOT NULL,
		actions    TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS violations (
		id              TEXT PRIMARY KEY,
		rule_id         TEXT NOT NULL,
		server_user_id  TEXT NOT NULL,
		session_id      TEXT NOT NULL,
		severity        TEXT NOT NULL,
		data            TEXT NOT NULL DEFAULT '{}',
		created_at      TIMESTAMP NOT NULL,
		acknowledged_at TIMESTAMP
	)`,

	`CREATE INDEX IF NOT EXISTS idx_violations_user ON violations (server_user_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS termination_logs (
		id             TEXT PRIMARY KEY,
		session_id     TEXT NOT NULL,
		server_id      TEXT NOT NULL,
		session_key    TEXT NOT NULL,
		trigger_type   TEXT NOT NULL,
		rule_id        TEXT,
		success        BOOLEAN NOT NULL,
		failure_reason TEXT NOT NULL DEFAULT '',
		created_at     TIMESTAMP NOT NULL
	)`,
}

func (db *DB) initSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
