// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/streamwarden/streamwarden/internal/models"
)

const sessionColumns = `id, server_id, server_user_id, session_key, state,
	media_type, library_id, title, parent_title, grandparent_title, year,
	started_at, stopped_at, duration_ms, total_duration_ms, progress_ms,
	last_paused_at, paused_duration_ms, watched,
	ip_address, geo_city, geo_region, geo_country, geo_continent, geo_postal,
	geo_latitude, geo_longitude, geo_asn_number, geo_asn_org,
	device_id, device_name, platform, product, player,
	video_decision, audio_decision, video_codec, audio_codec,
	source_width, source_height, output_width, output_height,
	source_bitrate, stream_bitrate, last_seen_at`

// InsertSession stores a new session row.
func (db *DB) InsertSession(ctx context.Context, s *models.Session) error {
	query := `INSERT INTO sessions (` + sessionColumns + `) VALUES (
		?, ?, ?, ?, ?,
		?, ?, ?, ?, ?, ?,
		?, ?, ?, ?, ?,
		?, ?, ?,
		?, ?, ?, ?, ?, ?,
		?, ?, ?, ?,
		?, ?, ?, ?, ?,
		?, ?, ?, ?,
		?, ?, ?, ?,
		?, ?, ?)`

	_, err := db.conn.ExecContext(ctx, query,
		s.ID, s.ServerID, s.ServerUserID, s.SessionKey, string(s.State),
		s.MediaType, s.LibraryID, s.Title, s.ParentTitle, s.GrandparentTitle, s.Year,
		s.StartedAt, s.StoppedAt, s.DurationMs, s.TotalDurationMs, s.ProgressMs,
		s.LastPausedAt, s.PausedDurationMs, s.Watched,
		s.IPAddress, s.Geo.City, s.Geo.Region, s.Geo.Country, s.Geo.Continent, s.Geo.Postal,
		s.Geo.Latitude, s.Geo.Longitude, s.Geo.ASNNumber, s.Geo.ASNOrganization,
		s.DeviceID, s.DeviceName, s.Platform, s.Product, s.Player,
		string(s.Stream.VideoDecision), string(s.Stream.AudioDecision), s.Stream.VideoCodec, s.Stream.AudioCodec,
		s.Stream.SourceWidth, s.Stream.SourceHeight, s.Stream.OutputWidth, s.Stream.OutputHeight,
		s.Stream.SourceBitrate, s.Stream.StreamBitrate, s.LastSeenAt,
	)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", s.ID, err)
	}
	return nil
}

// UpdateSession overwrites the mutable fields of an active session.
func (db *DB) UpdateSession(ctx context.Context, s *models.Session) error {
	query := `UPDATE sessions SET
		state = ?, progress_ms = ?, total_duration_ms = ?,
		last_paused_at = ?, paused_duration_ms = ?, watched = ?,
		ip_address = ?, geo_city = ?, geo_region = ?, geo_country = ?,
		geo_continent = ?, geo_postal = ?, geo_latitude = ?, geo_longitude = ?,
		geo_asn_number = ?, geo_asn_org = ?,
		stream_bitrate = ?, last_seen_at = ?
	WHERE id = ?`

	_, err := db.conn.ExecContext(ctx, query,
		string(s.State), s.ProgressMs, s.TotalDurationMs,
		s.LastPausedAt, s.PausedDurationMs, s.Watched,
		s.IPAddress, s.Geo.City, s.Geo.Region, s.Geo.Country,
		s.Geo.Continent, s.Geo.Postal, s.Geo.Latitude, s.Geo.Longitude,
		s.Geo.ASNNumber, s.Geo.ASNOrganization,
		s.Stream.StreamBitrate, s.LastSeenAt,
		s.ID,
	)
	if err != nil {
		return fmt.Errorf("update session %s: %w", s.ID, err)
	}
	return nil
}

// StopSession finalizes a session conditionally: the WHERE clause only
// matches while the row is still active, so a concurrent duplicate stop
// sees zero rows affected and reports false instead of double-processing.
func (db *DB) StopSession(ctx context.Context, sessionID string, stoppedAt time.Time, durationMs int64, watched bool) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE sessions SET state = ?, stopped_at = ?, duration_ms = ?, watched = ?
		 WHERE id = ? AND stopped_at IS NULL`,
		string(models.StateStopped), stoppedAt, durationMs, watched, sessionID,
	)
	if err != nil {
		return false, fmt.Errorf("stop session %s: %w", sessionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("stop session %s rows: %w", sessionID, err)
	}
	return n > 0, nil
}

// GetActiveSessionsByKey returns every active row for a server's session
// key, oldest first.
func (db *DB) GetActiveSessionsByKey(ctx context.Context, serverID, sessionKey string) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions
		WHERE server_id = ? AND session_key = ? AND stopped_at IS NULL
		ORDER BY started_at`
	return db.querySessions(ctx, query, serverID, sessionKey)
}

// GetActiveSessions returns every active session across all servers.
func (db *DB) GetActiveSessions(ctx context.Context) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions
		WHERE stopped_at IS NULL ORDER BY started_at`
	return db.querySessions(ctx, query)
}

// GetActiveSessionsByServer returns the active sessions on one server.
func (db *DB) GetActiveSessionsByServer(ctx context.Context, serverID string) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions
		WHERE server_id = ? AND stopped_at IS NULL ORDER BY started_at`
	return db.querySessions(ctx, query, serverID)
}

// GetRecentSessions returns a user's sessions started since the cutoff,
// newest first, active and stopped alike.
func (db *DB) GetRecentSessions(ctx context.Context, serverUserID string, since time.Time) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions
		WHERE server_user_id = ? AND started_at >= ?
		ORDER BY started_at DESC`
	return db.querySessions(ctx, query, serverUserID, since)
}

// GetStaleSessions returns active sessions not seen since the cutoff,
// candidates for the staleness sweeper.
func (db *DB) GetStaleSessions(ctx context.Context, lastSeenBefore time.Time) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions
		WHERE stopped_at IS NULL AND last_seen_at < ?
		ORDER BY last_seen_at`
	return db.querySessions(ctx, query, lastSeenBefore)
}

// GetSession returns one session by ID, or nil when unknown.
func (db *DB) GetSession(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = ?`
	sessions, err := db.querySessions(ctx, query, id)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return sessions[0], nil
}

// ListSessions returns sessions newest first with limit/offset paging.
func (db *DB) ListSessions(ctx context.Context, limit, offset int) ([]*models.Session, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + sessionColumns + ` FROM sessions
		ORDER BY started_at DESC LIMIT ? OFFSET ?`
	return db.querySessions(ctx, query, limit, offset)
}

func (db *DB) querySessions(ctx context.Context, query string, args ...any) ([]*models.Session, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

func scanSession(rows *sql.Rows) (*models.Session, error) {
	var (
		s             models.Session
		state         string
		stoppedAt     sql.NullTime
		durationMs    sql.NullInt64
		lastPausedAt  sql.NullTime
		videoDecision string
		audioDecision string
	)

	err := rows.Scan(
		&s.ID, &s.ServerID, &s.ServerUserID, &s.SessionKey, &state,
		&s.MediaType, &s.LibraryID, &s.Title, &s.ParentTitle, &s.GrandparentTitle, &s.Year,
		&s.StartedAt, &stoppedAt, &durationMs, &s.TotalDurationMs, &s.ProgressMs,
		&lastPausedAt, &s.PausedDurationMs, &s.Watched,
		&s.IPAddress, &s.Geo.City, &s.Geo.Region, &s.Geo.Country, &s.Geo.Continent, &s.Geo.Postal,
		&s.Geo.Latitude, &s.Geo.Longitude, &s.Geo.ASNNumber, &s.Geo.ASNOrganization,
		&s.DeviceID, &s.DeviceName, &s.Platform, &s.Product, &s.Player,
		&videoDecision, &audioDecision, &s.Stream.VideoCodec, &s.Stream.AudioCodec,
		&s.Stream.SourceWidth, &s.Stream.SourceHeight, &s.Stream.OutputWidth, &s.Stream.OutputHeight,
		&s.Stream.SourceBitrate, &s.Stream.StreamBitrate, &s.LastSeenAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}

	s.State = models.SessionState(state)
	s.Stream.VideoDecision = models.TranscodeDecision(videoDecision)
	s.Stream.AudioDecision = models.TranscodeDecision(audioDecision)
	if stoppedAt.Valid {
		t := stoppedAt.Time
		s.StoppedAt = &t
	}
	if durationMs.Valid {
		d := durationMs.Int64
		s.DurationMs = &d
	}
	if lastPausedAt.Valid {
		t := lastPausedAt.Time
		s.LastPausedAt = &t
	}
	return &s, nil
}
