// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/streamwarden/streamwarden/internal/models"
)

// UpsertServerUser creates the user on first sight and refreshes the
// username afterwards. Trust score and creation date are never touched
// by the upsert.
func (db *DB) UpsertServerUser(ctx context.Context, u *models.ServerUser) error {
	query := `INSERT INTO server_users (id, server_id, external_user_id, username, trust_score, created_at, last_activity_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (server_id, external_user_id) DO UPDATE SET username = excluded.username`

	trust := u.TrustScore
	if trust == 0 {
		trust = models.TrustScoreDefault
	}
	created := u.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	if _, err := db.conn.ExecContext(ctx, query,
		u.ID, u.ServerID, u.ExternalUserID, u.Username, trust, created, u.LastActivityAt); err != nil {
		return fmt.Errorf("upsert server user %s: %w", u.ID, err)
	}
	return nil
}

// GetServerUser returns one user by ID, or nil when unknown.
func (db *DB) GetServerUser(ctx context.Context, id string) (*models.ServerUser, error) {
	return db.queryUser(ctx,
		`SELECT id, server_id, external_user_id, username, trust_score, created_at, last_activity_at
		 FROM server_users WHERE id = ?`, id)
}

// GetServerUserByExternalID resolves a vendor-side user ID to our row.
func (db *DB) GetServerUserByExternalID(ctx context.Context, serverID, externalUserID string) (*models.ServerUser, error) {
	return db.queryUser(ctx,
		`SELECT id, server_id, external_user_id, username, trust_score, created_at, last_activity_at
		 FROM server_users WHERE server_id = ? AND external_user_id = ?`, serverID, externalUserID)
}

func (db *DB) queryUser(ctx context.Context, query string, args ...any) (*models.ServerUser, error) {
	var (
		u            models.ServerUser
		lastActivity sql.NullTime
	)
	err := db.conn.QueryRowContext(ctx, query, args...).Scan(
		&u.ID, &u.ServerID, &u.ExternalUserID, &u.Username, &u.TrustScore, &u.CreatedAt, &lastActivity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query server user: %w", err)
	}
	if lastActivity.Valid {
		t := lastActivity.Time
		u.LastActivityAt = &t
	}
	return &u, nil
}

// ListServerUsers returns every known user on a server.
func (db *DB) ListServerUsers(ctx context.Context, serverID string) ([]*models.ServerUser, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, server_id, external_user_id, username, trust_score, created_at, last_activity_at
		 FROM server_users WHERE server_id = ? ORDER BY username`, serverID)
	if err != nil {
		return nil, fmt.Errorf("list server users: %w", err)
	}
	defer rows.Close()

	var out []*models.ServerUser
	for rows.Next() {
		var (
			u            models.ServerUser
			lastActivity sql.NullTime
		)
		if err := rows.Scan(&u.ID, &u.ServerID, &u.ExternalUserID, &u.Username, &u.TrustScore, &u.CreatedAt, &lastActivity); err != nil {
			return nil, fmt.Errorf("scan server user: %w", err)
		}
		if lastActivity.Valid {
			t := lastActivity.Time
			u.LastActivityAt = &t
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}

// TouchUserActivity refreshes the user's last-activity timestamp.
func (db *DB) TouchUserActivity(ctx context.Context, id string, at time.Time) error {
	if _, err := db.conn.ExecContext(ctx,
		`UPDATE server_users SET last_activity_at = ? WHERE id = ?`, at, id); err != nil {
		return fmt.Errorf("touch user activity %s: %w", id, err)
	}
	return nil
}

// AdjustTrustScore applies a signed delta with clamping to the valid
// range and returns the delta actually applied, which violations record
// so a later delete can compensate exactly.
func (db *DB) AdjustTrustScore(ctx context.Context, serverUserID string, delta int) (int, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin trust adjust: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current int
	err = tx.QueryRowContext(ctx,
		`SELECT trust_score FROM server_users WHERE id = ?`, serverUserID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("server user %s not found", serverUserID)
	}
	if err != nil {
		return 0, fmt.Errorf("read trust score: %w", err)
	}

	next := models.ClampTrustScore(current + delta)
	if _, err := tx.ExecContext(ctx,
		`UPDATE server_users SET trust_score = ? WHERE id = ?`, next, serverUserID); err != nil {
		return 0, fmt.Errorf("write trust score: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit trust adjust: %w", err)
	}
	return next - current, nil
}

// SetTrustScore assigns the score directly, clamped.
func (db *DB) SetTrustScore(ctx context.Context, serverUserID string, value int) error {
	if _, err := db.conn.ExecContext(ctx,
		`UPDATE server_users SET trust_score = ? WHERE id = ?`,
		models.ClampTrustScore(value), serverUserID); err != nil {
		return fmt.Errorf("set trust score %s: %w", serverUserID, err)
	}
	return nil
}

// ResetTrustScore restores the default baseline.
func (db *DB) ResetTrustScore(ctx context.Context, serverUserID string) error {
	if _, err := db.conn.ExecContext(ctx,
		`UPDATE server_users SET trust_score = ? WHERE id = ?`,
		models.TrustScoreDefault, serverUserID); err != nil {
		return fmt.Errorf("reset trust score %s: %w", serverUserID, err)
	}
	return nil
}

// RecoverTrustScores raises every below-baseline score by the given
// amount, capped at the maximum. Run daily by the trust recovery job.
func (db *DB) RecoverTrustScores(ctx context.Context, points int) (int64, error) {
	if points <= 0 {
		return 0, nil
	}
	res, err := db.conn.ExecContext(ctx,
		`UPDATE server_users SET trust_score = LEAST(?, trust_score + ?)
		 WHERE trust_score < ?`,
		models.TrustScoreMax, points, models.TrustScoreMax)
	if err != nil {
		return 0, fmt.Errorf("recover trust scores: %w", err)
	}
	return res.RowsAffected()
}
