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

	"github.com/goccy/go-json"

	"github.com/streamwarden/streamwarden/internal/logging"
	"github.com/streamwarden/streamwarden/internal/models"
)

// InsertViolation stores a rule violation.
func (db *DB) InsertViolation(ctx context.Context, v *models.Violation) error {
	data := v.Data
	if len(data) == 0 {
		data = []byte("{}")
	}
	if _, err := db.conn.ExecContext(ctx,
		`INSERT INTO violations (id, rule_id, server_user_id, session_id, severity, data, created_at, acknowledged_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.RuleID, v.ServerUserID, v.SessionID, string(v.Severity), string(data), v.CreatedAt, v.AcknowledgedAt); err != nil {
		return fmt.Errorf("insert violation %s: %w", v.ID, err)
	}
	return nil
}

// GetViolation returns one violation by ID, or nil when unknown.
func (db *DB) GetViolation(ctx context.Context, id string) (*models.Violation, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, rule_id, server_user_id, session_id, severity, data, created_at, acknowledged_at
		 FROM violations WHERE id = ?`, id)
	v, err := scanViolationRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return v, err
}

// ListViolations returns violations newest first, optionally filtered to
// one user. unacknowledgedOnly narrows to open violations.
func (db *DB) ListViolations(ctx context.Context, serverUserID string, unacknowledgedOnly bool, limit int) ([]*models.Violation, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, rule_id, server_user_id, session_id, severity, data, created_at, acknowledged_at
		FROM violations WHERE 1=1`
	args := []any{}
	if serverUserID != "" {
		query += ` AND server_user_id = ?`
		args = append(args, serverUserID)
	}
	if unacknowledgedOnly {
		query += ` AND acknowledged_at IS NULL`
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list violations: %w", err)
	}
	defer rows.Close()

	var out []*models.Violation
	for rows.Next() {
		v, err := scanViolationRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// AcknowledgeViolation marks a violation handled. It reports whether
// this call performed the acknowledgement.
func (db *DB) AcknowledgeViolation(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE violations SET acknowledged_at = ? WHERE id = ? AND acknowledged_at IS NULL`, at, id)
	if err != nil {
		return false, fmt.Errorf("acknowledge violation %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteViolation removes a violation and compensates any trust penalty
// it recorded: the stored delta is negated and re-applied (clamped) to
// the user, atomically with the delete.
func (db *DB) DeleteViolation(ctx context.Context, id string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin violation delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		serverUserID string
		rawData      string
	)
	err = tx.QueryRowContext(ctx,
		`SELECT server_user_id, data FROM violations WHERE id = ?`, id).
		Scan(&serverUserID, &rawData)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read violation %s: %w", id, err)
	}

	var data models.ViolationData
	if err := json.Unmarshal([]byte(rawData), &data); err != nil {
		// Unreadable payload: delete the row but skip compensation,
		// there is no trustworthy delta to restore.
		logging.Ctx(ctx).Warn().Err(err).Str("violation_id", id).Msg("violation payload unreadable, trust not compensated")
		data.TrustDelta = 0
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM violations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete violation %s: %w", id, err)
	}

	if data.TrustDelta != 0 {
		var current int
		if err := tx.QueryRowContext(ctx,
			`SELECT trust_score FROM server_users WHERE id = ?`, serverUserID).Scan(&current); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				// User removed since the violation; nothing to restore.
				return tx.Commit()
			}
			return fmt.Errorf("read trust score for compensation: %w", err)
		}
		restored := models.ClampTrustScore(current - data.TrustDelta)
		if _, err := tx.ExecContext(ctx,
			`UPDATE server_users SET trust_score = ? WHERE id = ?`, restored, serverUserID); err != nil {
			return fmt.Errorf("restore trust score: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit violation delete: %w", err)
	}
	return nil
}

func scanViolationRow(scan func(dest ...any) error) (*models.Violation, error) {
	var (
		v              models.Violation
		severity       string
		data           string
		acknowledgedAt sql.NullTime
	)
	if err := scan(&v.ID, &v.RuleID, &v.ServerUserID, &v.SessionID, &severity, &data, &v.CreatedAt, &acknowledgedAt); err != nil {
		return nil, err
	}
	v.Severity = models.Severity(severity)
	v.Data = []byte(data)
	if acknowledgedAt.Valid {
		t := acknowledgedAt.Time
		v.AcknowledgedAt = &t
	}
	return &v, nil
}

// InsertTerminationLog records a kill-stream attempt.
func (db *DB) InsertTerminationLog(ctx context.Context, t *models.TerminationLog) error {
	if _, err := db.conn.ExecContext(ctx,
		`INSERT INTO termination_logs (id, session_id, server_id, session_key, trigger_type, rule_id, success, failure_reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SessionID, t.ServerID, t.SessionKey, string(t.Trigger), t.RuleID, t.Success, t.FailureReason, t.CreatedAt); err != nil {
		return fmt.Errorf("insert termination log %s: %w", t.ID, err)
	}
	return nil
}

// ListTerminationLogs returns recent termination attempts, newest first.
func (db *DB) ListTerminationLogs(ctx context.Context, limit int) ([]*models.TerminationLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, session_id, server_id, session_key, trigger_type, rule_id, success, failure_reason, created_at
		 FROM termination_logs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list termination logs: %w", err)
	}
	defer rows.Close()

	var out []*models.TerminationLog
	for rows.Next() {
		var (
			t       models.TerminationLog
			trigger string
			ruleID  sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.SessionID, &t.ServerID, &t.SessionKey, &trigger, &ruleID, &t.Success, &t.FailureReason, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan termination log: %w", err)
		}
		t.Trigger = models.TerminationTrigger(trigger)
		if ruleID.Valid {
			v := ruleID.String
			t.RuleID = &v
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}
