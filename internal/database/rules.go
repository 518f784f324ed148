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

	"github.com/streamwarden/streamwarden/internal/models"
)

// CreateRule stores a rule. Conditions and actions are persisted as
// JSON documents; their shape is validated at the API boundary.
func (db *DB) CreateRule(ctx context.Context, r *models.Rule) error {
	conditions, err := json.Marshal(r.Conditions)
	if err != nil {
		return fmt.Errorf("marshal rule conditions: %w", err)
	}
	actions, err := json.Marshal(r.Actions)
	if err != nil {
		return fmt.Errorf("marshal rule actions: %w", err)
	}

	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	if _, err := db.conn.ExecContext(ctx,
		`INSERT INTO rules (id, name, server_id, is_active, conditions, actions, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.ServerID, r.IsActive, string(conditions), string(actions), created); err != nil {
		return fmt.Errorf("insert rule %s: %w", r.ID, err)
	}
	return nil
}

// UpdateRule overwrites a rule's definition.
func (db *DB) UpdateRule(ctx context.Context, r *models.Rule) error {
	conditions, err := json.Marshal(r.Conditions)
	if err != nil {
		return fmt.Errorf("marshal rule conditions: %w", err)
	}
	actions, err := json.Marshal(r.Actions)
	if err != nil {
		return fmt.Errorf("marshal rule actions: %w", err)
	}

	if _, err := db.conn.ExecContext(ctx,
		`UPDATE rules SET name = ?, server_id = ?, is_active = ?, conditions = ?, actions = ? WHERE id = ?`,
		r.Name, r.ServerID, r.IsActive, string(conditions), string(actions), r.ID); err != nil {
		return fmt.Errorf("update rule %s: %w", r.ID, err)
	}
	return nil
}

// DeleteRule removes a rule; its past violations remain.
func (db *DB) DeleteRule(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete rule %s: %w", id, err)
	}
	return nil
}

// GetRule returns one rule by ID, or nil when unknown.
func (db *DB) GetRule(ctx context.Context, id string) (*models.Rule, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, name, server_id, is_active, conditions, actions, created_at FROM rules WHERE id = ?`, id)
	r, err := scanRuleRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// ListRules returns every rule in creation order.
func (db *DB) ListRules(ctx context.Context) ([]*models.Rule, error) {
	return db.queryRules(ctx,
		`SELECT id, name, server_id, is_active, conditions, actions, created_at
		 FROM rules ORDER BY created_at`)
}

// ListActiveRules returns the active rules in creation order; this is
// the set the engine evaluates.
func (db *DB) ListActiveRules(ctx context.Context) ([]*models.Rule, error) {
	return db.queryRules(ctx,
		`SELECT id, name, server_id, is_active, conditions, actions, created_at
		 FROM rules WHERE is_active ORDER BY created_at`)
}

func (db *DB) queryRules(ctx context.Context, query string, args ...any) ([]*models.Rule, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var out []*models.Rule
	for rows.Next() {
		r, err := scanRuleRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRuleRow(scan func(dest ...any) error) (*models.Rule, error) {
	var (
		r          models.Rule
		serverID   sql.NullString
		conditions string
		actions    string
	)
	if err := scan(&r.ID, &r.Name, &serverID, &r.IsActive, &conditions, &actions, &r.CreatedAt); err != nil {
		return nil, err
	}
	if serverID.Valid {
		v := serverID.String
		r.ServerID = &v
	}
	if err := json.Unmarshal([]byte(conditions), &r.Conditions); err != nil {
		return nil, fmt.Errorf("unmarshal rule %s conditions: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(actions), &r.Actions); err != nil {
		return nil, fmt.Errorf("unmarshal rule %s actions: %w", r.ID, err)
	}
	return &r, nil
}
