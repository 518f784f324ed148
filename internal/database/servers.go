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

// UpsertServer creates or refreshes a configured media server.
func (db *DB) UpsertServer(ctx context.Context, s *models.Server) error {
	created := s.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	query := `INSERT INTO servers (id, type, name, url, token, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			type = excluded.type, name = excluded.name, url = excluded.url,
			token = excluded.token, enabled = excluded.enabled`

	if _, err := db.conn.ExecContext(ctx, query,
		s.ID, string(s.Type), s.Name, s.URL, s.Token, s.Enabled, created); err != nil {
		return fmt.Errorf("upsert server %s: %w", s.ID, err)
	}
	return nil
}

// GetServer returns one server by ID, or nil when unknown.
func (db *DB) GetServer(ctx context.Context, id string) (*models.Server, error) {
	var (
		s   models.Server
		typ string
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, type, name, url, token, enabled, created_at FROM servers WHERE id = ?`, id).
		Scan(&s.ID, &typ, &s.Name, &s.URL, &s.Token, &s.Enabled, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query server %s: %w", id, err)
	}
	s.Type = models.ServerType(typ)
	return &s, nil
}

// ListServers returns every configured server.
func (db *DB) ListServers(ctx context.Context) ([]*models.Server, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, type, name, url, token, enabled, created_at FROM servers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	defer rows.Close()

	var out []*models.Server
	for rows.Next() {
		var (
			s   models.Server
			typ string
		)
		if err := rows.Scan(&s.ID, &typ, &s.Name, &s.URL, &s.Token, &s.Enabled, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan server: %w", err)
		}
		s.Type = models.ServerType(typ)
		out = append(out, &s)
	}
	return out, rows.Err()
}

// DeleteServer removes a server configuration.
func (db *DB) DeleteServer(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM servers WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete server %s: %w", id, err)
	}
	return nil
}
