// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

// Package database provides the embedded DuckDB persistence layer.
//
// One DB value owns the connection pool and exposes typed CRUD for
// servers, server users, sessions, policy rules, violations, and
// termination logs. Session finalization and violation deletion use
// conditional updates and transactions so concurrent writers cannot
// double-stop a session or leave a trust penalty orphaned.
package database
