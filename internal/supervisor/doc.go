// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

// Package supervisor arranges the long-running services into a suture
// supervision tree with one layer per concern (event pipeline, media
// server sync, HTTP API), so a restart loop in one layer cannot take
// down the others. Per-server sync services are tracked by token and
// can be removed at runtime when a server is deconfigured.
package supervisor
