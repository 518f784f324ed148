// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

// Package api serves the HTTP control surface: session visibility,
// violation management, rule CRUD with validation, the rules engine
// kill switch, manual stream termination, heavy-operations lock
// status, and Prometheus metrics. Routing is chi with per-IP rate
// limiting via httprate.
package api
