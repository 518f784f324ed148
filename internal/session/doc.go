// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

// Package session owns the playback session lifecycle.
//
// Each (server, session key) moves through none, active (playing or
// paused), and stopped; stopped is terminal. The Manager is the only
// writer of session state: create runs under a per-key distributed lock
// with a post-acquisition re-check so racing push and poll observers
// yield exactly one row, and stop is a conditional update so duplicate
// deliveries resolve as no-ops instead of double-firing notifications.
//
// Pause accounting and watch completion live in pure functions with no
// I/O. Watch time is wall clock minus paused time; player-reported
// progress is never trusted for it.
package session
