// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

// Package cache provides the Redis-backed shared state layer: the live
// active-session view with its per-user index, the distributed
// session-create lock, typed pub/sub for session lifecycle events, and
// the atomic key-value primitive the heavy-ops lock builds on.
//
// An in-memory TTL LRU is included for hot-path lookups that must not
// touch Redis (geolocation results).
package cache
