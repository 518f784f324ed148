// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

// Package metrics exposes Prometheus collectors for the event
// pipeline, rule engine, media server sync, geolocation, notifications,
// the heavy operations lock, and the HTTP API. Collectors are
// package-level and registered via promauto; the Recorder type adapts
// them to the small interfaces other packages accept.
package metrics
