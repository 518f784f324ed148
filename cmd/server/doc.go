// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

// Package main is the StreamWarden server entry point.
//
// StreamWarden watches playback sessions on Plex, Jellyfin, and Emby
// servers, evaluates them against operator-defined rules, and enforces
// the outcomes: terminating streams, messaging clients, recording
// violations, and adjusting per-user trust scores.
//
// # Startup order
//
//  1. Configuration (koanf: defaults, optional YAML file, environment)
//  2. DuckDB storage
//  3. Redis, when configured (shared session cache, heavy-ops lock,
//     cross-process session events)
//  4. Event transport (in-process channel by default, NATS JetStream
//     for durable multi-consumer deployments)
//  5. Sync manager with one poller and push listener per enabled server
//  6. Rules engine and action executor
//  7. HTTP API with websocket fanout
//
// Everything long-running sits under one suture supervisor tree; a
// crashing poller or push listener restarts with backoff without taking
// the rest of the process down. Shutdown on SIGINT/SIGTERM stops the
// tree, then closes the transport and database.
//
// # Minimal configuration
//
//	servers:
//	  - type: plex
//	    url: http://localhost:32400
//	    token: your-plex-token
//
// Run with CONFIG_PATH pointing at the file, or place config.yaml in
// the working directory.
package main
