// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

// Package websocket pushes live session lifecycle events to connected
// operator UIs.
//
// The Hub owns the client set and the broadcast loop. Session
// transitions enter the hub either directly (Publisher, single-process
// deployments) or relayed from Redis pub/sub (RedisBridge, when several
// processes share one Redis). Clients that stop draining their send
// buffer are disconnected; the active-sessions endpoint is the resync
// path.
package websocket
