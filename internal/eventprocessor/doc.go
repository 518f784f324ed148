// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

// Package eventprocessor carries normalized playback events from the
// push listeners and pollers to the session lifecycle manager.
//
// Events flow through a watermill router with panic recovery, retry
// with exponential backoff, and a poison queue for permanent failures.
// The default transport is in-process; NATS JetStream (external or
// embedded) is available for durable delivery.
package eventprocessor
