// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

// Package sync connects StreamWarden to Plex, Jellyfin, and Emby
// servers and merges their push and poll observations into one session
// lifecycle.
//
// Push (websocket) is the low-latency path; polling is authoritative
// and self-healing. Keyed stop frames finalize immediately, all other
// push activity triggers an immediate poll, and the regular poll sweep
// stops sessions the server no longer reports. The reconciler pairs
// server down/up notifications with a delay window so transient blips
// stay quiet.
package sync
