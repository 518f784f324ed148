// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

// Package heavyops serializes long-running exclusive jobs (bulk import,
// database maintenance) behind one global TTL-bounded lock.
//
// The TTL is a safety net against a crashed holder, and a job's own ID
// lets it reacquire the lock after a process restart without waiting out
// the TTL. Corrupt stored holder state is treated as an implicit release.
package heavyops
