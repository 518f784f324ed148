// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

// Package models defines the canonical data model shared across StreamWarden:
// sessions, servers, users, rules, violations, and termination logs.
//
// Types here are plain data with small derivation helpers; all behavior
// (lifecycle transitions, rule evaluation, persistence) lives in the
// packages that own it.
package models
