// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

// Package rules implements the policy engine: a closed registry of pure
// condition evaluators, AND/OR rule composition, target resolution across
// a user's concurrent sessions, and the action executor that applies
// matched rules' side effects exactly once per triggering evaluation.
//
// Evaluation model:
//
//	rule matches  =  OR over condition groups
//	group matches =  AND over its conditions
//
// Empty rules and empty groups are unsatisfiable rather than vacuously
// true, so a half-configured rule can never fire on everything.
//
// Evaluators receive an EvaluationContext snapshot (triggering session,
// owning user, active-session list, recent-session window) and perform no
// I/O; everything they need is gathered up front by the caller.
package rules
