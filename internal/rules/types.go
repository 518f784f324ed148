// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package rules

import (
	"fmt"
	"math"
	"time"

	"github.com/streamwarden/streamwarden/internal/models"
)

// CoordinateEpsilon is the threshold for considering coordinates as
// effectively zero. The sentinel (0, 0) means geolocation is unavailable;
// epsilon comparison avoids IEEE 754 equality pitfalls. 1e-7 degrees is
// about 1.1cm at the equator, well below GPS accuracy.
const CoordinateEpsilon = 1e-7

// IsUnknownLocation reports whether coordinates represent an unknown
// location (the 0,0 sentinel).
func IsUnknownLocation(lat, lon float64) bool {
	return math.Abs(lat) < CoordinateEpsilon && math.Abs(lon) < CoordinateEpsilon
}

// HasValidCoordinates is the inverse of IsUnknownLocation, for readability.
func HasValidCoordinates(lat, lon float64) bool {
	return !IsUnknownLocation(lat, lon)
}

// EvaluationContext is the ephemeral state one rule evaluation reads.
// It is built per triggering event and never mutated by evaluators.
type EvaluationContext struct {
	// Session is the triggering session.
	Session *models.Session

	// User owns the triggering session.
	User *models.ServerUser

	// Server hosts the triggering session.
	Server *models.Server

	// ActiveSessions is a snapshot of every currently-active session
	// across all users and servers, including the triggering session.
	ActiveSessions []*models.Session

	// RecentSessions holds the user's recent sessions (newest first),
	// used by velocity and uniqueness evaluators. It may include the
	// triggering session.
	RecentSessions []*models.Session

	// Rule is the rule currently being evaluated.
	Rule *models.Rule

	// Now anchors all time arithmetic for determinism in tests.
	Now time.Time
}

// UserActiveSessions returns the active sessions owned by the triggering
// session's user, triggering session included.
func (c *EvaluationContext) UserActiveSessions() []*models.Session {
	var out []*models.Session
	for _, s := range c.ActiveSessions {
		if s.ServerUserID == c.Session.ServerUserID {
			out = append(out, s)
		}
	}
	return out
}

// EvaluationError wraps an evaluator failure with its condition field.
type EvaluationError struct {
	Field models.ConditionField
	Err   error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluate %s: %v", e.Field, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }
