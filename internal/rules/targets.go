// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package rules

import (
	"sort"

	"github.com/streamwarden/streamwarden/internal/models"
)

// ResolveTargetSessions selects which of a user's active sessions an action
// applies to. Results are always restricted to the triggering user's
// sessions and sorted by StartedAt ascending.
//
// Targets:
//   - triggering (and the empty default): exactly the triggering session
//   - oldest / newest: the single extreme session, empty if the user has none
//   - all_user: every active session of the user
//   - all_except_one: everything but the oldest (the oldest is kept; this
//     tie-break is deliberate and load-bearing for "kill the extras" rules)
func ResolveTargetSessions(target models.ActionTarget, triggering *models.Session, activeSessions []*models.Session) []*models.Session {
	userSessions := make([]*models.Session, 0, len(activeSessions))
	for _, s := range activeSessions {
		if s.ServerUserID == triggering.ServerUserID {
			userSessions = append(userSessions, s)
		}
	}
	sort.SliceStable(userSessions, func(i, j int) bool {
		return userSessions[i].StartedAt.Before(userSessions[j].StartedAt)
	})

	switch target {
	case models.TargetOldest:
		if len(userSessions) == 0 {
			return nil
		}
		return userSessions[:1]
	case models.TargetNewest:
		if len(userSessions) == 0 {
			return nil
		}
		return userSessions[len(userSessions)-1:]
	case models.TargetAllUser:
		return userSessions
	case models.TargetAllExceptOne:
		if len(userSessions) <= 1 {
			return nil
		}
		return userSessions[1:]
	case models.TargetTriggering, "":
		return []*models.Session{triggering}
	default:
		return []*models.Session{triggering}
	}
}
