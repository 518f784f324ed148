// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package session

import (
	"time"

	"github.com/streamwarden/streamwarden/internal/models"
)

// WatchCompletionThreshold is the fraction of the media that must be
// watched for the session to latch as watched.
const WatchCompletionThreshold = 0.8

// PauseState is the pause-accounting portion of a session, passed through
// the pure transition function.
type PauseState struct {
	LastPausedAt     *time.Time
	PausedDurationMs int64
}

// CalculatePauseAccumulation advances pause accounting across one state
// transition. Entering paused stamps the pause start; leaving paused for
// playing folds the closed interval into the accumulator and clears the
// stamp. No-op transitions (playing to playing, paused to paused) pass
// the state through unchanged, so the accumulation over any transition
// sequence equals the sum of the individual pause intervals.
func CalculatePauseAccumulation(prev, next models.SessionState, st PauseState, now time.Time) PauseState {
	switch {
	case prev != models.StatePaused && next == models.StatePaused:
		t := now
		st.LastPausedAt = &t
	case prev == models.StatePaused && next == models.StatePlaying:
		if st.LastPausedAt != nil {
			st.PausedDurationMs += now.Sub(*st.LastPausedAt).Milliseconds()
			st.LastPausedAt = nil
		}
	}
	return st
}

// WatchTimeMs computes the session's watch time at a point in time:
// elapsed wall clock minus accumulated pause time, with any open pause
// interval counted up to at. Player-reported progress is deliberately
// ignored; transcoding clients misreport it.
func WatchTimeMs(s *models.Session, at time.Time) int64 {
	elapsed := at.Sub(s.StartedAt).Milliseconds()
	paused := s.PausedDurationMs
	if s.LastPausedAt != nil && at.After(*s.LastPausedAt) {
		paused += at.Sub(*s.LastPausedAt).Milliseconds()
	}
	watched := elapsed - paused
	if watched < 0 {
		return 0
	}
	return watched
}

// CheckWatchCompletion reports whether the watch time crosses the
// completion threshold. An unknown media length (zero or negative) is
// not yet computable and never completes.
func CheckWatchCompletion(watchTimeMs, totalDurationMs int64) bool {
	if totalDurationMs <= 0 {
		return false
	}
	return float64(watchTimeMs)/float64(totalDurationMs) >= WatchCompletionThreshold
}
