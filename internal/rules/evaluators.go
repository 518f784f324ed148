// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package rules

import (
	"fmt"
	"math"
	"net/netip"
	"strings"
	"time"

	"github.com/streamwarden/streamwarden/internal/models"
)

// EvaluatorFunc evaluates one condition against the evaluation context.
// Evaluators are pure given their inputs and perform no I/O.
type EvaluatorFunc func(ctx *EvaluationContext, cond *models.Condition) (bool, error)

// defaultWindowHours bounds recent-session evaluators when the condition
// carries no explicit window.
const defaultWindowHours = 24.0

// EvaluatorFor returns the evaluator for a condition field. The switch is
// exhaustive over the closed field set; an unknown field is an error, not
// a silent pass.
func EvaluatorFor(field models.ConditionField) (EvaluatorFunc, error) {
	switch field {
	case models.FieldConcurrentStreams:
		return evalConcurrentStreams, nil
	case models.FieldActiveSessionDistanceKm:
		return evalActiveSessionDistanceKm, nil
	case models.FieldTravelSpeedKmh:
		return evalTravelSpeedKmh, nil
	case models.FieldUniqueIPsInWindow:
		return evalUniqueIPsInWindow, nil
	case models.FieldUniqueDevicesInWindow:
		return evalUniqueDevicesInWindow, nil
	case models.FieldInactiveDays:
		return evalInactiveDays, nil
	case models.FieldSourceResolution:
		return evalSourceResolution, nil
	case models.FieldOutputResolution:
		return evalOutputResolution, nil
	case models.FieldIsTranscoding:
		return evalIsTranscoding, nil
	case models.FieldIsTranscodeDowngrade:
		return evalIsTranscodeDowngrade, nil
	case models.FieldSourceBitrateMbps:
		return evalSourceBitrateMbps, nil
	case models.FieldUserID:
		return evalUserID, nil
	case models.FieldServerID:
		return evalServerID, nil
	case models.FieldMediaType:
		return evalMediaType, nil
	case models.FieldLibraryID:
		return evalLibraryID, nil
	case models.FieldTrustScore:
		return evalTrustScore, nil
	case models.FieldAccountAgeDays:
		return evalAccountAgeDays, nil
	case models.FieldDeviceType:
		return evalDeviceType, nil
	case models.FieldClientName:
		return evalClientName, nil
	case models.FieldPlatform:
		return evalPlatform, nil
	case models.FieldIsLocalNetwork:
		return evalIsLocalNetwork, nil
	case models.FieldCountry:
		return evalCountry, nil
	case models.FieldIPInRange:
		return evalIPInRange, nil
	default:
		return nil, fmt.Errorf("no evaluator for condition field %q", field)
	}
}

// evalConcurrentStreams counts the user's active sessions, triggering
// session included.
func evalConcurrentStreams(ctx *EvaluationContext, cond *models.Condition) (bool, error) {
	return compareNumber(cond, float64(len(ctx.UserActiveSessions())))
}

// evalActiveSessionDistanceKm computes the maximum great-circle distance
// between the triggering session and any other active session of the same
// user. Sessions without coordinates contribute nothing; no other session
// means distance 0.
func evalActiveSessionDistanceKm(ctx *EvaluationContext, cond *models.Condition) (bool, error) {
	max := 0.0
	s := ctx.Session
	if HasValidCoordinates(s.Geo.Latitude, s.Geo.Longitude) {
		for _, other := range ctx.UserActiveSessions() {
			if other.ID == s.ID || IsUnknownLocation(other.Geo.Latitude, other.Geo.Longitude) {
				continue
			}
			d := HaversineKm(s.Geo.Latitude, s.Geo.Longitude, other.Geo.Latitude, other.Geo.Longitude)
			if d > max {
				max = d
			}
		}
	}
	return compareNumber(cond, max)
}

// evalTravelSpeedKmh derives the implied speed between the triggering
// session and the user's most recent prior session. A prior session at a
// different location with ~zero elapsed time implies unbounded speed, so
// +Inf is compared; any `gt` threshold is then satisfied.
func evalTravelSpeedKmh(ctx *EvaluationContext, cond *models.Condition) (bool, error) {
	return compareNumber(cond, travelSpeedKmh(ctx))
}

func travelSpeedKmh(ctx *EvaluationContext) float64 {
	s := ctx.Session
	if IsUnknownLocation(s.Geo.Latitude, s.Geo.Longitude) {
		return 0
	}

	prior := mostRecentPriorSession(ctx)
	if prior == nil || IsUnknownLocation(prior.Geo.Latitude, prior.Geo.Longitude) {
		return 0
	}

	distance := HaversineKm(prior.Geo.Latitude, prior.Geo.Longitude, s.Geo.Latitude, s.Geo.Longitude)
	elapsedHours := s.StartedAt.Sub(prior.StartedAt).Hours()

	const hoursEpsilon = 1e-9
	if math.Abs(elapsedHours) < hoursEpsilon {
		if distance > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return distance / math.Abs(elapsedHours)
}

// mostRecentPriorSession finds the user's most recent session in
// RecentSessions that started strictly before the triggering session.
func mostRecentPriorSession(ctx *EvaluationContext) *models.Session {
	var prior *models.Session
	for _, r := range ctx.RecentSessions {
		if r.ID == ctx.Session.ID || r.ServerUserID != ctx.Session.ServerUserID {
			continue
		}
		if !r.StartedAt.Before(ctx.Session.StartedAt) {
			continue
		}
		if prior == nil || r.StartedAt.After(prior.StartedAt) {
			prior = r
		}
	}
	return prior
}

func windowStart(ctx *EvaluationContext, cond *models.Condition) time.Time {
	hours := defaultWindowHours
	if cond.Params.WindowHours != nil && *cond.Params.WindowHours > 0 {
		hours = *cond.Params.WindowHours
	}
	return ctx.Now.Add(-time.Duration(hours * float64(time.Hour)))
}

// evalUniqueIPsInWindow counts distinct IPs among the user's recent
// sessions that started inside the window.
func evalUniqueIPsInWindow(ctx *EvaluationContext, cond *models.Condition) (bool, error) {
	cutoff := windowStart(ctx, cond)
	seen := make(map[string]struct{})
	for _, r := range ctx.RecentSessions {
		if r.ServerUserID != ctx.Session.ServerUserID || r.StartedAt.Before(cutoff) {
			continue
		}
		if r.IPAddress != "" {
			seen[r.IPAddress] = struct{}{}
		}
	}
	return compareNumber(cond, float64(len(seen)))
}

// evalUniqueDevicesInWindow counts distinct device identities (device ID,
// falling back to player name) among the user's recent sessions inside the
// window.
func evalUniqueDevicesInWindow(ctx *EvaluationContext, cond *models.Condition) (bool, error) {
	cutoff := windowStart(ctx, cond)
	seen := make(map[string]struct{})
	for _, r := range ctx.RecentSessions {
		if r.ServerUserID != ctx.Session.ServerUserID || r.StartedAt.Before(cutoff) {
			continue
		}
		if key := r.DeviceKey(); key != "" {
			seen[key] = struct{}{}
		}
	}
	return compareNumber(cond, float64(len(seen)))
}

func evalInactiveDays(ctx *EvaluationContext, cond *models.Condition) (bool, error) {
	return compareNumber(cond, ctx.User.InactiveDays(ctx.Now))
}

// evalSourceResolution classifies the source track dimensions. Numeric
// operators compare canonical pixel heights; string operators compare
// labels.
func evalSourceResolution(ctx *EvaluationContext, cond *models.Condition) (bool, error) {
	label := ClassifyResolution(ctx.Session.Stream.SourceWidth, ctx.Session.Stream.SourceHeight)
	return compareResolution(cond, label)
}

// evalOutputResolution classifies the delivered stream dimensions; when no
// transcode output exists the resolution is unknown.
func evalOutputResolution(ctx *EvaluationContext, cond *models.Condition) (bool, error) {
	st := ctx.Session.Stream
	label := ResolutionUnknown
	if st.OutputWidth > 0 && st.OutputHeight > 0 {
		label = ClassifyResolution(st.OutputWidth, st.OutputHeight)
	}
	return compareResolution(cond, label)
}

func compareResolution(cond *models.Condition, label ResolutionLabel) (bool, error) {
	switch cond.Operator {
	case models.OpGt, models.OpGte, models.OpLt, models.OpLte:
		actual := resolutionHeights[label]
		// The threshold may be a label ("720p") or a bare number.
		if want, err := conditionString(cond); err == nil {
			return compareNumberAgainst(cond.Operator, actual, ResolutionHeight(want))
		}
		return compareNumber(cond, actual)
	default:
		return compareString(cond, string(label))
	}
}

func compareNumberAgainst(op models.Operator, actual, threshold float64) (bool, error) {
	switch op {
	case models.OpEq:
		return actual == threshold, nil
	case models.OpGt:
		return actual > threshold, nil
	case models.OpGte:
		return actual >= threshold, nil
	case models.OpLt:
		return actual < threshold, nil
	case models.OpLte:
		return actual <= threshold, nil
	default:
		return false, fmt.Errorf("operator %q not valid for numeric comparison", op)
	}
}

// evalIsTranscoding matches the four-way transcode semantic. Boolean
// condition values are backward-compatible aliases: true means
// video_or_audio, false means neither.
func evalIsTranscoding(ctx *EvaluationContext, cond *models.Condition) (bool, error) {
	st := ctx.Session.Stream
	want, err := transcodeWant(cond)
	if err != nil {
		return false, err
	}

	var matched bool
	switch want {
	case "video":
		matched = st.VideoDecision.IsTranscode()
	case "audio":
		matched = st.AudioDecision.IsTranscode()
	case "video_or_audio":
		matched = st.IsTranscoding()
	case "neither":
		matched = !st.IsTranscoding()
	default:
		return false, fmt.Errorf("unknown transcode semantic %q", want)
	}

	if cond.Operator == models.OpNotIn {
		return !matched, nil
	}
	return matched, nil
}

func transcodeWant(cond *models.Condition) (string, error) {
	if b, err := conditionBool(cond); err == nil {
		if b {
			return "video_or_audio", nil
		}
		return "neither", nil
	}
	s, err := conditionString(cond)
	if err != nil {
		return "", fmt.Errorf("is_transcoding value must be a boolean or semantic string: %w", err)
	}
	return strings.ToLower(s), nil
}

// evalIsTranscodeDowngrade is true iff the stream is transcoding and the
// output resolution is below the source resolution.
func evalIsTranscodeDowngrade(ctx *EvaluationContext, cond *models.Condition) (bool, error) {
	st := ctx.Session.Stream
	downgrade := st.IsTranscoding() &&
		st.OutputHeight > 0 && st.SourceHeight > 0 &&
		st.OutputHeight < st.SourceHeight

	want, err := conditionBool(cond)
	if err != nil {
		return false, err
	}
	return downgrade == want, nil
}

func evalSourceBitrateMbps(ctx *EvaluationContext, cond *models.Condition) (bool, error) {
	mbps := float64(ctx.Session.Stream.SourceBitrate) / 1_000_000.0
	return compareNumber(cond, mbps)
}

func evalUserID(ctx *EvaluationContext, cond *models.Condition) (bool, error) {
	return compareString(cond, ctx.Session.ServerUserID)
}

func evalServerID(ctx *EvaluationContext, cond *models.Condition) (bool, error) {
	return compareString(cond, ctx.Session.ServerID)
}

func evalMediaType(ctx *EvaluationContext, cond *models.Condition) (bool, error) {
	return compareString(cond, ctx.Session.MediaType)
}

func evalLibraryID(ctx *EvaluationContext, cond *models.Condition) (bool, error) {
	return compareString(cond, ctx.Session.LibraryID)
}

func evalTrustScore(ctx *EvaluationContext, cond *models.Condition) (bool, error) {
	return compareNumber(cond, float64(ctx.User.TrustScore))
}

func evalAccountAgeDays(ctx *EvaluationContext, cond *models.Condition) (bool, error) {
	return compareNumber(cond, ctx.User.AccountAgeDays(ctx.Now))
}

func evalDeviceType(ctx *EvaluationContext, cond *models.Condition) (bool, error) {
	dt := NormalizeDeviceType(ctx.Session.DeviceName, ctx.Session.Platform)
	return compareString(cond, string(dt))
}

// evalClientName compares the raw product/player string.
func evalClientName(ctx *EvaluationContext, cond *models.Condition) (bool, error) {
	name := ctx.Session.Product
	if name == "" {
		name = ctx.Session.Player
	}
	return compareString(cond, name)
}

func evalPlatform(ctx *EvaluationContext, cond *models.Condition) (bool, error) {
	return compareString(cond, string(NormalizePlatform(ctx.Session.Platform)))
}

// evalIsLocalNetwork is true iff the session IP is RFC1918 private or
// loopback. A missing or unparseable IP is never local.
func evalIsLocalNetwork(ctx *EvaluationContext, cond *models.Condition) (bool, error) {
	want, err := conditionBool(cond)
	if err != nil {
		return false, err
	}
	return IsPrivateIP(ctx.Session.IPAddress) == want, nil
}

// IsPrivateIP reports whether the address is RFC1918 private or loopback.
func IsPrivateIP(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	return addr.IsPrivate() || addr.IsLoopback()
}

func evalCountry(ctx *EvaluationContext, cond *models.Condition) (bool, error) {
	return compareString(cond, ctx.Session.Geo.Country)
}

// evalIPInRange matches the session IP against one or more CIDRs (a bare
// address is treated as /32). eq and in mean "matches any"; not_in means
// "matches none". A session without an IP never matches.
func evalIPInRange(ctx *EvaluationContext, cond *models.Condition) (bool, error) {
	cidrs, err := conditionStrings(cond)
	if err != nil {
		return false, err
	}

	addr, parseErr := netip.ParseAddr(ctx.Session.IPAddress)
	if parseErr != nil {
		return false, nil
	}

	matched := false
	for _, raw := range cidrs {
		prefix, err := parsePrefix(raw)
		if err != nil {
			return false, fmt.Errorf("invalid CIDR %q: %w", raw, err)
		}
		if prefix.Contains(addr) {
			matched = true
			break
		}
	}

	switch cond.Operator {
	case models.OpEq, models.OpIn:
		return matched, nil
	case models.OpNotIn:
		return !matched, nil
	default:
		return false, fmt.Errorf("operator %q not valid for ip_in_range", cond.Operator)
	}
}

// parsePrefix parses a CIDR, accepting a bare address as an exact-match
// single-address prefix.
func parsePrefix(raw string) (netip.Prefix, error) {
	if !strings.Contains(raw, "/") {
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return netip.Prefix{}, err
		}
		return netip.PrefixFrom(addr, addr.BitLen()), nil
	}
	return netip.ParsePrefix(raw)
}
