// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package rules

import (
	"math"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/streamwarden/streamwarden/internal/models"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func mkCond(field models.ConditionField, op models.Operator, value string) *models.Condition {
	return &models.Condition{
		Field:    field,
		Operator: op,
		Value:    json.RawMessage(value),
	}
}

func sessionAt(id, userID string, startedAt time.Time) *models.Session {
	return &models.Session{
		ID:           id,
		ServerID:     "srv-1",
		ServerUserID: userID,
		SessionKey:   "key-" + id,
		State:        models.StatePlaying,
		MediaType:    "movie",
		Title:        "Some Movie",
		StartedAt:    startedAt,
		LastSeenAt:   startedAt,
	}
}

func testCtx(session *models.Session) *EvaluationContext {
	return &EvaluationContext{
		Session:        session,
		User:           &models.ServerUser{ID: session.ServerUserID, TrustScore: 100, CreatedAt: testNow.Add(-90 * 24 * time.Hour)},
		Server:         &models.Server{ID: session.ServerID, Type: models.ServerTypePlex},
		ActiveSessions: []*models.Session{session},
		Now:            testNow,
	}
}

func TestHaversineKm(t *testing.T) {
	// London to Paris, well-known reference pair.
	london := [2]float64{51.5074, -0.1278}
	paris := [2]float64{48.8566, 2.3522}

	d := HaversineKm(london[0], london[1], paris[0], paris[1])
	if d < 330 || d > 355 {
		t.Fatalf("London-Paris distance = %.1f km, want ~343", d)
	}

	reverse := HaversineKm(paris[0], paris[1], london[0], london[1])
	if math.Abs(d-reverse) > 1e-9 {
		t.Errorf("distance not symmetric: %.9f vs %.9f", d, reverse)
	}

	if z := HaversineKm(london[0], london[1], london[0], london[1]); z != 0 {
		t.Errorf("same-point distance = %v, want 0", z)
	}
}

func TestEvalConcurrentStreams(t *testing.T) {
	s := sessionAt("s1", "u1", testNow.Add(-10*time.Minute))
	ctx := testCtx(s)
	ctx.ActiveSessions = []*models.Session{
		s,
		sessionAt("s2", "u1", testNow.Add(-5*time.Minute)),
		sessionAt("s3", "u2", testNow.Add(-3*time.Minute)), // other user, excluded
	}

	ok, err := evalConcurrentStreams(ctx, mkCond(models.FieldConcurrentStreams, models.OpGt, `1`))
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("expected 2 concurrent streams > 1")
	}

	ok, err = evalConcurrentStreams(ctx, mkCond(models.FieldConcurrentStreams, models.OpGt, `2`))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected 2 concurrent streams not > 2")
	}
}

func TestEvalActiveSessionDistance(t *testing.T) {
	a := sessionAt("a", "u1", testNow.Add(-time.Hour))
	a.Geo = models.GeoLocation{Latitude: 51.5074, Longitude: -0.1278} // London
	b := sessionAt("b", "u1", testNow.Add(-30*time.Minute))
	b.Geo = models.GeoLocation{Latitude: 48.8566, Longitude: 2.3522} // Paris
	noGeo := sessionAt("c", "u1", testNow.Add(-20*time.Minute))

	ctx := testCtx(a)
	ctx.ActiveSessions = []*models.Session{a, b, noGeo}

	// ~343 km apart; the unknown-location session contributes nothing.
	ok, err := evalActiveSessionDistanceKm(ctx, mkCond(models.FieldActiveSessionDistanceKm, models.OpGt, `300`))
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("expected max pairwise distance > 300 km")
	}

	// Triggering from the other endpoint yields the same maximum.
	ctx2 := testCtx(b)
	ctx2.ActiveSessions = []*models.Session{a, b, noGeo}
	ok2, err := evalActiveSessionDistanceKm(ctx2, mkCond(models.FieldActiveSessionDistanceKm, models.OpGt, `300`))
	if err != nil {
		t.Fatal(err)
	}
	if ok != ok2 {
		t.Error("distance evaluation not symmetric across endpoints")
	}

	// Triggering session without coordinates: distance is 0.
	ctx3 := testCtx(noGeo)
	ctx3.ActiveSessions = []*models.Session{a, b, noGeo}
	ok3, err := evalActiveSessionDistanceKm(ctx3, mkCond(models.FieldActiveSessionDistanceKm, models.OpGt, `0`))
	if err != nil {
		t.Fatal(err)
	}
	if ok3 {
		t.Error("unknown triggering location should yield distance 0")
	}
}

func TestTravelSpeed(t *testing.T) {
	t.Run("normal speed", func(t *testing.T) {
		prior := sessionAt("p", "u1", testNow.Add(-2*time.Hour))
		prior.Geo = models.GeoLocation{Latitude: 51.5074, Longitude: -0.1278}
		cur := sessionAt("c", "u1", testNow)
		cur.Geo = models.GeoLocation{Latitude: 48.8566, Longitude: 2.3522}

		ctx := testCtx(cur)
		ctx.RecentSessions = []*models.Session{cur, prior}

		speed := travelSpeedKmh(ctx)
		// ~343 km over 2h.
		if speed < 165 || speed > 180 {
			t.Fatalf("speed = %.1f km/h, want ~171", speed)
		}
	})

	t.Run("zero elapsed different location is infinite", func(t *testing.T) {
		at := testNow.Add(-time.Hour)
		prior := sessionAt("p", "u1", at)
		prior.Geo = models.GeoLocation{Latitude: 51.5074, Longitude: -0.1278}
		cur := sessionAt("c", "u1", at.Add(time.Nanosecond))
		cur.Geo = models.GeoLocation{Latitude: 48.8566, Longitude: 2.3522}

		ctx := testCtx(cur)
		ctx.RecentSessions = []*models.Session{cur, prior}

		if speed := travelSpeedKmh(ctx); !math.IsInf(speed, 1) {
			t.Fatalf("speed = %v, want +Inf", speed)
		}

		// Any gt threshold is satisfied by +Inf.
		ok, err := evalTravelSpeedKmh(ctx, mkCond(models.FieldTravelSpeedKmh, models.OpGt, `100000`))
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Error("infinite speed should exceed any threshold")
		}
	})

	t.Run("no prior session", func(t *testing.T) {
		cur := sessionAt("c", "u1", testNow)
		cur.Geo = models.GeoLocation{Latitude: 48.8566, Longitude: 2.3522}
		ctx := testCtx(cur)
		ctx.RecentSessions = []*models.Session{cur}

		if speed := travelSpeedKmh(ctx); speed != 0 {
			t.Fatalf("speed without prior = %v, want 0", speed)
		}
	})

	t.Run("prior without coordinates", func(t *testing.T) {
		prior := sessionAt("p", "u1", testNow.Add(-time.Hour))
		cur := sessionAt("c", "u1", testNow)
		cur.Geo = models.GeoLocation{Latitude: 48.8566, Longitude: 2.3522}
		ctx := testCtx(cur)
		ctx.RecentSessions = []*models.Session{cur, prior}

		if speed := travelSpeedKmh(ctx); speed != 0 {
			t.Fatalf("speed with unlocated prior = %v, want 0", speed)
		}
	})
}

func TestEvalUniqueIPsInWindow(t *testing.T) {
	window := 6.0
	cond := mkCond(models.FieldUniqueIPsInWindow, models.OpGte, `2`)
	cond.Params.WindowHours = &window

	cur := sessionAt("c", "u1", testNow)
	cur.IPAddress = "203.0.113.10"
	inWindow := sessionAt("r1", "u1", testNow.Add(-2*time.Hour))
	inWindow.IPAddress = "198.51.100.7"
	outside := sessionAt("r2", "u1", testNow.Add(-30*time.Hour))
	outside.IPAddress = "192.0.2.99"

	ctx := testCtx(cur)
	ctx.RecentSessions = []*models.Session{cur, inWindow, outside}

	ok, err := evalUniqueIPsInWindow(ctx, cond)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("expected 2 unique IPs inside the 6h window")
	}

	cond2 := mkCond(models.FieldUniqueIPsInWindow, models.OpGte, `3`)
	cond2.Params.WindowHours = &window
	ok, err = evalUniqueIPsInWindow(ctx, cond2)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("session outside the window must not count")
	}
}

func TestEvalUniqueDevicesInWindow(t *testing.T) {
	cur := sessionAt("c", "u1", testNow)
	cur.DeviceID = "dev-1"
	sameDevice := sessionAt("r1", "u1", testNow.Add(-time.Hour))
	sameDevice.DeviceID = "dev-1"
	playerOnly := sessionAt("r2", "u1", testNow.Add(-2*time.Hour))
	playerOnly.Player = "Living Room TV"

	ctx := testCtx(cur)
	ctx.RecentSessions = []*models.Session{cur, sameDevice, playerOnly}

	ok, err := evalUniqueDevicesInWindow(ctx, mkCond(models.FieldUniqueDevicesInWindow, models.OpEq, `2`))
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("want 2 devices: dev-1 deduped, player name counted as fallback identity")
	}
}

func TestClassifyResolution(t *testing.T) {
	tests := []struct {
		name string
		w, h int
		want ResolutionLabel
	}{
		{"uhd", 3840, 2160, Resolution4K},
		{"anamorphic 4k", 3840, 1604, Resolution4K},
		{"full hd", 1920, 1080, Resolution1080p},
		{"scope 1080p", 1920, 800, Resolution1080p},
		{"hd", 1280, 720, Resolution720p},
		{"dvd widescreen", 854, 480, Resolution480p},
		{"sd", 640, 360, ResolutionSD},
		{"no dimensions", 0, 0, ResolutionUnknown},
		{"negative", -1, 720, ResolutionUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyResolution(tt.w, tt.h); got != tt.want {
				t.Errorf("ClassifyResolution(%d, %d) = %s, want %s", tt.w, tt.h, got, tt.want)
			}
		})
	}
}

func TestResolutionHeight(t *testing.T) {
	tests := []struct {
		label string
		want  float64
	}{
		{"4K", 2160},
		{"2160p", 2160},
		{"1080p", 1080},
		{"720p", 720},
		{"480p", 480},
		{"SD", 360},
		{"unknown", 0},
		{"garbage", 0},
	}
	for _, tt := range tests {
		if got := ResolutionHeight(tt.label); got != tt.want {
			t.Errorf("ResolutionHeight(%q) = %v, want %v", tt.label, got, tt.want)
		}
	}
}

func TestEvalSourceResolution(t *testing.T) {
	s := sessionAt("s", "u1", testNow)
	s.Stream.SourceWidth, s.Stream.SourceHeight = 3840, 2160
	ctx := testCtx(s)

	// Numeric operator with a label threshold: 4K (2160) > 1080p (1080).
	ok, err := evalSourceResolution(ctx, mkCond(models.FieldSourceResolution, models.OpGt, `"1080p"`))
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("4K source should rank above 1080p")
	}

	// String equality on the label, case-insensitive.
	ok, err = evalSourceResolution(ctx, mkCond(models.FieldSourceResolution, models.OpEq, `"4k"`))
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("label equality should be case-insensitive")
	}
}

func TestEvalOutputResolutionUnknownWithoutTranscode(t *testing.T) {
	s := sessionAt("s", "u1", testNow)
	s.Stream.SourceWidth, s.Stream.SourceHeight = 1920, 1080
	ctx := testCtx(s)

	ok, err := evalOutputResolution(ctx, mkCond(models.FieldOutputResolution, models.OpEq, `"unknown"`))
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("no output dimensions should classify as unknown")
	}
}

func TestEvalIsTranscoding(t *testing.T) {
	s := sessionAt("s", "u1", testNow)
	s.Stream.VideoDecision = models.DecisionTranscode
	s.Stream.AudioDecision = models.DecisionDirectStream
	ctx := testCtx(s)

	tests := []struct {
		name  string
		op    models.Operator
		value string
		want  bool
	}{
		{"video semantic matches", models.OpEq, `"video"`, true},
		{"audio semantic does not", models.OpEq, `"audio"`, false},
		{"video_or_audio matches", models.OpEq, `"video_or_audio"`, true},
		{"neither does not", models.OpEq, `"neither"`, false},
		{"bool true aliases video_or_audio", models.OpEq, `true`, true},
		{"bool false aliases neither", models.OpEq, `false`, false},
		{"not_in inverts", models.OpNotIn, `"audio"`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := evalIsTranscoding(ctx, mkCond(models.FieldIsTranscoding, tt.op, tt.value))
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvalIsTranscodeDowngrade(t *testing.T) {
	s := sessionAt("s", "u1", testNow)
	s.Stream.VideoDecision = models.DecisionTranscode
	s.Stream.SourceWidth, s.Stream.SourceHeight = 3840, 2160
	s.Stream.OutputWidth, s.Stream.OutputHeight = 1280, 720
	ctx := testCtx(s)

	ok, err := evalIsTranscodeDowngrade(ctx, mkCond(models.FieldIsTranscodeDowngrade, models.OpEq, `true`))
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("4K to 720p transcode is a downgrade")
	}

	// Direct play is never a downgrade regardless of dimensions.
	s.Stream.VideoDecision = models.DecisionDirectPlay
	ok, err = evalIsTranscodeDowngrade(ctx, mkCond(models.FieldIsTranscodeDowngrade, models.OpEq, `true`))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("direct play must not register as a downgrade")
	}
}

func TestEvalSourceBitrateMbps(t *testing.T) {
	s := sessionAt("s", "u1", testNow)
	s.Stream.SourceBitrate = 25_000_000 // 25 Mbps
	ctx := testCtx(s)

	ok, err := evalSourceBitrateMbps(ctx, mkCond(models.FieldSourceBitrateMbps, models.OpGt, `20`))
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("25 Mbps should exceed 20")
	}
}

func TestNormalizeDeviceType(t *testing.T) {
	tests := []struct {
		device, platform string
		want             DeviceType
	}{
		{"Roku Ultra", "Roku", DeviceTV},
		{"SHIELD Android TV", "Android", DeviceTV},
		{"Samsung Galaxy Tab", "Android Tablet", DeviceTablet},
		{"iPhone 15", "iOS", DeviceMobile},
		{"Pixel 8", "Android", DeviceMobile},
		{"Chrome", "Windows", DeviceBrowser},
		{"Plex HTPC", "macOS", DeviceDesktop},
		{"", "", DeviceUnknown},
	}
	for _, tt := range tests {
		if got := NormalizeDeviceType(tt.device, tt.platform); got != tt.want {
			t.Errorf("NormalizeDeviceType(%q, %q) = %s, want %s", tt.device, tt.platform, got, tt.want)
		}
	}
}

func TestNormalizePlatform(t *testing.T) {
	tests := []struct {
		raw  string
		want PlatformName
	}{
		{"Android TV", PlatformAndroidTV},
		{"Android", PlatformAndroid},
		{"iOS", PlatformIOS},
		{"Windows", PlatformWindows},
		{"OS X", PlatformMacOS},
		{"Linux", PlatformLinux},
		{"tvOS", PlatformTvOS},
		{"Roku", PlatformRoku},
		{"webOS", PlatformWebOS},
		{"Tizen", PlatformTizen},
		{"", PlatformUnknown},
		{"BeOS", PlatformUnknown},
	}
	for _, tt := range tests {
		if got := NormalizePlatform(tt.raw); got != tt.want {
			t.Errorf("NormalizePlatform(%q) = %s, want %s", tt.raw, got, tt.want)
		}
	}
}

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"192.168.1.50", true},
		{"10.0.0.1", true},
		{"172.16.4.2", true},
		{"127.0.0.1", true},
		{"::1", true},
		{"203.0.113.9", false},
		{"8.8.8.8", false},
		{"", false},
		{"not-an-ip", false},
	}
	for _, tt := range tests {
		if got := IsPrivateIP(tt.ip); got != tt.want {
			t.Errorf("IsPrivateIP(%q) = %v, want %v", tt.ip, got, tt.want)
		}
	}
}

func TestEvalIPInRange(t *testing.T) {
	s := sessionAt("s", "u1", testNow)
	s.IPAddress = "192.168.1.1"
	ctx := testCtx(s)

	tests := []struct {
		name  string
		op    models.Operator
		value string
		want  bool
	}{
		{"bare address exact match", models.OpEq, `"192.168.1.1"`, true},
		{"bare address excludes neighbors", models.OpEq, `"192.168.1.2"`, false},
		{"cidr contains", models.OpIn, `["192.168.1.0/24"]`, true},
		{"cidr excludes", models.OpIn, `["10.0.0.0/8"]`, false},
		{"not_in inverts", models.OpNotIn, `["10.0.0.0/8"]`, true},
		{"multi-range any match", models.OpIn, `["10.0.0.0/8", "192.168.0.0/16"]`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := evalIPInRange(ctx, mkCond(models.FieldIPInRange, tt.op, tt.value))
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("invalid cidr errors", func(t *testing.T) {
		_, err := evalIPInRange(ctx, mkCond(models.FieldIPInRange, models.OpIn, `["300.1.1.1/24"]`))
		if err == nil {
			t.Fatal("expected invalid CIDR error")
		}
	})

	t.Run("unparseable session ip never matches", func(t *testing.T) {
		bad := sessionAt("b", "u1", testNow)
		bad.IPAddress = ""
		got, err := evalIPInRange(testCtx(bad), mkCond(models.FieldIPInRange, models.OpIn, `["0.0.0.0/0"]`))
		if err != nil {
			t.Fatal(err)
		}
		if got {
			t.Error("session without an IP must not match any range")
		}
	})
}

func TestEvalClientNameFallsBackToPlayer(t *testing.T) {
	s := sessionAt("s", "u1", testNow)
	s.Player = "Plex for Roku"
	ctx := testCtx(s)

	ok, err := evalClientName(ctx, mkCond(models.FieldClientName, models.OpContains, `"roku"`))
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("empty product should fall back to player name")
	}
}

func TestEvalTrustScoreAndAccountAge(t *testing.T) {
	s := sessionAt("s", "u1", testNow)
	ctx := testCtx(s)
	ctx.User.TrustScore = 40

	ok, err := evalTrustScore(ctx, mkCond(models.FieldTrustScore, models.OpLt, `50`))
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("trust 40 should be < 50")
	}

	// User created 90 days before Now in testCtx.
	ok, err = evalAccountAgeDays(ctx, mkCond(models.FieldAccountAgeDays, models.OpLt, `30`))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("90-day-old account is not younger than 30 days")
	}
}

func TestEvaluatorForCoversAllFields(t *testing.T) {
	fields := []models.ConditionField{
		models.FieldConcurrentStreams, models.FieldActiveSessionDistanceKm,
		models.FieldTravelSpeedKmh, models.FieldUniqueIPsInWindow,
		models.FieldUniqueDevicesInWindow, models.FieldInactiveDays,
		models.FieldSourceResolution, models.FieldOutputResolution,
		models.FieldIsTranscoding, models.FieldIsTranscodeDowngrade,
		models.FieldSourceBitrateMbps, models.FieldUserID, models.FieldServerID,
		models.FieldMediaType, models.FieldLibraryID, models.FieldTrustScore,
		models.FieldAccountAgeDays, models.FieldDeviceType, models.FieldClientName,
		models.FieldPlatform, models.FieldIsLocalNetwork, models.FieldCountry,
		models.FieldIPInRange,
	}
	for _, f := range fields {
		if _, err := EvaluatorFor(f); err != nil {
			t.Errorf("no evaluator registered for %s: %v", f, err)
		}
	}
	if _, err := EvaluatorFor("no_such_field"); err == nil {
		t.Error("unknown field should be an error, not a silent pass")
	}
}
