// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package rules

import "strings"

// ResolutionLabel is a canonical resolution class.
type ResolutionLabel string

const (
	Resolution4K      ResolutionLabel = "4K"
	Resolution1080p   ResolutionLabel = "1080p"
	Resolution720p    ResolutionLabel = "720p"
	Resolution480p    ResolutionLabel = "480p"
	ResolutionSD      ResolutionLabel = "SD"
	ResolutionUnknown ResolutionLabel = "unknown"
)

// ClassifyResolution buckets width x height into a canonical label.
//
// Classification is aspect-aware: anamorphic and cropped media report
// heights below the nominal class (a 2.4:1 "1080p" movie is 1920x800), so
// width is checked alongside height, and pixel area settles the edge cases.
func ClassifyResolution(width, height int) ResolutionLabel {
	if width <= 0 || height <= 0 {
		return ResolutionUnknown
	}
	area := width * height

	switch {
	case height >= 2000 || width >= 3600 || area >= 3840*1600:
		return Resolution4K
	case height >= 1000 || width >= 1900 || area >= 1920*800:
		return Resolution1080p
	case height >= 690 || width >= 1260 || area >= 1280*530:
		return Resolution720p
	case height >= 460 || width >= 840 || area >= 854*360:
		return Resolution480p
	default:
		return ResolutionSD
	}
}

// resolutionHeights maps labels to canonical pixel heights for numeric
// comparison (gt/lt on resolution conditions).
var resolutionHeights = map[ResolutionLabel]float64{
	Resolution4K:      2160,
	Resolution1080p:   1080,
	Resolution720p:    720,
	Resolution480p:    480,
	ResolutionSD:      360,
	ResolutionUnknown: 0,
}

// ResolutionHeight converts a label (in any casing) to its canonical
// pixel height; unrecognized labels rank as unknown (0).
func ResolutionHeight(label string) float64 {
	switch strings.ToLower(label) {
	case "4k", "2160p", "uhd":
		return resolutionHeights[Resolution4K]
	case "1080p", "1080":
		return resolutionHeights[Resolution1080p]
	case "720p", "720":
		return resolutionHeights[Resolution720p]
	case "480p", "480":
		return resolutionHeights[Resolution480p]
	case "sd":
		return resolutionHeights[ResolutionSD]
	default:
		return resolutionHeights[ResolutionUnknown]
	}
}

// DeviceType is a canonical device class.
type DeviceType string

const (
	DeviceTV      DeviceType = "tv"
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
	DeviceDesktop DeviceType = "desktop"
	DeviceBrowser DeviceType = "browser"
	DeviceUnknown DeviceType = "unknown"
)

var (
	tvKeywords      = []string{"roku", "webos", "tizen", "firetv", "fire tv", "androidtv", "android tv", "chromecast", "apple tv", "tvos", "shield", "bravia", "tv"}
	tabletKeywords  = []string{"ipad", "tablet"}
	mobileKeywords  = []string{"iphone", "ios", "android", "phone", "mobile"}
	desktopKeywords = []string{"windows", "macos", "osx", "os x", "linux"}
	browserKeywords = []string{"chrome", "chromium", "firefox", "safari", "edge", "opera", "web"}
)

// NormalizeDeviceType classifies raw device and platform strings into a
// canonical device class via keyword matching. Tablet keywords are checked
// before mobile ones because "android tablet" contains both.
func NormalizeDeviceType(device, platform string) DeviceType {
	raw := strings.ToLower(device + " " + platform)

	if containsAny(raw, tvKeywords) {
		return DeviceTV
	}
	if containsAny(raw, tabletKeywords) {
		return DeviceTablet
	}
	if containsAny(raw, mobileKeywords) {
		return DeviceMobile
	}
	if containsAny(raw, browserKeywords) {
		return DeviceBrowser
	}
	if containsAny(raw, desktopKeywords) {
		return DeviceDesktop
	}
	return DeviceUnknown
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// PlatformName is a canonical platform identifier.
type PlatformName string

const (
	PlatformIOS       PlatformName = "ios"
	PlatformAndroid   PlatformName = "android"
	PlatformAndroidTV PlatformName = "androidtv"
	PlatformWindows   PlatformName = "windows"
	PlatformMacOS     PlatformName = "macos"
	PlatformLinux     PlatformName = "linux"
	PlatformTvOS      PlatformName = "tvos"
	PlatformRoku      PlatformName = "roku"
	PlatformWebOS     PlatformName = "webos"
	PlatformTizen     PlatformName = "tizen"
	PlatformUnknown   PlatformName = "unknown"
)

// NormalizePlatform maps a raw platform string to the closed platform set.
// A missing platform (Jellyfin and Emby frequently omit it) normalizes to
// unknown.
func NormalizePlatform(platform string) PlatformName {
	raw := strings.ToLower(strings.TrimSpace(platform))
	switch {
	case raw == "":
		return PlatformUnknown
	case strings.Contains(raw, "android tv"), strings.Contains(raw, "androidtv"):
		return PlatformAndroidTV
	case strings.Contains(raw, "ios"), strings.Contains(raw, "iphone"), strings.Contains(raw, "ipad"):
		return PlatformIOS
	case strings.Contains(raw, "android"):
		return PlatformAndroid
	case strings.Contains(raw, "windows"):
		return PlatformWindows
	case strings.Contains(raw, "macos"), strings.Contains(raw, "osx"), strings.Contains(raw, "os x"), strings.Contains(raw, "darwin"):
		return PlatformMacOS
	case strings.Contains(raw, "linux"):
		return PlatformLinux
	case strings.Contains(raw, "tvos"), strings.Contains(raw, "apple tv"):
		return PlatformTvOS
	case strings.Contains(raw, "roku"):
		return PlatformRoku
	case strings.Contains(raw, "webos"):
		return PlatformWebOS
	case strings.Contains(raw, "tizen"):
		return PlatformTizen
	default:
		return PlatformUnknown
	}
}
