// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

// Package geoip resolves session IP addresses to geographic locations.
//
// Lookups go through a pluggable provider (MaxMind GeoLite2 web
// service or the keyless ip-api.com free tier) behind an in-process
// LRU cache, so free-tier quotas survive session churn. Private and
// loopback addresses never reach a provider.
package geoip
