// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package geoip

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/streamwarden/streamwarden/internal/models"
)

// Provider looks up the geographic location of a public IP address.
type Provider interface {
	Lookup(ctx context.Context, ip string) (models.GeoLocation, error)
	// Name identifies the provider in logs.
	Name() string
	// Available reports whether the provider is configured.
	Available() bool
}

// MaxMindProvider queries MaxMind's GeoLite2 web service. Requires a
// free account; the free tier allows 1,000 lookups per day, so the
// resolver's cache sits in front of it.
type MaxMindProvider struct {
	client     *http.Client
	accountID  string
	licenseKey string
	baseURL    string
}

// NewMaxMindProvider creates a GeoLite2 web service provider.
func NewMaxMindProvider(accountID, licenseKey string) *MaxMindProvider {
	return &MaxMindProvider{
		client:     &http.Client{Timeout: 10 * time.Second},
		accountID:  accountID,
		licenseKey: licenseKey,
		baseURL:    "https://geolite.info/geoip/v2.1/city",
	}
}

func (p *MaxMindProvider) Name() string { return "maxmind-geolite2" }

func (p *MaxMindProvider) Available() bool {
	return p.accountID != "" && p.licenseKey != ""
}

type maxMindResponse struct {
	City struct {
		Names map[string]string `json:"names"`
	} `json:"city"`
	Continent struct {
		Names map[string]string `json:"names"`
	} `json:"continent"`
	Country struct {
		ISOCode string            `json:"iso_code"`
		Names   map[string]string `json:"names"`
	} `json:"country"`
	Location struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"location"`
	Postal struct {
		Code string `json:"code"`
	} `json:"postal"`
	Subdivisions []struct {
		Names map[string]string `json:"names"`
	} `json:"subdivisions"`
	Traits struct {
		AutonomousSystemNumber       int    `json:"autonomous_system_number"`
		AutonomousSystemOrganization string `json:"autonomous_system_organization"`
	} `json:"traits"`
}

// Lookup queries the GeoLite2 city endpoint with basic auth.
func (p *MaxMindProvider) Lookup(ctx context.Context, ip string) (models.GeoLocation, error) {
	if !p.Available() {
		return models.GeoLocation{}, fmt.Errorf("maxmind credentials not configured")
	}
	if _, err := netip.ParseAddr(ip); err != nil {
		return models.GeoLocation{}, fmt.Errorf("invalid ip %q: %w", ip, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/"+url.PathEscape(ip), nil)
	if err != nil {
		return models.GeoLocation{}, fmt.Errorf("build maxmind request: %w", err)
	}
	req.SetBasicAuth(p.accountID, p.licenseKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return models.GeoLocation{}, fmt.Errorf("query maxmind: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Code  string `json:"code"`
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return models.GeoLocation{}, fmt.Errorf("maxmind %s: %s", apiErr.Code, apiErr.Error)
		}
		return models.GeoLocation{}, fmt.Errorf("maxmind returned %d", resp.StatusCode)
	}

	var result maxMindResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return models.GeoLocation{}, fmt.Errorf("decode maxmind response: %w", err)
	}

	geo := models.GeoLocation{
		City:            result.City.Names["en"],
		Country:         result.Country.Names["en"],
		Continent:       result.Continent.Names["en"],
		Postal:          result.Postal.Code,
		Latitude:        result.Location.Latitude,
		Longitude:       result.Location.Longitude,
		ASNNumber:       result.Traits.AutonomousSystemNumber,
		ASNOrganization: result.Traits.AutonomousSystemOrganization,
	}
	if len(result.Subdivisions) > 0 {
		geo.Region = result.Subdivisions[0].Names["en"]
	}
	return geo, nil
}

// IPAPIProvider queries the free ip-api.com service. No API key, but
// the free tier allows 45 requests per minute; a token bucket enforces
// that client-side.
type IPAPIProvider struct {
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
}

// NewIPAPIProvider creates an ip-api.com provider on the free tier.
func NewIPAPIProvider() *IPAPIProvider {
	return &IPAPIProvider{
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Every(time.Minute/45), 45),
		baseURL: "http://ip-api.com/json",
	}
}

func (p *IPAPIProvider) Name() string    { return "ip-api.com" }
func (p *IPAPIProvider) Available() bool { return true }

type ipAPIResponse struct {
	Status     string  `json:"status"`
	Message    string  `json:"message"`
	Country    string  `json:"country"`
	RegionName string  `json:"regionName"`
	City       string  `json:"city"`
	Zip        string  `json:"zip"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	AS         string  `json:"as"`
}

// Lookup queries ip-api.com, respecting the client-side rate limit.
func (p *IPAPIProvider) Lookup(ctx context.Context, ip string) (models.GeoLocation, error) {
	if !p.limiter.Allow() {
		return models.GeoLocation{}, fmt.Errorf("ip-api.com rate limit exhausted")
	}
	if _, err := netip.ParseAddr(ip); err != nil {
		return models.GeoLocation{}, fmt.Errorf("invalid ip %q: %w", ip, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/"+url.PathEscape(ip), nil)
	if err != nil {
		return models.GeoLocation{}, fmt.Errorf("build ip-api request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return models.GeoLocation{}, fmt.Errorf("query ip-api: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return models.GeoLocation{}, fmt.Errorf("ip-api returned %d", resp.StatusCode)
	}

	var result ipAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return models.GeoLocation{}, fmt.Errorf("decode ip-api response: %w", err)
	}
	if result.Status != "success" {
		return models.GeoLocation{}, fmt.Errorf("ip-api lookup failed: %s", result.Message)
	}

	geo := models.GeoLocation{
		City:      result.City,
		Region:    result.RegionName,
		Country:   result.Country,
		Postal:    result.Zip,
		Latitude:  result.Lat,
		Longitude: result.Lon,
	}
	geo.ASNNumber, geo.ASNOrganization = parseASN(result.AS)
	return geo, nil
}

// parseASN splits ip-api's "AS15169 Google LLC" form.
func parseASN(as string) (int, string) {
	if !strings.HasPrefix(as, "AS") {
		return 0, as
	}
	num, org, found := strings.Cut(as[2:], " ")
	n, err := strconv.Atoi(num)
	if err != nil {
		return 0, as
	}
	if !found {
		return n, ""
	}
	return n, org
}
