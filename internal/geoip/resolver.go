// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package geoip

import (
	"context"
	"fmt"
	"time"

	"github.com/streamwarden/streamwarden/internal/cache"
	"github.com/streamwarden/streamwarden/internal/logging"
	"github.com/streamwarden/streamwarden/internal/models"
	"github.com/streamwarden/streamwarden/internal/rules"
)

// Config selects and tunes the geolocation provider.
type Config struct {
	// Provider is "maxmind", "ip-api", or "" to disable geolocation.
	Provider string `koanf:"provider"`

	MaxMindAccountID  string `koanf:"maxmind_account_id"`
	MaxMindLicenseKey string `koanf:"maxmind_license_key"`

	CacheSize int           `koanf:"cache_size"`
	CacheTTL  time.Duration `koanf:"cache_ttl"`
}

// DefaultConfig returns production defaults: the keyless ip-api.com
// provider behind a day-long cache.
func DefaultConfig() Config {
	return Config{
		Provider:  "ip-api",
		CacheSize: 10_000,
		CacheTTL:  24 * time.Hour,
	}
}

// Resolver caches provider lookups per IP. Residential IPs change
// rarely relative to session churn, so the cache absorbs nearly all
// lookups and keeps the free-tier provider quotas intact.
type Resolver struct {
	provider Provider
	cache    *cache.LRU
}

// NewResolver builds a resolver from config. A nil return with nil
// error means geolocation is disabled.
func NewResolver(cfg Config) (*Resolver, error) {
	var provider Provider
	switch cfg.Provider {
	case "":
		return nil, nil
	case "maxmind":
		provider = NewMaxMindProvider(cfg.MaxMindAccountID, cfg.MaxMindLicenseKey)
	case "ip-api":
		provider = NewIPAPIProvider()
	default:
		return nil, fmt.Errorf("unknown geoip provider %q", cfg.Provider)
	}
	if !provider.Available() {
		return nil, fmt.Errorf("geoip provider %s is not configured", provider.Name())
	}

	logging.Info().Str("provider", provider.Name()).Msg("geolocation enabled")
	return &Resolver{
		provider: provider,
		cache:    cache.NewLRU(cfg.CacheSize, cfg.CacheTTL),
	}, nil
}

// NewResolverWithProvider wires an explicit provider (tests, custom
// deployments).
func NewResolverWithProvider(provider Provider, cacheSize int, ttl time.Duration) *Resolver {
	return &Resolver{
		provider: provider,
		cache:    cache.NewLRU(cacheSize, ttl),
	}
}

// Resolve returns the location for an IP. Private and loopback
// addresses resolve to an empty location without consulting the
// provider; provider failures are not cached so the next session
// retries.
func (r *Resolver) Resolve(ctx context.Context, ip string) (models.GeoLocation, error) {
	if rules.IsPrivateIP(ip) {
		return models.GeoLocation{}, nil
	}

	if cached, ok := r.cache.Get(ip); ok {
		return cached.(models.GeoLocation), nil
	}

	geo, err := r.provider.Lookup(ctx, ip)
	if err != nil {
		return models.GeoLocation{}, fmt.Errorf("%s lookup: %w", r.provider.Name(), err)
	}

	r.cache.Add(ip, geo)
	return geo, nil
}
