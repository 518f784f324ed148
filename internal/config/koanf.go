// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/streamwarden/streamwarden/internal/api"
	"github.com/streamwarden/streamwarden/internal/cache"
	"github.com/streamwarden/streamwarden/internal/database"
	"github.com/streamwarden/streamwarden/internal/eventprocessor"
	"github.com/streamwarden/streamwarden/internal/geoip"
	"github.com/streamwarden/streamwarden/internal/logging"
	syncpkg "github.com/streamwarden/streamwarden/internal/sync"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/streamwarden/config.yaml",
	"/etc/streamwarden/config.yml",
}

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with every section at its production
// default. These are applied first and overridden by the config file and
// then environment variables.
func defaultConfig() *Config {
	return &Config{
		Logging:  logging.DefaultConfig(),
		Database: database.Config{Path: "/data/streamwarden.duckdb"},
		Redis: cache.RedisConfig{
			Mode:  cache.ModeSingle,
			Addrs: nil, // empty means no Redis; heavy-ops lock runs in-process
		},
		Events: EventsConfig{
			Transport: "channel",
			NATS:      eventprocessor.DefaultNATSConfig("nats://127.0.0.1:4222"),
			Embedded:  false,
			Server:    eventprocessor.DefaultServerConfig(),
		},
		Sync: syncpkg.DefaultConfig(),
		Geo:  geoip.DefaultConfig(),
		API:  api.DefaultConfig(),
		Trust: TrustConfig{
			RecoveryInterval: 24 * time.Hour,
			RecoveryPoints:   1,
		},
		Updates: UpdatesConfig{
			Enabled:  true,
			Interval: 24 * time.Hour,
		},
	}
}

// Load builds the configuration in three layers with clear precedence:
// environment variables over config file over built-in defaults. The
// config file is optional; a missing file is not an error.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// findConfigFile returns the first config file that exists, checking the
// CONFIG_PATH override before the default search paths.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths lists the paths whose env-var values arrive as
// comma-separated strings but unmarshal into slices.
var sliceConfigPaths = []string{
	"redis.addrs",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envMappings maps environment variable names (lowercased) to config
// paths. Unmapped variables are ignored so unrelated environment noise
// never leaks into the configuration.
var envMappings = map[string]string{
	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	// Database
	"duckdb_path":       "database.path",
	"duckdb_threads":    "database.threads",
	"duckdb_max_memory": "database.max_memory",

	// Redis / heavy-ops lock
	"redis_mode":         "redis.mode",
	"redis_addrs":        "redis.addrs",
	"redis_master_name":  "redis.master_name",
	"redis_username":     "redis.username",
	"redis_password":     "redis.password",
	"redis_db":           "redis.db",
	"heavy_ops_lock_ttl": "heavy_ops.lock_ttl",

	// Event transport
	"events_transport":         "events.transport",
	"nats_url":                 "events.nats.url",
	"nats_durable_name":        "events.nats.durable_name",
	"nats_queue_group":         "events.nats.queue_group",
	"nats_subscribers":         "events.nats.subscribers_count",
	"nats_ack_wait":            "events.nats.ack_wait_timeout",
	"nats_embedded":            "events.embedded",
	"nats_store_dir":           "events.server.store_dir",
	"nats_jetstream_max_mem":   "events.server.jetstream_max_mem",
	"nats_jetstream_max_store": "events.server.jetstream_max_store",

	// Sync
	"sync_poll_interval":     "sync.poll_interval",
	"sync_stale_after":       "sync.stale_after",
	"sync_down_notify_delay": "sync.down_notify_delay",

	// Geolocation
	"geo_provider":            "geo.provider",
	"geo_maxmind_account_id":  "geo.maxmind_account_id",
	"geo_maxmind_license_key": "geo.maxmind_license_key",
	"geo_cache_size":          "geo.cache_size",
	"geo_cache_ttl":           "geo.cache_ttl",

	// API
	"api_listen_addr":        "api.listen_addr",
	"api_request_timeout":    "api.request_timeout",
	"api_rate_limit_per_min": "api.rate_limit_per_min",

	// Trust recovery
	"trust_recovery_interval": "trust.recovery_interval",
	"trust_recovery_points":   "trust.recovery_points",

	// Notifications
	"discord_webhook_url":   "notifications.discord.webhook_url",
	"discord_rate_limit_ms": "notifications.discord.rate_limit_ms",
	"notify_webhook_url":    "notifications.webhook.url",
	"notify_webhook_format": "notifications.webhook.format",

	// Update checks
	"update_check_enabled":  "updates.enabled",
	"update_check_interval": "updates.interval",
	"update_check_endpoint": "updates.endpoint",
}

// envTransform maps an environment variable to its config path, or ""
// to skip it. A STREAMWARDEN_ prefix is accepted and stripped, so both
// LOG_LEVEL and STREAMWARDEN_LOG_LEVEL work. Server entries are
// file-only: lists do not map cleanly onto flat environment variables.
func envTransform(key string) string {
	key = strings.ToLower(key)
	key = strings.TrimPrefix(key, "streamwarden_")
	return envMappings[key]
}
