// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/streamwarden/streamwarden/internal/api"
	"github.com/streamwarden/streamwarden/internal/cache"
	"github.com/streamwarden/streamwarden/internal/database"
	"github.com/streamwarden/streamwarden/internal/eventprocessor"
	"github.com/streamwarden/streamwarden/internal/geoip"
	"github.com/streamwarden/streamwarden/internal/logging"
	"github.com/streamwarden/streamwarden/internal/models"
	"github.com/streamwarden/streamwarden/internal/notifications"
	syncpkg "github.com/streamwarden/streamwarden/internal/sync"
)

// Config is the root configuration for the whole process. Sections that
// belong to a single package embed that package's own config struct so
// defaults and validation live next to the code they tune.
type Config struct {
	Logging       logging.Config      `koanf:"logging"`
	Database      database.Config     `koanf:"database"`
	Redis         cache.RedisConfig   `koanf:"redis"`
	Events        EventsConfig        `koanf:"events"`
	Sync          syncpkg.Config      `koanf:"sync"`
	Geo           geoip.Config        `koanf:"geo"`
	API           api.Config          `koanf:"api"`
	HeavyOps      HeavyOpsConfig      `koanf:"heavy_ops"`
	Trust         TrustConfig         `koanf:"trust"`
	Notifications NotificationsConfig `koanf:"notifications"`
	Updates       UpdatesConfig       `koanf:"updates"`
	Servers       []ServerEntry       `koanf:"servers" validate:"dive"`
}

// RedisEnabled reports whether a Redis backend is configured. Redis
// backs the heavy-operations lock; without it the lock falls back to an
// in-process KV and only guards against concurrency within one instance.
func (c *Config) RedisEnabled() bool {
	return len(c.Redis.Addrs) > 0
}

// HeavyOpsConfig tunes the heavy-operations lock.
type HeavyOpsConfig struct {
	// LockTTL bounds how long a crashed holder can keep the lock.
	// Zero uses the package default.
	LockTTL time.Duration `koanf:"lock_ttl"`
}

// EventsConfig selects and tunes the event transport.
type EventsConfig struct {
	// Transport is "channel" for the in-process bus or "nats" for
	// JetStream.
	Transport string `koanf:"transport" validate:"oneof=channel nats"`

	NATS eventprocessor.NATSConfig `koanf:"nats"`

	// Embedded starts an in-process NATS server instead of dialing an
	// external one. Only meaningful when Transport is "nats".
	Embedded bool                        `koanf:"embedded"`
	Server   eventprocessor.ServerConfig `koanf:"server"`
}

// TrustConfig tunes passive trust-score recovery.
type TrustConfig struct {
	// RecoveryInterval is how often below-baseline scores tick back up.
	// Zero disables recovery.
	RecoveryInterval time.Duration `koanf:"recovery_interval"`

	// RecoveryPoints is how many points each tick restores.
	RecoveryPoints int `koanf:"recovery_points" validate:"min=0"`
}

// NotificationsConfig configures the delivery agents and per-type
// routing. A channel with no settings stays disabled; the dispatcher
// skips disabled agents.
type NotificationsConfig struct {
	Discord notifications.DiscordConfig `koanf:"discord"`
	Webhook notifications.WebhookConfig `koanf:"webhook"`

	// Routes overrides the default type-to-channel routing table. Keys
	// are notification types, values are channel names.
	Routes map[string][]string `koanf:"routes"`
}

// RoutingTable converts the configured routes into the dispatcher's
// table, falling back to the defaults when nothing is set.
func (n NotificationsConfig) RoutingTable() notifications.RoutingTable {
	if len(n.Routes) == 0 {
		return notifications.DefaultRoutingTable()
	}
	table := make(notifications.RoutingTable, len(n.Routes))
	for typ, channels := range n.Routes {
		table[notifications.Type(typ)] = channels
	}
	return table
}

// UpdatesConfig tunes the background release check.
type UpdatesConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Interval time.Duration `koanf:"interval"`
	Endpoint string        `koanf:"endpoint"`
}

// ServerEntry is one monitored media server as written in the config
// file. Entries are upserted into the database at startup; the ID is
// derived from the URL when not set so re-runs stay stable.
type ServerEntry struct {
	ID      string `koanf:"id"`
	Type    string `koanf:"type" validate:"required,oneof=plex jellyfin emby"`
	Name    string `koanf:"name"`
	URL     string `koanf:"url" validate:"required,url"`
	Token   string `koanf:"token" validate:"required"`
	Enabled *bool  `koanf:"enabled"`
}

// Model converts the entry into the persisted server record.
func (e ServerEntry) Model() *models.Server {
	id := e.ID
	if id == "" {
		id = uuid.NewSHA1(uuid.NameSpaceURL, []byte(e.URL)).String()
	}
	name := e.Name
	if name == "" {
		name = fmt.Sprintf("%s @ %s", e.Type, e.URL)
	}
	enabled := true
	if e.Enabled != nil {
		enabled = *e.Enabled
	}
	return &models.Server{
		ID:      id,
		Type:    models.ServerType(strings.ToLower(e.Type)),
		Name:    name,
		URL:     strings.TrimRight(e.URL, "/"),
		Token:   e.Token,
		Enabled: enabled,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration for structural problems beyond what
// unmarshaling catches: missing required fields, unknown enum values,
// duplicate server IDs, and a Redis section that is enabled but empty.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Redis.Mode == cache.ModeSentinel && c.Redis.MasterName == "" {
		return fmt.Errorf("redis.master_name is required in sentinel mode")
	}

	seen := make(map[string]string, len(c.Servers))
	for _, entry := range c.Servers {
		id := entry.Model().ID
		if other, dup := seen[id]; dup {
			return fmt.Errorf("servers %q and %q resolve to the same id %s", other, entry.URL, id)
		}
		seen[id] = entry.URL
	}

	for typ := range c.Notifications.Routes {
		switch notifications.Type(typ) {
		case notifications.TypeViolation, notifications.TypeRuleTriggered,
			notifications.TypeSessionStopped, notifications.TypeServerDown,
			notifications.TypeServerUp:
		default:
			return fmt.Errorf("notifications.routes: unknown notification type %q", typ)
		}
	}

	return nil
}
