// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/streamwarden/streamwarden/internal/api"
	"github.com/streamwarden/streamwarden/internal/cache"
	"github.com/streamwarden/streamwarden/internal/config"
	"github.com/streamwarden/streamwarden/internal/database"
	"github.com/streamwarden/streamwarden/internal/eventprocessor"
	"github.com/streamwarden/streamwarden/internal/geoip"
	"github.com/streamwarden/streamwarden/internal/heavyops"
	"github.com/streamwarden/streamwarden/internal/logging"
	"github.com/streamwarden/streamwarden/internal/metrics"
	"github.com/streamwarden/streamwarden/internal/notifications"
	"github.com/streamwarden/streamwarden/internal/rules"
	"github.com/streamwarden/streamwarden/internal/session"
	"github.com/streamwarden/streamwarden/internal/supervisor"
	syncmgr "github.com/streamwarden/streamwarden/internal/sync"
	"github.com/streamwarden/streamwarden/internal/updater"
	"github.com/streamwarden/streamwarden/internal/websocket"
)

// version is stamped by the release build via -ldflags.
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(cfg.Logging)

	logging.Info().
		Str("version", version).
		Str("db_path", cfg.Database.Path).
		Str("transport", cfg.Events.Transport).
		Bool("redis", cfg.RedisEnabled()).
		Int("servers", len(cfg.Servers)).
		Msg("starting streamwarden")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("database close failed")
		}
	}()

	// Live-session view, heavy-ops KV, and session event fanout. With
	// Redis they are shared across processes; without, in-process only.
	hub := websocket.NewHub()
	var (
		sessionCache session.Cache
		lockKV       heavyops.KV
		sessionEvts  session.EventPublisher
		redisBridge  *websocket.RedisBridge
	)
	if cfg.RedisEnabled() {
		client, err := cache.NewUniversalClient(ctx, cfg.Redis)
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer func() { _ = client.Close() }()

		events := cache.NewSessionEvents(client)
		sessionCache = cache.NewSessionCache(client)
		lockKV = cache.NewRedisKV(client)
		sessionEvts = events
		redisBridge = websocket.NewRedisBridge(hub, events)
	} else {
		sessionCache = cache.NewMemorySessionCache()
		lockKV = cache.NewMemoryKV()
		sessionEvts = websocket.NewPublisher(hub)
	}
	heavyLock := heavyops.NewLock(lockKV, cfg.HeavyOps.LockTTL)

	transport, embedded, err := buildTransport(cfg.Events)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to start event transport")
	}
	defer func() { _ = transport.Close() }()
	if embedded != nil {
		defer embedded.Shutdown()
	}

	queue := notifications.NewWatermillQueue(transport.Publisher)
	dispatcher := notifications.NewDispatcher(transport.Subscriber, cfg.Notifications.RoutingTable())
	dispatcher.RegisterAgent(notifications.NewDiscordAgent(cfg.Notifications.Discord))
	dispatcher.RegisterAgent(notifications.NewWebhookAgent(cfg.Notifications.Webhook))
	// Disabled until a push transport is configured; keeps the push
	// channel a silent skip instead of a per-notification warning.
	dispatcher.RegisterAgent(notifications.NewPushAgent(nil))

	resolver, err := geoip.NewResolver(cfg.Geo)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to configure geolocation")
	}
	var geo syncmgr.GeoResolver
	if resolver != nil {
		geo = resolver
	}

	publisher := eventprocessor.NewEventPublisher(transport.Publisher)
	syncManager := syncmgr.NewManager(cfg.Sync, publisher, db, db, queue, geo)

	executor := rules.NewExecutor(db, db, db, syncManager, queue)
	engine := rules.NewEngine(executor, metrics.Recorder{})
	policy := rules.NewService(engine, db, db, db, db)

	sessions := session.NewManager(db, sessionCache, sessionEvts, queue, policy)

	router, err := eventprocessor.NewRouter(nil, transport.Publisher, nil)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to build event router")
	}
	eventprocessor.NewLifecycleHandler(sessions, metrics.Recorder{}).Register(router, transport.Subscriber)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{})

	tree.AddEventService(supervisor.ServiceFunc(router.Run))
	tree.AddEventService(dispatcher)
	if cfg.Trust.RecoveryInterval > 0 && cfg.Trust.RecoveryPoints > 0 {
		tree.AddEventService(trustRecoveryService(db, cfg.Trust))
	}
	if cfg.Updates.Enabled {
		tree.AddEventService(updater.NewChecker(version, cfg.Updates.Endpoint, cfg.Updates.Interval))
	}

	if err := startServers(ctx, cfg, db, syncManager, tree); err != nil {
		logging.Fatal().Err(err).Msg("failed to start media server monitors")
	}

	apiServer := api.NewServer(cfg.API, db, syncManager, engine, heavyLock, syncManager.Reconciler(), hub, version)
	tree.AddAPIService(hub)
	if redisBridge != nil {
		tree.AddAPIService(redisBridge)
	}
	tree.AddAPIService(apiServer)

	logging.Info().Str("listen_addr", cfg.API.ListenAddr).Msg("supervisor tree starting")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("supervisor tree stopped with error")
	}
	syncManager.Close()

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("service did not stop within timeout")
	}
	logging.Info().Msg("stopped")
}

// buildTransport starts the configured event transport, including the
// embedded NATS server when requested.
func buildTransport(cfg config.EventsConfig) (*eventprocessor.Transport, *eventprocessor.EmbeddedServer, error) {
	if cfg.Transport != "nats" {
		return eventprocessor.NewGoChannelTransport(nil), nil, nil
	}

	var embedded *eventprocessor.EmbeddedServer
	natsCfg := cfg.NATS
	if cfg.Embedded {
		var err error
		embedded, err = eventprocessor.NewEmbeddedServer(cfg.Server)
		if err != nil {
			return nil, nil, err
		}
		natsCfg.URL = embedded.ClientURL()
	}

	transport, err := eventprocessor.NewNATSTransport(natsCfg, nil)
	if err != nil {
		if embedded != nil {
			embedded.Shutdown()
		}
		return nil, nil, err
	}
	return transport, embedded, nil
}

// startServers reconciles the configured server list into the database
// and starts a poller and push listener pair for every enabled server.
func startServers(ctx context.Context, cfg *config.Config, db *database.DB, mgr *syncmgr.Manager, tree *supervisor.Tree) error {
	for _, entry := range cfg.Servers {
		if err := db.UpsertServer(ctx, entry.Model()); err != nil {
			return err
		}
	}

	servers, err := db.ListServers(ctx)
	if err != nil {
		return err
	}
	for _, srv := range servers {
		if !srv.Enabled {
			logging.Info().Str("server_id", srv.ID).Str("name", srv.Name).Msg("server disabled, skipping")
			continue
		}
		services, err := mgr.AddServer(srv)
		if err != nil {
			return err
		}
		tree.AddServerServices(srv.ID, services...)
		logging.Info().
			Str("server_id", srv.ID).
			Str("type", string(srv.Type)).
			Str("name", srv.Name).
			Msg("monitoring media server")
	}
	return nil
}

// trustRecoveryService periodically raises below-baseline trust scores,
// so old violations age out of a user's standing.
func trustRecoveryService(db *database.DB, cfg config.TrustConfig) supervisor.ServiceFunc {
	return func(ctx context.Context) error {
		ticker := time.NewTicker(cfg.RecoveryInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				n, err := db.RecoverTrustScores(ctx, cfg.RecoveryPoints)
				if err != nil {
					logging.Error().Err(err).Msg("trust recovery pass failed")
					continue
				}
				if n > 0 {
					logging.Info().Int64("users", n).Int("points", cfg.RecoveryPoints).Msg("trust scores recovered")
				}
			}
		}
	}
}
