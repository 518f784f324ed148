// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Playback event pipeline
	EventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_events_processed_total",
			Help: "Total number of playback events processed by the lifecycle handler",
		},
		[]string{"event_type"},
	)

	EventsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_events_failed_total",
			Help: "Total number of playback events that exhausted handler retries",
		},
		[]string{"event_type"},
	)

	ActiveSessions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "active_sessions",
			Help: "Current number of active playback sessions per server",
		},
		[]string{"server_id"},
	)

	// Rule engine
	RulesEvaluated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rules_evaluated_total",
			Help: "Total number of rule evaluations",
		},
		[]string{"rule_id", "matched"},
	)

	RuleEvaluationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rule_evaluation_errors_total",
			Help: "Total number of rule evaluations that errored",
		},
		[]string{"rule_id"},
	)

	ActionsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rule_actions_executed_total",
			Help: "Total number of enforcement actions executed",
		},
		[]string{"action", "result"}, // result: "ok", "error"
	)

	SessionsKilled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessions_killed_total",
			Help: "Total number of streams terminated by rule enforcement",
		},
		[]string{"server_id"},
	)

	// Media server sync
	PollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "server_poll_duration_seconds",
			Help:    "Duration of media server session polls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"server_id"},
	)

	PollErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "server_poll_errors_total",
			Help: "Total number of failed media server polls",
		},
		[]string{"server_id"},
	)

	ServerReachable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_server_reachable",
			Help: "Whether the media server answered its last poll (1) or is down (0)",
		},
		[]string{"server_id"},
	)

	PushConnected = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "push_listener_connected",
			Help: "Whether the websocket push listener is connected (1) or reconnecting (0)",
		},
		[]string{"server_id"},
	)

	// Geolocation
	GeoLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoip_lookups_total",
			Help: "Total number of geolocation provider lookups",
		},
		[]string{"provider", "result"},
	)

	GeoCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geoip_cache_hits_total",
			Help: "Total number of geolocation cache hits",
		},
	)

	// Notifications
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Total number of notifications dispatched",
		},
		[]string{"channel", "result"},
	)

	// Heavy operations lock
	HeavyOpsLockHeld = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "heavy_ops_lock_held",
			Help: "Whether the heavy operations lock is currently held (1) or free (0)",
		},
	)

	HeavyOpsLockContentions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heavy_ops_lock_contentions_total",
			Help: "Total number of lock acquisitions rejected because another job holds it",
		},
		[]string{"job_type"},
	)

	// API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	// Trust scores
	TrustScoreAdjustments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trust_score_adjustments_total",
			Help: "Total number of trust score mutations",
		},
		[]string{"direction"}, // "penalty", "recovery", "restore"
	)
)

// RecordPoll records one poll attempt against a media server.
func RecordPoll(serverID string, duration time.Duration, err error) {
	PollDuration.WithLabelValues(serverID).Observe(duration.Seconds())
	if err != nil {
		PollErrors.WithLabelValues(serverID).Inc()
		ServerReachable.WithLabelValues(serverID).Set(0)
		return
	}
	ServerReachable.WithLabelValues(serverID).Set(1)
}

// RecordAction records one enforcement action outcome.
func RecordAction(action string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	ActionsExecuted.WithLabelValues(action, result).Inc()
}

// RecordAPIRequest records one served API request.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// SetHeavyOpsLockHeld updates the lock gauge.
func SetHeavyOpsLockHeld(held bool) {
	if held {
		HeavyOpsLockHeld.Set(1)
		return
	}
	HeavyOpsLockHeld.Set(0)
}
