// Package metrics exposes Prometheus counters for the credential and realtime layers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Credential metrics
	RefreshAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collab_credential_refresh_total",
			Help: "Credential refresh attempts by outcome",
		},
		[]string{"outcome"}, // success, failure, superseded
	)

	UnauthorizedRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collab_unauthorized_retries_total",
			Help: "Requests retried after a 401, by how the retry token was obtained",
		},
		[]string{"source"}, // concurrent, refreshed
	)

	// Hub metrics
	HubConnectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "collab_hub_connection_state",
			Help: "Hub connection state (0=disconnected, 1=connecting, 2=connected, 3=reconnecting)",
		},
	)

	HubReconnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collab_hub_reconnect_attempts_total",
			Help: "Hub reconnect attempts by outcome",
		},
		[]string{"outcome"}, // success, failure, exhausted
	)

	HubEventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collab_hub_events_received_total",
			Help: "Inbound hub events by target name",
		},
		[]string{"event"},
	)

	// Session metrics
	CursorUpdatesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collab_cursor_updates_dropped_total",
			Help: "Outbound cursor updates dropped by the rate limiter or a disconnected hub",
		},
	)
)
