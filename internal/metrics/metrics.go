// Package metrics holds the Prometheus collectors of the support backend.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WSConnections is the number of open websocket connections by role.
	WSConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "support_ws_connections",
		Help: "Open websocket connections by role",
	}, []string{"role"})

	// WSEvents counts inbound websocket events by type and result.
	WSEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "support_ws_events_total",
		Help: "Inbound websocket events by type and result",
	}, []string{"event", "result"})

	WSSlowClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "support_ws_slow_clients_total",
		Help: "Connections closed because their send buffer was full",
	})

	// MessagesStored counts persisted chat messages by sender role.
	MessagesStored = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "support_messages_stored_total",
		Help: "Persisted chat messages by sender role",
	}, []string{"sender"})

	PushSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "support_push_notifications_total",
		Help: "Web push notifications requested by result",
	}, []string{"result"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "support_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"method", "route", "status"})
)
