// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ferme_http_requests_total",
			Help: "HTTP requests by method, route pattern and status.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ferme_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route pattern.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// TransfersTotal counts ledger operations; result is "ok" or an error class.
	TransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ferme_transfers_total",
			Help: "Transfer ledger operations by action and result.",
		},
		[]string{"action", "result"},
	)

	NotificationsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ferme_notifications_dispatched_total",
			Help: "Notifications handed to the dispatcher by type and result.",
		},
		[]string{"type", "result"},
	)

	LiveSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ferme_live_subscribers",
			Help: "Connected websocket subscribers.",
		},
	)
)
