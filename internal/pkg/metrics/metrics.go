// Package metrics holds the Prometheus collectors shared across packages.
// Package-local metrics live next to the code that records them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric exported by the service.
const Namespace = "hazardwatch"

var (
	// HTTPRequestDuration tracks HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "route", "status_code"},
	)

	// HTTPRequestsInFlight tracks requests currently being served.
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "HTTP requests currently being served",
		},
	)

	// PoolConnections tracks connection pool state per backing store.
	PoolConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "pool_connections",
			Help:      "Connections by pool (postgres, redis) and state",
		},
		[]string{"pool", "state"},
	)

	// IncidentOperations counts incident store operations by outcome.
	IncidentOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "incidents",
			Name:      "operations_total",
			Help:      "Incident operations by operation and result",
		},
		[]string{"op", "result"},
	)

	// IncidentCacheLookups counts incident list cache lookups.
	IncidentCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "incidents",
			Name:      "cache_lookups_total",
			Help:      "Incident list cache lookups by result (hit, miss, error)",
		},
		[]string{"result"},
	)
)
