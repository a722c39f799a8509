package proximity

import (
	"github.com/bissquit/hazard-watch/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	alertsRaised = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "proximity",
			Name:      "alerts_total",
			Help:      "Total proximity alerts raised",
		},
	)

	alertDeliveryFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "proximity",
			Name:      "alert_delivery_failures_total",
			Help:      "Alerts a sink failed to accept",
		},
	)

	alertsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "proximity",
			Name:      "alerts_dropped_total",
			Help:      "Alerts rejected because the delivery queue was full",
		},
	)

	alertQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metrics.Namespace,
			Subsystem: "proximity",
			Name:      "alert_queue_depth",
			Help:      "Alerts waiting for delivery",
		},
	)

	refreshFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "proximity",
			Name:      "refresh_failures_total",
			Help:      "Skipped refresh cycles by reason",
		},
		[]string{"reason"},
	)

	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metrics.Namespace,
			Subsystem: "proximity",
			Name:      "active_sessions",
			Help:      "Observer sessions held by the registry",
		},
	)
)

func recordAlertRaised() {
	alertsRaised.Inc()
}

func recordDeliveryFailure() {
	alertDeliveryFailures.Inc()
}

func recordAlertDropped() {
	alertsDropped.Inc()
}

func setAlertQueueDepth(n int) {
	alertQueueDepth.Set(float64(n))
}

func recordRefreshFailure(reason string) {
	refreshFailures.WithLabelValues(reason).Inc()
}

func setActiveSessions(n int) {
	activeSessions.Set(float64(n))
}
