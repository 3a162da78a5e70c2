// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	NotificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_created_total",
			Help: "Total number of notifications persisted",
		},
		[]string{"type"},
	)

	NotificationPersistFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_persist_failures_total",
			Help: "Total number of notifications that failed to persist",
		},
		[]string{"type"},
	)

	LivePushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "live_pushes_total",
			Help: "Total number of live events queued to connections",
		},
		[]string{"event"},
	)

	LivePushesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "live_pushes_dropped_total",
			Help: "Total number of live events dropped because a connection was slow or gone",
		},
		[]string{"event"},
	)

	LiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "live_connections",
			Help: "Number of registered live connections",
		},
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "dispatch_duration_seconds",
			Help: "Duration of event dispatch in seconds",
		},
		[]string{"kind"},
	)
)
