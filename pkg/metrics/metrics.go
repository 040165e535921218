package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records authentication attempts by operation (signup|login|reset) and result.
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accessd_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"operation", "result"},
	)

	// Notifications counts dispatched notifications by channel, type and result (success|failure).
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accessd_notifications_total",
			Help: "Total number of notification deliveries",
		},
		[]string{"channel", "type", "result"},
	)

	// NotificationLatency measures channel sender latency.
	NotificationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "accessd_notification_latency_seconds",
			Help:    "Notification sender latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel"},
	)

	// NotificationsInFlight tracks background deliveries that have not completed.
	NotificationsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "accessd_notifications_in_flight",
			Help: "Number of notification jobs currently running",
		},
	)

	// ResetTokens counts reset token lifecycle events (issued|consumed|rejected|swept).
	ResetTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accessd_reset_tokens_total",
			Help: "Password reset token lifecycle events",
		},
		[]string{"event"},
	)

	// MaintenanceRuns counts scheduled sweeps by job and result (success|failure).
	MaintenanceRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accessd_maintenance_runs_total",
			Help: "Scheduled maintenance sweeps",
		},
		[]string{"job", "result"},
	)

	// RateLimited counts requests rejected by the credential endpoint limiter, per route.
	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accessd_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"route"},
	)

	// RequestsInFlight tracks HTTP requests currently being served.
	RequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "accessd_requests_in_flight",
			Help: "Number of HTTP requests being served",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "accessd_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
