package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// AuthAttempts records login attempts by result (success|failure|error).
	AuthAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accounts_auth_attempts_total",
			Help: "Total number of login attempts",
		},
		[]string{"result"},
	)

	// SessionOperations counts session lifecycle operations
	// (create|refresh|revoke|revoke_all|authenticate) by result.
	SessionOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accounts_session_operations_total",
			Help: "Total number of session lifecycle operations",
		},
		[]string{"operation", "result"},
	)

	// RateLimited counts requests rejected by a limiter (global|login|register).
	RateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accounts_rate_limited_total",
			Help: "Total number of requests rejected by rate limiting",
		},
		[]string{"scope"},
	)

	// MaintenanceRuns counts scheduled cleanup runs by job and result.
	MaintenanceRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accounts_maintenance_runs_total",
			Help: "Total number of maintenance job runs",
		},
		[]string{"job", "result"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "accounts_api_request_duration_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// APIInFlight tracks requests currently being served.
	APIInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "accounts_api_requests_in_flight",
			Help: "Number of API requests currently being served",
		},
	)
)

// Collectors lists every application collector.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		AuthAttempts,
		SessionOperations,
		RateLimited,
		MaintenanceRuns,
		APILatency,
		APIInFlight,
	}
}

// Register adds the application collectors to reg.
func Register(reg prometheus.Registerer) error {
	for _, collector := range Collectors() {
		if err := reg.Register(collector); err != nil {
			return err
		}
	}
	return nil
}
