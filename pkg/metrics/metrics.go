package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session metrics
	SessionsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tether_sessions",
			Help: "Number of sessions by status",
		},
		[]string{"status"},
	)

	// Reconciler metrics
	ReconciliationCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tether_reconcile_cycles_total",
			Help: "Total number of reconciliation passes by result",
		},
		[]string{"result"},
	)

	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tether_reconcile_duration_seconds",
			Help:    "Time taken by one reconciliation pass in seconds",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	ReconcileDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tether_reconcile_decisions_total",
			Help: "Per-session reconciliation decisions",
		},
		[]string{"decision"},
	)

	// Gateway metrics
	GatewayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tether_gateway_requests_total",
			Help: "Total number of gateway calls by operation and result",
		},
		[]string{"operation", "result"},
	)

	GatewayRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tether_gateway_request_duration_seconds",
			Help:    "Gateway call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Alert metrics
	AlertPassesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tether_alert_passes_total",
			Help: "Total number of alert monitor passes by result",
		},
		[]string{"result"},
	)

	AlertDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tether_alert_deliveries_total",
			Help: "Tenant alert deliveries by result",
		},
		[]string{"result"},
	)

	AlertedSessionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tether_alerted_sessions_total",
			Help: "Total number of sessions included in delivered alerts",
		},
	)

	// Lease metrics
	LeaseAcquisitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tether_lease_acquisitions_total",
			Help: "Pass lease acquisition attempts by lease and result",
		},
		[]string{"lease", "result"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tether_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tether_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(SessionsByStatus)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconcileDecisionsTotal)
	prometheus.MustRegister(GatewayRequestsTotal)
	prometheus.MustRegister(GatewayRequestDuration)
	prometheus.MustRegister(AlertPassesTotal)
	prometheus.MustRegister(AlertDeliveriesTotal)
	prometheus.MustRegister(AlertedSessionsTotal)
	prometheus.MustRegister(LeaseAcquisitionsTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
