package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session metrics
	CodesIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attendance_codes_issued_total",
			Help: "Rotating codes issued, by kind (activate or rotate)",
		},
		[]string{"kind"},
	)

	SessionsClosed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "attendance_sessions_closed_total",
			Help: "Sessions closed explicitly by an instructor",
		},
	)

	// Check-in metrics
	CheckIns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attendance_checkins_total",
			Help: "Check-in attempts by result",
		},
		[]string{"result"},
	)

	// Reconciliation metrics
	ManualUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attendance_manual_updates_total",
			Help: "Records changed by instructors, by operation",
		},
		[]string{"operation"},
	)

	// Worker metrics
	AuditEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attendance_audit_entries_total",
			Help: "Audit entries written by the worker, by event type",
		},
		[]string{"type"},
	)

	// API metrics
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attendance_http_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "attendance_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

func init() {
	prometheus.MustRegister(CodesIssued)
	prometheus.MustRegister(SessionsClosed)
	prometheus.MustRegister(CheckIns)
	prometheus.MustRegister(ManualUpdates)
	prometheus.MustRegister(AuditEntries)
	prometheus.MustRegister(HTTPRequests)
	prometheus.MustRegister(HTTPRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSince records the elapsed time since start on a histogram vec.
func ObserveSince(h *prometheus.HistogramVec, start time.Time, labels ...string) {
	h.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
}
