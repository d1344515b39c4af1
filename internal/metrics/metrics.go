// Package metrics holds the Prometheus collectors exposed at /metrics,
// grounded on the pack's metrics.Handler()/Timer idiom.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notesync_http_requests_total",
			Help: "Total number of sync protocol HTTP requests by route and status",
		},
		[]string{"route", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notesync_http_request_duration_seconds",
			Help:    "Sync protocol HTTP request duration in seconds by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	ReconcileApplied = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notesync_reconcile_applied_total",
			Help: "Total number of incoming changes applied by the reconciler",
		},
	)

	ReconcileConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notesync_reconcile_conflicts_total",
			Help: "Total number of conflict records created by the reconciler",
		},
	)

	ReconcileErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notesync_reconcile_errors_total",
			Help: "Total number of per-change errors encountered by the reconciler",
		},
	)

	PeerSyncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notesync_peer_sync_duration_seconds",
			Help:    "Time taken to complete a full sync_with_peer round trip",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"peer_id"},
	)

	PeerSyncFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notesync_peer_sync_failures_total",
			Help: "Total number of non-fatal peer sync failures by reason",
		},
		[]string{"peer_id", "reason"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		ReconcileApplied,
		ReconcileConflicts,
		ReconcileErrors,
		PeerSyncDuration,
		PeerSyncFailuresTotal,
	)
}

// Handler returns the Prometheus scrape handler mounted at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures elapsed wall-clock time for a single operation.
type Timer struct{ start time.Time }

// NewTimer starts a timer.
func NewTimer() *Timer { return &Timer{start: time.Now()} }

// ObserveDuration records the elapsed time against histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Observer) {
	histogram.Observe(time.Since(t.start).Seconds())
}
