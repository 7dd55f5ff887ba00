package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for MarginView.
type Metrics struct {
	// --- Refresh scheduling ---
	RefreshTotal     *prometheus.CounterVec
	RefreshDuration  *prometheus.HistogramVec
	RefreshCoalesced *prometheus.CounterVec
	Watchers         prometheus.Gauge

	// --- Ledger gateway ---
	GatewayRequests *prometheus.CounterVec
	GatewayDuration *prometheus.HistogramVec
	DecodeErrors    *prometheus.CounterVec

	// --- Instruction submission ---
	SubmitTotal *prometheus.CounterVec

	// --- Views ---
	ViewAge *prometheus.GaugeVec

	// --- Side channels ---
	SnapshotsRecorded prometheus.Counter
	PublishTotal      *prometheus.CounterVec

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	rpcBuckets := []float64{
		0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0,
	}

	return &Metrics{
		RefreshTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mv_refresh_total",
			Help: "View refreshes by kind, trigger source, and outcome",
		}, []string{"kind", "trigger", "outcome"}),

		RefreshDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mv_refresh_duration_seconds",
			Help:    "End-to-end duration of one view refresh",
			Buckets: rpcBuckets,
		}, []string{"kind"}),

		RefreshCoalesced: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mv_refresh_coalesced_total",
			Help: "Refresh triggers absorbed into an already-pending refresh",
		}, []string{"kind"}),

		Watchers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "mv_watchers",
			Help: "Currently running watch tasks",
		}),

		GatewayRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mv_gateway_requests_total",
			Help: "Ledger gateway calls by operation and outcome",
		}, []string{"op", "outcome"}),

		GatewayDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mv_gateway_duration_seconds",
			Help:    "Ledger gateway call latency",
			Buckets: rpcBuckets,
		}, []string{"op"}),

		DecodeErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mv_decode_errors_total",
			Help: "Account payloads rejected by a schema decoder",
		}, []string{"record"}),

		SubmitTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mv_submit_total",
			Help: "Instruction submissions by kind and outcome",
		}, []string{"kind", "outcome"}),

		ViewAge: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mv_view_age_seconds",
			Help: "Seconds since the view's last completed refresh",
		}, []string{"kind"}),

		SnapshotsRecorded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mv_snapshots_recorded_total",
			Help: "Risk snapshots written to the recorder",
		}),

		PublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mv_publish_total",
			Help: "View-update notifications by outcome",
		}, []string{"outcome"}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mv_query_requests_total",
			Help: "HTTP query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mv_query_duration_seconds",
			Help:    "HTTP query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}
