package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dataferry/ferry/pkg/log"
)

var (
	// Job metrics
	JobRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ferry_job_runs_total",
			Help: "Total job ticks by job kind and result",
		},
		[]string{"job", "result"},
	)

	JobRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ferry_job_run_duration_seconds",
			Help:    "Duration of job ticks by job kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)

	RecurringJobsRegistered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ferry_recurring_jobs_registered",
			Help: "Number of recurring jobs currently in the catalogue",
		},
	)

	ReconcileOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ferry_reconcile_operations_total",
			Help: "Job catalogue reconcile operations by kind (add, remove, skip)",
		},
		[]string{"operation"},
	)

	// Stream metrics
	RecordsForwardedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ferry_records_forwarded_total",
			Help: "Records written to the local event log by compound topic",
		},
		[]string{"topic"},
	)

	OffsetCommitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ferry_offset_commits_total",
			Help: "Total offset commits to the offset store",
		},
	)

	RecordsServedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ferry_records_served_total",
			Help: "Records emitted to consumers by topic, after filtering",
		},
		[]string{"topic"},
	)

	RecordsFilteredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ferry_records_filtered_total",
			Help: "Records withheld from consumers by the attribute filter",
		},
		[]string{"topic"},
	)

	// Auth metrics
	StreamAuthFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ferry_stream_auth_failures_total",
			Help: "Rejected inbound streams by reason",
		},
		[]string{"reason"},
	)

	TokenMintsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ferry_token_mints_total",
			Help: "Tokens minted from the identity provider",
		},
	)

	// Management plane metrics
	ConfigFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ferry_config_fetches_total",
			Help: "Management plane fetches by endpoint and result",
		},
		[]string{"endpoint", "result"},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ferry_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)
)

// Register registers all metrics with Prometheus
func Register() {
	prometheus.MustRegister(
		JobRunsTotal,
		JobRunDuration,
		RecurringJobsRegistered,
		ReconcileOperationsTotal,
		RecordsForwardedTotal,
		OffsetCommitsTotal,
		RecordsServedTotal,
		RecordsFilteredTotal,
		StreamAuthFailuresTotal,
		TokenMintsTotal,
		ConfigFetchesTotal,
		BreakerState,
	)
}

// Handler returns the HTTP handler for the /metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartServer starts the metrics HTTP server on the given address
func StartServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("metrics server failed", err)
		}
	}()

	return server
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer starting now
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time in the given histogram
func (t *Timer) ObserveDuration(histogram prometheus.Observer) {
	histogram.Observe(time.Since(t.start).Seconds())
}
