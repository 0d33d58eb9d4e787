package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsSubmitted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "align_jobs_submitted_total", Help: "Alignment jobs accepted"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "align_rate_limit_rejects_total", Help: "Submissions rejected by rate limiter"})
	JobsCompleted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "align_jobs_completed_total", Help: "Alignment jobs completed"})
	JobsFailed       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "align_jobs_failed_total", Help: "Alignment jobs failed by error kind"}, []string{"kind"})
	JobsRequeued     = prometheus.NewCounter(prometheus.CounterOpts{Name: "align_jobs_requeued_total", Help: "Jobs returned to the queue after a lease expired"})
	ApplyFailures    = prometheus.NewCounter(prometheus.CounterOpts{Name: "align_apply_failures_total", Help: "Correction commands that failed to execute"})
	EstimateSeconds  = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "align_estimate_duration_seconds",
		Help:    "Offset estimation wall time",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"anchor_mode"})
	PurgeActions    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "align_purge_actions_total", Help: "Retention actions taken"}, []string{"action"})
	QueueDepthGauge = prometheus.NewGauge(prometheus.GaugeOpts{Name: "align_queue_depth", Help: "Jobs waiting for a worker"})
	InFlightGauge   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "align_inflight", Help: "Jobs currently leased"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsSubmitted,
			RateLimitRejects,
			JobsCompleted,
			JobsFailed,
			JobsRequeued,
			ApplyFailures,
			EstimateSeconds,
			PurgeActions,
			QueueDepthGauge,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
