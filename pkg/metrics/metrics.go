package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// JobsTotal counts completed jobs by their final status.
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botworker_jobs_total",
			Help: "Total number of jobs processed by final status",
		},
		[]string{"status"},
	)

	// ContainersTotal counts containers run by their exit outcome.
	ContainersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botworker_containers_total",
			Help: "Total number of containers run by result",
		},
		[]string{"result"},
	)

	// LoopIterationsTotal counts completed workerloop iterations.
	LoopIterationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "botworker_loop_iterations_total",
			Help: "Total number of workerloop iterations completed",
		},
	)

	// JobDuration observes end-to-end job processing time.
	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "botworker_job_duration_seconds",
			Help:    "Job processing duration in seconds by job type",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"job_type"},
	)

	// PullDuration observes image pull time, separated from the
	// rest of a job's run because it is the step most exposed to
	// registry and network latency.
	PullDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "botworker_image_pull_duration_seconds",
			Help:    "Time taken to pull a container image in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ReconciliationDuration observes one orphan-sweep cycle.
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "botworker_reconciliation_duration_seconds",
			Help:    "Time taken for an orphan container reconciliation sweep in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(ContainersTotal)
	prometheus.MustRegister(LoopIterationsTotal)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(PullDuration)
	prometheus.MustRegister(ReconciliationDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
