package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Task metrics
	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "otter_tasks_total",
			Help: "Total number of tasks by state",
		},
		[]string{"state"},
	)

	TasksRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "otter_task_run_duration_seconds",
			Help:    "Time taken to run a task in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	TasksValidationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "otter_task_validation_duration_seconds",
			Help:    "Time taken to validate a task in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	TasksSucceeded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "otter_tasks_succeeded_total",
			Help: "Total number of tasks that completed successfully",
		},
	)

	TasksFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "otter_tasks_failed_total",
			Help: "Total number of tasks that failed",
		},
	)

	// Coordinator metrics
	CoordinatorTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "otter_coordinator_tick_duration_seconds",
			Help:    "Time taken for one coordinator polling tick",
			Buckets: prometheus.DefBuckets,
		},
	)

	SpecsPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "otter_specs_pending",
			Help: "Number of specs not yet promoted to tasks",
		},
	)

	// Storage metrics
	StorageReadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "otter_storage_read_duration_seconds",
			Help:    "Time taken for a storage read in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	StorageWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "otter_storage_write_duration_seconds",
			Help:    "Time taken for a storage write in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	StorageWriteConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otter_storage_write_conflicts_total",
			Help: "Total number of PreconditionFailed conditional writes",
		},
		[]string{"backend"},
	)

	// Manifest metrics
	ManifestSaveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "otter_manifest_save_duration_seconds",
			Help:    "Time taken to save a manifest, including retries",
			Buckets: prometheus.DefBuckets,
		},
	)

	ManifestSaveRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "otter_manifest_save_retries_total",
			Help: "Total number of manifest save attempts lost to optimistic conflict",
		},
	)
)

func init() {
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(TasksRunDuration)
	prometheus.MustRegister(TasksValidationDuration)
	prometheus.MustRegister(TasksSucceeded)
	prometheus.MustRegister(TasksFailed)
	prometheus.MustRegister(CoordinatorTickDuration)
	prometheus.MustRegister(SpecsPending)
	prometheus.MustRegister(StorageReadDuration)
	prometheus.MustRegister(StorageWriteDuration)
	prometheus.MustRegister(StorageWriteConflicts)
	prometheus.MustRegister(ManifestSaveDuration)
	prometheus.MustRegister(ManifestSaveRetries)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
