package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the learning pipeline.
// Every method is safe to call on a nil *Metrics.
type Metrics struct {
	// Stage metrics
	StageRuns     *prometheus.CounterVec
	StageFailures *prometheus.CounterVec

	// Persistence metrics
	VersionConflicts prometheus.Counter
	PersistAttempts  prometheus.Histogram
	InsertFallbacks  *prometheus.CounterVec

	// Remote capability metrics
	RemoteCallDuration *prometheus.HistogramVec

	// Retry queue metrics
	RetryQueueEntries *prometheus.CounterVec
	RetryQueueDropped prometheus.Counter

	// Feedback metrics
	FeedbackFallbacks *prometheus.CounterVec

	// Worker metrics
	JobsQueued    prometheus.Gauge
	JobsProcessed *prometheus.CounterVec
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// Default returns the process-wide metrics registered on the default registry.
func Default() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = New(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// New creates and registers all pipeline metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		StageRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guardian_learning_stage_runs_total",
				Help: "Learning pipeline stage executions",
			},
			[]string{"stage"},
		),
		StageFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guardian_learning_stage_failures_total",
				Help: "Learning pipeline stage failures by reason",
			},
			[]string{"stage", "reason"},
		),
		VersionConflicts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "guardian_skillbook_version_conflicts_total",
				Help: "Optimistic-lock conflicts on skillbook writes",
			},
		),
		PersistAttempts: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "guardian_skillbook_persist_attempts",
				Help:    "Write attempts needed per skillbook update",
				Buckets: []float64{1, 2, 3, 4, 5},
			},
		),
		InsertFallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guardian_skillbook_insert_fallbacks_total",
				Help: "First-write inserts that fell back to the update loop",
			},
			[]string{"cause"}, // duplicate, other
		),
		RemoteCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "guardian_remote_call_duration_seconds",
				Help:    "Duration of reflector and curator calls",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 250ms to 32s
			},
			[]string{"capability", "result"},
		),
		RetryQueueEntries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guardian_retry_queue_entries_total",
				Help: "Entries written to the learning retry queue",
			},
			[]string{"type"},
		),
		RetryQueueDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "guardian_retry_queue_dropped_total",
				Help: "Retry queue entries dropped because the sink buffer was full",
			},
		),
		FeedbackFallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guardian_feedback_signal_fallbacks_total",
				Help: "Feedback lookups that fell back to the neutral signal",
			},
			[]string{"cause"},
		),
		JobsQueued: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "guardian_learning_jobs_queued",
				Help: "Learning jobs waiting for a worker",
			},
		),
		JobsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guardian_learning_jobs_processed_total",
				Help: "Learning jobs processed by kind",
			},
			[]string{"kind"},
		),
	}
}

// StageRun records a stage execution.
func (m *Metrics) StageRun(stage string) {
	if m == nil {
		return
	}
	m.StageRuns.WithLabelValues(stage).Inc()
}

// StageFailure records a stage failure.
func (m *Metrics) StageFailure(stage, reason string) {
	if m == nil {
		return
	}
	m.StageFailures.WithLabelValues(stage, reason).Inc()
}

// VersionConflict records an optimistic-lock conflict.
func (m *Metrics) VersionConflict() {
	if m == nil {
		return
	}
	m.VersionConflicts.Inc()
}

// PersistCompleted records how many attempts a successful write took.
func (m *Metrics) PersistCompleted(attempts int) {
	if m == nil {
		return
	}
	m.PersistAttempts.Observe(float64(attempts))
}

// InsertFallback records a failed first-write insert.
func (m *Metrics) InsertFallback(cause string) {
	if m == nil {
		return
	}
	m.InsertFallbacks.WithLabelValues(cause).Inc()
}

// RemoteCall records the duration of a remote capability call.
func (m *Metrics) RemoteCall(capability, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.RemoteCallDuration.WithLabelValues(capability, result).Observe(d.Seconds())
}

// RetryQueued records a retry-queue entry.
func (m *Metrics) RetryQueued(entryType string) {
	if m == nil {
		return
	}
	m.RetryQueueEntries.WithLabelValues(entryType).Inc()
}

// RetryDropped records a retry-queue entry lost to a full buffer.
func (m *Metrics) RetryDropped() {
	if m == nil {
		return
	}
	m.RetryQueueDropped.Inc()
}

// FeedbackFallback records a neutral-signal fallback.
func (m *Metrics) FeedbackFallback(cause string) {
	if m == nil {
		return
	}
	m.FeedbackFallbacks.WithLabelValues(cause).Inc()
}

// JobQueued adjusts the queued-jobs gauge.
func (m *Metrics) JobQueued(delta float64) {
	if m == nil {
		return
	}
	m.JobsQueued.Add(delta)
}

// JobProcessed records a processed learning job.
func (m *Metrics) JobProcessed(kind string) {
	if m == nil {
		return
	}
	m.JobsProcessed.WithLabelValues(kind).Inc()
}
