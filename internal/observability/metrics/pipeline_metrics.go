package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics captures orphan-queue and retry-processor health signals.
// It is constructed against an injected registerer so tests can hold isolated
// instances instead of sharing a package singleton.
type PipelineMetrics struct {
	orphanEnqueued     prometheus.Counter
	orphanDropped      prometheus.Counter
	retrySucceeded     prometheus.Counter
	retryFailed        prometheus.Counter
	deadLettered       prometheus.Counter
	cyclesSkipped      prometheus.Counter
	retryBatchDuration prometheus.Histogram
	retryAttempts      prometheus.Histogram
	ingestDuration     *prometheus.HistogramVec
}

// NewPipelineMetrics registers the pipeline instruments on the given registerer.
func NewPipelineMetrics(registerer prometheus.Registerer) *PipelineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &PipelineMetrics{
		orphanEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reachforge_orphan_enqueued_total",
			Help: "Events deferred to the orphan queue.",
		}),
		orphanDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reachforge_orphan_dropped_capacity_total",
			Help: "Events dropped because the orphan queue was at capacity.",
		}),
		retrySucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reachforge_orphan_retry_success_total",
			Help: "Orphaned events successfully recorded by the retry processor.",
		}),
		retryFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reachforge_orphan_retry_failure_total",
			Help: "Retry attempts that left the event orphaned.",
		}),
		deadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reachforge_orphan_dead_lettered_total",
			Help: "Orphaned events moved to the dead-letter table after exhausting retries.",
		}),
		cyclesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reachforge_retry_cycles_skipped_total",
			Help: "Retry cycles skipped because a previous cycle was still running.",
		}),
		retryBatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reachforge_retry_batch_duration_seconds",
			Help:    "Total duration of one retry processor cycle.",
			Buckets: prometheus.DefBuckets,
		}),
		retryAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reachforge_orphan_retry_attempts",
			Help:    "Retry attempts consumed before an orphaned event reached a terminal outcome.",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 6, 8, 10},
		}),
		ingestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reachforge_ingest_duration_seconds",
			Help:    "Ingestion transaction duration by outcome.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
	}

	registerer.MustRegister(
		m.orphanEnqueued,
		m.orphanDropped,
		m.retrySucceeded,
		m.retryFailed,
		m.deadLettered,
		m.cyclesSkipped,
		m.retryBatchDuration,
		m.retryAttempts,
		m.ingestDuration,
	)

	return m
}

func (m *PipelineMetrics) IncOrphanEnqueued() {
	if m == nil {
		return
	}
	m.orphanEnqueued.Inc()
}

func (m *PipelineMetrics) IncOrphanDropped() {
	if m == nil {
		return
	}
	m.orphanDropped.Inc()
}

func (m *PipelineMetrics) IncRetrySucceeded() {
	if m == nil {
		return
	}
	m.retrySucceeded.Inc()
}

func (m *PipelineMetrics) IncRetryFailed() {
	if m == nil {
		return
	}
	m.retryFailed.Inc()
}

func (m *PipelineMetrics) IncDeadLettered() {
	if m == nil {
		return
	}
	m.deadLettered.Inc()
}

func (m *PipelineMetrics) IncCycleSkipped() {
	if m == nil {
		return
	}
	m.cyclesSkipped.Inc()
}

func (m *PipelineMetrics) ObserveRetryBatchDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.retryBatchDuration.Observe(duration.Seconds())
}

// ObserveRetryAttempts records how many attempts an orphan consumed before it
// was recorded or dead-lettered.
func (m *PipelineMetrics) ObserveRetryAttempts(attempts int) {
	if m == nil {
		return
	}
	m.retryAttempts.Observe(float64(attempts))
}

func (m *PipelineMetrics) ObserveIngestDuration(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ingestDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}
