package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPipelineMetricsCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewPipelineMetrics(registry)

	m.IncOrphanEnqueued()
	m.IncOrphanEnqueued()
	m.IncOrphanDropped()
	m.IncRetrySucceeded()
	m.IncRetryFailed()
	m.IncDeadLettered()
	m.IncCycleSkipped()

	if got := testutil.ToFloat64(m.orphanEnqueued); got != 2 {
		t.Fatalf("expected 2 enqueued, got %v", got)
	}
	if got := testutil.ToFloat64(m.orphanDropped); got != 1 {
		t.Fatalf("expected 1 dropped, got %v", got)
	}
	if got := testutil.ToFloat64(m.retrySucceeded); got != 1 {
		t.Fatalf("expected 1 retry success, got %v", got)
	}
	if got := testutil.ToFloat64(m.deadLettered); got != 1 {
		t.Fatalf("expected 1 dead lettered, got %v", got)
	}
	if got := testutil.ToFloat64(m.cyclesSkipped); got != 1 {
		t.Fatalf("expected 1 skipped cycle, got %v", got)
	}
}

func TestPipelineMetricsNilReceiver(t *testing.T) {
	var m *PipelineMetrics

	// A disabled metrics pipeline must not panic.
	m.IncOrphanEnqueued()
	m.IncOrphanDropped()
	m.IncRetrySucceeded()
	m.IncRetryFailed()
	m.IncDeadLettered()
	m.IncCycleSkipped()
	m.ObserveRetryBatchDuration(time.Second)
	m.ObserveRetryAttempts(3)
	m.ObserveIngestDuration("recorded", time.Millisecond)
}

func TestPipelineMetricsRegistersOnce(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewPipelineMetrics(registry)
	m.ObserveIngestDuration("recorded", 10*time.Millisecond)

	families, err := registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	names := make(map[string]bool, len(families))
	for _, family := range families {
		names[family.GetName()] = true
	}
	for _, want := range []string{
		"reachforge_orphan_enqueued_total",
		"reachforge_orphan_dropped_capacity_total",
		"reachforge_orphan_retry_success_total",
		"reachforge_orphan_retry_failure_total",
		"reachforge_orphan_dead_lettered_total",
		"reachforge_retry_cycles_skipped_total",
		"reachforge_retry_batch_duration_seconds",
		"reachforge_orphan_retry_attempts",
		"reachforge_ingest_duration_seconds",
	} {
		if !names[want] {
			t.Fatalf("metric %s not registered", want)
		}
	}
}
