package tokenguard

import (
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricAccessIssued)

	if got := m.Value(MetricAccessIssued); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if snap := m.Snapshot(); len(snap.Counters) != 0 {
		t.Fatalf("expected empty snapshot, got %d counters", len(snap.Counters))
	}
}

func TestMetricsEnabledIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(MetricAccessIssued)
	m.Inc(MetricAccessIssued)
	m.Inc(MetricAccessIssued)

	if got := m.Value(MetricAccessIssued); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 32
	const perG = 4000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricRefreshSuccess)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	if got := m.Value(MetricRefreshSuccess); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestMetricsHistogramBucketCorrectness(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})

	observations := []time.Duration{
		20 * time.Microsecond,
		80 * time.Microsecond,
		200 * time.Microsecond,
		400 * time.Microsecond,
		time.Millisecond,
		3 * time.Millisecond,
		20 * time.Millisecond,
		700 * time.Millisecond,
	}

	for _, d := range observations {
		m.Observe(MetricVerifyLatency, d)
	}

	snap := m.Snapshot()
	buckets := snap.Histograms[MetricVerifyLatency]
	if len(buckets) != 8 {
		t.Fatalf("expected 8 buckets, got %d", len(buckets))
	}

	for i, v := range buckets {
		if v != 1 {
			t.Fatalf("bucket %d expected 1, got %d", i, v)
		}
	}
}

func TestMetricsObserveIgnoresCounters(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	m.Observe(MetricAccessIssued, time.Millisecond)

	snap := m.Snapshot()
	if _, ok := snap.Histograms[MetricAccessIssued]; ok {
		t.Fatal("expected no histogram for a counter id")
	}
	if _, ok := snap.Counters[MetricVerifyLatency]; ok {
		t.Fatal("expected latency histogram to be absent from counters")
	}
}

func TestMetricsSnapshotConsistency(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})
	m.Inc(MetricVerifySuccess)
	m.Inc(MetricVerifyFailure)
	m.Inc(MetricVerifyFailure)
	m.Observe(MetricVerifyLatency, 30*time.Microsecond)

	snap := m.Snapshot()

	if snap.Counters[MetricVerifySuccess] != 1 {
		t.Fatalf("expected MetricVerifySuccess=1 got %d", snap.Counters[MetricVerifySuccess])
	}
	if snap.Counters[MetricVerifyFailure] != 2 {
		t.Fatalf("expected MetricVerifyFailure=2 got %d", snap.Counters[MetricVerifyFailure])
	}
	if snap.Histograms[MetricVerifyLatency][0] != 1 {
		t.Fatalf("expected first histogram bucket=1 got %d", snap.Histograms[MetricVerifyLatency][0])
	}
}

func TestMetricsLatencyRequiresEnabled(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false, EnableLatencyHistograms: true})
	if m.LatencyEnabled() {
		t.Fatal("expected latency histograms to follow Enabled")
	}
}

func TestEngineRecordsVerifyLatency(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.EnableLatencyHistograms = true
	engine, _ := newTestEngine(t, cfg)

	token, err := engine.IssueAccessToken(t.Context(), "alice", nil)
	if err != nil {
		t.Fatalf("IssueAccessToken failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := engine.Verify(t.Context(), token); err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
	}

	var total uint64
	for _, n := range engine.MetricsSnapshot().Histograms[MetricVerifyLatency] {
		total += n
	}
	if total != 5 {
		t.Fatalf("expected 5 latency observations, got %d", total)
	}
}
