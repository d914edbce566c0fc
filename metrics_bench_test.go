package tokenguard

import (
	"sync/atomic"
	"testing"
	"time"
)

// IDs touched by one successful rotation plus its admission check.
var rotationPathMetricIDs = [...]MetricID{
	MetricRateAllowed,
	MetricStorePrimary,
	MetricVerifySuccess,
	MetricRefreshSuccess,
	MetricAccessIssued,
	MetricRefreshIssued,
}

func BenchmarkMetricsInc(b *testing.B) {
	for _, bc := range []struct {
		name    string
		enabled bool
	}{
		{"enabled", true},
		{"disabled", false},
	} {
		m := NewMetrics(MetricsConfig{Enabled: bc.enabled})
		b.Run(bc.name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				m.Inc(MetricVerifySuccess)
			}
		})
		b.Run(bc.name+"/parallel", func(b *testing.B) {
			b.ReportAllocs()
			b.RunParallel(func(pb *testing.PB) {
				for pb.Next() {
					m.Inc(MetricVerifySuccess)
				}
			})
		})
	}
}

func BenchmarkMetricsObserveVerifyLatency(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	samples := [...]time.Duration{
		40 * time.Microsecond,
		90 * time.Microsecond,
		300 * time.Microsecond,
		2 * time.Millisecond,
	}
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			m.Observe(MetricVerifyLatency, samples[i&3])
			i++
		}
	})
}

// unpaddedCounters is the layout Metrics avoids: adjacent counters share a
// cache line, so parallel increments of different IDs contend.
type unpaddedCounters struct {
	counters [metricIDCount]uint64
}

func (u *unpaddedCounters) Inc(id MetricID) {
	atomic.AddUint64(&u.counters[id], 1)
}

func BenchmarkMetricsRotationPath(b *testing.B) {
	run := func(b *testing.B, inc func(MetricID)) {
		b.ReportAllocs()
		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				for _, id := range rotationPathMetricIDs {
					inc(id)
				}
			}
		})
	}

	b.Run("padded", func(b *testing.B) {
		m := NewMetrics(MetricsConfig{Enabled: true})
		run(b, m.Inc)
	})
	b.Run("unpadded", func(b *testing.B) {
		u := &unpaddedCounters{}
		run(b, u.Inc)
	})
}

func BenchmarkMetricsSnapshot(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	for _, id := range rotationPathMetricIDs {
		m.Inc(id)
	}
	m.Observe(MetricVerifyLatency, 100*time.Microsecond)

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = m.Snapshot()
	}
}
