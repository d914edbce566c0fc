package tokenguard

import (
	"sync/atomic"
	"time"

	"github.com/MrEthical07/tokenguard/kvstore"
)

// MetricID identifies one engine counter or histogram.
type MetricID uint16

const (
	// MetricAccessIssued counts minted access tokens.
	MetricAccessIssued MetricID = iota
	// MetricRefreshIssued counts minted refresh tokens.
	MetricRefreshIssued
	// MetricVerifySuccess counts tokens that verified.
	MetricVerifySuccess
	// MetricVerifyFailure counts tokens that failed verification.
	MetricVerifyFailure
	// MetricVerifyExpired counts verification failures caused by expiry.
	MetricVerifyExpired
	// MetricRefreshSuccess counts completed rotations.
	MetricRefreshSuccess
	// MetricRefreshFailure counts rotations rejected for any reason.
	MetricRefreshFailure
	// MetricReplayDetected counts consumed or superseded refresh tokens
	// presented again.
	MetricReplayDetected
	// MetricFamilyRevoked counts refresh families revoked, by logout or by
	// replay escalation.
	MetricFamilyRevoked
	// MetricLockTimeout counts claims that could not take the advisory lock.
	MetricLockTimeout
	// MetricSessionCreated counts new device sessions.
	MetricSessionCreated
	// MetricSessionRevoked counts revoked device sessions.
	MetricSessionRevoked
	// MetricRateAllowed counts admitted requests.
	MetricRateAllowed
	// MetricRateLimited counts rejected requests.
	MetricRateLimited
	// MetricRateBypassed counts requests admitted through the bypass scope.
	MetricRateBypassed
	// MetricRateFailOpen counts requests admitted because the counter store
	// failed.
	MetricRateFailOpen
	// MetricStorePrimary counts store operations served by the primary.
	MetricStorePrimary
	// MetricStoreDegraded counts store operations served by the fallback.
	MetricStoreDegraded
	// MetricStoreFailed counts store operations that failed on both paths.
	MetricStoreFailed
	// MetricVerifyLatency is the Verify latency histogram.
	MetricVerifyLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free engine counters. A disabled Metrics accepts every
// call and records nothing.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter, plus histogram
// buckets when latency histograms are enabled.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics creates a Metrics instance.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether the Verify histogram is recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in the histogram for id. Only MetricVerifyLatency has
// a histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || id != MetricVerifyLatency {
		return
	}
	atomic.AddUint64(&m.histograms[id].buckets[bucketIndex(d)], 1)
}

// Value returns the current value of id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter. Individual loads are atomic; the snapshot
// as a whole is not.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		if id == MetricVerifyLatency {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := range buckets {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricVerifyLatency].buckets[i])
		}
		s.Histograms[MetricVerifyLatency] = buckets
	}
	return s
}

// storeObserver feeds kvstore fallback outcomes into the store counters.
func (m *Metrics) storeObserver() kvstore.Observer {
	return func(_ string, outcome kvstore.Outcome) {
		switch outcome {
		case kvstore.OutcomePrimary:
			m.Inc(MetricStorePrimary)
		case kvstore.OutcomeDegraded:
			m.Inc(MetricStoreDegraded)
		case kvstore.OutcomeFailed:
			m.Inc(MetricStoreFailed)
		}
	}
}

func bucketIndex(d time.Duration) int {
	us := d.Microseconds()

	switch {
	case us <= 50:
		return 0
	case us <= 100:
		return 1
	case us <= 250:
		return 2
	case us <= 500:
		return 3
	case us <= 1000:
		return 4
	case us <= 5000:
		return 5
	case us <= 25000:
		return 6
	default:
		return 7
	}
}
