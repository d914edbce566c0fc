package main

import (
	"testing"
	"time"
)

func TestPercentile(t *testing.T) {
	samples := make([]time.Duration, 100)
	for i := range samples {
		samples[i] = time.Duration(i+1) * time.Millisecond
	}
	if got := percentile(samples, 50); got != 50*time.Millisecond {
		t.Fatalf("expected p50 50ms, got %s", got)
	}
	if got := percentile(samples, 100); got != 100*time.Millisecond {
		t.Fatalf("expected p100 100ms, got %s", got)
	}
	if got := percentile(nil, 50); got != 0 {
		t.Fatalf("expected 0 for no samples, got %s", got)
	}
}

func TestComputeStatsSorts(t *testing.T) {
	s := computeStats(time.Second, []time.Duration{3, 1, 2}, 1)
	if s.ops != 3 || s.failures != 1 || s.p50 != 2 {
		t.Fatalf("unexpected stats %+v", s)
	}
	if s.opsPerS != 3 {
		t.Fatalf("expected 3 ops/sec, got %f", s.opsPerS)
	}
}
