package prometheus

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrEthical07/tokenguard"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeSource struct {
	snapshot tokenguard.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() tokenguard.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                        { return f.dropped }

func TestCollectEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: tokenguard.MetricsSnapshot{
			Counters:   map[tokenguard.MetricID]uint64{},
			Histograms: map[tokenguard.MetricID][]uint64{},
		},
	})

	if n := testutil.CollectAndCount(exp); n != 0 {
		t.Fatalf("expected no metrics for disabled source, got %d", n)
	}
}

func TestCollectCounter(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: tokenguard.MetricsSnapshot{
			Counters: map[tokenguard.MetricID]uint64{tokenguard.MetricReplayDetected: 7},
		},
		dropped: 2,
	})

	expected := `
# HELP tokenguard_replay_detected_total Refresh tokens presented after being consumed or superseded.
# TYPE tokenguard_replay_detected_total counter
tokenguard_replay_detected_total 7
# HELP tokenguard_audit_dropped_total Audit events dropped under dispatcher backpressure.
# TYPE tokenguard_audit_dropped_total counter
tokenguard_audit_dropped_total 2
`
	err := testutil.CollectAndCompare(exp, strings.NewReader(expected),
		"tokenguard_replay_detected_total", "tokenguard_audit_dropped_total")
	if err != nil {
		t.Fatalf("unexpected collection result: %v", err)
	}
}

func TestHandlerRendersHistogram(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: tokenguard.MetricsSnapshot{
			Counters: map[tokenguard.MetricID]uint64{tokenguard.MetricVerifySuccess: 1},
			Histograms: map[tokenguard.MetricID][]uint64{
				tokenguard.MetricVerifyLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "tokenguard_verify_latency_seconds_count 36") {
		t.Fatalf("expected histogram count 36, got:\n%s", body)
	}
	if !strings.Contains(body, `tokenguard_verify_latency_seconds_bucket{le="+Inf"} 36`) {
		t.Fatalf("expected +Inf bucket, got:\n%s", body)
	}
	if !strings.Contains(body, "tokenguard_verify_success_total 1") {
		t.Fatalf("expected verify counter, got:\n%s", body)
	}
}

func TestExporterReadsEngine(t *testing.T) {
	cfg := tokenguard.DefaultConfig()
	cfg.Keys = []tokenguard.KeyConfig{{ID: "k1", Algorithm: "hs256", Material: "0123456789abcdef0123456789abcdef"}}
	cfg.Store.SweepInterval = -1
	engine, err := tokenguard.New().
		WithConfig(cfg).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	if _, err := engine.IssueAccessToken(context.Background(), "alice", nil); err != nil {
		t.Fatalf("IssueAccessToken failed: %v", err)
	}

	expected := `
# HELP tokenguard_access_issued_total Access tokens minted.
# TYPE tokenguard_access_issued_total counter
tokenguard_access_issued_total 1
`
	err = testutil.CollectAndCompare(NewExporter(engine), strings.NewReader(expected), "tokenguard_access_issued_total")
	if err != nil {
		t.Fatalf("unexpected collection result: %v", err)
	}
}

func BenchmarkCollect(b *testing.B) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: tokenguard.MetricsSnapshot{
			Counters: map[tokenguard.MetricID]uint64{
				tokenguard.MetricAccessIssued:   1000,
				tokenguard.MetricVerifySuccess:  900,
				tokenguard.MetricRefreshSuccess: 800,
				tokenguard.MetricRateLimited:    10,
			},
			Histograms: map[tokenguard.MetricID][]uint64{
				tokenguard.MetricVerifyLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = testutil.CollectAndCount(exp)
	}
}
