package tokenguard

import (
	"context"
	"testing"
)

func newBenchmarkEngine(b *testing.B, withRedis bool) *Engine {
	b.Helper()

	cfg := testConfig()
	cfg.Metrics.Enabled = false
	cfg.RateLimit.BurstLimit = 1 << 30
	cfg.RateLimit.SustainedLimit = 1 << 30

	var configure []func(*Builder)
	if withRedis {
		_, rdb := newTestRedis(b)
		configure = append(configure, func(bl *Builder) { bl.WithRedis(rdb) })
	}
	engine, _ := newTestEngine(b, cfg, configure...)
	return engine
}

func BenchmarkVerify(b *testing.B) {
	engine := newBenchmarkEngine(b, false)

	token, err := engine.IssueAccessToken(context.Background(), "alice", nil)
	if err != nil {
		b.Fatalf("issue failed: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.Verify(context.Background(), token); err != nil {
			b.Fatalf("verify failed: %v", err)
		}
	}
}

func BenchmarkVerifyParallel(b *testing.B) {
	engine := newBenchmarkEngine(b, false)

	token, err := engine.IssueAccessToken(context.Background(), "alice", nil)
	if err != nil {
		b.Fatalf("issue failed: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := engine.Verify(context.Background(), token); err != nil {
				b.Fatalf("verify failed: %v", err)
			}
		}
	})
}

func BenchmarkRotateRefreshMemory(b *testing.B) {
	benchmarkRotateRefresh(b, false)
}

func BenchmarkRotateRefreshRedis(b *testing.B) {
	benchmarkRotateRefresh(b, true)
}

func benchmarkRotateRefresh(b *testing.B, withRedis bool) {
	engine := newBenchmarkEngine(b, withRedis)

	sess, pair, err := engine.StartSession(context.Background(), "alice", StartOptions{})
	if err != nil {
		b.Fatalf("start failed: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		next, err := engine.RotateRefresh(context.Background(), sess.SessionID, pair.RefreshToken)
		if err != nil {
			b.Fatalf("rotate failed: %v", err)
		}
		pair = next
	}
}

func BenchmarkStartSession(b *testing.B) {
	engine := newBenchmarkEngine(b, true)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sess, _, err := engine.StartSession(context.Background(), "alice", StartOptions{})
		if err != nil {
			b.Fatalf("start failed: %v", err)
		}
		_ = engine.RevokeSession(context.Background(), sess.SessionID)
	}
}

func BenchmarkCheckRate(b *testing.B) {
	engine := newBenchmarkEngine(b, false)
	id := RateIdentity{Route: "login", Override: "alice"}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.CheckRate(context.Background(), id); err != nil {
			b.Fatalf("check failed: %v", err)
		}
	}
}
