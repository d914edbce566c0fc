// Command tokenguard-loadtest seeds sessions and measures Verify and
// RotateRefresh throughput against Redis or an in-process miniredis.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/tokenguard"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
)

type sessionState struct {
	mu      sync.Mutex
	access  string
	refresh string
}

type options struct {
	sessions    int
	concurrency int
	ops         int
	contention  bool
}

func main() {
	app := &cli.App{
		Name:  "tokenguard-loadtest",
		Usage: "measure verify and refresh rotation throughput",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "sessions", Value: 10000, Usage: "sessions to seed"},
			&cli.IntFlag{Name: "concurrency", Value: 256, Usage: "concurrent workers"},
			&cli.IntFlag{Name: "ops", Value: 100000, Usage: "operations per phase"},
			&cli.StringFlag{Name: "redis-addr", Usage: "redis address; miniredis when empty", EnvVars: []string{"REDIS_ADDR"}},
			&cli.BoolFlag{Name: "contention", Usage: "let workers race on one token instead of serializing per session"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	opts := options{
		sessions:    c.Int("sessions"),
		concurrency: c.Int("concurrency"),
		ops:         c.Int("ops"),
		contention:  c.Bool("contention"),
	}
	if opts.sessions <= 0 || opts.concurrency <= 0 || opts.ops <= 0 {
		return cli.Exit("sessions, concurrency and ops must be > 0", 2)
	}

	addr := c.String("redis-addr")
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("start miniredis: %w", err)
		}
		defer mr.Close()
		addr = mr.Addr()
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		fmt.Printf("using redis at %s\n", addr)
	}
	client := redis.NewClient(&redis.Options{Addr: addr, PoolSize: opts.concurrency})
	defer client.Close()

	cfg := tokenguard.DefaultConfig()
	cfg.Keys = []tokenguard.KeyConfig{{ID: "load", Algorithm: "hs256", Material: "loadtest-secret-0123456789abcdef"}}
	cfg.RateLimit.Enabled = false

	engine, err := tokenguard.New().
		WithConfig(cfg).
		WithRedis(client).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		WithLatencyHistograms(true).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	ctx := c.Context
	states := make([]sessionState, opts.sessions)
	fmt.Printf("seeding %d sessions...\n", opts.sessions)
	startSeed := time.Now()
	for i := range states {
		_, pair, err := engine.StartSession(ctx, fmt.Sprintf("user-%d", i%1000), tokenguard.StartOptions{})
		if err != nil {
			return fmt.Errorf("seed session %d: %w", i, err)
		}
		states[i].access = pair.AccessToken
		states[i].refresh = pair.RefreshToken
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	verifyStats := runPhase(opts, func(r *rand.Rand) error {
		_, err := engine.Verify(ctx, states[r.Intn(len(states))].access)
		return err
	})
	refreshStats := runPhase(opts, func(r *rand.Rand) error {
		return rotate(ctx, engine, &states[r.Intn(len(states))], opts.contention)
	})

	snap := engine.MetricsSnapshot()
	fmt.Println("---- results ----")
	printStats("verify", verifyStats)
	printStats("refresh", refreshStats)
	fmt.Printf("replays=%d lock_timeouts=%d degraded_ops=%d\n",
		snap.Counters[tokenguard.MetricReplayDetected],
		snap.Counters[tokenguard.MetricLockTimeout],
		snap.Counters[tokenguard.MetricStoreDegraded],
	)
	return nil
}

// rotate spends state's refresh token. Without contention the state lock
// makes every rotation legitimate; with it, racing workers exercise
// single-winner claims and replay escalation.
func rotate(ctx context.Context, engine *tokenguard.Engine, state *sessionState, contention bool) error {
	if contention {
		state.mu.Lock()
		token := state.refresh
		state.mu.Unlock()

		pair, err := engine.RotateRefresh(ctx, "", token)
		if err != nil {
			return err
		}
		state.mu.Lock()
		state.refresh = pair.RefreshToken
		state.mu.Unlock()
		return nil
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	pair, err := engine.RotateRefresh(ctx, "", state.refresh)
	if err != nil {
		return err
	}
	state.refresh = pair.RefreshToken
	return nil
}

func runPhase(opts options, op func(*rand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, opts.ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < opts.concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			local := make([]time.Duration, 0, opts.ops/opts.concurrency+1)
			for atomic.AddInt64(&cursor, 1) <= int64(opts.ops) {
				t0 := time.Now()
				if err := op(r); err != nil {
					atomic.AddInt64(&failures, 1)
				}
				local = append(local, time.Since(t0))
			}
			mu.Lock()
			latencies = append(latencies, local...)
			mu.Unlock()
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
