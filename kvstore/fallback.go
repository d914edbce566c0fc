package kvstore

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultOpTimeout         = 150 * time.Millisecond
	defaultRetryPrimaryAfter = 2 * time.Second
	defaultDegradedLogEvery  = 10 * time.Second
	defaultMaxPendingDeletes = 10_000
)

// FallbackConfig tunes a FallbackStore.
type FallbackConfig struct {
	// OpTimeout bounds every primary call. Zero selects 150ms.
	OpTimeout time.Duration
	// RetryPrimaryAfter is how long the primary is skipped after a
	// connectivity failure. Zero selects 2s.
	RetryPrimaryAfter time.Duration
	// DegradedLogEvery throttles degraded-mode warnings. Zero selects 10s.
	DegradedLogEvery time.Duration
	// MaxPendingDeletes caps deletes queued for replay to the primary. Zero
	// selects 10000.
	MaxPendingDeletes int
	Logger            *slog.Logger
	Observer          Observer
	Now               func() time.Time
}

// FallbackStore serves each call from the primary when it is reachable and
// from an in-process fallback otherwise. Store unavailability never reaches
// the caller; only permanent fallback failures (ErrCapacity, ErrClosed) and
// server-side reply errors do.
//
// Writes served by the fallback stay authoritative after the primary
// recovers: until the longest TTL written during an outage has elapsed, a
// key still live in the fallback shadows the primary copy. Deletes issued
// while degraded are replayed to the primary before it serves again.
type FallbackStore struct {
	primary  Store
	fallback Store
	cfg      FallbackConfig
	log      *slog.Logger
	now      func() time.Time

	degraded      atomic.Bool
	degradedUntil atomic.Int64
	warn          rate.Sometimes

	// shadowUntil is the latest expiry among writes served by the fallback.
	shadowUntil atomic.Int64

	pendingMu    sync.Mutex
	pending      map[string]struct{}
	pendingCount atomic.Int64
	dropWarn     rate.Sometimes
}

// NewFallbackStore wraps primary with fallback. A nil primary runs
// permanently in fallback mode.
func NewFallbackStore(primary, fallback Store, cfg FallbackConfig) *FallbackStore {
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = defaultOpTimeout
	}
	if cfg.RetryPrimaryAfter <= 0 {
		cfg.RetryPrimaryAfter = defaultRetryPrimaryAfter
	}
	if cfg.DegradedLogEvery <= 0 {
		cfg.DegradedLogEvery = defaultDegradedLogEvery
	}
	if cfg.MaxPendingDeletes <= 0 {
		cfg.MaxPendingDeletes = defaultMaxPendingDeletes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	s := &FallbackStore{
		primary:  primary,
		fallback: fallback,
		cfg:      cfg,
		log:      logger.With("component", "kvstore.fallback"),
		now:      now,
		warn:     rate.Sometimes{Interval: cfg.DegradedLogEvery},
		pending:  make(map[string]struct{}),
		dropWarn: rate.Sometimes{Interval: cfg.DegradedLogEvery},
	}
	if primary == nil {
		s.degraded.Store(true)
	}
	return s
}

// Degraded reports whether the most recent primary attempt failed.
func (s *FallbackStore) Degraded() bool {
	return s.degraded.Load()
}

// Get implements Store.
func (s *FallbackStore) Get(ctx context.Context, key string) (string, error) {
	if v, ok := s.shadowed(ctx, key); ok {
		s.observe("get", OutcomeDegraded)
		return v, nil
	}
	v, _, err := run(s, ctx, "get", func(ctx context.Context, st Store) (string, error) {
		return st.Get(ctx, key)
	})
	return v, err
}

// Set implements Store.
func (s *FallbackStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	_, served, err := run(s, ctx, "set", func(ctx context.Context, st Store) (struct{}, error) {
		return struct{}{}, st.Set(ctx, key, value, ttl)
	})
	if err == nil {
		s.afterWrite(ctx, key, served, ttl)
	}
	return err
}

// Delete implements Store. While degraded the fallback copy is removed at
// once and the primary copy when the primary is next used.
func (s *FallbackStore) Delete(ctx context.Context, key string) error {
	_, served, err := run(s, ctx, "delete", func(ctx context.Context, st Store) (struct{}, error) {
		return struct{}{}, st.Delete(ctx, key)
	})
	if err != nil {
		return err
	}
	switch {
	case served == OutcomeDegraded:
		s.queueDelete(key)
	case s.fallbackLive():
		_ = s.fallback.Delete(ctx, key)
	}
	return nil
}

// IncrWithTTL implements Store. A counter created in the fallback keeps
// counting there until it expires.
func (s *FallbackStore) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if _, ok := s.shadowed(ctx, key); ok {
		n, err := s.fallback.IncrWithTTL(ctx, key, ttl)
		if err != nil {
			s.observe("incr", OutcomeFailed)
			return 0, err
		}
		s.observe("incr", OutcomeDegraded)
		return n, nil
	}
	n, served, err := run(s, ctx, "incr", func(ctx context.Context, st Store) (int64, error) {
		return st.IncrWithTTL(ctx, key, ttl)
	})
	if err == nil && served == OutcomeDegraded {
		s.noteFallbackWrite(ttl)
	}
	return n, err
}

// SetIfAbsent implements Store. A key still live in the fallback counts as
// present.
func (s *FallbackStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if _, ok := s.shadowed(ctx, key); ok {
		s.observe("setnx", OutcomeDegraded)
		return false, nil
	}
	ok, served, err := run(s, ctx, "setnx", func(ctx context.Context, st Store) (bool, error) {
		return st.SetIfAbsent(ctx, key, value, ttl)
	})
	if err == nil && ok && served == OutcomeDegraded {
		s.noteFallbackWrite(ttl)
	}
	return ok, err
}

// TTL implements TTLReader. It returns ErrUnsupported when the serving store
// cannot report lifetimes.
func (s *FallbackStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	if _, ok := s.shadowed(ctx, key); ok {
		return remainingTTL(ctx, s.fallback, key)
	}
	d, _, err := run(s, ctx, "ttl", func(ctx context.Context, st Store) (time.Duration, error) {
		return remainingTTL(ctx, st, key)
	})
	return d, err
}

func remainingTTL(ctx context.Context, st Store, key string) (time.Duration, error) {
	r, ok := st.(TTLReader)
	if !ok {
		return 0, ErrUnsupported
	}
	return r.TTL(ctx, key)
}

func run[T any](s *FallbackStore, ctx context.Context, op string, fn func(context.Context, Store) (T, error)) (T, Outcome, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, OutcomeFailed, err
	}

	if s.primaryUsable() {
		pctx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
		v, err := zero, s.replayDeletes(pctx)
		if err == nil {
			v, err = fn(pctx, s.primary)
		}
		cancel()

		switch {
		case err == nil, errors.Is(err, ErrNotFound):
			s.markHealthy()
			s.observe(op, OutcomePrimary)
			return v, OutcomePrimary, err
		case ctx.Err() != nil:
			// The caller gave up; that is not a primary outage.
			s.observe(op, OutcomeFailed)
			return zero, OutcomeFailed, ctx.Err()
		case !isUnavailable(err):
			s.observe(op, OutcomeFailed)
			return zero, OutcomeFailed, err
		}
		s.markDegraded(op, err)
	}

	v, err := fn(ctx, s.fallback)
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrUnsupported) {
		s.observe(op, OutcomeFailed)
		s.log.Error("fallback store operation failed", "op", op, "error", err)
		return zero, OutcomeFailed, err
	}
	s.observe(op, OutcomeDegraded)
	return v, OutcomeDegraded, err
}

func (s *FallbackStore) primaryUsable() bool {
	if s.primary == nil {
		return false
	}
	if !s.degraded.Load() {
		return true
	}
	return s.now().UnixNano() >= s.degradedUntil.Load()
}

// fallbackLive reports whether keys written during an outage may still be
// live in the fallback.
func (s *FallbackStore) fallbackLive() bool {
	return s.primary != nil && s.now().UnixNano() < s.shadowUntil.Load()
}

// shadowed returns the fallback value for key when it takes precedence over
// the primary.
func (s *FallbackStore) shadowed(ctx context.Context, key string) (string, bool) {
	if !s.fallbackLive() {
		return "", false
	}
	v, err := s.fallback.Get(ctx, key)
	return v, err == nil
}

func (s *FallbackStore) afterWrite(ctx context.Context, key string, served Outcome, ttl time.Duration) {
	if served == OutcomeDegraded {
		s.noteFallbackWrite(ttl)
		return
	}
	if s.fallbackLive() {
		_ = s.fallback.Delete(ctx, key)
	}
}

func (s *FallbackStore) noteFallbackWrite(ttl time.Duration) {
	if s.primary == nil {
		return
	}
	until := s.now().Add(ttl).UnixNano()
	for {
		cur := s.shadowUntil.Load()
		if cur >= until || s.shadowUntil.CompareAndSwap(cur, until) {
			return
		}
	}
}

func (s *FallbackStore) queueDelete(key string) {
	if s.primary == nil {
		return
	}
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if _, ok := s.pending[key]; !ok && len(s.pending) >= s.cfg.MaxPendingDeletes {
		s.dropWarn.Do(func() {
			s.log.Warn("pending delete queue full, primary copy will expire on its own",
				"key", key,
				"max_pending_deletes", s.cfg.MaxPendingDeletes,
			)
		})
		return
	}
	s.pending[key] = struct{}{}
	s.pendingCount.Store(int64(len(s.pending)))
}

// replayDeletes applies deletes queued while degraded. Keys that were
// replayed leave the queue even when a later one fails.
func (s *FallbackStore) replayDeletes(ctx context.Context) error {
	if s.pendingCount.Load() == 0 {
		return nil
	}
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	defer func() { s.pendingCount.Store(int64(len(s.pending))) }()

	for key := range s.pending {
		if err := s.primary.Delete(ctx, key); err != nil {
			return err
		}
		delete(s.pending, key)
	}
	return nil
}

func (s *FallbackStore) markDegraded(op string, cause error) {
	s.degradedUntil.Store(s.now().Add(s.cfg.RetryPrimaryAfter).UnixNano())
	s.degraded.Store(true)
	s.warn.Do(func() {
		s.log.Warn("primary store unreachable, serving from in-process fallback",
			"op", op,
			"error", cause,
			"retry_after", s.cfg.RetryPrimaryAfter,
		)
	})
}

func (s *FallbackStore) markHealthy() {
	if s.degraded.CompareAndSwap(true, false) {
		s.log.Info("primary store recovered")
	}
}

func (s *FallbackStore) observe(op string, outcome Outcome) {
	if s.cfg.Observer != nil {
		s.cfg.Observer(op, outcome)
	}
}

func isUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded)
}
