package kvstore

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

const (
	defaultSweepInterval = 60 * time.Second
	defaultSoftLimit     = 100_000
	// writeSweepBudget bounds how many entries one write inspects.
	writeSweepBudget = 16
)

// MemoryConfig tunes a MemoryStore.
type MemoryConfig struct {
	// SweepInterval is the janitor period. Zero selects 60s; negative
	// disables the janitor.
	SweepInterval time.Duration
	// SoftLimit triggers a warning from the janitor when exceeded.
	SoftLimit int
	// MaxEntries refuses new keys with ErrCapacity when reached. Zero means
	// unbounded.
	MaxEntries int
	Logger     *slog.Logger
	Now        func() time.Time
}

type entry struct {
	value     string
	expiresAt time.Time
}

// MemoryStore is an in-process Store. All operations hold one mutex, which
// makes IncrWithTTL and SetIfAbsent atomic within the process.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
	cfg     MemoryConfig
	log     *slog.Logger
	now     func() time.Time

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closed    bool
}

// NewMemoryStore creates a MemoryStore and starts its janitor.
func NewMemoryStore(cfg MemoryConfig) *MemoryStore {
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.SoftLimit <= 0 {
		cfg.SoftLimit = defaultSoftLimit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	s := &MemoryStore{
		entries: make(map[string]entry),
		cfg:     cfg,
		log:     logger.With("component", "kvstore.memory"),
		now:     now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	if cfg.SweepInterval > 0 {
		go s.janitor(cfg.SweepInterval)
	} else {
		close(s.done)
	}

	return s
}

// Get returns the live value under key.
func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrClosed
	}
	e, ok := s.liveLocked(key, s.now())
	if !ok {
		return "", ErrNotFound
	}
	return e.value, nil
}

// TTL returns the remaining lifetime of key.
func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}
	now := s.now()
	e, ok := s.liveLocked(key, now)
	if !ok {
		return 0, ErrNotFound
	}
	return e.expiresAt.Sub(now), nil
}

// Set stores value under key for ttl.
func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if err := validTTL(ttl); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	now := s.now()
	s.sweepSomeLocked(now)
	if _, exists := s.entries[key]; !exists && s.fullLocked() {
		return ErrCapacity
	}
	s.entries[key] = entry{value: value, expiresAt: now.Add(ttl)}
	return nil
}

// Delete removes key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	delete(s.entries, key)
	return nil
}

// IncrWithTTL increments the decimal counter under key. The TTL is set when
// the counter is created and left untouched afterwards.
func (s *MemoryStore) IncrWithTTL(_ context.Context, key string, ttl time.Duration) (int64, error) {
	if err := validTTL(ttl); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}
	now := s.now()
	s.sweepSomeLocked(now)

	e, ok := s.liveLocked(key, now)
	if !ok {
		if s.fullLocked() {
			return 0, ErrCapacity
		}
		s.entries[key] = entry{value: "1", expiresAt: now.Add(ttl)}
		return 1, nil
	}

	count, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		return 0, errNotInteger
	}
	count++
	e.value = strconv.FormatInt(count, 10)
	s.entries[key] = e
	return count, nil
}

// SetIfAbsent stores value only when no live entry exists under key.
func (s *MemoryStore) SetIfAbsent(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := validTTL(ttl); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrClosed
	}
	now := s.now()
	s.sweepSomeLocked(now)

	if _, ok := s.liveLocked(key, now); ok {
		return false, nil
	}
	if s.fullLocked() {
		return false, ErrCapacity
	}
	s.entries[key] = entry{value: value, expiresAt: now.Add(ttl)}
	return true, nil
}

// Len returns the number of stored entries, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep removes every expired entry and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for k, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// Close stops the janitor and rejects further calls.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.stop)
		<-s.done
	})
	return nil
}

func (s *MemoryStore) janitor(interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed := s.Sweep()
			size := s.Len()
			if size > s.cfg.SoftLimit {
				s.log.Warn("fallback store above soft limit",
					"entries", size,
					"soft_limit", s.cfg.SoftLimit,
					"swept", removed,
				)
			}
		case <-s.stop:
			return
		}
	}
}

func (s *MemoryStore) liveLocked(key string, now time.Time) (entry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return entry{}, false
	}
	if !now.Before(e.expiresAt) {
		delete(s.entries, key)
		return entry{}, false
	}
	return e, true
}

// sweepSomeLocked inspects a bounded number of entries. Map iteration order
// is randomized, so repeated writes eventually visit every key.
func (s *MemoryStore) sweepSomeLocked(now time.Time) {
	budget := writeSweepBudget
	for k, e := range s.entries {
		if budget == 0 {
			return
		}
		budget--
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
		}
	}
}

func (s *MemoryStore) fullLocked() bool {
	return s.cfg.MaxEntries > 0 && len(s.entries) >= s.cfg.MaxEntries
}
