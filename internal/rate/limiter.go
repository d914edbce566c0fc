package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/tokenguard/kvstore"
)

// Window names one of the two buckets kept per key.
type Window string

const (
	// Burst is the short window with the strict limit.
	Burst Window = "burst"
	// Sustained is the long window with the generous limit.
	Sustained Window = "sustained"
)

// Config holds limiter thresholds.
type Config struct {
	BurstLimit      int
	BurstWindow     time.Duration
	SustainedLimit  int
	SustainedWindow time.Duration
	// BypassScope admits identities carrying it without counting.
	BypassScope string
}

// Bucket is the state of one window after a check.
type Bucket struct {
	Key    string
	Window Window
	Count  int64
	Limit  int
	Length time.Duration
	// ResetAfter is how long the window has left. It is only looked up for
	// exceeded buckets.
	ResetAfter time.Duration
}

// Exceeded reports whether the bucket is over its limit.
func (b Bucket) Exceeded() bool {
	return b.Count > int64(b.Limit)
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed  bool
	Bypassed bool
	Key      string
	// Window and RetryAfter describe the rejecting bucket. When both buckets
	// are exceeded the one resetting last is reported.
	Window     Window
	RetryAfter time.Duration
	Buckets    []Bucket
}

// Limiter enforces a burst and a sustained fixed-window budget per key using
// kvstore counters. A window opens with the first request counted against
// it and lasts its full length, so no window is shorter than configured.
// Instances sharing a store share the window because it lives in the
// counter's TTL.
type Limiter struct {
	store  kvstore.Store
	config Config
}

// New creates a Limiter backed by store.
func New(store kvstore.Store, cfg Config) (*Limiter, error) {
	if cfg.BurstLimit <= 0 || cfg.SustainedLimit <= 0 {
		return nil, fmt.Errorf("%w: limits must be positive", ErrInvalidConfig)
	}
	if cfg.BurstWindow <= 0 || cfg.SustainedWindow <= 0 {
		return nil, fmt.Errorf("%w: windows must be positive", ErrInvalidConfig)
	}
	if cfg.BurstWindow > cfg.SustainedWindow {
		return nil, fmt.Errorf("%w: burst window exceeds sustained window", ErrInvalidConfig)
	}
	return &Limiter{store: store, config: cfg}, nil
}

// Check counts one request for id and decides admission. Both buckets are
// incremented on every counted request, admitted or not. Store errors are
// returned as is; the caller chooses between failing open and closed.
func (l *Limiter) Check(ctx context.Context, id Identity) (Decision, error) {
	if id.HasScope(l.config.BypassScope) {
		return Decision{Allowed: true, Bypassed: true}, nil
	}

	key, err := id.Key()
	if err != nil {
		return Decision{}, err
	}

	burst, err := l.count(ctx, key, Burst, l.config.BurstLimit, l.config.BurstWindow)
	if err != nil {
		return Decision{}, err
	}
	sustained, err := l.count(ctx, key, Sustained, l.config.SustainedLimit, l.config.SustainedWindow)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{Allowed: true, Key: key, Buckets: []Bucket{burst, sustained}}
	for i := range d.Buckets {
		b := &d.Buckets[i]
		if !b.Exceeded() {
			continue
		}
		b.ResetAfter = l.resetAfter(ctx, b.Key, b.Length)
		if d.Allowed || b.ResetAfter > d.RetryAfter {
			d.Window = b.Window
			d.RetryAfter = b.ResetAfter
		}
		d.Allowed = false
	}
	return d, nil
}

func (l *Limiter) count(ctx context.Context, key string, w Window, limit int, length time.Duration) (Bucket, error) {
	bucketKey := key + ":" + string(w)
	n, err := l.store.IncrWithTTL(ctx, bucketKey, length)
	if err != nil {
		return Bucket{}, fmt.Errorf("rate: %s window: %w", w, err)
	}
	return Bucket{
		Key:    bucketKey,
		Window: w,
		Count:  n,
		Limit:  limit,
		Length: length,
	}, nil
}

// resetAfter reads the remaining window from the counter TTL. Stores that
// cannot report it yield the full window length.
func (l *Limiter) resetAfter(ctx context.Context, bucketKey string, length time.Duration) time.Duration {
	r, ok := l.store.(kvstore.TTLReader)
	if !ok {
		return length
	}
	ttl, err := r.TTL(ctx, bucketKey)
	switch {
	case errors.Is(err, kvstore.ErrNotFound):
		return 0
	case err != nil, ttl <= 0, ttl > length:
		return length
	}
	return ttl
}
