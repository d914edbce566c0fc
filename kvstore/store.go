package kvstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get when the key is absent or expired.
	ErrNotFound = errors.New("kvstore: key not found")
	// ErrUnavailable marks a primary connectivity failure or timeout.
	ErrUnavailable = errors.New("kvstore: store unavailable")
	// ErrCapacity is returned when the in-process store refuses new keys.
	ErrCapacity = errors.New("kvstore: capacity exhausted")
	// ErrUnsupported is returned by stores that cannot perform an operation atomically.
	ErrUnsupported = errors.New("kvstore: operation unsupported")
	// ErrInvalidTTL is returned when a write is attempted with a non-positive TTL.
	ErrInvalidTTL = errors.New("kvstore: ttl must be positive")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("kvstore: store closed")

	errNotInteger = errors.New("kvstore: value is not an integer")
)

// Store is a TTL key/value store with atomic increment and atomic claim.
//
// Every write carries a TTL; there are no persistent keys.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// IncrWithTTL increments key and applies ttl only when the increment
	// created the key. It returns the post-increment count.
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// SetIfAbsent stores value only when key does not exist. It reports
	// whether this call created the key.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}

// TTLReader is implemented by stores that can report how long a key has
// left to live. TTL returns ErrNotFound for a missing or expired key.
type TTLReader interface {
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// Outcome classifies how a FallbackStore served an operation.
type Outcome uint8

const (
	// OutcomePrimary means the networked primary served the call.
	OutcomePrimary Outcome = iota
	// OutcomeDegraded means the in-process fallback served the call.
	OutcomeDegraded
	// OutcomeFailed means neither store could serve the call.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomePrimary:
		return "primary"
	case OutcomeDegraded:
		return "degraded"
	default:
		return "failed"
	}
}

// Observer receives one outcome per FallbackStore operation.
type Observer func(op string, outcome Outcome)

func validTTL(ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	return nil
}
