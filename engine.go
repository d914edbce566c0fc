package tokenguard

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	internalaudit "github.com/MrEthical07/tokenguard/internal/audit"
	"github.com/MrEthical07/tokenguard/internal/rate"
	"github.com/MrEthical07/tokenguard/jwt"
	"github.com/MrEthical07/tokenguard/kvstore"
	"github.com/MrEthical07/tokenguard/refresh"
	"github.com/MrEthical07/tokenguard/session"
	"github.com/jackc/pgx/v5/pgxpool"
	xrate "golang.org/x/time/rate"
)

// Engine is the consumer-facing API: token issue and verification, refresh
// rotation with replay escalation, device sessions and admission control.
// It is safe for concurrent use after Builder.Build.
type Engine struct {
	config Config
	log    *slog.Logger
	now    func() time.Time

	codec    *jwt.Manager
	store    *kvstore.FallbackStore
	memory   *kvstore.MemoryStore
	refresh  *refresh.Manager
	limiter  *rate.Limiter
	sessions *session.Store
	audit    *internalaudit.Dispatcher
	metrics  *Metrics
	pgPool   *pgxpool.Pool

	sessionBackend string

	failOpenWarn xrate.Sometimes
	closed       atomic.Bool
	closeOnce    sync.Once
}

// Close stops background work and releases resources the Engine created.
// Clients passed to the Builder are left open. Calls after Close return
// ErrEngineNotReady.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		e.audit.Close()
		e.closeOwned()
	})
}

func (e *Engine) closeOwned() {
	if e.memory != nil {
		_ = e.memory.Close()
	}
	if e.pgPool != nil {
		e.pgPool.Close()
	}
}

func (e *Engine) ready() bool {
	return e != nil && e.codec != nil && !e.closed.Load()
}

// AuditDropped returns how many audit events were dropped on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// StoreDegraded reports whether the key/value layer is currently serving
// from its in-process fallback.
func (e *Engine) StoreDegraded() bool {
	return e != nil && e.store != nil && e.store.Degraded()
}

// RotateKeys swaps the signing key ring. The new ring's first key signs
// from now on; tokens signed by keys still present keep verifying.
func (e *Engine) RotateKeys(ring *jwt.KeyRing) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if err := e.codec.Rotate(ring); err != nil {
		return err
	}
	e.log.Info("signing keys rotated", "primary_kid", ring.PrimaryID(), "kids", ring.IDs())
	e.emitAudit(context.Background(), auditEventKeysRotated, true, "", "", nil, func() map[string]string {
		return map[string]string{"primary_kid": ring.PrimaryID()}
	})
	return nil
}

// ResolveSubject returns the canonical id that tokens and sessions use for
// identifier.
func (e *Engine) ResolveSubject(identifier string) (string, error) {
	if !e.ready() {
		return "", ErrEngineNotReady
	}
	return e.codec.ResolveSubject(identifier)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}
