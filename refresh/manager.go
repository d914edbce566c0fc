package refresh

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/MrEthical07/tokenguard/kvstore"
)

const (
	defaultOpTimeout    = 2 * time.Second
	defaultLockTTL      = 5 * time.Second
	defaultLockAttempts = 3
	defaultLockBackoff  = 20 * time.Millisecond
)

// Config tunes a Manager.
type Config struct {
	// OpTimeout bounds each security-critical call once it is detached from
	// the caller's cancellation. Zero selects 2s.
	OpTimeout time.Duration
	// LockTTL bounds how long a crashed lock holder can block a claim. Zero
	// selects 5s.
	LockTTL time.Duration
	// LockAttempts is the number of acquisition tries. Zero selects 3.
	LockAttempts int
	// LockBackoff is the first retry delay; it doubles per attempt. Zero
	// selects 20ms.
	LockBackoff time.Duration
	// ForceLock always takes the advisory-lock path.
	ForceLock bool
	Logger    *slog.Logger
	Now       func() time.Time
}

// Manager tracks refresh-token consumption per session family.
type Manager struct {
	store kvstore.Store
	cfg   Config
	log   *slog.Logger
	now   func() time.Time
}

// NewManager creates a Manager over store.
func NewManager(store kvstore.Store, cfg Config) *Manager {
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = defaultOpTimeout
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if cfg.LockAttempts <= 0 {
		cfg.LockAttempts = defaultLockAttempts
	}
	if cfg.LockBackoff <= 0 {
		cfg.LockBackoff = defaultLockBackoff
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		store: store,
		cfg:   cfg,
		log:   logger.With("component", "refresh"),
		now:   now,
	}
}

func allowKey(sid string) string     { return "rf:allow:" + sid }
func usedKey(sid, jti string) string { return "rf:used:" + sid + ":" + jti }
func revokedKey(sid string) string   { return "rf:rev:" + sid }
func lastUsedKey(sid string) string  { return "rf:last:" + sid }
func lockKey(sid, jti string) string { return "rf:lock:" + sid + ":" + jti }

// Allow records jti as the token currently permitted for sid. Call it right
// after minting a refresh token. It runs to completion even if ctx is
// cancelled.
func (m *Manager) Allow(ctx context.Context, sid, jti string, ttl time.Duration) error {
	if sid == "" || jti == "" {
		return ErrInvalidInput
	}
	ctx, cancel := m.detach(ctx)
	defer cancel()
	return m.store.Set(ctx, allowKey(sid), jti, ttl)
}

// IsAllowed reports whether jti may be presented for sid: true when no
// allowance is recorded or it matches. A revoked family returns false with a
// FamilyRevoked *RotationError.
func (m *Manager) IsAllowed(ctx context.Context, sid, jti string) (bool, error) {
	if sid == "" || jti == "" {
		return false, ErrInvalidInput
	}
	revoked, err := m.revoked(ctx, sid)
	if err != nil {
		return false, err
	}
	if revoked {
		return false, rotationErr(FamilyRevoked, sid)
	}
	return m.allowanceMatches(ctx, sid, jti)
}

// Claim consumes jti for sid at most once. It returns nil for the single
// winning caller; every other caller gets a *RotationError.
//
// The claim is a single SetIfAbsent. Stores without that primitive
// (kvstore.ErrUnsupported), or Config.ForceLock, take an advisory lock on
// (sid, jti) and re-check under it. A family revoked while the claim is in
// flight fails the claim with FamilyRevoked. While the store serves from its
// in-process fallback the guarantee is local to this instance.
func (m *Manager) Claim(ctx context.Context, sid, jti string, ttl time.Duration) error {
	if sid == "" || jti == "" {
		return ErrInvalidInput
	}
	ctx, cancel := m.detach(ctx)
	defer cancel()

	if err := m.precheck(ctx, sid, jti); err != nil {
		return err
	}

	if !m.cfg.ForceLock {
		stamp := strconv.FormatInt(m.now().Unix(), 10)
		ok, err := m.store.SetIfAbsent(ctx, usedKey(sid, jti), stamp, ttl)
		switch {
		case err == nil && ok:
			return m.finishClaim(ctx, sid, jti, ttl)
		case err == nil:
			return rotationErr(AlreadyUsed, sid)
		case !errors.Is(err, kvstore.ErrUnsupported):
			return err
		}
	}

	return m.claimLocked(ctx, sid, jti, ttl)
}

// RevokeFamily invalidates every token of sid, including ids never seen.
// It runs to completion even if ctx is cancelled.
func (m *Manager) RevokeFamily(ctx context.Context, sid string, ttl time.Duration) error {
	if sid == "" {
		return ErrInvalidInput
	}
	ctx, cancel := m.detach(ctx)
	defer cancel()

	stamp := strconv.FormatInt(m.now().Unix(), 10)
	if err := m.store.Set(ctx, revokedKey(sid), stamp, ttl); err != nil {
		return err
	}
	if err := m.store.Delete(ctx, allowKey(sid)); err != nil {
		m.log.Warn("allowance cleanup failed after family revocation", "session_id", sid, "error", err)
	}
	return nil
}

// RevokedAt returns when sid was revoked, if it was.
func (m *Manager) RevokedAt(ctx context.Context, sid string) (time.Time, bool, error) {
	v, err := m.store.Get(ctx, revokedKey(sid))
	if errors.Is(err, kvstore.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	unix, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, true, nil
	}
	return time.Unix(unix, 0), true, nil
}

// LastUsed returns the most recently claimed token id for sid.
func (m *Manager) LastUsed(ctx context.Context, sid string) (string, bool, error) {
	v, err := m.store.Get(ctx, lastUsedKey(sid))
	if errors.Is(err, kvstore.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (m *Manager) claimLocked(ctx context.Context, sid, jti string, ttl time.Duration) error {
	key := lockKey(sid, jti)
	if err := m.acquire(ctx, key); err != nil {
		if errors.Is(err, errLockBusy) {
			return rotationErr(LockTimeout, sid)
		}
		return err
	}
	defer m.release(ctx, key)

	if err := m.precheck(ctx, sid, jti); err != nil {
		return err
	}
	stamp := strconv.FormatInt(m.now().Unix(), 10)
	if err := m.store.Set(ctx, usedKey(sid, jti), stamp, ttl); err != nil {
		return err
	}
	return m.finishClaim(ctx, sid, jti, ttl)
}

// finishClaim re-reads the revocation marker once the used marker is
// written. A RevokeFamily that lands between precheck and the write is
// either seen here or ordered after the claim.
func (m *Manager) finishClaim(ctx context.Context, sid, jti string, ttl time.Duration) error {
	revoked, err := m.revoked(ctx, sid)
	if err != nil {
		return err
	}
	if revoked {
		return rotationErr(FamilyRevoked, sid)
	}
	m.recordLastUsed(ctx, sid, jti, ttl)
	return nil
}

var errLockBusy = errors.New("refresh: lock busy")

// acquire takes the lock when IncrWithTTL observes the first hit.
func (m *Manager) acquire(ctx context.Context, key string) error {
	backoff := m.cfg.LockBackoff
	for attempt := 1; ; attempt++ {
		n, err := m.store.IncrWithTTL(ctx, key, m.cfg.LockTTL)
		if err != nil {
			return err
		}
		if n == 1 {
			return nil
		}
		if attempt >= m.cfg.LockAttempts {
			return errLockBusy
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errLockBusy
		case <-timer.C:
		}
		backoff *= 2
	}
}

func (m *Manager) release(ctx context.Context, key string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.OpTimeout)
	defer cancel()
	if err := m.store.Delete(rctx, key); err != nil {
		m.log.Warn("refresh lock release failed", "error", err, "lock_ttl", m.cfg.LockTTL)
	}
}

// precheck rejects revoked families, consumed ids and ids other than the
// current allowance, in that order.
func (m *Manager) precheck(ctx context.Context, sid, jti string) error {
	revoked, err := m.revoked(ctx, sid)
	if err != nil {
		return err
	}
	if revoked {
		return rotationErr(FamilyRevoked, sid)
	}

	_, err = m.store.Get(ctx, usedKey(sid, jti))
	switch {
	case err == nil:
		return rotationErr(AlreadyUsed, sid)
	case !errors.Is(err, kvstore.ErrNotFound):
		return err
	}

	ok, err := m.allowanceMatches(ctx, sid, jti)
	if err != nil {
		return err
	}
	if !ok {
		return rotationErr(NotAllowed, sid)
	}
	return nil
}

func (m *Manager) revoked(ctx context.Context, sid string) (bool, error) {
	_, err := m.store.Get(ctx, revokedKey(sid))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, kvstore.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (m *Manager) allowanceMatches(ctx context.Context, sid, jti string) (bool, error) {
	allowed, err := m.store.Get(ctx, allowKey(sid))
	switch {
	case errors.Is(err, kvstore.ErrNotFound):
		return true, nil
	case err != nil:
		return false, err
	}
	return allowed == jti, nil
}

func (m *Manager) recordLastUsed(ctx context.Context, sid, jti string, ttl time.Duration) {
	if err := m.store.Set(ctx, lastUsedKey(sid), jti, ttl); err != nil {
		m.log.Warn("refresh last-used write failed", "session_id", sid, "error", err)
	}
}

func (m *Manager) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), m.cfg.OpTimeout)
}
