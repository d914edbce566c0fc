package tokenguard

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/tokenguard/session"
)

// CreateSession registers a device session for owner without minting
// tokens. owner is resolved to its canonical subject first.
func (e *Engine) CreateSession(ctx context.Context, owner, deviceID, label string) (*Session, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	sub, err := e.codec.ResolveSubject(owner)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	rec, err := e.sessions.Create(ctx, sub, session.CreateOptions{DeviceID: deviceID, Label: label})
	if err != nil {
		return nil, sessionFailure(err)
	}
	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, auditEventSessionStarted, true, sub, rec.SessionID, nil, func() map[string]string {
		return map[string]string{"device_id": rec.DeviceID}
	})
	return rec, nil
}

// StartSession is the login hand-off: it registers a session for owner and
// mints the first token pair of its refresh family. If minting fails the
// session is revoked again.
func (e *Engine) StartSession(ctx context.Context, owner string, opts StartOptions) (*Session, *TokenPair, error) {
	rec, err := e.CreateSession(ctx, owner, opts.DeviceID, opts.Label)
	if err != nil {
		return nil, nil, err
	}

	pair, err := e.mintPair(ctx, rec.Owner, rec.SessionID, opts.Scope, opts.Extra)
	if err != nil {
		if revErr := e.sessions.Revoke(ctx, rec.SessionID); revErr != nil {
			e.log.Warn("session rollback after mint failure", "session_id", rec.SessionID, "error", revErr)
		}
		return nil, nil, err
	}
	return rec, pair, nil
}

// TouchSession records activity on sessionID.
func (e *Engine) TouchSession(ctx context.Context, sessionID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if err := e.sessions.Touch(ctx, sessionID); err != nil {
		return sessionFailure(err)
	}
	return nil
}

// GetSession returns one session, revoked or not.
func (e *Engine) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	rec, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, sessionFailure(err)
	}
	return rec, nil
}

// ListSessions returns owner's active sessions, most recently seen first.
func (e *Engine) ListSessions(ctx context.Context, owner string) ([]*Session, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	sub, err := e.codec.ResolveSubject(owner)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	records, err := e.sessions.List(ctx, sub)
	if err != nil {
		return nil, sessionFailure(err)
	}
	return records, nil
}

// RevokeSession logs a device out: the session is marked revoked and its
// refresh family invalidated. Access tokens already issued stay valid
// until they expire.
//
// Success means the family is revoked. An unknown session still has its
// family revoked and returns ErrSessionNotFound; a failed bookkeeping write
// is only logged.
func (e *Engine) RevokeSession(ctx context.Context, sessionID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if sessionID == "" {
		return fmt.Errorf("%w: empty session id", ErrInvalidRequest)
	}

	err := e.sessions.Revoke(ctx, sessionID)
	if errors.Is(err, session.ErrFamilyRevocation) {
		e.emitAudit(ctx, auditEventSessionRevoked, false, "", sessionID, ErrServiceUnavailable, nil)
		return fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}

	e.metricInc(MetricFamilyRevoked)
	if errors.Is(err, session.ErrNotFound) {
		e.emitAudit(ctx, auditEventSessionRevoked, false, "", sessionID, ErrSessionNotFound, nil)
		return fmt.Errorf("%w: %w", ErrSessionNotFound, err)
	}
	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, auditEventSessionRevoked, true, "", sessionID, nil, nil)
	return nil
}

// RevokeAllSessions revokes every active session of owner and returns how
// many families were revoked.
func (e *Engine) RevokeAllSessions(ctx context.Context, owner string) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	sub, err := e.codec.ResolveSubject(owner)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	n, err := e.sessions.RevokeAll(ctx, sub)
	for i := 0; i < n; i++ {
		e.metricInc(MetricFamilyRevoked)
		e.metricInc(MetricSessionRevoked)
	}
	e.emitAudit(ctx, auditEventSessionsRevoked, err == nil, sub, "", err, func() map[string]string {
		return map[string]string{"count": fmt.Sprint(n)}
	})
	if err != nil {
		if errors.Is(err, session.ErrFamilyRevocation) {
			return n, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
		}
		return n, sessionFailure(err)
	}
	return n, nil
}
