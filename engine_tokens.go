package tokenguard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/tokenguard/jwt"
	"github.com/MrEthical07/tokenguard/refresh"
	"github.com/MrEthical07/tokenguard/session"
	"github.com/oklog/ulid/v2"
)

// IssueAccessToken mints an access token for subject. The subject is
// canonicalized before it is embedded as sub.
func (e *Engine) IssueAccessToken(ctx context.Context, subject string, extra map[string]any) (string, error) {
	if !e.ready() {
		return "", ErrEngineNotReady
	}
	token, _, err := e.codec.Encode(jwt.Claims{
		Subject: subject,
		Type:    jwt.TypeAccess,
		Extra:   extra,
	}, 0)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	e.metricInc(MetricAccessIssued)
	return token, nil
}

// IssueRefreshToken mints a refresh token for subject in a new family with
// no session record. Prefer StartSession, which also registers the device.
func (e *Engine) IssueRefreshToken(ctx context.Context, subject string, extra map[string]any) (string, error) {
	if !e.ready() {
		return "", ErrEngineNotReady
	}
	token, _, err := e.issueRefresh(ctx, subject, ulid.Make().String(), nil, extra)
	if err != nil {
		return "", err
	}
	return token, nil
}

// Verify decodes and checks token. Failures wrap both ErrInvalidCredential
// and the *jwt.TokenError carrying the failure kind. Verify is stateless:
// an access token stays valid until it expires even after its session is
// revoked.
func (e *Engine) Verify(ctx context.Context, token string) (*jwt.Claims, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	start := time.Now()
	claims, err := e.codec.Decode(token)
	e.metrics.Observe(MetricVerifyLatency, time.Since(start))
	if err != nil {
		e.metricInc(MetricVerifyFailure)
		if errors.Is(err, jwt.ErrExpired) {
			e.metricInc(MetricVerifyExpired)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}
	e.metricInc(MetricVerifySuccess)
	return claims, nil
}

// RotateRefresh consumes the presented refresh token and returns a new
// pair in the same family. sessionID may be empty, in which case the
// token's own sid is used; otherwise the two must match.
//
// A token that was already consumed, or superseded by a newer one, is a
// replay: the whole family is revoked (when Refresh.EscalateReplay is set)
// and the error wraps ErrRefreshReuse.
func (e *Engine) RotateRefresh(ctx context.Context, sessionID, presented string) (*TokenPair, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	claims, err := e.codec.Decode(presented)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshRejected, false, "", sessionID, err, nil)
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}
	if claims.Type != jwt.TypeRefresh || claims.SessionID == "" ||
		(sessionID != "" && claims.SessionID != sessionID) {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshRejected, false, claims.Subject, sessionID, ErrInvalidCredential, func() map[string]string {
			return map[string]string{"reason": "not_a_refresh_token_for_session"}
		})
		return nil, fmt.Errorf("%w: token is not a refresh token for this session", ErrInvalidCredential)
	}
	sid := claims.SessionID

	if err := e.refresh.Claim(ctx, sid, claims.TokenID, e.usedMarkerTTL(claims)); err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, e.rotationFailed(ctx, claims, err)
	}

	pair, err := e.mintPair(ctx, claims.Subject, sid, claims.Scope, claims.Extra)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, err
	}

	if err := e.sessions.Touch(ctx, sid); err != nil && !errors.Is(err, session.ErrNotFound) {
		e.log.Debug("session touch after rotation failed", "session_id", sid, "error", err)
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshRotated, true, claims.Subject, sid, nil, nil)
	return pair, nil
}

// usedMarkerTTL keeps the consumed marker for as long as the presented
// token could still pass verification.
func (e *Engine) usedMarkerTTL(claims *jwt.Claims) time.Duration {
	ttl := claims.ExpiresAt.Sub(e.now()) + e.config.JWT.Leeway
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

func (e *Engine) rotationFailed(ctx context.Context, claims *jwt.Claims, err error) error {
	sid := claims.SessionID
	kind, ok := refresh.KindOf(err)
	if !ok {
		if errors.Is(err, refresh.ErrInvalidInput) {
			e.emitAudit(ctx, auditEventRefreshRejected, false, claims.Subject, sid, ErrInvalidCredential, nil)
			return fmt.Errorf("%w: %w", ErrInvalidCredential, err)
		}
		e.log.Error("refresh claim failed", "session_id", sid, "error", err)
		e.emitAudit(ctx, auditEventRefreshRejected, false, claims.Subject, sid, ErrServiceUnavailable, nil)
		return fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}

	switch kind {
	case refresh.AlreadyUsed, refresh.NotAllowed:
		e.metricInc(MetricReplayDetected)
		e.log.Warn("refresh token replay detected",
			"session_id", sid,
			"kind", kind.String(),
			"escalate", e.config.Refresh.EscalateReplay,
		)
		e.emitAudit(ctx, auditEventRefreshReplay, false, claims.Subject, sid, err, nil)
		if e.config.Refresh.EscalateReplay {
			e.revokeFamilyForReplay(ctx, claims)
		}
		return fmt.Errorf("%w: %w", ErrRefreshReuse, err)
	case refresh.FamilyRevoked:
		e.emitAudit(ctx, auditEventRefreshRejected, false, claims.Subject, sid, err, nil)
		return fmt.Errorf("%w: %w", ErrFamilyRevoked, err)
	case refresh.LockTimeout:
		e.metricInc(MetricLockTimeout)
		e.emitAudit(ctx, auditEventRefreshRejected, false, claims.Subject, sid, err, nil)
		return fmt.Errorf("%w: %w", ErrRetryLater, err)
	}
	return fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
}

// revokeFamilyForReplay revokes the session and its family. The family
// revocation detaches from ctx inside refresh.Manager, so it completes
// even if the caller has gone away.
func (e *Engine) revokeFamilyForReplay(ctx context.Context, claims *jwt.Claims) {
	sid := claims.SessionID
	err := e.sessions.Revoke(ctx, sid)
	if errors.Is(err, session.ErrFamilyRevocation) {
		e.log.Error("family revocation after replay failed", "session_id", sid, "error", err)
		return
	}
	e.metricInc(MetricFamilyRevoked)
	e.emitAudit(ctx, auditEventFamilyRevoked, true, claims.Subject, sid, nil, func() map[string]string {
		return map[string]string{"reason": "replay"}
	})
}

// mintPair signs an access and a refresh token bound to sid and records
// the refresh token id as the only one allowed in the family.
func (e *Engine) mintPair(ctx context.Context, subject, sid string, scope []string, extra map[string]any) (*TokenPair, error) {
	access, ac, err := e.codec.Encode(jwt.Claims{
		Subject:   subject,
		Type:      jwt.TypeAccess,
		SessionID: sid,
		Scope:     scope,
		Extra:     extra,
	}, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	e.metricInc(MetricAccessIssued)

	refreshToken, rc, err := e.issueRefresh(ctx, subject, sid, scope, extra)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refreshToken,
		SessionID:        sid,
		AccessExpiresAt:  ac.ExpiresAt,
		RefreshExpiresAt: rc.ExpiresAt,
	}, nil
}

func (e *Engine) issueRefresh(ctx context.Context, subject, sid string, scope []string, extra map[string]any) (string, *jwt.Claims, error) {
	token, claims, err := e.codec.Encode(jwt.Claims{
		Subject:   subject,
		Type:      jwt.TypeRefresh,
		SessionID: sid,
		Scope:     scope,
		Extra:     extra,
	}, 0)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if err := e.refresh.Allow(ctx, sid, claims.TokenID, e.config.JWT.RefreshTTL); err != nil {
		e.log.Error("refresh allowance write failed", "session_id", sid, "error", err)
		return "", nil, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}
	e.metricInc(MetricRefreshIssued)
	return token, claims, nil
}
