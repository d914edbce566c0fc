package tokenguard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/tokenguard/internal/rate"
)

// CheckRate counts one request for id against the burst and sustained
// windows. A rejection returns the decision together with a
// *RateLimitError carrying Retry-After.
//
// When the counter store fails, RateLimit.FailOpen admits the request
// (counted in MetricRateFailOpen); otherwise ErrServiceUnavailable is
// returned. A disabled limiter admits everything.
func (e *Engine) CheckRate(ctx context.Context, id RateIdentity) (RateDecision, error) {
	if !e.ready() {
		return RateDecision{}, ErrEngineNotReady
	}
	if e.limiter == nil {
		return RateDecision{Allowed: true}, nil
	}

	if id.Subject != "" {
		sub, err := e.codec.ResolveSubject(id.Subject)
		if err != nil {
			return RateDecision{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		id.Subject = sub
	}

	d, err := e.limiter.Check(ctx, id)
	if err != nil {
		if errors.Is(err, rate.ErrIdentityRequired) {
			return RateDecision{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		if e.config.RateLimit.FailOpen {
			e.metricInc(MetricRateFailOpen)
			e.failOpenWarn.Do(func() {
				e.log.Warn("rate limiter store failed, admitting request", "route", id.Route, "error", err)
			})
			return RateDecision{Allowed: true}, nil
		}
		e.log.Error("rate limiter store failed", "route", id.Route, "error", err)
		return RateDecision{}, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}

	switch {
	case d.Bypassed:
		e.metricInc(MetricRateBypassed)
		return d, nil
	case d.Allowed:
		e.metricInc(MetricRateAllowed)
		return d, nil
	}

	e.metricInc(MetricRateLimited)
	e.emitAudit(ctx, auditEventRateLimited, false, id.Subject, id.SessionID, ErrRateLimited, func() map[string]string {
		return map[string]string{
			"route":       id.Route,
			"window":      string(d.Window),
			"retry_after": d.RetryAfter.Round(time.Second).String(),
		}
	})
	return d, &RateLimitError{RetryAfter: d.RetryAfter, Window: d.Window}
}
