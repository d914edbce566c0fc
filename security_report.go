package tokenguard

import "time"

// SecurityReport summarizes the effective security posture of an Engine,
// for startup logs and health endpoints. It carries no key material.
type SecurityReport struct {
	SigningAlgorithm   string
	PrimaryKeyID       string
	VerifyKeyIDs       []string
	AccessTTL          time.Duration
	RefreshTTL         time.Duration
	SessionTTL         time.Duration
	Leeway             time.Duration
	ReplayEscalation   bool
	ForceLock          bool
	RateLimitingActive bool
	RateFailOpen       bool
	SessionBackend     string
	StoreDegraded      bool
	AuditEnabled       bool
	LintHighCount      int
}

// SecurityReport returns the current posture.
func (e *Engine) SecurityReport() SecurityReport {
	if !e.ready() {
		return SecurityReport{}
	}

	ring := e.codec.Ring()
	alg := ""
	if len(e.config.Keys) > 0 {
		alg = e.config.Keys[0].Algorithm
		if alg == "" {
			alg = "hs256"
		}
	}

	return SecurityReport{
		SigningAlgorithm:   alg,
		PrimaryKeyID:       ring.PrimaryID(),
		VerifyKeyIDs:       ring.IDs(),
		AccessTTL:          e.config.JWT.AccessTTL,
		RefreshTTL:         e.config.JWT.RefreshTTL,
		SessionTTL:         e.sessions.TTL(),
		Leeway:             e.config.JWT.Leeway,
		ReplayEscalation:   e.config.Refresh.EscalateReplay,
		ForceLock:          e.config.Refresh.ForceLock,
		RateLimitingActive: e.limiter != nil,
		RateFailOpen:       e.limiter != nil && e.config.RateLimit.FailOpen,
		SessionBackend:     e.sessionBackend,
		StoreDegraded:      e.StoreDegraded(),
		AuditEnabled:       e.config.Audit.Enabled,
		LintHighCount:      len(e.config.Lint().BySeverity(LintHigh)),
	}
}
