package tokenguard

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// LintSeverity ranks a configuration warning.
type LintSeverity uint8

const (
	LintInfo LintSeverity = iota
	LintWarn
	LintHigh
)

func (s LintSeverity) String() string {
	switch s {
	case LintInfo:
		return "INFO"
	case LintWarn:
		return "WARN"
	case LintHigh:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}

// LintWarning is one finding about a configuration that validates but is
// probably not what production wants.
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

// LintResult is the list of findings returned by Config.Lint.
type LintResult []LintWarning

// Codes returns the warning codes in order.
func (r LintResult) Codes() []string {
	out := make([]string, len(r))
	for i, w := range r {
		out[i] = w.Code
	}
	return out
}

// BySeverity returns the warnings at or above min.
func (r LintResult) BySeverity(min LintSeverity) LintResult {
	var out LintResult
	for _, w := range r {
		if w.Severity >= min {
			out = append(out, w)
		}
	}
	return out
}

// AsError joins every warning at or above min into one error, or returns
// nil when there is none.
func (r LintResult) AsError(min LintSeverity) error {
	matched := r.BySeverity(min)
	if len(matched) == 0 {
		return nil
	}
	errs := make([]error, len(matched))
	for i, w := range matched {
		errs[i] = fmt.Errorf("[%s] %s: %s", w.Severity, w.Code, w.Message)
	}
	return errors.Join(errs...)
}

// Lint reports risky but valid settings. It does not call Validate.
func (c *Config) Lint() LintResult {
	var ws LintResult
	add := func(code string, sev LintSeverity, msg string) {
		ws = append(ws, LintWarning{Code: code, Severity: sev, Message: msg})
	}

	if c.JWT.Leeway > time.Minute {
		add("leeway_large", LintWarn, "leeway above 1m widens the replay window of expired tokens")
	}
	if c.JWT.AccessTTL > 10*time.Minute {
		add("access_ttl_long", LintWarn, "access tokens outlive logout for up to AccessTTL")
	}
	if c.JWT.RefreshTTL > 14*24*time.Hour {
		add("refresh_ttl_long", LintInfo, "refresh tokens live longer than two weeks")
	}

	if !c.Refresh.EscalateReplay {
		add("replay_escalation_disabled", LintHigh, "a replayed refresh token does not revoke its family")
	}

	if !c.RateLimit.Enabled {
		add("rate_limits_disabled", LintWarn, "admission control is off")
	} else if c.RateLimit.FailOpen {
		add("rate_fail_open", LintInfo, "requests are admitted while the counter store fails")
	}

	if c.Session.Backend == "memory" {
		add("session_backend_memory", LintWarn, "sessions are not shared between instances")
	}

	if !c.Audit.Enabled {
		add("audit_disabled", LintInfo, "replay and revocation events are not audited")
	}

	for _, k := range c.Keys {
		alg := strings.ToLower(strings.TrimSpace(k.Algorithm))
		if alg == "" || alg == "hs256" {
			add("signing_hs256", LintInfo, "shared-secret signing; every verifier can also mint tokens")
			break
		}
	}
	if len(c.Keys) == 1 {
		add("single_key", LintInfo, "no verify-only key is staged for rotation")
	}

	return ws
}
