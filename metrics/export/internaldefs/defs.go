package internaldefs

import (
	"github.com/MrEthical07/tokenguard"
)

// CounterDef names one engine counter.
type CounterDef struct {
	ID   tokenguard.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram.
type HistogramDef struct {
	ID   tokenguard.MetricID
	Name string
	Help string
}

// AuditDroppedName is the counter fed by Engine.AuditDropped.
const (
	AuditDroppedName = "tokenguard_audit_dropped_total"
	AuditDroppedHelp = "Audit events dropped under dispatcher backpressure."
)

var CounterDefs = []CounterDef{
	{ID: tokenguard.MetricAccessIssued, Name: "tokenguard_access_issued_total", Help: "Access tokens minted."},
	{ID: tokenguard.MetricRefreshIssued, Name: "tokenguard_refresh_issued_total", Help: "Refresh tokens minted."},
	{ID: tokenguard.MetricVerifySuccess, Name: "tokenguard_verify_success_total", Help: "Tokens that verified."},
	{ID: tokenguard.MetricVerifyFailure, Name: "tokenguard_verify_failure_total", Help: "Tokens that failed verification."},
	{ID: tokenguard.MetricVerifyExpired, Name: "tokenguard_verify_expired_total", Help: "Verification failures caused by expiry."},
	{ID: tokenguard.MetricRefreshSuccess, Name: "tokenguard_refresh_success_total", Help: "Completed refresh rotations."},
	{ID: tokenguard.MetricRefreshFailure, Name: "tokenguard_refresh_failure_total", Help: "Rejected refresh rotations."},
	{ID: tokenguard.MetricReplayDetected, Name: "tokenguard_replay_detected_total", Help: "Refresh tokens presented after being consumed or superseded."},
	{ID: tokenguard.MetricFamilyRevoked, Name: "tokenguard_family_revoked_total", Help: "Refresh families revoked."},
	{ID: tokenguard.MetricLockTimeout, Name: "tokenguard_lock_timeout_total", Help: "Refresh claims that could not take the family lock."},
	{ID: tokenguard.MetricSessionCreated, Name: "tokenguard_session_created_total", Help: "Device sessions created."},
	{ID: tokenguard.MetricSessionRevoked, Name: "tokenguard_session_revoked_total", Help: "Device sessions revoked."},
	{ID: tokenguard.MetricRateAllowed, Name: "tokenguard_rate_allowed_total", Help: "Requests admitted by the limiter."},
	{ID: tokenguard.MetricRateLimited, Name: "tokenguard_rate_limited_total", Help: "Requests rejected by the limiter."},
	{ID: tokenguard.MetricRateBypassed, Name: "tokenguard_rate_bypassed_total", Help: "Requests admitted through the bypass scope."},
	{ID: tokenguard.MetricRateFailOpen, Name: "tokenguard_rate_fail_open_total", Help: "Requests admitted because the counter store failed."},
	{ID: tokenguard.MetricStorePrimary, Name: "tokenguard_store_primary_total", Help: "Store operations served by the primary."},
	{ID: tokenguard.MetricStoreDegraded, Name: "tokenguard_store_degraded_total", Help: "Store operations served by the in-process fallback."},
	{ID: tokenguard.MetricStoreFailed, Name: "tokenguard_store_failed_total", Help: "Store operations that failed on both paths."},
}

var HistogramDefs = []HistogramDef{
	{ID: tokenguard.MetricVerifyLatency, Name: "tokenguard_verify_latency_seconds", Help: "Token verification latency."},
}

// HistogramBounds are the upper bounds in seconds of the engine's eight
// latency buckets. The last bucket is unbounded.
var HistogramBounds = [8]float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.005, 0.025, 0}

// HistogramBoundSuffix names each bucket for exporters without labels.
var HistogramBoundSuffix = [8]string{
	"0_00005",
	"0_0001",
	"0_00025",
	"0_0005",
	"0_001",
	"0_005",
	"0_025",
	"inf",
}

// NormalizeBuckets pads or truncates raw to eight buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	copy(out[:], raw)
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i, v := range raw {
		running += v
		out[i] = running
	}
	return out
}
