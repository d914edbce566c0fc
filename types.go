package tokenguard

import (
	"time"

	"github.com/MrEthical07/tokenguard/internal/rate"
	"github.com/MrEthical07/tokenguard/session"
)

// TokenPair is the result of a login hand-off or a refresh rotation.
// SessionID is also the refresh family id.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	SessionID        string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// StartOptions carries the optional inputs of Engine.StartSession.
type StartOptions struct {
	// DeviceID identifies the device across logins. Empty generates one.
	DeviceID string
	// Label is a human-readable device name.
	Label string
	// Scope is copied into both tokens and survives rotation.
	Scope []string
	// Extra is copied into both tokens as the "ext" claim.
	Extra map[string]any
}

// Session is one device session as returned by the Engine.
type Session = session.Record

// RateIdentity describes who is making a request; see Engine.CheckRate.
type RateIdentity = rate.Identity

// RateDecision is the outcome of an admission check.
type RateDecision = rate.Decision

// RateWindow names the burst or sustained window.
type RateWindow = rate.Window

const (
	// RateWindowBurst is the short, strict window.
	RateWindowBurst = rate.Burst
	// RateWindowSustained is the long, generous window.
	RateWindowSustained = rate.Sustained
)
