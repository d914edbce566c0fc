package session

import "time"

// Record is one device session. SessionID doubles as the refresh family id.
type Record struct {
	SessionID   string
	DeviceID    string
	Owner       string
	DeviceLabel string
	CreatedAt   time.Time
	LastSeenAt  time.Time
	ExpiresAt   time.Time
	Revoked     bool
	RevokedAt   time.Time
}

// Active reports whether r is neither revoked nor expired at now.
func (r *Record) Active(now time.Time) bool {
	return !r.Revoked && now.Before(r.ExpiresAt)
}

func (r *Record) clone() *Record {
	c := *r
	return &c
}

// CreateOptions carries optional inputs to Store.Create.
type CreateOptions struct {
	// DeviceID identifies the device across sessions. Empty generates one.
	DeviceID string
	// Label is a human-readable device name, for example "Firefox on Linux".
	Label string
}
