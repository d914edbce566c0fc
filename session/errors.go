package session

import "errors"

var (
	// ErrNotFound is returned for unknown or expired sessions.
	ErrNotFound = errors.New("session not found")
	// ErrRevoked is returned when touching a revoked session.
	ErrRevoked = errors.New("session revoked")
	// ErrInvalidInput is returned for an empty owner or an oversized label.
	ErrInvalidInput = errors.New("invalid session input")
	// ErrStoreUnavailable wraps repository backend failures.
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrUnsupportedVersion is returned by Decode for unknown schema bytes.
	ErrUnsupportedVersion = errors.New("unsupported session schema version")
	// ErrFamilyRevocation reports that the refresh family of a session could
	// not be revoked. Unlike bookkeeping failures this leaves the session's
	// refresh tokens usable.
	ErrFamilyRevocation = errors.New("refresh family revocation failed")
)
