package refresh

import (
	"errors"
	"fmt"
)

// Kind classifies a rejected claim.
type Kind uint8

const (
	// AlreadyUsed means the token id was consumed before. Treat as replay.
	AlreadyUsed Kind = iota + 1
	// FamilyRevoked means the whole session family was revoked.
	FamilyRevoked
	// LockTimeout means the advisory lock could not be acquired. Retryable.
	LockTimeout
	// NotAllowed means a different token id is the currently permitted one.
	NotAllowed
)

func (k Kind) String() string {
	switch k {
	case AlreadyUsed:
		return "already_used"
	case FamilyRevoked:
		return "family_revoked"
	case LockTimeout:
		return "lock_timeout"
	case NotAllowed:
		return "not_allowed"
	default:
		return "unknown"
	}
}

// Sentinels matched by errors.Is against a *RotationError of the same kind.
var (
	ErrAlreadyUsed   = errors.New("refresh token already used")
	ErrFamilyRevoked = errors.New("refresh family revoked")
	ErrLockTimeout   = errors.New("refresh claim lock timeout")
	ErrNotAllowed    = errors.New("refresh token not allowed")
)

// ErrInvalidInput is returned for empty session or token ids.
var ErrInvalidInput = errors.New("refresh: empty session or token id")

// RotationError reports why Claim or IsAllowed refused a token.
type RotationError struct {
	Kind      Kind
	SessionID string
}

func (e *RotationError) Error() string {
	return fmt.Sprintf("refresh: session %s: %s", e.SessionID, e.Kind)
}

// Is matches the sentinel for e.Kind.
func (e *RotationError) Is(target error) bool {
	switch e.Kind {
	case AlreadyUsed:
		return target == ErrAlreadyUsed
	case FamilyRevoked:
		return target == ErrFamilyRevoked
	case LockTimeout:
		return target == ErrLockTimeout
	case NotAllowed:
		return target == ErrNotAllowed
	}
	return false
}

// Retryable reports whether the caller may retry the same token.
func (e *RotationError) Retryable() bool {
	return e.Kind == LockTimeout
}

// KindOf extracts the rotation kind from err.
func KindOf(err error) (Kind, bool) {
	var re *RotationError
	if errors.As(err, &re) {
		return re.Kind, true
	}
	return 0, false
}

func rotationErr(kind Kind, sessionID string) error {
	return &RotationError{Kind: kind, SessionID: sessionID}
}
