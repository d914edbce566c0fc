package tokenguard

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/tokenguard/internal/rate"
	"github.com/MrEthical07/tokenguard/jwt"
	"github.com/MrEthical07/tokenguard/refresh"
	"github.com/MrEthical07/tokenguard/session"
)

// Public error categories. Engine methods wrap the internal typed error
// (jwt.TokenError, refresh.RotationError, ...) together with one of these,
// so callers can match either with errors.Is / errors.As.
var (
	// ErrInvalidCredential covers every token verification failure.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrRefreshReuse reports a replayed or superseded refresh token.
	ErrRefreshReuse = errors.New("refresh token reuse detected")
	// ErrFamilyRevoked reports a refresh attempt on a revoked session.
	ErrFamilyRevoked = errors.New("session revoked")
	// ErrRetryLater reports a transient conflict the caller may retry.
	ErrRetryLater = errors.New("retry later")
	// ErrRateLimited reports a rejected admission check.
	ErrRateLimited = errors.New("rate limited")
	// ErrServiceUnavailable reports a permanent backend failure.
	ErrServiceUnavailable = errors.New("service unavailable")
	// ErrSessionNotFound reports an unknown or expired session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidRequest reports caller input the engine cannot act on.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrEngineNotReady is returned by a nil or closed Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// RateLimitError is returned when an admission check rejects a request.
type RateLimitError struct {
	RetryAfter time.Duration
	Window     RateWindow
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (%s window), retry after %s", e.Window, e.RetryAfter)
}

// Is matches ErrRateLimited.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

var publicErrors = []error{
	ErrInvalidCredential,
	ErrRefreshReuse,
	ErrFamilyRevoked,
	ErrRetryLater,
	ErrRateLimited,
	ErrSessionNotFound,
	ErrInvalidRequest,
	ErrEngineNotReady,
	ErrServiceUnavailable,
}

// PublicError collapses err to the coarse category safe to show outside the
// process. Token failure kinds all become ErrInvalidCredential, so a client
// cannot tell an expired token from a forged one. Unknown errors become
// ErrServiceUnavailable. A nil err stays nil.
func PublicError(err error) error {
	if err == nil {
		return nil
	}
	for _, target := range publicErrors {
		if errors.Is(err, target) {
			return target
		}
	}

	var tokErr *jwt.TokenError
	var rotErr *refresh.RotationError
	switch {
	case errors.As(err, &tokErr):
		return ErrInvalidCredential
	case errors.As(err, &rotErr):
		return rotationPublic(rotErr)
	case errors.Is(err, rate.ErrRateLimited):
		return ErrRateLimited
	case errors.Is(err, session.ErrNotFound):
		return ErrSessionNotFound
	case errors.Is(err, session.ErrRevoked):
		return ErrFamilyRevoked
	case errors.Is(err, session.ErrInvalidInput), errors.Is(err, refresh.ErrInvalidInput):
		return ErrInvalidRequest
	}
	return ErrServiceUnavailable
}

func rotationPublic(err *refresh.RotationError) error {
	switch err.Kind {
	case refresh.AlreadyUsed, refresh.NotAllowed:
		return ErrRefreshReuse
	case refresh.FamilyRevoked:
		return ErrFamilyRevoked
	case refresh.LockTimeout:
		return ErrRetryLater
	}
	return ErrServiceUnavailable
}

// sessionFailure pairs a session store error with its public category.
func sessionFailure(err error) error {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrSessionNotFound, err)
	case errors.Is(err, session.ErrRevoked):
		return fmt.Errorf("%w: %w", ErrFamilyRevoked, err)
	case errors.Is(err, session.ErrInvalidInput):
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
}
