package jwt

import (
	"errors"
	"fmt"
)

// FailureKind classifies why a token was rejected.
type FailureKind uint8

const (
	// Malformed covers undecodable tokens and unacceptable claims.
	Malformed FailureKind = iota + 1
	// Expired means exp is in the past beyond the configured leeway.
	Expired
	// SignatureInvalid means a candidate key existed but no signature matched.
	SignatureInvalid
	// UnknownKey means the ring holds no key able to verify the token.
	UnknownKey
)

func (k FailureKind) String() string {
	switch k {
	case Malformed:
		return "malformed"
	case Expired:
		return "expired"
	case SignatureInvalid:
		return "signature_invalid"
	case UnknownKey:
		return "unknown_key"
	default:
		return "unknown"
	}
}

// Sentinels matched by errors.Is against a *TokenError of the same kind.
var (
	ErrMalformed        = errors.New("token malformed")
	ErrExpired          = errors.New("token expired")
	ErrSignatureInvalid = errors.New("token signature invalid")
	ErrUnknownKey       = errors.New("token signing key unknown")
)

var (
	// ErrInvalidTokenType is returned by Encode for types other than access
	// and refresh.
	ErrInvalidTokenType = errors.New("invalid token type")
	// ErrEmptySubject is returned when the subject resolves to nothing.
	ErrEmptySubject = errors.New("empty subject")
	// ErrInvalidTTL is returned when a token lifetime is shorter than one
	// second.
	ErrInvalidTTL = errors.New("invalid token ttl")
)

// TokenError is returned by Decode. Kind is kept for logs and metrics;
// external responses should collapse it to a single invalid-credential
// category.
type TokenError struct {
	Kind FailureKind
	Err  error
}

func (e *TokenError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("jwt: %s", e.Kind)
	}
	return fmt.Sprintf("jwt: %s: %v", e.Kind, e.Err)
}

func (e *TokenError) Unwrap() error { return e.Err }

// Is matches the sentinel for e.Kind.
func (e *TokenError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func (k FailureKind) sentinel() error {
	switch k {
	case Malformed:
		return ErrMalformed
	case Expired:
		return ErrExpired
	case SignatureInvalid:
		return ErrSignatureInvalid
	case UnknownKey:
		return ErrUnknownKey
	default:
		return nil
	}
}

// KindOf extracts the failure kind from err.
func KindOf(err error) (FailureKind, bool) {
	var te *TokenError
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return 0, false
}

func tokenErr(kind FailureKind, cause error) *TokenError {
	return &TokenError{Kind: kind, Err: cause}
}
