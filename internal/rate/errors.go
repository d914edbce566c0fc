package rate

import "errors"

var (
	// ErrRateLimited is matched by rejections surfaced as errors.
	ErrRateLimited = errors.New("rate limited")
	// ErrIdentityRequired is returned when no key can be derived, or when an
	// admin route would fall back to the network origin.
	ErrIdentityRequired = errors.New("rate limit identity required")
	// ErrInvalidConfig is returned by New for unusable limits or windows.
	ErrInvalidConfig = errors.New("invalid rate limit configuration")
)
