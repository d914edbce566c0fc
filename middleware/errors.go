package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/MrEthical07/tokenguard"
)

// WriteError maps err to a status and writes a body naming only its public
// category. RateLimitError sets Retry-After.
func WriteError(w http.ResponseWriter, err error) {
	public := tokenguard.PublicError(err)
	if public == nil {
		public = tokenguard.ErrServiceUnavailable
	}

	var rl *tokenguard.RateLimitError
	if errors.As(err, &rl) {
		w.Header().Set("Retry-After", retryAfterSeconds(rl.RetryAfter))
	}

	status := http.StatusInternalServerError
	switch public {
	case tokenguard.ErrInvalidCredential, tokenguard.ErrRefreshReuse, tokenguard.ErrFamilyRevoked:
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		status = http.StatusUnauthorized
	case tokenguard.ErrRateLimited:
		status = http.StatusTooManyRequests
	case tokenguard.ErrRetryLater:
		w.Header().Set("Retry-After", "1")
		status = http.StatusConflict
	case tokenguard.ErrInvalidRequest:
		status = http.StatusBadRequest
	case tokenguard.ErrSessionNotFound:
		status = http.StatusNotFound
	case tokenguard.ErrServiceUnavailable, tokenguard.ErrEngineNotReady:
		status = http.StatusServiceUnavailable
	}
	http.Error(w, public.Error(), status)
}

func retryAfterSeconds(d time.Duration) string {
	secs := int64((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}
