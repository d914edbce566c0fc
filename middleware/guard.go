package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/MrEthical07/tokenguard"
	"github.com/MrEthical07/tokenguard/jwt"
)

// Mode is the authentication requirement of a route.
type Mode uint8

const (
	Public Mode = iota
	TokenOnly
	TokenAndCSRF
)

func (m Mode) String() string {
	switch m {
	case Public:
		return "public"
	case TokenOnly:
		return "tokenOnly"
	case TokenAndCSRF:
		return "tokenAndCsrf"
	default:
		return "unknown"
	}
}

// CSRFVerifier checks the anti-forgery proof of a request that already
// carries a valid access token.
type CSRFVerifier interface {
	VerifyCSRF(r *http.Request, claims *jwt.Claims) error
}

// CSRFVerifierFunc adapts a function to CSRFVerifier.
type CSRFVerifierFunc func(r *http.Request, claims *jwt.Claims) error

// VerifyCSRF calls f.
func (f CSRFVerifierFunc) VerifyCSRF(r *http.Request, claims *jwt.Claims) error {
	return f(r, claims)
}

type claimsContextKey struct{}

// ClaimsFromContext returns the access token claims stored by a guard.
func ClaimsFromContext(ctx context.Context) (*jwt.Claims, bool) {
	c, ok := ctx.Value(claimsContextKey{}).(*jwt.Claims)
	return c, ok
}

// Guard enforces mode. csrf is required for TokenAndCSRF and ignored
// otherwise. On success the claims are stored in the request context.
func Guard(engine *tokenguard.Engine, mode Mode, csrf CSRFVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r = withClientIP(r)
			if mode == Public {
				next.ServeHTTP(w, r)
				return
			}
			if engine == nil {
				WriteError(w, tokenguard.ErrEngineNotReady)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				WriteError(w, tokenguard.ErrInvalidCredential)
				return
			}

			claims, err := engine.Verify(r.Context(), token)
			if err != nil {
				WriteError(w, err)
				return
			}
			if claims.Type != jwt.TypeAccess {
				WriteError(w, tokenguard.ErrInvalidCredential)
				return
			}

			if mode == TokenAndCSRF {
				if csrf == nil {
					WriteError(w, errors.New("csrf verifier missing"))
					return
				}
				if err := csrf.VerifyCSRF(r, claims); err != nil {
					http.Error(w, "forbidden", http.StatusForbidden)
					return
				}
			}

			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

func withClientIP(r *http.Request) *http.Request {
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		host = h
	}
	if host == "" {
		return r
	}
	return r.WithContext(tokenguard.WithClientIP(r.Context(), host))
}
