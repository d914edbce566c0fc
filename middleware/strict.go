package middleware

import (
	"net/http"

	"github.com/MrEthical07/tokenguard"
)

// RequireTokenAndCSRF requires a valid access token and a passing csrf
// check. It panics on a nil verifier, which is a wiring error.
func RequireTokenAndCSRF(engine *tokenguard.Engine, csrf CSRFVerifier) func(http.Handler) http.Handler {
	if csrf == nil {
		panic("middleware: RequireTokenAndCSRF needs a CSRFVerifier")
	}
	return Guard(engine, TokenAndCSRF, csrf)
}
