package middleware

import (
	"net/http"

	"github.com/MrEthical07/tokenguard"
)

// RequireToken requires a valid access token. Verification is stateless:
// no store round trip is made.
func RequireToken(engine *tokenguard.Engine) func(http.Handler) http.Handler {
	return Guard(engine, TokenOnly, nil)
}
