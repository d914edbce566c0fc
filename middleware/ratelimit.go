package middleware

import (
	"net/http"

	"github.com/MrEthical07/tokenguard"
)

// IdentityFunc derives the admission identity of a request. The default
// uses the guard's claims when present and the remote address otherwise.
type IdentityFunc func(r *http.Request) tokenguard.RateIdentity

// RateLimit admits or rejects requests with Engine.CheckRate. Rejections
// answer 429 with Retry-After in whole seconds. Place it after a guard so
// authenticated requests are keyed on their subject.
func RateLimit(engine *tokenguard.Engine, route string, admin bool, identify IdentityFunc) func(http.Handler) http.Handler {
	if identify == nil {
		identify = defaultIdentity
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := identify(r)
			id.Route = route
			id.Admin = admin

			if _, err := engine.CheckRate(r.Context(), id); err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func defaultIdentity(r *http.Request) tokenguard.RateIdentity {
	id := tokenguard.RateIdentity{RemoteAddr: r.RemoteAddr}
	if claims, ok := ClaimsFromContext(r.Context()); ok {
		id.Subject = claims.Subject
		id.SessionID = claims.SessionID
		id.Scopes = claims.Scope
	}
	return id
}
