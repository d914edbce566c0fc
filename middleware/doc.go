// Package middleware adapts tokenguard.Engine to net/http.
//
// # Route modes
//
// Every protected route declares one [Mode] in a [Table] built at startup:
//
//   - [Public]: no credential required; rate limits key on the caller's
//     address unless the route is administrative.
//   - [TokenOnly]: a valid access token is required.
//   - [TokenAndCSRF]: a valid access token and a passing [CSRFVerifier].
//
// Unknown route names fail at wiring time, never at request time.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. Token
// verification and admission decisions are the Engine's; the CSRF check
// itself is the injected verifier's.
//
// # What this package must NOT do
//
//   - Parse or sign tokens directly.
//   - Tell a client why a credential was rejected.
//   - Decide fail-open versus fail-closed for the limiter (Engine config).
package middleware
