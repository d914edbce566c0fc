// Package tokenguard issues and verifies signed access and refresh tokens,
// rotates refresh tokens with replay detection, tracks device sessions and
// enforces per-identity request budgets.
//
// An [Engine] is assembled once with [Builder] and is safe for concurrent
// use afterwards.
//
// # Architecture boundaries
//
// tokenguard is the public surface: [Engine], [Builder], [Config] and the
// value types it returns. Key handling lives in jwt, single-use refresh
// claims in refresh, device sessions in session and the key/value layer in
// kvstore. Admission control and audit dispatch live under internal/.
//
// # Refresh families
//
// Every session id doubles as the id of a refresh family. Rotating a refresh
// token consumes it exactly once; presenting it again, or presenting an
// older token of the same family, is treated as theft and revokes the whole
// family. Logout revokes the family too. Access tokens are verified without
// any store lookup and stay valid until they expire.
//
// # Errors
//
// Engine methods return errors that match one public category with
// errors.Is (ErrInvalidCredential, ErrRefreshReuse, ...) and, where one
// exists, the internal typed error with errors.As. [PublicError] collapses
// any error to the category that is safe to return to a client.
//
// # What this package must NOT do
//
//   - Expose Redis clients or the encoded session layout in its API.
//   - Tell a client why a token was rejected.
//   - Perform I/O before Build.
package tokenguard
