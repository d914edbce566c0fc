// Package jwt encodes and decodes access and refresh tokens over an ordered
// key ring. The first ring key signs; every key verifies, so a ring can be
// rotated by prepending a new key and dropping the old one only after the
// tokens it signed have expired.
//
// Subjects are canonicalized through an IdentityResolver before they are
// embedded, so callers passing legacy identifiers still produce one stable
// sub per user.
//
// Decode failures are *TokenError values carrying a FailureKind. The kind is
// meant for logs and metrics; callers facing untrusted clients should report
// a single invalid-credential result.
package jwt
