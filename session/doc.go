// Package session keeps the per-device session registry.
//
// A session is created at login, touched on activity and revoked on logout.
// Its id is also the refresh family id, so revoking a session revokes every
// refresh token descended from that login.
//
// # Binary encoding
//
// The Redis repository stores records in a compact binary format (schema
// versions v1–v2) with forward migration on read. The encoder is
// append-only: new versions add fields but never reinterpret old ones.
//
// # Architecture boundaries
//
// This package owns the [Store] service, the [Record] model and the
// [Repository] implementations (memory, Redis, Postgres). Refresh family
// revocation is delegated to a [FamilyRevoker].
//
// # What this package must NOT do
//
//   - Import tokenguard or jwt (no upward imports).
//   - Skip the family revocation when a bookkeeping write fails.
//   - Store tokens or other secrets in [Record] fields.
package session
