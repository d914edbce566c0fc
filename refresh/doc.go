// Package refresh tracks refresh-token rotation for session families.
//
// # Key layout
//
// All state lives in a kvstore.Store:
//   - rf:allow:<sid>       token id currently permitted for the session
//   - rf:used:<sid>:<jti>  consumed token ids (claim markers)
//   - rf:rev:<sid>         family revocation time
//   - rf:last:<sid>        most recently claimed token id
//   - rf:lock:<sid>:<jti>  advisory claim lock (lock path only)
//
// # Architecture boundaries
//
// This package decides whether a presented token id may be consumed. It does
// not decode tokens and does not escalate: turning an AlreadyUsed or
// NotAllowed result into a family revocation is the caller's policy.
//
// # What this package must NOT do
//
//   - Import tokenguard, jwt, or session.
//   - Swallow store errors. Degradation is handled inside kvstore.
//   - Let caller cancellation interrupt Allow, Claim or RevokeFamily.
package refresh
