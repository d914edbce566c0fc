// Package kvstore provides the TTL-aware key/value abstraction every stateful
// tokenguard component is built on.
//
// # Implementations
//
//   - [RedisStore]: networked primary, one round trip per atomic operation.
//   - [MemoryStore]: in-process map with identical TTL and atomicity rules.
//   - [FallbackStore]: tries the primary under a short timeout and falls back
//     to a [MemoryStore] when the primary is unreachable.
//
// # Fallback scope
//
// While degraded, atomicity is scoped to one process. Writes served by the
// fallback are not copied to the primary; instead the fallback keeps
// shadowing the primary for those keys until they expire, so claims and
// revocations recorded during an outage still hold on this instance after
// recovery. Deletes issued while degraded are queued and replayed to the
// primary before it serves again. Other instances only see the primary, so
// callers that depend on cluster-wide exactly-once semantics must still
// treat degraded windows as instance-local.
//
// # What this package must NOT do
//
//   - Interpret values (refresh, rate and session semantics live elsewhere).
//   - Panic or block indefinitely because the primary is unavailable.
package kvstore
