// Package rate implements two-window admission control on top of
// kvstore counters.
//
// # Window semantics
//
// Fixed windows opened by the first request: one IncrWithTTL per window per
// check, TTL applied on the first hit, so windows never straddle a clock
// boundary. Retry-After is the counter's remaining TTL. Keys have the form
//
//	rl:<route>:<kind>:<value>:<window>
//
// where kind is o (override), u (subject), d (device), s (session) or ip.
//
// # What this package must NOT do
//
//   - Decide fail-open versus fail-closed on store errors.
//   - Key administrative routes on the network origin.
//   - Be imported outside the tokenguard module.
package rate
