// Package prometheus exposes tokenguard engine metrics through
// client_golang.
//
// [Exporter] is a prometheus.Collector reading Engine.MetricsSnapshot on
// every scrape. Counters are named tokenguard_*_total; the verify latency
// histogram is tokenguard_verify_latency_seconds.
//
// # What this package must NOT do
//
//   - Register in the global default registry; callers pick the registry
//     or mount Handler.
//   - Mutate engine state.
package prometheus
