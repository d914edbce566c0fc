// Package otel publishes tokenguard engine metrics as OpenTelemetry
// observable instruments.
//
// [NewExporter] creates one Int64ObservableCounter per engine counter and,
// per latency histogram, a cumulative bucket gauge labelled by "le" plus a
// count gauge. A single callback reads Engine.MetricsSnapshot on each
// collection.
//
// # What this package must NOT do
//
//   - Own the MeterProvider; callers supply the Meter.
//   - Mutate engine state.
package otel
