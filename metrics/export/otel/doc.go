// Package otel publishes kennelguard engine metrics through an
// OpenTelemetry meter.
//
// Counters become Int64ObservableCounter instruments. The verify latency
// histogram becomes one cumulative Int64ObservableGauge per bucket plus a
// count gauge. One callback reads the engine snapshot per collection. The
// caller owns the MeterProvider.
package otel
