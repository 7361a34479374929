// Package otel publishes engine counters as OpenTelemetry asynchronous
// instruments.
//
// [NewExporter] registers an Int64ObservableCounter per engine counter and an
// Int64ObservableGauge per validate-latency bucket. The caller owns the
// MeterProvider and supplies the Meter.
package otel
