// Package internaldefs holds the metric names and bucket bounds shared by the
// Prometheus and OpenTelemetry exporters, so both publish identical series.
//
// It depends only on the root package for MetricID constants and performs no I/O.
package internaldefs
