// Package prometheus exposes engine counters through client_golang.
//
// [NewCollector] wraps an [authcore.Engine] as a prometheus.Collector. Counter
// names are authcore_*_total; the single histogram is
// authcore_validate_latency_seconds. Register the collector in your own
// registry, or mount [Handler] which uses a private one.
package prometheus
