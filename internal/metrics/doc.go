// Package metrics exposes hub activity as Prometheus metrics.
//
// A Collector owns its own registry. Counters are fed from a single bus
// subscription; gauges read live values (entity count, bus subscribers,
// WebSocket clients) at scrape time.
package metrics
