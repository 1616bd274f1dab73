// Package prometheus renders kennelguard engine metrics in the Prometheus
// text exposition format.
//
// Counters are named kennelguard_*_total. Verify latency is the histogram
// kennelguard_verify_latency_seconds. Nothing is registered globally; mount
// Exporter.Handler where the scraper expects it.
package prometheus
