// Package prometheus exposes engine metrics as a client_golang Collector.
//
// Counters are named authcore_*_total. Latency histograms are
// authcore_validate_latency_seconds and authcore_login_latency_seconds.
// The collector is not registered anywhere by default; callers register it
// with their own registry or mount [Collector.Handler].
package prometheus
