// Package otel binds engine counters and latency histograms to OpenTelemetry
// observable instruments.
//
// One callback reads [authcore.Engine.MetricsSnapshot] per collection cycle.
// Callers own the MeterProvider and pass in a Meter.
package otel
