// Package telemetry bootstraps the OpenTelemetry tracer provider and owns the
// Prometheus metrics describing gateway traffic.
package telemetry
