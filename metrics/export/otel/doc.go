// Package otel exposes identitykit engine metrics through OpenTelemetry
// observable instruments.
//
// [NewOTelExporter] registers one Int64ObservableCounter per engine counter
// and Int64ObservableGauge instruments for the latency histogram buckets.
// The values are pulled from [identitykit.Engine.MetricsSnapshot] by a
// single callback on each collection cycle, so the exporter adds no cost
// to the authentication hot path.
//
// The caller owns the MeterProvider and its reader; this package only
// registers against a supplied Meter and never mutates engine state.
package otel
