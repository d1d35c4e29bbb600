// Package otel binds goAccount engine metrics to an OpenTelemetry meter.
//
// [New] registers one Int64ObservableCounter per engine counter and one
// Int64ObservableGauge per cumulative histogram bucket. A single callback
// reads the engine snapshot on each collection. The caller owns the
// MeterProvider.
package otel
