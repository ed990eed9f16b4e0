// Package otel exports goTrust engine metrics through an OpenTelemetry Meter.
//
// Each counter family becomes one Int64ObservableCounter whose series carry
// the family label as an attribute (event, decision, outcome). The latency
// histogram is published as cumulative gauges keyed by the "le" attribute.
// One callback reads the engine snapshot and role registry per collection.
// Callers keep ownership of the MeterProvider.
package otel
