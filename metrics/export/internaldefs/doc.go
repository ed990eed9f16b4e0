// Package internaldefs is the shared metric catalog for the Prometheus and
// OpenTelemetry exporters. Engine counters are grouped into labeled families,
// so both exporters publish gotrust_tokens_total{event="expired"} rather than
// one name per counter.
package internaldefs
