// Package prometheus renders goTrust engine metrics in the Prometheus text
// exposition format without a client library or global registry.
//
// Counters are published as labeled families, for example
// gotrust_tokens_total{event="invalid"} and
// gotrust_authorizations_total{decision="denied"}. gotrust_roles{kind} is a
// gauge read from the role registry on every scrape, and
// gotrust_verify_latency_seconds is the token verification histogram.
package prometheus
