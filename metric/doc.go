// Package metric provides Prometheus metrics collection and exposure for the
// session service.
//
// The MetricsRegistry owns a private Prometheus registry pre-loaded with the
// core platform metrics (session status, inbound/outbound message counters,
// processing durations, error totals) plus the Go runtime collectors.
// Components register their own metrics through the MetricsRegistrar
// interface; duplicate registrations are rejected.
//
// Server exposes the registry over HTTP at /metrics in OpenMetrics format.
//
// Components that accept an optional registry follow the nil-registry
// convention: a nil *MetricsRegistry disables metrics collection entirely,
// and the component's internal metrics struct stays nil with guarded access.
package metric
