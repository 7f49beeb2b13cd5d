package inbound

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rgranatodutra/wwebjs-api/metric"
)

// Metrics tracks inbound pipeline counters.
type Metrics struct {
	messagesProcessed *prometheus.CounterVec
	messagesSkipped   prometheus.Counter
	failures          prometheus.Counter
	statusUpdates     *prometheus.CounterVec
}

func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	// Return nil if no registry provided (nil input = nil feature pattern)
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		messagesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wwebjs",
			Subsystem: "inbound",
			Name:      "messages_processed_total",
			Help:      "Total inbound messages normalized and emitted",
		}, []string{"type"}),

		messagesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wwebjs",
			Subsystem: "inbound",
			Name:      "messages_skipped_self_total",
			Help:      "Total self-authored messages skipped",
		}),

		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wwebjs",
			Subsystem: "inbound",
			Name:      "normalization_failures_total",
			Help:      "Total messages dropped due to normalization failure",
		}),

		statusUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wwebjs",
			Subsystem: "inbound",
			Name:      "status_updates_total",
			Help:      "Total delivery-status updates emitted",
		}, []string{"status"}),
	}

	// Registration failures are logged by the registry consumer; a metric
	// that fails to register simply does not report.
	_ = registry.RegisterCounterVec("inbound", "messages_processed", metrics.messagesProcessed)
	_ = registry.RegisterCounter("inbound", "messages_skipped_self", metrics.messagesSkipped)
	_ = registry.RegisterCounter("inbound", "normalization_failures", metrics.failures)
	_ = registry.RegisterCounterVec("inbound", "status_updates", metrics.statusUpdates)

	return metrics
}

func (m *Metrics) recordProcessed(contentType string) {
	if m == nil {
		return
	}
	m.messagesProcessed.WithLabelValues(contentType).Inc()
}

func (m *Metrics) recordSkippedSelf() {
	if m == nil {
		return
	}
	m.messagesSkipped.Inc()
}

func (m *Metrics) recordFailure() {
	if m == nil {
		return
	}
	m.failures.Inc()
}

func (m *Metrics) recordStatusUpdate(status string) {
	if m == nil {
		return
	}
	m.statusUpdates.WithLabelValues(status).Inc()
}
