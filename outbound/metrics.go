package outbound

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rgranatodutra/wwebjs-api/metric"
)

// Metrics tracks outbound pipeline counters.
type Metrics struct {
	sends          *prometheus.CounterVec
	retries        prometheus.Counter
	edits          *prometheus.CounterVec
	typingDuration prometheus.Histogram
}

func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	// Return nil if no registry provided (nil input = nil feature pattern)
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wwebjs",
			Subsystem: "outbound",
			Name:      "sends_total",
			Help:      "Total send operations by result",
		}, []string{"result"}),

		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wwebjs",
			Subsystem: "outbound",
			Name:      "retries_total",
			Help:      "Total sends retried with the alternate destination format",
		}),

		edits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wwebjs",
			Subsystem: "outbound",
			Name:      "edits_total",
			Help:      "Total edit operations by result",
		}, []string{"result"}),

		typingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wwebjs",
			Subsystem: "outbound",
			Name:      "typing_duration_seconds",
			Help:      "Simulated typing wait duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
	}

	_ = registry.RegisterCounterVec("outbound", "sends", metrics.sends)
	_ = registry.RegisterCounter("outbound", "retries", metrics.retries)
	_ = registry.RegisterCounterVec("outbound", "edits", metrics.edits)
	_ = registry.RegisterHistogram("outbound", "typing_duration", metrics.typingDuration)

	return metrics
}

func (m *Metrics) recordSend(result string) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(result).Inc()
}

func (m *Metrics) recordRetry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *Metrics) recordEdit(result string) {
	if m == nil {
		return
	}
	m.edits.WithLabelValues(result).Inc()
}

func (m *Metrics) recordTypingDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.typingDuration.Observe(d.Seconds())
}
