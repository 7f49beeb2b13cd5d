package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the session-lifecycle metrics shared by the core.
// Pipeline-specific metrics register themselves against the registry. The
// record methods tolerate a nil receiver so components built without a
// registry skip recording.
type Metrics struct {
	SessionStatus *prometheus.GaugeVec
	QRCodesIssued *prometheus.CounterVec
	SocketReinits *prometheus.CounterVec
}

// Session status gauge values.
const (
	StatusClosed     = 0
	StatusConnecting = 1
	StatusOpen       = 2
)

// NewMetrics creates a Metrics instance with all lifecycle metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		SessionStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "wwebjs",
				Subsystem: "session",
				Name:      "status",
				Help:      "Session connection status (0=closed, 1=connecting, 2=open)",
			},
			[]string{"session"},
		),

		QRCodesIssued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wwebjs",
				Subsystem: "session",
				Name:      "qr_codes_issued_total",
				Help:      "Total QR pairing challenges issued",
			},
			[]string{"session"},
		),

		SocketReinits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wwebjs",
				Subsystem: "session",
				Name:      "socket_reinits_total",
				Help:      "Total socket reinitializations by reason",
			},
			[]string{"session", "reason"},
		),
	}
}

// RecordSessionStatus updates a session's connection status.
func (c *Metrics) RecordSessionStatus(session string, status int) {
	if c == nil {
		return
	}
	c.SessionStatus.WithLabelValues(session).Set(float64(status))
}

// RecordQRIssued increments the QR challenge counter.
func (c *Metrics) RecordQRIssued(session string) {
	if c == nil {
		return
	}
	c.QRCodesIssued.WithLabelValues(session).Inc()
}

// RecordSocketReinit increments the socket reinitialization counter.
func (c *Metrics) RecordSocketReinit(session, reason string) {
	if c == nil {
		return
	}
	c.SocketReinits.WithLabelValues(session, reason).Inc()
}
