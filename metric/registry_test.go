package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()

	require.NotNil(t, registry)
	assert.NotNil(t, registry.PrometheusRegistry())
	assert.NotNil(t, registry.CoreMetrics())
}

func TestRegisterCounter(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter_total",
		Help: "Test counter",
	})

	err := registry.RegisterCounter("inbound", "test_counter", counter)
	require.NoError(t, err)

	// Second registration under the same key is rejected.
	err = registry.RegisterCounter("inbound", "test_counter", counter)
	assert.Error(t, err)
}

func TestRegisterDifferentComponentsSameName(t *testing.T) {
	registry := NewMetricsRegistry()

	a := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "component_a_ops_total",
		Help: "ops",
	})
	b := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "component_b_ops_total",
		Help: "ops",
	})

	require.NoError(t, registry.RegisterCounter("a", "ops", a))
	require.NoError(t, registry.RegisterCounter("b", "ops", b))
}

func TestUnregister(t *testing.T) {
	registry := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "test_gauge",
		Help: "Test gauge",
	})
	require.NoError(t, registry.RegisterGauge("outbound", "test_gauge", gauge))

	assert.True(t, registry.Unregister("outbound", "test_gauge"))
	assert.False(t, registry.Unregister("outbound", "test_gauge"))

	// Registering again after unregister works.
	require.NoError(t, registry.RegisterGauge("outbound", "test_gauge", gauge))
}

func TestCoreMetricsRecording(t *testing.T) {
	registry := NewMetricsRegistry()
	core := registry.CoreMetrics()

	assert.NotPanics(t, func() {
		core.RecordSessionStatus("s1", StatusOpen)
		core.RecordQRIssued("s1")
		core.RecordSocketReinit("s1", "restart_required")
	})

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["wwebjs_session_status"])
	assert.True(t, names["wwebjs_session_qr_codes_issued_total"])
	assert.True(t, names["wwebjs_session_socket_reinits_total"])
}

func TestCoreMetricsNilReceiver(t *testing.T) {
	var core *Metrics

	assert.NotPanics(t, func() {
		core.RecordSessionStatus("s1", StatusClosed)
		core.RecordQRIssued("s1")
		core.RecordSocketReinit("s1", "logged_out")
	})
}
