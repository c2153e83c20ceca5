package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PauloFidalgo/cmov-5g/errors"
)

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()

	require.NotNil(t, registry)
	require.NotNil(t, registry.PrometheusRegistry())
	require.NotNil(t, registry.CoreMetrics())
}

func TestCoreMetricsRecording(t *testing.T) {
	registry := NewMetricsRegistry()
	m := registry.CoreMetrics()

	m.RecordLineConsumed()
	m.RecordLineConsumed()
	m.RecordLineIgnored()
	m.RecordFieldMatched()
	m.RecordParseError("DRB.UEThpDl")
	m.RecordWindowOpened()
	m.RecordEmitted()
	m.RecordDropped(DropIncomplete)
	m.RecordDropped(DropIncomplete)
	m.RecordDropped(DropSuperseded)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.LinesConsumed))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.LinesIgnored))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.FieldsMatched))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ParseErrors.WithLabelValues("DRB.UEThpDl")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.WindowsOpened))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RecordsEmitted))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.EntriesDropped.WithLabelValues(DropIncomplete)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.EntriesDropped.WithLabelValues(DropSuperseded)))
}

func TestRegisterCounter(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter_total",
		Help: "test counter",
	})

	require.NoError(t, registry.RegisterCounter("file-input", "lines_read", counter))

	// Duplicate registration under the same key is invalid
	err := registry.RegisterCounter("file-input", "lines_read", counter)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestUnregister(t *testing.T) {
	registry := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "test_gauge",
		Help: "test gauge",
	})

	require.NoError(t, registry.RegisterGauge("file-input", "offset", gauge))
	assert.True(t, registry.Unregister("file-input", "offset"))
	assert.False(t, registry.Unregister("file-input", "offset"))

	// Re-registration after unregister succeeds
	require.NoError(t, registry.RegisterGauge("file-input", "offset", gauge))
}

func TestNewServer_Defaults(t *testing.T) {
	registry := NewMetricsRegistry()

	server := NewServer(0, "", registry)
	assert.Equal(t, "http://localhost:9090/metrics", server.Address())

	server = NewServer(8123, "/m", registry)
	assert.Equal(t, "http://localhost:8123/m", server.Address())
}

func TestServer_StopWithoutStart(t *testing.T) {
	server := NewServer(9090, "/metrics", NewMetricsRegistry())
	assert.NoError(t, server.Stop())
}
