package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestRecordSessionEstablishedAndTornDown(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordSessionEstablished()
	require.Equal(t, float64(1), gaugeValue(t, m.SessionsActive))
	require.Equal(t, float64(1), counterValue(t, m.SessionsTotal))

	m.RecordSessionTornDown("idle_timeout")
	require.Equal(t, float64(0), gaugeValue(t, m.SessionsActive))
}

func TestRecordProtocolDropAndHandshakeReject(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordProtocolDrop("replay")
	m.RecordProtocolDrop("replay")
	m.RecordHandshakeReject("stale_timestamp")

	var dropMetric dto.Metric
	require.NoError(t, m.ProtocolDrops.WithLabelValues("replay").Write(&dropMetric))
	require.Equal(t, float64(2), dropMetric.GetCounter().GetValue())

	var rejectMetric dto.Metric
	require.NoError(t, m.HandshakeRejects.WithLabelValues("stale_timestamp").Write(&rejectMetric))
	require.Equal(t, float64(1), rejectMetric.GetCounter().GetValue())
}

func TestDefaultIsSingleton(t *testing.T) {
	a := Default()
	b := Default()
	require.Same(t, a, b)
}
