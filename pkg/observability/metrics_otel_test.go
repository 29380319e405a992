package observability

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestOTelMetrics builds instruments on a private provider with a manual reader
func newTestOTelMetrics(t *testing.T) (*OTelMetrics, *metric.ManualReader) {
	t.Helper()
	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := NewOTelMetricsWithMeter(provider.Meter("test"))
	require.NoError(t, err)
	return m, reader
}

func collect(t *testing.T, reader *metric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestOTelMetrics_RecordPermissionCheck(t *testing.T) {
	m, reader := newTestOTelMetrics(t)
	ctx := context.Background()

	m.RecordPermissionCheck(ctx, "allowed", 2*time.Millisecond)
	m.RecordPermissionCheck(ctx, "allowed", 3*time.Millisecond)
	m.RecordPermissionCheck(ctx, "denied", time.Millisecond)

	got := collect(t, reader)
	hist, ok := got["rbac.permission_check.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)

	var total uint64
	for _, dp := range hist.DataPoints {
		total += dp.Count
	}
	assert.Equal(t, uint64(3), total)
	assert.Len(t, hist.DataPoints, 2, "one series per result")
}

func TestOTelMetrics_RecordPermissionLoad(t *testing.T) {
	m, reader := newTestOTelMetrics(t)
	ctx := context.Background()

	m.RecordPermissionLoad(ctx, 10*time.Millisecond, nil)
	m.RecordPermissionLoad(ctx, 10*time.Millisecond, errors.New("db down"))

	got := collect(t, reader)
	sum, ok := got["rbac.permission_load.total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)

	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	assert.Equal(t, int64(2), total)
	assert.Contains(t, got, "rbac.permission_load.duration")
}

func TestOTelMetrics_UpdateDBConnectionStats(t *testing.T) {
	m, reader := newTestOTelMetrics(t)

	m.UpdateDBConnectionStats(context.Background(), sql.DBStats{OpenConnections: 4, InUse: 1})

	got := collect(t, reader)
	gauge, ok := got["db.connections.open"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(4), gauge.DataPoints[0].Value)
}

func TestOTelMetrics_NilReceiver(t *testing.T) {
	var m *OTelMetrics
	assert.NotPanics(t, func() {
		m.RecordPermissionCheck(context.Background(), "allowed", time.Millisecond)
		m.RecordPermissionLoad(context.Background(), time.Millisecond, nil)
		m.UpdateDBConnectionStats(context.Background(), sql.DBStats{})
	})
}
