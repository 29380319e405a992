package observability

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics holds OpenTelemetry instruments for latencies that the
// Prometheus counters do not capture. Methods are no-ops on a nil receiver.
type OTelMetrics struct {
	// Authorization
	checkDuration metric.Float64Histogram
	loadDuration  metric.Float64Histogram
	loadsTotal    metric.Int64Counter

	// Database
	dbConnectionsOpen  metric.Int64Gauge
	dbConnectionsInUse metric.Int64Gauge
}

// NewOTelMetrics creates instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	return NewOTelMetricsWithMeter(otel.Meter("github.com/platinummonkey/bastion"))
}

// NewOTelMetricsWithMeter creates instruments on meter
func NewOTelMetricsWithMeter(meter metric.Meter) (*OTelMetrics, error) {
	m := &OTelMetrics{}
	var err error

	m.checkDuration, err = meter.Float64Histogram(
		"rbac.permission_check.duration",
		metric.WithDescription("Permission check duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create permission_check duration histogram: %w", err)
	}

	m.loadDuration, err = meter.Float64Histogram(
		"rbac.permission_load.duration",
		metric.WithDescription("Time to compute a user's permissions from the datastore"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create permission_load duration histogram: %w", err)
	}

	m.loadsTotal, err = meter.Int64Counter(
		"rbac.permission_load.total",
		metric.WithDescription("Datastore permission computations"),
		metric.WithUnit("{load}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create permission_load counter: %w", err)
	}

	m.dbConnectionsOpen, err = meter.Int64Gauge(
		"db.connections.open",
		metric.WithDescription("Open database connections"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create db_connections_open gauge: %w", err)
	}

	m.dbConnectionsInUse, err = meter.Int64Gauge(
		"db.connections.in_use",
		metric.WithDescription("Database connections in use"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create db_connections_in_use gauge: %w", err)
	}

	return m, nil
}

// RecordPermissionCheck records how long a check with the given result took
func (m *OTelMetrics) RecordPermissionCheck(ctx context.Context, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.checkDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.String("rbac.result", result)))
}

// RecordPermissionLoad records a datastore computation of a user's permissions
func (m *OTelMetrics) RecordPermissionLoad(ctx context.Context, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("error", err != nil))
	m.loadsTotal.Add(ctx, 1, attrs)
	m.loadDuration.Record(ctx, duration.Seconds(), attrs)
}

// UpdateDBConnectionStats records connection pool statistics
func (m *OTelMetrics) UpdateDBConnectionStats(ctx context.Context, stats sql.DBStats) {
	if m == nil {
		return
	}
	m.dbConnectionsOpen.Record(ctx, int64(stats.OpenConnections))
	m.dbConnectionsInUse.Record(ctx, int64(stats.InUse))
}
