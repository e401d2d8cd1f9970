package postgres

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	monitoringmetrics "github.com/danmincu/pulstrate/engine/infra/monitoring/metrics"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	defaultPoolLabel  = "default"
	postgresMeterName = "pulstrate.postgres"
)

var (
	poolMetricsOnce sync.Once
	poolMetricsErr  error
	poolConnsOpen   metric.Int64ObservableGauge
	poolConnsInUse  metric.Int64ObservableGauge
	poolConnsIdle   metric.Int64ObservableGauge
	poolConnsMax    metric.Int64ObservableGauge
	observedPools   sync.Map
)

// poolMetrics publishes pgxpool statistics as async gauges. One instance per
// Store; instruments and the observer callback are process-global.
type poolMetrics struct {
	label string
	pool  atomic.Pointer[pgxpool.Pool]
}

func newPoolMetrics(cfg *Config) (*poolMetrics, error) {
	if cfg == nil {
		return nil, nil
	}
	if err := ensurePoolInstruments(); err != nil {
		return nil, fmt.Errorf("postgres: init metrics: %w", err)
	}
	label := cfg.DBName
	if label == "" {
		label = defaultPoolLabel
	}
	return &poolMetrics{label: label}, nil
}

func ensurePoolInstruments() error {
	poolMetricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter(postgresMeterName)
		var err error
		poolConnsOpen, err = meter.Int64ObservableGauge(
			monitoringmetrics.MetricNameWithSubsystem("postgres", "connections_open"),
			metric.WithDescription("Number of open Postgres connections"),
		)
		if err != nil {
			poolMetricsErr = err
			return
		}
		poolConnsInUse, err = meter.Int64ObservableGauge(
			monitoringmetrics.MetricNameWithSubsystem("postgres", "connections_in_use"),
			metric.WithDescription("Number of Postgres connections currently in use"),
		)
		if err != nil {
			poolMetricsErr = err
			return
		}
		poolConnsIdle, err = meter.Int64ObservableGauge(
			monitoringmetrics.MetricNameWithSubsystem("postgres", "connections_idle"),
			metric.WithDescription("Number of idle Postgres connections"),
		)
		if err != nil {
			poolMetricsErr = err
			return
		}
		poolConnsMax, err = meter.Int64ObservableGauge(
			monitoringmetrics.MetricNameWithSubsystem("postgres", "max_open_connections"),
			metric.WithDescription("Configured Postgres connection pool size"),
		)
		if err != nil {
			poolMetricsErr = err
			return
		}
		_, poolMetricsErr = meter.RegisterCallback(
			observePools,
			poolConnsOpen,
			poolConnsInUse,
			poolConnsIdle,
			poolConnsMax,
		)
	})
	return poolMetricsErr
}

func observePools(_ context.Context, observer metric.Observer) error {
	observedPools.Range(func(_, value any) bool {
		pm, ok := value.(*poolMetrics)
		if !ok || pm == nil {
			return true
		}
		pool := pm.pool.Load()
		if pool == nil {
			return true
		}
		stats := pool.Stat()
		attrs := metric.WithAttributes(attribute.String("pool", pm.label))
		observer.ObserveInt64(poolConnsOpen, int64(stats.TotalConns()), attrs)
		observer.ObserveInt64(poolConnsInUse, int64(stats.AcquiredConns()), attrs)
		observer.ObserveInt64(poolConnsIdle, int64(stats.IdleConns()), attrs)
		observer.ObserveInt64(poolConnsMax, int64(stats.MaxConns()), attrs)
		return true
	})
	return nil
}

func (p *poolMetrics) attach(pool *pgxpool.Pool) {
	if p == nil || pool == nil {
		return
	}
	p.pool.Store(pool)
	observedPools.Store(p, p)
}

func (p *poolMetrics) unregister() {
	if p == nil {
		return
	}
	observedPools.Delete(p)
	p.pool.Store(nil)
}
