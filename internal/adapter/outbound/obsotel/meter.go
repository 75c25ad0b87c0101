package obsotel

import (
	"context"
	"io"
	"time"

	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/sentinelgate/ruleengine/internal/domain/metrics"
)

// MeterProvider periodically exports the engine's system gauges
// (spec §4.H) via stdoutmetric, alongside the Prometheus series in
// obsprom: Prometheus serves scrape-based consumers, this path serves a
// push-based sidecar/log aggregator. RegisterSystemGauges is the engine's
// only call site; an unregistered MeterProvider exports nothing.
type MeterProvider struct {
	mp *sdkmetric.MeterProvider
}

// NewMeterProvider builds a MeterProvider exporting to w every interval.
func NewMeterProvider(w io.Writer, interval time.Duration) (*MeterProvider, error) {
	if w == nil {
		w = io.Discard
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	)
	return &MeterProvider{mp: mp}, nil
}

// Meter returns a named meter for registering instruments.
func (m *MeterProvider) Meter(name string) metric.Meter {
	return m.mp.Meter(name)
}

// RegisterSystemGauges registers the spec §4.H system gauges
// (active_executions, total_executions, requests_per_second) as
// asynchronous instruments that sample statsFn on every collection tick.
func (m *MeterProvider) RegisterSystemGauges(statsFn func() metrics.SystemStats) error {
	meter := m.Meter(instrumentationName)

	active, err := meter.Int64ObservableGauge(
		"ruleengine.active_executions",
		metric.WithDescription("in-flight rule evaluations"),
	)
	if err != nil {
		return err
	}
	total, err := meter.Int64ObservableGauge(
		"ruleengine.total_executions",
		metric.WithDescription("cumulative rule evaluations since startup"),
	)
	if err != nil {
		return err
	}
	rps, err := meter.Float64ObservableGauge(
		"ruleengine.requests_per_second",
		metric.WithDescription("recent execution throughput"),
	)
	if err != nil {
		return err
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		stats := statsFn()
		o.ObserveInt64(active, stats.ActiveExecutions)
		o.ObserveInt64(total, stats.TotalExecutions)
		o.ObserveFloat64(rps, stats.RequestsPerSecond)
		return nil
	}, active, total, rps)
	return err
}

// Shutdown flushes and stops the reader.
func (m *MeterProvider) Shutdown(ctx context.Context) error {
	if m.mp == nil {
		return nil
	}
	return m.mp.Shutdown(ctx)
}
