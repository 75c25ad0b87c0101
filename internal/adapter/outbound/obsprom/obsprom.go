// Package obsprom exposes the metrics aggregator (internal/domain/metrics)
// as Prometheus collectors, grounded directly on the teacher's Metrics
// struct (internal/adapter/inbound/http/metrics.go): promauto-registered
// CounterVec/HistogramVec/Gauge values under one namespace.
package obsprom

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sentinelgate/ruleengine/internal/domain/breaker"
	"github.com/sentinelgate/ruleengine/internal/domain/metrics"
	"github.com/sentinelgate/ruleengine/internal/domain/rule"
)

// Metrics holds every Prometheus series the engine publishes.
type Metrics struct {
	ExecutionsTotal    *prometheus.CounterVec
	ExecutionDuration  *prometheus.HistogramVec
	RetriesTotal       *prometheus.CounterVec
	BreakerState       *prometheus.GaugeVec
	ActiveExecutions   prometheus.Gauge
	AlertsTotal        *prometheus.CounterVec
	CacheHitRatio      prometheus.Gauge
	CacheSize          prometheus.Gauge
}

// New registers every series against reg under the "ruleengine" namespace.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		ExecutionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ruleengine",
				Name:      "executions_total",
				Help:      "Total rule executions by outcome.",
			},
			[]string{"rule_id", "outcome"},
		),
		ExecutionDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "ruleengine",
				Name:      "execution_duration_seconds",
				Help:      "Rule execution duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"rule_id"},
		),
		RetriesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ruleengine",
				Name:      "retries_total",
				Help:      "Total retry attempts by rule.",
			},
			[]string{"rule_id"},
		),
		BreakerState: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "ruleengine",
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state per rule (0=closed, 1=half_open, 2=open).",
			},
			[]string{"rule_id"},
		),
		ActiveExecutions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "ruleengine",
				Name:      "active_executions",
				Help:      "Number of executions currently in flight.",
			},
		),
		AlertsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ruleengine",
				Name:      "alerts_total",
				Help:      "Total alert events emitted by kind.",
			},
			[]string{"kind"},
		),
		CacheHitRatio: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "ruleengine",
				Name:      "cache_hit_ratio",
				Help:      "Rule cache hit ratio over its lifetime.",
			},
		),
		CacheSize: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "ruleengine",
				Name:      "cache_size",
				Help:      "Current number of entries resident in the rule cache.",
			},
		),
	}
}

// OnAlert implements metrics.AlertSink.
func (m *Metrics) OnAlert(e metrics.AlertEvent) {
	m.AlertsTotal.WithLabelValues(string(e.Kind)).Inc()
}

// ObserveExecution records one completed execution sample.
func (m *Metrics) ObserveExecution(id rule.ID, s metrics.Sample) {
	outcome := "success"
	switch s.Outcome {
	case metrics.OutcomeError:
		outcome = "error"
	case metrics.OutcomeCancelled:
		outcome = "cancelled"
	}
	m.ExecutionsTotal.WithLabelValues(string(id), outcome).Inc()
	m.ExecutionDuration.WithLabelValues(string(id)).Observe(s.DurationMs / 1000)
}

// ObserveRetry records one retry attempt for id.
func (m *Metrics) ObserveRetry(id rule.ID) {
	m.RetriesTotal.WithLabelValues(string(id)).Inc()
}

// ObserveBreaker publishes the current breaker state for id.
func (m *Metrics) ObserveBreaker(id rule.ID, snap breaker.Snapshot) {
	var v float64
	switch snap.State {
	case breaker.HalfOpen:
		v = 1
	case breaker.Open:
		v = 2
	}
	m.BreakerState.WithLabelValues(string(id)).Set(v)
}

// ObserveCache publishes the current cache occupancy and hit ratio.
func (m *Metrics) ObserveCache(size int, hitRatio float64) {
	m.CacheSize.Set(float64(size))
	m.CacheHitRatio.Set(hitRatio)
}

var _ metrics.AlertSink = (*Metrics)(nil)
