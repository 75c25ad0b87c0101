// Package service implements the Execution Engine and Engine Facade (spec
// §4.G/§4.I): explicit constructor wiring over the loader, catalog,
// evaluator, breaker, and observability ports, replacing the dynamic DI
// container / decorator composition spec §9 flags for re-architecture.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/sentinelgate/ruleengine/internal/adapter/outbound/obsotel"
	"github.com/sentinelgate/ruleengine/internal/adapter/outbound/obsprom"
	"github.com/sentinelgate/ruleengine/internal/config"
	"github.com/sentinelgate/ruleengine/internal/domain/audit"
	"github.com/sentinelgate/ruleengine/internal/domain/breaker"
	"github.com/sentinelgate/ruleengine/internal/domain/catalog"
	"github.com/sentinelgate/ruleengine/internal/domain/execution"
	"github.com/sentinelgate/ruleengine/internal/domain/loader"
	"github.com/sentinelgate/ruleengine/internal/domain/metrics"
	"github.com/sentinelgate/ruleengine/internal/domain/rule"
	"github.com/sentinelgate/ruleengine/internal/domain/signing"
	"github.com/sentinelgate/ruleengine/internal/errs"
)

// engineConfig is the subset of config.Config the execution path reads on
// every call, copied out once at construction so later config edits don't
// race with in-flight executions.
type engineConfig struct {
	EvaluationTimeout time.Duration
	QueueTimeout      time.Duration
	MaxConcurrent     int
}

// Engine is the single entry point described by spec §4.I: it composes the
// loader, catalog, evaluator, breaker, and observability ports behind one
// facade, taking each as an explicit constructor argument rather than
// resolving them from a registry.
type Engine struct {
	logger *slog.Logger
	src    config.RuleSource

	ld        loader.Loader
	watchable loader.Watchable // nil if ld does not support hot reload
	cat       catalog.Catalog
	evaluator execution.Evaluator
	verifier  signing.Verifier // nil disables signature verification

	breakers *breakerRegistry
	retryCfg breaker.RetryConfig

	metricsAgg metrics.Recorder
	prom       *obsprom.Metrics       // nil disables Prometheus export
	tracer     *obsotel.Provider
	meter      *obsotel.MeterProvider // nil disables the OTel system gauges
	auditLog   audit.Recorder

	sem *semaphore.Weighted
	cfg engineConfig

	mu            sync.RWMutex
	initialized   bool
	initializedAt time.Time
	lastUpdate    time.Time
	projectID     string
	watchStop     func()
}

// Option configures optional Engine collaborators.
type Option func(*Engine)

func WithVerifier(v signing.Verifier) Option   { return func(e *Engine) { e.verifier = v } }
func WithPrometheus(m *obsprom.Metrics) Option { return func(e *Engine) { e.prom = m } }
func WithTracer(p *obsotel.Provider) Option    { return func(e *Engine) { e.tracer = p } }
func WithAuditLog(r audit.Recorder) Option     { return func(e *Engine) { e.auditLog = r } }
func WithMeterProvider(m *obsotel.MeterProvider) Option {
	return func(e *Engine) { e.meter = m }
}
func WithMetricsRecorder(r metrics.Recorder) Option {
	return func(e *Engine) { e.metricsAgg = r }
}

// WithWatchable enables hot reload by giving the Engine the loader's
// Watchable facet directly (callers pass the same value as ld when the
// concrete loader implements both interfaces).
func WithWatchable(w loader.Watchable) Option { return func(e *Engine) { e.watchable = w } }

// New builds an Engine. cfg must already be validated (config.Config.Validate).
func New(cfg config.Config, logger *slog.Logger, ld loader.Loader, cat catalog.Catalog, evaluator execution.Evaluator, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		logger: logger.With("component", "engine"),
		src:    cfg.RuleSource,
		ld:     ld,
		cat:    cat,
		evaluator: evaluator,
		breakers: newBreakerRegistry(breaker.Config{
			FailureThreshold: cfg.CircuitFailureThreshold,
			OpenDuration:     cfg.CircuitOpenDuration(),
		}),
		retryCfg: breaker.RetryConfig{
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  cfg.RetryBaseDelay(),
			MaxDelay:   30 * time.Second,
		},
		tracer:   obsotel.NoopProvider(),
		auditLog: audit.NopRecorder{},
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrentEvaluations)),
		cfg: engineConfig{
			EvaluationTimeout: cfg.ExecutionTimeout(),
			QueueTimeout:      cfg.QueueTimeout(),
			MaxConcurrent:     cfg.MaxConcurrentEvaluations,
		},
		projectID: cfg.ProjectID,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metricsAgg == nil {
		var sink metrics.AlertSink
		if e.prom != nil {
			sink = e.prom
		}
		e.metricsAgg = metrics.NewAggregator(0, metrics.Thresholds{
			MemoryWarningPct:  cfg.MemoryWarningPct,
			MemoryCriticalPct: cfg.MemoryCriticalPct,
		}, sink, nil)
	}
	if e.meter != nil {
		if err := e.meter.RegisterSystemGauges(e.metricsAgg.SystemStats); err != nil {
			e.logger.Warn("failed to register otel system gauges", "error", err)
		}
	}
	return e
}

// acquireSlot bounds in-flight evaluations to max_concurrent_evaluations,
// queuing FIFO until queue_timeout elapses (spec §5 backpressure).
func (e *Engine) acquireSlot(ctx context.Context) (func(), error) {
	acquireCtx := ctx
	var cancel context.CancelFunc
	if e.cfg.QueueTimeout > 0 {
		acquireCtx, cancel = context.WithTimeout(ctx, e.cfg.QueueTimeout)
		defer cancel()
	}
	if err := e.sem.Acquire(acquireCtx, 1); err != nil {
		return nil, errs.Wrap(errs.KindServiceUnavailable, err, "admission queue timed out")
	}
	return func() { e.sem.Release(1) }, nil
}

func (e *Engine) requireInitialized() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.initialized {
		return errs.New(errs.KindConfigError, "engine not initialized: call initialize() first")
	}
	return nil
}
