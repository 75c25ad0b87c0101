// Package obsotel wires OpenTelemetry tracing around selector resolution and
// per-rule evaluation. The teacher's go.mod carries the full otel SDK and
// stdout exporters but never calls them; this package is where that
// dependency finally gets exercised, instrumenting the execution engine's
// two natural span boundaries (spec §4.G).
package obsotel

import (
	"context"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/sentinelgate/ruleengine"

// Provider owns a tracer plus the SDK's TracerProvider, so callers can shut
// it down cleanly at process exit.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// NewProvider builds a Provider exporting spans to w (typically os.Stdout in
// a development configuration, or io.Discard in tests) via stdouttrace,
// matching the exporter family the teacher's go.mod already declares.
func NewProvider(serviceName string, w io.Writer) (*Provider, error) {
	if w == nil {
		w = io.Discard
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(
		attribute.String("service.name", serviceName),
	))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	return &Provider{tp: tp, tracer: tp.Tracer(instrumentationName)}, nil
}

// NoopProvider returns a Provider backed by the global no-op tracer, used
// when tracing is disabled entirely.
func NoopProvider() *Provider {
	return &Provider{tracer: otel.Tracer(instrumentationName)}
}

// StartSelectorSpan wraps resolution of a Selector into a set of rule ids.
func (p *Provider) StartSelectorSpan(ctx context.Context, kind string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "selector.resolve", trace.WithAttributes(
		attribute.String("selector.kind", kind),
	))
}

// StartEvaluationSpan wraps a single rule's evaluation.
func (p *Provider) StartEvaluationSpan(ctx context.Context, ruleID string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "rule.evaluate", trace.WithAttributes(
		attribute.String("rule.id", ruleID),
	))
}

// Shutdown flushes and stops the exporter. A no-op Provider has nothing to
// flush.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}
