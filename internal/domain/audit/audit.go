// Package audit defines the Execution Audit Trail contract (spec §4.K): a
// derived, best-effort log of executions and alerts, distinct from the rule
// cache itself (Non-goal (d) excludes persisting cached graphs, not a
// write-only audit log of what ran).
package audit

import (
	"context"
	"time"

	"github.com/sentinelgate/ruleengine/internal/domain/execution"
	"github.com/sentinelgate/ruleengine/internal/domain/metrics"
	"github.com/sentinelgate/ruleengine/internal/domain/rule"
)

// ExecutionRecord is one completed selector-level execution.
type ExecutionRecord struct {
	ExecutionID   string
	SelectorKind  execution.Kind
	RuleIDs       []rule.ID
	StartedAt     time.Time
	DurationMs    float64
	Outcome       execution.State
	ResultCount   int
	ErrorCount    int
}

// AlertEvent mirrors metrics.AlertEvent for persistence purposes, keeping
// the audit package independent of the in-memory aggregator's lifecycle.
type AlertEvent struct {
	Kind      metrics.AlertKind
	RuleID    rule.ID
	Threshold float64
	Observed  float64
	At        time.Time
}

// Recorder persists execution and alert history. Implementations must be
// best-effort and non-blocking with respect to the execution path: a
// Recorder failure is logged, never propagated as an execution error
// (spec §4.K).
type Recorder interface {
	RecordExecution(ctx context.Context, rec ExecutionRecord) error
	RecordAlert(ctx context.Context, ev AlertEvent) error
	// Close releases any resources (database handles, batch buffers) held by
	// the recorder.
	Close() error
}

// NopRecorder discards everything. It is the default when no audit sink is
// configured.
type NopRecorder struct{}

func (NopRecorder) RecordExecution(context.Context, ExecutionRecord) error { return nil }
func (NopRecorder) RecordAlert(context.Context, AlertEvent) error          { return nil }
func (NopRecorder) Close() error                                           { return nil }

var _ Recorder = NopRecorder{}
