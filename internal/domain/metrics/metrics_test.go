package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelgate/ruleengine/internal/domain/breaker"
	"github.com/sentinelgate/ruleengine/internal/domain/rule"
)

type fakeSink struct {
	events []AlertEvent
}

func (f *fakeSink) OnAlert(e AlertEvent) { f.events = append(f.events, e) }

func TestAggregator_RuleStats_PercentilesAndErrorRate(t *testing.T) {
	a := NewAggregator(10, Thresholds{}, nil, nil)
	id := rule.ID("r1")

	durations := []float64{10, 20, 30, 40, 50}
	for i, d := range durations {
		outcome := OutcomeSuccess
		if i == len(durations)-1 {
			outcome = OutcomeError
		}
		a.RecordExecution(id, Sample{DurationMs: d, Outcome: outcome, At: time.Now()})
	}

	stats, ok := a.RuleStats(id)
	require.True(t, ok)
	assert.Equal(t, int64(5), stats.Executions)
	assert.Equal(t, int64(1), stats.Errors)
	assert.InDelta(t, 0.2, stats.ErrorRate, 0.0001)
	assert.Equal(t, 10.0, stats.MinMs)
	assert.Equal(t, 50.0, stats.MaxMs)
}

func TestAggregator_RuleStats_UnknownRule(t *testing.T) {
	a := NewAggregator(10, Thresholds{}, nil, nil)
	_, ok := a.RuleStats("missing")
	assert.False(t, ok)
}

func TestAggregator_LatencyAlertIsEdgeTriggered(t *testing.T) {
	sink := &fakeSink{}
	a := NewAggregator(10, Thresholds{ExecutionMs: 100}, sink, nil)
	id := rule.ID("slow")

	a.RecordExecution(id, Sample{DurationMs: 150, Outcome: OutcomeSuccess, At: time.Now()})
	a.RecordExecution(id, Sample{DurationMs: 200, Outcome: OutcomeSuccess, At: time.Now()})

	require.Len(t, sink.events, 1, "a second sample still over threshold must not re-fire the latency alert")
	assert.Equal(t, AlertLatency, sink.events[0].Kind)
}

func TestAggregator_ErrorRateAlertFiresOnlyOnTransition(t *testing.T) {
	sink := &fakeSink{}
	a := NewAggregator(10, Thresholds{ErrorRate: 0.5}, sink, nil)
	id := rule.ID("flaky")

	a.RecordExecution(id, Sample{DurationMs: 1, Outcome: OutcomeError, At: time.Now()})
	require.Len(t, sink.events, 1, "crossing the threshold must fire exactly once")
	assert.Equal(t, AlertErrorRate, sink.events[0].Kind)

	// Error rate stays at/above threshold: must not fire again per sample.
	a.RecordExecution(id, Sample{DurationMs: 1, Outcome: OutcomeError, At: time.Now()})
	a.RecordExecution(id, Sample{DurationMs: 1, Outcome: OutcomeError, At: time.Now()})
	assert.Len(t, sink.events, 1)

	// Drop back below threshold, then cross again: must re-fire once.
	for i := 0; i < 10; i++ {
		a.RecordExecution(id, Sample{DurationMs: 1, Outcome: OutcomeSuccess, At: time.Now()})
	}
	assert.Len(t, sink.events, 1)

	a.RecordExecution(id, Sample{DurationMs: 1, Outcome: OutcomeError, At: time.Now()})
	a.RecordExecution(id, Sample{DurationMs: 1, Outcome: OutcomeError, At: time.Now()})
	a.RecordExecution(id, Sample{DurationMs: 1, Outcome: OutcomeError, At: time.Now()})
	a.RecordExecution(id, Sample{DurationMs: 1, Outcome: OutcomeError, At: time.Now()})
	a.RecordExecution(id, Sample{DurationMs: 1, Outcome: OutcomeError, At: time.Now()})
	a.RecordExecution(id, Sample{DurationMs: 1, Outcome: OutcomeError, At: time.Now()})
	a.RecordExecution(id, Sample{DurationMs: 1, Outcome: OutcomeError, At: time.Now()})
	a.RecordExecution(id, Sample{DurationMs: 1, Outcome: OutcomeError, At: time.Now()})
	require.Len(t, sink.events, 2, "a fresh below->above transition must fire again")
	assert.Equal(t, AlertErrorRate, sink.events[1].Kind)
}

func TestAggregator_CancelledSamplesDoNotTriggerLatencyAlert(t *testing.T) {
	sink := &fakeSink{}
	a := NewAggregator(10, Thresholds{ExecutionMs: 10}, sink, nil)
	a.RecordExecution("r", Sample{DurationMs: 5000, Outcome: OutcomeCancelled, At: time.Now()})
	assert.Empty(t, sink.events)
}

func TestAggregator_CircuitOpenAlertFiresOnceOnTransition(t *testing.T) {
	sink := &fakeSink{}
	a := NewAggregator(10, Thresholds{}, sink, nil)
	id := rule.ID("r")

	a.RecordBreakerSnapshot(id, breaker.Snapshot{State: breaker.Closed})
	assert.Empty(t, sink.events)

	a.RecordBreakerSnapshot(id, breaker.Snapshot{State: breaker.Open})
	require.Len(t, sink.events, 1)
	assert.Equal(t, AlertCircuitOpen, sink.events[0].Kind)

	// Staying open must not re-fire.
	a.RecordBreakerSnapshot(id, breaker.Snapshot{State: breaker.Open})
	assert.Len(t, sink.events, 1)
}

func TestAggregator_Cleanup_PrunesStaleRules(t *testing.T) {
	now := time.Now()
	a := NewAggregator(10, Thresholds{}, nil, func() time.Time { return now })
	a.RecordExecution("stale", Sample{DurationMs: 1, Outcome: OutcomeSuccess, At: now.Add(-2 * time.Hour)})
	a.RecordExecution("fresh", Sample{DurationMs: 1, Outcome: OutcomeSuccess, At: now})

	a.Cleanup(time.Hour)

	_, ok := a.RuleStats("stale")
	assert.False(t, ok)
	_, ok = a.RuleStats("fresh")
	assert.True(t, ok)
}

func TestAggregator_RecordRetry(t *testing.T) {
	a := NewAggregator(10, Thresholds{}, nil, nil)
	a.RecordRetry("r")
	a.RecordRetry("r")
	stats, ok := a.RuleStats("r")
	require.True(t, ok)
	assert.Equal(t, int64(2), stats.Retries)
}
