// Package metrics defines the observability substrate contract (spec §4.H):
// per-rule latency histograms and counters, system-level gauges, and
// edge-triggered threshold alerts. Prometheus export (obsprom) and
// OpenTelemetry tracing/gauges (obsotel) are separate adapters the engine
// calls alongside; this package holds the pure in-process aggregator used to
// derive percentiles and drive alert edges, since no library in the example
// pack computes per-rule p95/p99 over a bounded ring the way spec §4.H
// requires (see DESIGN.md).
package metrics

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sentinelgate/ruleengine/internal/domain/breaker"
	"github.com/sentinelgate/ruleengine/internal/domain/rule"
)

// Outcome classifies one recorded execution sample.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeError
	OutcomeCancelled
)

// Sample is one timing observation for a rule.
type Sample struct {
	DurationMs float64
	Outcome    Outcome
	At         time.Time
}

// RuleStats is the derived view of a rule's recent execution history.
type RuleStats struct {
	Executions      int64
	Errors          int64
	Retries         int64
	LastExecutionAt time.Time
	AvgMs           float64
	MinMs           float64
	MaxMs           float64
	P95Ms           float64
	P99Ms           float64
	ErrorRate       float64
}

// SystemStats is the process-wide view.
type SystemStats struct {
	ActiveExecutions    int64
	TotalExecutions     int64
	RequestsPerSecond   float64
}

// AlertKind identifies which threshold an AlertEvent crossed.
type AlertKind string

const (
	AlertLatency     AlertKind = "latency"
	AlertErrorRate   AlertKind = "error_rate"
	AlertMemory      AlertKind = "memory"
	AlertCircuitOpen AlertKind = "circuit_open"
)

// AlertEvent is emitted on a threshold transition (edge-triggered, not
// per-sample, per spec §4.H).
type AlertEvent struct {
	Kind      AlertKind
	RuleID    rule.ID
	Threshold float64
	Observed  float64
	At        time.Time
}

// Thresholds configures the small set of alerts spec §4.H describes.
type Thresholds struct {
	ExecutionMs        float64
	ErrorRate          float64
	MemoryWarningPct   float64
	MemoryCriticalPct  float64
}

// AlertSink receives edge-triggered alert events.
type AlertSink interface {
	OnAlert(AlertEvent)
}

// Recorder is the facade-facing interface for recording execution outcomes
// and breaker transitions. Aggregator is its in-process implementation; it
// does not forward to Prometheus or OTel itself.
type Recorder interface {
	RecordExecution(id rule.ID, s Sample)
	RecordRetry(id rule.ID)
	RecordBreakerSnapshot(id rule.ID, s breaker.Snapshot)
	RuleStats(id rule.ID) (RuleStats, bool)
	SystemStats() SystemStats
	// Cleanup trims timing rings older than maxAge and prunes empty
	// per-rule entries (spec §4.H, default hourly).
	Cleanup(maxAge time.Duration)
}

const defaultRingSize = 1000

// ring is a bounded circular buffer of recent samples for one rule.
type ring struct {
	samples []Sample
	next    int
	full    bool
}

func newRing(size int) *ring {
	return &ring{samples: make([]Sample, size)}
}

func (r *ring) push(s Sample) {
	r.samples[r.next] = s
	r.next = (r.next + 1) % len(r.samples)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) values() []Sample {
	if !r.full {
		return append([]Sample(nil), r.samples[:r.next]...)
	}
	out := make([]Sample, 0, len(r.samples))
	out = append(out, r.samples[r.next:]...)
	out = append(out, r.samples[:r.next]...)
	return out
}

type ruleAgg struct {
	ring            *ring
	executions      int64
	errors          int64
	retries         int64
	lastExecutionAt time.Time

	// lastBreakerState tracks the previous breaker state for edge-triggered
	// circuit-open alerts.
	lastBreakerState breaker.State

	// errorRateAlerting tracks whether the error-rate alert is currently
	// "on", so it fires only on the below->above transition.
	errorRateAlerting bool

	// latencyAlerting tracks whether the latency alert is currently "on", so
	// it fires only on the below->above transition.
	latencyAlerting bool
}

// Aggregator is an in-process Recorder plus alert driver. It has no
// third-party dependency because the exact ring size, eviction policy, and
// edge-triggering rule are bespoke to spec §4.H; Prometheus/OTel exporters
// wrap it (see obsprom, obsotel) rather than replace it.
type Aggregator struct {
	ringSize   int
	thresholds Thresholds
	sink       AlertSink
	now        func() time.Time

	mu    sync.Mutex
	rules map[rule.ID]*ruleAgg

	totalExecutions  int64
	activeExecutions int64
	windowStart      time.Time
	windowCount      int64
	lastRPS          float64
}

// NewAggregator creates an Aggregator. sink may be nil to discard alerts.
func NewAggregator(ringSize int, thresholds Thresholds, sink AlertSink, now func() time.Time) *Aggregator {
	if ringSize <= 0 {
		ringSize = defaultRingSize
	}
	if now == nil {
		now = time.Now
	}
	return &Aggregator{
		ringSize:   ringSize,
		thresholds: thresholds,
		sink:       sink,
		now:        now,
		rules:      make(map[rule.ID]*ruleAgg),
	}
}

func (a *Aggregator) ruleLocked(id rule.ID) *ruleAgg {
	r, ok := a.rules[id]
	if !ok {
		r = &ruleAgg{ring: newRing(a.ringSize)}
		a.rules[id] = r
	}
	return r
}

// BeginExecution marks an execution as in flight; callers must call
// RecordExecution exactly once to balance it.
func (a *Aggregator) BeginExecution() {
	a.mu.Lock()
	a.activeExecutions++
	a.mu.Unlock()
}

// RecordExecution records a completed (successful, errored, or cancelled)
// execution sample and drives the edge-triggered alerts.
func (a *Aggregator) RecordExecution(id rule.ID, s Sample) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.activeExecutions > 0 {
		a.activeExecutions--
	}
	a.totalExecutions++
	a.tickRPSLocked()

	r := a.ruleLocked(id)
	r.ring.push(s)
	r.executions++
	r.lastExecutionAt = s.At
	if s.Outcome == OutcomeError {
		r.errors++
	}

	if a.thresholds.ExecutionMs > 0 && s.Outcome != OutcomeCancelled {
		over := s.DurationMs > a.thresholds.ExecutionMs
		if over && !r.latencyAlerting {
			a.emit(AlertEvent{Kind: AlertLatency, RuleID: id, Threshold: a.thresholds.ExecutionMs, Observed: s.DurationMs, At: s.At})
		}
		r.latencyAlerting = over
	}
	if a.thresholds.ErrorRate > 0 && r.executions >= 1 {
		rate := float64(r.errors) / float64(r.executions)
		alerting := rate >= a.thresholds.ErrorRate
		if alerting && !r.errorRateAlerting {
			a.emit(AlertEvent{Kind: AlertErrorRate, RuleID: id, Threshold: a.thresholds.ErrorRate, Observed: rate, At: s.At})
		}
		r.errorRateAlerting = alerting
	}
}

func (a *Aggregator) tickRPSLocked() {
	now := a.now()
	if a.windowStart.IsZero() {
		a.windowStart = now
	}
	a.windowCount++
	if elapsed := now.Sub(a.windowStart); elapsed >= time.Second {
		a.lastRPS = float64(a.windowCount) / elapsed.Seconds()
		a.windowStart = now
		a.windowCount = 0
	}
}

// RecordRetry increments the retry counter for id.
func (a *Aggregator) RecordRetry(id rule.ID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ruleLocked(id).retries++
}

// RecordBreakerSnapshot drives the edge-triggered circuit-open alert.
func (a *Aggregator) RecordBreakerSnapshot(id rule.ID, snap breaker.Snapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r := a.ruleLocked(id)
	if snap.State == breaker.Open && r.lastBreakerState != breaker.Open {
		a.emit(AlertEvent{Kind: AlertCircuitOpen, RuleID: id, Threshold: 1, Observed: 1, At: a.now()})
	}
	r.lastBreakerState = snap.State
}

// RecordMemory reports a memory percentage reading and drives the warning
// and critical alert edges independently.
func (a *Aggregator) RecordMemory(pct float64, wasWarning, wasCritical *bool) {
	if a.thresholds.MemoryCriticalPct > 0 && pct >= a.thresholds.MemoryCriticalPct && !*wasCritical {
		a.emit(AlertEvent{Kind: AlertMemory, Threshold: a.thresholds.MemoryCriticalPct, Observed: pct, At: a.now()})
		*wasCritical = true
	} else if pct < a.thresholds.MemoryCriticalPct {
		*wasCritical = false
	}
	if a.thresholds.MemoryWarningPct > 0 && pct >= a.thresholds.MemoryWarningPct && !*wasWarning {
		a.emit(AlertEvent{Kind: AlertMemory, Threshold: a.thresholds.MemoryWarningPct, Observed: pct, At: a.now()})
		*wasWarning = true
	} else if pct < a.thresholds.MemoryWarningPct {
		*wasWarning = false
	}
}

func (a *Aggregator) emit(e AlertEvent) {
	if a.sink != nil {
		a.sink.OnAlert(e)
	}
}

// RuleStats derives the percentile/average view for one rule.
func (a *Aggregator) RuleStats(id rule.ID) (RuleStats, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	r, ok := a.rules[id]
	if !ok {
		return RuleStats{}, false
	}
	samples := r.ring.values()
	stats := RuleStats{
		Executions:      r.executions,
		Errors:          r.errors,
		Retries:         r.retries,
		LastExecutionAt: r.lastExecutionAt,
	}
	if r.executions > 0 {
		stats.ErrorRate = float64(r.errors) / float64(r.executions)
	}
	if len(samples) == 0 {
		return stats, true
	}

	durations := make([]float64, len(samples))
	sum, min, max := 0.0, math.Inf(1), math.Inf(-1)
	for i, s := range samples {
		durations[i] = s.DurationMs
		sum += s.DurationMs
		if s.DurationMs < min {
			min = s.DurationMs
		}
		if s.DurationMs > max {
			max = s.DurationMs
		}
	}
	sort.Float64s(durations)
	stats.AvgMs = sum / float64(len(durations))
	stats.MinMs = min
	stats.MaxMs = max
	stats.P95Ms = percentile(durations, 0.95)
	stats.P99Ms = percentile(durations, 0.99)
	return stats, true
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// SystemStats returns the process-wide view.
func (a *Aggregator) SystemStats() SystemStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return SystemStats{
		ActiveExecutions:  a.activeExecutions,
		TotalExecutions:   a.totalExecutions,
		RequestsPerSecond: a.lastRPS,
	}
}

// Cleanup drops rule entries with no executions or whose last execution
// predates maxAge, and trims samples older than maxAge from the remaining
// timing rings.
func (a *Aggregator) Cleanup(maxAge time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cutoff := a.now().Add(-maxAge)
	for id, r := range a.rules {
		if r.executions == 0 || r.lastExecutionAt.Before(cutoff) {
			delete(a.rules, id)
			continue
		}
		fresh := newRing(a.ringSize)
		for _, s := range r.ring.values() {
			if !s.At.Before(cutoff) {
				fresh.push(s)
			}
		}
		r.ring = fresh
	}
}

var _ Recorder = (*Aggregator)(nil)
