package service

import (
	"context"
	"errors"
	"time"

	"github.com/sentinelgate/ruleengine/internal/domain/breaker"
	"github.com/sentinelgate/ruleengine/internal/domain/execution"
	"github.com/sentinelgate/ruleengine/internal/domain/metrics"
	"github.com/sentinelgate/ruleengine/internal/domain/rule"
	"github.com/sentinelgate/ruleengine/internal/errs"
)

// ruleOutcome is the per-rule result of evaluateOne, kept separate from
// execution.Result so callers can fold many of these into one Result without
// re-deriving State per rule.
type ruleOutcome struct {
	id     rule.ID
	output execution.Output
	err    error
	sample metrics.Sample
}

// evaluateOne runs the full per-rule pipeline described in spec §4.G: pin the
// cache entry, consult the breaker, run the retry-wrapped evaluator under a
// per-call deadline, record timings, release the pin, update the breaker.
func (e *Engine) evaluateOne(ctx context.Context, id rule.ID, input execution.Input) ruleOutcome {
	e.metricsAgg.BeginExecution()

	ctx, span := e.tracer.StartEvaluationSpan(ctx, string(id))
	defer span.End()

	started := time.Now()

	handle, err := e.cat.Get(ctx, id)
	if err != nil {
		return e.finish(id, started, nil, err, false)
	}
	defer handle.Release()

	b := e.breakers.get(id)
	if !b.Admit() {
		e.metricsAgg.RecordBreakerSnapshot(id, b.Snapshot())
		err := errs.New(errs.KindCircuitOpen, "circuit open for rule %s", id).WithRuleID(string(id))
		return e.finish(id, started, nil, err, false)
	}

	evalCtx := ctx
	var cancel context.CancelFunc
	if e.cfg.EvaluationTimeout > 0 {
		evalCtx, cancel = context.WithTimeout(ctx, e.cfg.EvaluationTimeout)
		defer cancel()
	}

	entry := handle.Entry
	var output execution.Output
	attempts := 0
	evalErr := breaker.Do(evalCtx, e.retryCfg, func(attemptCtx context.Context) error {
		attempts++
		out, _, err := e.evaluator.Evaluate(attemptCtx, entry.Compiled, input)
		if err != nil {
			return err
		}
		output = out
		return nil
	})
	for i := 0; i < attempts-1; i++ {
		e.metricsAgg.RecordRetry(id)
		if e.prom != nil {
			e.prom.ObserveRetry(id)
		}
	}

	cancelled := ctx.Err() == context.Canceled
	if evalErr != nil && errors.Is(evalCtx.Err(), context.DeadlineExceeded) {
		evalErr = errs.Wrap(errs.KindTimeout, evalErr, "rule %s exceeded evaluation timeout", id).WithRuleID(string(id))
	}
	switch {
	case cancelled:
		b.OnCancelled() // no breaker state change on cancellation (spec §5)
	case evalErr != nil:
		b.OnFailure()
	default:
		b.OnSuccess()
	}
	e.metricsAgg.RecordBreakerSnapshot(id, b.Snapshot())

	return e.finish(id, started, output, evalErr, cancelled)
}

func (e *Engine) finish(id rule.ID, started time.Time, output execution.Output, err error, cancelled bool) ruleOutcome {
	durationMs := float64(time.Since(started)) / float64(time.Millisecond)

	outcome := metrics.OutcomeSuccess
	switch {
	case cancelled:
		outcome = metrics.OutcomeCancelled
	case err != nil:
		outcome = metrics.OutcomeError
	}
	sample := metrics.Sample{DurationMs: durationMs, Outcome: outcome, At: time.Now()}
	e.metricsAgg.RecordExecution(id, sample)
	if e.prom != nil {
		e.prom.ObserveExecution(id, sample)
	}

	if err != nil {
		if errs.KindOf(err) == errs.KindCircuitOpen {
			e.logger.Warn("rule execution short-circuited", "rule_id", id, "reason", "circuit_open")
		} else {
			e.logger.Warn("rule execution failed", "rule_id", id, "error", err)
		}
	}

	return ruleOutcome{id: id, output: output, err: err, sample: sample}
}
