package service

import (
	"context"

	"github.com/sourcegraph/conc/pool"

	"github.com/sentinelgate/ruleengine/internal/domain/execution"
	"github.com/sentinelgate/ruleengine/internal/domain/rule"
	"github.com/sentinelgate/ruleengine/internal/errs"
)

// resolve turns a Selector into the concrete ordered groups of rule ids to
// run, per spec §4.G. A Single/Ids/Tags selector becomes one implicit group;
// Mixed is already a list of groups.
func (e *Engine) resolve(ctx context.Context, sel execution.Selector) ([]execution.Group, error) {
	ctx, span := e.tracer.StartSelectorSpan(ctx, selectorKindName(sel.Kind))
	defer span.End()

	switch sel.Kind {
	case execution.KindSingle:
		return []execution.Group{{Rules: []rule.ID{sel.Single}, Mode: execution.Sequential}}, nil
	case execution.KindIds:
		return []execution.Group{{Rules: sel.IDs, Mode: sel.IDMode}}, nil
	case execution.KindTags:
		ids, err := e.cat.ResolveByTags(ctx, sel.Tags)
		if err != nil {
			return nil, err
		}
		return []execution.Group{{Rules: ids, Mode: sel.TagsMode}}, nil
	case execution.KindMixed:
		return sel.Groups, nil
	default:
		return nil, errs.New(errs.KindInvalidInput, "unknown selector kind")
	}
}

func selectorKindName(k execution.Kind) string {
	switch k {
	case execution.KindSingle:
		return "single"
	case execution.KindIds:
		return "ids"
	case execution.KindTags:
		return "tags"
	case execution.KindMixed:
		return "mixed"
	default:
		return "unknown"
	}
}

// runGroups executes every group in order (spec §4.G: "groups run in order;
// inside each group, the mode is applied"). Mixed mode's open question (spec
// §9) is resolved as: later groups always run, failures only accumulate.
func (e *Engine) runGroups(ctx context.Context, groups []execution.Group, input execution.Input) *execution.Result {
	result := execution.NewResult()
	for _, g := range groups {
		outcomes := e.runGroup(ctx, g, input)
		for _, o := range outcomes {
			if o.err != nil {
				result.Errors[o.id] = o.err
			} else {
				result.Results[o.id] = o.output
			}
		}
	}
	result.Finalize()
	return result
}

// runGroup runs one group's rules according to its Mode.
func (e *Engine) runGroup(ctx context.Context, g execution.Group, input execution.Input) []ruleOutcome {
	if len(g.Rules) == 0 {
		return nil
	}
	if g.Mode == execution.Sequential {
		return e.runSequential(ctx, g.Rules, input)
	}
	return e.runParallel(ctx, g.Rules, input)
}

// runSequential runs rules one after another in input order (spec §4.G); a
// failure of one does not stop the remaining rules.
func (e *Engine) runSequential(ctx context.Context, ids []rule.ID, input execution.Input) []ruleOutcome {
	outcomes := make([]ruleOutcome, 0, len(ids))
	for _, id := range ids {
		release, err := e.acquireSlot(ctx)
		if err != nil {
			outcomes = append(outcomes, ruleOutcome{id: id, err: err})
			continue
		}
		o := e.evaluateOne(ctx, id, input)
		release()
		outcomes = append(outcomes, o)
	}
	return outcomes
}

// runParallel launches all rules in the group concurrently, bounded by
// max_concurrent_evaluations (spec §4.G), using sourcegraph/conc/pool for
// the fan-out and golang.org/x/sync/semaphore for admission (spec §5).
func (e *Engine) runParallel(ctx context.Context, ids []rule.ID, input execution.Input) []ruleOutcome {
	maxGoroutines := e.cfg.MaxConcurrent
	if maxGoroutines <= 0 || maxGoroutines > len(ids) {
		maxGoroutines = len(ids)
	}
	p := pool.NewWithResults[ruleOutcome]().WithMaxGoroutines(maxGoroutines)
	for _, id := range ids {
		id := id
		p.Go(func() ruleOutcome {
			release, err := e.acquireSlot(ctx)
			if err != nil {
				return ruleOutcome{id: id, err: err}
			}
			defer release()
			return e.evaluateOne(ctx, id, input)
		})
	}
	return p.Wait()
}
