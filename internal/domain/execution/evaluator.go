package execution

import (
	"context"

	"github.com/sentinelgate/ruleengine/internal/domain/rule"
)

// Input is the JSON-shaped document submitted for evaluation against a
// compiled rule graph.
type Input = map[string]any

// Output is the JSON-shaped result of evaluating a compiled rule graph.
type Output = map[string]any

// Trace optionally records which nodes/edges were visited during
// evaluation, for callers that ask for it.
type Trace struct {
	VisitedNodeIDs []string
	VisitedEdgeIDs []string
}

// Evaluator is the external collaborator spec §3 refers to: the engine
// treats a Compiled graph as opaque beyond structural validation and
// delegates interpretation of decision nodes to an Evaluator.
type Evaluator interface {
	// Evaluate runs the compiled graph against input and returns its output.
	// Implementations must respect ctx cancellation/deadline and return
	// promptly once ctx is done.
	Evaluate(ctx context.Context, graph rule.Compiled, input Input) (Output, *Trace, error)
}
