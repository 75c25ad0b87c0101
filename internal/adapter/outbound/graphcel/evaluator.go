// Package graphcel is the default, reference Evaluator (execution.Evaluator):
// it walks a compiled decision graph interpreting "decision" nodes as CEL
// boolean conditions and "output" nodes as CEL value expressions, exactly the
// way the teacher's cel package compiles and evaluates policy conditions,
// generalized from a single boolean rule to a traversed graph of them.
package graphcel

import (
	"context"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/sentinelgate/ruleengine/internal/domain/execution"
	"github.com/sentinelgate/ruleengine/internal/domain/rule"
	"github.com/sentinelgate/ruleengine/internal/errs"
)

const (
	maxExpressionLength = 1024
	maxCostBudget       = 100_000
	interruptCheckFreq  = 100
)

// NodeType values this evaluator understands. Any other node.Type is treated
// as a pass-through (visited, no side effect), which keeps the evaluator
// forward-compatible with graph shapes it does not yet interpret.
const (
	NodeInput    = "input"
	NodeDecision = "decision"
	NodeOutput   = "output"
)

// Evaluator interprets compiled graphs via CEL. One Evaluator instance is
// shared across all graphs and inputs; it holds no per-graph state.
type Evaluator struct {
	env     *cel.Env
	timeout time.Duration
}

// New builds an Evaluator with a CEL environment exposing the evaluation
// input under the "input" variable, and "outputs" holding values already
// produced by earlier output nodes in the same traversal.
func New(timeout time.Duration) (*Evaluator, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	env, err := cel.NewEnv(
		cel.Variable("input", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("outputs", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("graphcel: building CEL environment: %w", err)
	}
	return &Evaluator{env: env, timeout: timeout}, nil
}

func (e *Evaluator) compile(expr string) (cel.Program, error) {
	if expr == "" {
		return nil, fmt.Errorf("empty expression")
	}
	if len(expr) > maxExpressionLength {
		return nil, fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}
	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}
	return prg, nil
}

// Evaluate walks graph starting from its root nodes (nodes with no incoming
// edge), branching at decision nodes on their "condition" expression and
// recording at output nodes the value of their "expr" expression under their
// "key" name.
func (e *Evaluator) Evaluate(ctx context.Context, graph rule.Compiled, input execution.Input) (execution.Output, *execution.Trace, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	roots := findRoots(graph)
	if len(roots) == 0 && len(graph.Nodes) > 0 {
		return nil, nil, errs.New(errs.KindExecutionError, "graph has no entry node")
	}

	out := make(execution.Output)
	trace := &execution.Trace{}
	visited := make(map[string]bool)

	for _, root := range roots {
		if err := e.walk(ctx, graph, root.ID, input, out, trace, visited); err != nil {
			return nil, trace, err
		}
	}
	return out, trace, nil
}

func findRoots(graph rule.Compiled) []rule.Node {
	hasIncoming := make(map[string]bool, len(graph.Nodes))
	for _, edge := range graph.Edges {
		hasIncoming[edge.TargetNodeID] = true
	}
	var roots []rule.Node
	for _, n := range graph.Nodes {
		if !hasIncoming[n.ID] {
			roots = append(roots, n)
		}
	}
	return roots
}

func (e *Evaluator) walk(ctx context.Context, graph rule.Compiled, nodeID string, input execution.Input, out execution.Output, trace *execution.Trace, visited map[string]bool) error {
	if err := ctx.Err(); err != nil {
		return errs.Wrap(errs.KindTimeout, err, "evaluation deadline exceeded")
	}
	if visited[nodeID] {
		return errs.New(errs.KindExecutionError, "graph contains a cycle at node %q", nodeID)
	}
	visited[nodeID] = true

	node, ok := nodeByID(graph, nodeID)
	if !ok {
		return errs.New(errs.KindExecutionError, "edge references unknown node %q", nodeID)
	}
	trace.VisitedNodeIDs = append(trace.VisitedNodeIDs, node.ID)

	switch node.Type {
	case NodeDecision:
		cond, _ := node.Data["condition"].(string)
		result, err := e.evalBool(ctx, cond, input, out)
		if err != nil {
			return errs.Wrap(errs.KindExecutionError, err, "decision node %q", node.ID)
		}
		label := "false"
		if result {
			label = "true"
		}
		next := edgeByLabel(graph, node.ID, label)
		if next == nil {
			// No outgoing edge for this branch is a valid terminal state.
			return nil
		}
		trace.VisitedEdgeIDs = append(trace.VisitedEdgeIDs, next.ID)
		return e.walk(ctx, graph, next.TargetNodeID, input, out, trace, visited)

	case NodeOutput:
		key, _ := node.Data["key"].(string)
		expr, _ := node.Data["expr"].(string)
		if key != "" && expr != "" {
			val, err := e.evalValue(ctx, expr, input, out)
			if err != nil {
				return errs.Wrap(errs.KindExecutionError, err, "output node %q", node.ID)
			}
			out[key] = val
		}
	}

	for _, next := range graph.OutEdges(node.ID) {
		if next.Label != "" {
			// Decision branches are followed explicitly above.
			continue
		}
		trace.VisitedEdgeIDs = append(trace.VisitedEdgeIDs, next.ID)
		if err := e.walk(ctx, graph, next.TargetNodeID, input, out, trace, visited); err != nil {
			return err
		}
	}
	return nil
}

func nodeByID(graph rule.Compiled, id string) (rule.Node, bool) {
	for _, n := range graph.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return rule.Node{}, false
}

func edgeByLabel(graph rule.Compiled, sourceID, label string) *rule.Edge {
	for _, e := range graph.OutEdges(sourceID) {
		if e.Label == label {
			ec := e
			return &ec
		}
	}
	return nil
}

func (e *Evaluator) activation(input execution.Input, out execution.Output) map[string]any {
	return map[string]any{"input": map[string]any(input), "outputs": map[string]any(out)}
}

func (e *Evaluator) evalBool(ctx context.Context, expr string, input execution.Input, out execution.Output) (bool, error) {
	prg, err := e.compile(expr)
	if err != nil {
		return false, err
	}
	result, _, err := prg.ContextEval(ctx, e.activation(input, out))
	if err != nil {
		return false, fmt.Errorf("evaluation failed: %w", err)
	}
	b, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition did not return a boolean, got %T", result.Value())
	}
	return b, nil
}

func (e *Evaluator) evalValue(ctx context.Context, expr string, input execution.Input, out execution.Output) (any, error) {
	prg, err := e.compile(expr)
	if err != nil {
		return nil, err
	}
	result, _, err := prg.ContextEval(ctx, e.activation(input, out))
	if err != nil {
		return nil, fmt.Errorf("evaluation failed: %w", err)
	}
	return result.Value(), nil
}

var _ execution.Evaluator = (*Evaluator)(nil)
