package execution

import "github.com/sentinelgate/ruleengine/internal/domain/rule"

// State is the per-call lifecycle state machine described in spec §4.G.
type State int

const (
	StatePending State = iota
	StateRunning
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Result is the return shape of a single execute call. Results and Errors
// always partition the selector's resolved id set.
type Result struct {
	Results         map[rule.ID]Output
	Errors          map[rule.ID]error
	ExecutionTimeMs int64
	State           State
}

// NewResult builds an empty Result ready to be populated.
func NewResult() *Result {
	return &Result{
		Results: make(map[rule.ID]Output),
		Errors:  make(map[rule.ID]error),
	}
}

// Finalize derives the terminal State from the populated Results/Errors per
// spec §4.G: Completed if at least one rule produced a result, Failed if
// every resolved rule errored, Cancelled is set explicitly by the caller
// before any result materializes.
func (r *Result) Finalize() {
	if r.State == StateCancelled {
		return
	}
	if len(r.Results) > 0 {
		r.State = StateCompleted
		return
	}
	if len(r.Errors) > 0 {
		r.State = StateFailed
		return
	}
	// Empty selector: no rules resolved at all.
	r.State = StateCompleted
}
