// Package execution defines the selector, evaluator, and result contracts
// for rule execution (spec §4.G). The engine service in internal/service
// implements the orchestration; this package holds the shared vocabulary.
package execution

import "github.com/sentinelgate/ruleengine/internal/domain/rule"

// Mode controls how a group of rules is run.
type Mode int

const (
	// Parallel launches all rules in the group concurrently.
	Parallel Mode = iota
	// Sequential runs rules one after another in input order.
	Sequential
)

func (m Mode) String() string {
	if m == Sequential {
		return "sequential"
	}
	return "parallel"
}

// Group is one ordered unit of a Mixed selector: a list of rule ids and the
// mode used to run them.
type Group struct {
	Rules []rule.ID
	Mode  Mode
}

// Kind identifies which Selector variant is populated.
type Kind int

const (
	KindSingle Kind = iota
	KindIds
	KindTags
	KindMixed
)

// Selector identifies which rules to run and how. Exactly one of the fields
// relevant to Kind is populated; see the constructors below.
type Selector struct {
	Kind Kind

	// KindSingle / KindIds
	Single rule.ID
	IDs    []rule.ID
	IDMode Mode

	// KindTags
	Tags     []string
	TagsMode Mode

	// KindMixed
	Groups []Group
}

// NewSingle builds a Selector for one rule id.
func NewSingle(id rule.ID) Selector { return Selector{Kind: KindSingle, Single: id} }

// NewIDs builds a Selector for an explicit list of rule ids.
func NewIDs(ids []rule.ID, mode Mode) Selector {
	return Selector{Kind: KindIds, IDs: ids, IDMode: mode}
}

// NewTags builds a Selector resolving a tag set.
func NewTags(tags []string, mode Mode) Selector {
	return Selector{Kind: KindTags, Tags: tags, TagsMode: mode}
}

// NewMixed builds a Selector over an ordered list of groups.
func NewMixed(groups []Group) Selector { return Selector{Kind: KindMixed, Groups: groups} }
