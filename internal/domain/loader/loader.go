// Package loader defines the contract implemented by both the cloud loader
// (internal/adapter/outbound/cloudloader) and the local loader
// (internal/adapter/outbound/localloader), per spec §4.C/§4.D.
package loader

import (
	"context"

	"github.com/sentinelgate/ruleengine/internal/domain/rule"
)

// RawRule is the not-yet-compiled payload a Loader hands back: the raw wire
// bytes (retained for signature verification) plus metadata.
type RawRule struct {
	RawBytes []byte
	Metadata rule.Metadata
}

// ChangeKind identifies the nature of a hot-reload filesystem event.
type ChangeKind int

const (
	Added ChangeKind = iota
	Modified
	Deleted
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Change is a single debounced hot-reload notification (spec §4.D).
type Change struct {
	ID   rule.ID
	Kind ChangeKind
}

// ChangeFunc is a registered hot-reload callback. A callback failure must
// never block delivery to other callbacks (spec §4.D).
type ChangeFunc func(Change)

// Loader is the capability both the cloud and local sources implement.
type Loader interface {
	// LoadAll loads every rule available from the source. projectID is
	// meaningful only to the cloud loader; local loaders ignore it.
	LoadAll(ctx context.Context, projectID string) (map[rule.ID]RawRule, error)

	// LoadOne loads a single rule by id, or returns a RuleNotFound error.
	LoadOne(ctx context.Context, id rule.ID) (RawRule, error)

	// CheckVersions reports, for each id in current, whether the source's
	// version differs (or the rule no longer exists there).
	CheckVersions(ctx context.Context, current map[rule.ID]rule.Version) (map[rule.ID]bool, error)
}

// Watchable is implemented by loaders that support hot reload (spec §4.D).
// Only the local loader implements it.
type Watchable interface {
	// Watch attaches cb to the loader's change stream and returns a function
	// that detaches it. Watch may be called multiple times to register
	// several independent callbacks.
	Watch(ctx context.Context, cb ChangeFunc) (stop func(), err error)
}
