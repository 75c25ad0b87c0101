// Package catalog defines the contract for the rule catalog and cache
// (spec §4.B): content-addressed storage of compiled rule graphs, a tag
// index, and bounded-size LRU eviction. The concrete implementation lives in
// internal/adapter/outbound/memcache; this package holds the port and the
// small value types shared with callers.
package catalog

import (
	"context"
	"sync"

	"github.com/sentinelgate/ruleengine/internal/domain/rule"
)

// VersionStatus reports whether a cached rule id is current with respect to
// its loader.
type VersionStatus struct {
	ID             rule.ID
	CurrentVersion rule.Version
	NeedsUpdate    bool
}

// Stats is a point-in-time snapshot of cache occupancy and effectiveness.
type Stats struct {
	Size    int
	MaxSize int
	Hits    int64
	Misses  int64
}

// HitRate returns 0 when there have been no lookups yet.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Handle is a reference-counted pin on a cache entry. Release must be called
// exactly once to allow the entry to become evictable again (spec §5).
type Handle struct {
	Entry   *rule.Entry
	release func()
}

// NewHandle constructs a Handle for implementations of Catalog outside this
// package; release is invoked at most once, by Handle.Release.
func NewHandle(e *rule.Entry, release func()) Handle {
	if release == nil {
		return Handle{Entry: e}
	}
	var once sync.Once
	return Handle{Entry: e, release: func() { once.Do(release) }}
}

// Release drops the pin. Safe to call on a zero Handle.
func (h Handle) Release() {
	if h.release != nil {
		h.release()
	}
}

// Catalog owns all cache entries and the tag index, enforcing the
// invariants in spec §3/§8: size bound, tag-index/entry-map consistency,
// unique ids, LRU-with-pinning eviction.
type Catalog interface {
	// Get returns a pinned handle to the entry for id, or a RuleNotFound
	// error. The caller must call Handle.Release when done.
	Get(ctx context.Context, id rule.ID) (Handle, error)

	// Insert idempotently replaces the entry for e.Metadata.ID, updating the
	// tag index and evicting at most one LRU entry if the cache is full.
	Insert(ctx context.Context, e rule.Entry) error

	// Remove deletes the entry for id and its tag-index edges, if present.
	Remove(ctx context.Context, id rule.ID) error

	// ResolveByTags returns the union of ids tagged with any of tags, in
	// stable per-tag insertion order, deduplicated on first occurrence.
	ResolveByTags(ctx context.Context, tags []string) ([]rule.ID, error)

	// SnapshotMetadata returns an O(n) point-in-time copy of all metadata.
	SnapshotMetadata(ctx context.Context) (map[rule.ID]rule.Metadata, error)

	// Stats returns current occupancy and hit-rate counters.
	Stats() Stats
}
