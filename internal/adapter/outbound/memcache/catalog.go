// Package memcache implements catalog.Catalog: a pin-aware, bounded-size LRU
// cache of compiled rule graphs plus a tag index, grounded directly on the
// teacher's ResultCache doubly-linked-list LRU (internal/service/policy_service.go),
// generalized from caching CEL decisions to caching whole rule.Entry values
// and adding reference-counted pinning so an in-flight execution can never
// have its rule evicted out from under it (spec §5/§8).
package memcache

import (
	"context"
	"sync"

	"github.com/sentinelgate/ruleengine/internal/domain/catalog"
	"github.com/sentinelgate/ruleengine/internal/domain/rule"
	"github.com/sentinelgate/ruleengine/internal/errs"
)

// entry is a doubly-linked list node, one per cached rule id.
type entry struct {
	id       rule.ID
	value    rule.Entry
	pins     int
	prev     *entry
	next     *entry
}

// tagIndex holds the ids tagged with one tag in stable insertion order.
// Go's map iteration order is randomized, so the tag index cannot be a bare
// map[rule.ID]struct{} without violating the §8 tag-idempotence law
// ("resolving Tags(T) twice yields the same ordered id list"); order is the
// slice, present is only an O(1) membership check for add/remove.
type tagIndex struct {
	order   []rule.ID
	present map[rule.ID]struct{}
}

func newTagIndex() *tagIndex {
	return &tagIndex{present: make(map[rule.ID]struct{})}
}

func (t *tagIndex) add(id rule.ID) {
	if _, ok := t.present[id]; ok {
		return
	}
	t.present[id] = struct{}{}
	t.order = append(t.order, id)
}

func (t *tagIndex) remove(id rule.ID) {
	if _, ok := t.present[id]; !ok {
		return
	}
	delete(t.present, id)
	for i, existing := range t.order {
		if existing == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

func (t *tagIndex) empty() bool { return len(t.order) == 0 }

// Catalog is the concrete, mutex-protected implementation of catalog.Catalog.
type Catalog struct {
	maxSize int

	mu      sync.Mutex
	entries map[rule.ID]*entry
	tags    map[string]*tagIndex
	head    *entry // most recently used
	tail    *entry // least recently used

	hits   int64
	misses int64
}

// New creates a Catalog bounded at maxSize entries.
func New(maxSize int) *Catalog {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Catalog{
		maxSize: maxSize,
		entries: make(map[rule.ID]*entry, maxSize),
		tags:    make(map[string]*tagIndex),
	}
}

// Get pins and returns the entry for id, promoting it to most-recently-used.
func (c *Catalog) Get(ctx context.Context, id rule.ID) (catalog.Handle, error) {
	if err := ctx.Err(); err != nil {
		return catalog.Handle{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		c.misses++
		return catalog.Handle{}, errs.New(errs.KindRuleNotFound, "rule %q not in cache", id).WithRuleID(string(id))
	}
	c.hits++
	c.moveToHeadLocked(e)
	e.pins++

	val := e.value
	return catalog.NewHandle(&val, c.releaser(id)), nil
}

func (c *Catalog) releaser(id rule.ID) func() {
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if e, ok := c.entries[id]; ok && e.pins > 0 {
			e.pins--
		}
	}
}

// Insert idempotently replaces the entry for e.Metadata.ID. A pinned
// existing entry is updated in place without losing its pin count; eviction
// never targets a pinned entry, and if every entry is pinned and the cache
// is full, Insert fails with InternalError{cache_full_pinned}.
func (c *Catalog) Insert(ctx context.Context, newEntry rule.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := newEntry.Metadata.ID
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[id]; ok {
		c.removeTagsLocked(id, existing.value.Metadata.Tags)
		existing.value = newEntry
		c.addTagsLocked(id, newEntry.Metadata.Tags)
		c.moveToHeadLocked(existing)
		return nil
	}

	if len(c.entries) >= c.maxSize {
		if !c.evictOneLocked() {
			return errs.New(errs.KindInternalError, "cache full and every entry is pinned")
		}
	}

	e := &entry{id: id, value: newEntry}
	c.entries[id] = e
	c.pushHeadLocked(e)
	c.addTagsLocked(id, newEntry.Metadata.Tags)
	return nil
}

// Remove deletes id's entry and its tag-index edges. Removing a pinned
// entry is allowed; in-flight Handles already hold a copy of the value.
func (c *Catalog) Remove(ctx context.Context, id rule.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return nil
	}
	c.removeTagsLocked(id, e.value.Metadata.Tags)
	c.unlinkLocked(e)
	delete(c.entries, id)
	return nil
}

// ResolveByTags returns the deduplicated union of ids tagged with any of
// tags, in stable first-occurrence order across the tags argument.
func (c *Catalog) ResolveByTags(ctx context.Context, tags []string) ([]rule.ID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[rule.ID]struct{})
	var out []rule.ID
	for _, tag := range tags {
		idx, ok := c.tags[tag]
		if !ok {
			continue
		}
		for _, id := range idx.order {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out, nil
}

// SnapshotMetadata copies every entry's metadata under the lock.
func (c *Catalog) SnapshotMetadata(ctx context.Context) (map[rule.ID]rule.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[rule.ID]rule.Metadata, len(c.entries))
	for id, e := range c.entries {
		out[id] = e.value.Metadata
	}
	return out, nil
}

// Stats returns current occupancy and hit/miss counters.
func (c *Catalog) Stats() catalog.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return catalog.Stats{
		Size:    len(c.entries),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
	}
}

func (c *Catalog) addTagsLocked(id rule.ID, tags []string) {
	for _, t := range tags {
		if c.tags[t] == nil {
			c.tags[t] = newTagIndex()
		}
		c.tags[t].add(id)
	}
}

func (c *Catalog) removeTagsLocked(id rule.ID, tags []string) {
	for _, t := range tags {
		idx, ok := c.tags[t]
		if !ok {
			continue
		}
		idx.remove(id)
		if idx.empty() {
			delete(c.tags, t)
		}
	}
}

// evictOneLocked evicts the least-recently-used unpinned entry, walking from
// the tail toward the head. Returns false if every entry is pinned.
func (c *Catalog) evictOneLocked() bool {
	for e := c.tail; e != nil; e = e.prev {
		if e.pins > 0 {
			continue
		}
		c.removeTagsLocked(e.id, e.value.Metadata.Tags)
		c.unlinkLocked(e)
		delete(c.entries, e.id)
		return true
	}
	return false
}

func (c *Catalog) moveToHeadLocked(e *entry) {
	if c.head == e {
		return
	}
	c.unlinkLocked(e)
	c.pushHeadLocked(e)
}

func (c *Catalog) pushHeadLocked(e *entry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *Catalog) unlinkLocked(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else if c.head == e {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else if c.tail == e {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

var _ catalog.Catalog = (*Catalog)(nil)
