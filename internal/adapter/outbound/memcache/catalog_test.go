package memcache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelgate/ruleengine/internal/domain/rule"
	"github.com/sentinelgate/ruleengine/internal/errs"
)

func entryFor(id rule.ID, tags ...string) rule.Entry {
	return rule.Entry{
		Metadata: rule.Metadata{ID: id, Version: "v1", Tags: tags},
		Compiled: rule.Compiled{Nodes: []rule.Node{}, Edges: []rule.Edge{}},
	}
}

func TestCatalog_GetMiss(t *testing.T) {
	c := New(4)
	_, err := c.Get(context.Background(), "nope")
	assert.True(t, errs.Is(err, errs.KindRuleNotFound))
}

func TestCatalog_InsertThenGet(t *testing.T) {
	c := New(4)
	require.NoError(t, c.Insert(context.Background(), entryFor("a", "pricing")))

	h, err := c.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, rule.ID("a"), h.Entry.Metadata.ID)
	h.Release()

	stats := c.Stats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, int64(1), stats.Hits)
}

func TestCatalog_ResolveByTags_UnionDeduped(t *testing.T) {
	c := New(8)
	ctx := context.Background()
	require.NoError(t, c.Insert(ctx, entryFor("a", "x", "y")))
	require.NoError(t, c.Insert(ctx, entryFor("b", "y")))
	require.NoError(t, c.Insert(ctx, entryFor("c", "z")))

	ids, err := c.ResolveByTags(ctx, []string{"x", "y"})
	require.NoError(t, err)
	assert.Equal(t, []rule.ID{"a", "b"}, ids, "resolution order must be stable insertion order, not map-iteration order")

	// A repeated call must yield the identical ordered list (spec §8 tag idempotence).
	again, err := c.ResolveByTags(ctx, []string{"x", "y"})
	require.NoError(t, err)
	assert.Equal(t, ids, again)
}

func TestCatalog_EvictsLRUButNeverPinned(t *testing.T) {
	ctx := context.Background()
	c := New(2)
	require.NoError(t, c.Insert(ctx, entryFor("a")))
	require.NoError(t, c.Insert(ctx, entryFor("b")))

	// Pin "a" so it cannot be evicted; touching it also leaves "b" as the LRU entry.
	handle, err := c.Get(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, c.Insert(ctx, entryFor("c")))

	// "a" must have survived (pinned); "b" is the unpinned LRU victim.
	_, err = c.Get(ctx, "a")
	assert.NoError(t, err)
	_, err = c.Get(ctx, "b")
	assert.True(t, errs.Is(err, errs.KindRuleNotFound))
	_, err = c.Get(ctx, "c")
	assert.NoError(t, err)

	handle.Release()
}

func TestCatalog_InsertFailsWhenFullAndAllPinned(t *testing.T) {
	ctx := context.Background()
	c := New(1)
	require.NoError(t, c.Insert(ctx, entryFor("a")))
	h, err := c.Get(ctx, "a")
	require.NoError(t, err)
	defer h.Release()

	err = c.Insert(ctx, entryFor("b"))
	assert.True(t, errs.Is(err, errs.KindInternalError))
}

func TestCatalog_RemoveClearsTagIndex(t *testing.T) {
	ctx := context.Background()
	c := New(4)
	require.NoError(t, c.Insert(ctx, entryFor("a", "x")))
	require.NoError(t, c.Remove(ctx, "a"))

	ids, err := c.ResolveByTags(ctx, []string{"x"})
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = c.Get(ctx, "a")
	assert.True(t, errs.Is(err, errs.KindRuleNotFound))
}

func TestCatalog_InsertReplacesExistingAndUpdatesTags(t *testing.T) {
	ctx := context.Background()
	c := New(4)
	require.NoError(t, c.Insert(ctx, entryFor("a", "old")))
	require.NoError(t, c.Insert(ctx, entryFor("a", "new")))

	oldIDs, _ := c.ResolveByTags(ctx, []string{"old"})
	newIDs, _ := c.ResolveByTags(ctx, []string{"new"})
	assert.Empty(t, oldIDs)
	assert.Equal(t, []rule.ID{"a"}, newIDs)
	assert.Equal(t, 1, c.Stats().Size)
}
