package pager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Cache_AllocateLookupRef(t *testing.T) {
	t.Parallel()

	c := newCache(64, 0, 4)
	f := c.allocate(1)
	f.data[0] = 0xAB

	got, ok := c.lookup(1)
	require.True(t, ok)
	assert.Equal(t, byte(0xAB), got.data[0])
	assert.EqualValues(t, 1, got.refCount)
}

func Test_Cache_RefUnrefTogglesLRUMembership(t *testing.T) {
	t.Parallel()

	c := newCache(64, 0, 4)
	c.allocate(1)
	c.unref(1)
	assert.NotEqual(t, noSlot, c.lruHead)

	c.ref(1)
	assert.Equal(t, noSlot, c.lruHead)
}

func Test_Cache_FullReportsAtCapacity(t *testing.T) {
	t.Parallel()

	c := newCache(64, 0, 2)
	c.allocate(1)
	assert.False(t, c.full())
	c.allocate(2)
	assert.True(t, c.full())
}

func Test_Cache_EvictSkipsUnsyncedAndReferencedFrames(t *testing.T) {
	t.Parallel()

	c := newCache(64, 0, 4)
	a := c.allocate(1)
	a.needsSync = true
	c.unref(1)

	b := c.allocate(2)
	c.unref(2) // eligible: not referenced, needsSync false

	c.allocate(3) // still referenced, refCount 1

	victim, ok := c.evict()
	require.True(t, ok)
	assert.Equal(t, b.pgno, victim.pgno)

	_, found := c.lookup(2)
	assert.False(t, found)
	_, found = c.lookup(1)
	assert.True(t, found, "needs_sync frame must not be evicted")
}

func Test_Cache_EvictReturnsFalseWhenNothingSynced(t *testing.T) {
	t.Parallel()

	c := newCache(64, 0, 4)
	f := c.allocate(1)
	f.needsSync = true
	c.unref(1)

	_, ok := c.evict()
	assert.False(t, ok)
}

func Test_Cache_MarkAllSyncedClearsNeedsSync(t *testing.T) {
	t.Parallel()

	c := newCache(64, 0, 4)
	f := c.allocate(1)
	f.needsSync = true

	c.markAllSynced()
	assert.False(t, f.needsSync)
}

func Test_Cache_DirtyPagesAndAll(t *testing.T) {
	t.Parallel()

	c := newCache(64, 0, 4)
	a := c.allocate(1)
	a.dirty = true
	c.allocate(2)

	assert.Len(t, c.dirtyPages(), 1)
	assert.Len(t, c.all(), 2)
}

func Test_Cache_RemoveFreesSlotForReuse(t *testing.T) {
	t.Parallel()

	c := newCache(64, 0, 1)
	c.allocate(1)
	c.unref(1)
	c.remove(1)

	_, found := c.lookup(1)
	assert.False(t, found)
	assert.False(t, c.full())

	c.allocate(2)
	assert.Equal(t, 1, len(c.arena), "freed slot should be reused rather than growing the arena")
}

func Test_Cache_RemoveIsNoOpWhileReferenced(t *testing.T) {
	t.Parallel()

	c := newCache(64, 0, 4)
	c.allocate(1)
	c.remove(1)

	_, found := c.lookup(1)
	assert.True(t, found)
}
