package pager

import "github.com/samber/lo"

// slotIndex addresses a frame inside cache's arena. -1 is the sentinel for
// "no slot" (used both as list terminator and free-list terminator).
type slotIndex int32

const noSlot slotIndex = -1

// slot wraps a Frame with the intrusive doubly-linked-list links used to
// thread the LRU list through the arena by index rather than by pointer
// (spec.md §9 Design Notes: "Replace the hand-threaded pNextHash /
// pNextFree / pFirstSynced links with an arena of frames and small index
// structures"). A slot is either live (referenced by byPage) or sitting on
// the free list awaiting reuse.
type slot struct {
	frame Frame
	live  bool

	lruPrev, lruNext slotIndex
	freeNext         slotIndex
}

// cache is the keyed cache index of spec.md §4.2: a hash table from page
// number to live frame, plus an LRU list of unreferenced (ref_count==0)
// frames. Eviction favors the LRU tail entry whose pre-image has already
// been journal-synced (the "first-synced cursor"); when none exists within
// a bounded scan, the caller must force a journal sync before eviction can
// proceed (spec.md §4.2 step 3).
type cache struct {
	pageSize  int
	extraSize int
	maxPages  int

	arena  []slot
	byPage map[PageNumber]slotIndex

	freeHead slotIndex
	lruHead  slotIndex // most recently unreferenced
	lruTail  slotIndex // least recently unreferenced (eviction end)

	liveCount int
}

// evictScanLimit bounds how far the eviction walk looks for a synced
// victim before giving up and asking the caller to force a journal sync,
// mirroring the teacher's lrucache bounded second-chance scan
// (pkg/lrucache.EvictIfNeeded) rather than an unbounded list walk.
const evictScanLimit = 64

func newCache(pageSize, extraSize, maxPages int) *cache {
	return &cache{
		pageSize:  pageSize,
		extraSize: extraSize,
		maxPages:  maxPages,
		byPage:    make(map[PageNumber]slotIndex, maxPages),
		freeHead:  noSlot,
		lruHead:   noSlot,
		lruTail:   noSlot,
	}
}

// lookup returns the live frame for pgno without affecting LRU order
// (spec.md §4.2 step 1, "increment ref_count" is the caller's job).
func (c *cache) lookup(pgno PageNumber) (*Frame, bool) {
	idx, ok := c.byPage[pgno]
	if !ok {
		return nil, false
	}
	return &c.arena[idx].frame, true
}

// ref increments pgno's reference count, unhooking the frame from the LRU
// list the first time it becomes referenced.
func (c *cache) ref(pgno PageNumber) {
	idx := c.byPage[pgno]
	s := &c.arena[idx]
	if s.frame.refCount == 0 {
		c.unlinkLRU(idx)
	}
	s.frame.refCount++
}

// unref decrements pgno's reference count, returning the frame to the LRU
// front once the count reaches zero.
func (c *cache) unref(pgno PageNumber) {
	idx, ok := c.byPage[pgno]
	if !ok {
		return
	}
	s := &c.arena[idx]
	if s.frame.refCount == 0 {
		return
	}
	s.frame.refCount--
	if s.frame.refCount == 0 {
		c.pushLRUFront(idx)
	}
}

// full reports whether the cache has reached its configured capacity and
// a fresh page would require an eviction first.
func (c *cache) full() bool {
	return c.maxPages > 0 && c.liveCount >= c.maxPages
}

// allocate installs a brand-new referenced (ref_count==1) frame for pgno.
// Callers must have already evicted room via full()/evict().
func (c *cache) allocate(pgno PageNumber) *Frame {
	idx := c.takeSlot()
	s := &c.arena[idx]
	s.frame.reset(pgno)
	s.frame.refCount = 1
	s.live = true
	c.byPage[pgno] = idx
	c.liveCount++
	return &s.frame
}

func (c *cache) takeSlot() slotIndex {
	if c.freeHead != noSlot {
		idx := c.freeHead
		c.freeHead = c.arena[idx].freeNext
		return idx
	}
	c.arena = append(c.arena, slot{
		frame: *newFrame(0, c.pageSize, c.extraSize),
	})
	return slotIndex(len(c.arena) - 1)
}

// evict picks an unreferenced victim whose pre-image is already
// journal-synced, unhooks and removes it from the index, and returns it.
// The second return reports whether a victim was found; callers must
// flush and forceSync before retrying when it is false.
func (c *cache) evict() (Frame, bool) {
	idx := c.lruTail
	attempts := 0
	for idx != noSlot && attempts < evictScanLimit {
		s := &c.arena[idx]
		if !s.frame.needsSync {
			victim := s.frame
			c.unlinkLRU(idx)
			delete(c.byPage, victim.pgno)
			c.arena[idx].live = false
			c.arena[idx].freeNext = c.freeHead
			c.freeHead = idx
			c.liveCount--
			return victim, true
		}
		idx = s.lruPrev
		attempts++
	}
	var zero Frame
	return zero, false
}

// markAllSynced clears needsSync on every cached frame, the effect of a
// successful journal sync (spec.md §4.2 step 3: "force a journal sync,
// which clears all needs_sync flags").
func (c *cache) markAllSynced() {
	for i := range c.arena {
		if c.arena[i].live {
			c.arena[i].frame.needsSync = false
		}
	}
}

// dirtyPages returns every cached frame currently marked dirty, used by
// commit to flush and by rollback to know what to discard/reread.
func (c *cache) dirtyPages() []*Frame {
	var out []*Frame
	for i := range c.arena {
		if c.arena[i].live && c.arena[i].frame.dirty {
			out = append(out, &c.arena[i].frame)
		}
	}
	return out
}

// all returns every live frame (used by rollback's cache resync and by
// statement rollback's history replay).
func (c *cache) all() []*Frame {
	indices := make([]int, 0, c.liveCount)
	for i := range c.arena {
		if c.arena[i].live {
			indices = append(indices, i)
		}
	}
	return lo.Map(indices, func(i int, _ int) *Frame {
		return &c.arena[i].frame
	})
}

// remove drops pgno from the cache entirely (used by truncate, spec.md
// §4.8: pages beyond the new size cease to exist). A still-referenced
// frame is left alone; callers only call this for pages nothing should
// still be holding.
func (c *cache) remove(pgno PageNumber) {
	idx, ok := c.byPage[pgno]
	if !ok {
		return
	}
	s := &c.arena[idx]
	if s.frame.refCount > 0 {
		return
	}
	c.unlinkLRU(idx)
	delete(c.byPage, pgno)
	s.live = false
	s.freeNext = c.freeHead
	c.freeHead = idx
	c.liveCount--
}

func (c *cache) pushLRUFront(idx slotIndex) {
	s := &c.arena[idx]
	s.lruPrev = noSlot
	s.lruNext = c.lruHead
	if c.lruHead != noSlot {
		c.arena[c.lruHead].lruPrev = idx
	}
	c.lruHead = idx
	if c.lruTail == noSlot {
		c.lruTail = idx
	}
}

func (c *cache) unlinkLRU(idx slotIndex) {
	s := &c.arena[idx]
	if s.lruPrev != noSlot {
		c.arena[s.lruPrev].lruNext = s.lruNext
	} else if c.lruHead == idx {
		c.lruHead = s.lruNext
	}
	if s.lruNext != noSlot {
		c.arena[s.lruNext].lruPrev = s.lruPrev
	} else if c.lruTail == idx {
		c.lruTail = s.lruPrev
	}
	s.lruPrev, s.lruNext = noSlot, noSlot
}
