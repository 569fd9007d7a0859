package ldb

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// nodeCache is a bounded pool of resident nodes with LRU eviction, a dirty
// list split by checkpoint generation, and a spare-buffer pool for
// compaction scratch space, per §4.1.
type nodeCache struct {
	store PageStore

	mu       sync.Mutex
	byID     map[PageID]*node
	capacity int
	size     int

	lruHead, lruTail *node

	dirtyGen    byte // 1 or 2; flips at each checkpoint
	dirtyHead   map[byte]*node
	dirtyTail   map[byte]*node

	spareMu sync.Mutex
	spares  [][]byte

	fault singleflight.Group
}

func newNodeCache(store PageStore, capacity int) *nodeCache {
	return &nodeCache{
		store:     store,
		byID:      make(map[PageID]*node, capacity),
		capacity:  capacity,
		dirtyGen:  1,
		dirtyHead: make(map[byte]*node, 2),
		dirtyTail: make(map[byte]*node, 2),
	}
}

// fetchShared returns id's node latched shared, faulting it from the store
// if necessary. Concurrent faults of the same id are deduped with
// singleflight keyed by page id — the sanctioned replacement for §4.7's
// documented "serialize behind the exclusive latch" limitation.
func (c *nodeCache) fetchShared(id PageID) (*node, error) {
	n, err := c.fetch(id)
	if err != nil {
		return nil, err
	}
	n.mu.RLock()
	return n, nil
}

// fetch returns id's resident node, unlatched, faulting and inserting it
// into the cache if this is the first reference.
func (c *nodeCache) fetch(id PageID) (*node, error) {
	c.mu.Lock()
	if n, ok := c.byID[id]; ok {
		c.touchLocked(n)
		c.mu.Unlock()
		return n, nil
	}
	c.mu.Unlock()

	v, err, _ := c.fault.Do(uint64Key(id), func() (interface{}, error) {
		buf := make([]byte, c.store.PageSize())
		if err := c.store.ReadPage(id, buf); err != nil {
			return nil, err
		}
		n := newNode(id, buf)

		c.mu.Lock()
		if existing, ok := c.byID[id]; ok {
			c.touchLocked(existing)
			c.mu.Unlock()
			return existing, nil
		}
		c.insertLocked(n)
		c.mu.Unlock()
		return n, nil
	})
	if err != nil {
		return nil, wrapIO("fetch", id, err)
	}
	return v.(*node), nil
}

func uint64Key(id PageID) string {
	const hex = "0123456789abcdef"
	var buf [16]byte
	v := uint64(id)
	for i := 15; i >= 0; i-- {
		buf[i] = hex[v&0xf]
		v >>= 4
	}
	return string(buf[:])
}

// allocNew returns a freshly allocated, exclusively-latched dirty node with
// a newly assigned page id, evicting a victim first if the cache is full.
func (c *nodeCache) allocNew() (*node, error) {
	id, err := c.store.Allocate()
	if err != nil {
		return nil, err
	}
	n := newNode(id, make([]byte, c.store.PageSize()))
	n.mu.Lock()
	n.state = c.currentDirtyState()

	c.mu.Lock()
	if c.size >= c.capacity {
		c.evictOneLocked()
	}
	c.insertLocked(n)
	c.mu.Unlock()

	c.linkDirty(n)
	return n, nil
}

// allocUnevictable is allocNew plus the unevictable pin §4.5 requires on a
// split's new sibling until the parent-insert finishes.
func (c *nodeCache) allocUnevictable() (*node, error) {
	n, err := c.allocNew()
	if err != nil {
		return nil, err
	}
	n.unevictable = true
	return n, nil
}

func (c *nodeCache) currentDirtyState() cachedState {
	if c.dirtyGen == 1 {
		return stateDirtyA
	}
	return stateDirtyB
}

// markDirty marks n dirty in the current checkpoint generation, moving its
// page id into the current dirty list. Returns true if this call performed
// the transition (n was previously clean or a stale generation).
func (c *nodeCache) markDirty(n *node) bool {
	cur := c.currentDirtyState()
	if n.state == cur {
		return false
	}
	c.unlinkDirty(n)
	n.state = cur
	c.linkDirty(n)
	return true
}

func (c *nodeCache) linkDirty(n *node) {
	gen := byte(1)
	if n.state == stateDirtyB {
		gen = 2
	}
	n.dirtyPrev = nil
	n.dirtyNext = c.dirtyHead[gen]
	if c.dirtyHead[gen] != nil {
		c.dirtyHead[gen].dirtyPrev = n
	}
	c.dirtyHead[gen] = n
	if c.dirtyTail[gen] == nil {
		c.dirtyTail[gen] = n
	}
}

func (c *nodeCache) unlinkDirty(n *node) {
	if n.state == stateClean {
		return
	}
	gen := byte(1)
	if n.state == stateDirtyB {
		gen = 2
	}
	if n.dirtyPrev != nil {
		n.dirtyPrev.dirtyNext = n.dirtyNext
	} else if c.dirtyHead[gen] == n {
		c.dirtyHead[gen] = n.dirtyNext
	}
	if n.dirtyNext != nil {
		n.dirtyNext.dirtyPrev = n.dirtyPrev
	} else if c.dirtyTail[gen] == n {
		c.dirtyTail[gen] = n.dirtyPrev
	}
	n.dirtyPrev, n.dirtyNext = nil, nil
}

// flipDirtyGeneration captures a checkpoint snapshot per §4.1: after this
// call, the generation that was "current" becomes the set to write, and
// new mutations dirty pages into the other generation.
func (c *nodeCache) flipDirtyGeneration() (toWrite []*node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	oldGen := c.dirtyGen
	for n := c.dirtyHead[oldGen]; n != nil; n = n.dirtyNext {
		toWrite = append(toWrite, n)
	}
	if c.dirtyGen == 1 {
		c.dirtyGen = 2
	} else {
		c.dirtyGen = 1
	}
	return toWrite
}

// used moves n to the head of the LRU list; called by fetch and by any
// operation that touches an already-resident node.
func (c *nodeCache) used(n *node) {
	c.mu.Lock()
	c.touchLocked(n)
	c.mu.Unlock()
}

func (c *nodeCache) touchLocked(n *node) {
	if c.lruHead == n {
		return
	}
	c.unlinkLRULocked(n)
	n.lruNext = c.lruHead
	if c.lruHead != nil {
		c.lruHead.lruPrev = n
	}
	c.lruHead = n
	if c.lruTail == nil {
		c.lruTail = n
	}
}

func (c *nodeCache) unlinkLRULocked(n *node) {
	if n.lruPrev != nil {
		n.lruPrev.lruNext = n.lruNext
	} else if c.lruHead == n {
		c.lruHead = n.lruNext
	}
	if n.lruNext != nil {
		n.lruNext.lruPrev = n.lruPrev
	} else if c.lruTail == n {
		c.lruTail = n.lruPrev
	}
	n.lruPrev, n.lruNext = nil, nil
}

func (c *nodeCache) insertLocked(n *node) {
	c.byID[n.id] = n
	c.size++
	n.lruNext = c.lruHead
	if c.lruHead != nil {
		c.lruHead.lruPrev = n
	}
	c.lruHead = n
	if c.lruTail == nil {
		c.lruTail = n
	}
}

// evictOneLocked walks the LRU list from the tail looking for a victim:
// not pinned unevictable (the tree pins its root this way), no bound
// frames, not splitting, and its own exclusive latch acquirable without
// waiting. The latches of an internal node's children are not checked.
// Abandons silently if none qualifies; caller proceeds over capacity
// rather than block.
func (c *nodeCache) evictOneLocked() {
	for n := c.lruTail; n != nil; n = n.lruPrev {
		if n.unevictable || n.frames != nil || n.split != nil {
			continue
		}
		if !n.mu.TryLock() {
			continue
		}
		ok := n.frames == nil && n.split == nil
		if ok {
			c.unlinkLRULocked(n)
			c.unlinkDirty(n)
			delete(c.byID, n.id)
			c.size--
			n.mu.Unlock()
			return
		}
		n.mu.Unlock()
	}
}

// prepareToDelete removes n from cache bookkeeping ahead of its page being
// freed by the tree (root collapse, merge).
func (c *nodeCache) prepareToDelete(n *node) {
	c.mu.Lock()
	c.unlinkLRULocked(n)
	c.unlinkDirty(n)
	delete(c.byID, n.id)
	c.size--
	c.mu.Unlock()
}

func (c *nodeCache) deleteNode(n *node) {
	c.prepareToDelete(n)
	n.page = nil
}

func (c *nodeCache) makeEvictable(n *node) {
	n.unevictable = false
}

// borrowSpare and returnSpare implement the shared scratch-buffer pool
// Design Notes §9 calls for: a bounded free list of page-sized buffers
// protected by its own latch, used by compaction.
func (c *nodeCache) borrowSpare(size int) []byte {
	c.spareMu.Lock()
	defer c.spareMu.Unlock()
	if n := len(c.spares); n > 0 {
		buf := c.spares[n-1]
		c.spares = c.spares[:n-1]
		if len(buf) >= size {
			return buf[:size]
		}
	}
	return make([]byte, size)
}

func (c *nodeCache) returnSpare(buf []byte) {
	c.spareMu.Lock()
	defer c.spareMu.Unlock()
	if len(c.spares) < 8 {
		c.spares = append(c.spares, buf)
	}
}
