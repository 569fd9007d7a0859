package ldb

import "sync"

// cachedState mirrors a node's dirty generation relative to the current
// checkpoint. Clean is 0; the two dirty states alternate as checkpoints flip
// the active generation bit.
type cachedState byte

const (
	stateClean  cachedState = 0
	stateDirtyA cachedState = 1
	stateDirtyB cachedState = 2
)

// split describes a node mid split: it has produced a sibling but the
// separator has not yet been inserted into the parent. A node carrying a
// non-nil split is exclusively latched and invisible to every thread except
// the one performing the insert-into-parent step.
type split struct {
	// right is true when the new sibling holds the higher keys.
	right bool
	sib   *node
	// key is the promoted/copied separator between the two sides.
	key []byte
	// newEntryOnSib is true when the entry that triggered the split
	// landed on sib rather than on the originally guessed side.
	newEntryOnSib bool
}

// selectNode returns the side of the split that should be followed to reach
// key, per §4.2's descent rule: a split only ever affects descent for the
// operation currently holding the node, so sib's key range and our own
// remaining range are disjoint and ordered by dir.
func (s *split) selectNode(n *node, key []byte) *node {
	cmp := compareBytes(key, s.key)
	if s.right {
		if cmp < 0 {
			return n
		}
		return s.sib
	}
	if cmp < 0 {
		return s.sib
	}
	return n
}

// node is a resident page plus the bookkeeping §3 requires on top of it.
type node struct {
	mu sync.RWMutex

	id    PageID
	page  []byte
	state cachedState

	// children caches child node pointers for internal nodes, indexed by
	// search-vector slot (childPos/2). Entries are nil until faulted.
	children []*node
	// childIDs mirrors the persisted child ids so a stale cache entry can
	// be detected without touching the child's page.
	childIDs []PageID

	frames *frame // head of the bound cursor-frame list

	split *split

	// lru and dirty links, guarded by the owning cache's latches, not by
	// mu: a node's position in those lists is cache-owned state.
	lruPrev, lruNext     *node
	dirtyPrev, dirtyNext *node

	unevictable bool
	// low/high extremity, cached from the page header for fast checks
	// during rebalance/split without re-reading the byte.
	lowExtremity, highExtremity bool
}

func newNode(id PageID, page []byte) *node {
	n := &node{id: id, page: page}
	n.loadExtremity()
	return n
}

func (n *node) loadExtremity() {
	n.lowExtremity = pageLowExtremity(n.page)
	n.highExtremity = pageHighExtremity(n.page)
}

func (n *node) isLeaf() bool     { return pageIsLeaf(n.page) }
func (n *node) isInternal() bool { return pageIsInternal(n.page) }
func (n *node) isClosed() bool   { return n.page == nil }

// keyCount returns the number of entries in the search vector.
func (n *node) keyCount() int {
	start, end := pageVecStart(n.page), pageVecEnd(n.page)
	if end < start {
		return 0
	}
	return (end-start)/2 + 1
}

// childCount is keyCount+1 for internal nodes, per invariant §3.
func (n *node) childCount() int {
	if !n.isInternal() {
		return 0
	}
	return n.keyCount() + 1
}

// availableBytes is the space that could be reclaimed by compaction: the
// free space between segments plus the garbage already inside live entries.
func (n *node) availableBytes() int {
	start, end := pageVecStart(n.page), pageVecEnd(n.page)
	vecLen := 0
	if end >= start {
		vecLen = end - start + 2
	}
	childLen := 0
	if n.isInternal() {
		childLen = n.childCount() * 8
	}
	free := pageRightTail(n.page) - pageLeftTail(n.page) - vecLen - childLen
	return free + pageGarbage(n.page)
}

// mergeEligible implements §3's "unsplit leaf with available bytes ≥ half
// the usable page" rule.
func (n *node) mergeEligible() bool {
	if !n.isLeaf() || n.split != nil {
		return false
	}
	usable := len(n.page) - pageHeaderSize
	return n.availableBytes() >= usable/2
}

func compareBytes(a, b []byte) int {
	la, lb := len(a), len(b)
	n := la
	if lb < n {
		n = lb
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case la < lb:
		return -1
	case la > lb:
		return 1
	default:
		return 0
	}
}

// entryLoc returns the page offset stored at search-vector slot pos (a
// 2-based, even offset from vecStart).
func (n *node) entryLoc(pos int) int {
	return int(n.page[pageVecStart(n.page)+pos]) | int(n.page[pageVecStart(n.page)+pos+1])<<8
}

func (n *node) setEntryLoc(pos, loc int) {
	off := pageVecStart(n.page) + pos
	n.page[off] = byte(loc)
	n.page[off+1] = byte(loc >> 8)
}

// retrieveKey decodes the key stored at search-vector slot pos.
func (n *node) retrieveKey(pos int) []byte {
	loc := n.entryLoc(pos)
	return n.retrieveKeyAtLoc(loc)
}

func (n *node) retrieveKeyAtLoc(loc int) []byte {
	klen, hdr := decodeKeyLen(n.page, loc)
	return n.page[loc+hdr : loc+hdr+klen]
}

// retrieveLeafValue decodes the value stored at search-vector slot pos, or
// returns (nil, false, true) for a ghost.
func (n *node) retrieveLeafValue(pos int) (value []byte, fragmented, ghost bool) {
	loc := n.entryLoc(pos)
	_, khdr := decodeKeyLen(n.page, loc)
	klen, _ := decodeKeyLen(n.page, loc)
	vloc := loc + khdr + klen
	vlen, vhdr, frag, gh := decodeValueLen(n.page, vloc)
	if gh {
		return nil, false, true
	}
	start := vloc + vhdr
	return n.page[start : start+vlen], frag, false
}

// retrieveChildID reads the child pointer after key slot pos; internal
// nodes only. Child pointers are packed 8-byte big-endian-on-disk-agnostic
// (we keep them little-endian like everything else) values immediately
// after the search-vector region.
func (n *node) childPointerBase() int {
	return pageVecStart(n.page)
}

func (n *node) retrieveChildID(childPos int) PageID {
	base := n.childIDRegionStart()
	off := base + (childPos/2)*8
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(n.page[off+i])
	}
	return PageID(v)
}

func (n *node) setChildID(childPos int, id PageID) {
	base := n.childIDRegionStart()
	off := base + (childPos/2)*8
	v := uint64(id)
	for i := 0; i < 8; i++ {
		n.page[off+i] = byte(v)
		v >>= 8
	}
}

// childIDRegionStart is the byte right after the search vector: the packed
// array of 8-byte child ids described in §3.
func (n *node) childIDRegionStart() int {
	end := pageVecEnd(n.page)
	if end < pageVecStart(n.page) {
		return pageVecStart(n.page)
	}
	return end + 2
}
