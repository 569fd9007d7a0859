package ldb

// tryRebalanceLeafLeft attempts to move entries from the front of n into its
// left sibling, per §4.6. pos marks the insertion point that must not move
// left; it returns the 2-based position decrement to apply to pos, or 0 if
// the attempt failed for any reason (no sibling, busy latch, no room).
func (n *node) tryRebalanceLeafLeft(tree *tree, parentFrame *frame, pos, minAmount int) int {
	page := n.page
	searchVecLoc := pageVecStart(page)
	searchVecEnd := searchVecLoc + pos - 2

	moveAmount := 0
	lastSearchVecLoc := -1
	for ; searchVecLoc < searchVecEnd; searchVecLoc += 2 {
		entryLoc := n.entryLoc(searchVecLoc - pageVecStart(page))
		moveAmount += leafEntryLengthAtLoc(page, entryLoc) + 2
		if moveAmount >= minAmount {
			lastSearchVecLoc = searchVecLoc + 2
			break
		}
	}
	if lastSearchVecLoc < 0 {
		return 0
	}

	parent := parentFrame.node
	if !parent.mu.TryLock() {
		return 0
	}
	defer parent.mu.Unlock()

	childPos := parentFrame.pos
	if childPos <= 0 || parent.split != nil || childPos/2 >= len(parent.children) ||
		parent.children[childPos/2] != n {
		return 0
	}

	left := parent.children[childPos/2-1]
	if left == nil || !left.mu.TryLock() || left.split != nil {
		return 0
	}
	defer left.mu.Unlock()

	if left.availableBytes() < moveAmount {
		return 0
	}

	moved := n.moveLeafEntriesTo(left, pageVecStart(page), lastSearchVecLoc, true)

	sep := n.retrieveKey(lastSearchVecLoc - pageVecStart(page))
	parent.updateInternalSeparator(childPos-2, sep)

	n.fixFramesAfterRebalance(left, pageVecStart(page), lastSearchVecLoc, -1)

	return moved
}

// tryRebalanceLeafRight is tryRebalanceLeafLeft's mirror image: moves
// entries off the back of n into its right sibling.
func (n *node) tryRebalanceLeafRight(tree *tree, parentFrame *frame, pos, minAmount int) bool {
	page := n.page
	searchVecEnd := pageVecEnd(page)
	searchVecLoc := pageVecStart(page) + pos

	moveAmount := 0
	firstSearchVecLoc := -1
	for loc := searchVecEnd; loc >= searchVecLoc; loc -= 2 {
		entryLoc := n.entryLoc(loc - pageVecStart(page))
		moveAmount += leafEntryLengthAtLoc(page, entryLoc) + 2
		if moveAmount >= minAmount {
			firstSearchVecLoc = loc
			break
		}
	}
	if firstSearchVecLoc < 0 {
		return false
	}

	parent := parentFrame.node
	if !parent.mu.TryLock() {
		return false
	}
	defer parent.mu.Unlock()

	childPos := parentFrame.pos
	if childPos/2+1 >= len(parent.children) || parent.split != nil ||
		parent.children[childPos/2] != n {
		return false
	}

	right := parent.children[childPos/2+1]
	if right == nil || !right.mu.TryLock() || right.split != nil {
		return false
	}
	defer right.mu.Unlock()

	if right.availableBytes() < moveAmount {
		return false
	}

	n.moveLeafEntriesTo(right, firstSearchVecLoc, pageVecEnd(page)+2, false)

	sep := right.retrieveKey(0)
	parent.updateInternalSeparator(childPos, sep)

	n.fixFramesAfterRebalance(right, firstSearchVecLoc, pageVecEnd(page)+2, 1)

	return true
}

// moveLeafEntriesTo copies the entries in [from,to) out of n and appends
// (toLeft) or prepends (!toLeft) them to sib in key order, then deletes
// them from n.
func (n *node) moveLeafEntriesTo(sib *node, from, to int, toLeft bool) int {
	count := (to - from) / 2
	for i := 0; i < count; i++ {
		var slot int
		if toLeft {
			slot = from - pageVecStart(n.page)
		} else {
			slot = from - pageVecStart(n.page)
		}
		loc := n.entryLoc(slot)
		klen, khdr := decodeKeyLen(n.page, loc)
		key := append([]byte(nil), n.page[loc+khdr:loc+khdr+klen]...)
		val, frag, ghost := n.retrieveLeafValue(slot)
		if ghost {
			val = nil
		}
		if toLeft {
			sib.appendLeafEntry(key, val, frag)
		} else {
			// Ahead of sib's own entries, after the ones already moved.
			sib.insertLeafEntry(nil, i*2, key, val, frag)
		}
		from += 2
	}
	n.deleteLeafEntryRange(from-count*2-pageVecStart(n.page), to-pageVecStart(n.page))
	return count * 2
}

func (n *node) appendLeafEntry(key, value []byte, fragmented bool) {
	pos := pageVecEnd(n.page) + 2 - pageVecStart(n.page)
	n.insertLeafEntry(nil, pos, key, value, fragmented)
}

func (n *node) prependLeafEntry(key, value []byte, fragmented bool) {
	n.insertLeafEntry(nil, 0, key, value, fragmented)
}

// fixFramesAfterRebalance implements §4.6 step 7: every bound frame whose
// slot fell inside the moved range is rebound to sib at the shifted
// position; dir is -1 when entries moved left, +1 when they moved right.
func (n *node) fixFramesAfterRebalance(sib *node, from, to, dir int) {
	var next *frame
	for f := n.frames; f != nil; f = next {
		next = f.nextCousin
		if f.pos < 0 {
			continue
		}
		abs := f.pos + pageVecStart(n.page)
		if abs < from || abs >= to {
			continue
		}
		var newPos int
		if dir < 0 {
			newPos = abs - from
		} else {
			newPos = abs - from
		}
		n.unbindFrame(f)
		f.node = sib
		f.pos = newPos
		sib.bindFrame(f)
		if f.parentFrame != nil {
			f.parentFrame.pos += 2 * dir
		}
	}
}
