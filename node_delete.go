package ldb

// deleteLeafEntry removes the search-vector slot at pos, shifting whichever
// half of the vector is shorter, and accounts the freed bytes as garbage.
// Used by rollback and checkpoint compaction (§4.8).
func (n *node) deleteLeafEntry(pos int) {
	page := n.page
	searchVecStart := pageVecStart(page)
	entryLoc := n.entryLoc(pos)
	entryLen := leafEntryLengthAtLoc(page, entryLoc)

	pageSetGarbage(page, pageGarbage(page)+entryLen)

	searchVecEnd := pageVecEnd(page)
	if pos < ((searchVecEnd - searchVecStart + 2) >> 1) {
		copy(page[searchVecStart+2:searchVecStart+2+pos], page[searchVecStart:searchVecStart+pos])
		pageSetVecStart(page, searchVecStart+2)
	} else {
		abs := pos + searchVecStart
		copy(page[abs:], page[abs+2:searchVecEnd+2])
		pageSetVecEnd(page, searchVecEnd-2)
	}
}

// deleteLeafEntryRange deletes every slot in [from,to), a 2-based half-open
// range of byte offsets from vecStart, used after moveLeafEntriesTo has
// copied the entries elsewhere.
func (n *node) deleteLeafEntryRange(from, to int) {
	for i := to - 2; i >= from; i -= 2 {
		n.deleteLeafEntry(i)
	}
}

// ghostLeafEntry implements transactional delete (§4.8): the value header
// becomes the ghost sentinel rather than the slot being removed, so an
// uncommitted rollback can still restore the original bytes via the undo
// log the caller is responsible for writing first.
func (n *node) ghostLeafEntry(pos int) {
	page := n.page
	loc := n.entryLoc(pos)
	klen, khdr := decodeKeyLen(page, loc)
	vloc := loc + khdr + klen
	vlen, vhdr, _, _ := decodeValueLen(page, vloc)

	page[vloc] = ghostHeader
	pageSetGarbage(page, pageGarbage(page)+vhdr+vlen-1)
}

// deleteChildRef removes a separator key and its adjacent child pointer
// from an internal node, choosing whichever shift (key region vs child-id
// region) moves fewer bytes, per §4.8.
func (n *node) deleteChildRef(childPos int) {
	for f := n.frames; f != nil; f = f.nextCousin {
		if f.pos >= childPos {
			f.pos -= 2
		}
	}

	page := n.page
	keyPos := childPos
	if childPos != 0 {
		keyPos = childPos - 2
	}
	searchVecStart := pageVecStart(page)

	entryLoc := n.entryLoc(keyPos)
	klen, khdr := decodeKeyLen(page, entryLoc)
	pageSetGarbage(page, pageGarbage(page)+khdr+klen)

	idx := childPos / 2
	n.children = append(n.children[:idx], n.children[idx+1:]...)

	childIDRegion := n.childIDRegionStart()
	searchVecEnd := pageVecEnd(page)

	left := (3*(searchVecEnd-searchVecStart) + keyPos + 8) / 2
	if idx*8 < left {
		copy(page[searchVecStart+keyPos+10:], page[searchVecStart+keyPos+2:childIDRegion+idx*8+8])
		copy(page[searchVecStart+10:], page[searchVecStart:searchVecStart+keyPos])
		pageSetVecStart(page, searchVecStart+10)
		pageSetVecEnd(page, searchVecEnd+8)
	} else {
		copy(page[childIDRegion+idx*8:], page[childIDRegion+idx*8+8:])
		copy(page[searchVecStart+2:], page[searchVecStart:searchVecStart+keyPos])
		pageSetVecStart(page, searchVecStart+2)
	}
}

// rootDelete collapses a non-leaf root that has lost all keys, per §4.8:
// the sole child's content is swapped into the root node object and the
// orphan becomes a stub (id=1, clean) so cursors still bound to it remain
// coherent until they unbind naturally.
func (n *node) rootDelete(tree *tree) {
	child := n.children[0]

	stubPage := n.page
	stubFrames := n.frames

	n.page = child.page
	n.children = child.children
	n.childIDs = child.childIDs
	n.frames = child.frames
	n.loadExtremity()

	child.page = stubPage
	child.id = StubPage
	child.state = stateClean
	child.children = nil
	child.childIDs = nil
	child.frames = stubFrames
	pageInitEmpty(child.page, typeBottomInternal)

	child.children = []*node{n}
	child.setChildID(0, n.id)

	for f := n.frames; f != nil; f = f.nextCousin {
		f.node = n
	}
	for f := child.frames; f != nil; f = f.nextCousin {
		f.node = child
	}

	tree.addStub(child)
}

// updateInternalSeparator overwrites the separator key at slot childPos-2
// (or 0) in place when the new key is no longer than the old one; growth is
// handled by the caller going through createInternalEntry when needed. This
// is the common case rebalance exercises (§4.6 step 5).
func (n *node) updateInternalSeparator(keyPos int, newKey []byte) {
	page := n.page
	loc := n.entryLoc(keyPos)
	oldLen, oldHdr := decodeKeyLen(page, loc)
	newHdr := encodeKeyLen(page[loc:], len(newKey))
	copy(page[loc+newHdr:], newKey)
	if grown := (newHdr + len(newKey)) - (oldHdr + oldLen); grown != 0 {
		pageSetGarbage(page, pageGarbage(page)-grown)
	}
}
