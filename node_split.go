package ldb

// splitLeafAndCreateEntry implements §4.5's leaf split. It allocates an
// unevictable sibling, distributes the existing entries (plus the new one)
// between the two sides, and attaches a *split descriptor to n rather than
// inserting the separator into the parent itself — that step is the
// caller's (§4.5: "carrying ... enough state to locate the new entry").
func (n *node) splitLeafAndCreateEntry(tree *tree, pos int, key, value []byte, fragmented bool) error {
	sib, err := tree.cache.allocUnevictable()
	if err != nil {
		return err
	}
	pageInitEmpty(sib.page, typeLeaf)

	count := n.keyCount()

	switch {
	case pos == 0:
		// Descending-order load: only the new entry goes to the new left node.
		sib.appendLeafEntry(key, value, fragmented)
		sepKey := n.retrieveKey(0)
		n.split = &split{right: false, sib: sib, key: append([]byte(nil), sepKey...)}
		return nil
	case pos == count*2:
		// Ascending-order load: only the new entry goes to the new right node,
		// and its key, the right side's minimum, is the separator.
		sib.appendLeafEntry(key, value, fragmented)
		n.split = &split{right: true, sib: sib, key: append([]byte(nil), key...)}
		return nil
	}

	mid := count / 2
	newEntryOnSib := pos >= mid*2

	// Move the upper half to sib, then insert the new entry wherever it
	// now lands.
	moved := n.moveLeafEntriesTo(sib, pageVecStart(n.page)+mid*2, pageVecEnd(n.page)+2, false)
	_ = moved

	if newEntryOnSib {
		insPos := pos - mid*2
		if sib.insertLeafEntry(tree, insPos, key, value, fragmented) < 0 {
			return assertionFailed("split sibling has no room for new entry")
		}
	} else {
		if n.insertLeafEntry(tree, pos, key, value, fragmented) < 0 {
			return assertionFailed("split node has no room for new entry")
		}
	}

	sepKey := sib.retrieveKey(0)
	n.split = &split{right: true, sib: sib, key: append([]byte(nil), sepKey...), newEntryOnSib: newEntryOnSib}
	return nil
}

// finishSplit inserts the pending split's separator key (and child pointer,
// for an internal parent) into parent, then clears n's split descriptor.
// Caller holds exclusive latches on both n and parent.
func (n *node) finishSplit(tree *tree, parent *node, childPos int) error {
	s := n.split
	if s == nil {
		return nil
	}

	insPos := childPos
	newChild := s.sib
	if s.right {
		// sib takes over n's child slot and n is inserted in front of it,
		// so the new separator lands between n and sib.
		parent.setChildID(childPos, s.sib.id)
		parent.children[childPos/2] = s.sib
		newChild = n
	}

	if loc := parent.createInternalEntry(tree, insPos, len(s.key)); loc >= 0 {
		hdr := encodeKeyLen(parent.page[loc:], len(s.key))
		copy(parent.page[loc+hdr:], s.key)

		childIdx := insPos / 2
		parent.children = insertChild(parent.children, childIdx, nil)
		if s.right {
			parent.children[childIdx] = n
			parent.setChildID(insPos, n.id)
		} else {
			// sib takes over n's old slot; n shifts one slot to the right
			// (insertChild already moved it there).
			parent.children[childIdx] = s.sib
			parent.children[childIdx+1] = n
			parent.setChildID(insPos, s.sib.id)
			parent.setChildID(insPos+2, n.id)
		}
	} else if err := parent.splitInternalAndCreateEntry(tree, insPos, s.key, newChild.id, newChild); err != nil {
		return err
	}

	n.split = nil
	tree.cache.makeEvictable(s.sib)
	s.sib.mu.Unlock()
	return nil
}

// splitInternalAndCreateEntry implements §4.5's internal split: when parent
// has no room left to absorb a new separator in place, its existing keys
// and children are redistributed across n and a freshly allocated sibling,
// and the middle key of the merged (old keys + new key) sequence is
// promoted to n.split rather than stored in either side. With exactly two
// existing keys and a middle insert this is §8's "1-key root and two 1-key
// children whose separator equals the inserted key" case; the general rule
// subsumes it rather than needing a special case.
func (n *node) splitInternalAndCreateEntry(tree *tree, insPos int, key []byte, newChildID PageID, newChild *node) error {
	sib, err := tree.cache.allocUnevictable()
	if err != nil {
		return err
	}

	count := n.keyCount()
	insertIdx := insPos / 2

	keys := make([][]byte, count+1)
	childIDs := make([]PageID, count+2)
	children := make([]*node, count+2)

	for i := 0; i <= count; i++ {
		switch {
		case i < insertIdx:
			keys[i] = append([]byte(nil), n.retrieveKey(i*2)...)
		case i == insertIdx:
			keys[i] = key
		default:
			keys[i] = append([]byte(nil), n.retrieveKey((i-1)*2)...)
		}
	}
	for j := 0; j <= count+1; j++ {
		switch {
		case j < insertIdx:
			childIDs[j] = n.retrieveChildID(j * 2)
			if j < len(n.children) {
				children[j] = n.children[j]
			}
		case j == insertIdx:
			childIDs[j] = newChildID
			children[j] = newChild
		default:
			childIDs[j] = n.retrieveChildID((j - 1) * 2)
			if j-1 < len(n.children) {
				children[j] = n.children[j-1]
			}
		}
	}

	mid := (count + 1) / 2
	promoted := append([]byte(nil), keys[mid]...)

	leftKeys, rightKeys := keys[:mid], keys[mid+1:]
	leftChildIDs, rightChildIDs := childIDs[:mid+1], childIDs[mid+1:]
	leftChildren, rightChildren := children[:mid+1], children[mid+1:]

	leftScratch := tree.cache.borrowSpare(len(n.page))
	rightScratch := tree.cache.borrowSpare(len(sib.page))
	defer tree.cache.returnSpare(leftScratch)
	defer tree.cache.returnSpare(rightScratch)

	wasHighExtremity := n.page[0]&highExtremity != 0

	if !buildInternalPage(leftScratch, n.page, leftKeys, leftChildIDs) {
		return assertionFailed("internal split: left side does not fit after halving")
	}
	sibHeader := make([]byte, pageHeaderSize)
	sibHeader[0] = n.page[0] &^ (lowExtremity | highExtremity)
	if wasHighExtremity {
		sibHeader[0] |= highExtremity
	}
	if !buildInternalPage(rightScratch, sibHeader, rightKeys, rightChildIDs) {
		return assertionFailed("internal split: right side does not fit after halving")
	}

	copy(n.page, leftScratch)
	copy(sib.page, rightScratch)
	// n keeps whatever low-extremity bit it had; sib, as the new right side,
	// takes over high-extremity instead of n.
	n.page[0] &^= highExtremity
	n.loadExtremity()
	sib.loadExtremity()

	n.children = append([]*node(nil), leftChildren...)
	sib.children = append([]*node(nil), rightChildren...)

	n.split = &split{right: true, sib: sib, key: promoted}
	return nil
}

// buildInternalPage rewrites scratch in place as a fresh internal node page
// holding exactly keys/childIDs (len(childIDs) == len(keys)+1), copying
// template's 12-byte header for the type/extremity/reserved bits and
// overwriting the rest. Reports false rather than overlapping regions when
// the content doesn't fit in one page.
func buildInternalPage(scratch, template []byte, keys [][]byte, childIDs []PageID) bool {
	copy(scratch[:pageHeaderSize], template[:pageHeaderSize])

	leftTail := pageHeaderSize
	locs := make([]int, len(keys))
	for i, k := range keys {
		hdrLen := calculateKeyLength(len(k))
		if leftTail+hdrLen > len(scratch) {
			return false
		}
		eh := encodeKeyLen(scratch[leftTail:], len(k))
		copy(scratch[leftTail+eh:], k)
		locs[i] = leftTail
		leftTail += hdrLen
	}

	vecLen := len(keys) * 2
	newVecStart := len(scratch) - vecLen - len(childIDs)*8
	newVecStart &^= 1
	if newVecStart < leftTail {
		return false
	}

	for i, loc := range locs {
		off := newVecStart + i*2
		scratch[off] = byte(loc)
		scratch[off+1] = byte(loc >> 8)
	}

	childRegion := newVecStart + vecLen
	for i, id := range childIDs {
		off := childRegion + i*8
		v := uint64(id)
		for b := 0; b < 8; b++ {
			scratch[off+b] = byte(v)
			v >>= 8
		}
	}

	pageSetLeftTail(scratch, leftTail)
	pageSetRightTail(scratch, len(scratch))
	pageSetVecStart(scratch, newVecStart)
	if len(keys) == 0 {
		pageSetVecEnd(scratch, newVecStart-2)
	} else {
		pageSetVecEnd(scratch, newVecStart+vecLen-2)
	}
	pageSetGarbage(scratch, 0)
	return true
}

func insertChild(children []*node, idx int, v *node) []*node {
	children = append(children, nil)
	copy(children[idx+1:], children[idx:])
	children[idx] = v
	return children
}

// createInternalEntry inserts a new key at search-vector position pos and
// opens a matching 8-byte child-pointer slot at index pos/2, keeping the
// child-pointer array contiguous immediately after the vector per §3.
// Unlike the leaf path, an internal insert has to move two regions in
// lockstep (the vector and the packed child-id array right after it), so
// rather than extending createLeafEntry's in-place segment allocator to be
// aware of a second trailing region, this always rebuilds the node's
// key/vector/child-id area into a scratch buffer. Internal-node structural
// changes are far rarer than leaf ones (only on splits cascading upward),
// so the extra copy is cheap insurance against a much fiddlier in-place
// shift.
func (n *node) createInternalEntry(tree *tree, pos, keyLen int) int {
	encodedLen := calculateKeyLength(keyLen)
	page := n.page
	scratch := tree.cache.borrowSpare(len(page))
	defer tree.cache.returnSpare(scratch)

	copy(scratch[:pageHeaderSize], page[:pageHeaderSize])

	count := n.keyCount()
	insertIdx := pos / 2
	oldChildRegion := n.childIDRegionStart()

	leftTail := pageHeaderSize
	keyLocs := make([]int, count+1)
	for i := 0; i < count; i++ {
		loc := n.entryLoc(i * 2)
		klen, khdr := decodeKeyLen(page, loc)
		entryLen := khdr + klen
		dst := i
		if i >= insertIdx {
			dst = i + 1
		}
		copy(scratch[leftTail:], page[loc:loc+entryLen])
		keyLocs[dst] = leftTail
		leftTail += entryLen
	}
	newEntryLoc := leftTail
	leftTail += encodedLen
	keyLocs[insertIdx] = newEntryLoc

	vecLen := (count + 1) * 2
	newChildCount := count + 2
	newVecStart := len(scratch) - vecLen - newChildCount*8
	newVecStart &^= 1

	if newVecStart < leftTail {
		// Doesn't fit even after a full rebuild: caller must split n
		// instead of absorbing the new separator in place.
		return -1
	}

	for i := 0; i <= count; i++ {
		off := newVecStart + i*2
		scratch[off] = byte(keyLocs[i])
		scratch[off+1] = byte(keyLocs[i] >> 8)
	}

	newChildRegion := newVecStart + vecLen
	for i := 0; i < newChildCount; i++ {
		dst := newChildRegion + i*8
		if i == insertIdx {
			continue // caller fills this slot via setChildID
		}
		src := i
		if i > insertIdx {
			src = i - 1
		}
		copy(scratch[dst:dst+8], page[oldChildRegion+src*8:oldChildRegion+src*8+8])
	}

	pageSetLeftTail(scratch, leftTail)
	pageSetRightTail(scratch, len(scratch))
	pageSetVecStart(scratch, newVecStart)
	pageSetVecEnd(scratch, newVecStart+vecLen-2)
	pageSetGarbage(scratch, 0)

	copy(page, scratch)
	return newEntryLoc
}

// finishSplitRoot implements §4.5's root split: the old root's contents
// move into a freshly allocated dirty node, and the root page is rewritten
// as a single-key internal node whose two children are the split's two
// sides.
func (n *node) finishSplitRoot(tree *tree) error {
	s := n.split
	if s == nil {
		return nil
	}

	oldRoot, err := tree.cache.allocUnevictable()
	if err != nil {
		return err
	}
	oldRoot.page, n.page = n.page, oldRoot.page
	oldRoot.children, n.children = n.children, nil
	oldRoot.childIDs, n.childIDs = n.childIDs, nil
	oldRoot.frames, n.frames = n.frames, nil
	oldRoot.loadExtremity()

	nodeType := typeBottomInternal
	if oldRoot.isInternal() {
		nodeType = typeInternal
	}
	pageInitEmpty(n.page, nodeType)

	var left, right *node
	if s.right {
		left, right = oldRoot, s.sib
	} else {
		left, right = s.sib, oldRoot
	}

	loc := n.createInternalEntry(tree, 0, len(s.key))
	hdr := encodeKeyLen(n.page[loc:], len(s.key))
	copy(n.page[loc+hdr:], s.key)

	n.children = []*node{left, right}
	n.setChildID(0, left.id)
	n.setChildID(2, right.id)

	for f := oldRoot.frames; f != nil; f = f.nextCousin {
		f.node = oldRoot
	}
	for f := n.frames; f != nil; f = f.nextCousin {
		f.node = n
	}

	n.split = nil
	tree.cache.makeEvictable(oldRoot)
	tree.cache.makeEvictable(s.sib)
	oldRoot.mu.Unlock()
	s.sib.mu.Unlock()
	return nil
}
