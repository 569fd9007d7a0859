package ldb

import "time"

// tree is a single named index: an independent B+ tree over the engine's
// shared store/cache, per §1. It is the thin outward surface the node/
// lock/cache machinery is exercised through; the full transaction object
// is an external collaborator per §1 — callers here get an implicit
// exclusive-lock-per-call transaction instead.
type tree struct {
	db    *DB
	name  string
	cache *nodeCache
	root  *node

	indexID uint64
}

func newTree(db *DB, name string) (*tree, error) {
	root, err := db.cache.allocNew()
	if err != nil {
		return nil, err
	}
	pageInitEmpty(root.page, typeLeaf)
	pageSetExtremity(root.page, true, true)
	root.unevictable = true
	root.mu.Unlock()

	t := &tree{
		db:      db,
		name:    name,
		cache:   db.cache,
		root:    root,
		indexID: stringHash(name),
	}
	return t, nil
}

func stringHash(s string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}

// IndexID returns the hashed identifier the lock manager and redo log use
// to name this index, per §4.9's (indexId, key) lock key.
func (t *tree) IndexID() uint64 { return t.indexID }

// Get implements the round-trip property §8 names: find(k) == v after
// insert, absent after delete. It takes a SHARED lock for the duration of
// the read: the lock is acquired before descending, so no node latch is
// held while blocking on the lock wait, and a lock this call acquired is
// released once the value has been copied out.
func (t *tree) Get(locker *Locker, key []byte) ([]byte, bool, error) {
	if err := t.db.checkPoisoned(); err != nil {
		return nil, false, err
	}
	r, err := locker.LockShared(t.indexID, key)
	if err != nil {
		return nil, false, err
	}
	if r == ResultAcquired {
		defer locker.unlock()
	}

	leaf, err := descend(t.cache, t.root, key)
	if err != nil {
		return nil, false, err
	}
	pos := leaf.binarySearch(key)
	var value []byte
	var found bool
	if pos >= 0 {
		v, _, ghost := leaf.retrieveLeafValue(pos)
		if !ghost {
			value, found = append([]byte(nil), v...), true
		}
	}
	leaf.mu.RUnlock()
	return value, found, nil
}

// Put implements insert/replace (§8's round-trip properties), splitting or
// rebalancing the leaf as needed.
func (t *tree) Put(locker *Locker, key, value []byte) error {
	if err := t.db.checkPoisoned(); err != nil {
		return err
	}
	if _, err := calculateKeyLengthChecked(key, t.db.opts.MaxKeySize); err != nil {
		return err
	}
	if _, err := locker.LockExclusive(t.indexID, key); err != nil {
		return err
	}

	return t.mutate(key, func(leaf *node, pos int) error {
		t.cache.markDirty(leaf)
		fragmented := len(key)+calculateLeafValueLength(len(value)) > t.db.opts.MaxEntrySize

		if pos >= 0 {
			if leaf.updateLeafValue(t, pos, value, fragmented) < 0 {
				return assertionFailed("updateLeafValue failed at pos %d", pos)
			}
			return nil
		}
		insPos := ^pos
		if leaf.insertLeafEntry(t, insPos, key, value, fragmented) >= 0 {
			return nil
		}
		return leaf.splitLeafAndCreateEntry(t, insPos, key, value, fragmented)
	})
}

// Delete implements transactional ghosting (§4.8): the slot is marked
// ghost rather than removed outright, matching the documented behavior
// that a ghost persists until the owning transaction's commit deletes it
// for real. Since this tree has no outward transaction object, the ghost
// is deleted immediately after the exclusive lock is confirmed held,
// mirroring the commit-time callback §4.8 describes.
func (t *tree) Delete(locker *Locker, key []byte) error {
	if err := t.db.checkPoisoned(); err != nil {
		return err
	}
	if _, err := locker.LockExclusive(t.indexID, key); err != nil {
		return err
	}

	return t.mutateDelete(key, func(leaf *node, pos int) error {
		if pos < 0 {
			return nil
		}
		t.cache.markDirty(leaf)
		leaf.ghostLeafEntry(pos)
		leaf.deleteLeafEntry(pos)
		return nil
	})
}

// descendExclusive latch-couples exclusively from the root down to key's
// leaf, returning every node latched along the way (root first, leaf last).
// On error every latch acquired so far has already been released.
func (t *tree) descendExclusive(key []byte) ([]*node, error) {
	t.root.mu.Lock()
	path := []*node{t.root}
	cur := t.root
	for !cur.isLeaf() {
		pos := cur.binarySearch(key)
		childPos := internalPos(pos)
		idx := childPos / 2
		if idx >= len(cur.children) || cur.children[idx] == nil {
			childID := cur.retrieveChildID(childPos)
			child, err := t.cache.fetch(childID)
			if err != nil {
				t.unwindLocked(path)
				return nil, err
			}
			if idx < len(cur.children) {
				cur.children[idx] = child
			}
			cur = child
		} else {
			cur = cur.children[idx]
		}
		cur.mu.Lock()
		path = append(path, cur)
	}
	return path, nil
}

// mutate latch-couples exclusively to key's leaf, runs fn with the leaf
// exclusively latched, finishes any split fn triggered by propagating the
// separator into the parent chain, and releases every latch it acquired.
func (t *tree) mutate(key []byte, fn func(leaf *node, pos int) error) error {
	path, err := t.descendExclusive(key)
	if err != nil {
		return err
	}
	cur := path[len(path)-1]

	pos := cur.binarySearch(key)
	err = fn(cur, pos)
	if err == nil && cur.split != nil {
		err = t.finishSplits(path)
	}

	t.unwindLocked(path)
	return err
}

// mutateDelete is mutate's counterpart for Delete: instead of finishing a
// split, it finishes a collapse, per §4.6/§4.8's root-collapse case.
func (t *tree) mutateDelete(key []byte, fn func(leaf *node, pos int) error) error {
	path, err := t.descendExclusive(key)
	if err != nil {
		return err
	}
	cur := path[len(path)-1]

	pos := cur.binarySearch(key)
	err = fn(cur, pos)
	if err == nil {
		err = t.finishDeletes(path)
	}

	t.unwindLocked(path)
	return err
}

func (t *tree) unwindLocked(path []*node) {
	for i := len(path) - 1; i >= 0; i-- {
		path[i].mu.Unlock()
	}
}

// finishSplits propagates pending split descriptors up path from the leaf,
// splitting parents in turn if a separator insert doesn't fit, and finally
// invokes finishSplitRoot if the split reached the root (§4.5).
func (t *tree) finishSplits(path []*node) error {
	for i := len(path) - 1; i >= 0; i-- {
		child := path[i]
		if child.split == nil {
			return nil
		}
		if child == t.root {
			return child.finishSplitRoot(t)
		}
		parent := path[i-1]

		childPos := -1
		for idx, c := range parent.children {
			if c == child {
				childPos = idx * 2
				break
			}
		}
		if childPos < 0 {
			return assertionFailed("split child not found in parent's child table")
		}
		if err := child.finishSplit(t, parent, childPos); err != nil {
			return err
		}
	}
	return nil
}

// finishDeletes mirrors finishSplits for the delete path: when the leaf a
// delete just ghosted/removed from has underflowed and its parent is the
// root with a single remaining child, the extra level of indirection is no
// longer earning its keep, so the root collapses into that child's content
// (§4.6/§4.8, node_delete.go's rootDelete). Deeper merges/rebalances are not
// attempted; a non-root underflow is left as-is.
func (t *tree) finishDeletes(path []*node) error {
	if len(path) < 2 {
		return nil
	}
	leaf := path[len(path)-1]
	if !leaf.mergeEligible() {
		return nil
	}
	parent := path[len(path)-2]
	if parent != t.root || parent.childCount() != 1 {
		return nil
	}
	parent.rootDelete(t)
	return nil
}

func (t *tree) addStub(stub *node) {
	// Stubs are clean and carry no children; nothing further to register
	// until the last bound frame unbinds and the cache evicts it.
	_ = stub
}

// defaultLockTimeout is used by lockers constructed without an explicit
// timeout.
func (db *DB) defaultLockTimeout() time.Duration {
	return time.Duration(db.opts.DefaultLockTimeoutMS) * time.Millisecond
}
