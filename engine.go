package ldb

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/nikandfor/tlog"
)

var tl *tlog.Logger // verbose structural tracing, gated by tl.V(topic)

// DB colocates the global mutable state Design Notes §9 calls for in one
// handle passed explicitly to every operation: the page store, node cache,
// lock manager, and the poison bit that "panic with latch held" becomes.
type DB struct {
	store      PageStore
	cache      *nodeCache
	locks      *LockManager
	opts       Options
	checkpoint *checkpointer

	poisoned atomic.Bool

	treesMu sync.Mutex
	trees   map[string]*tree
}

// Open constructs a DB over store, applying opts on top of the defaults.
func Open(store PageStore, opts ...Option) (*DB, error) {
	o, err := buildOptions(opts...)
	if err != nil {
		return nil, err
	}
	partitions := 1
	for partitions < o.LockPartitions {
		partitions <<= 1
	}
	db := &DB{
		store: store,
		cache: newNodeCache(store, o.CacheCapacity),
		locks: NewLockManager(partitions, o.LockUpgradeRule),
		opts:  o,
		trees: make(map[string]*tree),
	}
	db.checkpoint = newCheckpointer(db, o.CheckpointWorkers)
	return db, nil
}

// Checkpoint flushes every page dirtied since the last checkpoint to store,
// per §4.1's dirty-generation flip. Concurrent callers join the in-flight
// checkpoint rather than starting a second one.
func (db *DB) Checkpoint(ctx context.Context) error {
	if err := db.checkPoisoned(); err != nil {
		return err
	}
	return db.checkpoint.Run(ctx)
}

// poison sets the fatal bit: every entry point after this refuses further
// writes, per Design Notes §9's "panic with latch held" policy.
func (db *DB) poison() {
	db.poisoned.Store(true)
}

func (db *DB) checkPoisoned() error {
	if db.poisoned.Load() {
		return ErrPoisoned
	}
	return nil
}

// OpenTree opens (creating if absent) the named index as an independent
// B+ tree over db's shared store/cache/locks, per §1's "multiple named
// indexes... backed by a single page file".
func (db *DB) OpenTree(name string) (*tree, error) {
	if err := db.checkPoisoned(); err != nil {
		return nil, err
	}
	db.treesMu.Lock()
	defer db.treesMu.Unlock()
	if t, ok := db.trees[name]; ok {
		return t, nil
	}
	t, err := newTree(db, name)
	if err != nil {
		return nil, err
	}
	db.trees[name] = t
	return t, nil
}

// NewLocker returns a fresh per-transaction lock stack using db's
// configured default timeout.
func (db *DB) NewLocker() *Locker {
	l := NewLocker(db.locks)
	l.SetTimeout(db.defaultLockTimeout())
	return l
}

func (db *DB) Close() error {
	return db.store.Close()
}
