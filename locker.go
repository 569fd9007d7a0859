package ldb

import "time"

const (
	firstBlockCapacity   = 8
	highestBlockCapacity = 64
)

// lockEntry is one push onto a Locker's stack: the lock plus whether this
// entry is a promotion (upgrade) of an already-held lock rather than a
// fresh acquisition.
type lockEntry struct {
	lock    *Lock
	upgrade bool
}

// block is one segment of a Locker's lock stack, doubling in capacity up
// to highestBlockCapacity, per Locker's documented shape in §3/§4.10.
type block struct {
	entries []lockEntry
	prev    *block
}

func newBlock(capacity int) *block {
	return &block{entries: make([]lockEntry, 0, capacity)}
}

func (b *block) push(e lockEntry) *block {
	if len(b.entries) < cap(b.entries) {
		b.entries = append(b.entries, e)
		return b
	}
	next := cap(b.entries) * 2
	if next > highestBlockCapacity {
		next = highestBlockCapacity
	}
	nb := newBlock(next)
	nb.prev = b
	nb.entries = append(nb.entries, e)
	return nb
}

func (b *block) last() *lockEntry {
	if len(b.entries) == 0 {
		return nil
	}
	return &b.entries[len(b.entries)-1]
}

// pop drops the last entry and returns the block that should become the
// new tail: itself, unless it's now empty and chains to a previous block.
func (b *block) pop() (*block, bool) {
	if len(b.entries) == 0 {
		return b, false
	}
	b.entries = b.entries[:len(b.entries)-1]
	if len(b.entries) == 0 && b.prev != nil {
		return b.prev, true
	}
	return b, true
}

// parentScope is a nested savepoint: the tail block and its size at the
// time of scopeEnter, per §4.10.
type parentScope struct {
	parent       *parentScope
	tailBlock    *block
	tailBlockLen int
}

// Locker is a per-transaction scoped lock stack, per §3/§4.10. unlock() and
// unlockToShared() intentionally do not verify they stay within the current
// scope — see DESIGN.md's Open Questions; this mirrors the source's own
// documented caveat rather than tightening it.
type Locker struct {
	manager *LockManager

	tail  *block
	scope *parentScope

	waitingFor *Lock

	timeout time.Duration
}

func NewLocker(m *LockManager) *Locker {
	return &Locker{manager: m, tail: newBlock(firstBlockCapacity)}
}

// SetTimeout sets the wait duration subsequent lock calls block for.
// Negative means infinite, zero means try-only, matching §4.9.
func (l *Locker) SetTimeout(d time.Duration) { l.timeout = d }

func (l *Locker) push(lock *Lock, mode LockMode, upgrade bool) {
	l.tail = l.tail.push(lockEntry{lock: lock, upgrade: upgrade})
}

// LockShared acquires a shared lock on (indexId, key), blocking per l's
// configured timeout.
func (l *Locker) LockShared(indexID uint64, key []byte) (LockResult, error) {
	return l.lock(LockShared, indexID, key)
}

func (l *Locker) LockUpgradable(indexID uint64, key []byte) (LockResult, error) {
	return l.lock(LockUpgradable, indexID, key)
}

func (l *Locker) LockExclusive(indexID uint64, key []byte) (LockResult, error) {
	return l.lock(LockExclusive, indexID, key)
}

func (l *Locker) lock(mode LockMode, indexID uint64, key []byte) (LockResult, error) {
	r := l.manager.tryLock(mode, l, indexID, key, l.timeout)
	switch r {
	case ResultIllegal:
		return r, ErrIllegalUpgrade
	case ResultTimedOut:
		cycle, guilty := l.manager.detector.search(l)
		l.waitingFor = nil
		if cycle != nil {
			return r, &DeadlockError{Cycle: cycle, Guilty: guilty}
		}
		return r, ErrLockTimeout
	}
	return r, nil
}

// unlock releases the most recently pushed lock. Fails if it was a
// promotion rather than a fresh acquisition, per §4.10: "cannot discard a
// non-immediate upgrade".
func (l *Locker) unlock() error {
	e := l.tail.last()
	if e == nil {
		return ErrAlreadyUnlocked
	}
	if e.upgrade {
		return ErrNonImmediateUpgrade
	}
	l.manager.unlockLocked(e.lock, l)
	l.popLocked()
	return nil
}

// unlockToShared demotes the top lock to SHARED instead of releasing it.
func (l *Locker) unlockToShared() error {
	e := l.tail.last()
	if e == nil {
		return ErrAlreadyUnlocked
	}
	lock := e.lock
	lock.mu.Lock()
	if lock.exclusive == l {
		lock.exclusive = nil
		lock.shared[l] = struct{}{}
	}
	lock.mu.Unlock()
	e.upgrade = false
	return nil
}

// unlockToUpgradable demotes an owned-exclusive lock back to UPGRADABLE.
func (l *Locker) unlockToUpgradable() error {
	e := l.tail.last()
	if e == nil {
		return ErrAlreadyUnlocked
	}
	e.lock.mu.Lock()
	if e.lock.exclusive == l {
		e.lock.mode = LockUpgradable
	}
	e.lock.mu.Unlock()
	e.upgrade = false
	return nil
}

func (l *Locker) popLocked() {
	nb, _ := l.tail.pop()
	l.tail = nb
}

// scopeEnter pushes a nested savepoint recording the current stack depth.
func (l *Locker) scopeEnter() {
	l.scope = &parentScope{
		parent:       l.scope,
		tailBlock:    l.tail,
		tailBlockLen: len(l.tail.entries),
	}
}

// scopeExit releases every lock acquired since the matching scopeEnter,
// demoting an upgraded lock back to upgradable rather than releasing it
// entirely, per §4.10.
func (l *Locker) scopeExit() {
	s := l.scope
	if s == nil {
		return
	}
	l.unlockToSavepoint(s.tailBlock, s.tailBlockLen)
	l.scope = s.parent
}

// scopeExitAll exits every open scope down to the root.
func (l *Locker) scopeExitAll() {
	for l.scope != nil {
		l.scopeExit()
	}
}

// scopeUnlockAll releases to the parent savepoint (or entirely, if there is
// no parent scope), without popping the scope itself.
func (l *Locker) scopeUnlockAll() {
	if l.scope == nil {
		l.unlockToSavepoint(nil, 0)
		return
	}
	l.unlockToSavepoint(l.scope.tailBlock, l.scope.tailBlockLen)
}

// promote merges the current scope into its parent: locks acquired in this
// scope are retained across the parent boundary rather than released.
func (l *Locker) promote() {
	if l.scope == nil {
		return
	}
	l.scope = l.scope.parent
}

func (l *Locker) unlockToSavepoint(target *block, targetLen int) {
	for {
		if l.tail == target && len(l.tail.entries) == targetLen {
			return
		}
		e := l.tail.last()
		if e == nil {
			if l.tail.prev == nil {
				return
			}
			l.tail = l.tail.prev
			continue
		}
		if e.upgrade {
			// The lock stays held, back in UPGRADABLE mode; only the
			// upgrade's own stack entry is dropped.
			e.lock.mu.Lock()
			e.lock.mode = LockUpgradable
			e.lock.mu.Unlock()
			l.popLocked()
			continue
		}
		l.manager.unlockLocked(e.lock, l)
		l.popLocked()
	}
}
