package ldb

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// LockMode is one of the three key-range lock modes named in §4.9.
type LockMode byte

const (
	LockShared LockMode = iota
	LockUpgradable
	LockExclusive
)

// LockResult is tryLock's result code, mirroring §4.9's table exactly.
type LockResult byte

const (
	ResultAcquired LockResult = iota
	ResultUpgraded
	ResultOwnedShared
	ResultOwnedUpgradable
	ResultOwnedExclusive
	ResultTimedOut
	ResultInterrupted
	ResultIllegal
)

// UpgradeRule configures when a held SHARED lock may be upgraded in place,
// per §4.9.
type UpgradeRule byte

const (
	UpgradeStrict UpgradeRule = iota
	UpgradeLenient
	UpgradeUnchecked
)

// Lock is the logical key-range semaphore shared by every locker waiting on
// or holding (indexId, key), per §3.
type Lock struct {
	mu sync.Mutex

	indexID  uint64
	key      []byte
	hash     uint64
	mode     LockMode
	exclusive *Locker
	shared    map[*Locker]struct{}

	waitersShared    []*waiter
	waitersUpgrade   []*waiter
	waitersExclusive []*waiter
}

type waiter struct {
	locker *Locker
	mode   LockMode
	ready  chan LockResult
}

// lockPartition is one latched shard of the lock table, per §4.9: a
// hashed, open-addressed-in-spirit (map-backed here) table of Locks.
type lockPartition struct {
	mu    sync.Mutex
	locks map[uint64]*Lock
}

// LockManager owns a fixed set of partitions hashed by (indexId, key), per
// §4.9, plus the configured upgrade rule and deadlock detector.
type LockManager struct {
	partitions  []*lockPartition
	upgradeRule UpgradeRule
	detector    *deadlockDetector
}

func NewLockManager(partitionCount int, rule UpgradeRule) *LockManager {
	if partitionCount <= 0 {
		partitionCount = 16
	}
	m := &LockManager{
		partitions:  make([]*lockPartition, partitionCount),
		upgradeRule: rule,
	}
	for i := range m.partitions {
		m.partitions[i] = &lockPartition{locks: make(map[uint64]*Lock)}
	}
	m.detector = &deadlockDetector{manager: m}
	return m
}

// hashKey scrambles indexId and key per §4.9's "scramble of indexId ×
// 0x9E3779B1 xor murmur-ish mix of key bytes".
func hashKey(indexID uint64, key []byte) uint64 {
	h := indexID * 0x9E3779B1
	return h ^ xxhash.Sum64(key)
}

func (m *LockManager) partitionFor(hash uint64) *lockPartition {
	return m.partitions[hash%uint64(len(m.partitions))]
}

// tryLock implements §4.9's state machine and wait protocol. A negative
// timeout blocks indefinitely; zero tries once without waiting.
func (m *LockManager) tryLock(mode LockMode, locker *Locker, indexID uint64, key []byte, timeout time.Duration) LockResult {
	hash := hashKey(indexID, key)
	part := m.partitionFor(hash)

	part.mu.Lock()
	lock, ok := part.locks[hash]
	if !ok {
		lock = &Lock{indexID: indexID, key: key, hash: hash, shared: map[*Locker]struct{}{}}
		part.locks[hash] = lock
	}
	part.mu.Unlock()

	lock.mu.Lock()

	result, wait := m.evaluateLocked(lock, mode, locker)
	if !wait {
		lock.mu.Unlock()
		if result == ResultAcquired || result == ResultUpgraded {
			locker.push(lock, mode, result == ResultUpgraded)
		}
		return result
	}

	w := &waiter{locker: locker, mode: mode, ready: make(chan LockResult, 1)}
	switch mode {
	case LockShared:
		lock.waitersShared = append(lock.waitersShared, w)
	case LockUpgradable:
		lock.waitersUpgrade = append(lock.waitersUpgrade, w)
	case LockExclusive:
		lock.waitersExclusive = append(lock.waitersExclusive, w)
	}
	locker.waitingFor = lock
	lock.mu.Unlock()

	if timeout == 0 {
		m.cancelWait(lock, w)
		return ResultTimedOut
	}

	var timer *time.Timer
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		timeoutCh = timer.C
		defer timer.Stop()
	}

	select {
	case r := <-w.ready:
		locker.waitingFor = nil
		if r == ResultAcquired || r == ResultUpgraded {
			locker.push(lock, mode, r == ResultUpgraded)
		}
		return r
	case <-timeoutCh:
		m.cancelWait(lock, w)
		// locker.waitingFor is left set so the caller's own detector
		// search (Locker.lock) can still walk it; clearing it here would
		// make every search find an empty wait-for edge.
		return ResultTimedOut
	}
}

// evaluateLocked applies §4.9's mode table while holding lock's mutex.
// Returns wait=true when the request must queue.
func (m *LockManager) evaluateLocked(lock *Lock, mode LockMode, locker *Locker) (LockResult, bool) {
	if lock.exclusive == locker {
		return ResultOwnedExclusive, false
	}
	if _, owns := lock.shared[locker]; owns && mode == LockShared {
		return ResultOwnedShared, false
	}

	switch {
	case lock.exclusive == nil && len(lock.shared) == 0:
		m.grantLocked(lock, mode, locker)
		return ResultAcquired, false

	case mode == LockShared:
		if lock.exclusive != nil {
			return ResultIllegal, true // queue; exclusive holder must finish first
		}
		m.grantLocked(lock, mode, locker)
		return ResultAcquired, false

	case mode == LockUpgradable:
		if lock.exclusive != nil {
			return ResultIllegal, true
		}
		// SHARED -> UPGRADABLE is illegal per §4.9's table unless
		// canAttemptUpgrade allows it under the configured rule.
		if _, owns := lock.shared[locker]; owns {
			if !m.canAttemptUpgrade(lock, locker) {
				return ResultIllegal, false
			}
			delete(lock.shared, locker)
			m.grantLocked(lock, mode, locker)
			return ResultUpgraded, false
		}
		m.grantLocked(lock, mode, locker)
		return ResultAcquired, false

	default: // LockExclusive
		if lock.exclusive == locker {
			return ResultOwnedExclusive, false
		}
		if _, owns := lock.shared[locker]; owns {
			if !m.canAttemptUpgrade(lock, locker) {
				return ResultIllegal, false
			}
			delete(lock.shared, locker)
			m.grantLocked(lock, mode, locker)
			return ResultUpgraded, false
		}
		if lock.exclusive != nil || len(lock.shared) > 0 {
			return ResultTimedOut, true
		}
		m.grantLocked(lock, mode, locker)
		return ResultAcquired, false
	}
}

// canAttemptUpgrade implements the three upgrade rules §4.9 names.
func (m *LockManager) canAttemptUpgrade(lock *Lock, locker *Locker) bool {
	switch m.upgradeRule {
	case UpgradeUnchecked:
		return true
	case UpgradeLenient:
		return len(lock.shared) == 1
	default:
		return false
	}
}

func (m *LockManager) grantLocked(lock *Lock, mode LockMode, locker *Locker) {
	switch mode {
	case LockShared:
		lock.shared[locker] = struct{}{}
	case LockUpgradable, LockExclusive:
		lock.exclusive = locker
	}
	lock.mode = mode
}

func (m *LockManager) cancelWait(lock *Lock, w *waiter) {
	lock.mu.Lock()
	defer lock.mu.Unlock()
	remove := func(ws []*waiter) []*waiter {
		for i, x := range ws {
			if x == w {
				return append(ws[:i], ws[i+1:]...)
			}
		}
		return ws
	}
	lock.waitersShared = remove(lock.waitersShared)
	lock.waitersUpgrade = remove(lock.waitersUpgrade)
	lock.waitersExclusive = remove(lock.waitersExclusive)
}

// unlockLocked releases locker's hold on lock and wakes the next eligible
// waiter, favoring exclusive waiters over shared ones so they cannot starve
// (§4.9).
func (m *LockManager) unlockLocked(lock *Lock, locker *Locker) {
	lock.mu.Lock()
	defer lock.mu.Unlock()
	if lock.exclusive == locker {
		lock.exclusive = nil
	}
	delete(lock.shared, locker)

	if lock.exclusive != nil || len(lock.shared) > 0 {
		return
	}

	if len(lock.waitersExclusive) > 0 {
		w := lock.waitersExclusive[0]
		lock.waitersExclusive = lock.waitersExclusive[1:]
		m.grantLocked(lock, LockExclusive, w.locker)
		w.ready <- ResultAcquired
		return
	}
	if len(lock.waitersUpgrade) > 0 {
		w := lock.waitersUpgrade[0]
		lock.waitersUpgrade = lock.waitersUpgrade[1:]
		m.grantLocked(lock, LockUpgradable, w.locker)
		w.ready <- ResultAcquired
	}
	for _, w := range lock.waitersShared {
		m.grantLocked(lock, LockShared, w.locker)
		w.ready <- ResultAcquired
	}
	lock.waitersShared = nil
}
