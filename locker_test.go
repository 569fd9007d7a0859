package ldb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLockerUnlockReleasesMostRecent(t *testing.T) {
	m := newTestLockManager(UpgradeStrict)
	l := NewLocker(m)

	_, err := l.LockExclusive(1, []byte("a"))
	require.NoError(t, err)
	_, err = l.LockExclusive(1, []byte("b"))
	require.NoError(t, err)

	require.NoError(t, l.unlock())

	// "a" is still held; re-locking it from another locker must block.
	other := NewLocker(m)
	other.SetTimeout(0)
	_, err = other.LockExclusive(1, []byte("a"))
	require.ErrorIs(t, err, ErrLockTimeout)

	// "b" was released; re-locking it from another locker must succeed.
	r, err := other.LockExclusive(1, []byte("b"))
	require.NoError(t, err)
	require.Equal(t, ResultAcquired, r)
}

func TestLockerUnlockOnEmptyStackFails(t *testing.T) {
	l := NewLocker(newTestLockManager(UpgradeStrict))
	require.ErrorIs(t, l.unlock(), ErrAlreadyUnlocked)
}

func TestLockerUnlockRejectsNonImmediateUpgrade(t *testing.T) {
	m := newTestLockManager(UpgradeUnchecked)
	l := NewLocker(m)

	_, err := l.LockShared(1, []byte("k"))
	require.NoError(t, err)
	_, err = l.LockExclusive(1, []byte("k")) // promotion, not a fresh acquisition
	require.NoError(t, err)

	require.ErrorIs(t, l.unlock(), ErrNonImmediateUpgrade)
}

func TestLockerUnlockToUpgradableThenUnlock(t *testing.T) {
	m := newTestLockManager(UpgradeUnchecked)
	l := NewLocker(m)

	_, err := l.LockShared(1, []byte("k"))
	require.NoError(t, err)
	_, err = l.LockExclusive(1, []byte("k"))
	require.NoError(t, err)

	require.NoError(t, l.unlockToUpgradable())
	require.NoError(t, l.unlock())
}

// TestScopeExitReleasesOnlyLocksTakenInScope is §8 invariant 6: the
// effective lock set after scopeExit/scopeUnlockAll equals the set held at
// scopeEnter.
func TestScopeExitReleasesOnlyLocksTakenInScope(t *testing.T) {
	m := newTestLockManager(UpgradeStrict)
	l := NewLocker(m)

	_, err := l.LockExclusive(1, []byte("outer"))
	require.NoError(t, err)

	l.scopeEnter()
	_, err = l.LockExclusive(1, []byte("inner-a"))
	require.NoError(t, err)
	_, err = l.LockExclusive(1, []byte("inner-b"))
	require.NoError(t, err)
	l.scopeExit()

	other := NewLocker(m)
	other.SetTimeout(0)

	// Locks taken inside the scope must be gone.
	r, err := other.LockExclusive(1, []byte("inner-a"))
	require.NoError(t, err)
	require.Equal(t, ResultAcquired, r)
	r, err = other.LockExclusive(1, []byte("inner-b"))
	require.NoError(t, err)
	require.Equal(t, ResultAcquired, r)

	// The lock held before scopeEnter must still be held by l.
	_, err = other.LockExclusive(1, []byte("outer"))
	require.ErrorIs(t, err, ErrLockTimeout)
}

func TestScopeUnlockAllWithNoParentReleasesEverything(t *testing.T) {
	m := newTestLockManager(UpgradeStrict)
	l := NewLocker(m)

	_, err := l.LockExclusive(1, []byte("a"))
	require.NoError(t, err)
	_, err = l.LockExclusive(1, []byte("b"))
	require.NoError(t, err)

	l.scopeUnlockAll()

	other := NewLocker(m)
	r, err := other.LockExclusive(1, []byte("a"))
	require.NoError(t, err)
	require.Equal(t, ResultAcquired, r)
	r, err = other.LockExclusive(1, []byte("b"))
	require.NoError(t, err)
	require.Equal(t, ResultAcquired, r)
}

// TestScopePromoteRetainsLocksAcrossParentBoundary verifies promote merges
// the current scope's locks into the parent rather than releasing them.
func TestScopePromoteRetainsLocksAcrossParentBoundary(t *testing.T) {
	m := newTestLockManager(UpgradeStrict)
	l := NewLocker(m)

	l.scopeEnter()
	_, err := l.LockExclusive(1, []byte("k"))
	require.NoError(t, err)
	l.promote()

	// Exiting the (now-absent) scope should be a no-op; the lock survives.
	l.scopeExitAll()

	other := NewLocker(m)
	other.SetTimeout(0)
	_, err = other.LockExclusive(1, []byte("k"))
	require.ErrorIs(t, err, ErrLockTimeout)
}

func TestBlockDoublesCapacityUpToCeiling(t *testing.T) {
	b := newBlock(firstBlockCapacity)
	require.Equal(t, firstBlockCapacity, cap(b.entries))

	for i := 0; i < firstBlockCapacity+1; i++ {
		b = b.push(lockEntry{})
	}
	require.Equal(t, 2*firstBlockCapacity, cap(b.entries), "block should have doubled once a push overflowed the full block")

	for cap(b.entries) < highestBlockCapacity {
		for i := 0; i < cap(b.entries); i++ {
			b = b.push(lockEntry{})
		}
	}
	prevCap := cap(b.entries)
	for i := 0; i < prevCap; i++ {
		b = b.push(lockEntry{})
	}
	require.Equal(t, highestBlockCapacity, cap(b.entries), "capacity must not grow past the ceiling")
}
