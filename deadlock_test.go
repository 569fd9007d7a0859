package ldb

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestDeadlockDetectedOnAtLeastOneSide is §8 end-to-end scenario 4: A holds
// "a" and wants "b"; B holds "b" and wants "a". At least one side must come
// back with a DeadlockError once both waits time out rather than both
// silently reporting a plain timeout.
func TestDeadlockDetectedOnAtLeastOneSide(t *testing.T) {
	m := newTestLockManager(UpgradeStrict)
	a := NewLocker(m)
	b := NewLocker(m)
	a.SetTimeout(100 * time.Millisecond)
	b.SetTimeout(100 * time.Millisecond)

	_, err := a.LockExclusive(1, []byte("a"))
	require.NoError(t, err)
	_, err = b.LockExclusive(1, []byte("b"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	var aErr, bErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, aErr = a.LockExclusive(1, []byte("b"))
	}()
	go func() {
		defer wg.Done()
		_, bErr = b.LockExclusive(1, []byte("a"))
	}()
	wg.Wait()

	require.False(t, aErr == nil && bErr == nil, "at least one side must fail")

	deadlocks := 0
	for _, err := range []error{aErr, bErr} {
		if err == nil {
			continue
		}
		var de *DeadlockError
		if errorsAs(err, &de) {
			deadlocks++
		} else {
			require.ErrorIs(t, err, ErrLockTimeout)
		}
	}
	require.GreaterOrEqual(t, deadlocks, 1, "the detector should have found the cycle on at least one side")
}

func errorsAs(err error, target **DeadlockError) bool {
	de, ok := err.(*DeadlockError)
	if !ok {
		return false
	}
	*target = de
	return true
}

func TestDeadlockDetectorFindsNoCycleWhenNoneExists(t *testing.T) {
	m := newTestLockManager(UpgradeStrict)
	a := NewLocker(m)
	b := NewLocker(m)

	_, err := a.LockExclusive(1, []byte("x"))
	require.NoError(t, err)

	cycle, guilty := m.detector.search(b)
	require.Nil(t, cycle)
	require.Nil(t, guilty)
	_ = b
}
