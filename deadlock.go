package ldb

// deadlockDetector performs the depth-limited wait-for-graph cycle search
// §4.9 describes, run only after a lock wait times out so the common path
// stays cheap.
type deadlockDetector struct {
	manager   *LockManager
	maxDepth  int
}

const defaultDeadlockSearchDepth = 16

// search walks from locker through the lock it's waiting on to that lock's
// owner(s), looking for a path back to locker. Only owners are followed;
// lockers queued ahead in a lock's wait queue are not. On success it
// returns the cycle's locks with the caller itself as the guilty locker.
func (d *deadlockDetector) search(locker *Locker) (cycle []*Lock, guilty *Locker) {
	maxDepth := d.maxDepth
	if maxDepth == 0 {
		maxDepth = defaultDeadlockSearchDepth
	}

	visited := map[*Locker]bool{locker: true}
	var path []*Lock

	var walk func(l *Locker, depth int) bool
	walk = func(l *Locker, depth int) bool {
		if depth > maxDepth {
			return false
		}
		lock := l.waitingFor
		if lock == nil {
			return false
		}
		path = append(path, lock)

		lock.mu.Lock()
		owners := make([]*Locker, 0, len(lock.shared)+1)
		if lock.exclusive != nil {
			owners = append(owners, lock.exclusive)
		}
		for o := range lock.shared {
			owners = append(owners, o)
		}
		lock.mu.Unlock()

		for _, owner := range owners {
			if owner == locker {
				return true
			}
			if visited[owner] {
				continue
			}
			visited[owner] = true
			if walk(owner, depth+1) {
				return true
			}
		}
		path = path[:len(path)-1]
		return false
	}

	if walk(locker, 0) {
		return path, locker
	}
	return nil, nil
}
