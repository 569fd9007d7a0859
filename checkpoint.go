package ldb

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// checkpointer flips the cache's dirty generation and writes the captured
// generation's pages out, adapted from the teacher's group-commit Batcher:
// the same "callers request a flush, one goroutine drives it, everyone
// waits on the same result" shape, but fanning the actual page writes
// across a worker pool instead of a single synchronous sync call.
type checkpointer struct {
	db *DB

	mu      sync.Mutex
	cond    *sync.Cond
	running bool
	err     error

	workers int
}

func newCheckpointer(db *DB, workers int) *checkpointer {
	if workers <= 0 {
		workers = 4
	}
	c := &checkpointer{db: db, workers: workers}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Run captures a checkpoint: flips the dirty generation, writes every page
// that was dirty in the old generation, and syncs. Concurrent callers join
// the in-flight checkpoint rather than starting a second one.
func (c *checkpointer) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		for c.running {
			c.cond.Wait()
		}
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.running = true
	c.mu.Unlock()

	err := c.runOnce(ctx)

	c.mu.Lock()
	c.running = false
	c.err = err
	c.cond.Broadcast()
	c.mu.Unlock()

	return err
}

func (c *checkpointer) runOnce(ctx context.Context) error {
	dirty := c.db.cache.flipDirtyGeneration()
	if len(dirty) == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	for _, n := range dirty {
		n := n
		g.Go(func() error {
			n.mu.Lock()
			page := append([]byte(nil), n.page...)
			id := n.id
			n.mu.Unlock()

			c.db.cache.mu.Lock()
			c.db.cache.unlinkDirty(n)
			n.state = stateClean
			c.db.cache.mu.Unlock()

			if err := c.db.store.WritePage(id, page); err != nil {
				return wrapIO("checkpoint write", id, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return c.db.store.Sync(true)
}
