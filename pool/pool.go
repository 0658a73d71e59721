// Package pool implements the fixed-size worker pool that runs flush
// and compaction jobs off the caller's goroutine: a condition-variable
// guarded FIFO queue feeding a fixed number of worker goroutines,
// coordinated for shutdown with golang.org/x/sync/errgroup.
package pool

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Task is a unit of work submitted to the pool.
type Task func(ctx context.Context)

// Pool runs Tasks on a fixed number of worker goroutines. Submit never
// blocks the caller on task execution; the queue has no capacity bound.
// Close stops accepting new tasks and waits for
// every already-queued task to finish (a graceful drain) before
// returning — it never discards queued work.
type Pool struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []Task
	closing  bool
	closed   bool

	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

// New starts a Pool with the given number of worker goroutines.
func New(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)

	p := &Pool{group: group, ctx: gctx, cancel: cancel}
	p.cond = sync.NewCond(&p.mu)

	for i := 0; i < workers; i++ {
		group.Go(func() error {
			p.worker()
			return nil
		})
	}
	return p
}

// Submit enqueues task to run on the next free worker. Submitting after
// Close has been called is a no-op — the caller is assumed to be
// racing shutdown and the task is simply dropped rather than panicking.
func (p *Pool) Submit(task Task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closing {
		return
	}
	p.queue = append(p.queue, task)
	p.cond.Signal()
}

// QueueLen reports how many tasks are waiting to start. Used by the
// engine/tuner to gauge backlog.
func (p *Pool) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Pool) worker() {
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closing {
			p.cond.Wait()
		}
		if len(p.queue) == 0 && p.closing {
			p.mu.Unlock()
			return
		}
		task := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		task(p.ctx)
	}
}

// Close stops accepting new tasks, lets every already-queued task run
// to completion, and waits for all workers to exit. Safe to call once;
// later calls are no-ops.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closing = true
	p.closed = true
	p.mu.Unlock()

	p.cond.Broadcast()
	_ = p.group.Wait()
	p.cancel()
}
