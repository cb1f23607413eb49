package pipeline

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

var (
	// ErrPoolFull is returned by [Pool.Submit] when every worker is busy and
	// the queue is full.
	ErrPoolFull = errors.New("pipeline: worker pool full")

	// ErrPoolClosed is returned by [Pool.Submit] after [Pool.Close].
	ErrPoolClosed = errors.New("pipeline: worker pool closed")
)

// Pool bounds the number of chunks processed at once across all sessions.
// At most workers tasks run concurrently and at most queue more wait for a
// worker; beyond that Submit fails fast instead of blocking the reader loop.
type Pool struct {
	workers *semaphore.Weighted
	slots   *semaphore.Weighted
	size    int
	queue   int

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool creates a Pool. Non-positive workers defaults to 8; negative queue
// is treated as zero.
func NewPool(workers, queue int) *Pool {
	if workers <= 0 {
		workers = 8
	}
	queue = max(queue, 0)
	return &Pool{
		workers: semaphore.NewWeighted(int64(workers)),
		slots:   semaphore.NewWeighted(int64(workers + queue)),
		size:    workers,
		queue:   queue,
	}
}

// Workers returns the concurrency bound.
func (p *Pool) Workers() int { return p.size }

// QueueSize returns the number of tasks that may wait for a worker.
func (p *Pool) QueueSize() int { return p.queue }

// Submit schedules fn. It returns without waiting for a worker. Once
// accepted, fn runs exactly once: if ctx is done before a worker frees up,
// fn is called with that done ctx outside the worker bound so it can release
// whatever it holds without doing the work.
func (p *Pool) Submit(ctx context.Context, fn func(ctx context.Context)) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	if !p.slots.TryAcquire(1) {
		p.mu.Unlock()
		return ErrPoolFull
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		defer p.slots.Release(1)
		if err := p.workers.Acquire(ctx, 1); err != nil {
			fn(ctx)
			return
		}
		defer p.workers.Release(1)
		fn(ctx)
	}()
	return nil
}

// Close rejects further submissions and waits for queued and running tasks.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}
