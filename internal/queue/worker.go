package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrPoolShutdown is returned when work is submitted to a shut-down pool.
var ErrPoolShutdown = errors.New("worker pool is shut down")

// PoolMetrics is a snapshot of the pool's counters.
type PoolMetrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// WorkerPool bounds the number of concurrently executing runs. Slots are a
// buffered channel; Submit blocks while all slots are taken, which is the
// backpressure the queue's feed loop relies on.
type WorkerPool struct {
	slots chan struct{}
	done  chan struct{}

	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	panics    atomic.Int64

	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

// NewWorkerPool creates a pool with the given concurrency ceiling.
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{
		slots: make(chan struct{}, size),
		done:  make(chan struct{}),
	}
}

// Submit acquires a slot and runs fn on its own goroutine. It blocks while
// the pool is saturated, honoring ctx cancellation and shutdown while
// waiting. A panic in fn is recovered and counted; it never takes the
// process down.
func (p *WorkerPool) Submit(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.isClosed() {
		return ErrPoolShutdown
	}

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPoolShutdown
	}

	// Shutdown may have won the race while we waited for a slot. The
	// wg.Add must happen under the lock so Shutdown's wg.Wait cannot miss
	// this worker.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.slots
		return ErrPoolShutdown
	}
	p.wg.Add(1)
	p.mu.Unlock()

	p.active.Add(1)
	go p.run(ctx, fn)
	return nil
}

func (p *WorkerPool) run(ctx context.Context, fn func(ctx context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.failed.Add(1)
		}
		p.active.Add(-1)
		<-p.slots
		p.wg.Done()
	}()

	if err := fn(ctx); err != nil {
		p.failed.Add(1)
	} else {
		p.completed.Add(1)
	}
}

// Wait blocks until every submitted run has finished.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

// Shutdown rejects further submissions and waits for in-flight runs.
// Idempotent.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
}

// Metrics returns a snapshot of the pool counters.
func (p *WorkerPool) Metrics() PoolMetrics {
	return PoolMetrics{
		Active:    p.active.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Panics:    p.panics.Load(),
	}
}

func (p *WorkerPool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
