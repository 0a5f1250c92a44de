package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_ConcurrencyCeiling(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Shutdown()

	var active, maxActive int64
	var wg sync.WaitGroup
	release := make(chan struct{})

	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pool.Submit(context.Background(), func(context.Context) error {
				n := atomic.AddInt64(&active, 1)
				for {
					m := atomic.LoadInt64(&maxActive)
					if n <= m || atomic.CompareAndSwapInt64(&maxActive, m, n) {
						break
					}
				}
				<-release
				atomic.AddInt64(&active, -1)
				return nil
			})
		}()
	}

	// Give submissions time to saturate the pool.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()
	pool.Wait()

	assert.LessOrEqual(t, atomic.LoadInt64(&maxActive), int64(2))
	assert.EqualValues(t, 6, pool.Metrics().Completed)
}

func TestWorkerPool_SubmitAfterShutdown(t *testing.T) {
	pool := NewWorkerPool(1)
	pool.Shutdown()

	err := pool.Submit(context.Background(), func(context.Context) error { return nil })
	require.ErrorIs(t, err, ErrPoolShutdown)
}

func TestWorkerPool_SubmitRespectsContext(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Shutdown()

	block := make(chan struct{})
	require.NoError(t, pool.Submit(context.Background(), func(context.Context) error {
		<-block
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pool.Submit(ctx, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(block)
	pool.Wait()
}

func TestWorkerPool_FailureMetrics(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Shutdown()

	require.NoError(t, pool.Submit(context.Background(), func(context.Context) error {
		return errors.New("boom")
	}))
	pool.Wait()

	m := pool.Metrics()
	assert.EqualValues(t, 1, m.Failed)
	assert.EqualValues(t, 0, m.Completed)
}

func TestWorkerPool_RecoversFromPanic(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Shutdown()

	require.NoError(t, pool.Submit(context.Background(), func(context.Context) error {
		panic("worker exploded")
	}))
	pool.Wait()

	m := pool.Metrics()
	assert.EqualValues(t, 1, m.Panics)

	// The slot was released; the pool still accepts work.
	require.NoError(t, pool.Submit(context.Background(), func(context.Context) error { return nil }))
	pool.Wait()
	assert.EqualValues(t, 1, pool.Metrics().Completed)
}
