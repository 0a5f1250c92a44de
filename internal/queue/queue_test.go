package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmate-io/flowmate/internal/store"
	"github.com/flowmate-io/flowmate/pkg/schema"
)

func TestQueue_SubmitBeforeStart(t *testing.T) {
	q := New(store.NewMemoryStore(), func(context.Context, Invocation) error { return nil },
		Config{}, slog.Default())

	_, err := q.Submit(context.Background(), Invocation{WorkflowID: "wf-1"})
	require.Error(t, err)

	flowErr, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeQueueUnavailable, flowErr.Code)
}

func TestQueue_SubmitExecutesAndMarksDone(t *testing.T) {
	mem := store.NewMemoryStore()
	var executed atomic.Int64
	var mu sync.Mutex
	var got Invocation

	q := New(mem, func(_ context.Context, inv Invocation) error {
		mu.Lock()
		got = inv
		mu.Unlock()
		executed.Add(1)
		return nil
	}, Config{Concurrency: 2}, slog.Default())

	require.NoError(t, q.Start(context.Background()))
	defer q.Shutdown()

	id, err := q.Submit(context.Background(), Invocation{
		WorkflowID:  "wf-1",
		UserID:      "user-1",
		TriggerType: schema.TriggerSchedule,
		Payload:     map[string]any{"scheduled_for": "soon"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool { return executed.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, "wf-1", got.WorkflowID)
	assert.Equal(t, schema.TriggerSchedule, got.TriggerType)
	mu.Unlock()

	require.Eventually(t, func() bool {
		items, err := mem.ListQueueItems(context.Background(),
			store.QueueFilter{Statuses: []store.QueueItemStatus{store.QueueItemDone}})
		return err == nil && len(items) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestQueue_FailedExecutionMarksFailed(t *testing.T) {
	mem := store.NewMemoryStore()
	q := New(mem, func(context.Context, Invocation) error {
		return schema.NewError(schema.ErrCodeCapabilityFailed, "boom")
	}, Config{}, slog.Default())

	require.NoError(t, q.Start(context.Background()))
	defer q.Shutdown()

	_, err := q.Submit(context.Background(), Invocation{WorkflowID: "wf-1"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		items, err := mem.ListQueueItems(context.Background(),
			store.QueueFilter{Statuses: []store.QueueItemStatus{store.QueueItemFailed}})
		return err == nil && len(items) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestQueue_BacklogOverflowAbandonsPersistedItem(t *testing.T) {
	mem := store.NewMemoryStore()
	ctx := context.Background()
	release := make(chan struct{})

	q := New(mem, func(context.Context, Invocation) error {
		<-release
		return nil
	}, Config{Concurrency: 1, Backlog: 1}, slog.Default())

	require.NoError(t, q.Start(ctx))

	// Saturate the pool and the backlog until a submission is rejected.
	// Distinct workflow ids let us find the rejected item afterwards.
	var rejected string
	for i := 0; i < 16; i++ {
		wfID := fmt.Sprintf("wf-%d", i)
		_, err := q.Submit(ctx, Invocation{WorkflowID: wfID})
		if err != nil {
			flowErr, ok := err.(*schema.FlowError)
			require.True(t, ok)
			require.Equal(t, schema.ErrCodeQueueUnavailable, flowErr.Code)
			rejected = wfID
			break
		}
	}
	require.NotEmpty(t, rejected, "backlog never filled")

	// The rejected invocation runs synchronously at the caller, so its
	// persisted item must not be left pending: a restart would recover it
	// and run the same trigger twice.
	items, err := mem.ListQueueItems(ctx, store.QueueFilter{WorkflowID: rejected})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, store.QueueItemFailed, items[0].Status)

	close(release)
	q.Shutdown()

	// Nothing recoverable may survive: a fresh queue over the same store
	// must find no work.
	leftovers, err := mem.ListQueueItems(ctx, store.QueueFilter{
		Statuses: []store.QueueItemStatus{store.QueueItemPending, store.QueueItemRunning},
	})
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestQueue_RecoversPendingItemsOnStart(t *testing.T) {
	mem := store.NewMemoryStore()
	ctx := context.Background()

	// A previous process persisted items it never finished.
	require.NoError(t, mem.EnqueueItem(ctx, &store.QueueItem{
		ID: "q1", WorkflowID: "wf-1", TriggerType: schema.TriggerManual,
	}))
	require.NoError(t, mem.EnqueueItem(ctx, &store.QueueItem{
		ID: "q2", WorkflowID: "wf-2", TriggerType: schema.TriggerManual,
		Status: store.QueueItemRunning,
	}))

	var executed atomic.Int64
	q := New(mem, func(context.Context, Invocation) error {
		executed.Add(1)
		return nil
	}, Config{}, slog.Default())

	require.NoError(t, q.Start(ctx))
	defer q.Shutdown()

	require.Eventually(t, func() bool { return executed.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestQueue_ConcurrencyCeiling(t *testing.T) {
	mem := store.NewMemoryStore()
	var active, maxActive int64
	release := make(chan struct{})

	q := New(mem, func(context.Context, Invocation) error {
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
	}, Config{Concurrency: 2}, slog.Default())

	require.NoError(t, q.Start(context.Background()))

	for i := 0; i < 5; i++ {
		_, err := q.Submit(context.Background(), Invocation{WorkflowID: "wf"})
		require.NoError(t, err)
	}

	time.Sleep(150 * time.Millisecond)
	close(release)
	q.Shutdown()

	assert.LessOrEqual(t, atomic.LoadInt64(&maxActive), int64(2))
	assert.EqualValues(t, 5, q.Metrics().Completed)
}

func TestQueue_ShutdownStopsSubmissions(t *testing.T) {
	q := New(store.NewMemoryStore(), func(context.Context, Invocation) error { return nil },
		Config{}, slog.Default())
	require.NoError(t, q.Start(context.Background()))
	q.Shutdown()

	_, err := q.Submit(context.Background(), Invocation{WorkflowID: "wf-1"})
	require.Error(t, err)
}
