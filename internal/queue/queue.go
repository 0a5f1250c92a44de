// Package queue accepts workflow invocations, persists them, and executes
// them through a bounded worker pool. Durability comes from the store: a
// submitted item survives a restart and is recovered on startup.
package queue

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/flowmate-io/flowmate/internal/store"
	"github.com/flowmate-io/flowmate/pkg/schema"
)

const (
	// DefaultConcurrency is the system-wide ceiling on concurrent runs.
	DefaultConcurrency = 8
	// DefaultBacklog bounds the dispatch channel between Submit and the
	// worker pool.
	DefaultBacklog = 1024
)

// Invocation is a request to execute a workflow.
type Invocation struct {
	WorkflowID  string
	UserID      string
	TriggerType schema.TriggerType
	Payload     map[string]any
}

// Executor runs one invocation to completion. The queue treats a returned
// error as a failed item; run-level failures that were recorded normally
// should return nil.
type Executor func(ctx context.Context, inv Invocation) error

// Config tunes the queue.
type Config struct {
	Concurrency int
	Backlog     int
}

// Queue is a durable, concurrency-bounded run queue.
type Queue struct {
	store  store.Store
	exec   Executor
	pool   *WorkerPool
	logger *slog.Logger

	dispatch chan *store.QueueItem

	mu      sync.Mutex
	started bool
	stopped bool
	feedWG  sync.WaitGroup
}

// New creates a Queue. Call Start before submitting.
func New(s store.Store, exec Executor, config Config, logger *slog.Logger) *Queue {
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConcurrency
	}
	if config.Backlog <= 0 {
		config.Backlog = DefaultBacklog
	}
	return &Queue{
		store:    s,
		exec:     exec,
		pool:     NewWorkerPool(config.Concurrency),
		logger:   logger,
		dispatch: make(chan *store.QueueItem, config.Backlog),
	}
}

// Start launches the feed goroutine and recovers items left pending or
// in flight by a previous process.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return nil
	}
	q.started = true
	q.mu.Unlock()

	q.feedWG.Add(1)
	go q.feed()

	return q.recover(ctx)
}

// Shutdown stops accepting submissions and waits for in-flight runs.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	if q.stopped || !q.started {
		q.stopped = true
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.mu.Unlock()

	close(q.dispatch)
	q.feedWG.Wait()
	q.pool.Shutdown()
}

// Submit persists the invocation and hands it to the worker pool. The call
// returns once the item is durable; execution happens asynchronously under
// the concurrency ceiling. A QUEUE_UNAVAILABLE error tells the caller to
// fall back to synchronous invocation.
func (q *Queue) Submit(ctx context.Context, inv Invocation) (string, error) {
	q.mu.Lock()
	ready := q.started && !q.stopped
	q.mu.Unlock()
	if !ready {
		return "", schema.NewError(schema.ErrCodeQueueUnavailable, "queue is not running")
	}

	item := &store.QueueItem{
		ID:          uuid.New().String(),
		WorkflowID:  inv.WorkflowID,
		UserID:      inv.UserID,
		TriggerType: inv.TriggerType,
		Payload:     inv.Payload,
		Status:      store.QueueItemPending,
	}
	if err := q.store.EnqueueItem(ctx, item); err != nil {
		return "", schema.NewErrorf(schema.ErrCodeQueueUnavailable,
			"persist queue item: %s", err.Error()).WithCause(err)
	}

	select {
	case q.dispatch <- item:
		return item.ID, nil
	default:
		// The caller falls back to synchronous invocation on this error,
		// so the persisted item must not stay recoverable: a later
		// recovery would execute the same trigger a second time.
		if uerr := q.store.UpdateQueueItem(ctx, item.ID, store.QueueItemFailed); uerr != nil {
			q.logger.Error("abandon overflow queue item failed", "item_id", item.ID, "error", uerr)
		}
		return "", schema.NewError(schema.ErrCodeQueueUnavailable, "queue backlog is full")
	}
}

// Metrics exposes the underlying pool metrics.
func (q *Queue) Metrics() PoolMetrics {
	return q.pool.Metrics()
}

// recover re-enqueues items a previous process left pending or running.
func (q *Queue) recover(ctx context.Context) error {
	items, err := q.store.ListQueueItems(ctx, store.QueueFilter{
		Statuses: []store.QueueItemStatus{store.QueueItemPending, store.QueueItemRunning},
	})
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore,
			"recover queue items: %s", err.Error()).WithCause(err)
	}
	for _, item := range items {
		select {
		case q.dispatch <- item:
		default:
			q.logger.Warn("queue backlog full during recovery, item stays pending", "item_id", item.ID)
		}
	}
	if len(items) > 0 {
		q.logger.Info("recovered queued invocations", "count", len(items))
	}
	return nil
}

// feed moves items from the dispatch channel into the pool, blocking on
// the pool's concurrency ceiling.
func (q *Queue) feed() {
	defer q.feedWG.Done()
	for item := range q.dispatch {
		err := q.pool.Submit(context.Background(), func(ctx context.Context) error {
			return q.execute(ctx, item)
		})
		if err != nil {
			// Pool shut down mid-feed; the item stays pending for recovery.
			q.logger.Warn("queue item not dispatched", "item_id", item.ID, "error", err)
		}
	}
}

// execute runs one item through the executor, tracking its status in the
// store. Status writes are best-effort: a failed write leaves the item
// eligible for re-recovery, which re-runs the workflow rather than losing it.
func (q *Queue) execute(ctx context.Context, item *store.QueueItem) error {
	if err := q.store.UpdateQueueItem(ctx, item.ID, store.QueueItemRunning); err != nil {
		q.logger.Warn("mark queue item running failed", "item_id", item.ID, "error", err)
	}

	err := q.exec(ctx, Invocation{
		WorkflowID:  item.WorkflowID,
		UserID:      item.UserID,
		TriggerType: item.TriggerType,
		Payload:     item.Payload,
	})

	status := store.QueueItemDone
	if err != nil {
		status = store.QueueItemFailed
		q.logger.Error("queued invocation failed", "item_id", item.ID,
			"workflow_id", item.WorkflowID, "error", err)
	}
	if uerr := q.store.UpdateQueueItem(ctx, item.ID, status); uerr != nil {
		q.logger.Warn("mark queue item finished failed", "item_id", item.ID, "error", uerr)
	}
	return err
}
