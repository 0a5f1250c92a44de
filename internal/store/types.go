package store

import (
	"time"

	"github.com/flowmate-io/flowmate/pkg/schema"
)

// WorkflowUpdate is a partial update applied to a workflow row.
// Nil fields are left untouched.
type WorkflowUpdate struct {
	Name    *string
	Status  *schema.WorkflowStatus
	Trigger *schema.Trigger
	Steps   []*schema.Step
}

// WorkflowFilter narrows ListWorkflows.
type WorkflowFilter struct {
	Status      *schema.WorkflowStatus
	TriggerType *schema.TriggerType
	OwnerID     string
	Limit       int
	Offset      int
}

// RunUpdate carries the terminal transition of a run. Status must be
// success or error.
type RunUpdate struct {
	Status       schema.RunStatus
	Output       any
	ErrorMessage string
	ErrorStepID  string
	CompletedAt  time.Time
	DurationMs   int64
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	WorkflowID string
	UserID     string
	Status     *schema.RunStatus
	Since      *time.Time
	Limit      int
	Offset     int
}

// Rollup is the per-workflow summary refreshed after a terminal run
// transition. RunID keys the write: recording the same run twice is a
// no-op, so retried rollups cannot double-count.
type Rollup struct {
	RunID  string
	At     time.Time
	Status schema.RunStatus
}

// QueueItemStatus is the lifecycle state of a queued invocation.
type QueueItemStatus string

const (
	QueueItemPending QueueItemStatus = "pending"
	QueueItemRunning QueueItemStatus = "running"
	QueueItemDone    QueueItemStatus = "done"
	QueueItemFailed  QueueItemStatus = "failed"
)

// QueueItem is a durable pending invocation. Items are persisted before
// the worker pool picks them up, so a restart re-enqueues anything still
// pending or in flight.
type QueueItem struct {
	ID          string
	WorkflowID  string
	UserID      string
	TriggerType schema.TriggerType
	Payload     map[string]any
	Status      QueueItemStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// QueueFilter narrows ListQueueItems.
type QueueFilter struct {
	WorkflowID string
	Statuses   []QueueItemStatus
	Limit      int
}
