package store

import (
	"context"

	"github.com/flowmate-io/flowmate/pkg/schema"
)

// Store defines the persistence layer contract. This core is the sole
// writer of run-lifecycle fields; all mutations are single-row updates
// keyed by run or workflow id, so no cross-row transaction is required.
// All implementations must be safe for concurrent use.
type Store interface {
	// Workflows
	CreateWorkflow(ctx context.Context, wf *schema.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error)
	UpdateWorkflow(ctx context.Context, id string, update WorkflowUpdate) error
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*schema.Workflow, error)

	// Runs. A run row is written once at start and updated exactly once at
	// its terminal transition; FinishRun refuses to touch an already
	// finished run.
	CreateRun(ctx context.Context, run *schema.Run) error
	GetRun(ctx context.Context, id string) (*schema.Run, error)
	FinishRun(ctx context.Context, id string, update RunUpdate) error
	ListRuns(ctx context.Context, filter RunFilter) ([]*schema.Run, error)

	// RecordRunRollup refreshes the owning workflow's rollups after a
	// terminal run transition: increments runs_count and sets the
	// last-run fields.
	RecordRunRollup(ctx context.Context, workflowID string, rollup Rollup) error

	// MarkInterruptedRuns flips runs still `running` that started before
	// the cutoff to `error`. Startup sweep for runs orphaned by a crash.
	MarkInterruptedRuns(ctx context.Context, reason string) (int, error)

	// Queue items: durable pending invocations, so queued work survives a
	// restart.
	EnqueueItem(ctx context.Context, item *QueueItem) error
	ListQueueItems(ctx context.Context, filter QueueFilter) ([]*QueueItem, error)
	UpdateQueueItem(ctx context.Context, id string, status QueueItemStatus) error

	// Migrate applies pending schema migrations.
	Migrate(ctx context.Context) error

	Close() error
}
