package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmate-io/flowmate/pkg/schema"
)

func TestMemoryStore_WorkflowLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	wf := &schema.Workflow{
		ID:      "wf-1",
		OwnerID: "user-1",
		Status:  schema.WorkflowStatusDraft,
		Trigger: schema.Trigger{Type: schema.TriggerManual},
	}
	require.NoError(t, s.CreateWorkflow(ctx, wf))
	assert.Error(t, s.CreateWorkflow(ctx, wf))

	active := schema.WorkflowStatusActive
	require.NoError(t, s.UpdateWorkflow(ctx, "wf-1", WorkflowUpdate{Status: &active}))

	got, err := s.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, schema.WorkflowStatusActive, got.Status)

	_, err = s.GetWorkflow(ctx, "missing")
	require.Error(t, err)
	flowErr, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeNotFound, flowErr.Code)
}

func TestMemoryStore_RunTerminalGuard(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateRun(ctx, &schema.Run{ID: "run-1", WorkflowID: "wf-1"}))
	require.NoError(t, s.FinishRun(ctx, "run-1", RunUpdate{
		Status: schema.RunStatusSuccess, CompletedAt: time.Now().UTC(),
	}))
	assert.Error(t, s.FinishRun(ctx, "run-1", RunUpdate{Status: schema.RunStatusError}))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusSuccess, got.Status)
}

func TestMemoryStore_Rollup(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateWorkflow(ctx, &schema.Workflow{ID: "wf-1", OwnerID: "u"}))
	require.NoError(t, s.RecordRunRollup(ctx, "wf-1", Rollup{RunID: "run-1", Status: schema.RunStatusSuccess}))
	require.NoError(t, s.RecordRunRollup(ctx, "wf-1", Rollup{RunID: "run-2", Status: schema.RunStatusError}))

	got, err := s.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.RunsCount)
	assert.Equal(t, schema.RunStatusError, got.LastRunStatus)
	assert.NotNil(t, got.LastRunAt)
}

func TestMemoryStore_RollupReplaySameRunIsNoOp(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateWorkflow(ctx, &schema.Workflow{ID: "wf-1", OwnerID: "u"}))
	rollup := Rollup{RunID: "run-1", Status: schema.RunStatusSuccess}
	require.NoError(t, s.RecordRunRollup(ctx, "wf-1", rollup))
	require.NoError(t, s.RecordRunRollup(ctx, "wf-1", rollup))

	got, err := s.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.RunsCount)
}

func TestMemoryStore_MarkInterruptedRuns(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateRun(ctx, &schema.Run{ID: "run-1", WorkflowID: "wf-1"}))
	require.NoError(t, s.CreateRun(ctx, &schema.Run{ID: "run-2", WorkflowID: "wf-1"}))
	require.NoError(t, s.FinishRun(ctx, "run-2", RunUpdate{
		Status: schema.RunStatusSuccess, CompletedAt: time.Now().UTC(),
	}))

	n, err := s.MarkInterruptedRuns(ctx, "restart")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemoryStore_QueueOrdering(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().UTC()
	require.NoError(t, s.EnqueueItem(ctx, &QueueItem{ID: "q2", WorkflowID: "wf", CreatedAt: base.Add(time.Second)}))
	require.NoError(t, s.EnqueueItem(ctx, &QueueItem{ID: "q1", WorkflowID: "wf", CreatedAt: base}))

	got, err := s.ListQueueItems(ctx, QueueFilter{Statuses: []QueueItemStatus{QueueItemPending}})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "q1", got[0].ID)
	assert.Equal(t, "q2", got[1].ID)
}
