package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextAccessors(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, WorkflowID(ctx))
	assert.Empty(t, RunID(ctx))
	assert.Empty(t, StepID(ctx))

	ctx = WithWorkflowID(ctx, "wf-1")
	ctx = WithRunID(ctx, "run-1")
	ctx = WithStepID(ctx, "s1")

	assert.Equal(t, "wf-1", WorkflowID(ctx))
	assert.Equal(t, "run-1", RunID(ctx))
	assert.Equal(t, "s1", StepID(ctx))
}

func TestCorrelationHandler_InjectsIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewTextHandler(&buf, nil)))

	ctx := WithRunID(WithWorkflowID(context.Background(), "wf-9"), "run-9")
	logger.InfoContext(ctx, "step dispatched")

	out := buf.String()
	assert.Contains(t, out, "workflow_id=wf-9")
	assert.Contains(t, out, "run_id=run-9")
	assert.NotContains(t, out, "step_id")
}
