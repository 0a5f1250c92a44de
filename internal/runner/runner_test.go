package runner

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmate-io/flowmate/internal/expressions"
	"github.com/flowmate-io/flowmate/internal/interpreter"
	"github.com/flowmate-io/flowmate/internal/recorder"
	"github.com/flowmate-io/flowmate/internal/secrets"
	"github.com/flowmate-io/flowmate/internal/store"
	"github.com/flowmate-io/flowmate/pkg/schema"
)

// stubDispatcher resolves a few fixed capabilities.
type stubDispatcher struct{}

func (stubDispatcher) Dispatch(_ context.Context, path string, inputs map[string]any, _ []string) (any, error) {
	switch path {
	case "utilities.math.add":
		return inputs["a"].(float64) + inputs["b"].(float64), nil
	case "utilities.echo":
		return inputs["value"], nil
	case "utilities.fail":
		return nil, schema.NewError(schema.ErrCodeCapabilityFailed, "upstream exploded")
	default:
		return nil, schema.NewErrorf(schema.ErrCodeCapabilityMissing, "no capability registered for path %q", path)
	}
}

type fixture struct {
	store  *store.MemoryStore
	runner *Runner
	creds  *secrets.Static
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemoryStore()
	rec := recorder.New(mem, recorder.Config{Backoff: time.Hour}, slog.Default())
	t.Cleanup(rec.Close)

	engines := map[string]expressions.Engine{
		expressions.EngineExpr: expressions.NewExprEngine(),
	}
	in := interpreter.New(stubDispatcher{}, engines, nil, slog.Default())
	creds := secrets.NewStatic()
	return &fixture{
		store:  mem,
		runner: New(mem, in, rec, creds, slog.Default()),
		creds:  creds,
	}
}

func (f *fixture) seedWorkflow(t *testing.T, status schema.WorkflowStatus, steps ...*schema.Step) *schema.Workflow {
	t.Helper()
	wf := &schema.Workflow{
		ID:      "wf-1",
		OwnerID: "owner-1",
		Status:  status,
		Trigger: schema.Trigger{Type: schema.TriggerManual},
		Steps:   steps,
	}
	require.NoError(t, f.store.CreateWorkflow(context.Background(), wf))
	return wf
}

func TestInvoke_Success(t *testing.T) {
	f := newFixture(t)
	f.seedWorkflow(t, schema.WorkflowStatusActive,
		&schema.Step{ID: "s1", Module: "utilities.math.add",
			Inputs: map[string]any{"a": 2.0, "b": 3.0}, OutputAs: "sum"})

	res, err := f.runner.Invoke(context.Background(), "wf-1", "user-1", schema.TriggerManual, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.EqualValues(t, 5, res.Output)

	run, err := f.store.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusSuccess, run.Status)
	assert.Equal(t, schema.TriggerManual, run.TriggerType)
	assert.NotNil(t, run.CompletedAt)

	wf, err := f.store.GetWorkflow(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, 1, wf.RunsCount)
	assert.Equal(t, schema.RunStatusSuccess, wf.LastRunStatus)
}

func TestInvoke_WorkflowNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.runner.Invoke(context.Background(), "missing", "user-1", schema.TriggerManual, nil)
	require.Error(t, err)
	flowErr, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeNotFound, flowErr.Code)
}

func TestInvoke_InactiveWorkflow(t *testing.T) {
	f := newFixture(t)
	f.seedWorkflow(t, schema.WorkflowStatusPaused,
		&schema.Step{ID: "s1", Module: "utilities.math.add",
			Inputs: map[string]any{"a": 1.0, "b": 1.0}})

	_, err := f.runner.Invoke(context.Background(), "wf-1", "user-1", schema.TriggerManual, nil)
	require.Error(t, err)
	flowErr, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeConflict, flowErr.Code)

	// No run record was created.
	runs, err := f.store.ListRuns(context.Background(), store.RunFilter{WorkflowID: "wf-1"})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestInvoke_StepFailureIsRecordedResult(t *testing.T) {
	f := newFixture(t)
	f.seedWorkflow(t, schema.WorkflowStatusActive,
		&schema.Step{ID: "s1", Module: "utilities.fail"})

	res, err := f.runner.Invoke(context.Background(), "wf-1", "user-1", schema.TriggerManual, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "upstream exploded", res.Error)
	assert.Equal(t, "s1", res.ErrorStep)

	run, err := f.store.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusError, run.Status)
	assert.Equal(t, "s1", run.ErrorStepID)
	assert.Equal(t, "upstream exploded", run.ErrorMessage)

	wf, err := f.store.GetWorkflow(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusError, wf.LastRunStatus)
}

func TestInvoke_SeedsTriggerPayload(t *testing.T) {
	f := newFixture(t)
	f.seedWorkflow(t, schema.WorkflowStatusActive,
		&schema.Step{ID: "s1", Module: "utilities.echo",
			Inputs: map[string]any{"value": "{{trigger.order_id}}"}})

	res, err := f.runner.Invoke(context.Background(), "wf-1", "user-1", schema.TriggerWebhook,
		map[string]any{"order_id": "ord-42"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "ord-42", res.Output)
}

func TestInvoke_SeedsCredentials(t *testing.T) {
	f := newFixture(t)
	f.creds.Set("user-1", map[string]any{
		"crm": map[string]any{"token": "tok-123"},
	})
	f.seedWorkflow(t, schema.WorkflowStatusActive,
		&schema.Step{ID: "s1", Module: "utilities.echo",
			Inputs: map[string]any{"value": "{{credentials.crm.token}}"}})

	res, err := f.runner.Invoke(context.Background(), "wf-1", "user-1", schema.TriggerManual, nil)
	require.NoError(t, err)
	assert.Equal(t, "tok-123", res.Output)
}

func TestInvoke_SeedsUserContext(t *testing.T) {
	f := newFixture(t)
	wf := &schema.Workflow{
		ID:       "wf-2",
		OwnerID:  "owner-1",
		TenantID: "tenant-9",
		Status:   schema.WorkflowStatusActive,
		Trigger:  schema.Trigger{Type: schema.TriggerManual},
		Steps: []*schema.Step{{ID: "s1", Module: "utilities.echo",
			Inputs: map[string]any{"value": "{{user.tenant_id}}"}}},
	}
	require.NoError(t, f.store.CreateWorkflow(context.Background(), wf))

	res, err := f.runner.Invoke(context.Background(), "wf-2", "user-1", schema.TriggerManual, nil)
	require.NoError(t, err)
	assert.Equal(t, "tenant-9", res.Output)
}
