// Package runner is the single entry point for executing a workflow. Every
// trigger path (direct call, scheduler via queue, webhook or conversational
// adapter) funnels through Invoke, so invariants hold regardless of origin.
package runner

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/flowmate-io/flowmate/internal/binding"
	"github.com/flowmate-io/flowmate/internal/interpreter"
	"github.com/flowmate-io/flowmate/internal/recorder"
	"github.com/flowmate-io/flowmate/internal/secrets"
	"github.com/flowmate-io/flowmate/internal/store"
	"github.com/flowmate-io/flowmate/pkg/schema"
)

// Runner loads, executes and records workflow runs.
type Runner struct {
	store       store.Store
	interpreter *interpreter.Interpreter
	recorder    *recorder.Recorder
	secrets     secrets.Source
	logger      *slog.Logger
}

// New creates a Runner. The secrets source may be nil when no credential
// store is configured.
func New(s store.Store, in *interpreter.Interpreter, rec *recorder.Recorder, creds secrets.Source, logger *slog.Logger) *Runner {
	return &Runner{
		store:       s,
		interpreter: in,
		recorder:    rec,
		secrets:     creds,
		logger:      logger,
	}
}

// Invoke executes the workflow synchronously and returns the final result.
// The returned error is reserved for pre-run failures (unknown or inactive
// workflow); a failed run is a normal result with Success=false.
func (r *Runner) Invoke(ctx context.Context, workflowID, userID string, triggerType schema.TriggerType, payload map[string]any) (*schema.RunResult, error) {
	wf, err := r.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.Status != schema.WorkflowStatusActive {
		return nil, schema.NewErrorf(schema.ErrCodeConflict,
			"workflow %s is %s, not active", wf.ID, wf.Status).
			WithDetails(map[string]any{"workflow_id": wf.ID, "status": string(wf.Status)})
	}

	run := &schema.Run{
		ID:             uuid.New().String(),
		WorkflowID:     wf.ID,
		UserID:         userID,
		TriggerType:    triggerType,
		TriggerPayload: payload,
		Status:         schema.RunStatusRunning,
		StartedAt:      time.Now().UTC(),
	}
	r.recorder.RunStarted(ctx, run)

	env, err := r.seedEnvironment(ctx, wf, userID, triggerType, payload)
	if err != nil {
		// Credential lookup failed before any step ran; the run still gets
		// a terminal record.
		flowErr := toFlowError(err)
		r.finish(ctx, run, wf.ID, nil, flowErr)
		return result(run.ID, nil, flowErr), nil
	}

	output, execErr := r.interpreter.Execute(ctx, wf, run.ID, env)
	var flowErr *schema.FlowError
	if execErr != nil {
		flowErr = toFlowError(execErr)
	}
	r.finish(ctx, run, wf.ID, output, flowErr)
	return result(run.ID, output, flowErr), nil
}

// seedEnvironment builds the initial binding environment: trigger payload,
// user/tenant context and decrypted credentials.
func (r *Runner) seedEnvironment(ctx context.Context, wf *schema.Workflow, userID string, triggerType schema.TriggerType, payload map[string]any) (*binding.Environment, error) {
	seed := map[string]any{
		"trigger": map[string]any{},
		"user": map[string]any{
			"id":        userID,
			"tenant_id": wf.TenantID,
		},
		"workflow": map[string]any{
			"id":   wf.ID,
			"name": wf.Name,
		},
	}
	if payload != nil {
		seed["trigger"] = payload
	}
	seed["trigger_type"] = string(triggerType)

	if r.secrets != nil {
		owner := userID
		if owner == "" {
			owner = wf.OwnerID
		}
		creds, err := r.secrets.Credentials(ctx, owner)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"load credentials for %s: %s", owner, err.Error()).WithCause(err)
		}
		seed["credentials"] = creds
	}

	return binding.NewEnvironment(seed), nil
}

func (r *Runner) finish(ctx context.Context, run *schema.Run, workflowID string, output any, flowErr *schema.FlowError) {
	completed := time.Now().UTC()
	update := store.RunUpdate{
		CompletedAt: completed,
		DurationMs:  completed.Sub(run.StartedAt).Milliseconds(),
	}
	if flowErr != nil {
		update.Status = schema.RunStatusError
		update.ErrorMessage = flowErr.Message
		update.ErrorStepID = flowErr.StepID
	} else {
		update.Status = schema.RunStatusSuccess
		update.Output = output
	}
	r.recorder.RunFinished(ctx, run.ID, workflowID, update)
}

func result(runID string, output any, flowErr *schema.FlowError) *schema.RunResult {
	if flowErr != nil {
		return &schema.RunResult{
			RunID:     runID,
			Success:   false,
			Error:     flowErr.Message,
			ErrorStep: flowErr.StepID,
		}
	}
	return &schema.RunResult{RunID: runID, Success: true, Output: output}
}

func toFlowError(err error) *schema.FlowError {
	if flowErr, ok := err.(*schema.FlowError); ok {
		return flowErr
	}
	return schema.NewError(schema.ErrCodeCapabilityFailed, err.Error()).WithCause(err)
}
