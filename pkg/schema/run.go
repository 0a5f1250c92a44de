package schema

import "time"

// RunStatus represents the lifecycle state of a run.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusError   RunStatus = "error"
)

// Run is one timestamped execution instance of a workflow. Created at
// invocation start, updated exactly once at its terminal transition, and an
// append-only historical record thereafter.
type Run struct {
	ID             string         `json:"id"`
	WorkflowID     string         `json:"workflow_id"`
	UserID         string         `json:"user_id,omitempty"`
	TriggerType    TriggerType    `json:"trigger_type"`
	TriggerPayload map[string]any `json:"trigger_payload,omitempty"`
	Status         RunStatus      `json:"status"`
	Output         any            `json:"output,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	ErrorStepID    string         `json:"error_step_id,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	DurationMs     int64          `json:"duration_ms,omitempty"`
}

// RunResult is the synchronous outcome returned to a direct caller.
type RunResult struct {
	RunID     string `json:"run_id"`
	Success   bool   `json:"success"`
	Output    any    `json:"output,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorStep string `json:"error_step,omitempty"`
}
