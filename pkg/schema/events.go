package schema

// Progress event types, emitted in order over any push transport.
const (
	EventRunStarted    = "run_started"
	EventRunCompleted  = "run_completed"
	EventRunFailed     = "run_failed"
	EventStepStarted   = "step_started"
	EventStepCompleted = "step_completed"
	EventStepFailed    = "step_failed"
)

// RunStartedPayload accompanies a run_started event.
type RunStartedPayload struct {
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id"`
	TotalSteps int    `json:"total_steps"`
}

// StepStartedPayload accompanies a step_started event.
type StepStartedPayload struct {
	StepID string `json:"step_id"`
	Index  int    `json:"index"`
	Module string `json:"module,omitempty"`
}

// StepCompletedPayload accompanies a step_completed event.
type StepCompletedPayload struct {
	StepID     string `json:"step_id"`
	Index      int    `json:"index"`
	DurationMs int64  `json:"duration_ms"`
	Output     any    `json:"output,omitempty"`
}

// StepFailedPayload accompanies a step_failed event.
type StepFailedPayload struct {
	StepID string `json:"step_id"`
	Index  int    `json:"index"`
	Error  string `json:"error"`
}

// RunCompletedPayload accompanies a run_completed event.
type RunCompletedPayload struct {
	RunID      string `json:"run_id"`
	DurationMs int64  `json:"duration_ms"`
	Output     any    `json:"output,omitempty"`
}

// RunFailedPayload accompanies a run_failed event.
type RunFailedPayload struct {
	RunID     string `json:"run_id"`
	Error     string `json:"error"`
	ErrorStep string `json:"error_step,omitempty"`
}
