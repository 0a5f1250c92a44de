package schema

import (
	"bytes"
	"encoding/json"
	"time"
)

// Workflow is a stored, reusable automation definition: a trigger plus an
// ordered list of steps. Workflows are never hard-deleted while runs
// reference them; retirement is a status flip.
type Workflow struct {
	ID       string         `json:"id"`
	OwnerID  string         `json:"owner_id"`
	TenantID string         `json:"tenant_id,omitempty"`
	Name     string         `json:"name,omitempty"`
	Status   WorkflowStatus `json:"status"`
	Trigger  Trigger        `json:"trigger"`
	Steps    []*Step        `json:"steps"`

	// Rollups, refreshed by the run recorder after each terminal transition.
	RunsCount     int        `json:"runs_count"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	LastRunStatus RunStatus  `json:"last_run_status,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft  WorkflowStatus = "draft"
	WorkflowStatusActive WorkflowStatus = "active"
	WorkflowStatusPaused WorkflowStatus = "paused"
	WorkflowStatusError  WorkflowStatus = "error"
)

// TriggerType identifies how a run was (or may be) started.
type TriggerType string

const (
	TriggerManual         TriggerType = "manual"
	TriggerSchedule       TriggerType = "schedule"
	TriggerWebhook        TriggerType = "webhook"
	TriggerConversational TriggerType = "conversational"
	TriggerEvent          TriggerType = "event"
)

// Trigger declares how a workflow is invoked. Config is trigger-specific:
// schedule triggers carry {"cron": "..."}, webhook triggers carry routing
// hints consumed by an adapter outside this core.
type Trigger struct {
	Type   TriggerType    `json:"type"`
	Config map[string]any `json:"config,omitempty"`
}

// CronSpec returns the cron expression of a schedule trigger, or "".
func (t Trigger) CronSpec() string {
	if t.Type != TriggerSchedule || t.Config == nil {
		return ""
	}
	s, _ := t.Config["cron"].(string)
	return s
}

// StepType enumerates the kinds of steps in a workflow.
type StepType string

const (
	StepTypeAction    StepType = "action"
	StepTypeCondition StepType = "condition"
	StepTypeLoop      StepType = "loop"
)

// Step is a unit of a workflow: an action, a condition, or a loop.
// Steps are immutable once a run starts and are reused across every
// execution of their workflow.
type Step struct {
	ID   string   `json:"id"`
	Type StepType `json:"type,omitempty"` // defaults to "action"

	// Action fields.
	Module   string         `json:"module,omitempty"` // dotted capability path
	Inputs   map[string]any `json:"inputs,omitempty"`
	OutputAs string         `json:"outputAs,omitempty"`

	// InputOrder preserves the JSON key order of Inputs. The dispatcher's
	// last-resort positional fallback depends on authoring order, which a
	// Go map cannot carry on its own.
	InputOrder []string `json:"-"`

	// Condition fields.
	Predicate string  `json:"predicate,omitempty"`
	Engine    string  `json:"engine,omitempty"` // "expr" (default) or "cel"
	Then      []*Step `json:"then,omitempty"`
	Else      []*Step `json:"else,omitempty"`

	// Loop fields.
	Source string  `json:"source,omitempty"` // expression producing an array
	As     string  `json:"as,omitempty"`     // iteration variable name
	Body   []*Step `json:"body,omitempty"`
}

// stepAlias avoids recursing into Step.UnmarshalJSON.
type stepAlias Step

// UnmarshalJSON decodes a step, defaulting Type to "action" and capturing
// the authored key order of Inputs.
func (s *Step) UnmarshalJSON(data []byte) error {
	var raw struct {
		stepAlias
		Inputs json.RawMessage `json:"inputs"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Step(raw.stepAlias)
	if s.Type == "" {
		s.Type = StepTypeAction
	}
	if len(raw.Inputs) > 0 {
		var inputs map[string]any
		if err := json.Unmarshal(raw.Inputs, &inputs); err != nil {
			return err
		}
		s.Inputs = inputs
		s.InputOrder = topLevelKeys(raw.Inputs)
	}
	return nil
}

// topLevelKeys extracts the top-level object keys of a JSON object in
// document order. Returns nil for non-objects.
func topLevelKeys(raw json.RawMessage) []string {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil
	}
	var keys []string
	for dec.More() {
		tok, err = dec.Token()
		if err != nil {
			return keys
		}
		key, ok := tok.(string)
		if !ok {
			return keys
		}
		keys = append(keys, key)
		// Skip the value so nested object keys are not collected.
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return keys
		}
	}
	return keys
}
