package progress

import "context"

// Event is a real-time progress event emitted during a run. Payload is one
// of the schema event payload structs.
type Event struct {
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id"`
	StepID     string `json:"step_id,omitempty"`
	Type       string `json:"type"`
	Payload    any    `json:"payload,omitempty"`
}

// Emitter is the optional sink the interpreter invokes after each lifecycle
// transition. Implementations must never block run execution; a failed or
// dropped delivery is not a run failure.
type Emitter interface {
	Emit(ctx context.Context, event Event)
}

// Filter specifies which events a subscriber wants to receive.
type Filter struct {
	RunID      string   `json:"run_id,omitempty"`
	WorkflowID string   `json:"workflow_id,omitempty"`
	Types      []string `json:"types,omitempty"`
}

// Hub provides pub/sub fan-out of progress events to live observers over
// any push transport. Consumption is out of scope for the core; observers
// that disconnect simply stop receiving, the run continues.
type Hub interface {
	Emitter
	Subscribe(ctx context.Context, filter Filter) (<-chan Event, func(), error)
}

// Discard is an Emitter that drops every event. Used when no observer
// transport is configured.
var Discard Emitter = discard{}

type discard struct{}

func (discard) Emit(context.Context, Event) {}
