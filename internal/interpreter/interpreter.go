// Package interpreter walks a workflow's step tree depth-first, left to
// right, strictly sequentially within a run. Actions dispatch capability
// calls and bind their outputs; conditions and loops provide control flow
// over the shared binding environment.
package interpreter

import (
	"context"
	"log/slog"
	"time"

	"github.com/flowmate-io/flowmate/internal/binding"
	"github.com/flowmate-io/flowmate/internal/expressions"
	"github.com/flowmate-io/flowmate/internal/logging"
	"github.com/flowmate-io/flowmate/internal/progress"
	"github.com/flowmate-io/flowmate/pkg/schema"
)

// Dispatcher is the capability-call surface the interpreter drives.
type Dispatcher interface {
	Dispatch(ctx context.Context, path string, inputs map[string]any, inputOrder []string) (any, error)
}

// Interpreter executes workflow step trees. Safe for concurrent use across
// runs; each run gets its own environment and step index state.
type Interpreter struct {
	dispatcher Dispatcher
	resolver   *binding.Resolver
	engines    map[string]expressions.Engine
	emitter    progress.Emitter
	logger     *slog.Logger
}

// New creates an Interpreter. The engines map is keyed by engine name
// ("expr", "cel"); the "" key is not used, unset step engines default to
// expr. A missing default engine is filled in, so engine() always has a
// fallback. A nil emitter discards progress events.
func New(d Dispatcher, engines map[string]expressions.Engine, emitter progress.Emitter, logger *slog.Logger) *Interpreter {
	if emitter == nil {
		emitter = progress.Discard
	}
	owned := make(map[string]expressions.Engine, len(engines)+1)
	for name, e := range engines {
		owned[name] = e
	}
	if _, ok := owned[expressions.EngineExpr]; !ok {
		owned[expressions.EngineExpr] = expressions.NewExprEngine()
	}
	return &Interpreter{
		dispatcher: d,
		resolver:   binding.NewResolver(),
		engines:    owned,
		emitter:    emitter,
		logger:     logger,
	}
}

// run tracks the mutable state of one execution.
type run struct {
	workflowID string
	runID      string
	env        *binding.Environment

	// stepIndex counts executed steps across the whole tree, for event
	// payloads.
	stepIndex int
	// lastOutput is the most recent action output; it becomes the run's
	// final output.
	lastOutput any
}

// Execute runs the workflow's steps against the given environment and
// returns the final output. On failure the returned error is a FlowError
// carrying the failing step's id; already-bound outputs are not rolled back.
func (in *Interpreter) Execute(ctx context.Context, wf *schema.Workflow, runID string, env *binding.Environment) (any, error) {
	ctx = logging.WithWorkflowID(ctx, wf.ID)
	ctx = logging.WithRunID(ctx, runID)

	st := &run{workflowID: wf.ID, runID: runID, env: env}
	started := time.Now()

	in.emit(ctx, st, "", schema.EventRunStarted, schema.RunStartedPayload{
		WorkflowID: wf.ID,
		RunID:      runID,
		TotalSteps: len(wf.Steps),
	})

	if err := in.executeSteps(ctx, st, wf.Steps); err != nil {
		flowErr := asFlowError(err)
		in.emit(ctx, st, flowErr.StepID, schema.EventRunFailed, schema.RunFailedPayload{
			RunID:     runID,
			Error:     flowErr.Message,
			ErrorStep: flowErr.StepID,
		})
		return nil, flowErr
	}

	in.emit(ctx, st, "", schema.EventRunCompleted, schema.RunCompletedPayload{
		RunID:      runID,
		DurationMs: time.Since(started).Milliseconds(),
		Output:     st.lastOutput,
	})
	return st.lastOutput, nil
}

func (in *Interpreter) executeSteps(ctx context.Context, st *run, steps []*schema.Step) error {
	for _, step := range steps {
		if err := in.executeStep(ctx, st, step); err != nil {
			return err
		}
	}
	return nil
}

func (in *Interpreter) executeStep(ctx context.Context, st *run, step *schema.Step) error {
	ctx = logging.WithStepID(ctx, step.ID)
	index := st.stepIndex
	st.stepIndex++

	in.emit(ctx, st, step.ID, schema.EventStepStarted, schema.StepStartedPayload{
		StepID: step.ID,
		Index:  index,
		Module: step.Module,
	})
	started := time.Now()

	var err error
	switch step.Type {
	case schema.StepTypeCondition:
		err = in.executeCondition(ctx, st, step)
	case schema.StepTypeLoop:
		err = in.executeLoop(ctx, st, step)
	default:
		err = in.executeAction(ctx, st, step)
	}

	if err != nil {
		flowErr := asFlowError(err)
		if flowErr.StepID == "" {
			flowErr = flowErr.WithStep(step.ID)
		}
		in.emit(ctx, st, step.ID, schema.EventStepFailed, schema.StepFailedPayload{
			StepID: step.ID,
			Index:  index,
			Error:  flowErr.Message,
		})
		return flowErr
	}

	payload := schema.StepCompletedPayload{
		StepID:     step.ID,
		Index:      index,
		DurationMs: time.Since(started).Milliseconds(),
	}
	if step.Type == schema.StepTypeAction || step.Type == "" {
		payload.Output = st.lastOutput
	}
	in.emit(ctx, st, step.ID, schema.EventStepCompleted, payload)
	return nil
}

func (in *Interpreter) executeAction(ctx context.Context, st *run, step *schema.Step) error {
	inputs := in.resolver.ResolveInputs(step.Inputs, st.env)

	out, err := in.dispatcher.Dispatch(ctx, step.Module, inputs, step.InputOrder)
	if err != nil {
		return err
	}

	st.lastOutput = out
	if step.OutputAs != "" {
		st.env.Bind(step.OutputAs, out)
	}
	return nil
}

// executeCondition evaluates the predicate and descends into exactly one
// branch. Branch steps share the parent environment; there is no scoping
// boundary at the branch.
func (in *Interpreter) executeCondition(ctx context.Context, st *run, step *schema.Step) error {
	truthy := in.evalPredicate(ctx, st, step)
	branch := step.Else
	if truthy {
		branch = step.Then
	}
	return in.executeSteps(ctx, st, branch)
}

// evalPredicate evaluates a condition's predicate. An evaluation error is
// treated as a falsy predicate rather than a run failure, matching the
// resolver's degrade-to-empty behavior for unresolved references.
func (in *Interpreter) evalPredicate(ctx context.Context, st *run, step *schema.Step) bool {
	engine := in.engine(step.Engine)
	expr := binding.Rewrite(step.Predicate, engine.Prefix())

	val, err := engine.Evaluate(ctx, expr, st.env.Values())
	if err != nil {
		in.logger.WarnContext(ctx, "predicate evaluation failed, treating as false",
			"step_id", step.ID, "engine", engine.Name(), "error", err)
		return false
	}
	return expressions.Truthy(val)
}

func (in *Interpreter) executeLoop(ctx context.Context, st *run, step *schema.Step) error {
	items, err := in.loopSource(ctx, st, step)
	if err != nil {
		return err
	}

	// The iteration variable may shadow an existing binding; restore it
	// when the loop ends.
	prior, hadPrior := st.env.Get(step.As)
	defer func() {
		if hadPrior {
			st.env.Bind(step.As, prior)
		} else {
			st.env.Unbind(step.As)
		}
	}()

	for _, item := range items {
		st.env.Bind(step.As, item)
		if err := in.executeSteps(ctx, st, step.Body); err != nil {
			return err
		}
	}
	return nil
}

// loopSource resolves the loop's source expression to a slice. A source
// that is a plain placeholder resolves through the environment; anything
// else evaluates through the step's expression engine.
func (in *Interpreter) loopSource(ctx context.Context, st *run, step *schema.Step) ([]any, error) {
	var val any
	resolved := in.resolver.ResolveValue(step.Source, st.env)
	if s, ok := resolved.(string); ok && s != "" {
		engine := in.engine(step.Engine)
		expr := binding.Rewrite(s, engine.Prefix())
		evaluated, err := engine.Evaluate(ctx, expr, st.env.Values())
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"loop source %q did not evaluate: %s", step.Source, err.Error()).
				WithStep(step.ID).WithCause(err)
		}
		val = evaluated
	} else {
		val = resolved
	}

	items, ok := val.([]any)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"loop source %q must produce an array, got %T", step.Source, val).WithStep(step.ID)
	}
	return items, nil
}

func (in *Interpreter) engine(name string) expressions.Engine {
	if e, ok := in.engines[name]; ok {
		return e
	}
	return in.engines[expressions.EngineExpr]
}

func (in *Interpreter) emit(ctx context.Context, st *run, stepID, eventType string, payload any) {
	in.emitter.Emit(ctx, progress.Event{
		WorkflowID: st.workflowID,
		RunID:      st.runID,
		StepID:     stepID,
		Type:       eventType,
		Payload:    payload,
	})
}

func asFlowError(err error) *schema.FlowError {
	if flowErr, ok := err.(*schema.FlowError); ok {
		return flowErr
	}
	return schema.NewError(schema.ErrCodeCapabilityFailed, err.Error()).WithCause(err)
}
