// Package validation checks workflow definitions at write time: structural
// validation against a JSON Schema, plus semantic analysis the schema
// cannot express (duplicate ids, binding order). Runtime stays
// graceful-degrade; these checks exist to surface authoring mistakes early.
package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/flowmate-io/flowmate/pkg/schema"
)

// workflowSchemaJSON is the JSON Schema for workflow definitions. Embedded
// as a constant to avoid filesystem dependencies.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://flowmate.io/schemas/workflow.json",
  "type": "object",
  "required": ["trigger", "steps"],
  "properties": {
    "id": { "type": "string" },
    "owner_id": { "type": "string" },
    "tenant_id": { "type": "string" },
    "name": { "type": "string" },
    "status": {
      "type": "string",
      "enum": ["draft", "active", "paused", "error"]
    },
    "trigger": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": {
          "type": "string",
          "enum": ["manual", "schedule", "webhook", "conversational", "event"]
        },
        "config": { "type": "object" }
      },
      "additionalProperties": false
    },
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/step" }
    },
    "runs_count": { "type": "integer" },
    "last_run_at": {},
    "last_run_status": {},
    "created_at": {},
    "updated_at": {}
  },
  "$defs": {
    "step": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "type": {
          "type": "string",
          "enum": ["action", "condition", "loop"]
        },
        "module": { "type": "string", "pattern": "^[a-zA-Z0-9_-]+(\\.[a-zA-Z0-9_-]+)+$" },
        "inputs": { "type": "object" },
        "outputAs": { "type": "string" },
        "predicate": { "type": "string" },
        "engine": { "type": "string", "enum": ["expr", "cel"] },
        "then": { "type": "array", "items": { "$ref": "#/$defs/step" } },
        "else": { "type": "array", "items": { "$ref": "#/$defs/step" } },
        "source": { "type": "string" },
        "as": { "type": "string" },
        "body": { "type": "array", "items": { "$ref": "#/$defs/step" } }
      },
      "additionalProperties": false
    }
  }
}`

// Issue is one validation finding.
type Issue struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result aggregates findings. Errors make a definition unusable; warnings
// flag suspicious-but-runnable constructs such as forward references.
type Result struct {
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Valid reports whether the definition has no errors.
func (r *Result) Valid() bool { return len(r.Errors) == 0 }

func (r *Result) addError(path, code, message string) {
	r.Errors = append(r.Errors, Issue{Path: path, Code: code, Message: message})
}

func (r *Result) addWarning(path, code, message string) {
	r.Warnings = append(r.Warnings, Issue{Path: path, Code: code, Message: message})
}

// Validator validates workflow definitions. Safe for concurrent use.
type Validator struct {
	workflowSchema *jsonschema.Schema
}

// New creates a Validator with the workflow schema pre-compiled.
func New() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(workflowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow schema: %w", err)
	}
	if err := c.AddResource("https://flowmate.io/schemas/workflow.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add workflow schema resource: %w", err)
	}
	compiled, err := c.Compile("https://flowmate.io/schemas/workflow.json")
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}
	return &Validator{workflowSchema: compiled}, nil
}

// ValidateWorkflow runs structural and semantic validation.
func (v *Validator) ValidateWorkflow(wf *schema.Workflow) (*Result, error) {
	if wf == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow is nil")
	}

	doc, err := toJSONValue(wf)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation,
			"failed to serialize workflow").WithCause(err)
	}

	result := &Result{}
	if err := v.workflowSchema.Validate(doc); err != nil {
		result.addError("", schema.ErrCodeValidation, err.Error())
		return result, nil
	}

	checkDuplicateIDs(wf.Steps, "steps", map[string]string{}, result)
	checkBindingOrder(wf, result)
	return result, nil
}

// checkDuplicateIDs walks the whole tree; step ids must be unique globally
// since run events and error reports are keyed by them.
func checkDuplicateIDs(steps []*schema.Step, path string, seen map[string]string, result *Result) {
	for i, step := range steps {
		p := fmt.Sprintf("%s[%d]", path, i)
		if prior, exists := seen[step.ID]; exists {
			result.addError(p+".id", schema.ErrCodeValidation,
				fmt.Sprintf("duplicate step id %q (first used at %s)", step.ID, prior))
		} else {
			seen[step.ID] = p
		}
		checkDuplicateIDs(step.Then, p+".then", seen, result)
		checkDuplicateIDs(step.Else, p+".else", seen, result)
		checkDuplicateIDs(step.Body, p+".body", seen, result)
	}
}

// toJSONValue round-trips a value through encoding/json so the validator
// sees json.Number for numbers, as jsonschema expects.
func toJSONValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(raw))
}
