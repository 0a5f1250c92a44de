package validation

import (
	"fmt"
	"strings"

	"github.com/flowmate-io/flowmate/pkg/schema"
)

// seedNames are bound before step 1 in every run.
var seedNames = map[string]bool{
	"trigger":      true,
	"trigger_type": true,
	"user":         true,
	"workflow":     true,
	"credentials":  true,
}

// checkBindingOrder enforces the ordering invariant statically: a step may
// only reference names bound strictly before it in program order; loop
// bodies may additionally reference their own iteration variable. Forward
// references are warnings, not errors: at runtime they resolve to
// undefined rather than failing the run.
func checkBindingOrder(wf *schema.Workflow, result *Result) {
	bound := make(map[string]bool, len(seedNames))
	for name := range seedNames {
		bound[name] = true
	}
	walkBindingOrder(wf.Steps, "steps", bound, result)
}

// walkBindingOrder processes steps in program order, mutating bound as
// outputAs names accumulate. Branches share one scope: a name bound inside
// either branch is visible after the condition, which mirrors the runtime's
// single shared environment.
func walkBindingOrder(steps []*schema.Step, path string, bound map[string]bool, result *Result) {
	for i, step := range steps {
		p := fmt.Sprintf("%s[%d]", path, i)

		switch step.Type {
		case schema.StepTypeCondition:
			checkRefs(step.Predicate, p+".predicate", bound, result)
			walkBindingOrder(step.Then, p+".then", bound, result)
			walkBindingOrder(step.Else, p+".else", bound, result)

		case schema.StepTypeLoop:
			checkRefs(step.Source, p+".source", bound, result)
			hadVar := bound[step.As]
			bound[step.As] = true
			walkBindingOrder(step.Body, p+".body", bound, result)
			if !hadVar {
				delete(bound, step.As)
			}

		default:
			checkInputRefs(step.Inputs, p+".inputs", bound, result)
			if step.OutputAs != "" {
				bound[step.OutputAs] = true
			}
		}
	}
}

func checkInputRefs(v any, path string, bound map[string]bool, result *Result) {
	switch val := v.(type) {
	case string:
		checkRefs(val, path, bound, result)
	case map[string]any:
		for k, item := range val {
			checkInputRefs(item, path+"."+k, bound, result)
		}
	case []any:
		for i, item := range val {
			checkInputRefs(item, fmt.Sprintf("%s[%d]", path, i), bound, result)
		}
	}
}

// checkRefs extracts {{path}} placeholders and flags root names that are
// not yet bound.
func checkRefs(s, path string, bound map[string]bool, result *Result) {
	for _, ref := range placeholderPaths(s) {
		root := rootName(ref)
		if root == "" || bound[root] {
			continue
		}
		result.addWarning(path, schema.ErrCodeValidation,
			fmt.Sprintf("reference %q is not bound by any earlier step; it will resolve to undefined", ref))
	}
}

// placeholderPaths returns the inner paths of every {{...}} in s.
func placeholderPaths(s string) []string {
	var paths []string
	for {
		open := strings.Index(s, "{{")
		if open == -1 {
			return paths
		}
		rest := s[open+2:]
		closeIdx := strings.Index(rest, "}}")
		if closeIdx == -1 {
			return paths
		}
		paths = append(paths, strings.TrimSpace(rest[:closeIdx]))
		s = rest[closeIdx+2:]
	}
}

// rootName returns the leading identifier of a path, e.g. "order" for
// "order.items[0]".
func rootName(ref string) string {
	end := len(ref)
	if i := strings.IndexByte(ref, '.'); i >= 0 && i < end {
		end = i
	}
	if i := strings.IndexByte(ref, '['); i >= 0 && i < end {
		end = i
	}
	return strings.TrimSpace(ref[:end])
}
