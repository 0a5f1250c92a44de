package binding

import (
	"strconv"
	"strings"
)

// Environment is the run-scoped map of named bindings steps read and write. It is
// exclusively owned by one run, so it needs no locking: the interpreter is
// strictly sequential within a run.
type Environment struct {
	vals map[string]any
}

// NewEnvironment creates an Environment seeded with the given maps, merged
// in order. Later seeds win on key collision.
func NewEnvironment(seeds ...map[string]any) *Environment {
	vals := make(map[string]any)
	for _, seed := range seeds {
		for k, v := range seed {
			vals[k] = v
		}
	}
	return &Environment{vals: vals}
}

// Bind sets a name to a value, replacing any prior binding.
func (e *Environment) Bind(name string, value any) {
	e.vals[name] = value
}

// Unbind removes a binding. Used to scope loop iteration variables.
func (e *Environment) Unbind(name string) {
	delete(e.vals, name)
}

// Get returns the value bound directly under name.
func (e *Environment) Get(name string) (any, bool) {
	v, ok := e.vals[name]
	return v, ok
}

// Values exposes the raw binding map for expression engines. Callers must
// not mutate the result.
func (e *Environment) Values() map[string]any {
	return e.vals
}

// Lookup evaluates a dotted/bracket path against the environment, left to
// right. A missing intermediate key or out-of-range index short-circuits to
// (nil, false) rather than raising.
func (e *Environment) Lookup(path string) (any, bool) {
	segs := splitPath(path)
	if len(segs) == 0 {
		return nil, false
	}

	var current any = e.vals
	for _, seg := range segs {
		if seg.index >= 0 {
			list, ok := current.([]any)
			if !ok || seg.index >= len(list) {
				return nil, false
			}
			current = list[seg.index]
			continue
		}
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[seg.key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// segment is one step of a path: either a map key or a slice index.
type segment struct {
	key   string
	index int // -1 for key segments
}

// splitPath tokenizes "a.b[0].c" into key and index segments. Malformed
// bracket expressions yield no index segment and will fail lookup naturally.
func splitPath(path string) []segment {
	var segs []segment
	for _, part := range strings.Split(path, ".") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		for {
			open := strings.IndexByte(part, '[')
			if open == -1 {
				segs = append(segs, segment{key: part, index: -1})
				break
			}
			if open > 0 {
				segs = append(segs, segment{key: part[:open], index: -1})
			}
			closeIdx := strings.IndexByte(part, ']')
			if closeIdx == -1 || closeIdx < open {
				// Unbalanced bracket: treat the remainder as a literal key.
				segs = append(segs, segment{key: part[open:], index: -1})
				break
			}
			idx, err := strconv.Atoi(part[open+1 : closeIdx])
			if err != nil || idx < 0 {
				segs = append(segs, segment{key: part[open : closeIdx+1], index: -1})
			} else {
				segs = append(segs, segment{index: idx})
			}
			part = part[closeIdx+1:]
			if part == "" {
				break
			}
		}
	}
	return segs
}
