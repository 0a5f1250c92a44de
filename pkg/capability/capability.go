package capability

import (
	"context"
	"time"
)

// Handler is the uniform call shape every capability is invoked through.
// The dispatcher adapts a resolved input map into the positional args slice
// according to the capability's declared descriptor.
type Handler func(ctx context.Context, args []any) (any, error)

// Descriptor declares a capability's calling convention. Capabilities are
// implemented independently with no shared convention; the descriptor is the
// metadata the dispatcher adapts against, so adaptation never needs to
// introspect the implementation.
type Descriptor struct {
	// Name is the capability's path within its namespace, "service.function".
	Name string

	// ParameterNames lists declared parameters in positional order.
	ParameterNames []string

	// Wrapped marks the single-record convention: the handler takes the
	// entire input map as its one argument.
	Wrapped bool

	// Timeout bounds a single call. Zero means the dispatcher default.
	Timeout time.Duration

	Handler Handler
}

// Info is a summary of a registered capability for listing.
type Info struct {
	Path        string   `json:"path"`
	Parameters  []string `json:"parameters,omitempty"`
	Wrapped     bool     `json:"wrapped,omitempty"`
}

// Registry resolves dotted capability paths to descriptors.
type Registry interface {
	// MapCategory binds a path's leading category segment to a namespace.
	MapCategory(category, namespace string)

	// Register adds a descriptor under a namespace.
	Register(namespace string, desc *Descriptor) error

	// Resolve maps "category.service.function" to a descriptor. The result
	// is cached per path; unknown categories and unregistered paths fail
	// with CAPABILITY_NOT_FOUND.
	Resolve(path string) (*Descriptor, error)

	// List returns all registered capabilities by their addressable path.
	List() []Info
}
