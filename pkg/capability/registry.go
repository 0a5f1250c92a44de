package capability

import (
	"sort"
	"strings"
	"sync"

	"github.com/flowmate-io/flowmate/pkg/schema"
)

// registry is the concrete thread-safe Registry implementation.
type registry struct {
	mu         sync.RWMutex
	categories map[string]string                 // category -> namespace
	packs      map[string]map[string]*Descriptor // namespace -> name -> descriptor

	// resolved caches path -> descriptor so dispatch never re-parses a
	// dotted path it has already seen. Invalidated on Register.
	resolved sync.Map
}

// NewRegistry creates an empty Registry.
func NewRegistry() Registry {
	return &registry{
		categories: make(map[string]string),
		packs:      make(map[string]map[string]*Descriptor),
	}
}

// MapCategory binds a category segment to a namespace. Re-mapping an
// existing category replaces the binding.
func (r *registry) MapCategory(category, namespace string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.categories[category] = namespace
	r.resolved.Clear()
}

// Register adds a descriptor under a namespace. Returns an error on a nil
// descriptor, missing handler, empty name, or duplicate.
func (r *registry) Register(namespace string, desc *Descriptor) error {
	if desc == nil {
		return schema.NewError(schema.ErrCodeValidation, "capability descriptor is nil")
	}
	if desc.Name == "" {
		return schema.NewError(schema.ErrCodeValidation, "capability name is empty")
	}
	if desc.Handler == nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "capability %q has no handler", desc.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	pack, ok := r.packs[namespace]
	if !ok {
		pack = make(map[string]*Descriptor)
		r.packs[namespace] = pack
	}
	if _, exists := pack[desc.Name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"capability %q already registered in namespace %q", desc.Name, namespace)
	}
	pack[desc.Name] = desc
	r.resolved.Clear()
	return nil
}

// Resolve maps a dotted path to its descriptor, caching the result.
func (r *registry) Resolve(path string) (*Descriptor, error) {
	if cached, ok := r.resolved.Load(path); ok {
		return cached.(*Descriptor), nil
	}

	category, rest, ok := strings.Cut(path, ".")
	if !ok || category == "" || rest == "" {
		return nil, schema.NewErrorf(schema.ErrCodeCapabilityMissing,
			"invalid capability path %q: expected category.service.function", path)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	namespace, ok := r.categories[category]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeCapabilityMissing,
			"capability not found: unknown category %q in %q", category, path).
			WithDetails(map[string]any{"path": path, "category": category, "known_categories": r.categoryList()})
	}

	desc, ok := r.packs[namespace][rest]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeCapabilityMissing,
			"capability not found: %q has no %q", category, rest).
			WithDetails(map[string]any{"path": path, "namespace": namespace})
	}

	r.resolved.Store(path, desc)
	return desc, nil
}

// List returns all registered capabilities addressable via a mapped
// category, sorted by path.
func (r *registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Invert the category table so each namespace reports under its category.
	byNamespace := make(map[string]string, len(r.categories))
	for cat, ns := range r.categories {
		byNamespace[ns] = cat
	}

	var infos []Info
	for ns, pack := range r.packs {
		cat, ok := byNamespace[ns]
		if !ok {
			continue
		}
		for name, desc := range pack {
			infos = append(infos, Info{
				Path:       cat + "." + name,
				Parameters: desc.ParameterNames,
				Wrapped:    desc.Wrapped,
			})
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	return infos
}

func (r *registry) categoryList() []string {
	cats := make([]string, 0, len(r.categories))
	for c := range r.categories {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	return cats
}
