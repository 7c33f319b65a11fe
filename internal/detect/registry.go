package detect

import (
	"fmt"
	"sort"
	"sync"

	"github.com/visus-project/visus/internal/models"
)

// Registry holds the known detectors. The package-level default registry
// is populated by each detector's init; a private registry is handy in
// tests.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

type entry struct {
	desc    Descriptor
	factory Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a detector. Registering the same name twice panics, as
// that is always a programming error.
func (r *Registry) Register(desc Descriptor, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[desc.Name]; ok {
		panic(fmt.Sprintf("detect: detector %q registered twice", desc.Name))
	}
	r.entries[desc.Name] = entry{desc: desc, factory: factory}
}

// Lookup returns the descriptor for name.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.desc, ok
}

// Descriptors returns all registered descriptors ordered by priority
// then name.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.desc)
	}
	sortDescriptors(out)
	return out
}

// Priority returns the priority for a detector name. Unknown names sort
// last.
func (r *Registry) Priority(name string) int {
	if d, ok := r.Lookup(name); ok {
		return d.Priority
	}
	return 1 << 30
}

// New constructs the named detector with the given settings.
func (r *Registry) New(name string, cfg Settings) (Detector, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, models.WrapError(models.KindNotFound, fmt.Sprintf("detector %q", name), models.ErrUnknownDetector)
	}
	d, err := e.factory(cfg)
	if err != nil {
		return nil, models.WrapError(models.KindConfig, fmt.Sprintf("detector %q", name), err)
	}
	return d, nil
}

// Select resolves the active descriptor set for one run. An empty names
// list selects every default detector supporting the level; an explicit
// list may include opt-in detectors and fails on unknown names.
// Explicitly named detectors that do not support the level are skipped.
func (r *Registry) Select(names []string, level models.DetectionLevel) ([]Descriptor, error) {
	if len(names) == 0 {
		var out []Descriptor
		for _, d := range r.Descriptors() {
			if d.Default && d.SupportsLevel(level) {
				out = append(out, d)
			}
		}
		return out, nil
	}

	seen := make(map[string]bool, len(names))
	var out []Descriptor
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		d, ok := r.Lookup(name)
		if !ok {
			return nil, models.WrapError(models.KindNotFound, fmt.Sprintf("detector %q", name), models.ErrUnknownDetector)
		}
		if !d.SupportsLevel(level) {
			continue
		}
		out = append(out, d)
	}
	sortDescriptors(out)
	return out, nil
}

// Suppressions returns the suppression adjacency: suppressor name to
// the names it suppresses.
func (r *Registry) Suppressions() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]string, len(r.entries))
	for name, e := range r.entries {
		if len(e.desc.Suppresses) > 0 {
			out[name] = append([]string(nil), e.desc.Suppresses...)
		}
	}
	return out
}

func sortDescriptors(ds []Descriptor) {
	sort.Slice(ds, func(i, j int) bool {
		if ds[i].Priority != ds[j].Priority {
			return ds[i].Priority < ds[j].Priority
		}
		return ds[i].Name < ds[j].Name
	})
}

var defaultRegistry = NewRegistry()

// Register adds a detector to the default registry.
func Register(desc Descriptor, factory Factory) {
	defaultRegistry.Register(desc, factory)
}

// Default returns the default registry.
func Default() *Registry {
	return defaultRegistry
}

// Descriptors lists the default registry ordered by priority then name.
func Descriptors() []Descriptor {
	return defaultRegistry.Descriptors()
}

// New constructs a detector from the default registry.
func New(name string, cfg Settings) (Detector, error) {
	return defaultRegistry.New(name, cfg)
}
