package livestate

import (
	"fmt"
	"sort"
	"sync"

	"github.com/c360/confsync/configtree"
	"github.com/c360/confsync/diff"
	"github.com/c360/confsync/errors"
)

// Handler reacts to configuration changes applied to one section of the
// live tree. Implementations are supplied by the domain layer that owns
// the section (schema, content, system settings).
type Handler interface {
	// ConfigChanged is invoked synchronously for every change op applied
	// under the handler's section. Returning an error fails that op and
	// halts the apply pass.
	ConfigChanged(op diff.Op) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(op diff.Op) error

// ConfigChanged implements Handler.
func (f HandlerFunc) ConfigChanged(op diff.Op) error { return f(op) }

// Factory builds a Handler for a section from that section's
// configuration subtree.
type Factory func(section string, cfg *configtree.Node) (Handler, error)

// Registry maps handler type names to factories. Types are registered
// once at startup and looked up by name when sections are bound; there
// is no implicit event bus.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under a type name.
// Returns an error if the name is already taken.
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "Register", "type name validation")
	}
	if factory == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "Register", "factory validation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("handler type '%s': %w", name, errors.ErrAlreadyRegistered),
			"Registry", "Register", "duplicate type check")
	}

	r.factories[name] = factory
	return nil
}

// Create builds a handler of the named type for a section. The cfg node
// is the section's current configuration subtree and may be nil when the
// section has no settings yet.
func (r *Registry) Create(name, section string, cfg *configtree.Node) (Handler, error) {
	r.mu.RLock()
	factory, exists := r.factories[name]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.WrapInvalid(
			fmt.Errorf("unknown handler type '%s'", name),
			"Registry", "Create", "factory lookup")
	}

	handler, err := factory(section, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "Registry", "Create", fmt.Sprintf("build '%s' handler", name))
	}
	if handler == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("factory '%s' returned no handler", name),
			"Registry", "Create", "factory result validation")
	}
	return handler, nil
}

// Names returns the registered type names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered types.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.factories)
}
