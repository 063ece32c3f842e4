package livestate

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/c360/confsync/configtree"
	"github.com/c360/confsync/diff"
	"github.com/c360/confsync/errors"
)

// Observer receives every applied change op. Observers cannot fail an
// op; they exist for passive consumers like cache invalidation and
// debug tooling.
type Observer func(op diff.Op)

// Subscription is an active observer registration.
type Subscription struct {
	id    uint64
	state *State
}

// Unsubscribe removes the observer.
func (s *Subscription) Unsubscribe() {
	if s.state != nil {
		s.state.unsubscribe(s.id)
	}
}

// State is the reference live state: the configuration tree the running
// application reads. It accepts change ops as a diff target and
// dispatches applied ops to per-section handlers and subscribed
// observers.
//
// The mutex protects readers against a concurrent apply pass. It does
// not serialize two apply passes against each other; the regeneration
// operations follow a single-writer discipline enforced by the caller.
type State struct {
	mu        sync.RWMutex
	tree      *configtree.Tree
	handlers  map[string]Handler
	observers map[uint64]Observer
	nextID    uint64
}

// Option configures a State.
type Option func(*State)

// WithTree seeds the state with an initial tree. The tree is cloned, so
// the caller keeps ownership of its copy.
func WithTree(t *configtree.Tree) Option {
	return func(s *State) {
		if t != nil {
			s.tree = t.Clone()
		}
	}
}

// New creates a live state, empty unless seeded via WithTree.
func New(opts ...Option) *State {
	s := &State{
		tree:      configtree.NewTree(),
		handlers:  make(map[string]Handler),
		observers: make(map[uint64]Observer),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// CurrentTree returns a deep copy of the live tree, safe to diff against
// while writes continue.
func (s *State) CurrentTree() *configtree.Tree {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Clone()
}

// Get reads a value from the live tree.
func (s *State) Get(path string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Get(path)
}

// Replace swaps in a whole new tree, cloning it first. Used to seed the
// state from a loaded snapshot at startup; incremental changes go
// through Set and Remove instead.
func (s *State) Replace(t *configtree.Tree) error {
	if t == nil {
		return errors.WrapInvalid(errors.ErrInvalidValue, "State", "Replace", "tree validation")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree = t.Clone()
	return nil
}

// Set implements diff.Target.
func (s *State) Set(path string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Set(path, value)
}

// Remove implements diff.Target.
func (s *State) Remove(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Remove(path)
}

// Attach binds a handler to a top-level section. One handler per
// section; attaching to an occupied section is rejected.
func (s *State) Attach(section string, h Handler) error {
	if section == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "State", "Attach", "section validation")
	}
	if h == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "State", "Attach", "handler validation")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.handlers[section]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("section '%s': %w", section, errors.ErrAlreadyRegistered),
			"State", "Attach", "duplicate section check")
	}

	s.handlers[section] = h
	return nil
}

// Detach removes the handler bound to a section, reporting whether one
// was attached.
func (s *State) Detach(section string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.handlers[section]
	delete(s.handlers, section)
	return exists
}

// Sections returns the sections with an attached handler, sorted.
func (s *State) Sections() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.handlers))
	for sec := range s.handlers {
		out = append(out, sec)
	}
	sort.Strings(out)
	return out
}

// Subscribe registers an observer for every applied op.
func (s *State) Subscribe(fn Observer) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.observers[id] = fn

	return &Subscription{id: id, state: s}
}

// OnChange dispatches an applied op to the owning section's handler and
// then to all observers. It matches diff.OnChange, so an apply pass
// wires it directly:
//
//	applied, err := diff.Apply(ops, state, state.OnChange)
//
// A handler error fails the op and surfaces through the pass's
// ApplyError; observer calls cannot fail. Dispatch runs outside the
// state lock, so handlers may read back through Get and CurrentTree.
func (s *State) OnChange(op diff.Op) error {
	sec := section(op.Path)

	s.mu.RLock()
	h := s.handlers[sec]
	observers := make([]Observer, 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.mu.RUnlock()

	if h != nil {
		if err := h.ConfigChanged(op); err != nil {
			return errors.Wrap(err, "State", "OnChange", fmt.Sprintf("notify '%s' handler", sec))
		}
	}
	for _, fn := range observers {
		fn(op)
	}
	return nil
}

// unsubscribe removes an observer by ID.
func (s *State) unsubscribe(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.observers, id)
}

// section returns the top-level key owning a path.
func section(path string) string {
	if i := strings.Index(path, "."); i >= 0 {
		return path[:i]
	}
	return path
}
