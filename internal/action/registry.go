package action

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrUnknownAction     = errors.New("unknown action")
	ErrAlreadyRegistered = errors.New("action already registered")
	ErrEmptyName         = errors.New("action name is empty")
)

// Factory builds an action from its configured arguments.
type Factory func(args map[string]any) (Action, error)

type Spec struct {
	Description   string
	RequiredSlots []string
	New           Factory
}

// Info describes a registered action.
type Info struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	RequiredSlots []string `json:"required_slots,omitempty"`
}

// Registry maps action names to constructors. It is filled at startup.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]Spec
}

func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]Spec)}
}

func (r *Registry) Register(name string, spec Spec) error {
	if name == "" {
		return ErrEmptyName
	}
	if spec.New == nil {
		return fmt.Errorf("register %s: nil factory", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.specs[name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	r.specs[name] = spec
	return nil
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.specs[name]
	return ok
}

// New constructs the named action.
func (r *Registry) New(name string, args map[string]any) (Action, error) {
	r.mu.RLock()
	spec, ok := r.specs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, name)
	}
	a, err := spec.New(args)
	if err != nil {
		return nil, fmt.Errorf("build action %s: %w", name, err)
	}
	return a, nil
}

// Resolve builds every action referenced by refs, in order.
func (r *Registry) Resolve(refs []Ref) ([]Action, error) {
	out := make([]Action, 0, len(refs))
	for _, ref := range refs {
		a, err := r.New(ref.Name, ref.Args)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Describe lists registered actions sorted by name.
func (r *Registry) Describe() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.specs))
	for name, spec := range r.specs {
		out = append(out, Info{
			Name:          name,
			Description:   spec.Description,
			RequiredSlots: append([]string(nil), spec.RequiredSlots...),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
