package policy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ent0n29/converse/internal/action"
	"github.com/ent0n29/converse/internal/config"
)

// Deps are what policy factories may need besides their own options.
type Deps struct {
	Actions   *action.Registry
	Assistant config.Assistant
}

type Factory func(cfg config.Policy, deps Deps) (Policy, error)

// Registry maps policy types to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry holding the built-in policy types.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("quick_response", newQuickResponse)
	r.Register("rule", newRulePolicy)
	r.Register("step", newStepPolicy)
	r.Register("guard", newGuard)
	r.Register("remote", newRemote)
	return r
}

// Register adds or replaces the factory for typ.
func (r *Registry) Register(typ string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typ] = f
}

func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for typ := range r.factories {
		out = append(out, typ)
	}
	sort.Strings(out)
	return out
}

// Build constructs the configured policies in order. Unknown types, unknown
// actions and actions touching undeclared slots are configuration errors.
func (r *Registry) Build(cfgs []config.Policy, deps Deps) ([]Policy, error) {
	out := make([]Policy, 0, len(cfgs))
	names := make(map[string]struct{}, len(cfgs))
	for i, cfg := range cfgs {
		if cfg.Name == "" {
			cfg.Name = cfg.Type
		}
		if _, dup := names[cfg.Name]; dup {
			return nil, fmt.Errorf("policies[%d]: duplicate policy name %q", i, cfg.Name)
		}
		names[cfg.Name] = struct{}{}

		r.mu.RLock()
		f, ok := r.factories[cfg.Type]
		r.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("policies[%d]: %w: %s", i, ErrUnknownPolicy, cfg.Type)
		}
		p, err := f(cfg, deps)
		if err != nil {
			return nil, fmt.Errorf("policies[%d] %s: %w", i, cfg.Name, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func resolveActions(refs []action.Ref, deps Deps) ([]action.Action, error) {
	actions, err := deps.Actions.Resolve(refs)
	if err != nil {
		return nil, err
	}
	for _, a := range actions {
		if err := checkSlots(a, deps.Assistant); err != nil {
			return nil, err
		}
	}
	return actions, nil
}

func checkSlots(a action.Action, assistant config.Assistant) error {
	slots := a.RequiredSlots()
	if w, ok := a.(action.SlotWriter); ok {
		slots = append(slots, w.WritesSlots()...)
	}
	for _, name := range slots {
		if !assistant.HasSlot(name) {
			return fmt.Errorf("action %s uses undeclared slot %q", a.Name(), name)
		}
	}
	return nil
}
