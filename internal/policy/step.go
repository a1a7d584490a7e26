package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/ent0n29/converse/internal/action"
	"github.com/ent0n29/converse/internal/config"
	"github.com/ent0n29/converse/internal/reliability"
	"github.com/ent0n29/converse/internal/session"
)

const stepKey = "step"

// Step is one stage of a scripted conversation.
type Step struct {
	ID          string       `yaml:"id"`
	Description string       `yaml:"description"`
	Actions     []action.Ref `yaml:"actions"`
}

// StepPolicy walks a fixed sequence of steps tracked in the step slot. Each
// step's actions run once per user message; update_step moves the session on.
type StepPolicy struct {
	name    string
	slot    string
	order   []string
	steps   map[string][]action.Action
	initial action.Action
	listen  action.Action
}

func newStepPolicy(cfg config.Policy, deps Deps) (Policy, error) {
	var opts struct {
		Slot  string `yaml:"slot"`
		Steps []Step `yaml:"steps"`
	}
	if err := cfg.Decode(&opts); err != nil {
		return nil, err
	}
	if opts.Slot == "" {
		opts.Slot = action.StepSlot
	}
	if len(opts.Steps) == 0 {
		return nil, errors.New("step policy requires steps")
	}
	if !deps.Assistant.HasSlot(opts.Slot) {
		return nil, fmt.Errorf("step slot %q is not declared", opts.Slot)
	}

	p := &StepPolicy{name: cfg.Name, slot: opts.Slot, steps: map[string][]action.Action{}}
	for _, st := range opts.Steps {
		if st.ID == "" {
			return nil, errors.New("step id is required")
		}
		if _, dup := p.steps[st.ID]; dup {
			return nil, fmt.Errorf("duplicate step %q", st.ID)
		}
		actions, err := resolveActions(st.Actions, deps)
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", st.ID, err)
		}
		p.order = append(p.order, st.ID)
		p.steps[st.ID] = actions
	}

	var err error
	if p.initial, err = deps.Actions.New("update_step", map[string]any{"step": p.order[0]}); err != nil {
		return nil, err
	}
	if p.listen, err = deps.Actions.New(action.Listen, nil); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *StepPolicy) Name() string { return p.name }

func (p *StepPolicy) Run(_ context.Context, s *session.Session) (*Prediction, error) {
	if _, ok := s.LastUserUttered(); !ok {
		return nil, nil
	}
	if _, declared := s.Slot(p.slot); !declared {
		return nil, fmt.Errorf("%w: session %s has no %q slot", reliability.ErrFatal, s.ID(), p.slot)
	}

	value, ok := s.SlotValue(p.slot)
	if !ok {
		return &Prediction{
			PolicyName: p.name,
			Actions:    []action.Action{p.initial},
			Metadata:   map[string]any{stepKey: "init"},
		}, nil
	}
	current, _ := value.(string)
	actions, known := p.steps[current]
	if !known {
		return nil, fmt.Errorf("%w: unknown step %v in session %s", reliability.ErrFatal, value, s.ID())
	}
	if firedSince(s, p.name, stepKey)[current] {
		return &Prediction{PolicyName: p.name, Actions: []action.Action{p.listen}}, nil
	}
	return &Prediction{
		PolicyName: p.name,
		Actions:    actions,
		Metadata:   map[string]any{stepKey: current},
	}, nil
}
