package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/ent0n29/converse/internal/action"
	"github.com/ent0n29/converse/internal/config"
	"github.com/ent0n29/converse/internal/session"
)

const ruleKey = "rule"

// Rule maps an intent, optionally gated on slot state, to a list of actions.
type Rule struct {
	ID            string       `yaml:"id"`
	Intent        string       `yaml:"intent"`
	RequiresSlots []string     `yaml:"requires_slots"`
	RequiresEmpty []string     `yaml:"requires_empty"`
	Actions       []action.Ref `yaml:"actions"`
}

type compiledRule struct {
	Rule
	actions []action.Action
}

func (r compiledRule) matches(intent string, s *session.Session) bool {
	if r.Intent != "*" && r.Intent != intent {
		return false
	}
	for _, name := range r.RequiresSlots {
		if _, ok := s.SlotValue(name); !ok {
			return false
		}
	}
	for _, name := range r.RequiresEmpty {
		if _, ok := s.SlotValue(name); ok {
			return false
		}
	}
	return true
}

// RulePolicy fires the first matching rule that has not fired yet for the
// latest user message. Once every matching rule has fired it asks to listen.
type RulePolicy struct {
	name     string
	rules    []compiledRule
	fallback []action.Action
	listen   action.Action
}

func newRulePolicy(cfg config.Policy, deps Deps) (Policy, error) {
	var opts struct {
		Rules    []Rule       `yaml:"rules"`
		Fallback []action.Ref `yaml:"fallback"`
	}
	if err := cfg.Decode(&opts); err != nil {
		return nil, err
	}
	if len(opts.Rules) == 0 {
		return nil, errors.New("rule policy requires rules")
	}

	p := &RulePolicy{name: cfg.Name}
	seen := map[string]bool{}
	for i, r := range opts.Rules {
		if r.ID == "" {
			r.ID = fmt.Sprintf("rule-%d", i)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("duplicate rule id %q", r.ID)
		}
		seen[r.ID] = true
		if r.Intent == "" {
			return nil, fmt.Errorf("rule %s: intent is required", r.ID)
		}
		for _, name := range append(append([]string(nil), r.RequiresSlots...), r.RequiresEmpty...) {
			if !deps.Assistant.HasSlot(name) {
				return nil, fmt.Errorf("rule %s: undeclared slot %q", r.ID, name)
			}
		}
		actions, err := resolveActions(r.Actions, deps)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.ID, err)
		}
		p.rules = append(p.rules, compiledRule{Rule: r, actions: actions})
	}

	var err error
	if p.fallback, err = resolveActions(opts.Fallback, deps); err != nil {
		return nil, fmt.Errorf("fallback: %w", err)
	}
	if p.listen, err = deps.Actions.New(action.Listen, nil); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *RulePolicy) Name() string { return p.name }

func (p *RulePolicy) Run(_ context.Context, s *session.Session) (*Prediction, error) {
	msg, ok := s.LastUserUttered()
	if !ok {
		return nil, nil
	}
	intent := msg.ParseData.IntentName()
	fired := firedSince(s, p.name, ruleKey)

	for _, r := range p.rules {
		if !r.matches(intent, s) || fired[r.ID] {
			continue
		}
		return p.predict(r.ID, r.actions), nil
	}

	if len(fired) == 0 && len(p.fallback) > 0 {
		return p.predict("fallback", p.fallback), nil
	}
	if len(fired) > 0 {
		return &Prediction{PolicyName: p.name, Actions: []action.Action{p.listen}}, nil
	}
	return nil, nil
}

func (p *RulePolicy) predict(id string, actions []action.Action) *Prediction {
	return &Prediction{
		PolicyName: p.name,
		Actions:    actions,
		Metadata:   map[string]any{ruleKey: id},
	}
}
