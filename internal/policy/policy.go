// Package policy decides which actions run next. A Policy looks at a session
// snapshot and proposes a Prediction; the Manager fans out over every
// configured policy.
package policy

import (
	"context"
	"errors"

	"github.com/ent0n29/converse/internal/action"
	"github.com/ent0n29/converse/internal/session"
)

var ErrUnknownPolicy = errors.New("unknown policy type")

type Policy interface {
	Name() string
	// Run returns nil when the policy has nothing to propose.
	Run(ctx context.Context, s *session.Session) (*Prediction, error)
}

// Prediction is one policy's ordered list of actions for the current round.
// Metadata is copied onto the ActionExecuted and ActionFailed events of every
// action in the list.
type Prediction struct {
	PolicyName string
	Actions    []action.Action
	Metadata   map[string]any
}

// Has reports whether an action called name is part of the prediction.
func (p *Prediction) Has(name string) bool {
	if p == nil {
		return false
	}
	for _, a := range p.Actions {
		if a.Name() == name {
			return true
		}
	}
	return false
}

func (p *Prediction) ActionNames() []string {
	if p == nil {
		return nil
	}
	names := make([]string, 0, len(p.Actions))
	for _, a := range p.Actions {
		names = append(names, a.Name())
	}
	return names
}

// firedSince collects the value of metadata key recorded by policy on action
// events logged after the latest user message.
func firedSince(s *session.Session, policy, key string) map[string]bool {
	fired := map[string]bool{}
	for _, e := range s.EventsSinceLastUserUttered() {
		var owner string
		var meta map[string]any
		switch ev := e.(type) {
		case session.ActionExecuted:
			owner, meta = ev.PolicyName, ev.Metadata
		case session.ActionFailed:
			owner, meta = ev.PolicyName, ev.Metadata
		default:
			continue
		}
		if owner != policy {
			continue
		}
		if id, ok := meta[key].(string); ok {
			fired[id] = true
		}
	}
	return fired
}
