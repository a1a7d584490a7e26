// Package action holds the executable units a policy can choose: sending a
// reply, calling a backend or changing slots. Actions never mutate a session
// directly; they return the events describing what happened.
package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ent0n29/converse/internal/channel"
	"github.com/ent0n29/converse/internal/session"
)

const (
	Listen         = "listen"
	ExtractSlots   = "extract_slots"
	SessionStart   = "session_start"
	DisableSession = "disable_session"
)

var ErrMissingSlots = errors.New("required slots missing")

type Action interface {
	Name() string
	Description() string
	// RequiredSlots must be set before the action is selected.
	RequiredSlots() []string
	Run(ctx context.Context, out channel.OutputChannel, s *session.Session) ([]session.Event, error)
}

// SlotWriter is implemented by actions that emit SlotSet or SlotUnset for a
// fixed set of slots. The slots are checked against the assistant at startup.
type SlotWriter interface {
	WritesSlots() []string
}

// Base provides the descriptive half of Action.
type Base struct {
	ActionName        string
	ActionDescription string
	Required          []string
}

func (b Base) Name() string            { return b.ActionName }
func (b Base) Description() string     { return b.ActionDescription }
func (b Base) RequiredSlots() []string { return append([]string(nil), b.Required...) }

// MissingSlots lists the required slots of a that are unset in s.
func MissingSlots(a Action, s *session.Session) []string {
	var missing []string
	for _, name := range a.RequiredSlots() {
		if _, ok := s.SlotValue(name); !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// CheckRequiredSlots returns ErrMissingSlots when a cannot run on s.
func CheckRequiredSlots(a Action, s *session.Session) error {
	if missing := MissingSlots(a, s); len(missing) > 0 {
		return fmt.Errorf("%w: %s needs %v", ErrMissingSlots, a.Name(), missing)
	}
	return nil
}

// Ref names an action and its constructor arguments, as found in assistant
// configuration or remote policy responses.
type Ref struct {
	Name string         `yaml:"name" json:"name"`
	Args map[string]any `yaml:"args" json:"args,omitempty"`
}

func decodeArgs(args map[string]any, dst any) error {
	if len(args) == 0 {
		return nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode args: %w", err)
	}
	return nil
}
