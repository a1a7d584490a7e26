package action

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ent0n29/converse/internal/channel"
	"github.com/ent0n29/converse/internal/logging"
	"github.com/ent0n29/converse/internal/session"
)

// StepSlot holds the current step of step-driven assistants.
const StepSlot = "step"

// BuiltinOptions configures the actions registered by RegisterBuiltins.
type BuiltinOptions struct {
	// Greeting is the default session_start message.
	Greeting string
	Weather  WeatherProvider
}

// RegisterBuiltins adds the standard actions to r.
func RegisterBuiltins(r *Registry, opts BuiltinOptions) error {
	weather := opts.Weather
	if weather == nil {
		weather = StaticWeather{}
	}

	specs := map[string]Spec{
		Listen: {
			Description: "Wait for the next user message.",
			New: func(map[string]any) (Action, error) {
				return noop{Base{ActionName: Listen, ActionDescription: "Wait for the next user message."}}, nil
			},
		},
		"dummy": {
			Description: "Do nothing.",
			New: func(map[string]any) (Action, error) {
				return noop{Base{ActionName: "dummy", ActionDescription: "Do nothing."}}, nil
			},
		},
		ExtractSlots: {
			Description: "Copy entities of the latest user message into matching slots.",
			New: func(map[string]any) (Action, error) {
				return extractSlots{Base{ActionName: ExtractSlots, ActionDescription: "Copy entities into slots."}}, nil
			},
		},
		SessionStart: {
			Description: "Start the session and greet the user.",
			New: func(args map[string]any) (Action, error) {
				a := sessionStart{Base: Base{ActionName: SessionStart, ActionDescription: "Start the session."}, Greeting: opts.Greeting}
				if err := decodeArgs(args, &a); err != nil {
					return nil, err
				}
				return a, nil
			},
		},
		DisableSession: {
			Description: "Archive the session. No further actions will run.",
			New: func(args map[string]any) (Action, error) {
				a := disableSession{Base: Base{ActionName: DisableSession, ActionDescription: "Archive the session."}}
				if err := decodeArgs(args, &a); err != nil {
					return nil, err
				}
				return a, nil
			},
		},
		"shutdown_session": {
			Description: "Park the session until it is started again.",
			New: func(map[string]any) (Action, error) {
				return shutdownSession{Base{ActionName: "shutdown_session", ActionDescription: "Park the session."}}, nil
			},
		},
		"bot_utter": {
			Description: "Send a text message. {slot} placeholders are filled from slots.",
			New: func(args map[string]any) (Action, error) {
				return newUtter("bot_utter", args, false)
			},
		},
		"bot_utter_quick_reply": {
			Description: "Send a text message unless the bot already replied to the latest user message.",
			New: func(args map[string]any) (Action, error) {
				return newUtter("bot_utter_quick_reply", args, true)
			},
		},
		"bot_buttons": {
			Description: "Send a message with buttons.",
			New: func(args map[string]any) (Action, error) {
				a := botButtons{Base: Base{ActionName: "bot_buttons", ActionDescription: "Send a message with buttons."}}
				if err := decodeArgs(args, &a); err != nil {
					return nil, err
				}
				if len(a.Buttons) == 0 {
					return nil, errors.New("bot_buttons requires buttons")
				}
				return a, nil
			},
		},
		"update_step": {
			Description: "Move the conversation to another step.",
			New: func(args map[string]any) (Action, error) {
				a := updateStep{Base: Base{ActionName: "update_step", ActionDescription: "Move to another step."}}
				if err := decodeArgs(args, &a); err != nil {
					return nil, err
				}
				if a.Step == "" {
					return nil, errors.New("update_step requires step")
				}
				return a, nil
			},
		},
		"reset_slots": {
			Description: "Clear the listed slots.",
			New: func(args map[string]any) (Action, error) {
				a := resetSlots{Base: Base{ActionName: "reset_slots", ActionDescription: "Clear slots."}}
				if err := decodeArgs(args, &a); err != nil {
					return nil, err
				}
				if len(a.Slots) == 0 {
					return nil, errors.New("reset_slots requires slots")
				}
				return a, nil
			},
		},
		FindWeather: {
			Description:   "Look up the forecast for the city and date slots.",
			RequiredSlots: []string{"date", "city"},
			New: func(map[string]any) (Action, error) {
				return NewFindWeather(weather), nil
			},
		},
	}

	for name, spec := range specs {
		if err := r.Register(name, spec); err != nil {
			return err
		}
	}
	return nil
}

type noop struct{ Base }

func (noop) Run(context.Context, channel.OutputChannel, *session.Session) ([]session.Event, error) {
	return nil, nil
}

type extractSlots struct{ Base }

func (extractSlots) Run(_ context.Context, _ channel.OutputChannel, s *session.Session) ([]session.Event, error) {
	msg, ok := s.LastUserUttered()
	if !ok {
		return nil, nil
	}
	var events []session.Event
	for _, ent := range msg.ParseData.Entities {
		slot, ok := s.Slot(ent.Entity)
		if !ok {
			logging.Warn().Str("session_id", s.ID()).Str("entity", ent.Entity).Msg("no slot for entity, skipped")
			continue
		}
		if !slot.Extractable {
			logging.Debug().Str("session_id", s.ID()).Str("slot", slot.Name).Msg("slot not extractable, skipped")
			continue
		}
		events = append(events, session.NewSlotSet(ent.Entity, ent.Value))
	}
	return events, nil
}

type sessionStart struct {
	Base
	Greeting string `json:"greeting"`
}

func (a sessionStart) Run(ctx context.Context, out channel.OutputChannel, s *session.Session) ([]session.Event, error) {
	events := []session.Event{session.NewSessionStarted()}
	if a.Greeting == "" {
		return events, nil
	}
	if err := out.SendText(ctx, a.Greeting); err != nil {
		return nil, fmt.Errorf("send greeting: %w", err)
	}
	return append(events, session.NewBotUttered(a.Greeting, nil)), nil
}

type disableSession struct {
	Base
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

func (a disableSession) Run(ctx context.Context, out channel.OutputChannel, s *session.Session) ([]session.Event, error) {
	var events []session.Event
	if a.Message != "" {
		if err := out.SendText(ctx, a.Message); err != nil {
			return nil, fmt.Errorf("send farewell: %w", err)
		}
		events = append(events, session.NewBotUttered(a.Message, nil))
	}
	return append(events, session.NewSessionDisabled(a.Reason)), nil
}

type shutdownSession struct{ Base }

func (shutdownSession) Run(context.Context, channel.OutputChannel, *session.Session) ([]session.Event, error) {
	return []session.Event{session.NewSessionShutdown()}, nil
}

type utter struct {
	Base
	Message   string `json:"message"`
	onlyFirst bool
}

func newUtter(name string, args map[string]any, onlyFirst bool) (Action, error) {
	a := utter{Base: Base{ActionName: name, ActionDescription: "Send a text message."}, onlyFirst: onlyFirst}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if strings.TrimSpace(a.Message) == "" {
		return nil, fmt.Errorf("%s requires message", name)
	}
	return a, nil
}

func (a utter) Run(ctx context.Context, out channel.OutputChannel, s *session.Session) ([]session.Event, error) {
	if a.onlyFirst && s.HasBotReplied() {
		return nil, nil
	}
	text := Render(a.Message, s)
	if err := out.SendText(ctx, text); err != nil {
		return nil, err
	}
	return []session.Event{session.NewBotUttered(text, nil)}, nil
}

type botButtons struct {
	Base
	Message string           `json:"message"`
	Buttons []channel.Button `json:"buttons"`
}

func (a botButtons) Run(ctx context.Context, out channel.OutputChannel, s *session.Session) ([]session.Event, error) {
	text := Render(a.Message, s)
	if err := out.SendButtons(ctx, text, a.Buttons); err != nil {
		return nil, err
	}
	buttons := make([]any, 0, len(a.Buttons))
	for _, b := range a.Buttons {
		buttons = append(buttons, map[string]any{"title": b.Title, "payload": b.Payload})
	}
	return []session.Event{session.NewBotUttered(text, map[string]any{"buttons": buttons})}, nil
}

type updateStep struct {
	Base
	Step string `json:"step"`
}

func (a updateStep) WritesSlots() []string { return []string{StepSlot} }

func (a updateStep) Run(context.Context, channel.OutputChannel, *session.Session) ([]session.Event, error) {
	return []session.Event{session.NewSlotSet(StepSlot, a.Step)}, nil
}

type resetSlots struct {
	Base
	Slots []string `json:"slots"`
}

func (a resetSlots) WritesSlots() []string { return append([]string(nil), a.Slots...) }

func (a resetSlots) Run(context.Context, channel.OutputChannel, *session.Session) ([]session.Event, error) {
	events := make([]session.Event, 0, len(a.Slots))
	for _, name := range a.Slots {
		events = append(events, session.NewSlotUnset(name))
	}
	return events, nil
}

var placeholder = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// Render fills {slot} placeholders with slot values. Unset or unknown slots
// are left as written.
func Render(template string, s *session.Session) string {
	return placeholder.ReplaceAllStringFunc(template, func(m string) string {
		name := m[1 : len(m)-1]
		if v, ok := s.SlotValue(name); ok {
			return fmt.Sprint(v)
		}
		return m
	})
}
