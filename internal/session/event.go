package session

import (
	"time"

	"github.com/oklog/ulid/v2"
)

type EventType string

const (
	TypeSessionStarted  EventType = "session_started"
	TypeSessionShutdown EventType = "session_shutdown"
	TypeSessionDisabled EventType = "session_disabled"
	TypeUserUttered     EventType = "user_uttered"
	TypeBotUttered      EventType = "bot_uttered"
	TypeSlotSet         EventType = "slot_set"
	TypeSlotUnset       EventType = "slot_unset"
	TypeActionExecuted  EventType = "action_executed"
	TypeActionFailed    EventType = "action_failed"
)

// Event is an immutable fact about a conversation. The variant set is closed:
// only the types declared in this package implement it, and each one knows how
// to mutate a Session. applyTo must stay free of I/O.
type Event interface {
	Type() EventType
	Base() EventBase
	When() time.Time

	applyTo(s *Session)
	stamped(t time.Time, force bool) Event
}

// EventBase carries the fields shared by every event.
type EventBase struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func (b EventBase) Base() EventBase { return b }
func (b EventBase) When() time.Time { return b.Timestamp }

func (b EventBase) stamp(t time.Time, force bool) EventBase {
	if b.ID == "" {
		b.ID = ulid.Make().String()
	}
	if force || b.Timestamp.IsZero() {
		b.Timestamp = t
	}
	return b
}

func newBase() EventBase {
	return EventBase{ID: ulid.Make().String(), Timestamp: time.Now().UTC()}
}

// SessionStarted resets every slot and reactivates a pending session.
type SessionStarted struct {
	EventBase
}

func NewSessionStarted() SessionStarted { return SessionStarted{EventBase: newBase()} }

func (SessionStarted) Type() EventType { return TypeSessionStarted }
func (e SessionStarted) applyTo(s *Session) {
	s.resetSlots()
	s.transition(StatusActive)
}
func (e SessionStarted) stamped(t time.Time, force bool) Event {
	e.EventBase = e.EventBase.stamp(t, force)
	return e
}

// SessionShutdown parks an active session as pending.
type SessionShutdown struct {
	EventBase
}

func NewSessionShutdown() SessionShutdown { return SessionShutdown{EventBase: newBase()} }

func (SessionShutdown) Type() EventType { return TypeSessionShutdown }
func (e SessionShutdown) applyTo(s *Session) { s.transition(StatusPending) }
func (e SessionShutdown) stamped(t time.Time, force bool) Event {
	e.EventBase = e.EventBase.stamp(t, force)
	return e
}

// SessionDisabled archives the session. No further actions run for it.
type SessionDisabled struct {
	EventBase
	Reason string `json:"reason,omitempty"`
}

func NewSessionDisabled(reason string) SessionDisabled {
	return SessionDisabled{EventBase: newBase(), Reason: reason}
}

func (SessionDisabled) Type() EventType { return TypeSessionDisabled }
func (e SessionDisabled) applyTo(s *Session) { s.transition(StatusArchived) }
func (e SessionDisabled) stamped(t time.Time, force bool) Event {
	e.EventBase = e.EventBase.stamp(t, force)
	return e
}

type UserUttered struct {
	EventBase
	MessageID    string    `json:"message_id"`
	Text         string    `json:"text"`
	InputChannel string    `json:"input_channel,omitempty"`
	ParseData    ParseData `json:"parse_data"`
}

func NewUserUttered(messageID, text, inputChannel string, parse ParseData) UserUttered {
	return UserUttered{
		EventBase:    newBase(),
		MessageID:    messageID,
		Text:         text,
		InputChannel: inputChannel,
		ParseData:    parse,
	}
}

func (UserUttered) Type() EventType { return TypeUserUttered }
func (e UserUttered) applyTo(s *Session) {
	e.ParseData = e.ParseData.clone()
	s.latestMessage = &e
}
func (e UserUttered) stamped(t time.Time, force bool) Event {
	e.EventBase = e.EventBase.stamp(t, force)
	return e
}

type BotUttered struct {
	EventBase
	Text string         `json:"text,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

func NewBotUttered(text string, data map[string]any) BotUttered {
	return BotUttered{EventBase: newBase(), Text: text, Data: data}
}

func (BotUttered) Type() EventType { return TypeBotUttered }
func (e BotUttered) applyTo(s *Session) {
	e.Data = cloneMap(e.Data)
	s.latestBotUtterance = &e
}
func (e BotUttered) stamped(t time.Time, force bool) Event {
	e.EventBase = e.EventBase.stamp(t, force)
	return e
}

type SlotSet struct {
	EventBase
	Key   string `json:"key"`
	Value any    `json:"value"`
}

func NewSlotSet(key string, value any) SlotSet {
	return SlotSet{EventBase: newBase(), Key: key, Value: value}
}

func (SlotSet) Type() EventType { return TypeSlotSet }
func (e SlotSet) applyTo(s *Session) { s.setSlot(e.Key, e.Value) }
func (e SlotSet) stamped(t time.Time, force bool) Event {
	e.EventBase = e.EventBase.stamp(t, force)
	return e
}

type SlotUnset struct {
	EventBase
	Key string `json:"key"`
}

func NewSlotUnset(key string) SlotUnset {
	return SlotUnset{EventBase: newBase(), Key: key}
}

func (SlotUnset) Type() EventType { return TypeSlotUnset }
func (e SlotUnset) applyTo(s *Session) { s.unsetSlot(e.Key) }
func (e SlotUnset) stamped(t time.Time, force bool) Event {
	e.EventBase = e.EventBase.stamp(t, force)
	return e
}

// ActionExecuted records a successful action run and the policy that chose it.
type ActionExecuted struct {
	EventBase
	ActionName string `json:"action_name"`
	PolicyName string `json:"policy_name,omitempty"`
}

func NewActionExecuted(action, policy string) ActionExecuted {
	return ActionExecuted{EventBase: newBase(), ActionName: action, PolicyName: policy}
}

func (ActionExecuted) Type() EventType { return TypeActionExecuted }
func (e ActionExecuted) applyTo(s *Session) {
	s.latestAction = &e
}
func (e ActionExecuted) stamped(t time.Time, force bool) Event {
	e.EventBase = e.EventBase.stamp(t, force)
	return e
}

// ActionFailed marks an action that errored or timed out. It changes no state.
type ActionFailed struct {
	EventBase
	ActionName string `json:"action_name"`
	PolicyName string `json:"policy_name,omitempty"`
	Error      string `json:"error,omitempty"`
}

func NewActionFailed(action, policy string, err error) ActionFailed {
	e := ActionFailed{EventBase: newBase(), ActionName: action, PolicyName: policy}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

func (ActionFailed) Type() EventType { return TypeActionFailed }
func (ActionFailed) applyTo(*Session) {}
func (e ActionFailed) stamped(t time.Time, force bool) Event {
	e.EventBase = e.EventBase.stamp(t, force)
	return e
}
