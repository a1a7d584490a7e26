package session

import (
	"time"

	"github.com/ent0n29/converse/internal/logging"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusPending  Status = "pending"
	StatusArchived Status = "archived"
	StatusDeleted  Status = "deleted"
)

// canTransition allows active<->pending and otherwise only moves toward
// archived and deleted.
func canTransition(from, to Status) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusActive:
		return to == StatusPending || to == StatusArchived || to == StatusDeleted
	case StatusPending:
		return to == StatusActive || to == StatusArchived || to == StatusDeleted
	case StatusArchived:
		return to == StatusDeleted
	default:
		return false
	}
}

// Session is the state of one conversation. All state changes go through
// Apply or ApplyMany, so replaying Events() over a fresh session built from
// the same slot definitions reproduces it.
//
// A Session is not safe for concurrent mutation; callers serialize writes.
type Session struct {
	id              string
	slots           map[string]*Slot
	slotOrder       []string
	events          []Event
	status          Status
	createdAt       time.Time
	metadata        map[string]any
	maxEventHistory int

	latestMessage      *UserUttered
	latestBotUtterance *BotUttered
	latestAction       *ActionExecuted
}

type Option func(*Session)

// WithMaxEventHistory bounds the event log. Older events are evicted first.
// Zero or negative keeps everything.
func WithMaxEventHistory(n int) Option {
	return func(s *Session) { s.maxEventHistory = n }
}

func WithMetadata(metadata map[string]any) Option {
	return func(s *Session) { s.metadata = cloneMap(metadata) }
}

func WithCreatedAt(t time.Time) Option {
	return func(s *Session) { s.createdAt = t.UTC() }
}

// New builds an active session with its own copy of the slot definitions.
func New(id string, slotDefs []Slot, opts ...Option) *Session {
	s := &Session{
		id:        id,
		slots:     cloneSlots(slotDefs),
		slotOrder: make([]string, 0, len(slotDefs)),
		status:    StatusActive,
		createdAt: time.Now().UTC(),
		metadata:  map[string]any{},
	}
	for _, def := range slotDefs {
		if _, dup := s.slotIndex(def.Name); dup {
			continue
		}
		s.slotOrder = append(s.slotOrder, def.Name)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Replay rebuilds a session from its event log.
func Replay(id string, slotDefs []Slot, events []Event, opts ...Option) *Session {
	s := New(id, slotDefs, opts...)
	s.ApplyMany(events, false)
	return s
}

// Apply mutates the session with e and appends it to the log. Events without
// a timestamp are stamped with the current time.
func (s *Session) Apply(e Event) {
	s.apply(e.stamped(time.Now().UTC(), false))
}

// ApplyMany applies events in order. With overrideTimestamp every event is
// stamped at application time, so the log reflects application order rather
// than creation order.
func (s *Session) ApplyMany(events []Event, overrideTimestamp bool) {
	for _, e := range events {
		s.apply(e.stamped(time.Now().UTC(), overrideTimestamp))
	}
}

func (s *Session) apply(e Event) {
	e.applyTo(s)
	s.events = append(s.events, e)
	if s.maxEventHistory > 0 && len(s.events) > s.maxEventHistory {
		drop := len(s.events) - s.maxEventHistory
		kept := make([]Event, s.maxEventHistory)
		copy(kept, s.events[drop:])
		s.events = kept
	}
}

func (s *Session) ID() string { return s.id }
func (s *Session) Status() Status { return s.status }
func (s *Session) CreatedAt() time.Time { return s.createdAt }
func (s *Session) MaxEventHistory() int { return s.maxEventHistory }
func (s *Session) Metadata() map[string]any { return cloneMap(s.metadata) }
func (s *Session) Active() bool { return s.status == StatusActive }

// Events returns a copy of the log. The events themselves must not be modified.
func (s *Session) Events() []Event {
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// EventsAfter returns the events stamped strictly after t.
func (s *Session) EventsAfter(t time.Time) []Event {
	var out []Event
	for _, e := range s.events {
		if e.When().After(t) {
			out = append(out, e)
		}
	}
	return out
}

// Slots returns a snapshot of the slots in declaration order.
func (s *Session) Slots() []Slot {
	out := make([]Slot, 0, len(s.slotOrder))
	for _, name := range s.slotOrder {
		out = append(out, s.slots[name].clone())
	}
	return out
}

func (s *Session) Slot(name string) (Slot, bool) {
	slot, ok := s.slots[name]
	if !ok {
		return Slot{}, false
	}
	return slot.clone(), true
}

// SlotValue returns the value of a set slot.
func (s *Session) SlotValue(name string) (any, bool) {
	slot, ok := s.slots[name]
	if !ok || slot.Value == nil {
		return nil, false
	}
	return cloneValue(slot.Value), true
}

// SlotValues maps every slot name to its current value, nil when unset.
func (s *Session) SlotValues() map[string]any {
	out := make(map[string]any, len(s.slots))
	for name, slot := range s.slots {
		out[name] = cloneValue(slot.Value)
	}
	return out
}

func (s *Session) LastUserUttered() (UserUttered, bool) {
	if s.latestMessage == nil {
		return UserUttered{}, false
	}
	return *s.latestMessage, true
}

func (s *Session) LatestBotUtterance() (BotUttered, bool) {
	if s.latestBotUtterance == nil {
		return BotUttered{}, false
	}
	return *s.latestBotUtterance, true
}

func (s *Session) LatestAction() (ActionExecuted, bool) {
	if s.latestAction == nil {
		return ActionExecuted{}, false
	}
	return *s.latestAction, true
}

// HasBotReplied reports whether the bot spoke after the most recent user message.
func (s *Session) HasBotReplied() bool {
	for i := len(s.events) - 1; i >= 0; i-- {
		switch s.events[i].(type) {
		case BotUttered:
			return true
		case UserUttered:
			return false
		}
	}
	return false
}

// EventsSinceLastUserUttered returns the events logged after the latest user
// message, or the whole log when there is none.
func (s *Session) EventsSinceLastUserUttered() []Event {
	for i := len(s.events) - 1; i >= 0; i-- {
		if _, ok := s.events[i].(UserUttered); ok {
			out := make([]Event, len(s.events)-i-1)
			copy(out, s.events[i+1:])
			return out
		}
	}
	return s.Events()
}

// LastActivity is the timestamp of the newest event, or the creation time.
func (s *Session) LastActivity() time.Time {
	if len(s.events) == 0 {
		return s.createdAt
	}
	return s.events[len(s.events)-1].When()
}

type Message struct {
	Type      string    `json:"type"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationMessages lists user and bot utterances in log order.
func (s *Session) ConversationMessages() []Message {
	var out []Message
	for _, e := range s.events {
		switch ev := e.(type) {
		case UserUttered:
			out = append(out, Message{Type: "user", Text: ev.Text, Timestamp: ev.Timestamp})
		case BotUttered:
			out = append(out, Message{Type: "bot", Text: ev.Text, Timestamp: ev.Timestamp})
		}
	}
	return out
}

func (s *Session) MessageCount() int {
	n := 0
	for _, e := range s.events {
		switch e.(type) {
		case UserUttered, BotUttered:
			n++
		}
	}
	return n
}

// Clone returns a deep copy that shares nothing mutable with s.
func (s *Session) Clone() *Session {
	c := &Session{
		id:              s.id,
		slots:           make(map[string]*Slot, len(s.slots)),
		slotOrder:       append([]string(nil), s.slotOrder...),
		events:          append([]Event(nil), s.events...),
		status:          s.status,
		createdAt:       s.createdAt,
		metadata:        cloneMap(s.metadata),
		maxEventHistory: s.maxEventHistory,
	}
	for name, slot := range s.slots {
		cp := slot.clone()
		c.slots[name] = &cp
	}
	if s.latestMessage != nil {
		m := *s.latestMessage
		m.ParseData = m.ParseData.clone()
		c.latestMessage = &m
	}
	if s.latestBotUtterance != nil {
		b := *s.latestBotUtterance
		b.Data = cloneMap(b.Data)
		c.latestBotUtterance = &b
	}
	if s.latestAction != nil {
		a := *s.latestAction
		c.latestAction = &a
	}
	return c
}

func (s *Session) slotIndex(name string) (int, bool) {
	for i, n := range s.slotOrder {
		if n == name {
			return i, true
		}
	}
	return -1, false
}

func (s *Session) setSlot(key string, value any) {
	slot, ok := s.slots[key]
	if !ok {
		logging.Warn().Str("session_id", s.id).Str("slot", key).Msg("slot not found, set ignored")
		return
	}
	slot.Value = cloneValue(value)
}

func (s *Session) unsetSlot(key string) {
	slot, ok := s.slots[key]
	if !ok {
		logging.Warn().Str("session_id", s.id).Str("slot", key).Msg("slot not found, unset ignored")
		return
	}
	slot.Reset()
}

func (s *Session) resetSlots() {
	for _, slot := range s.slots {
		slot.Reset()
	}
}

func (s *Session) transition(to Status) {
	if !canTransition(s.status, to) {
		logging.Warn().
			Str("session_id", s.id).
			Str("from", string(s.status)).
			Str("to", string(to)).
			Msg("status transition rejected")
		return
	}
	s.status = to
}
