package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrUnknownEvent = errors.New("unknown event type")

type eventEnvelope struct {
	Type EventType `json:"type"`
}

// MarshalEvent encodes e as a JSON object with a "type" discriminator.
func MarshalEvent(e Event) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", e.Type(), err)
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("marshal %s: unexpected encoding", e.Type())
	}
	var buf bytes.Buffer
	buf.Grow(len(body) + 32)
	buf.WriteString(`{"type":`)
	typ, _ := json.Marshal(e.Type())
	buf.Write(typ)
	if len(body) > 2 {
		buf.WriteByte(',')
	}
	buf.Write(body[1:])
	return buf.Bytes(), nil
}

// UnmarshalEvent decodes an event written by MarshalEvent.
func UnmarshalEvent(raw []byte) (Event, error) {
	var env eventEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}

	switch env.Type {
	case TypeSessionStarted:
		return decodeEvent[SessionStarted](raw)
	case TypeSessionShutdown:
		return decodeEvent[SessionShutdown](raw)
	case TypeSessionDisabled:
		return decodeEvent[SessionDisabled](raw)
	case TypeUserUttered:
		return decodeEvent[UserUttered](raw)
	case TypeBotUttered:
		return decodeEvent[BotUttered](raw)
	case TypeSlotSet:
		return decodeEvent[SlotSet](raw)
	case TypeSlotUnset:
		return decodeEvent[SlotUnset](raw)
	case TypeActionExecuted:
		return decodeEvent[ActionExecuted](raw)
	case TypeActionFailed:
		return decodeEvent[ActionFailed](raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
}

func decodeEvent[T Event](raw []byte) (Event, error) {
	var e T
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode %s: %w", e.Type(), err)
	}
	return e, nil
}

// MarshalEvents encodes a slice of events, preserving order.
func MarshalEvents(events []Event) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(events))
	for _, e := range events {
		raw, err := MarshalEvent(e)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

type wireSession struct {
	SessionID       string            `json:"session_id"`
	Status          Status            `json:"status"`
	CreatedAt       time.Time         `json:"created_at"`
	Metadata        map[string]any    `json:"metadata,omitempty"`
	MaxEventHistory int               `json:"max_event_history,omitempty"`
	Slots           []Slot            `json:"slots"`
	Events          []json.RawMessage `json:"events"`
}

func (s *Session) MarshalJSON() ([]byte, error) {
	events, err := MarshalEvents(s.events)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireSession{
		SessionID:       s.id,
		Status:          s.status,
		CreatedAt:       s.createdAt,
		Metadata:        s.metadata,
		MaxEventHistory: s.maxEventHistory,
		Slots:           s.Slots(),
		Events:          events,
	})
}

// UnmarshalJSON restores slots and status as stored rather than replaying the
// log, since a windowed log no longer holds the full history.
func (s *Session) UnmarshalJSON(data []byte) error {
	var w wireSession
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode session: %w", err)
	}
	if w.SessionID == "" {
		return errors.New("decode session: missing session_id")
	}

	restored := New(w.SessionID, w.Slots,
		WithCreatedAt(w.CreatedAt),
		WithMetadata(w.Metadata),
		WithMaxEventHistory(w.MaxEventHistory),
	)
	if restored.metadata == nil {
		restored.metadata = map[string]any{}
	}
	if w.Status != "" {
		restored.status = w.Status
	}
	restored.events = make([]Event, 0, len(w.Events))
	for i, raw := range w.Events {
		e, err := UnmarshalEvent(raw)
		if err != nil {
			return fmt.Errorf("decode session %s event %d: %w", w.SessionID, i, err)
		}
		restored.events = append(restored.events, e)
		switch ev := e.(type) {
		case UserUttered:
			restored.latestMessage = &ev
		case BotUttered:
			restored.latestBotUtterance = &ev
		case ActionExecuted:
			restored.latestAction = &ev
		}
	}

	*s = *restored
	return nil
}
