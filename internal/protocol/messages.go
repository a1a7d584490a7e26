package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/converse/internal/session"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeUserMessage   MessageType = "user_message"
	TypeClientControl MessageType = "client_control"
	TypeBotMessage    MessageType = "bot_message"
	TypeTurnEnd       MessageType = "turn_end"
	TypeSystemEvent   MessageType = "system_event"
	TypeErrorEvent    MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type UserMessage struct {
	Type      MessageType        `json:"type"`
	SessionID string             `json:"session_id,omitempty"`
	MessageID string             `json:"message_id,omitempty"`
	Text      string             `json:"text"`
	ParseData *session.ParseData `json:"parse_data,omitempty"`
	Metadata  map[string]any     `json:"metadata,omitempty"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Action    string      `json:"action"`
}

// BotKind says how a bot payload should be rendered.
type BotKind string

const (
	KindText         BotKind = "text"
	KindButtons      BotKind = "buttons"
	KindQuickReplies BotKind = "quick_replies"
	KindImage        BotKind = "image"
	KindAttachment   BotKind = "attachment"
	KindElements     BotKind = "elements"
	KindCustom       BotKind = "custom"
)

type Button struct {
	Title   string `json:"title"`
	Payload string `json:"payload"`
}

type Element struct {
	Title    string   `json:"title"`
	Subtitle string   `json:"subtitle,omitempty"`
	ImageURL string   `json:"image_url,omitempty"`
	Buttons  []Button `json:"buttons,omitempty"`
}

// BotPayload is one rendered bot output.
type BotPayload struct {
	Kind       BotKind        `json:"kind"`
	Text       string         `json:"text,omitempty"`
	Buttons    []Button       `json:"buttons,omitempty"`
	Image      string         `json:"image,omitempty"`
	Attachment string         `json:"attachment,omitempty"`
	Elements   []Element      `json:"elements,omitempty"`
	Custom     map[string]any `json:"custom,omitempty"`
}

type BotMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	BotPayload
}

type TurnEnd struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	MessageID string      `json:"message_id,omitempty"`
	Status    string      `json:"status"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeUserMessage:
		var msg UserMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Text = strings.TrimSpace(msg.Text)
		if msg.Text == "" && msg.ParseData == nil {
			return nil, errors.New("invalid user_message: text is required")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
