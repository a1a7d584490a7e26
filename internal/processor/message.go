package processor

import (
	"strings"

	"github.com/google/uuid"

	"github.com/ent0n29/converse/internal/channel"
	"github.com/ent0n29/converse/internal/session"
)

// UserMessage is one inbound message. ParseData, when set, bypasses the NLU
// parser. Output defaults to channel.Discard.
type UserMessage struct {
	SessionID    string
	Text         string
	InputChannel string
	MessageID    string
	ParseData    *session.ParseData
	Metadata     map[string]any
	Output       channel.OutputChannel
}

func (m *UserMessage) normalize() {
	m.Text = strings.TrimSpace(m.Text)
	if m.MessageID == "" {
		m.MessageID = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	if m.InputChannel == "" && m.Output != nil {
		m.InputChannel = m.Output.Name()
	}
	if m.Output == nil {
		m.Output = channel.Discard
	}
}
