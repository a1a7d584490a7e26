package channel

import (
	"context"
	"sync"
)

// Collecting keeps every message in memory for synchronous callers.
type Collecting struct {
	Emitter

	mu       sync.Mutex
	messages []BotMessage
}

func NewCollecting() *Collecting {
	c := &Collecting{}
	c.Emitter = Emitter{ChannelName: "collector", Emit: c.collect}
	return c
}

func (c *Collecting) collect(_ context.Context, msg BotMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
	return nil
}

// Messages returns the messages collected so far.
func (c *Collecting) Messages() []BotMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]BotMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

// Texts returns the text of every collected message that has one.
func (c *Collecting) Texts() []string {
	var out []string
	for _, m := range c.Messages() {
		if m.Text != "" {
			out = append(out, m.Text)
		}
	}
	return out
}

func (c *Collecting) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
}
