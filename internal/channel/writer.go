package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ent0n29/converse/internal/protocol"
)

// NewWriter renders every message as plain text lines on w.
func NewWriter(w io.Writer, prefix string) OutputChannel {
	var mu sync.Mutex
	return Emitter{
		ChannelName: "cmdline",
		Emit: func(_ context.Context, msg BotMessage) error {
			mu.Lock()
			defer mu.Unlock()
			_, err := io.WriteString(w, render(prefix, msg))
			return err
		},
	}
}

func render(prefix string, msg BotMessage) string {
	var b strings.Builder
	line := func(format string, args ...any) {
		b.WriteString(prefix)
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}

	switch msg.Kind {
	case protocol.KindButtons, protocol.KindQuickReplies:
		if msg.Text != "" {
			line("%s", msg.Text)
		}
		for i, btn := range msg.Buttons {
			line("%d: %s (%s)", i+1, btn.Title, btn.Payload)
		}
	case protocol.KindImage:
		line("Image: %s", msg.Image)
	case protocol.KindAttachment:
		line("Attachment: %s", msg.Attachment)
	case protocol.KindElements:
		for _, el := range msg.Elements {
			if el.Subtitle != "" {
				line("%s: %s", el.Title, el.Subtitle)
			} else {
				line("%s", el.Title)
			}
		}
	case protocol.KindCustom:
		raw, err := json.Marshal(msg.Custom)
		if err != nil {
			raw = []byte(fmt.Sprint(msg.Custom))
		}
		line("%s", raw)
	default:
		line("%s", msg.Text)
	}
	return b.String()
}
