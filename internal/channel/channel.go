// Package channel delivers bot output to users.
package channel

import (
	"context"
	"fmt"
	"strings"

	"github.com/ent0n29/converse/internal/protocol"
)

type (
	BotMessage = protocol.BotPayload
	Button     = protocol.Button
	Element    = protocol.Element
)

// OutputChannel is what actions use to talk to the user. Implementations must
// be safe for concurrent use: actions of different predictions send at the
// same time.
type OutputChannel interface {
	Name() string
	SendText(ctx context.Context, text string) error
	SendButtons(ctx context.Context, text string, buttons []Button) error
	SendQuickReplies(ctx context.Context, text string, replies []Button) error
	SendCustom(ctx context.Context, payload map[string]any) error
	SendImage(ctx context.Context, url string) error
	SendAttachment(ctx context.Context, attachment string) error
	SendElements(ctx context.Context, elements []Element) error
}

// Send renders msg through the matching OutputChannel method.
func Send(ctx context.Context, out OutputChannel, msg BotMessage) error {
	switch msg.Kind {
	case protocol.KindText, "":
		return out.SendText(ctx, msg.Text)
	case protocol.KindButtons:
		return out.SendButtons(ctx, msg.Text, msg.Buttons)
	case protocol.KindQuickReplies:
		return out.SendQuickReplies(ctx, msg.Text, msg.Buttons)
	case protocol.KindImage:
		return out.SendImage(ctx, msg.Image)
	case protocol.KindAttachment:
		return out.SendAttachment(ctx, msg.Attachment)
	case protocol.KindElements:
		return out.SendElements(ctx, msg.Elements)
	case protocol.KindCustom:
		return out.SendCustom(ctx, msg.Custom)
	default:
		return fmt.Errorf("unknown bot message kind %q", msg.Kind)
	}
}

// Emitter turns every Send* call into a BotMessage handed to Emit. Text is
// split on blank lines into separate messages.
type Emitter struct {
	ChannelName string
	Emit        func(ctx context.Context, msg BotMessage) error
}

func (e Emitter) Name() string { return e.ChannelName }

func (e Emitter) SendText(ctx context.Context, text string) error {
	for _, part := range strings.Split(strings.TrimSpace(text), "\n\n") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if err := e.Emit(ctx, BotMessage{Kind: protocol.KindText, Text: part}); err != nil {
			return err
		}
	}
	return nil
}

func (e Emitter) SendButtons(ctx context.Context, text string, buttons []Button) error {
	return e.Emit(ctx, BotMessage{Kind: protocol.KindButtons, Text: text, Buttons: buttons})
}

func (e Emitter) SendQuickReplies(ctx context.Context, text string, replies []Button) error {
	return e.Emit(ctx, BotMessage{Kind: protocol.KindQuickReplies, Text: text, Buttons: replies})
}

func (e Emitter) SendCustom(ctx context.Context, payload map[string]any) error {
	return e.Emit(ctx, BotMessage{Kind: protocol.KindCustom, Custom: payload})
}

func (e Emitter) SendImage(ctx context.Context, url string) error {
	return e.Emit(ctx, BotMessage{Kind: protocol.KindImage, Image: url})
}

func (e Emitter) SendAttachment(ctx context.Context, attachment string) error {
	return e.Emit(ctx, BotMessage{Kind: protocol.KindAttachment, Attachment: attachment})
}

func (e Emitter) SendElements(ctx context.Context, elements []Element) error {
	return e.Emit(ctx, BotMessage{Kind: protocol.KindElements, Elements: elements})
}

// Discard drops all output.
var Discard OutputChannel = Emitter{
	ChannelName: "discard",
	Emit:        func(context.Context, BotMessage) error { return nil },
}
