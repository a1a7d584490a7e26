package channel

import (
	"context"
	"errors"

	"github.com/ent0n29/converse/internal/protocol"
)

var ErrChannelClosed = errors.New("output channel closed")

// WebSocket queues bot messages for a connection's writer goroutine, which
// owns the socket.
type WebSocket struct {
	Emitter

	sessionID string
	outbound  chan<- any
	done      <-chan struct{}
}

func NewWebSocket(sessionID string, outbound chan<- any, done <-chan struct{}) *WebSocket {
	ws := &WebSocket{sessionID: sessionID, outbound: outbound, done: done}
	ws.Emitter = Emitter{ChannelName: "websocket", Emit: ws.push}
	return ws
}

func (w *WebSocket) push(ctx context.Context, msg BotMessage) error {
	frame := protocol.BotMessage{
		Type:       protocol.TypeBotMessage,
		SessionID:  w.sessionID,
		BotPayload: msg,
	}
	select {
	case w.outbound <- frame:
		return nil
	case <-w.done:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
