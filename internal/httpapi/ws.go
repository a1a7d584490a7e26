package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/converse/internal/channel"
	"github.com/ent0n29/converse/internal/logging"
	"github.com/ent0n29/converse/internal/processor"
	"github.com/ent0n29/converse/internal/protocol"
)

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	log := logging.Session(sessionID)
	log.Debug().Msg("websocket connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 64)
	outbound := make(chan any, 256)
	out := channel.NewWebSocket(sessionID, outbound, ctx.Done())

	turnsDone := make(chan struct{})
	go func() {
		defer close(turnsDone)
		s.runTurns(ctx, sessionID, inbound, outbound, out)
	}()

	writeTimeout := s.cfg.WSWriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.deps.Metrics.ObserveWS("outbound", string(t))
				}
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			queue(outbound, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Detail:    err.Error(),
			})
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.deps.Metrics.ObserveWS("inbound", string(t))
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-turnsDone
	<-writerDone
	log.Debug().Msg("websocket disconnected")
}

// runTurns handles inbound frames one at a time so replies of a turn are
// never interleaved with the next one.
func (s *Server) runTurns(ctx context.Context, sessionID string, inbound <-chan any, outbound chan<- any, out *channel.WebSocket) {
	for msg := range inbound {
		switch m := msg.(type) {
		case protocol.UserMessage:
			err := s.deps.Processor.HandleMessage(ctx, processor.UserMessage{
				SessionID:    sessionID,
				Text:         m.Text,
				MessageID:    m.MessageID,
				InputChannel: out.Name(),
				ParseData:    m.ParseData,
				Metadata:     m.Metadata,
				Output:       out,
			})
			status := "listening"
			if err != nil {
				status = "error"
				if errors.Is(err, processor.ErrSessionInactive) {
					status = "inactive"
				}
				_, code := turnErrorStatus(err)
				send(ctx, outbound, protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					SessionID: sessionID,
					Code:      code,
					Retryable: code == "turn_cancelled",
					Detail:    err.Error(),
				})
			}
			send(ctx, outbound, protocol.TurnEnd{
				Type:      protocol.TypeTurnEnd,
				SessionID: sessionID,
				MessageID: m.MessageID,
				Status:    status,
			})
		case protocol.ClientControl:
			s.handleControl(ctx, sessionID, m, outbound, out)
		}
	}
}

func (s *Server) handleControl(ctx context.Context, sessionID string, m protocol.ClientControl, outbound chan<- any, out *channel.WebSocket) {
	event := protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: sessionID}
	switch m.Action {
	case "start":
		if _, err := s.deps.Processor.StartSession(ctx, sessionID, out); err != nil {
			event.Code, event.Detail = "start_failed", err.Error()
		} else {
			event.Code = "session_started"
		}
	case "ping":
		event.Code = "pong"
	default:
		event.Code, event.Detail = "unknown_control", m.Action
	}
	send(ctx, outbound, event)
}

func send(ctx context.Context, outbound chan<- any, msg any) {
	select {
	case outbound <- msg:
	case <-ctx.Done():
	}
}

// queue drops msg when the outbound queue is full so the read loop never
// blocks on the writer.
func queue(outbound chan<- any, msg any) {
	select {
	case outbound <- msg:
	default:
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.UserMessage:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.BotMessage:
		return m.Type, true
	case protocol.TurnEnd:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
