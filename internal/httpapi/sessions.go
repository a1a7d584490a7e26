package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/converse/internal/action"
	"github.com/ent0n29/converse/internal/channel"
	"github.com/ent0n29/converse/internal/processor"
	"github.com/ent0n29/converse/internal/reliability"
	"github.com/ent0n29/converse/internal/session"
)

type createSessionRequest struct {
	SessionID string `json:"session_id"`
}

type sessionSummary struct {
	SessionID    string         `json:"session_id"`
	Status       session.Status `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
	LastActive   time.Time      `json:"last_active"`
	MessageCount int            `json:"message_count"`
	CurrentStep  any            `json:"current_step,omitempty"`
}

type sessionDetail struct {
	sessionSummary
	Slots    map[string]any `json:"slots"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type messageRequest struct {
	Text      string             `json:"text"`
	MessageID string             `json:"message_id"`
	ParseData *session.ParseData `json:"parse_data"`
	Metadata  map[string]any     `json:"metadata"`
}

type messageResponse struct {
	SessionID string               `json:"session_id"`
	MessageID string               `json:"message_id"`
	Status    session.Status       `json:"status"`
	Messages  []channel.BotMessage `json:"messages"`
	Error     *errorResponse       `json:"error,omitempty"`
}

func summarize(s *session.Session) sessionSummary {
	step, _ := s.SlotValue(action.StepSlot)
	return sessionSummary{
		SessionID:    s.ID(),
		Status:       s.Status(),
		CreatedAt:    s.CreatedAt(),
		LastActive:   s.LastActivity(),
		MessageCount: s.MessageCount(),
		CurrentStep:  step,
	}
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	out := channel.NewCollecting()
	sess, err := s.deps.Processor.StartSession(r.Context(), strings.TrimSpace(req.SessionID), out)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "create_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"session":  summarize(sess),
		"messages": nonNil(out.Messages()),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.deps.Store.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	out := make([]sessionSummary, 0, len(ids))
	for _, id := range ids {
		sess, err := s.deps.Store.Get(r.Context(), id)
		if errors.Is(err, session.ErrNotFound) {
			continue
		}
		if err != nil {
			respondError(w, http.StatusInternalServerError, "list_failed", err.Error())
			return
		}
		out = append(out, summarize(sess))
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// loadSession writes the error response itself and returns nil when the
// session cannot be served.
func (s *Server) loadSession(w http.ResponseWriter, r *http.Request) *session.Session {
	id := chi.URLParam(r, "id")
	sess, err := s.deps.Store.Get(r.Context(), id)
	if errors.Is(err, session.ErrNotFound) {
		respondError(w, http.StatusNotFound, "session_not_found", "session "+id+" not found")
		return nil
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return nil
	}
	return sess
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess := s.loadSession(w, r)
	if sess == nil {
		return
	}
	respondJSON(w, http.StatusOK, sessionDetail{
		sessionSummary: summarize(sess),
		Slots:          sess.SlotValues(),
		Metadata:       sess.Metadata(),
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.deps.Processor.DeleteSession(r.Context(), id)
	if errors.Is(err, session.ErrNotFound) {
		respondError(w, http.StatusNotFound, "session_not_found", "session "+id+" not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "delete_failed", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseAfter accepts RFC 3339 or unix seconds.
func parseAfter(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return time.Time{}, errors.New("after must be RFC 3339 or unix seconds")
	}
	return time.Unix(0, int64(secs*float64(time.Second))).UTC(), nil
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	after, err := parseAfter(r.URL.Query().Get("after"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_after", err.Error())
		return
	}
	sess := s.loadSession(w, r)
	if sess == nil {
		return
	}
	events, err := session.MarshalEvents(sess.EventsAfter(after))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "encode_failed", err.Error())
		return
	}
	if events == nil {
		events = []json.RawMessage{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"session_id": sess.ID(), "events": events})
}

func (s *Server) handleListSlots(w http.ResponseWriter, r *http.Request) {
	sess := s.loadSession(w, r)
	if sess == nil {
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"session_id": sess.ID(), "slots": sess.Slots()})
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	sess := s.loadSession(w, r)
	if sess == nil {
		return
	}
	messages := sess.ConversationMessages()
	if messages == nil {
		messages = []session.Message{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"session_id": sess.ID(), "messages": messages})
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req messageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" && req.ParseData == nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}

	out := channel.NewCollecting()
	msg := processor.UserMessage{
		SessionID:    id,
		Text:         req.Text,
		MessageID:    req.MessageID,
		InputChannel: "rest",
		ParseData:    req.ParseData,
		Metadata:     req.Metadata,
		Output:       out,
	}
	err := s.deps.Processor.HandleMessage(r.Context(), msg)

	res := messageResponse{SessionID: id, MessageID: req.MessageID, Messages: nonNil(out.Messages())}
	if sess, getErr := s.deps.Store.Get(context.WithoutCancel(r.Context()), id); getErr == nil {
		res.Status = sess.Status()
		if last, ok := sess.LastUserUttered(); ok && res.MessageID == "" {
			res.MessageID = last.MessageID
		}
	}
	if err == nil {
		respondJSON(w, http.StatusOK, res)
		return
	}

	status, code := turnErrorStatus(err)
	res.Error = &errorResponse{Error: err.Error(), Code: code}
	respondJSON(w, status, res)
}

func turnErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, processor.ErrSessionInactive):
		return http.StatusConflict, "session_inactive"
	case errors.Is(err, processor.ErrTooManyPredictions):
		return http.StatusInternalServerError, "too_many_predictions"
	case reliability.IsFatal(err):
		return http.StatusInternalServerError, "fatal_turn_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "turn_cancelled"
	default:
		return http.StatusInternalServerError, "turn_failed"
	}
}

func nonNil(msgs []channel.BotMessage) []channel.BotMessage {
	if msgs == nil {
		return []channel.BotMessage{}
	}
	return msgs
}
