package nlu

import (
	"context"
	"time"

	"github.com/ent0n29/converse/internal/remote"
	"github.com/ent0n29/converse/internal/session"
)

// Remote asks an HTTP service to parse the message. The service answers with
// a parse data document.
type Remote struct {
	client remote.Poster
}

// NewRemote calls url, switching to fallbackURL (when set) if url fails.
func NewRemote(url, fallbackURL string, timeout time.Duration) *Remote {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Remote{client: remote.NewFailover(remote.New("nlu", url, timeout), fallbackURL)}
}

func (r *Remote) Parse(ctx context.Context, text string, s *session.Session) (session.ParseData, error) {
	req := struct {
		Text      string         `json:"text"`
		SessionID string         `json:"session_id,omitempty"`
		Slots     map[string]any `json:"slots,omitempty"`
	}{Text: text}
	if s != nil {
		req.SessionID = s.ID()
		req.Slots = s.SlotValues()
	}
	var out session.ParseData
	if err := r.client.PostJSON(ctx, req, &out); err != nil {
		return session.ParseData{}, err
	}
	return out, nil
}
