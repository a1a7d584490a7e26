package policy

import (
	"context"
	"errors"
	"time"

	"github.com/ent0n29/converse/internal/action"
	"github.com/ent0n29/converse/internal/config"
	"github.com/ent0n29/converse/internal/session"
)

// QuickResponse sends a holding message after a short wait when nothing has
// answered the latest user message yet.
type QuickResponse struct {
	name  string
	wait  time.Duration
	reply action.Action
}

func NewQuickResponse(name string, wait time.Duration, reply action.Action) *QuickResponse {
	return &QuickResponse{name: name, wait: wait, reply: reply}
}

func newQuickResponse(cfg config.Policy, deps Deps) (Policy, error) {
	var opts struct {
		Message string        `yaml:"message"`
		Wait    time.Duration `yaml:"wait"`
	}
	opts.Wait = 500 * time.Millisecond
	if err := cfg.Decode(&opts); err != nil {
		return nil, err
	}
	if opts.Message == "" {
		return nil, errors.New("quick_response requires message")
	}
	reply, err := deps.Actions.New("bot_utter_quick_reply", map[string]any{"message": opts.Message})
	if err != nil {
		return nil, err
	}
	return NewQuickResponse(cfg.Name, opts.Wait, reply), nil
}

func (p *QuickResponse) Name() string { return p.name }

func (p *QuickResponse) Run(ctx context.Context, s *session.Session) (*Prediction, error) {
	if _, ok := s.LastUserUttered(); !ok || s.HasBotReplied() {
		return nil, nil
	}
	if p.wait > 0 {
		t := time.NewTimer(p.wait)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	return &Prediction{PolicyName: p.name, Actions: []action.Action{p.reply}}, nil
}
