package policy

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/ent0n29/converse/internal/action"
	"github.com/ent0n29/converse/internal/config"
	"github.com/ent0n29/converse/internal/remote"
	"github.com/ent0n29/converse/internal/session"
)

// Remote delegates the decision to an HTTP service, typically one backed by
// a language model. The service receives the session state and the actions
// it may pick from.
type Remote struct {
	name    string
	client  remote.Poster
	actions *action.Registry
	listen  action.Action
}

type remoteRequest struct {
	SessionID    string            `json:"session_id"`
	Policy       string            `json:"policy"`
	Slots        map[string]any    `json:"slots"`
	Conversation []session.Message `json:"conversation"`
	Latest       *remoteUtterance  `json:"latest_message,omitempty"`
	Actions      []action.Info     `json:"actions"`
}

type remoteUtterance struct {
	Text      string            `json:"text"`
	ParseData session.ParseData `json:"parse_data"`
}

type remoteResponse struct {
	Actions []action.Ref `json:"actions"`
	Text    string       `json:"text"`
}

func NewRemote(name string, client remote.Poster, actions *action.Registry) (*Remote, error) {
	listen, err := actions.New(action.Listen, nil)
	if err != nil {
		return nil, err
	}
	return &Remote{name: name, client: client, actions: actions, listen: listen}, nil
}

func newRemote(cfg config.Policy, deps Deps) (Policy, error) {
	var opts struct {
		URL         string        `yaml:"url"`
		FallbackURL string        `yaml:"fallback_url"`
		Timeout     time.Duration `yaml:"timeout"`
	}
	if err := cfg.Decode(&opts); err != nil {
		return nil, err
	}
	if strings.TrimSpace(opts.URL) == "" {
		return nil, errors.New("remote policy requires url")
	}
	client := remote.NewFailover(remote.New("policy "+cfg.Name, opts.URL, opts.Timeout), opts.FallbackURL)
	return NewRemote(cfg.Name, client, deps.Actions)
}

func (p *Remote) Name() string { return p.name }

func (p *Remote) Run(ctx context.Context, s *session.Session) (*Prediction, error) {
	req := remoteRequest{
		SessionID:    s.ID(),
		Policy:       p.name,
		Slots:        s.SlotValues(),
		Conversation: s.ConversationMessages(),
		Actions:      p.actions.Describe(),
	}
	if msg, ok := s.LastUserUttered(); ok {
		req.Latest = &remoteUtterance{Text: msg.Text, ParseData: msg.ParseData}
	}

	body, err := p.client.Post(ctx, req)
	if err != nil {
		return nil, err
	}

	var res remoteResponse
	if err := json.Unmarshal(body, &res); err != nil {
		// Plain text answers are spoken and the turn ends.
		res = remoteResponse{Text: strings.TrimSpace(string(body))}
	} else if res.Text == "" && len(res.Actions) == 0 {
		var loose map[string]any
		if json.Unmarshal(body, &loose) == nil {
			res.Text = remote.ExtractText(loose)
		}
	}

	if len(res.Actions) > 0 {
		actions, err := p.actions.Resolve(res.Actions)
		if err != nil {
			return nil, err
		}
		return &Prediction{PolicyName: p.name, Actions: actions}, nil
	}
	if res.Text == "" {
		return nil, nil
	}
	utter, err := p.actions.New("bot_utter", map[string]any{"message": res.Text})
	if err != nil {
		return nil, err
	}
	return &Prediction{PolicyName: p.name, Actions: []action.Action{utter, p.listen}}, nil
}
