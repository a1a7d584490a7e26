package policy

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ent0n29/converse/internal/action"
	"github.com/ent0n29/converse/internal/config"
	"github.com/ent0n29/converse/internal/session"
)

var defaultBlockedPatterns = []string{
	`(?i)\b(exfiltrate|steal|dump credentials|leak secrets?)\b`,
	`(?i)\b(print|show|reveal|give me)\b.*\b(api[_ -]?key|token|password|secret)s?\b`,
	`(?i)\bignore (all )?(previous|prior) instructions\b`,
}

// Guard refuses user messages that match blocked patterns. With disable set
// it also archives the session.
type Guard struct {
	name     string
	patterns []*regexp.Regexp
	refusal  []action.Action
}

func newGuard(cfg config.Policy, deps Deps) (Policy, error) {
	var opts struct {
		Message  string   `yaml:"message"`
		Patterns []string `yaml:"patterns"`
		Disable  bool     `yaml:"disable"`
	}
	opts.Message = "Sorry, I can't help with that."
	if err := cfg.Decode(&opts); err != nil {
		return nil, err
	}
	if len(opts.Patterns) == 0 {
		opts.Patterns = defaultBlockedPatterns
	}

	g := &Guard{name: cfg.Name}
	for _, raw := range opts.Patterns {
		re, err := regexp.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("guard pattern %q: %w", raw, err)
		}
		g.patterns = append(g.patterns, re)
	}

	refs := []action.Ref{
		{Name: "bot_utter", Args: map[string]any{"message": opts.Message}},
		{Name: action.Listen},
	}
	if opts.Disable {
		refs = []action.Ref{{Name: action.DisableSession, Args: map[string]any{"message": opts.Message, "reason": "blocked"}}}
	}
	var err error
	if g.refusal, err = resolveActions(refs, deps); err != nil {
		return nil, err
	}
	return g, nil
}

// Blocked reports whether text matches one of the guard's patterns.
func (g *Guard) Blocked(text string) bool {
	in := strings.TrimSpace(text)
	if in == "" {
		return false
	}
	for _, re := range g.patterns {
		if re.MatchString(in) {
			return true
		}
	}
	return false
}

func (g *Guard) Name() string { return g.name }

func (g *Guard) Run(_ context.Context, s *session.Session) (*Prediction, error) {
	msg, ok := s.LastUserUttered()
	if !ok || !g.Blocked(msg.Text) {
		return nil, nil
	}
	if len(firedSince(s, g.name, "guard")) > 0 {
		return nil, nil
	}
	return &Prediction{PolicyName: g.name, Actions: g.refusal, Metadata: map[string]any{"guard": "blocked"}}, nil
}
