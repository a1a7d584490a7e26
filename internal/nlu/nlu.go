// Package nlu turns user text into intents and entities.
package nlu

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/converse/internal/config"
	"github.com/ent0n29/converse/internal/session"
)

var ErrUnknownParser = errors.New("unknown nlu type")

// Parser interprets one user message. The session is the state before the
// message is recorded.
type Parser interface {
	Parse(ctx context.Context, text string, s *session.Session) (session.ParseData, error)
}

// New builds the parser described by cfg. An empty type means keyword.
func New(cfg config.NLU) (Parser, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "", "keyword":
		return NewKeyword(cfg)
	case "remote":
		if strings.TrimSpace(cfg.URL) == "" {
			return nil, errors.New("remote nlu requires url")
		}
		return NewRemote(cfg.URL, cfg.FallbackURL, cfg.Timeout), nil
	case "none":
		return None{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownParser, cfg.Type)
	}
}

// None never detects anything. Clients are expected to send parse data.
type None struct{}

func (None) Parse(context.Context, string, *session.Session) (session.ParseData, error) {
	return session.ParseData{}, nil
}
