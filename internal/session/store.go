package session

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrExists   = errors.New("session already exists")
)

// Store persists sessions. Save must be atomic: either the whole session is
// stored or nothing is. Implementations hand out copies, never shared state.
type Store interface {
	// Create makes a new session from the store's slot definitions. An empty
	// id is replaced by a generated one.
	Create(ctx context.Context, id string) (*Session, error)
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
	Close() error
}

// Template describes how stores build new sessions.
type Template struct {
	Slots           []Slot
	MaxEventHistory int
}

// Build returns a fresh session for id.
func (t Template) Build(id string) *Session {
	return New(id, t.Slots, WithMaxEventHistory(t.MaxEventHistory))
}
