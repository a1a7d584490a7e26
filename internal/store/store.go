// Package store opens the configured session store backend.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ent0n29/converse/internal/config"
	"github.com/ent0n29/converse/internal/session"
)

type Options struct {
	Backend     string
	Dir         string
	SQLitePath  string
	DatabaseURL string
	Template    session.Template
}

// OptionsFromConfig maps service configuration onto store options.
func OptionsFromConfig(cfg config.Config, template session.Template) Options {
	return Options{
		Backend:     cfg.ResolvedStore(),
		Dir:         cfg.SessionStoreDir,
		SQLitePath:  cfg.SQLitePath,
		DatabaseURL: cfg.DatabaseURL,
		Template:    template,
	}
}

// Open returns the store for opts.Backend, defaulting to memory.
func Open(ctx context.Context, opts Options) (session.Store, error) {
	switch opts.Backend {
	case "", config.StoreAuto, config.StoreMemory:
		if opts.Backend == config.StoreAuto && opts.DatabaseURL != "" {
			return NewPostgres(ctx, opts.DatabaseURL, opts.Template)
		}
		return session.NewMemoryStore(opts.Template), nil
	case config.StoreFile:
		return NewFile(opts.Dir, opts.Template)
	case config.StoreSQLite:
		return NewSQLite(ctx, opts.SQLitePath, opts.Template)
	case config.StorePostgres:
		return NewPostgres(ctx, opts.DatabaseURL, opts.Template)
	default:
		return nil, fmt.Errorf("unknown session store %q", opts.Backend)
	}
}

func encode(s *session.Session) ([]byte, error) {
	doc, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode session %s: %w", s.ID(), err)
	}
	return doc, nil
}

func decode(doc []byte) (*session.Session, error) {
	var s session.Session
	if err := json.Unmarshal(doc, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
