package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ent0n29/converse/internal/session"
)

// PostgresStore persists sessions as JSONB documents in PostgreSQL.
type PostgresStore struct {
	pool     *pgxpool.Pool
	template session.Template
}

func NewPostgres(ctx context.Context, databaseURL string, template session.Template) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initPostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool, template: template}, nil
}

func initPostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS converse_sessions (
			session_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			document JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_converse_sessions_updated ON converse_sessions (updated_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (p *PostgresStore) Create(ctx context.Context, id string) (*session.Session, error) {
	if id == "" {
		id = uuid.NewString()
	}
	s := p.template.Build(id)
	doc, err := encode(s)
	if err != nil {
		return nil, err
	}
	tag, err := p.pool.Exec(ctx,
		`INSERT INTO converse_sessions (session_id, status, document, created_at)
		 VALUES ($1, $2, $3, $4) ON CONFLICT (session_id) DO NOTHING`,
		id, string(s.Status()), doc, s.CreatedAt())
	if err != nil {
		return nil, fmt.Errorf("create session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, session.ErrExists
	}
	return s, nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*session.Session, error) {
	var doc []byte
	err := p.pool.QueryRow(ctx, `SELECT document FROM converse_sessions WHERE session_id=$1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	s, err := decode(doc)
	if err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return s, nil
}

// Save replaces the whole document in one transaction.
func (p *PostgresStore) Save(ctx context.Context, s *session.Session) error {
	doc, err := encode(s)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO converse_sessions (session_id, status, document, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, now())
			 ON CONFLICT (session_id) DO UPDATE SET
				status = EXCLUDED.status,
				document = EXCLUDED.document,
				updated_at = now()`,
			s.ID(), string(s.Status()), doc, s.CreatedAt())
		if err != nil {
			return fmt.Errorf("save session %s: %w", s.ID(), err)
		}
		return nil
	})
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM converse_sessions WHERE session_id=$1`, id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT session_id FROM converse_sessions ORDER BY session_id`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
