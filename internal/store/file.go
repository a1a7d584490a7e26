package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/converse/internal/session"
)

// FileStore keeps one JSON document per session. Writes go to a temp file
// that is renamed into place.
type FileStore struct {
	dir      string
	template session.Template

	mu    sync.Mutex
	locks map[string]*fileLock
}

// fileLock is dropped from the map once nobody holds or waits for it.
type fileLock struct {
	sync.Mutex
	refs int
}

func NewFile(dir string, template session.Template) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("file store requires a directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &FileStore{dir: dir, template: template, locks: make(map[string]*fileLock)}, nil
}

func (f *FileStore) path(id string) string {
	return filepath.Join(f.dir, url.PathEscape(id)+".json")
}

func (f *FileStore) lock(id string) func() {
	f.mu.Lock()
	l, ok := f.locks[id]
	if !ok {
		l = &fileLock{}
		f.locks[id] = l
	}
	l.refs++
	f.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		f.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(f.locks, id)
		}
		f.mu.Unlock()
	}
}

func (f *FileStore) lockRefs(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.locks[id]; ok {
		return l.refs
	}
	return 0
}

func (f *FileStore) Create(ctx context.Context, id string) (*session.Session, error) {
	if id == "" {
		id = uuid.NewString()
	}
	unlock := f.lock(id)
	defer unlock()

	if _, err := os.Stat(f.path(id)); err == nil {
		return nil, session.ErrExists
	}
	s := f.template.Build(id)
	if err := f.write(s); err != nil {
		return nil, err
	}
	return s, nil
}

func (f *FileStore) Get(_ context.Context, id string) (*session.Session, error) {
	unlock := f.lock(id)
	defer unlock()

	data, err := os.ReadFile(f.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, session.ErrNotFound
		}
		return nil, fmt.Errorf("read session %s: %w", id, err)
	}
	s, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return s, nil
}

func (f *FileStore) Save(_ context.Context, s *session.Session) error {
	unlock := f.lock(s.ID())
	defer unlock()
	return f.write(s)
}

func (f *FileStore) write(s *session.Session) error {
	data, err := encode(s)
	if err != nil {
		return err
	}
	target := f.path(s.ID())
	tmp, err := os.CreateTemp(f.dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write session %s: %w", s.ID(), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename session file: %w", err)
	}
	return nil
}

func (f *FileStore) Delete(_ context.Context, id string) error {
	unlock := f.lock(id)
	defer unlock()

	if err := os.Remove(f.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

func (f *FileStore) List(context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id, err := url.PathUnescape(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// FileStats describes what is on disk.
type FileStats struct {
	Sessions int       `json:"sessions"`
	Bytes    int64     `json:"bytes"`
	Oldest   time.Time `json:"oldest,omitempty"`
	Newest   time.Time `json:"newest,omitempty"`
}

// Stats counts the session documents and their total size. Oldest and
// Newest are file modification times.
func (f *FileStore) Stats(context.Context) (FileStats, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return FileStats{}, fmt.Errorf("session stats: %w", err)
	}
	var st FileStats
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		st.Sessions++
		st.Bytes += info.Size()
		if mod := info.ModTime(); st.Oldest.IsZero() || mod.Before(st.Oldest) {
			st.Oldest = mod
		}
		if mod := info.ModTime(); mod.After(st.Newest) {
			st.Newest = mod
		}
	}
	return st, nil
}

func (f *FileStore) Close() error { return nil }
