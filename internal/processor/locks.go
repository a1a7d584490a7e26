package processor

import (
	"context"
	"sync"
)

// lockRegistry hands out one mutex per session id. Entries live only while
// someone holds or waits for them.
type lockRegistry struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	ch   chan struct{}
	refs int
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{locks: make(map[string]*sessionLock)}
}

// acquire blocks until the session's lock is held or ctx ends. The returned
// func releases it.
func (r *lockRegistry) acquire(ctx context.Context, id string) (func(), error) {
	r.mu.Lock()
	l, ok := r.locks[id]
	if !ok {
		l = &sessionLock{ch: make(chan struct{}, 1)}
		r.locks[id] = l
	}
	l.refs++
	r.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-l.ch
				r.drop(id, l)
			})
		}, nil
	case <-ctx.Done():
		r.drop(id, l)
		return nil, ctx.Err()
	}
}

func (r *lockRegistry) drop(id string, l *sessionLock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l.refs--
	if l.refs == 0 && r.locks[id] == l {
		delete(r.locks, id)
	}
}

func (r *lockRegistry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}
