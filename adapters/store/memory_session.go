package store

import (
	"context"
	"sync"

	"github.com/arkrelay/gateway/core"
	"github.com/arkrelay/gateway/ports"
)

// MemorySessionStore is an in-memory implementation of SessionStore.
// Update holds the store lock for the duration of the callback, which
// gives per-session compare-and-set semantics.
type MemorySessionStore struct {
	sessions map[string]*core.Session
	mu       sync.RWMutex
}

// NewMemorySessionStore creates a new in-memory session store
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]*core.Session),
	}
}

// Put stores a new session
func (s *MemorySessionStore) Put(ctx context.Context, sess *core.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.ID]; exists {
		return core.ErrAlreadyExists
	}
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

// Get returns a copy of the session
func (s *MemorySessionStore) Get(ctx context.Context, id string) (*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return sess.Clone(), nil
}

// Update applies fn to a working copy and swaps it in only when fn
// succeeds, so a failed callback leaves the stored session untouched
func (s *MemorySessionStore) Update(ctx context.Context, id string, fn func(*core.Session) error) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, core.ErrNotFound
	}

	work := sess.Clone()
	if err := fn(work); err != nil {
		return nil, err
	}
	s.sessions[id] = work
	return work.Clone(), nil
}

// ListNonTerminal returns copies of all sessions still in flight
func (s *MemorySessionStore) ListNonTerminal(ctx context.Context) ([]*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*core.Session
	for _, sess := range s.sessions {
		if !sess.Status.Terminal() {
			out = append(out, sess.Clone())
		}
	}
	return out, nil
}

var _ ports.SessionStore = (*MemorySessionStore)(nil)
