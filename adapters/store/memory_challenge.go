package store

import (
	"context"
	"sync"
	"time"

	"github.com/arkrelay/gateway/core"
	"github.com/arkrelay/gateway/ports"
)

// MemoryChallengeStore is an in-memory implementation of
// ChallengeStore, tracking the single active challenge per session
type MemoryChallengeStore struct {
	challenges map[string]*core.Challenge
	active     map[string]string // session id -> challenge id
	mu         sync.RWMutex
}

// NewMemoryChallengeStore creates a new in-memory challenge store
func NewMemoryChallengeStore() *MemoryChallengeStore {
	return &MemoryChallengeStore{
		challenges: make(map[string]*core.Challenge),
		active:     make(map[string]string),
	}
}

// Save stores ch and supersedes any prior unconsumed challenge for the
// same session
func (s *MemoryChallengeStore) Save(ctx context.Context, ch *core.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prevID, ok := s.active[ch.SessionID]; ok {
		if prev, ok := s.challenges[prevID]; ok && !prev.Consumed {
			delete(s.challenges, prevID)
		}
	}

	dup := *ch
	dup.Context = append([]byte(nil), ch.Context...)
	s.challenges[ch.ID] = &dup
	s.active[ch.SessionID] = ch.ID
	return nil
}

// Get returns a copy of the challenge
func (s *MemoryChallengeStore) Get(ctx context.Context, id string) (*core.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ch, ok := s.challenges[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return cloneChallenge(ch), nil
}

// ActiveForSession returns the session's current challenge
func (s *MemoryChallengeStore) ActiveForSession(ctx context.Context, sessionID string) (*core.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.active[sessionID]
	if !ok {
		return nil, core.ErrNoActiveChallenge
	}
	ch, ok := s.challenges[id]
	if !ok {
		return nil, core.ErrNoActiveChallenge
	}
	return cloneChallenge(ch), nil
}

// MarkConsumed flips the one-shot consumed flag
func (s *MemoryChallengeStore) MarkConsumed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.challenges[id]
	if !ok {
		return core.ErrNotFound
	}
	if ch.Consumed {
		return core.ErrChallengeAlreadyConsumed
	}
	ch.Consumed = true
	return nil
}

// DeleteExpired removes challenges whose TTL elapsed before now
func (s *MemoryChallengeStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, ch := range s.challenges {
		if ch.Expired(now) {
			delete(s.challenges, id)
			if s.active[ch.SessionID] == id {
				delete(s.active, ch.SessionID)
			}
			count++
		}
	}
	return count, nil
}

func cloneChallenge(ch *core.Challenge) *core.Challenge {
	dup := *ch
	dup.Context = append([]byte(nil), ch.Context...)
	return &dup
}

var _ ports.ChallengeStore = (*MemoryChallengeStore)(nil)
