// Package session owns the ceremony session state machine. All status
// changes go through compare-and-set updates against the session
// store, so concurrent transitions (live ceremonies, the expiry sweep)
// can never overwrite each other.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/arkrelay/gateway/core"
	"github.com/arkrelay/gateway/crypto"
	"github.com/arkrelay/gateway/ports"
)

// DefaultSessionTTL bounds how long a ceremony may stay open
const DefaultSessionTTL = 10 * time.Minute

// Manager validates and applies session state transitions
type Manager struct {
	sessions   ports.SessionStore
	challenges ports.ChallengeStore

	sessionTTL time.Duration
	now        func() time.Time
}

// NewManager creates a session manager. A zero ttl selects
// DefaultSessionTTL.
func NewManager(sessions ports.SessionStore, challenges ports.ChallengeStore, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Manager{
		sessions:   sessions,
		challenges: challenges,
		sessionTTL: ttl,
		now:        time.Now,
	}
}

// Create registers a new session in the `created` state. The intent
// payload is decoded once here; unknown session types or bad fields
// are rejected with ErrMalformedInput before anything is stored.
func (m *Manager) Create(ctx context.Context, userPubkey string, sessionType core.SessionType, rawIntent json.RawMessage) (*core.Session, error) {
	if _, err := crypto.ParsePublicKey(userPubkey); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	intent, err := core.DecodeIntent(sessionType, rawIntent)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	now := m.now()
	sess := &core.Session{
		ID:         uuid.New().String(),
		UserPubkey: userPubkey,
		Type:       sessionType,
		Intent:     intent,
		Status:     core.StatusCreated,
		CreatedAt:  now,
		ExpiresAt:  now.Add(m.sessionTTL),
		History: []core.StatusChange{
			{Status: core.StatusCreated, At: now, Reason: "session created"},
		},
	}
	if err := m.sessions.Put(ctx, sess); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	return sess, nil
}

// Get returns the session or ErrNotFound
func (m *Manager) Get(ctx context.Context, id string) (*core.Session, error) {
	return m.sessions.Get(ctx, id)
}

// UpdateStatus transitions a session along the state graph, failing
// with ErrInvalidTransition when the edge does not exist and
// ErrNotFound for unknown sessions
func (m *Manager) UpdateStatus(ctx context.Context, id string, next core.SessionStatus, reason string) (*core.Session, error) {
	return m.sessions.Update(ctx, id, func(s *core.Session) error {
		if !core.CanTransition(s.Status, next) {
			return fmt.Errorf("cannot move %s -> %s: %w", s.Status, next, core.ErrInvalidTransition)
		}
		m.applyTransition(s, next, reason)
		return nil
	})
}

// CompareAndSwap transitions id from expect to next, failing with
// ErrConflict when another writer moved the session first. Callers
// must treat a conflict as stale and re-read.
func (m *Manager) CompareAndSwap(ctx context.Context, id string, expect, next core.SessionStatus, reason string) (*core.Session, error) {
	return m.sessions.Update(ctx, id, func(s *core.Session) error {
		if s.Status != expect {
			return fmt.Errorf("status is %s, expected %s: %w", s.Status, expect, core.ErrConflict)
		}
		if !core.CanTransition(s.Status, next) {
			return fmt.Errorf("cannot move %s -> %s: %w", s.Status, next, core.ErrInvalidTransition)
		}
		m.applyTransition(s, next, reason)
		return nil
	})
}

// ValidateChallengeResponse verifies an external signature against the
// session's active challenge. On success the challenge is consumed
// (one-shot) and the session moves to `signing`. Verification failures
// transition the session per their cause and surface it to the caller.
func (m *Manager) ValidateChallengeResponse(ctx context.Context, id string, signature []byte) (*core.Session, error) {
	sess, err := m.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := m.now()
	if sess.Expired(now) {
		if swept, err := m.UpdateStatus(ctx, id, core.StatusExpired, "session ttl elapsed"); err == nil {
			sess = swept
		}
		return sess, fmt.Errorf("session %s: %w", id, core.ErrExpired)
	}
	if sess.Status.Terminal() {
		return sess, fmt.Errorf("session %s is %s: %w", id, sess.Status, core.ErrInvalidTransition)
	}

	ch, err := m.challenges.ActiveForSession(ctx, id)
	if errors.Is(err, core.ErrNoActiveChallenge) {
		failed, _ := m.UpdateStatus(ctx, id, core.StatusFailed, "no active challenge")
		if failed != nil {
			sess = failed
		}
		return sess, core.ErrNoActiveChallenge
	}
	if err != nil {
		return sess, fmt.Errorf("load challenge: %w", err)
	}

	if ch.Expired(now) {
		expired, _ := m.UpdateStatus(ctx, id, core.StatusExpired, "challenge ttl elapsed")
		if expired != nil {
			sess = expired
		}
		return sess, fmt.Errorf("challenge %s: %w", ch.ID, core.ErrExpired)
	}
	if ch.Consumed {
		// replay of an already-verified challenge; the session keeps
		// whatever state the first presentation drove it to
		return sess, core.ErrChallengeAlreadyConsumed
	}

	digest := crypto.Digest(ch.Context)
	if err := crypto.VerifyIntentSignature(sess.UserPubkey, digest[:], signature); err != nil {
		if errors.Is(err, core.ErrMalformedInput) {
			// a garbled submission is not a failed verification; the
			// signer may retry with a well-formed one
			return sess, err
		}
		failed, _ := m.UpdateStatus(ctx, id, core.StatusFailed, "signature verification failed")
		if failed != nil {
			sess = failed
		}
		return sess, err
	}

	if err := m.challenges.MarkConsumed(ctx, ch.ID); err != nil {
		// lost the consumption race to a concurrent presentation
		return sess, err
	}

	// a response implies the challenge reached the signer, so a
	// session still in challenge_sent advances through
	// awaiting_signature on its way to signing
	if sess.Status == core.StatusChallengeSent {
		advanced, err := m.CompareAndSwap(ctx, id, core.StatusChallengeSent, core.StatusAwaitingSignature, "signer responded")
		if err != nil {
			return sess, err
		}
		sess = advanced
	}
	signed, err := m.CompareAndSwap(ctx, id, core.StatusAwaitingSignature, core.StatusSigning, "signature verified")
	if err != nil {
		return sess, err
	}
	return signed, nil
}

// Complete finalizes a session from `signing`, the sole path to
// `completed`. The result is stored immutably alongside the terminal
// history entry.
func (m *Manager) Complete(ctx context.Context, id string, result map[string]any) (*core.Session, error) {
	return m.sessions.Update(ctx, id, func(s *core.Session) error {
		if s.Status != core.StatusSigning {
			return fmt.Errorf("cannot complete from %s: %w", s.Status, core.ErrInvalidTransition)
		}
		s.Result = result
		m.applyTransition(s, core.StatusCompleted, "ceremony completed")
		return nil
	})
}

// errSkipSweep marks a session that no longer qualifies at sweep time
var errSkipSweep = errors.New("skip sweep")

// CleanupExpired transitions every non-terminal session whose TTL has
// elapsed to `expired`, returning the count swept. The compare-and-set
// inside the store update means a session concurrently moving to a
// terminal state is skipped, never overwritten.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	candidates, err := m.sessions.ListNonTerminal(ctx)
	if err != nil {
		return 0, err
	}

	now := m.now()
	count := 0
	for _, sess := range candidates {
		if !sess.Expired(now) {
			continue
		}
		_, err := m.sessions.Update(ctx, sess.ID, func(s *core.Session) error {
			if s.Status.Terminal() || !s.Expired(now) {
				return errSkipSweep
			}
			m.applyTransition(s, core.StatusExpired, "session ttl elapsed")
			return nil
		})
		if errors.Is(err, errSkipSweep) {
			continue
		}
		if err != nil {
			log.WithError(err).WithField("session_id", sess.ID).Warn("session sweep failed")
			continue
		}
		count++
	}
	return count, nil
}

func (m *Manager) applyTransition(s *core.Session, next core.SessionStatus, reason string) {
	s.Status = next
	s.History = append(s.History, core.StatusChange{
		Status: next,
		At:     m.now(),
		Reason: reason,
	})
}

// SetNowFunc overrides the manager's time source, for tests
func (m *Manager) SetNowFunc(now func() time.Time) {
	m.now = now
}
