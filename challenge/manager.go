// Package challenge issues and tracks the single-use challenges a
// remote signer must answer to authorize a session's intent.
package challenge

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arkrelay/gateway/core"
	"github.com/arkrelay/gateway/crypto"
	"github.com/arkrelay/gateway/ports"
)

// DefaultChallengeTTL keeps challenges much shorter-lived than their
// sessions
const DefaultChallengeTTL = 2 * time.Minute

// Manager creates, resolves and expires challenges
type Manager struct {
	store ports.ChallengeStore
	ttl   time.Duration
	now   func() time.Time
}

// NewManager creates a challenge manager. A zero ttl selects
// DefaultChallengeTTL.
func NewManager(store ports.ChallengeStore, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}
	return &Manager{
		store: store,
		ttl:   ttl,
		now:   time.Now,
	}
}

// IntentDigest recomputes the canonical digest of a session's intent.
// The client-side signer computes the same digest independently, so
// the input shape here is part of the wire contract.
func IntentDigest(sess *core.Session) ([32]byte, error) {
	return crypto.DigestOf(map[string]any{
		"session_id":   sess.ID,
		"session_type": string(sess.Type),
		"user_pubkey":  sess.UserPubkey,
		"intent":       sess.Intent.Payload(),
	})
}

// CreateAndStore builds a challenge binding the session's intent
// digest (recomputed fresh, never trusted from the caller) and a
// random nonce, and stores it as the session's single active
// challenge, superseding any prior unconsumed one. The challenge TTL
// never extends past the session's own expiry.
func (m *Manager) CreateAndStore(ctx context.Context, sess *core.Session) (*core.Challenge, error) {
	digest, err := IntentDigest(sess)
	if err != nil {
		return nil, fmt.Errorf("intent digest: %w", err)
	}

	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	context, err := crypto.Canonicalize(map[string]any{
		"session_id":    sess.ID,
		"intent_digest": hex.EncodeToString(digest[:]),
		"nonce":         hex.EncodeToString(nonce),
	})
	if err != nil {
		return nil, fmt.Errorf("build challenge context: %w", err)
	}

	now := m.now()
	expiresAt := now.Add(m.ttl)
	if expiresAt.After(sess.ExpiresAt) {
		expiresAt = sess.ExpiresAt
	}

	ch := &core.Challenge{
		ID:        uuid.New().String(),
		SessionID: sess.ID,
		Context:   context,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}
	if err := m.store.Save(ctx, ch); err != nil {
		return nil, fmt.Errorf("store challenge: %w", err)
	}
	return ch, nil
}

// Get returns the challenge, distinguishing unknown ids from expired
// ones
func (m *Manager) Get(ctx context.Context, id string) (*core.Challenge, error) {
	ch, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ch.Expired(m.now()) {
		return nil, fmt.Errorf("challenge %s: %w", id, core.ErrExpired)
	}
	return ch, nil
}

// ActiveForSession returns the session's current challenge, or
// ErrNoActiveChallenge
func (m *Manager) ActiveForSession(ctx context.Context, sessionID string) (*core.Challenge, error) {
	return m.store.ActiveForSession(ctx, sessionID)
}

// Consume marks the challenge consumed, one-shot
func (m *Manager) Consume(ctx context.Context, id string) error {
	return m.store.MarkConsumed(ctx, id)
}

// CleanupExpired reclaims expired challenges, returning the count
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	return m.store.DeleteExpired(ctx, m.now())
}

// SetNowFunc overrides the manager's time source, for tests
func (m *Manager) SetNowFunc(now func() time.Time) {
	m.now = now
}
