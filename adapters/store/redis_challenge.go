package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arkrelay/gateway/core"
	"github.com/arkrelay/gateway/ports"
)

// RedisChallengeStore is a Redis implementation of ChallengeStore.
// Challenge records carry their TTL as key expiry, so Redis reclaims
// expired challenges on its own and DeleteExpired is a no-op.
type RedisChallengeStore struct {
	client *redis.Client
	prefix string
}

// NewRedisChallengeStore creates a new Redis challenge store
func NewRedisChallengeStore(client *redis.Client) *RedisChallengeStore {
	return &RedisChallengeStore{
		client: client,
		prefix: "gateway:challenge:",
	}
}

func (s *RedisChallengeStore) key(id string) string        { return s.prefix + id }
func (s *RedisChallengeStore) activeKey(sid string) string { return s.prefix + "active:" + sid }
func (s *RedisChallengeStore) consumedKey(id string) string {
	return s.prefix + "consumed:" + id
}

// Save stores the challenge and repoints the session's active pointer,
// deleting any prior unconsumed challenge for the session
func (s *RedisChallengeStore) Save(ctx context.Context, ch *core.Challenge) error {
	payload, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("marshal challenge: %w", err)
	}
	ttl := time.Until(ch.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("challenge already expired: %w", core.ErrExpired)
	}

	prevID, err := s.client.Get(ctx, s.activeKey(ch.SessionID)).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("load active challenge: %w", err)
	}

	pipe := s.client.TxPipeline()
	if prevID != "" && prevID != ch.ID {
		pipe.Del(ctx, s.key(prevID))
	}
	pipe.Set(ctx, s.key(ch.ID), payload, ttl)
	pipe.Set(ctx, s.activeKey(ch.SessionID), ch.ID, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store challenge: %w", err)
	}
	return nil
}

// Get retrieves a challenge by id
func (s *RedisChallengeStore) Get(ctx context.Context, id string) (*core.Challenge, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Result()
	if err == redis.Nil {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load challenge: %w", err)
	}
	var ch core.Challenge
	if err := json.Unmarshal([]byte(raw), &ch); err != nil {
		return nil, fmt.Errorf("decode challenge: %w", err)
	}
	consumed, err := s.client.Exists(ctx, s.consumedKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("check consumption: %w", err)
	}
	ch.Consumed = consumed > 0
	return &ch, nil
}

// ActiveForSession returns the session's current challenge
func (s *RedisChallengeStore) ActiveForSession(ctx context.Context, sessionID string) (*core.Challenge, error) {
	id, err := s.client.Get(ctx, s.activeKey(sessionID)).Result()
	if err == redis.Nil {
		return nil, core.ErrNoActiveChallenge
	}
	if err != nil {
		return nil, fmt.Errorf("load active challenge: %w", err)
	}
	ch, err := s.Get(ctx, id)
	if err == core.ErrNotFound {
		return nil, core.ErrNoActiveChallenge
	}
	return ch, err
}

// MarkConsumed sets the one-shot consumption marker. SETNX makes the
// first caller win even across gateway instances sharing the store.
func (s *RedisChallengeStore) MarkConsumed(ctx context.Context, id string) error {
	exists, err := s.client.Exists(ctx, s.key(id)).Result()
	if err != nil {
		return fmt.Errorf("check challenge: %w", err)
	}
	if exists == 0 {
		return core.ErrNotFound
	}
	// keep the marker alive past the challenge TTL so a late replay
	// still hits the consumed marker rather than NotFound
	ok, err := s.client.SetNX(ctx, s.consumedKey(id), "1", time.Hour).Result()
	if err != nil {
		return fmt.Errorf("mark consumed: %w", err)
	}
	if !ok {
		return core.ErrChallengeAlreadyConsumed
	}
	return nil
}

// DeleteExpired is satisfied by Redis key expiry
func (s *RedisChallengeStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

var _ ports.ChallengeStore = (*RedisChallengeStore)(nil)
