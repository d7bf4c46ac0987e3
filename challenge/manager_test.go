package challenge

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkrelay/gateway/adapters/store"
	"github.com/arkrelay/gateway/core"
)

func testSession(ttl time.Duration) *core.Session {
	now := time.Now()
	return &core.Session{
		ID:         "sess-1",
		UserPubkey: "97dffa4e5a1e468797d71172a297fdf92554ae8f256ac6b30596357d34b90f93",
		Type:       core.SessionP2PTransfer,
		Intent: &core.Intent{
			Type: core.SessionP2PTransfer,
			Transfer: &core.TransferIntent{
				Recipient: "deadbeef",
				AssetID:   "TEST",
				Amount:    100,
			},
		},
		Status:    core.StatusCreated,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func TestIntentDigestStable(t *testing.T) {
	sess := testSession(10 * time.Minute)

	first, err := IntentDigest(sess)
	require.NoError(t, err)
	second, err := IntentDigest(sess)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// any intent change must change the digest
	sess.Intent.Transfer.Amount = 101
	third, err := IntentDigest(sess)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestCreateAndStore(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager(store.NewMemoryChallengeStore(), 0)
	sess := testSession(10 * time.Minute)

	ch, err := mgr.CreateAndStore(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, ch.SessionID)
	assert.False(t, ch.Consumed)
	assert.True(t, ch.ExpiresAt.After(ch.CreatedAt))

	var payload struct {
		SessionID    string `json:"session_id"`
		IntentDigest string `json:"intent_digest"`
		Nonce        string `json:"nonce"`
	}
	require.NoError(t, json.Unmarshal(ch.Context, &payload))
	assert.Equal(t, sess.ID, payload.SessionID)

	digest, err := IntentDigest(sess)
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(digest[:]), payload.IntentDigest)
	assert.Len(t, payload.Nonce, 64)
}

func TestCreateAndStoreFreshNonce(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager(store.NewMemoryChallengeStore(), 0)
	sess := testSession(10 * time.Minute)

	first, err := mgr.CreateAndStore(ctx, sess)
	require.NoError(t, err)
	second, err := mgr.CreateAndStore(ctx, sess)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.NotEqual(t, first.Context, second.Context)
}

func TestCreateAndStoreSupersedesPrior(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager(store.NewMemoryChallengeStore(), 0)
	sess := testSession(10 * time.Minute)

	first, err := mgr.CreateAndStore(ctx, sess)
	require.NoError(t, err)
	second, err := mgr.CreateAndStore(ctx, sess)
	require.NoError(t, err)

	active, err := mgr.ActiveForSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)

	_, err = mgr.Get(ctx, first.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestChallengeTTLClampedToSession(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager(store.NewMemoryChallengeStore(), time.Hour)
	sess := testSession(time.Minute)

	ch, err := mgr.CreateAndStore(ctx, sess)
	require.NoError(t, err)
	assert.False(t, ch.ExpiresAt.After(sess.ExpiresAt))
}

func TestGetDistinguishesExpired(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager(store.NewMemoryChallengeStore(), 0)
	sess := testSession(10 * time.Minute)

	ch, err := mgr.CreateAndStore(ctx, sess)
	require.NoError(t, err)

	_, err = mgr.Get(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)

	mgr.SetNowFunc(func() time.Time { return ch.ExpiresAt.Add(time.Second) })
	_, err = mgr.Get(ctx, ch.ID)
	assert.ErrorIs(t, err, core.ErrExpired)
}

func TestConsumeOneShot(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager(store.NewMemoryChallengeStore(), 0)
	sess := testSession(10 * time.Minute)

	ch, err := mgr.CreateAndStore(ctx, sess)
	require.NoError(t, err)

	require.NoError(t, mgr.Consume(ctx, ch.ID))
	err = mgr.Consume(ctx, ch.ID)
	assert.ErrorIs(t, err, core.ErrChallengeAlreadyConsumed)
}

func TestCleanupExpired(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager(store.NewMemoryChallengeStore(), time.Minute)
	sess := testSession(10 * time.Minute)

	ch, err := mgr.CreateAndStore(ctx, sess)
	require.NoError(t, err)

	count, err := mgr.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	mgr.SetNowFunc(func() time.Time { return ch.ExpiresAt.Add(time.Second) })
	count, err = mgr.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = mgr.ActiveForSession(ctx, sess.ID)
	assert.ErrorIs(t, err, core.ErrNoActiveChallenge)
}
