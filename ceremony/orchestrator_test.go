package ceremony

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkrelay/gateway/adapters/store"
	"github.com/arkrelay/gateway/challenge"
	"github.com/arkrelay/gateway/core"
	"github.com/arkrelay/gateway/crypto"
	"github.com/arkrelay/gateway/ledger"
	"github.com/arkrelay/gateway/ports"
	"github.com/arkrelay/gateway/session"
)

type recordingPublisher struct {
	mu        sync.Mutex
	completed []string
	failed    map[string]string // session id -> reason
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{failed: make(map[string]string)}
}

func (p *recordingPublisher) PublishCeremonyCompleted(ctx context.Context, sessionID, userPubkey string, result map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed = append(p.completed, sessionID)
	return nil
}

func (p *recordingPublisher) PublishCeremonyFailed(ctx context.Context, sessionID, userPubkey, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed[sessionID] = reason
	return nil
}

type stubRelay struct {
	sent [][]byte
	err  error
}

func (r *stubRelay) SendChallenge(ctx context.Context, recipientPubkey string, payload []byte) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	r.sent = append(r.sent, payload)
	return "delivery-1", nil
}

func (r *stubRelay) Close() error { return nil }

type orchestratorEnv struct {
	orchestrator *Orchestrator
	sessions     *session.Manager
	challenges   *challenge.Manager
	ledger       *ledger.Manager
	tokens       *challenge.TokenIssuer
	publisher    *recordingPublisher
	priv         *btcec.PrivateKey
	pubkey       string
}

type envOpts struct {
	relay        ports.Relay
	challengeTTL time.Duration
}

func newOrchestratorEnv(t *testing.T, opts envOpts) *orchestratorEnv {
	t.Helper()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	envelopeKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	challengeStore := store.NewMemoryChallengeStore()
	sessions := session.NewManager(store.NewMemorySessionStore(), challengeStore, 0)
	challenges := challenge.NewManager(challengeStore, opts.challengeTTL)
	ledgerMgr := ledger.NewManager(store.NewMemoryLedgerStore())
	tokens := challenge.NewTokenIssuer(envelopeKey)
	publisher := newRecordingPublisher()

	return &orchestratorEnv{
		orchestrator: NewOrchestrator(sessions, challenges, ledgerMgr, tokens, opts.relay, publisher),
		sessions:     sessions,
		challenges:   challenges,
		ledger:       ledgerMgr,
		tokens:       tokens,
		publisher:    publisher,
		priv:         priv,
		pubkey:       hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey())),
	}
}

func (e *orchestratorEnv) mintSession(t *testing.T, ctx context.Context, amount uint64) *core.Session {
	t.Helper()
	_, err := e.ledger.CreateAsset(ctx, ledger.AssetParams{
		ID: "TEST", Name: "Test Token", Ticker: "TST", Type: core.AssetNormal,
	})
	if err != nil && !errors.Is(err, core.ErrAlreadyExists) {
		require.NoError(t, err)
	}
	raw, err := json.Marshal(map[string]any{"asset_id": "TEST", "amount": amount})
	require.NoError(t, err)
	sess, err := e.sessions.Create(ctx, e.pubkey, core.SessionAssetMint, raw)
	require.NoError(t, err)
	return sess
}

func (e *orchestratorEnv) signChallenge(t *testing.T, ch *core.Challenge) []byte {
	t.Helper()
	digest := crypto.Digest(ch.Context)
	sig, err := crypto.SignSchnorr(digest[:], e.priv)
	require.NoError(t, err)
	return sig
}

func TestStartIssuesChallenge(t *testing.T) {
	ctx := context.Background()
	env := newOrchestratorEnv(t, envOpts{})
	sess := env.mintSession(t, ctx, 5000)

	result, err := env.orchestrator.Start(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, result.Challenge)
	assert.Empty(t, result.Delivery)

	// the delivery token reconstructs the stored challenge
	parsed, err := env.tokens.ParseToken(result.Token)
	require.NoError(t, err)
	assert.Equal(t, result.Challenge.ID, parsed.ID)
	assert.Equal(t, result.Challenge.Context, parsed.Context)

	info, err := env.orchestrator.Status(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusChallengeSent, info.Status)
	assert.Equal(t, result.Challenge.ID, info.ChallengeID)
	assert.Greater(t, info.RemainingTTL, time.Duration(0))
}

func TestStartWithRelayDelivery(t *testing.T) {
	ctx := context.Background()
	relay := &stubRelay{}
	env := newOrchestratorEnv(t, envOpts{relay: relay})
	sess := env.mintSession(t, ctx, 5000)

	result, err := env.orchestrator.Start(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "delivery-1", result.Delivery)
	require.Len(t, relay.sent, 1)

	var payload ChallengePayload
	require.NoError(t, json.Unmarshal(relay.sent[0], &payload))
	assert.Equal(t, sess.ID, payload.SessionID)
	assert.Equal(t, result.Challenge.ID, payload.ChallengeID)

	got, err := env.sessions.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusAwaitingSignature, got.Status)
}

func TestStartSurvivesRelayOutage(t *testing.T) {
	ctx := context.Background()
	env := newOrchestratorEnv(t, envOpts{relay: &stubRelay{err: errors.New("relay down")}})
	sess := env.mintSession(t, ctx, 5000)

	result, err := env.orchestrator.Start(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, result.Delivery)

	got, err := env.sessions.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusChallengeSent, got.Status)
}

func TestStartTwiceRejected(t *testing.T) {
	ctx := context.Background()
	env := newOrchestratorEnv(t, envOpts{})
	sess := env.mintSession(t, ctx, 5000)

	_, err := env.orchestrator.Start(ctx, sess.ID)
	require.NoError(t, err)

	_, err = env.orchestrator.Start(ctx, sess.ID)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
}

func TestSubmitResponseCompletesCeremony(t *testing.T) {
	ctx := context.Background()
	env := newOrchestratorEnv(t, envOpts{})
	sess := env.mintSession(t, ctx, 5000)

	started, err := env.orchestrator.Start(ctx, sess.ID)
	require.NoError(t, err)

	completed, err := env.orchestrator.SubmitResponse(ctx, sess.ID, env.signChallenge(t, started.Challenge))
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, completed.Status)
	assert.Equal(t, "mint", completed.Result["operation"])

	balances, err := env.ledger.Balances(ctx, env.pubkey)
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, uint64(5000), balances[0].Amount)

	assert.Contains(t, env.publisher.completed, sess.ID)
	assert.Empty(t, env.publisher.failed)
}

func TestSubmitResponseReplayDoesNotReapply(t *testing.T) {
	ctx := context.Background()
	env := newOrchestratorEnv(t, envOpts{})
	sess := env.mintSession(t, ctx, 5000)

	started, err := env.orchestrator.Start(ctx, sess.ID)
	require.NoError(t, err)
	sig := env.signChallenge(t, started.Challenge)

	_, err = env.orchestrator.SubmitResponse(ctx, sess.ID, sig)
	require.NoError(t, err)

	_, err = env.orchestrator.SubmitResponse(ctx, sess.ID, sig)
	assert.ErrorIs(t, err, core.ErrChallengeAlreadyConsumed)

	balances, err := env.ledger.Balances(ctx, env.pubkey)
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, uint64(5000), balances[0].Amount)
}

func TestSubmitResponseBadSignatureFailsSession(t *testing.T) {
	ctx := context.Background()
	env := newOrchestratorEnv(t, envOpts{})
	sess := env.mintSession(t, ctx, 5000)

	started, err := env.orchestrator.Start(ctx, sess.ID)
	require.NoError(t, err)

	wrongKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	digest := crypto.Digest(started.Challenge.Context)
	badSig, err := crypto.SignSchnorr(digest[:], wrongKey)
	require.NoError(t, err)

	failed, err := env.orchestrator.SubmitResponse(ctx, sess.ID, badSig)
	assert.ErrorIs(t, err, core.ErrSignatureInvalid)
	require.NotNil(t, failed)
	assert.Equal(t, core.StatusFailed, failed.Status)
	assert.Contains(t, env.publisher.failed, sess.ID)

	balances, err := env.ledger.Balances(ctx, env.pubkey)
	require.NoError(t, err)
	assert.Empty(t, balances)
}

func TestSubmitResponseExpiredChallenge(t *testing.T) {
	ctx := context.Background()
	env := newOrchestratorEnv(t, envOpts{challengeTTL: time.Nanosecond})
	sess := env.mintSession(t, ctx, 5000)

	started, err := env.orchestrator.Start(ctx, sess.ID)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	expired, err := env.orchestrator.SubmitResponse(ctx, sess.ID, env.signChallenge(t, started.Challenge))
	assert.ErrorIs(t, err, core.ErrExpired)
	require.NotNil(t, expired)
	assert.Equal(t, core.StatusExpired, expired.Status)
	assert.Contains(t, env.publisher.failed, sess.ID)

	balances, err := env.ledger.Balances(ctx, env.pubkey)
	require.NoError(t, err)
	assert.Empty(t, balances)
}

func TestSubmitResponseLedgerFailure(t *testing.T) {
	ctx := context.Background()
	env := newOrchestratorEnv(t, envOpts{})

	_, err := env.ledger.CreateAsset(ctx, ledger.AssetParams{
		ID: "TEST", Name: "Test Token", Ticker: "TST", Type: core.AssetNormal,
	})
	require.NoError(t, err)

	// a transfer with no funds verifies fine but cannot apply
	raw, err := json.Marshal(map[string]any{"recipient": "deadbeef", "asset_id": "TEST", "amount": 100})
	require.NoError(t, err)
	sess, err := env.sessions.Create(ctx, env.pubkey, core.SessionP2PTransfer, raw)
	require.NoError(t, err)

	started, err := env.orchestrator.Start(ctx, sess.ID)
	require.NoError(t, err)

	failed, err := env.orchestrator.SubmitResponse(ctx, sess.ID, env.signChallenge(t, started.Challenge))
	assert.ErrorIs(t, err, core.ErrInsufficientBalance)
	require.NotNil(t, failed)
	assert.Equal(t, core.StatusFailed, failed.Status)

	reason := failed.History[len(failed.History)-1].Reason
	assert.Contains(t, reason, "ledger apply failed")
	assert.Equal(t, reason, env.publisher.failed[sess.ID])
}

func TestHandleSignedEvent(t *testing.T) {
	ctx := context.Background()
	env := newOrchestratorEnv(t, envOpts{})
	sess := env.mintSession(t, ctx, 5000)

	started, err := env.orchestrator.Start(ctx, sess.ID)
	require.NoError(t, err)
	sig := env.signChallenge(t, started.Challenge)

	content, err := json.Marshal(ResponseContent{
		SessionID: sess.ID,
		Signature: hex.EncodeToString(sig),
	})
	require.NoError(t, err)

	// the response event is authored by the same key as the session
	skHex := hex.EncodeToString(env.priv.Serialize())
	ev := nostr.Event{
		PubKey:    env.pubkey,
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Kind:      24133,
		Tags:      nostr.Tags{},
		Content:   string(content),
	}
	require.NoError(t, ev.Sign(skHex))

	completed, err := env.orchestrator.HandleSignedEvent(ctx, ports.SignedEvent{
		ID:        ev.ID,
		Pubkey:    ev.PubKey,
		CreatedAt: int64(ev.CreatedAt),
		Kind:      ev.Kind,
		Tags:      [][]string{},
		Content:   ev.Content,
		Sig:       ev.Sig,
	})
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, completed.Status)
}

func TestHandleSignedEventRejectsTamperedEvent(t *testing.T) {
	ctx := context.Background()
	env := newOrchestratorEnv(t, envOpts{})

	skHex := hex.EncodeToString(env.priv.Serialize())
	ev := nostr.Event{
		PubKey:    env.pubkey,
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Kind:      24133,
		Tags:      nostr.Tags{},
		Content:   `{"session_id":"s-1","signature":"00"}`,
	}
	require.NoError(t, ev.Sign(skHex))
	ev.Content = `{"session_id":"s-2","signature":"00"}`

	_, err := env.orchestrator.HandleSignedEvent(ctx, ports.SignedEvent{
		ID:        ev.ID,
		Pubkey:    ev.PubKey,
		CreatedAt: int64(ev.CreatedAt),
		Kind:      ev.Kind,
		Tags:      [][]string{},
		Content:   ev.Content,
		Sig:       ev.Sig,
	})
	assert.Error(t, err)
}

func TestSweepOnce(t *testing.T) {
	ctx := context.Background()
	env := newOrchestratorEnv(t, envOpts{})
	sess := env.mintSession(t, ctx, 5000)

	_, err := env.orchestrator.Start(ctx, sess.ID)
	require.NoError(t, err)

	past := sess.ExpiresAt.Add(time.Minute)
	env.sessions.SetNowFunc(func() time.Time { return past })
	env.challenges.SetNowFunc(func() time.Time { return past })

	sweeper := NewSweeper(env.sessions, env.challenges, 0)
	sweeper.SweepOnce(ctx)

	got, err := env.sessions.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusExpired, got.Status)

	_, err = env.challenges.ActiveForSession(ctx, sess.ID)
	assert.ErrorIs(t, err, core.ErrNoActiveChallenge)
}
