// Package ceremony composes the session, challenge and ledger
// managers into the end-to-end signing protocol: issue a challenge,
// accept the remote signer's response, verify it, and apply the
// authorized intent to the ledger exactly once.
package ceremony

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/arkrelay/gateway/challenge"
	"github.com/arkrelay/gateway/core"
	"github.com/arkrelay/gateway/crypto"
	"github.com/arkrelay/gateway/ledger"
	"github.com/arkrelay/gateway/ports"
	"github.com/arkrelay/gateway/session"
)

// Orchestrator drives ceremonies across the three managers. Relay and
// events are optional collaborators; a nil relay means challenges are
// only handed back to the transport caller for delivery.
type Orchestrator struct {
	sessions   *session.Manager
	challenges *challenge.Manager
	ledger     *ledger.Manager
	tokens     *challenge.TokenIssuer
	relay      ports.Relay
	events     ports.EventPublisher

	now func() time.Time
}

// NewOrchestrator creates a ceremony orchestrator
func NewOrchestrator(
	sessions *session.Manager,
	challenges *challenge.Manager,
	ledgerMgr *ledger.Manager,
	tokens *challenge.TokenIssuer,
	relay ports.Relay,
	events ports.EventPublisher,
) *Orchestrator {
	return &Orchestrator{
		sessions:   sessions,
		challenges: challenges,
		ledger:     ledgerMgr,
		tokens:     tokens,
		relay:      relay,
		events:     events,
		now:        time.Now,
	}
}

// StartResult is what a started ceremony hands back for delivery
type StartResult struct {
	Challenge *core.Challenge `json:"challenge"`
	Token     string          `json:"token"`
	Delivery  string          `json:"delivery_id,omitempty"`
}

// ChallengePayload is the relay-delivered challenge envelope
type ChallengePayload struct {
	SessionID   string `json:"session_id"`
	ChallengeID string `json:"challenge_id"`
	Token       string `json:"token"`
}

// Start begins the ceremony for a session in `created`: issues a
// challenge bound to the session's intent digest, moves the session to
// `challenge_sent`, and returns the challenge for external delivery.
// When a relay is wired, delivery is attempted immediately and a
// successful ack advances the session to `awaiting_signature`.
func (o *Orchestrator) Start(ctx context.Context, sessionID string) (*StartResult, error) {
	sess, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Expired(o.now()) {
		o.sessions.UpdateStatus(ctx, sessionID, core.StatusExpired, "session ttl elapsed")
		return nil, fmt.Errorf("session %s: %w", sessionID, core.ErrExpired)
	}
	if sess.Status != core.StatusCreated {
		return nil, fmt.Errorf("ceremony already started from %s: %w", sess.Status, core.ErrInvalidTransition)
	}

	ch, err := o.challenges.CreateAndStore(ctx, sess)
	if err != nil {
		return nil, err
	}
	if _, err := o.sessions.CompareAndSwap(ctx, sessionID, core.StatusCreated, core.StatusChallengeSent, "challenge issued"); err != nil {
		return nil, err
	}

	token, err := o.tokens.Token(ch)
	if err != nil {
		return nil, err
	}

	result := &StartResult{Challenge: ch, Token: token}
	if o.relay != nil {
		payload, err := json.Marshal(ChallengePayload{
			SessionID:   sessionID,
			ChallengeID: ch.ID,
			Token:       token,
		})
		if err != nil {
			return nil, fmt.Errorf("encode challenge payload: %w", err)
		}
		deliveryID, err := o.relay.SendChallenge(ctx, sess.UserPubkey, payload)
		if err != nil {
			// the signer can still fetch the challenge through the
			// API; a relay outage must not kill the ceremony
			log.WithError(err).WithField("session_id", sessionID).Warn("relay delivery failed")
		} else {
			result.Delivery = deliveryID
			if _, err := o.sessions.CompareAndSwap(ctx, sessionID, core.StatusChallengeSent, core.StatusAwaitingSignature, "challenge delivered"); err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}

// StatusInfo is the read-only ceremony status view
type StatusInfo struct {
	SessionID    string             `json:"session_id"`
	Status       core.SessionStatus `json:"status"`
	RemainingTTL time.Duration      `json:"remaining_ttl"`
	ChallengeID  string             `json:"challenge_id,omitempty"`
}

// Status returns the session status, remaining TTL and, when one is
// live, the active challenge id. Pure read.
func (o *Orchestrator) Status(ctx context.Context, sessionID string) (*StatusInfo, error) {
	sess, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	info := &StatusInfo{
		SessionID: sessionID,
		Status:    sess.Status,
	}
	now := o.now()
	if !sess.Status.Terminal() {
		if ttl := sess.ExpiresAt.Sub(now); ttl > 0 {
			info.RemainingTTL = ttl
		}
	}
	if !sess.Status.Terminal() {
		if ch, err := o.challenges.ActiveForSession(ctx, sessionID); err == nil && !ch.Consumed && !ch.Expired(now) {
			info.ChallengeID = ch.ID
		}
	}
	return info, nil
}

// SubmitResponse accepts an external signature for a session's active
// challenge. A verified signature does not guarantee ledger success;
// a ledger failure after verification fails the session with the
// ledger error as its recorded reason, and both outcomes are published.
func (o *Orchestrator) SubmitResponse(ctx context.Context, sessionID string, signature []byte) (*core.Session, error) {
	sess, err := o.sessions.ValidateChallengeResponse(ctx, sessionID, signature)
	if err != nil {
		if sess != nil && (sess.Status == core.StatusFailed || sess.Status == core.StatusExpired) {
			o.publishFailed(ctx, sess)
		}
		return sess, err
	}

	result, ledgerErr := o.ledger.ApplyIntent(ctx, sessionID, sess.UserPubkey, sess.Intent)
	if ledgerErr != nil {
		failed, err := o.sessions.UpdateStatus(ctx, sessionID, core.StatusFailed, fmt.Sprintf("ledger apply failed: %v", ledgerErr))
		if err != nil {
			log.WithError(err).WithField("session_id", sessionID).Error("could not record ledger failure")
		} else {
			sess = failed
		}
		o.publishFailed(ctx, sess)
		return sess, fmt.Errorf("apply intent: %w", ledgerErr)
	}

	completed, err := o.sessions.Complete(ctx, sessionID, result)
	if err != nil {
		return sess, err
	}
	o.publishCompleted(ctx, completed)
	log.WithFields(log.Fields{"session_id": sessionID, "session_type": completed.Type}).Info("ceremony completed")
	return completed, nil
}

// ResponseContent is the JSON body a signed response event carries
type ResponseContent struct {
	SessionID string `json:"session_id"`
	Signature string `json:"signature"` // hex
}

// HandleSignedEvent is the relay-side entry point: it verifies the
// event id and author signature, extracts the challenge response, and
// submits it
func (o *Orchestrator) HandleSignedEvent(ctx context.Context, ev ports.SignedEvent) (*core.Session, error) {
	if err := crypto.VerifyEvent(ev.Pubkey, ev.CreatedAt, ev.Kind, ev.Tags, ev.Content, ev.ID, ev.Sig); err != nil {
		return nil, fmt.Errorf("signed event rejected: %w", err)
	}
	var content ResponseContent
	if err := json.Unmarshal([]byte(ev.Content), &content); err != nil {
		return nil, fmt.Errorf("decode response content: %w", core.ErrMalformedInput)
	}
	sig, err := hex.DecodeString(content.Signature)
	if err != nil {
		return nil, fmt.Errorf("decode response signature: %w", core.ErrMalformedInput)
	}
	return o.SubmitResponse(ctx, content.SessionID, sig)
}

func (o *Orchestrator) publishCompleted(ctx context.Context, sess *core.Session) {
	if o.events == nil {
		return
	}
	if err := o.events.PublishCeremonyCompleted(ctx, sess.ID, sess.UserPubkey, sess.Result); err != nil {
		log.WithError(err).WithField("session_id", sess.ID).Warn("publish completed event failed")
	}
}

func (o *Orchestrator) publishFailed(ctx context.Context, sess *core.Session) {
	if o.events == nil {
		return
	}
	reason := ""
	if n := len(sess.History); n > 0 {
		reason = sess.History[n-1].Reason
	}
	if err := o.events.PublishCeremonyFailed(ctx, sess.ID, sess.UserPubkey, reason); err != nil {
		log.WithError(err).WithField("session_id", sess.ID).Warn("publish failed event failed")
	}
}
