// Package relay delivers challenges to remote signers over a public
// Nostr relay and feeds their signed response events back into the
// orchestrator.
package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"
	log "github.com/sirupsen/logrus"

	"github.com/arkrelay/gateway/ports"
)

// KindSigningRequest is the ephemeral event kind used for both
// challenge delivery and signed responses (NIP-46 remote-signing
// range)
const KindSigningRequest = 24133

// NostrRelay implements the Relay port over one relay connection
type NostrRelay struct {
	conn    *nostr.Relay
	privKey string
	pubKey  string
}

// Connect dials the relay and derives the gateway's relay identity
// from privKeyHex
func Connect(ctx context.Context, url, privKeyHex string) (*NostrRelay, error) {
	pubKey, err := nostr.GetPublicKey(privKeyHex)
	if err != nil {
		return nil, fmt.Errorf("derive relay pubkey: %w", err)
	}
	conn, err := nostr.RelayConnect(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect relay %s: %w", url, err)
	}
	return &NostrRelay{
		conn:    conn,
		privKey: privKeyHex,
		pubKey:  pubKey,
	}, nil
}

// SendChallenge publishes the challenge payload as an event tagged to
// the recipient, returning the event id as delivery ack
func (r *NostrRelay) SendChallenge(ctx context.Context, recipientPubkey string, payload []byte) (string, error) {
	ev := nostr.Event{
		PubKey:    r.pubKey,
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Kind:      KindSigningRequest,
		Tags:      nostr.Tags{nostr.Tag{"p", recipientPubkey}},
		Content:   string(payload),
	}
	if err := ev.Sign(r.privKey); err != nil {
		return "", fmt.Errorf("sign challenge event: %w", err)
	}
	if err := r.conn.Publish(ctx, ev); err != nil {
		return "", fmt.Errorf("publish challenge: %w", err)
	}
	return ev.ID, nil
}

// Listen subscribes to response events addressed to the gateway and
// invokes handle for each one until ctx is cancelled. Handler errors
// are logged, not fatal: a bad event from one signer must not stop the
// stream.
func (r *NostrRelay) Listen(ctx context.Context, handle func(context.Context, ports.SignedEvent) error) error {
	since := nostr.Timestamp(time.Now().Unix())
	sub, err := r.conn.Subscribe(ctx, nostr.Filters{{
		Kinds: []int{KindSigningRequest},
		Tags:  nostr.TagMap{"p": []string{r.pubKey}},
		Since: &since,
	}})
	if err != nil {
		return fmt.Errorf("subscribe responses: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events:
			if !ok {
				return nil
			}
			if ev == nil {
				continue
			}
			if err := handle(ctx, toSignedEvent(ev)); err != nil {
				log.WithError(err).WithField("event_id", ev.ID).Warn("response event rejected")
			}
		}
	}
}

// Close tears down the relay connection
func (r *NostrRelay) Close() error {
	return r.conn.Close()
}

func toSignedEvent(ev *nostr.Event) ports.SignedEvent {
	tags := make([][]string, 0, len(ev.Tags))
	for _, t := range ev.Tags {
		tags = append(tags, []string(t))
	}
	return ports.SignedEvent{
		ID:        ev.ID,
		Pubkey:    ev.PubKey,
		CreatedAt: int64(ev.CreatedAt),
		Kind:      ev.Kind,
		Tags:      tags,
		Content:   ev.Content,
		Sig:       ev.Sig,
	}
}

var _ ports.Relay = (*NostrRelay)(nil)
