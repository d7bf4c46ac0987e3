package ports

import "context"

// SignedEvent is the wire shape of a remote signer's response as
// delivered by the messaging relay (NIP-01 event fields)
type SignedEvent struct {
	ID        string     `json:"id"`
	Pubkey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// Relay delivers challenges to remote signers. Transport reliability
// is the relay's concern; the gateway only needs a delivery ack.
type Relay interface {
	// SendChallenge delivers a challenge payload to the holder of
	// recipientPubkey and returns a delivery id
	SendChallenge(ctx context.Context, recipientPubkey string, payload []byte) (string, error)

	Close() error
}
