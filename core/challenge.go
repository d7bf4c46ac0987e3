package core

import "time"

// Challenge is a single-use, time-bounded context a remote signer must
// sign to authorize its session's intent. Context is the canonical
// byte encoding of {session_id, intent_digest, nonce}; the signer
// signs the SHA-256 digest of Context.
type Challenge struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Context   []byte    `json:"context"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Consumed  bool      `json:"consumed"`
}

// Expired reports whether the challenge TTL has elapsed at now
func (c *Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
