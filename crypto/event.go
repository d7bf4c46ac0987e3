package crypto

import (
	"encoding/hex"
	"fmt"

	"github.com/arkrelay/gateway/core"
)

// ComputeEventID computes the NIP-01 event id:
// sha256 of the canonical serialization of
// [0, pubkey, created_at, kind, tags, content].
// Signed response events are verified against this exact hash, so it
// must byte-match what relay clients produce.
func ComputeEventID(pubkey string, createdAt int64, kind int, tags [][]string, content string) ([32]byte, error) {
	if tags == nil {
		tags = [][]string{}
	}
	b, err := Canonicalize([]any{0, pubkey, createdAt, kind, tags, content})
	if err != nil {
		return [32]byte{}, fmt.Errorf("compute event id: %w", err)
	}
	return Digest(b), nil
}

// VerifyEvent checks that a signed event's id matches its contents and
// that its Schnorr signature verifies against the author pubkey.
// idHex and sigHex are the hex-encoded event id and signature.
func VerifyEvent(pubkey string, createdAt int64, kind int, tags [][]string, content, idHex, sigHex string) error {
	id, err := ComputeEventID(pubkey, createdAt, kind, tags, content)
	if err != nil {
		return err
	}
	claimed, err := hex.DecodeString(idHex)
	if err != nil || len(claimed) != DigestLen {
		return fmt.Errorf("verify event: bad id encoding: %w", core.ErrMalformedInput)
	}
	if hex.EncodeToString(id[:]) != idHex {
		return fmt.Errorf("verify event: id does not match serialized event: %w", core.ErrSignatureInvalid)
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("verify event: bad signature encoding: %w", core.ErrMalformedInput)
	}
	pub, err := ParsePublicKey(pubkey)
	if err != nil {
		return err
	}
	return VerifySchnorr(id[:], sig, pub)
}
