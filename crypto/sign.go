package crypto

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/arkrelay/gateway/core"
)

const (
	// DigestLen is the only accepted signing-input length
	DigestLen = 32

	// SchnorrSigLen is the fixed BIP-340 signature length
	SchnorrSigLen = 64
)

// SignECDSA signs a 32-byte digest with a secp256k1 key, returning a
// DER-encoded signature. The gateway itself only signs in tests and
// tooling; production keys live with the remote signer.
func SignECDSA(digest []byte, priv *btcec.PrivateKey) ([]byte, error) {
	if len(digest) != DigestLen {
		return nil, fmt.Errorf("ecdsa sign: digest must be %d bytes, got %d: %w", DigestLen, len(digest), core.ErrMalformedInput)
	}
	return ecdsa.Sign(priv, digest).Serialize(), nil
}

// VerifyECDSA checks a DER-encoded secp256k1 ECDSA signature over a
// 32-byte digest. A malformed signature or digest is reported as
// ErrMalformedInput; a well-formed signature that does not verify is
// ErrSignatureInvalid.
func VerifyECDSA(digest, sigDER []byte, pub *btcec.PublicKey) error {
	if len(digest) != DigestLen {
		return fmt.Errorf("ecdsa verify: digest must be %d bytes, got %d: %w", DigestLen, len(digest), core.ErrMalformedInput)
	}
	sig, err := ecdsa.ParseDERSignature(sigDER)
	if err != nil {
		return fmt.Errorf("ecdsa verify: parse signature: %v: %w", err, core.ErrMalformedInput)
	}
	if !sig.Verify(digest, pub) {
		return core.ErrSignatureInvalid
	}
	return nil
}

// SignSchnorr signs a 32-byte digest per BIP-340
func SignSchnorr(digest []byte, priv *btcec.PrivateKey) ([]byte, error) {
	if len(digest) != DigestLen {
		return nil, fmt.Errorf("schnorr sign: digest must be %d bytes, got %d: %w", DigestLen, len(digest), core.ErrMalformedInput)
	}
	sig, err := schnorr.Sign(priv, digest)
	if err != nil {
		return nil, fmt.Errorf("schnorr sign: %w", err)
	}
	return sig.Serialize(), nil
}

// VerifySchnorr checks a 64-byte BIP-340 signature over a 32-byte
// digest against an x-only or compressed public key
func VerifySchnorr(digest, sig []byte, pub *btcec.PublicKey) error {
	if len(digest) != DigestLen {
		return fmt.Errorf("schnorr verify: digest must be %d bytes, got %d: %w", DigestLen, len(digest), core.ErrMalformedInput)
	}
	if len(sig) != SchnorrSigLen {
		return fmt.Errorf("schnorr verify: signature must be %d bytes, got %d: %w", SchnorrSigLen, len(sig), core.ErrMalformedInput)
	}
	parsed, err := schnorr.ParseSignature(sig)
	if err != nil {
		return fmt.Errorf("schnorr verify: parse signature: %v: %w", err, core.ErrMalformedInput)
	}
	if !parsed.Verify(digest, pub) {
		return core.ErrSignatureInvalid
	}
	return nil
}

// ParsePublicKey decodes a hex public key: 64 hex chars are treated as
// a BIP-340 x-only key, 66/130 as a compressed/uncompressed SEC key
func ParsePublicKey(pubkeyHex string) (*btcec.PublicKey, error) {
	raw, err := hex.DecodeString(pubkeyHex)
	if err != nil {
		return nil, fmt.Errorf("parse pubkey: %v: %w", err, core.ErrMalformedInput)
	}
	switch len(raw) {
	case schnorr.PubKeyBytesLen:
		pub, err := schnorr.ParsePubKey(raw)
		if err != nil {
			return nil, fmt.Errorf("parse x-only pubkey: %v: %w", err, core.ErrMalformedInput)
		}
		return pub, nil
	case btcec.PubKeyBytesLenCompressed, secp256k1.PubKeyBytesLenUncompressed:
		pub, err := btcec.ParsePubKey(raw)
		if err != nil {
			return nil, fmt.Errorf("parse pubkey: %v: %w", err, core.ErrMalformedInput)
		}
		return pub, nil
	}
	return nil, fmt.Errorf("parse pubkey: unexpected length %d: %w", len(raw), core.ErrMalformedInput)
}

// VerifyIntentSignature verifies a challenge-response signature of
// either supported scheme: fixed 64-byte signatures are BIP-340
// Schnorr, anything else is expected to be DER ECDSA.
func VerifyIntentSignature(pubkeyHex string, digest, sig []byte) error {
	pub, err := ParsePublicKey(pubkeyHex)
	if err != nil {
		return err
	}
	if len(sig) == SchnorrSigLen {
		return VerifySchnorr(digest, sig, pub)
	}
	return VerifyECDSA(digest, sig, pub)
}
