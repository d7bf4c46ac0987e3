package crypto

import (
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkrelay/gateway/core"
)

func TestECDSASignVerify(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	digest := Digest([]byte("payload"))
	sig, err := SignECDSA(digest[:], priv)
	require.NoError(t, err)

	assert.NoError(t, VerifyECDSA(digest[:], sig, priv.PubKey()))
}

func TestECDSAWrongKey(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	other, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	digest := Digest([]byte("payload"))
	sig, err := SignECDSA(digest[:], priv)
	require.NoError(t, err)

	err = VerifyECDSA(digest[:], sig, other.PubKey())
	assert.ErrorIs(t, err, core.ErrSignatureInvalid)
}

func TestECDSAMalformedSignature(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	digest := Digest([]byte("payload"))
	err = VerifyECDSA(digest[:], []byte{0x30, 0x01, 0xff}, priv.PubKey())
	assert.ErrorIs(t, err, core.ErrMalformedInput)
	assert.NotErrorIs(t, err, core.ErrSignatureInvalid)
}

func TestSchnorrSignVerify(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	digest := Digest([]byte("payload"))
	sig, err := SignSchnorr(digest[:], priv)
	require.NoError(t, err)
	require.Len(t, sig, SchnorrSigLen)

	assert.NoError(t, VerifySchnorr(digest[:], sig, priv.PubKey()))
}

func TestSchnorrWrongKey(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	other, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	digest := Digest([]byte("payload"))
	sig, err := SignSchnorr(digest[:], priv)
	require.NoError(t, err)

	err = VerifySchnorr(digest[:], sig, other.PubKey())
	assert.ErrorIs(t, err, core.ErrSignatureInvalid)
}

func TestSchnorrBadLengths(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	digest := Digest([]byte("payload"))

	err = VerifySchnorr(digest[:], make([]byte, 63), priv.PubKey())
	assert.ErrorIs(t, err, core.ErrMalformedInput)

	_, err = SignSchnorr([]byte("short"), priv)
	assert.ErrorIs(t, err, core.ErrMalformedInput)
}

func TestParsePublicKeyFormats(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	xonly := hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey()))
	pub, err := ParsePublicKey(xonly)
	require.NoError(t, err)
	assert.Equal(t, schnorr.SerializePubKey(priv.PubKey()), schnorr.SerializePubKey(pub))

	compressed := hex.EncodeToString(priv.PubKey().SerializeCompressed())
	pub, err = ParsePublicKey(compressed)
	require.NoError(t, err)
	assert.True(t, pub.IsEqual(priv.PubKey()))

	uncompressed := hex.EncodeToString(priv.PubKey().SerializeUncompressed())
	pub, err = ParsePublicKey(uncompressed)
	require.NoError(t, err)
	assert.True(t, pub.IsEqual(priv.PubKey()))
}

func TestParsePublicKeyRejectsGarbage(t *testing.T) {
	_, err := ParsePublicKey("not hex")
	assert.ErrorIs(t, err, core.ErrMalformedInput)

	_, err = ParsePublicKey("abcd")
	assert.ErrorIs(t, err, core.ErrMalformedInput)
}

func TestVerifyIntentSignatureDispatch(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	xonly := hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey()))
	compressed := hex.EncodeToString(priv.PubKey().SerializeCompressed())
	digest := Digest([]byte("payload"))

	schnorrSig, err := SignSchnorr(digest[:], priv)
	require.NoError(t, err)
	assert.NoError(t, VerifyIntentSignature(xonly, digest[:], schnorrSig))

	derSig, err := SignECDSA(digest[:], priv)
	require.NoError(t, err)
	assert.NoError(t, VerifyIntentSignature(compressed, digest[:], derSig))
}
