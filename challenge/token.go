package challenge

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/arkrelay/gateway/core"
)

// AudienceChallenge tags challenge envelope tokens
const AudienceChallenge = "gateway:challenge"

// Claims combines standard claims with the challenge context
type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
	Context   string `json:"ctx"` // hex of the canonical challenge context
}

// TokenIssuer wraps challenges in a gateway-signed JWT so relay
// payloads are self-authenticating: the signer can check the envelope
// came from this gateway before signing anything
type TokenIssuer struct {
	signKey *ecdsa.PrivateKey
}

// NewTokenIssuer creates a token issuer with the gateway's envelope key
func NewTokenIssuer(signKey *ecdsa.PrivateKey) *TokenIssuer {
	return &TokenIssuer{signKey: signKey}
}

// Token converts a Challenge to a signed JWT for delivery
func (t *TokenIssuer) Token(ch *core.Challenge) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        ch.ID,
			Subject:   ch.SessionID,
			IssuedAt:  jwt.NewNumericDate(ch.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(ch.ExpiresAt),
			Audience:  jwt.ClaimStrings{AudienceChallenge},
		},
		SessionID: ch.SessionID,
		Context:   hex.EncodeToString(ch.Context),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)

	signed, err := token.SignedString(t.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign challenge token: %w", err)
	}
	return signed, nil
}

// ParseToken verifies a challenge token and reconstructs the Challenge
func (t *TokenIssuer) ParseToken(tokenStr string) (*core.Challenge, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return &t.signKey.PublicKey, nil
	}, jwt.WithAudience(AudienceChallenge))
	if err != nil {
		return nil, fmt.Errorf("failed to parse challenge token: %w", err)
	}
	if !token.Valid {
		return nil, core.ErrMalformedInput
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("invalid claims type: %w", core.ErrMalformedInput)
	}
	context, err := hex.DecodeString(claims.Context)
	if err != nil {
		return nil, fmt.Errorf("invalid context encoding: %w", core.ErrMalformedInput)
	}

	return &core.Challenge{
		ID:        claims.ID,
		SessionID: claims.SessionID,
		Context:   context,
		CreatedAt: claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
