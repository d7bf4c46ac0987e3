package core

import (
	"encoding/json"
	"fmt"
)

// SessionType selects the ledger operation a session authorizes
type SessionType string

const (
	SessionP2PTransfer        SessionType = "p2p_transfer"
	SessionAssetMint          SessionType = "asset_mint"
	SessionContractTransition SessionType = "contract_transition"
)

// TransferIntent moves amount of an asset from the session owner to a recipient
type TransferIntent struct {
	Recipient string `json:"recipient"`
	AssetID   string `json:"asset_id"`
	Amount    uint64 `json:"amount"`
}

// MintIntent issues new supply of an asset. Recipient defaults to the
// session owner when empty.
type MintIntent struct {
	AssetID   string `json:"asset_id"`
	Amount    uint64 `json:"amount"`
	Recipient string `json:"recipient,omitempty"`
}

// TransitionIntent advances an RGB contract's state on a specific VTXO
type TransitionIntent struct {
	ContractID          string `json:"contract_id"`
	VtxoID              string `json:"vtxo_id"`
	NextStateCommitment string `json:"next_state_commitment"`
	ProofData           string `json:"proof_data,omitempty"`
}

// Intent is the tagged union of action payloads a session can
// authorize. Exactly one variant is set, matching Type.
type Intent struct {
	Type       SessionType       `json:"type"`
	Transfer   *TransferIntent   `json:"transfer,omitempty"`
	Mint       *MintIntent       `json:"mint,omitempty"`
	Transition *TransitionIntent `json:"transition,omitempty"`
}

// DecodeIntent parses a raw intent payload for the given session type.
// Unknown types and invalid payload fields are rejected up front with
// ErrMalformedInput so a session never carries an unappliable intent.
func DecodeIntent(sessionType SessionType, raw json.RawMessage) (*Intent, error) {
	switch sessionType {
	case SessionP2PTransfer:
		var t TransferIntent
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("decode transfer intent: %w", ErrMalformedInput)
		}
		if t.Recipient == "" || t.AssetID == "" || t.Amount == 0 {
			return nil, fmt.Errorf("transfer intent requires recipient, asset_id and positive amount: %w", ErrMalformedInput)
		}
		return &Intent{Type: sessionType, Transfer: &t}, nil

	case SessionAssetMint:
		var m MintIntent
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("decode mint intent: %w", ErrMalformedInput)
		}
		if m.AssetID == "" || m.Amount == 0 {
			return nil, fmt.Errorf("mint intent requires asset_id and positive amount: %w", ErrMalformedInput)
		}
		return &Intent{Type: sessionType, Mint: &m}, nil

	case SessionContractTransition:
		var tr TransitionIntent
		if err := json.Unmarshal(raw, &tr); err != nil {
			return nil, fmt.Errorf("decode transition intent: %w", ErrMalformedInput)
		}
		if tr.ContractID == "" || tr.VtxoID == "" || tr.NextStateCommitment == "" {
			return nil, fmt.Errorf("transition intent requires contract_id, vtxo_id and next_state_commitment: %w", ErrMalformedInput)
		}
		return &Intent{Type: sessionType, Transition: &tr}, nil
	}
	return nil, fmt.Errorf("unknown session type %q: %w", sessionType, ErrMalformedInput)
}

// Payload returns the set variant as a plain value for canonical
// digesting, keyed the same way the client-side signer keys it.
func (i *Intent) Payload() any {
	switch i.Type {
	case SessionP2PTransfer:
		return i.Transfer
	case SessionAssetMint:
		return i.Mint
	case SessionContractTransition:
		return i.Transition
	}
	return nil
}
