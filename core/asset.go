package core

import "time"

// AssetType distinguishes plain gateway assets from RGB contract-bound ones
type AssetType string

const (
	AssetNormal AssetType = "normal"
	AssetRGB    AssetType = "rgb"
)

// RGBAssetInfo is the contract binding of an RGB-enabled asset.
// Present iff the asset's Type is AssetRGB.
type RGBAssetInfo struct {
	ContractID      string `json:"contract_id"`
	SchemaType      string `json:"schema_type"`
	GenesisProof    string `json:"genesis_proof"`
	InterfaceID     string `json:"interface_id"`
	SpecificationID string `json:"specification_id"`
}

// Asset is an issuable value unit. TotalSupply is monotonic issuance:
// the sum of every VTXO ever minted for the asset, spent or not.
type Asset struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Ticker      string        `json:"ticker"`
	Decimals    uint32        `json:"decimal_places"`
	TotalSupply uint64        `json:"total_supply"`
	Type        AssetType     `json:"asset_type"`
	RGB         *RGBAssetInfo `json:"rgb,omitempty"`
}

// RGBVtxoInfo carries the client-side-validated state bound to a VTXO
type RGBVtxoInfo struct {
	AllocationID    string `json:"rgb_allocation_id"`
	ProofData       string `json:"rgb_proof_data"`
	StateCommitment string `json:"rgb_state_commitment"`
	ContractState   string `json:"rgb_contract_state"`
}

// VTXO is an off-chain spendable output. A VTXO is spent at most once;
// the multiset of unspent VTXOs per (asset, owner) is that owner's
// balance.
type VTXO struct {
	ID          string       `json:"id"`
	AssetID     string       `json:"asset_id"`
	OwnerPubkey string       `json:"owner_pubkey"`
	Amount      uint64       `json:"amount"`
	Spent       bool         `json:"is_spent"`
	SpentAt     *time.Time   `json:"spent_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	RGB         *RGBVtxoInfo `json:"rgb,omitempty"`
}

// Contract is the immutable declaration an RGB asset references, plus
// the mutable state advanced on each transition.
type Contract struct {
	ContractID         string `json:"contract_id"`
	InterfaceID        string `json:"interface_id"`
	SpecificationID    string `json:"specification_id"`
	GenesisProof       string `json:"genesis_proof"`
	SchemaType         string `json:"schema_type"`
	Active             bool   `json:"is_active"`
	TotalIssued        uint64 `json:"total_issued"`
	CurrentStateRoot   string `json:"current_state_root"`
	LastTransitionTxid string `json:"last_transition_txid"`
}

// Allocation binds a contract's state to exactly one VTXO. Its Spent
// flag must always equal the bound VTXO's, maintained in the same
// ledger transaction.
type Allocation struct {
	AllocationID    string     `json:"allocation_id"`
	ContractID      string     `json:"contract_id"`
	VtxoID          string     `json:"vtxo_id"`
	OwnerPubkey     string     `json:"owner_pubkey"`
	Amount          uint64     `json:"amount"`
	StateCommitment string     `json:"state_commitment"`
	ProofData       string     `json:"proof_data"`
	SealType        string     `json:"seal_type"`
	Spent           bool       `json:"is_spent"`
	SpentAt         *time.Time `json:"spent_at,omitempty"`
}

// Balance is one asset's aggregate of an owner's unspent VTXOs.
// Display is Amount scaled down by the asset's decimal places.
type Balance struct {
	AssetID string `json:"asset_id"`
	Ticker  string `json:"ticker"`
	Amount  uint64 `json:"amount"`
	Display string `json:"display_amount"`
}
