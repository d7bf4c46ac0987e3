// Package ledger is the VTXO ledger mutation engine: asset registry,
// mint, transfer with coin selection, balance aggregation, and the
// optional RGB contract/allocation layer. Every mutating operation
// runs inside one ledger-store transaction, so partial application is
// never visible, and takes an idempotency key so a retried ceremony
// replays its original result instead of double-applying.
package ledger

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/arkrelay/gateway/core"
	"github.com/arkrelay/gateway/crypto"
	"github.com/arkrelay/gateway/ports"
)

// Manager applies ledger mutations against the transactional store
type Manager struct {
	store ports.LedgerStore
	now   func() time.Time
}

// NewManager creates a ledger manager
func NewManager(store ports.LedgerStore) *Manager {
	return &Manager{
		store: store,
		now:   time.Now,
	}
}

// AssetParams describes a new asset. RGB must be set iff Type is
// AssetRGB.
type AssetParams struct {
	ID       string
	Name     string
	Ticker   string
	Decimals uint32
	Type     core.AssetType
	RGB      *core.RGBAssetInfo
}

// CreateAsset registers a new asset with zero issued supply. RGB
// assets also register their contract; duplicate asset or contract ids
// fail with ErrAlreadyExists.
func (m *Manager) CreateAsset(ctx context.Context, p AssetParams) (*core.Asset, error) {
	if p.ID == "" || p.Name == "" || p.Ticker == "" {
		return nil, fmt.Errorf("asset requires id, name and ticker: %w", core.ErrMalformedInput)
	}
	switch p.Type {
	case core.AssetNormal:
		if p.RGB != nil {
			return nil, fmt.Errorf("normal asset cannot carry rgb info: %w", core.ErrMalformedInput)
		}
	case core.AssetRGB:
		if p.RGB == nil || p.RGB.ContractID == "" {
			return nil, fmt.Errorf("rgb asset requires contract info: %w", core.ErrMalformedInput)
		}
	default:
		return nil, fmt.Errorf("unknown asset type %q: %w", p.Type, core.ErrMalformedInput)
	}

	asset := &core.Asset{
		ID:       p.ID,
		Name:     p.Name,
		Ticker:   p.Ticker,
		Decimals: p.Decimals,
		Type:     p.Type,
		RGB:      p.RGB,
	}
	err := m.store.Update(ctx, func(tx ports.LedgerTx) error {
		if err := tx.PutAsset(asset); err != nil {
			return err
		}
		if p.Type == core.AssetRGB {
			genesis, err := crypto.DigestOf(map[string]any{
				"contract_id":   p.RGB.ContractID,
				"schema_type":   p.RGB.SchemaType,
				"genesis_proof": p.RGB.GenesisProof,
			})
			if err != nil {
				return err
			}
			return tx.PutContract(&core.Contract{
				ContractID:       p.RGB.ContractID,
				InterfaceID:      p.RGB.InterfaceID,
				SpecificationID:  p.RGB.SpecificationID,
				GenesisProof:     p.RGB.GenesisProof,
				SchemaType:       p.RGB.SchemaType,
				Active:           true,
				CurrentStateRoot: hex.EncodeToString(genesis[:]),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"asset_id": asset.ID, "asset_type": asset.Type}).Info("asset created")
	return asset, nil
}

// Mint issues amount of an asset to owner: one new unspent VTXO plus
// the supply increment, atomically. RGB assets additionally get an
// allocation bound to the new VTXO and the contract's issuance bumped
// in the same transaction.
func (m *Manager) Mint(ctx context.Context, idemKey, owner, assetID string, amount uint64) (map[string]any, error) {
	if amount == 0 {
		return nil, fmt.Errorf("mint amount must be positive: %w", core.ErrMalformedInput)
	}

	var result map[string]any
	err := m.store.Update(ctx, func(tx ports.LedgerTx) error {
		if prior, ok := replay(tx, idemKey); ok {
			result = prior
			return nil
		}

		asset, err := tx.GetAsset(assetID)
		if err != nil {
			return fmt.Errorf("asset %s: %w", assetID, err)
		}

		now := m.now()
		vtxo, alloc, err := m.createOutput(tx, asset, owner, amount, now)
		if err != nil {
			return err
		}

		asset.TotalSupply += amount
		if err := tx.UpdateAsset(asset); err != nil {
			return err
		}
		if alloc != nil {
			contract, err := tx.GetContract(alloc.ContractID)
			if err != nil {
				return err
			}
			contract.TotalIssued += amount
			if err := m.advanceContract(tx, contract, nil, []string{alloc.AllocationID}, txidFor(idemKey)); err != nil {
				return err
			}
		}

		result = map[string]any{
			"operation":    "mint",
			"asset_id":     assetID,
			"vtxo_id":      vtxo.ID,
			"owner_pubkey": owner,
			"amount":       amount,
			"total_supply": asset.TotalSupply,
		}
		return saveApplied(tx, idemKey, result)
	})
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"asset_id": assetID, "amount": amount}).Info("minted")
	return result, nil
}

// Transfer moves amount of an asset from sender to recipient:
// oldest-first selection over the sender's unspent VTXOs, every
// selected VTXO marked spent, one recipient output, and a change
// output back to the sender when the selection overshoots. RGB
// allocations on selected VTXOs are spent and their contracts advanced
// in the same transaction. Value is conserved exactly.
func (m *Manager) Transfer(ctx context.Context, idemKey, sender, recipient, assetID string, amount uint64) (map[string]any, error) {
	if amount == 0 {
		return nil, fmt.Errorf("transfer amount must be positive: %w", core.ErrMalformedInput)
	}
	if sender == recipient {
		return nil, fmt.Errorf("sender and recipient must differ: %w", core.ErrMalformedInput)
	}

	var result map[string]any
	err := m.store.Update(ctx, func(tx ports.LedgerTx) error {
		if prior, ok := replay(tx, idemKey); ok {
			result = prior
			return nil
		}

		asset, err := tx.GetAsset(assetID)
		if err != nil {
			return fmt.Errorf("asset %s: %w", assetID, err)
		}

		unspent, err := tx.UnspentByOwner(sender, assetID)
		if err != nil {
			return err
		}
		var selected []*core.VTXO
		var total uint64
		for _, v := range unspent {
			selected = append(selected, v)
			total += v.Amount
			if total >= amount {
				break
			}
		}
		if total < amount {
			return fmt.Errorf("need %d, have %d: %w", amount, total, core.ErrInsufficientBalance)
		}

		now := m.now()
		txid := txidFor(idemKey)
		consumedByContract := make(map[string][]string)
		spentIDs := make([]string, 0, len(selected))
		for _, v := range selected {
			alloc, err := m.spendVtxo(tx, v.ID, now)
			if err != nil {
				return err
			}
			spentIDs = append(spentIDs, v.ID)
			if alloc != nil {
				consumedByContract[alloc.ContractID] = append(consumedByContract[alloc.ContractID], alloc.AllocationID)
			}
		}

		producedByContract := make(map[string][]string)
		out, outAlloc, err := m.createOutput(tx, asset, recipient, amount, now)
		if err != nil {
			return err
		}
		if outAlloc != nil {
			producedByContract[outAlloc.ContractID] = append(producedByContract[outAlloc.ContractID], outAlloc.AllocationID)
		}

		var changeID string
		if change := total - amount; change > 0 {
			changeVtxo, changeAlloc, err := m.createOutput(tx, asset, sender, change, now)
			if err != nil {
				return err
			}
			changeID = changeVtxo.ID
			if changeAlloc != nil {
				producedByContract[changeAlloc.ContractID] = append(producedByContract[changeAlloc.ContractID], changeAlloc.AllocationID)
			}
		}

		for contractID, consumed := range consumedByContract {
			contract, err := tx.GetContract(contractID)
			if err != nil {
				return err
			}
			if err := m.advanceContract(tx, contract, consumed, producedByContract[contractID], txid); err != nil {
				return err
			}
		}

		result = map[string]any{
			"operation":         "transfer",
			"asset_id":          assetID,
			"sender":            sender,
			"recipient":         recipient,
			"amount":            amount,
			"spent_vtxo_ids":    spentIDs,
			"recipient_vtxo_id": out.ID,
		}
		if changeID != "" {
			result["change_vtxo_id"] = changeID
		}
		return saveApplied(tx, idemKey, result)
	})
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"asset_id": assetID, "amount": amount}).Info("transferred")
	return result, nil
}

// Balances returns, per asset, the sum of the owner's unspent VTXO
// amounts, plus a display amount scaled by the asset's decimals. Pure
// read, no side effects.
func (m *Manager) Balances(ctx context.Context, owner string) ([]core.Balance, error) {
	var out []core.Balance
	err := m.store.View(ctx, func(tx ports.LedgerTx) error {
		assets, err := tx.ListAssets()
		if err != nil {
			return err
		}
		for _, asset := range assets {
			unspent, err := tx.UnspentByOwner(owner, asset.ID)
			if err != nil {
				return err
			}
			var total uint64
			for _, v := range unspent {
				total += v.Amount
			}
			if total == 0 {
				continue
			}
			display := decimal.NewFromBigInt(new(big.Int).SetUint64(total), -int32(asset.Decimals))
			out = append(out, core.Balance{
				AssetID: asset.ID,
				Ticker:  asset.Ticker,
				Amount:  total,
				Display: display.String(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Transition advances an RGB contract's state carried by one VTXO:
// the old VTXO and its allocation are spent and an equal-value VTXO
// with a fresh allocation at the next state commitment replaces them,
// all in one transaction.
func (m *Manager) Transition(ctx context.Context, idemKey, owner string, in *core.TransitionIntent) (map[string]any, error) {
	var result map[string]any
	err := m.store.Update(ctx, func(tx ports.LedgerTx) error {
		if prior, ok := replay(tx, idemKey); ok {
			result = prior
			return nil
		}

		vtxo, err := tx.GetVtxo(in.VtxoID)
		if err != nil {
			return fmt.Errorf("vtxo %s: %w", in.VtxoID, err)
		}
		if vtxo.OwnerPubkey != owner {
			return fmt.Errorf("vtxo %s not owned by signer: %w", in.VtxoID, core.ErrConflict)
		}
		contract, err := tx.GetContract(in.ContractID)
		if err != nil {
			return fmt.Errorf("contract %s: %w", in.ContractID, err)
		}
		if !contract.Active {
			return fmt.Errorf("contract %s is inactive: %w", in.ContractID, core.ErrConflict)
		}

		now := m.now()
		alloc, err := m.spendVtxo(tx, vtxo.ID, now)
		if err != nil {
			return err
		}
		if alloc == nil || alloc.ContractID != in.ContractID {
			return fmt.Errorf("vtxo %s carries no allocation of contract %s: %w", in.VtxoID, in.ContractID, core.ErrMalformedInput)
		}

		next := &core.VTXO{
			ID:          uuid.New().String(),
			AssetID:     vtxo.AssetID,
			OwnerPubkey: owner,
			Amount:      vtxo.Amount,
			CreatedAt:   now,
		}
		nextAlloc := &core.Allocation{
			AllocationID:    uuid.New().String(),
			ContractID:      in.ContractID,
			VtxoID:          next.ID,
			OwnerPubkey:     owner,
			Amount:          vtxo.Amount,
			StateCommitment: in.NextStateCommitment,
			ProofData:       in.ProofData,
			SealType:        sealTypeTapret,
		}
		next.RGB = &core.RGBVtxoInfo{
			AllocationID:    nextAlloc.AllocationID,
			ProofData:       nextAlloc.ProofData,
			StateCommitment: nextAlloc.StateCommitment,
			ContractState:   contract.CurrentStateRoot,
		}
		if err := tx.PutVtxo(next); err != nil {
			return err
		}
		if err := tx.PutAllocation(nextAlloc); err != nil {
			return err
		}
		if err := m.advanceContract(tx, contract, []string{alloc.AllocationID}, []string{nextAlloc.AllocationID}, txidFor(idemKey)); err != nil {
			return err
		}

		result = map[string]any{
			"operation":     "contract_transition",
			"contract_id":   in.ContractID,
			"spent_vtxo_id": vtxo.ID,
			"vtxo_id":       next.ID,
			"allocation_id": nextAlloc.AllocationID,
		}
		return saveApplied(tx, idemKey, result)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ApplyIntent dispatches a verified session intent to the matching
// ledger operation, using the session id as idempotency key. Replaying
// an already-applied session returns its stored result unchanged.
func (m *Manager) ApplyIntent(ctx context.Context, sessionID, userPubkey string, intent *core.Intent) (map[string]any, error) {
	switch intent.Type {
	case core.SessionAssetMint:
		owner := intent.Mint.Recipient
		if owner == "" {
			owner = userPubkey
		}
		return m.Mint(ctx, sessionID, owner, intent.Mint.AssetID, intent.Mint.Amount)
	case core.SessionP2PTransfer:
		return m.Transfer(ctx, sessionID, userPubkey, intent.Transfer.Recipient, intent.Transfer.AssetID, intent.Transfer.Amount)
	case core.SessionContractTransition:
		return m.Transition(ctx, sessionID, userPubkey, intent.Transition)
	}
	return nil, fmt.Errorf("unappliable intent type %q: %w", intent.Type, core.ErrMalformedInput)
}

// SetNowFunc overrides the manager's time source, for tests
func (m *Manager) SetNowFunc(now func() time.Time) {
	m.now = now
}

const sealTypeTapret = "tapret_first"

// spendVtxo marks a VTXO spent and, when it carries an allocation,
// spends the allocation in the same transaction so the two flags never
// diverge. Returns the spent allocation, if any.
func (m *Manager) spendVtxo(tx ports.LedgerTx, vtxoID string, at time.Time) (*core.Allocation, error) {
	if err := tx.MarkVtxoSpent(vtxoID, at); err != nil {
		return nil, err
	}
	alloc, err := tx.AllocationByVtxo(vtxoID)
	if err == core.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := tx.MarkAllocationSpent(alloc.AllocationID, at); err != nil {
		return nil, err
	}
	alloc.Spent = true
	return alloc, nil
}

// createOutput creates one unspent VTXO for owner and, for RGB assets,
// an allocation bound to it
func (m *Manager) createOutput(tx ports.LedgerTx, asset *core.Asset, owner string, amount uint64, now time.Time) (*core.VTXO, *core.Allocation, error) {
	vtxo := &core.VTXO{
		ID:          uuid.New().String(),
		AssetID:     asset.ID,
		OwnerPubkey: owner,
		Amount:      amount,
		CreatedAt:   now,
	}
	var alloc *core.Allocation
	if asset.Type == core.AssetRGB {
		commitment, err := crypto.DigestOf(map[string]any{
			"contract_id": asset.RGB.ContractID,
			"vtxo_id":     vtxo.ID,
			"owner":       owner,
			"amount":      amount,
		})
		if err != nil {
			return nil, nil, err
		}
		alloc = &core.Allocation{
			AllocationID:    uuid.New().String(),
			ContractID:      asset.RGB.ContractID,
			VtxoID:          vtxo.ID,
			OwnerPubkey:     owner,
			Amount:          amount,
			StateCommitment: hex.EncodeToString(commitment[:]),
			SealType:        sealTypeTapret,
		}
		vtxo.RGB = &core.RGBVtxoInfo{
			AllocationID:    alloc.AllocationID,
			StateCommitment: alloc.StateCommitment,
		}
	}
	if err := tx.PutVtxo(vtxo); err != nil {
		return nil, nil, err
	}
	if alloc != nil {
		if err := tx.PutAllocation(alloc); err != nil {
			return nil, nil, err
		}
	}
	return vtxo, alloc, nil
}

// advanceContract folds a transition into the contract's running state
// root and records the transition txid
func (m *Manager) advanceContract(tx ports.LedgerTx, contract *core.Contract, consumed, produced []string, txid string) error {
	if consumed == nil {
		consumed = []string{}
	}
	if produced == nil {
		produced = []string{}
	}
	root, err := crypto.DigestOf(map[string]any{
		"contract_id": contract.ContractID,
		"prior_root":  contract.CurrentStateRoot,
		"consumed":    consumed,
		"produced":    produced,
	})
	if err != nil {
		return err
	}
	contract.CurrentStateRoot = hex.EncodeToString(root[:])
	contract.LastTransitionTxid = txid
	return tx.UpdateContract(contract)
}

// replay returns the stored result for a non-empty idempotency key
func replay(tx ports.LedgerTx, idemKey string) (map[string]any, bool) {
	if idemKey == "" {
		return nil, false
	}
	return tx.AppliedResult(idemKey)
}

// saveApplied records the result under a non-empty idempotency key,
// inside the same transaction as the mutation it guards
func saveApplied(tx ports.LedgerTx, idemKey string, result map[string]any) error {
	if idemKey == "" {
		return nil
	}
	return tx.SaveApplied(idemKey, result)
}

// txidFor derives the recorded transition txid from the idempotency
// key, or a fresh id for unkeyed operational calls
func txidFor(idemKey string) string {
	if idemKey == "" {
		idemKey = uuid.New().String()
	}
	d := crypto.Digest([]byte(idemKey))
	return hex.EncodeToString(d[:])
}
