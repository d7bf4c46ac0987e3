package ledger

import (
	"context"
	"fmt"

	"github.com/arkrelay/gateway/core"
	"github.com/arkrelay/gateway/ports"
)

// VtxoAction selects an operational VTXO manipulation
type VtxoAction string

const (
	ActionCreate VtxoAction = "create"
	ActionSplit  VtxoAction = "split"
	ActionMerge  VtxoAction = "merge"
)

// VtxoOp describes one manage-VTXOs request. Amount is used by create,
// VtxoID+Amounts by split, VtxoIDs by merge.
type VtxoOp struct {
	Action  VtxoAction
	Amount  uint64
	VtxoID  string
	Amounts []uint64
	VtxoIDs []string
}

// ManageVtxos performs explicit create/split/merge operations for
// operational tooling, under the same conservation and atomicity rules
// as ceremony-driven mutations. A double-spend of a named VTXO
// surfaces as ErrConflict.
func (m *Manager) ManageVtxos(ctx context.Context, owner, assetID string, op VtxoOp) (map[string]any, error) {
	switch op.Action {
	case ActionCreate:
		return m.Mint(ctx, "", owner, assetID, op.Amount)
	case ActionSplit:
		return m.split(ctx, owner, assetID, op.VtxoID, op.Amounts)
	case ActionMerge:
		return m.merge(ctx, owner, assetID, op.VtxoIDs)
	}
	return nil, fmt.Errorf("unknown vtxo action %q: %w", op.Action, core.ErrMalformedInput)
}

// split spends one VTXO and replaces it with outputs of the given
// amounts, which must sum to the input exactly
func (m *Manager) split(ctx context.Context, owner, assetID, vtxoID string, amounts []uint64) (map[string]any, error) {
	if len(amounts) < 2 {
		return nil, fmt.Errorf("split requires at least two output amounts: %w", core.ErrMalformedInput)
	}
	var result map[string]any
	err := m.store.Update(ctx, func(tx ports.LedgerTx) error {
		vtxo, err := m.ownedUnspent(tx, owner, assetID, vtxoID)
		if err != nil {
			return err
		}
		var sum uint64
		for _, a := range amounts {
			if a == 0 {
				return fmt.Errorf("split amounts must be positive: %w", core.ErrMalformedInput)
			}
			sum += a
		}
		if sum != vtxo.Amount {
			return fmt.Errorf("split outputs sum to %d, input is %d: %w", sum, vtxo.Amount, core.ErrMalformedInput)
		}

		asset, err := tx.GetAsset(assetID)
		if err != nil {
			return err
		}
		now := m.now()
		alloc, err := m.spendVtxo(tx, vtxo.ID, now)
		if err != nil {
			return err
		}

		outIDs := make([]string, 0, len(amounts))
		var produced []string
		for _, a := range amounts {
			out, outAlloc, err := m.createOutput(tx, asset, owner, a, now)
			if err != nil {
				return err
			}
			outIDs = append(outIDs, out.ID)
			if outAlloc != nil {
				produced = append(produced, outAlloc.AllocationID)
			}
		}
		if alloc != nil {
			contract, err := tx.GetContract(alloc.ContractID)
			if err != nil {
				return err
			}
			if err := m.advanceContract(tx, contract, []string{alloc.AllocationID}, produced, txidFor("")); err != nil {
				return err
			}
		}

		result = map[string]any{
			"operation":     "split",
			"asset_id":      assetID,
			"spent_vtxo_id": vtxo.ID,
			"vtxo_ids":      outIDs,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// merge spends multiple VTXOs and replaces them with a single output
// of their combined amount
func (m *Manager) merge(ctx context.Context, owner, assetID string, vtxoIDs []string) (map[string]any, error) {
	if len(vtxoIDs) < 2 {
		return nil, fmt.Errorf("merge requires at least two vtxos: %w", core.ErrMalformedInput)
	}
	var result map[string]any
	err := m.store.Update(ctx, func(tx ports.LedgerTx) error {
		asset, err := tx.GetAsset(assetID)
		if err != nil {
			return err
		}

		now := m.now()
		var total uint64
		var consumed []string
		var contractID string
		for _, id := range vtxoIDs {
			vtxo, err := m.ownedUnspent(tx, owner, assetID, id)
			if err != nil {
				return err
			}
			total += vtxo.Amount
			alloc, err := m.spendVtxo(tx, vtxo.ID, now)
			if err != nil {
				return err
			}
			if alloc != nil {
				consumed = append(consumed, alloc.AllocationID)
				contractID = alloc.ContractID
			}
		}

		out, outAlloc, err := m.createOutput(tx, asset, owner, total, now)
		if err != nil {
			return err
		}
		if contractID != "" {
			contract, err := tx.GetContract(contractID)
			if err != nil {
				return err
			}
			var produced []string
			if outAlloc != nil {
				produced = []string{outAlloc.AllocationID}
			}
			if err := m.advanceContract(tx, contract, consumed, produced, txidFor("")); err != nil {
				return err
			}
		}

		result = map[string]any{
			"operation":      "merge",
			"asset_id":       assetID,
			"spent_vtxo_ids": vtxoIDs,
			"vtxo_id":        out.ID,
			"amount":         total,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ownedUnspent loads a VTXO and checks ownership, asset and spend
// state before an operational mutation touches it
func (m *Manager) ownedUnspent(tx ports.LedgerTx, owner, assetID, vtxoID string) (*core.VTXO, error) {
	vtxo, err := tx.GetVtxo(vtxoID)
	if err != nil {
		return nil, fmt.Errorf("vtxo %s: %w", vtxoID, err)
	}
	if vtxo.OwnerPubkey != owner {
		return nil, fmt.Errorf("vtxo %s not owned by caller: %w", vtxoID, core.ErrConflict)
	}
	if vtxo.AssetID != assetID {
		return nil, fmt.Errorf("vtxo %s belongs to asset %s: %w", vtxoID, vtxo.AssetID, core.ErrMalformedInput)
	}
	if vtxo.Spent {
		return nil, fmt.Errorf("vtxo %s already spent: %w", vtxoID, core.ErrConflict)
	}
	return vtxo, nil
}
