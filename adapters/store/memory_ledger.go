package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/arkrelay/gateway/core"
	"github.com/arkrelay/gateway/ports"
)

// MemoryLedgerStore is an in-memory transactional implementation of
// LedgerStore. Update holds the write lock for the whole transaction
// and stages writes in a buffer, committing them only when the
// callback succeeds, so a failed mutation leaves nothing applied.
type MemoryLedgerStore struct {
	assets      map[string]*core.Asset
	vtxos       map[string]*core.VTXO
	contracts   map[string]*core.Contract
	allocations map[string]*core.Allocation
	allocByVtxo map[string]string // vtxo id -> allocation id
	applied     map[string]map[string]any
	mu          sync.RWMutex
}

// NewMemoryLedgerStore creates a new in-memory ledger store
func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{
		assets:      make(map[string]*core.Asset),
		vtxos:       make(map[string]*core.VTXO),
		contracts:   make(map[string]*core.Contract),
		allocations: make(map[string]*core.Allocation),
		allocByVtxo: make(map[string]string),
		applied:     make(map[string]map[string]any),
	}
}

// View runs fn against a consistent read-only snapshot
func (s *MemoryLedgerStore) View(ctx context.Context, fn func(tx ports.LedgerTx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memLedgerTx{store: s})
}

// Update runs fn in a serialized read-write transaction
func (s *MemoryLedgerStore) Update(ctx context.Context, fn func(tx ports.LedgerTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memLedgerTx{
		store:       s,
		assets:      make(map[string]*core.Asset),
		vtxos:       make(map[string]*core.VTXO),
		contracts:   make(map[string]*core.Contract),
		allocations: make(map[string]*core.Allocation),
		allocByVtxo: make(map[string]string),
		applied:     make(map[string]map[string]any),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// memLedgerTx stages writes in its own maps; reads consult the staged
// maps first, then the committed state. A nil write-set means the
// transaction is read-only.
type memLedgerTx struct {
	store       *MemoryLedgerStore
	assets      map[string]*core.Asset
	vtxos       map[string]*core.VTXO
	contracts   map[string]*core.Contract
	allocations map[string]*core.Allocation
	allocByVtxo map[string]string
	applied     map[string]map[string]any
}

func (tx *memLedgerTx) writable() bool { return tx.assets != nil }

func (tx *memLedgerTx) commit() {
	for id, a := range tx.assets {
		tx.store.assets[id] = a
	}
	for id, v := range tx.vtxos {
		tx.store.vtxos[id] = v
	}
	for id, c := range tx.contracts {
		tx.store.contracts[id] = c
	}
	for id, a := range tx.allocations {
		tx.store.allocations[id] = a
	}
	for vtxoID, allocID := range tx.allocByVtxo {
		tx.store.allocByVtxo[vtxoID] = allocID
	}
	for key, result := range tx.applied {
		tx.store.applied[key] = result
	}
}

func (tx *memLedgerTx) GetAsset(id string) (*core.Asset, error) {
	if a, ok := tx.assets[id]; ok {
		return cloneAsset(a), nil
	}
	if a, ok := tx.store.assets[id]; ok {
		return cloneAsset(a), nil
	}
	return nil, core.ErrNotFound
}

func (tx *memLedgerTx) PutAsset(a *core.Asset) error {
	if !tx.writable() {
		return core.ErrConflict
	}
	if _, err := tx.GetAsset(a.ID); err == nil {
		return core.ErrAlreadyExists
	}
	tx.assets[a.ID] = cloneAsset(a)
	return nil
}

func (tx *memLedgerTx) UpdateAsset(a *core.Asset) error {
	if !tx.writable() {
		return core.ErrConflict
	}
	if _, err := tx.GetAsset(a.ID); err != nil {
		return err
	}
	tx.assets[a.ID] = cloneAsset(a)
	return nil
}

func (tx *memLedgerTx) ListAssets() ([]*core.Asset, error) {
	seen := make(map[string]bool)
	var out []*core.Asset
	for id, a := range tx.assets {
		seen[id] = true
		out = append(out, cloneAsset(a))
	}
	for id, a := range tx.store.assets {
		if !seen[id] {
			out = append(out, cloneAsset(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *memLedgerTx) GetVtxo(id string) (*core.VTXO, error) {
	if v, ok := tx.vtxos[id]; ok {
		return cloneVtxo(v), nil
	}
	if v, ok := tx.store.vtxos[id]; ok {
		return cloneVtxo(v), nil
	}
	return nil, core.ErrNotFound
}

func (tx *memLedgerTx) PutVtxo(v *core.VTXO) error {
	if !tx.writable() {
		return core.ErrConflict
	}
	if _, err := tx.GetVtxo(v.ID); err == nil {
		return core.ErrAlreadyExists
	}
	tx.vtxos[v.ID] = cloneVtxo(v)
	return nil
}

func (tx *memLedgerTx) UnspentByOwner(owner, assetID string) ([]*core.VTXO, error) {
	seen := make(map[string]bool)
	var out []*core.VTXO
	collect := func(v *core.VTXO) {
		if seen[v.ID] {
			return
		}
		seen[v.ID] = true
		if v.OwnerPubkey == owner && v.AssetID == assetID && !v.Spent {
			out = append(out, cloneVtxo(v))
		}
	}
	// staged copies shadow committed ones
	for _, v := range tx.vtxos {
		collect(v)
	}
	for _, v := range tx.store.vtxos {
		collect(v)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (tx *memLedgerTx) MarkVtxoSpent(id string, at time.Time) error {
	if !tx.writable() {
		return core.ErrConflict
	}
	v, err := tx.GetVtxo(id)
	if err != nil {
		return err
	}
	if v.Spent {
		return core.ErrConflict
	}
	v.Spent = true
	spentAt := at
	v.SpentAt = &spentAt
	tx.vtxos[id] = v
	return nil
}

func (tx *memLedgerTx) GetContract(id string) (*core.Contract, error) {
	if c, ok := tx.contracts[id]; ok {
		dup := *c
		return &dup, nil
	}
	if c, ok := tx.store.contracts[id]; ok {
		dup := *c
		return &dup, nil
	}
	return nil, core.ErrNotFound
}

func (tx *memLedgerTx) PutContract(c *core.Contract) error {
	if !tx.writable() {
		return core.ErrConflict
	}
	if _, err := tx.GetContract(c.ContractID); err == nil {
		return core.ErrAlreadyExists
	}
	dup := *c
	tx.contracts[c.ContractID] = &dup
	return nil
}

func (tx *memLedgerTx) UpdateContract(c *core.Contract) error {
	if !tx.writable() {
		return core.ErrConflict
	}
	if _, err := tx.GetContract(c.ContractID); err != nil {
		return err
	}
	dup := *c
	tx.contracts[c.ContractID] = &dup
	return nil
}

func (tx *memLedgerTx) PutAllocation(a *core.Allocation) error {
	if !tx.writable() {
		return core.ErrConflict
	}
	if _, ok := tx.allocations[a.AllocationID]; ok {
		return core.ErrAlreadyExists
	}
	if _, ok := tx.store.allocations[a.AllocationID]; ok {
		return core.ErrAlreadyExists
	}
	dup := *a
	tx.allocations[a.AllocationID] = &dup
	tx.allocByVtxo[a.VtxoID] = a.AllocationID
	return nil
}

func (tx *memLedgerTx) AllocationByVtxo(vtxoID string) (*core.Allocation, error) {
	allocID, ok := tx.allocByVtxo[vtxoID]
	if !ok {
		allocID, ok = tx.store.allocByVtxo[vtxoID]
	}
	if !ok {
		return nil, core.ErrNotFound
	}
	if a, ok := tx.allocations[allocID]; ok {
		dup := *a
		return &dup, nil
	}
	if a, ok := tx.store.allocations[allocID]; ok {
		dup := *a
		return &dup, nil
	}
	return nil, core.ErrNotFound
}

func (tx *memLedgerTx) MarkAllocationSpent(id string, at time.Time) error {
	if !tx.writable() {
		return core.ErrConflict
	}
	var a *core.Allocation
	if staged, ok := tx.allocations[id]; ok {
		a = staged
	} else if committed, ok := tx.store.allocations[id]; ok {
		dup := *committed
		a = &dup
	} else {
		return core.ErrNotFound
	}
	if a.Spent {
		return core.ErrConflict
	}
	a.Spent = true
	spentAt := at
	a.SpentAt = &spentAt
	tx.allocations[id] = a
	return nil
}

func (tx *memLedgerTx) AppliedResult(key string) (map[string]any, bool) {
	if r, ok := tx.applied[key]; ok {
		return cloneResult(r), true
	}
	if r, ok := tx.store.applied[key]; ok {
		return cloneResult(r), true
	}
	return nil, false
}

func (tx *memLedgerTx) SaveApplied(key string, result map[string]any) error {
	if !tx.writable() {
		return core.ErrConflict
	}
	tx.applied[key] = cloneResult(result)
	return nil
}

func cloneAsset(a *core.Asset) *core.Asset {
	dup := *a
	if a.RGB != nil {
		rgb := *a.RGB
		dup.RGB = &rgb
	}
	return &dup
}

func cloneVtxo(v *core.VTXO) *core.VTXO {
	dup := *v
	if v.SpentAt != nil {
		at := *v.SpentAt
		dup.SpentAt = &at
	}
	if v.RGB != nil {
		rgb := *v.RGB
		dup.RGB = &rgb
	}
	return &dup
}

func cloneResult(r map[string]any) map[string]any {
	if r == nil {
		return nil
	}
	dup := make(map[string]any, len(r))
	for k, v := range r {
		dup[k] = v
	}
	return dup
}

var _ ports.LedgerStore = (*MemoryLedgerStore)(nil)
