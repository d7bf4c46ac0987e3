package ports

import (
	"context"
	"time"

	"github.com/arkrelay/gateway/core"
)

// SessionStore persists ceremony sessions. Implementations must
// serialize Update calls per session id so status transitions behave
// as compare-and-set.
type SessionStore interface {
	// Put stores a new session, failing with ErrAlreadyExists on a duplicate id
	Put(ctx context.Context, s *core.Session) error

	// Get returns a copy of the session or ErrNotFound
	Get(ctx context.Context, id string) (*core.Session, error)

	// Update applies fn to the stored session under the store's
	// per-session lock; mutations persist iff fn returns nil. The
	// updated copy is returned on success.
	Update(ctx context.Context, id string, fn func(*core.Session) error) (*core.Session, error)

	// ListNonTerminal returns copies of every session not yet in a
	// terminal state, for the expiry sweep
	ListNonTerminal(ctx context.Context) ([]*core.Session, error)
}

// ChallengeStore persists single-use challenges. At most one active
// challenge exists per session; saving a new one supersedes it.
type ChallengeStore interface {
	// Save stores ch and repoints its session's active challenge,
	// invalidating any prior unconsumed challenge
	Save(ctx context.Context, ch *core.Challenge) error

	// Get returns a copy of the challenge or ErrNotFound
	Get(ctx context.Context, id string) (*core.Challenge, error)

	// ActiveForSession returns the session's current challenge, or
	// ErrNoActiveChallenge when none is live
	ActiveForSession(ctx context.Context, sessionID string) (*core.Challenge, error)

	// MarkConsumed flips the one-shot consumed flag, failing with
	// ErrChallengeAlreadyConsumed on a second call
	MarkConsumed(ctx context.Context, id string) error

	// DeleteExpired reclaims challenges whose TTL elapsed before now,
	// returning the count removed
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// LedgerStore provides transactional access to assets, VTXOs,
// contracts, allocations and applied-intent records. Everything done
// inside one Update commits atomically or not at all.
type LedgerStore interface {
	// View runs fn read-only against a consistent snapshot
	View(ctx context.Context, fn func(tx LedgerTx) error) error

	// Update runs fn in a read-write transaction; writes are staged
	// and committed only when fn returns nil
	Update(ctx context.Context, fn func(tx LedgerTx) error) error
}

// LedgerTx is the record-level surface inside a ledger transaction
type LedgerTx interface {
	GetAsset(id string) (*core.Asset, error)
	PutAsset(a *core.Asset) error    // ErrAlreadyExists on duplicate id
	UpdateAsset(a *core.Asset) error // ErrNotFound when absent
	ListAssets() ([]*core.Asset, error)

	GetVtxo(id string) (*core.VTXO, error)
	PutVtxo(v *core.VTXO) error
	// UnspentByOwner returns the owner's unspent VTXOs for an asset,
	// oldest first (CreatedAt, then id, a total order)
	UnspentByOwner(owner, assetID string) ([]*core.VTXO, error)
	// MarkVtxoSpent claims a VTXO for the current transaction,
	// failing with ErrConflict if it was already spent
	MarkVtxoSpent(id string, at time.Time) error

	GetContract(id string) (*core.Contract, error)
	PutContract(c *core.Contract) error
	UpdateContract(c *core.Contract) error

	PutAllocation(a *core.Allocation) error
	AllocationByVtxo(vtxoID string) (*core.Allocation, error) // ErrNotFound when unbound
	MarkAllocationSpent(id string, at time.Time) error

	// AppliedResult returns the stored result for an idempotency key,
	// if the keyed intent was already applied
	AppliedResult(key string) (map[string]any, bool)
	SaveApplied(key string, result map[string]any) error
}
