// Package relay implements the bundle-inclusion capability contract shared by
// the three network relays: the auction relay (ethereum), the block-engine
// relay (solana), and the vendor relay (bsc). Differences in bid denomination,
// target window computation, and inclusion queries stay inside this package;
// the orchestrator sees only the Relay interface.
package relay

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mevduct/sandwichd/internal/domain"
)

// Relay is the capability contract every network implementation satisfies.
type Relay interface {
	// Network identifies the ledger this relay serves.
	Network() domain.Network
	// IsReady reports whether the relay endpoint handshake has succeeded.
	IsReady(ctx context.Context) bool
	// BuildBundle constructs the ordered [front-run, victim, back-run] bundle
	// for an opportunity. The bundle is registered in the relay's table.
	BuildBundle(ctx context.Context, opp *domain.SandwichOpportunity, params domain.ExecutionParams) (*domain.Bundle, error)
	// SubmitBundle re-simulates the bundle and, on success, submits it. A
	// simulation failure marks the bundle failed with the revert reason and
	// nothing is submitted.
	SubmitBundle(ctx context.Context, bundleID string) error
	// BundleStatus returns a snapshot of the bundle's current lifecycle
	// state, querying the network when the bundle is still pending.
	BundleStatus(ctx context.Context, bundleID string) (*domain.Bundle, error)
	// CancelBundle withdraws a bundle best-effort. Cancellation is not
	// guaranteed once the bundle has been submitted.
	CancelBundle(ctx context.Context, bundleID string) error
}

// computeBid returns the inclusion bid for an estimated profit: at most
// (1 - reserve) * profit, and never above cap when a cap is set. Bids are
// integral in the relay's native denomination.
func computeBid(profit *big.Int, reserve float64, cap *big.Int) *big.Int {
	if profit == nil || profit.Sign() <= 0 {
		return new(big.Int)
	}
	keep := int64((1 - reserve) * 1e6)
	if keep < 0 {
		keep = 0
	}
	bid := new(big.Int).Mul(profit, big.NewInt(keep))
	bid.Div(bid, big.NewInt(1e6))
	if cap != nil && cap.Sign() > 0 && bid.Cmp(cap) > 0 {
		bid.Set(cap)
	}
	return bid
}

// bidBasis picks the profit figure a bid is computed from: the native-unit
// estimate when the evaluator could convert it, otherwise the input-asset
// estimate (the input asset is the native coin in the common case).
func bidBasis(opp *domain.SandwichOpportunity) *big.Int {
	if opp.EstimatedProfitNative != nil && opp.EstimatedProfitNative.Sign() > 0 {
		return opp.EstimatedProfitNative
	}
	return opp.EstimatedProfit
}

// bundleTable is the per-relay registry of bundles. Each relay instance owns
// its table exclusively; the orchestrator only receives snapshots.
type bundleTable struct {
	mu      sync.Mutex
	bundles map[string]*domain.Bundle
}

func newBundleTable() *bundleTable {
	return &bundleTable{bundles: make(map[string]*domain.Bundle)}
}

func (t *bundleTable) add(b *domain.Bundle) {
	t.mu.Lock()
	t.bundles[b.ID] = b
	t.mu.Unlock()
}

// get returns a snapshot copy; the table's own record is never shared.
func (t *bundleTable) get(id string) (*domain.Bundle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.bundles[id]
	if !ok {
		return nil, false
	}
	cp := *b
	if b.Transactions != nil {
		cp.Transactions = append([][]byte(nil), b.Transactions...)
	}
	return &cp, true
}

// update applies fn to the stored bundle under the table lock and stamps
// UpdatedAt. It returns false when the bundle does not exist.
func (t *bundleTable) update(id string, fn func(*domain.Bundle)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.bundles[id]
	if !ok {
		return false
	}
	fn(b)
	b.UpdatedAt = time.Now().UTC()
	return true
}

// newBundle creates the common skeleton shared by the three implementations.
func newBundle(network domain.Network, opp *domain.SandwichOpportunity, bid *big.Int, target uint64) *domain.Bundle {
	now := time.Now().UTC()
	return &domain.Bundle{
		ID:            uuid.New().String(),
		Network:       network,
		OpportunityID: opp.ID,
		VictimHash:    opp.VictimTxHash,
		TargetBlock:   target,
		Bid:           bid,
		Status:        domain.BundleStatusBuilt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
