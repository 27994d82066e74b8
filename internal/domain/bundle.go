package domain

import (
	"math/big"
	"time"
)

// BundleStatus is the lifecycle state of a submitted bundle.
type BundleStatus string

const (
	BundleStatusBuilt     BundleStatus = "built"
	BundleStatusPending   BundleStatus = "pending"
	BundleStatusIncluded  BundleStatus = "included"
	BundleStatusFailed    BundleStatus = "failed"
	BundleStatusCancelled BundleStatus = "cancelled"
)

// Terminal reports whether the status can no longer change.
func (s BundleStatus) Terminal() bool {
	switch s {
	case BundleStatusIncluded, BundleStatusFailed, BundleStatusCancelled:
		return true
	default:
		return false
	}
}

// Bundle is an atomically ordered [front-run, victim, back-run] group built by
// a relay implementation. It is owned by the relay instance that created it;
// the orchestrator only ever reads snapshots returned by BundleStatus.
type Bundle struct {
	ID            string
	Network       Network
	OpportunityID string

	// Transactions holds the signed payloads in submission order:
	// index 0 front-run, 1 victim, 2 back-run.
	Transactions  [][]byte
	FrontRunHash  string
	VictimHash    string
	BackRunHash   string

	TargetBlock uint64 // block number, or slot on the block-engine network
	Bid         *big.Int

	Status       BundleStatus
	RevertReason string

	LandedBlock    uint64
	RealizedGas    *big.Int
	RealizedProfit *big.Int

	CreatedAt time.Time
	UpdatedAt time.Time
}
