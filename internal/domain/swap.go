package domain

import (
	"math/big"
	"time"
)

// PathHop is one (token, fee) segment of a multi-hop swap path. FeeBps is zero
// for router families that encode the fee per pool rather than per hop.
type PathHop struct {
	Token  string
	FeeBps uint32
}

// CandidateSwap is the normalized intent of one observed pending transaction.
// It is created once by the decoder, never mutated, and discarded after
// evaluation.
type CandidateSwap struct {
	Network      Network
	TxHash       string // victim transaction hash / signature
	RawTx        []byte // raw signed payload, carried verbatim into the bundle
	Router       string // matched router or program address
	Family       RouterFamily
	TokenIn      string
	TokenOut     string
	AmountIn     *big.Int
	MinAmountOut *big.Int // the victim's minimum-output guard
	Deadline     time.Time
	Path         []PathHop // full hop list including TokenIn and TokenOut
	GasPrice     *big.Int  // observed gas/priority price in native units
	Accounts     []string  // resolved instruction accounts (solana only)
	ObservedAt   time.Time
}

// Expired reports whether the swap's declared deadline has already passed at
// time now. Swaps without a deadline never expire here.
func (c *CandidateSwap) Expired(now time.Time) bool {
	return !c.Deadline.IsZero() && now.After(c.Deadline)
}
