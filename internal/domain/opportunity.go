package domain

import (
	"math/big"
	"time"
)

// SandwichOpportunity is the evaluator's verdict that bracketing a victim swap
// is profitable at current pool state. It is immutable after creation and
// consumed exactly once by the orchestrator; a re-evaluation produces a new
// instance with a new ID.
type SandwichOpportunity struct {
	ID      string
	Network Network
	Family  RouterFamily

	VictimTxHash   string
	VictimRawTx    []byte
	VictimAmountIn *big.Int
	VictimMinOut   *big.Int

	TokenIn     string
	TokenOut    string
	Router      string // router or program the victim targeted
	PoolAddress string
	PoolFeeBps  uint32 // the pool's fee tier, for building same-pool legs

	FrontRunAmountIn *big.Int
	// FrontRunExpectedOut is the simulated front-run output on detection-time
	// reserves; relays derive the front leg's minimum output from it.
	FrontRunExpectedOut *big.Int
	GasPrice            *big.Int // observed fee level at detection time
	EstimatedProfit     *big.Int // net, in the input asset's native unit
	// EstimatedProfitNative is the profit converted to the network's native
	// coin for bidding; zero when unit prices were unavailable.
	EstimatedProfitNative *big.Int
	EstimatedGasCost      *big.Int

	// VictimAccounts is the victim instruction's resolved account list
	// (block-engine network only); relays reuse the pool and market entries
	// when assembling their own legs.
	VictimAccounts []string

	Profitability float64 // net profit as a percentage of front-run capital
	Confidence    float64 // 0..1
	SlippageBps   float64 // simulated victim price impact
	MEVScore      float64 // 0..100 composite

	DetectedAt time.Time
	ExpiresAt  time.Time
}

// TimeToExpiry returns the remaining validity window at time now. It is
// negative once the opportunity has expired.
func (o *SandwichOpportunity) TimeToExpiry(now time.Time) time.Duration {
	return o.ExpiresAt.Sub(now)
}

// ExecutionParams are the caller-supplied constraints for one execution
// attempt. Zero values mean "no constraint" except SimulateOnly.
type ExecutionParams struct {
	FrontRunOverride *big.Int      // replaces the evaluator's front-run size
	MaxFee           *big.Int      // maximum acceptable gas/priority price
	MaxSlippageBps   int           // tolerance applied when building the bundle
	Deadline         time.Time     // overall deadline for the attempt
	MinProfit        *big.Int      // minimum acceptable simulated profit
	SimulateOnly     bool          // stop after fresh simulation, never submit
	PollInterval     time.Duration // monitoring poll override
}
