package evaluator

import (
	"errors"
	"math/big"

	"github.com/mevduct/sandwichd/internal/domain"
)

const bpsDenom = 10000

var (
	ErrPoolEmpty      = errors.New("pool has empty reserves")
	ErrTokenNotInPool = errors.New("token not in pool")
	// ErrVictimDoomed means the victim fails its own minimum-output guard on
	// untouched reserves; the transaction will revert regardless of us.
	ErrVictimDoomed = errors.New("victim fails its own output guard")
	// ErrGuardViolated means the front-run would push the victim's output
	// below its guard beyond the configured tolerance, reverting the victim
	// and extracting nothing.
	ErrGuardViolated = errors.New("front-run would violate victim output guard")
)

// amountOut computes constant-product output with the fee deducted from the
// input side: out = inFee*Rout / (Rin*10000 + inFee) with inFee = in*(10000-fee).
// Pure integer math; identical inputs always yield identical output.
func amountOut(amountIn, reserveIn, reserveOut *big.Int, feeBps uint32) *big.Int {
	inFee := new(big.Int).Mul(amountIn, big.NewInt(bpsDenom-int64(feeBps)))
	num := new(big.Int).Mul(inFee, reserveOut)
	den := new(big.Int).Mul(reserveIn, big.NewInt(bpsDenom))
	den.Add(den, inFee)
	if den.Sign() == 0 {
		return new(big.Int)
	}
	return num.Div(num, den)
}

// poolSim is a mutable two-sided simulation of one constant-product pool,
// oriented so reserveIn backs the victim's input asset.
type poolSim struct {
	reserveIn  *big.Int
	reserveOut *big.Int
	feeBps     uint32
}

func newPoolSim(pool domain.PoolInfo, tokenIn string) (*poolSim, error) {
	rin, rout, ok := pool.ReservesFor(tokenIn)
	if !ok {
		return nil, ErrTokenNotInPool
	}
	if rin == nil || rout == nil || rin.Sign() <= 0 || rout.Sign() <= 0 {
		return nil, ErrPoolEmpty
	}
	return &poolSim{
		reserveIn:  new(big.Int).Set(rin),
		reserveOut: new(big.Int).Set(rout),
		feeBps:     pool.FeeBps,
	}, nil
}

// swapIn trades the input asset for the output asset, mutating reserves.
func (p *poolSim) swapIn(amount *big.Int) *big.Int {
	out := amountOut(amount, p.reserveIn, p.reserveOut, p.feeBps)
	p.reserveIn.Add(p.reserveIn, amount)
	p.reserveOut.Sub(p.reserveOut, out)
	return out
}

// swapBack trades the output asset back into the input asset, mutating
// reserves. This is the back-run direction.
func (p *poolSim) swapBack(amount *big.Int) *big.Int {
	out := amountOut(amount, p.reserveOut, p.reserveIn, p.feeBps)
	p.reserveOut.Add(p.reserveOut, amount)
	p.reserveIn.Sub(p.reserveIn, out)
	return out
}

// quoteIn returns the output for a trade without mutating reserves.
func (p *poolSim) quoteIn(amount *big.Int) *big.Int {
	return amountOut(amount, p.reserveIn, p.reserveOut, p.feeBps)
}

// SimResult is the outcome of one full sandwich simulation. All amounts are
// in native units; NetProfit is denominated in the victim's input asset.
type SimResult struct {
	FrontRunIn  *big.Int
	FrontRunOut *big.Int
	VictimOut   *big.Int
	BackRunOut  *big.Int
	GasCost     *big.Int
	NetProfit   *big.Int

	// VictimImpactBps is the victim's execution-price deterioration relative
	// to a guard-free fill on untouched reserves.
	VictimImpactBps float64
	// GuardMarginBps is how far above its guard the victim lands after the
	// front-run; negative values are within the configured tolerance.
	GuardMarginBps float64
}

// simulateSandwich runs the ordered front-run / victim / back-run sequence on
// a copy of the pool state.
//
// The sequence short-circuits when the victim would fail its own guard on
// untouched reserves (not our opportunity), and when the front-run would push
// the victim's output below its guard by more than toleranceBps.
func simulateSandwich(
	pool domain.PoolInfo,
	tokenIn string,
	victimIn, victimMinOut, frontIn, gasCost *big.Int,
	toleranceBps int,
) (SimResult, error) {
	sim, err := newPoolSim(pool, tokenIn)
	if err != nil {
		return SimResult{}, err
	}

	victimAloneOut := sim.quoteIn(victimIn)
	if victimMinOut != nil && victimMinOut.Sign() > 0 && victimAloneOut.Cmp(victimMinOut) < 0 {
		return SimResult{}, ErrVictimDoomed
	}

	frontOut := sim.swapIn(frontIn)
	victimOut := sim.swapIn(victimIn)

	var guardMarginBps float64
	if victimMinOut != nil && victimMinOut.Sign() > 0 {
		// victimOut must be at least minOut*(10000-tol)/10000.
		floor := new(big.Int).Mul(victimMinOut, big.NewInt(bpsDenom-int64(toleranceBps)))
		scaled := new(big.Int).Mul(victimOut, big.NewInt(bpsDenom))
		if scaled.Cmp(floor) < 0 {
			return SimResult{}, ErrGuardViolated
		}
		guardMarginBps = ratioBps(new(big.Int).Sub(victimOut, victimMinOut), victimMinOut)
	}

	backOut := sim.swapBack(frontOut)

	if gasCost == nil {
		gasCost = new(big.Int)
	}
	net := new(big.Int).Sub(backOut, frontIn)
	net.Sub(net, gasCost)

	impact := 0.0
	if victimAloneOut.Sign() > 0 {
		impact = ratioBps(new(big.Int).Sub(victimAloneOut, victimOut), victimAloneOut)
	}

	return SimResult{
		FrontRunIn:      new(big.Int).Set(frontIn),
		FrontRunOut:     frontOut,
		VictimOut:       victimOut,
		BackRunOut:      backOut,
		GasCost:         new(big.Int).Set(gasCost),
		NetProfit:       net,
		VictimImpactBps: impact,
		GuardMarginBps:  guardMarginBps,
	}, nil
}

// pow10 returns 10^n as a big.Float, for decimal rescaling at conversion
// boundaries.
func pow10(n uint8) *big.Float {
	out := big.NewFloat(1)
	ten := big.NewFloat(10)
	for i := uint8(0); i < n; i++ {
		out.Mul(out, ten)
	}
	return out
}

// ratioBps returns num/den in basis points as a float, for scoring only;
// profit arithmetic never leaves big.Int.
func ratioBps(num, den *big.Int) float64 {
	if den.Sign() == 0 {
		return 0
	}
	f := new(big.Float).Quo(new(big.Float).SetInt(num), new(big.Float).SetInt(den))
	v, _ := f.Float64()
	return v * bpsDenom
}
