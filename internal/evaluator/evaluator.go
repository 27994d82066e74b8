// Package evaluator decides whether a decoded pending swap can be profitably
// sandwiched at current pool state. It owns the constant-product simulation,
// the rejection ladder, and the confidence / MEV scoring.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mevduct/sandwichd/internal/domain"
)

// Rejection reasons, in ladder order. These are ordinary negative results,
// never faults.
var (
	ErrDeadlinePassed = errors.New("victim deadline already passed")
	ErrBlacklisted    = errors.New("token blacklisted")
	ErrHoneypot       = errors.New("token flagged as honeypot")
	ErrLowQuality     = errors.New("token quality below minimum")
	ErrLowLiquidity   = errors.New("pool liquidity below floor")
	ErrUnprofitable   = errors.New("simulated profit below threshold")
)

// Config holds the evaluator's thresholds. The front-run ratio and margin
// numbers are empirical, exposed as configuration rather than constants.
type Config struct {
	FrontRunRatio     float64
	GuardToleranceBps int
	MinProfit         *big.Int
	MinProfitability  float64 // percent of front-run capital
	MinTokenQuality   float64
	MinLiquidity      *big.Int
	LiquidityFloorUSD float64
	OpportunityTTL    time.Duration
	GasUnitsPerLeg    uint64
	Blacklist         map[string]bool
	// NativeToken maps each network to the token that denominates gas, used
	// to convert gas cost into the victim's input asset.
	NativeToken map[domain.Network]string
}

// OpportunityHandler observes every emitted opportunity. Handlers must not
// block: they are invoked on the evaluating goroutine.
type OpportunityHandler func(opp *domain.SandwichOpportunity)

// Evaluator consumes CandidateSwaps and emits SandwichOpportunities. It is
// safe for concurrent use; every evaluation works on copied pool state.
type Evaluator struct {
	meta     domain.MetadataSource
	cfg      Config
	handlers []OpportunityHandler
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an Evaluator over the given metadata source.
func New(meta domain.MetadataSource, cfg Config, logger *slog.Logger) *Evaluator {
	if cfg.GasUnitsPerLeg == 0 {
		cfg.GasUnitsPerLeg = 180000
	}
	return &Evaluator{
		meta:   meta,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "evaluator")),
		now:    time.Now,
	}
}

// OnOpportunity registers a handler for emitted opportunities. Must be called
// before evaluation starts.
func (e *Evaluator) OnOpportunity(h OpportunityHandler) {
	e.handlers = append(e.handlers, h)
}

// Evaluate runs the rejection ladder and simulation for one candidate. It
// returns the emitted opportunity, or a nil opportunity and the ladder error
// that rejected the candidate. Each check short-circuits in order.
func (e *Evaluator) Evaluate(ctx context.Context, cand *domain.CandidateSwap) (*domain.SandwichOpportunity, error) {
	now := e.now()

	// 1. Deadline.
	if cand.Expired(now) {
		return nil, ErrDeadlinePassed
	}

	// 2. Token checks.
	tokenIn, err := e.meta.Token(ctx, cand.Network, cand.TokenIn)
	if err != nil {
		return nil, fmt.Errorf("evaluator: token in %s: %w", cand.TokenIn, err)
	}
	tokenOut, err := e.meta.Token(ctx, cand.Network, cand.TokenOut)
	if err != nil {
		return nil, fmt.Errorf("evaluator: token out %s: %w", cand.TokenOut, err)
	}
	for _, t := range []domain.TokenInfo{tokenIn, tokenOut} {
		if e.blacklisted(t.Address) {
			return nil, ErrBlacklisted
		}
		if t.Honeypot {
			return nil, ErrHoneypot
		}
		if t.QualityScore(e.cfg.LiquidityFloorUSD) < e.cfg.MinTokenQuality {
			return nil, ErrLowQuality
		}
	}

	// 3. Pool liquidity floor.
	pool, err := e.meta.PoolByPair(ctx, cand.Network, cand.TokenIn, cand.TokenOut)
	if err != nil {
		return nil, fmt.Errorf("evaluator: pool for %s/%s: %w", cand.TokenIn, cand.TokenOut, err)
	}
	reserveIn, _, ok := pool.ReservesFor(cand.TokenIn)
	if !ok {
		return nil, ErrTokenNotInPool
	}
	if e.cfg.MinLiquidity != nil && e.cfg.MinLiquidity.Sign() > 0 && reserveIn.Cmp(e.cfg.MinLiquidity) < 0 {
		return nil, ErrLowLiquidity
	}

	// 4+5. Simulation: victim guard, then profitability.
	frontIn := frontRunSize(cand.AmountIn, e.cfg.FrontRunRatio)
	gasCost := e.gasCostInInputAsset(ctx, cand, tokenIn)
	sim, err := simulateSandwich(pool, cand.TokenIn, cand.AmountIn, cand.MinAmountOut, frontIn, gasCost, e.cfg.GuardToleranceBps)
	if err != nil {
		return nil, err
	}

	profitability := profitabilityPct(sim.NetProfit, frontIn)
	if sim.NetProfit.Sign() <= 0 ||
		(e.cfg.MinProfit != nil && sim.NetProfit.Cmp(e.cfg.MinProfit) < 0) ||
		profitability < e.cfg.MinProfitability {
		return nil, ErrUnprofitable
	}

	confidence := e.confidence(sim, reserveIn)
	opp := &domain.SandwichOpportunity{
		ID:                    uuid.New().String(),
		Network:               cand.Network,
		Family:                cand.Family,
		VictimTxHash:          cand.TxHash,
		VictimRawTx:           cand.RawTx,
		VictimAmountIn:        cand.AmountIn,
		VictimMinOut:          cand.MinAmountOut,
		TokenIn:               cand.TokenIn,
		TokenOut:              cand.TokenOut,
		Router:                cand.Router,
		PoolAddress:           pool.Address,
		PoolFeeBps:            pool.FeeBps,
		FrontRunAmountIn:      frontIn,
		FrontRunExpectedOut:   sim.FrontRunOut,
		GasPrice:              cand.GasPrice,
		EstimatedProfit:       sim.NetProfit,
		EstimatedProfitNative: e.toNativeUnits(ctx, cand.Network, tokenIn, sim.NetProfit),
		EstimatedGasCost:      sim.GasCost,
		VictimAccounts:        cand.Accounts,
		Profitability:         profitability,
		Confidence:            confidence,
		SlippageBps:           sim.VictimImpactBps,
		MEVScore:              mevScore(profitability, confidence, tokenIn, tokenOut, e.cfg.LiquidityFloorUSD),
		DetectedAt:            now,
		ExpiresAt:             e.expiry(now, cand.Deadline),
	}

	e.logger.Info("opportunity found",
		slog.String("id", opp.ID),
		slog.String("network", string(opp.Network)),
		slog.String("victim", opp.VictimTxHash),
		slog.String("profit", opp.EstimatedProfit.String()),
		slog.Float64("profitability_pct", opp.Profitability),
		slog.Float64("mev_score", opp.MEVScore),
	)
	for _, h := range e.handlers {
		h(opp)
	}
	return opp, nil
}

func (e *Evaluator) blacklisted(address string) bool {
	return e.cfg.Blacklist[strings.ToLower(address)] || e.cfg.Blacklist[address]
}

// expiry bounds the opportunity lifetime by both the configured TTL and the
// victim's own deadline.
func (e *Evaluator) expiry(now, deadline time.Time) time.Time {
	exp := now.Add(e.cfg.OpportunityTTL)
	if !deadline.IsZero() && deadline.Before(exp) {
		exp = deadline
	}
	return exp
}

// gasCostInInputAsset estimates the bundle's gas cost (two legs at the
// observed fee level) and converts it into the victim's input asset via
// cached unit prices. Conversion is best-effort: without price data the cost
// is treated as zero and the profit floor is the only protection.
func (e *Evaluator) gasCostInInputAsset(ctx context.Context, cand *domain.CandidateSwap, tokenIn domain.TokenInfo) *big.Int {
	if cand.GasPrice == nil || cand.GasPrice.Sign() <= 0 {
		return new(big.Int)
	}
	gasNative := new(big.Int).Mul(cand.GasPrice, new(big.Int).SetUint64(2*e.cfg.GasUnitsPerLeg))

	nativeAddr, ok := e.cfg.NativeToken[cand.Network]
	if !ok || strings.EqualFold(nativeAddr, tokenIn.Address) {
		return gasNative
	}
	native, err := e.meta.Token(ctx, cand.Network, nativeAddr)
	if err != nil || native.UnitPriceUSD <= 0 || tokenIn.UnitPriceUSD <= 0 {
		return new(big.Int)
	}

	// gasNative is in the native asset's smallest unit; rescale into the
	// input asset's smallest unit through the USD prices.
	cost := new(big.Float).SetInt(gasNative)
	cost.Quo(cost, pow10(native.Decimals))
	cost.Mul(cost, big.NewFloat(native.UnitPriceUSD))
	cost.Quo(cost, big.NewFloat(tokenIn.UnitPriceUSD))
	cost.Mul(cost, pow10(tokenIn.Decimals))

	out, _ := cost.Int(nil)
	if out == nil || out.Sign() < 0 {
		return new(big.Int)
	}
	return out
}

// toNativeUnits converts an input-asset amount into the network's native coin
// for relay bidding. When the input asset already is the native coin the
// amount passes through; without price data the result is zero and the relay
// falls back to the input-asset figure.
func (e *Evaluator) toNativeUnits(ctx context.Context, network domain.Network, tokenIn domain.TokenInfo, amount *big.Int) *big.Int {
	if amount == nil || amount.Sign() <= 0 {
		return new(big.Int)
	}
	nativeAddr, ok := e.cfg.NativeToken[network]
	if !ok {
		return new(big.Int)
	}
	if strings.EqualFold(nativeAddr, tokenIn.Address) {
		return new(big.Int).Set(amount)
	}
	native, err := e.meta.Token(ctx, network, nativeAddr)
	if err != nil || native.UnitPriceUSD <= 0 || tokenIn.UnitPriceUSD <= 0 {
		return new(big.Int)
	}

	v := new(big.Float).SetInt(amount)
	v.Quo(v, pow10(tokenIn.Decimals))
	v.Mul(v, big.NewFloat(tokenIn.UnitPriceUSD))
	v.Quo(v, big.NewFloat(native.UnitPriceUSD))
	v.Mul(v, pow10(native.Decimals))

	out, _ := v.Int(nil)
	if out == nil || out.Sign() < 0 {
		return new(big.Int)
	}
	return out
}

// confidence combines price-impact magnitude, pool depth, and guard margin
// into a 0..1 score.
func (e *Evaluator) confidence(sim SimResult, reserveIn *big.Int) float64 {
	c := 1.0
	if sim.VictimImpactBps > 500 {
		c -= 0.2
	}
	if sim.VictimImpactBps > 1000 {
		c -= 0.2
	}
	if e.cfg.MinLiquidity != nil && e.cfg.MinLiquidity.Sign() > 0 {
		depthFloor := new(big.Int).Lsh(e.cfg.MinLiquidity, 1) // 2x the hard floor
		if reserveIn.Cmp(depthFloor) < 0 {
			c -= 0.2
		}
	}
	if sim.GuardMarginBps >= 0 && sim.GuardMarginBps < 200 {
		c -= 0.15
	}
	if c < 0 {
		c = 0
	}
	return c
}

// mevScore is the composite ranking heuristic:
// min(100, profitability*10 + bonuses) * confidence.
func mevScore(profitability, confidence float64, tokenIn, tokenOut domain.TokenInfo, liquidityFloorUSD float64) float64 {
	score := profitability * 10

	liq := tokenOut.LiquidityUSD
	switch {
	case liquidityFloorUSD > 0 && liq >= 2*liquidityFloorUSD:
		score += 10
	case liquidityFloorUSD > 0 && liq >= liquidityFloorUSD:
		score += 5
	}

	quality := (tokenIn.QualityScore(liquidityFloorUSD) + tokenOut.QualityScore(liquidityFloorUSD)) / 2
	score += quality / 10

	vol := tokenOut.Volume24hUSD
	if vol >= 1_000_000 {
		score += 10
	} else if vol > 0 {
		score += vol / 1_000_000 * 10
	}

	if score > 100 {
		score = 100
	}
	return score * confidence
}

// frontRunSize bounds the front-run to a fraction of the victim's input.
func frontRunSize(victimIn *big.Int, ratio float64) *big.Int {
	// ratio is config-validated to (0,1); a 1e6 scale keeps the arithmetic
	// integral without losing meaningful precision.
	scaled := new(big.Int).Mul(victimIn, big.NewInt(int64(ratio*1e6)))
	return scaled.Div(scaled, big.NewInt(1e6))
}

// profitabilityPct expresses net profit as a percentage of front-run capital.
func profitabilityPct(net, frontIn *big.Int) float64 {
	if frontIn.Sign() == 0 {
		return 0
	}
	return ratioBps(net, frontIn) / 100
}

// Resimulate re-runs the profitability simulation for an existing opportunity
// against freshly fetched pool state. The orchestrator calls this between
// detection and submission to defend against staleness.
func (e *Evaluator) Resimulate(ctx context.Context, opp *domain.SandwichOpportunity, frontIn *big.Int) (SimResult, error) {
	if inv, ok := e.meta.(domain.MetadataInvalidator); ok {
		inv.Invalidate(ctx, opp.Network, opp.PoolAddress)
	}
	pool, err := e.meta.Pool(ctx, opp.Network, opp.PoolAddress)
	if err != nil {
		return SimResult{}, fmt.Errorf("evaluator: refetch pool %s: %w", opp.PoolAddress, err)
	}
	if frontIn == nil {
		frontIn = opp.FrontRunAmountIn
	}
	return simulateSandwich(pool, opp.TokenIn, opp.VictimAmountIn, opp.VictimMinOut, frontIn, opp.EstimatedGasCost, e.cfg.GuardToleranceBps)
}
