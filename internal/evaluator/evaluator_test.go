package evaluator

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mevduct/sandwichd/internal/domain"
)

type fakeMeta struct {
	tokens      map[string]domain.TokenInfo
	pools       map[string]domain.PoolInfo
	pairPool    domain.PoolInfo
	invalidated []string
}

func (f *fakeMeta) Token(_ context.Context, _ domain.Network, address string) (domain.TokenInfo, error) {
	t, ok := f.tokens[address]
	if !ok {
		return domain.TokenInfo{}, domain.ErrNotFound
	}
	return t, nil
}

func (f *fakeMeta) Pool(_ context.Context, _ domain.Network, address string) (domain.PoolInfo, error) {
	p, ok := f.pools[address]
	if !ok {
		return domain.PoolInfo{}, domain.ErrNotFound
	}
	return p, nil
}

func (f *fakeMeta) PoolByPair(context.Context, domain.Network, string, string) (domain.PoolInfo, error) {
	if f.pairPool.Address == "" {
		return domain.PoolInfo{}, domain.ErrNotFound
	}
	return f.pairPool, nil
}

func (f *fakeMeta) Invalidate(_ context.Context, _ domain.Network, address string) {
	f.invalidated = append(f.invalidated, address)
}

func goodToken(address string) domain.TokenInfo {
	return domain.TokenInfo{
		Network:      domain.NetworkEthereum,
		Address:      address,
		Decimals:     18,
		Verified:     true,
		LiquidityUSD: 500_000,
		Volume24hUSD: 2_000_000,
	}
}

func testEvaluator(meta domain.MetadataSource) *Evaluator {
	return New(meta, Config{
		FrontRunRatio:     0.3,
		GuardToleranceBps: 500,
		MinProfit:         big.NewInt(1),
		MinProfitability:  0.5,
		MinTokenQuality:   50,
		LiquidityFloorUSD: 100_000,
		OpportunityTTL:    2 * time.Second,
		Blacklist:         map[string]bool{"0xbad": true},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testCandidate() *domain.CandidateSwap {
	return &domain.CandidateSwap{
		Network:      domain.NetworkEthereum,
		TxHash:       "0xvictim",
		RawTx:        []byte{0x02, 0x01},
		Router:       "0xrouter",
		Family:       domain.FamilyUniswapV2,
		TokenIn:      "0xaaa",
		TokenOut:     "0xbbb",
		AmountIn:     big.NewInt(10_000),
		MinAmountOut: big.NewInt(9_800),
		Deadline:     time.Now().Add(time.Minute),
		Accounts:     []string{"acct1", "acct2"},
		ObservedAt:   time.Now(),
	}
}

func TestEvaluateEmitsOpportunity(t *testing.T) {
	meta := &fakeMeta{
		tokens: map[string]domain.TokenInfo{
			"0xaaa": goodToken("0xaaa"),
			"0xbbb": goodToken("0xbbb"),
		},
		pairPool: testPool(1_000_000, 1_000_000, 30),
	}
	ev := testEvaluator(meta)

	var handled *domain.SandwichOpportunity
	ev.OnOpportunity(func(opp *domain.SandwichOpportunity) { handled = opp })

	opp, err := ev.Evaluate(context.Background(), testCandidate())
	require.NoError(t, err)
	require.NotNil(t, opp)
	require.Same(t, opp, handled)

	require.NotEmpty(t, opp.ID)
	require.Equal(t, domain.NetworkEthereum, opp.Network)
	require.Equal(t, "0xvictim", opp.VictimTxHash)
	require.Equal(t, "0xpool", opp.PoolAddress)
	require.Equal(t, uint32(30), opp.PoolFeeBps)
	require.Equal(t, int64(3_000), opp.FrontRunAmountIn.Int64())
	require.Equal(t, int64(2_982), opp.FrontRunExpectedOut.Int64())
	require.Equal(t, int64(41), opp.EstimatedProfit.Int64())
	require.InDelta(t, 41.0/3000*100, opp.Profitability, 0.01)
	require.Equal(t, []string{"acct1", "acct2"}, opp.VictimAccounts)
	require.True(t, opp.ExpiresAt.After(opp.DetectedAt))
	require.Greater(t, opp.Confidence, 0.0)
	require.Greater(t, opp.MEVScore, 0.0)
}

func TestEvaluateRejectsPassedDeadline(t *testing.T) {
	ev := testEvaluator(&fakeMeta{})
	cand := testCandidate()
	cand.Deadline = time.Now().Add(-time.Second)

	_, err := ev.Evaluate(context.Background(), cand)
	require.ErrorIs(t, err, ErrDeadlinePassed)
}

func TestEvaluateRejectsBlacklisted(t *testing.T) {
	meta := &fakeMeta{tokens: map[string]domain.TokenInfo{
		"0xaaa": goodToken("0xBAD"),
		"0xbbb": goodToken("0xbbb"),
	}}
	ev := testEvaluator(meta)

	_, err := ev.Evaluate(context.Background(), testCandidate())
	require.ErrorIs(t, err, ErrBlacklisted)
}

func TestEvaluateRejectsHoneypot(t *testing.T) {
	out := goodToken("0xbbb")
	out.Honeypot = true
	meta := &fakeMeta{tokens: map[string]domain.TokenInfo{
		"0xaaa": goodToken("0xaaa"),
		"0xbbb": out,
	}}
	ev := testEvaluator(meta)

	_, err := ev.Evaluate(context.Background(), testCandidate())
	require.ErrorIs(t, err, ErrHoneypot)
}

func TestEvaluateRejectsLowQuality(t *testing.T) {
	out := domain.TokenInfo{Address: "0xbbb", BuyTaxBps: 900, SellTaxBps: 900}
	meta := &fakeMeta{tokens: map[string]domain.TokenInfo{
		"0xaaa": goodToken("0xaaa"),
		"0xbbb": out,
	}}
	ev := testEvaluator(meta)

	_, err := ev.Evaluate(context.Background(), testCandidate())
	require.ErrorIs(t, err, ErrLowQuality)
}

func TestEvaluateRejectsLowLiquidity(t *testing.T) {
	meta := &fakeMeta{
		tokens: map[string]domain.TokenInfo{
			"0xaaa": goodToken("0xaaa"),
			"0xbbb": goodToken("0xbbb"),
		},
		pairPool: testPool(1_000_000, 1_000_000, 30),
	}
	ev := testEvaluator(meta)
	ev.cfg.MinLiquidity = big.NewInt(2_000_000)

	_, err := ev.Evaluate(context.Background(), testCandidate())
	require.ErrorIs(t, err, ErrLowLiquidity)
}

func TestEvaluateRejectsUnprofitable(t *testing.T) {
	meta := &fakeMeta{
		tokens: map[string]domain.TokenInfo{
			"0xaaa": goodToken("0xaaa"),
			"0xbbb": goodToken("0xbbb"),
		},
		pairPool: testPool(1_000_000, 1_000_000, 30),
	}
	ev := testEvaluator(meta)
	ev.cfg.MinProfit = big.NewInt(1_000_000)

	_, err := ev.Evaluate(context.Background(), testCandidate())
	require.ErrorIs(t, err, ErrUnprofitable)
}

func TestEvaluateRejectsGuardViolation(t *testing.T) {
	meta := &fakeMeta{
		tokens: map[string]domain.TokenInfo{
			"0xaaa": goodToken("0xaaa"),
			"0xbbb": goodToken("0xbbb"),
		},
		pairPool: testPool(100_000, 100_000, 30),
	}
	ev := testEvaluator(meta)
	cand := testCandidate()
	cand.MinAmountOut = big.NewInt(9_050)

	_, err := ev.Evaluate(context.Background(), cand)
	require.ErrorIs(t, err, ErrGuardViolated)
}

func TestEvaluateMissingMetadata(t *testing.T) {
	ev := testEvaluator(&fakeMeta{})

	_, err := ev.Evaluate(context.Background(), testCandidate())
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestResimulateInvalidatesAndRefetches(t *testing.T) {
	meta := &fakeMeta{
		tokens: map[string]domain.TokenInfo{
			"0xaaa": goodToken("0xaaa"),
			"0xbbb": goodToken("0xbbb"),
		},
		pools: map[string]domain.PoolInfo{
			"0xpool": testPool(1_000_000, 1_000_000, 30),
		},
	}
	ev := testEvaluator(meta)

	opp := &domain.SandwichOpportunity{
		Network:          domain.NetworkEthereum,
		PoolAddress:      "0xpool",
		TokenIn:          "0xaaa",
		VictimAmountIn:   big.NewInt(10_000),
		VictimMinOut:     big.NewInt(9_800),
		FrontRunAmountIn: big.NewInt(3_000),
	}

	res, err := ev.Resimulate(context.Background(), opp, nil)
	require.NoError(t, err)
	require.Equal(t, int64(41), res.NetProfit.Int64())
	require.Equal(t, []string{"0xpool"}, meta.invalidated)

	// Pool drained since detection: re-simulation rejects with the guard error.
	meta.pools["0xpool"] = testPool(100_000, 100_000, 30)
	opp.VictimMinOut = big.NewInt(9_050)
	_, err = ev.Resimulate(context.Background(), opp, nil)
	require.ErrorIs(t, err, ErrGuardViolated)
}

func TestFrontRunSize(t *testing.T) {
	require.Equal(t, int64(3_000), frontRunSize(big.NewInt(10_000), 0.3).Int64())
	require.Equal(t, int64(2_500), frontRunSize(big.NewInt(10_000), 0.25).Int64())
	require.Equal(t, int64(0), frontRunSize(big.NewInt(1), 0.3).Int64())
}
