package domain

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTokenQualityScore(t *testing.T) {
	full := TokenInfo{Verified: true, LiquidityUSD: 100_000}
	require.Equal(t, 100.0, full.QualityScore(50_000))

	taxed := TokenInfo{Verified: true, BuyTaxBps: 500, SellTaxBps: 500, LiquidityUSD: 100_000}
	require.Equal(t, 70.0, taxed.QualityScore(50_000))

	thin := TokenInfo{Verified: true, LiquidityUSD: 25_000}
	require.Equal(t, 40.0+30.0+15.0, thin.QualityScore(50_000))

	require.Zero(t, TokenInfo{BuyTaxBps: 2_000}.QualityScore(50_000))
}

func TestPoolReservesFor(t *testing.T) {
	p := PoolInfo{
		Token0:   "0xaaa",
		Token1:   "0xbbb",
		Reserve0: big.NewInt(10),
		Reserve1: big.NewInt(20),
	}

	rin, rout, ok := p.ReservesFor("0xaaa")
	require.True(t, ok)
	require.Equal(t, int64(10), rin.Int64())
	require.Equal(t, int64(20), rout.Int64())

	rin, rout, ok = p.ReservesFor("0xbbb")
	require.True(t, ok)
	require.Equal(t, int64(20), rin.Int64())
	require.Equal(t, int64(10), rout.Int64())

	_, _, ok = p.ReservesFor("0xccc")
	require.False(t, ok)
}

func TestPoolReservesForHexCaseInsensitive(t *testing.T) {
	// Decoders emit checksummed hex while indexers often store lowercase; the
	// orientation lookup must match across casings.
	p := PoolInfo{
		Token0:   "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2",
		Token1:   "0x6B175474E89094C44Da98b954EedeAC495271d0F",
		Reserve0: big.NewInt(10),
		Reserve1: big.NewInt(20),
	}

	rin, rout, ok := p.ReservesFor("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	require.True(t, ok)
	require.Equal(t, int64(10), rin.Int64())
	require.Equal(t, int64(20), rout.Int64())

	rin, rout, ok = p.ReservesFor("0x6b175474e89094c44da98b954eedeac495271d0f")
	require.True(t, ok)
	require.Equal(t, int64(20), rin.Int64())
	require.Equal(t, int64(10), rout.Int64())
}

func TestPoolReservesForBase58CaseSensitive(t *testing.T) {
	// Base58 addresses that differ only in case are distinct accounts.
	p := PoolInfo{
		Token0:   "So11111111111111111111111111111111111111112",
		Token1:   "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		Reserve0: big.NewInt(10),
		Reserve1: big.NewInt(20),
	}

	_, _, ok := p.ReservesFor("so11111111111111111111111111111111111111112")
	require.False(t, ok)

	rin, _, ok := p.ReservesFor("So11111111111111111111111111111111111111112")
	require.True(t, ok)
	require.Equal(t, int64(10), rin.Int64())
}

func TestCandidateExpired(t *testing.T) {
	now := time.Now()
	c := &CandidateSwap{Deadline: now.Add(-time.Second)}
	require.True(t, c.Expired(now))
	c.Deadline = now.Add(time.Second)
	require.False(t, c.Expired(now))
	c.Deadline = time.Time{}
	require.False(t, c.Expired(now))
}

func TestExecutionResultSnapshotIsolation(t *testing.T) {
	done := time.Now()
	res := &ExecutionResult{
		ID:              "exec-1",
		State:           ExecStateSucceeded,
		SimulatedProfit: big.NewInt(41),
		RealizedProfit:  big.NewInt(39),
		CompletedAt:     &done,
	}

	snap := res.Snapshot()
	snap.SimulatedProfit.SetInt64(0)
	snap.RealizedProfit.SetInt64(0)
	*snap.CompletedAt = time.Time{}

	require.Equal(t, int64(41), res.SimulatedProfit.Int64())
	require.Equal(t, int64(39), res.RealizedProfit.Int64())
	require.Equal(t, done, *res.CompletedAt)
}

func TestStateTerminality(t *testing.T) {
	for _, s := range []ExecutionState{
		ExecStateSucceeded, ExecStateRejected, ExecStateFailed,
		ExecStateTimedOut, ExecStateCancelled,
	} {
		require.True(t, s.Terminal(), string(s))
	}
	for _, s := range []ExecutionState{
		ExecStateCreated, ExecStateValidating, ExecStateSimulating,
		ExecStateSubmitting, ExecStateMonitoring,
	} {
		require.False(t, s.Terminal(), string(s))
	}

	require.True(t, BundleStatusIncluded.Terminal())
	require.True(t, BundleStatusFailed.Terminal())
	require.False(t, BundleStatusPending.Terminal())
	require.False(t, BundleStatusBuilt.Terminal())
}
