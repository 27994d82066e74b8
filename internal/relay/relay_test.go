package relay

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/mevduct/sandwichd/internal/decoder"
	"github.com/mevduct/sandwichd/internal/domain"
)

func TestComputeBid(t *testing.T) {
	// 20% reserve keeps 800 of 1000.
	bid := computeBid(big.NewInt(1000), 0.2, nil)
	require.Equal(t, int64(800), bid.Int64())

	// The cap wins when lower.
	bid = computeBid(big.NewInt(1000), 0.2, big.NewInt(500))
	require.Equal(t, int64(500), bid.Int64())

	// A cap above the computed bid changes nothing.
	bid = computeBid(big.NewInt(1000), 0.2, big.NewInt(10_000))
	require.Equal(t, int64(800), bid.Int64())

	require.Zero(t, computeBid(nil, 0.2, nil).Sign())
	require.Zero(t, computeBid(big.NewInt(-5), 0.2, nil).Sign())
	require.Zero(t, computeBid(big.NewInt(1000), 1.0, nil).Sign())
}

func TestBidBasis(t *testing.T) {
	opp := &domain.SandwichOpportunity{
		EstimatedProfit:       big.NewInt(41),
		EstimatedProfitNative: big.NewInt(9_900),
	}
	require.Equal(t, int64(9_900), bidBasis(opp).Int64())

	// Zero native estimate falls back to the input-asset figure.
	opp.EstimatedProfitNative = new(big.Int)
	require.Equal(t, int64(41), bidBasis(opp).Int64())

	opp.EstimatedProfitNative = nil
	require.Equal(t, int64(41), bidBasis(opp).Int64())
}

func TestMinOutFor(t *testing.T) {
	require.Equal(t, int64(9_800), minOutFor(big.NewInt(10_000), 200).Int64())
	// Unset slippage defaults to 100 bps.
	require.Equal(t, int64(9_900), minOutFor(big.NewInt(10_000), 0).Int64())
	require.Equal(t, int64(9_900), minOutFor(big.NewInt(10_000), bpsDenom+1).Int64())
	require.Zero(t, minOutFor(nil, 200).Sign())
	require.Zero(t, minOutFor(new(big.Int), 200).Sign())
}

// The decoder consumes the exact layout the relay emits, so a round-trip
// through it pins the V2 encoding.
func TestV2SwapCalldataRoundTrip(t *testing.T) {
	to := common.HexToAddress("0x00000000000000000000000000000000000000ee")
	tokenIn := "0x00000000000000000000000000000000000000a1"
	tokenOut := "0x00000000000000000000000000000000000000b2"
	deadline := time.Now().Add(time.Minute).Unix()

	data := v2SwapCalldata(big.NewInt(3_000), big.NewInt(2_900), tokenIn, tokenOut, to, deadline)

	d := decoder.New(decoder.DefaultRegistry())
	cand, ok := d.DecodeEVM(domain.NetworkEthereum, decoder.PendingTx{
		Hash:  "0xleg",
		To:    decoder.UniswapV2Router,
		Input: data,
	})
	require.True(t, ok)
	require.Equal(t, int64(3_000), cand.AmountIn.Int64())
	require.Equal(t, int64(2_900), cand.MinAmountOut.Int64())
	require.Equal(t, common.HexToAddress(tokenIn).Hex(), cand.TokenIn)
	require.Equal(t, common.HexToAddress(tokenOut).Hex(), cand.TokenOut)
	require.Equal(t, deadline, cand.Deadline.Unix())
}

func TestV3SwapCalldataLayout(t *testing.T) {
	recipient := common.HexToAddress("0x00000000000000000000000000000000000000ee")
	data := v3SwapCalldata(big.NewInt(3_000), big.NewInt(2_900),
		"0x00000000000000000000000000000000000000a1",
		"0x00000000000000000000000000000000000000b2",
		30, recipient, 1_700_000_000)

	require.Len(t, data, 4+8*32)
	require.Equal(t, []byte{0x41, 0x4b, 0xf3, 0x89}, data[:4])

	wordAt := func(i int) *big.Int {
		return new(big.Int).SetBytes(data[4+i*32 : 4+(i+1)*32])
	}
	// fee is encoded in the pool's 1e-6 scale: 30 bps -> 3000.
	require.Equal(t, int64(3_000), wordAt(2).Int64())
	require.Equal(t, int64(1_700_000_000), wordAt(4).Int64())
	require.Equal(t, int64(3_000), wordAt(5).Int64())
	require.Equal(t, int64(2_900), wordAt(6).Int64())
	require.Zero(t, wordAt(7).Sign()) // sqrtPriceLimitX96
	require.Equal(t, recipient, common.BytesToAddress(data[4+3*32+12:4+4*32]))
}

func TestFrontAndBackCalldataDirections(t *testing.T) {
	opp := &domain.SandwichOpportunity{
		Family:              domain.FamilyUniswapV2,
		TokenIn:             "0x00000000000000000000000000000000000000a1",
		TokenOut:            "0x00000000000000000000000000000000000000b2",
		FrontRunExpectedOut: big.NewInt(2_982),
	}
	recipient := common.HexToAddress("0x00000000000000000000000000000000000000ee")
	deadline := time.Now().Add(time.Minute).Unix()

	front, err := frontCalldata(opp, big.NewInt(3_000), 200, recipient, deadline)
	require.NoError(t, err)
	back, err := backCalldata(opp, big.NewInt(2_982), recipient, deadline)
	require.NoError(t, err)

	d := decoder.New(decoder.DefaultRegistry())
	fc, ok := d.DecodeEVM(domain.NetworkEthereum, decoder.PendingTx{To: decoder.UniswapV2Router, Input: front})
	require.True(t, ok)
	bc, ok := d.DecodeEVM(domain.NetworkEthereum, decoder.PendingTx{To: decoder.UniswapV2Router, Input: back})
	require.True(t, ok)

	// Front buys the victim's output asset with a slippage-bounded floor; the
	// back leg reverses the pair and accepts anything.
	require.Equal(t, common.HexToAddress(opp.TokenIn).Hex(), fc.TokenIn)
	require.Equal(t, common.HexToAddress(opp.TokenOut).Hex(), fc.TokenOut)
	require.Equal(t, int64(2_982*(bpsDenom-200)/bpsDenom), fc.MinAmountOut.Int64())
	require.Equal(t, common.HexToAddress(opp.TokenOut).Hex(), bc.TokenIn)
	require.Equal(t, common.HexToAddress(opp.TokenIn).Hex(), bc.TokenOut)
	require.Zero(t, bc.MinAmountOut.Sign())
}

func TestFrontCalldataRejectsUnsupportedFamily(t *testing.T) {
	opp := &domain.SandwichOpportunity{Family: domain.FamilyRaydiumAMM}
	_, err := frontCalldata(opp, big.NewInt(1), 0, common.Address{}, 0)
	require.Error(t, err)
}

func TestBundleTableSnapshotIsolation(t *testing.T) {
	table := newBundleTable()
	opp := &domain.SandwichOpportunity{ID: "opp-1", VictimTxHash: "0xvictim"}
	b := newBundle(domain.NetworkEthereum, opp, big.NewInt(10), 100)
	b.Transactions = [][]byte{{0x01}, {0x02}, {0x03}}
	table.add(b)

	snap, ok := table.get(b.ID)
	require.True(t, ok)
	require.Equal(t, domain.BundleStatusBuilt, snap.Status)
	require.Equal(t, "0xvictim", snap.VictimHash)

	// Mutating the snapshot never reaches the table's record.
	snap.Status = domain.BundleStatusFailed
	snap.Transactions[0] = []byte{0xff}
	again, _ := table.get(b.ID)
	require.Equal(t, domain.BundleStatusBuilt, again.Status)

	before := again.UpdatedAt
	require.True(t, table.update(b.ID, func(b *domain.Bundle) {
		b.Status = domain.BundleStatusPending
	}))
	after, _ := table.get(b.ID)
	require.Equal(t, domain.BundleStatusPending, after.Status)
	require.False(t, after.UpdatedAt.Before(before))

	_, ok = table.get("missing")
	require.False(t, ok)
	require.False(t, table.update("missing", func(*domain.Bundle) {}))
}

func TestLegDeadline(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	require.Equal(t, int64(1_700_000_120), legDeadline(now))
}
