package domain

import (
	"math/big"
	"strings"
	"time"
)

// TokenInfo is an immutable snapshot of a token's attributes as known to the
// metadata cache. Amounts are kept in the token's native unit; UnitPriceUSD is
// the display price of one whole token.
type TokenInfo struct {
	Network      Network
	Address      string
	Symbol       string
	Decimals     uint8
	UnitPriceUSD float64
	LiquidityUSD float64
	Volume24hUSD float64
	Verified     bool
	Honeypot     bool
	BuyTaxBps    int
	SellTaxBps   int
	FetchedAt    time.Time
}

// QualityScore is a 0-100 composite of verification status, combined transfer
// tax, and liquidity depth. It is used by the evaluator's rejection ladder.
func (t TokenInfo) QualityScore(liquidityFloorUSD float64) float64 {
	score := 0.0
	if t.Verified {
		score += 40
	}
	// Combined tax: 0 bps scores the full 30, 1000+ bps scores 0.
	tax := float64(t.BuyTaxBps + t.SellTaxBps)
	if tax < 1000 {
		score += 30 * (1 - tax/1000)
	}
	if liquidityFloorUSD > 0 && t.LiquidityUSD >= liquidityFloorUSD {
		score += 30
	} else if liquidityFloorUSD > 0 && t.LiquidityUSD > 0 {
		score += 30 * (t.LiquidityUSD / liquidityFloorUSD)
	}
	if score > 100 {
		score = 100
	}
	return score
}

// PoolInfo is an immutable snapshot of a constant-product pool's state.
// Reserve0 corresponds to Token0 and Reserve1 to Token1.
type PoolInfo struct {
	Network   Network
	Address   string
	Token0    string
	Token1    string
	Reserve0  *big.Int
	Reserve1  *big.Int
	FeeBps    uint32
	Family    RouterFamily
	FetchedAt time.Time
}

// ReservesFor orients the pool's reserves for a swap from tokenIn, returning
// (reserveIn, reserveOut, ok). ok is false when tokenIn is not in the pool.
func (p PoolInfo) ReservesFor(tokenIn string) (*big.Int, *big.Int, bool) {
	switch {
	case sameAddress(tokenIn, p.Token0):
		return p.Reserve0, p.Reserve1, true
	case sameAddress(tokenIn, p.Token1):
		return p.Reserve1, p.Reserve0, true
	default:
		return nil, nil, false
	}
}

// sameAddress compares two token addresses. Hex addresses carry no canonical
// casing across sources (the decoder emits EIP-55 checksums, indexers often
// lowercase), so 0x-prefixed values compare case-insensitively. Base58 is
// case-sensitive and must match exactly.
func sameAddress(a, b string) bool {
	if a == b {
		return true
	}
	if strings.HasPrefix(a, "0x") && strings.HasPrefix(b, "0x") {
		return strings.EqualFold(a, b)
	}
	return false
}
