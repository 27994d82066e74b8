package relay

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/mevduct/sandwichd/internal/domain"
)

// Gas limit per bracketing leg. Router swaps stay well under this; unused gas
// is refunded so only the limit's effect on bidding matters.
const evmLegGas = 300_000

// evmNode wraps the node JSON-RPC calls shared by the account-based relays.
type evmNode struct {
	rpc *rpcClient
}

func (n *evmNode) pendingNonce(ctx context.Context, addr common.Address) (uint64, error) {
	var out hexutil.Uint64
	if err := n.rpc.call(ctx, "eth_getTransactionCount", []any{addr.Hex(), "pending"}, &out); err != nil {
		return 0, err
	}
	return uint64(out), nil
}

func (n *evmNode) blockNumber(ctx context.Context) (uint64, error) {
	var out hexutil.Uint64
	if err := n.rpc.call(ctx, "eth_blockNumber", []any{}, &out); err != nil {
		return 0, err
	}
	return uint64(out), nil
}

func (n *evmNode) chainID(ctx context.Context) (*big.Int, error) {
	var out hexutil.Big
	if err := n.rpc.call(ctx, "eth_chainId", []any{}, &out); err != nil {
		return nil, err
	}
	return out.ToInt(), nil
}

func (n *evmNode) gasPrice(ctx context.Context) (*big.Int, error) {
	var out hexutil.Big
	if err := n.rpc.call(ctx, "eth_gasPrice", []any{}, &out); err != nil {
		return nil, err
	}
	return out.ToInt(), nil
}

type txReceipt struct {
	Status      hexutil.Uint64 `json:"status"`
	BlockNumber hexutil.Uint64 `json:"blockNumber"`
	GasUsed     hexutil.Uint64 `json:"gasUsed"`
}

// receipt returns nil without error when the transaction is not yet mined.
func (n *evmNode) receipt(ctx context.Context, txHash string) (*txReceipt, error) {
	var out *txReceipt
	if err := n.rpc.call(ctx, "eth_getTransactionReceipt", []any{txHash}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ── calldata encoding ──

var (
	selV2SwapExactTokens = []byte{0x38, 0xed, 0x17, 0x39} // swapExactTokensForTokens
	selV3ExactInputSingle = []byte{0x41, 0x4b, 0xf3, 0x89} // exactInputSingle
)

func abiWord(v *big.Int) []byte {
	out := make([]byte, 32)
	if v != nil {
		v.FillBytes(out)
	}
	return out
}

func abiAddress(addr common.Address) []byte {
	out := make([]byte, 32)
	copy(out[12:], addr.Bytes())
	return out
}

// v2SwapCalldata encodes swapExactTokensForTokens(amountIn, amountOutMin,
// path, to, deadline) for a direct two-token path.
func v2SwapCalldata(amountIn, minOut *big.Int, tokenIn, tokenOut string, to common.Address, deadline int64) []byte {
	data := make([]byte, 0, 4+32*7)
	data = append(data, selV2SwapExactTokens...)
	data = append(data, abiWord(amountIn)...)
	data = append(data, abiWord(minOut)...)
	data = append(data, abiWord(big.NewInt(5*32))...) // path offset
	data = append(data, abiAddress(to)...)
	data = append(data, abiWord(big.NewInt(deadline))...)
	data = append(data, abiWord(big.NewInt(2))...) // path length
	data = append(data, abiAddress(common.HexToAddress(tokenIn))...)
	data = append(data, abiAddress(common.HexToAddress(tokenOut))...)
	return data
}

// v3SwapCalldata encodes exactInputSingle for the same pool fee tier the
// victim trades on. sqrtPriceLimitX96 is zero: the bundle's atomicity and the
// leg's minimum output are the only price protection needed.
func v3SwapCalldata(amountIn, minOut *big.Int, tokenIn, tokenOut string, feeBps uint32, recipient common.Address, deadline int64) []byte {
	fee := big.NewInt(int64(feeBps) * 100) // bps to the pool's native 1e-6 scale
	data := make([]byte, 0, 4+32*8)
	data = append(data, selV3ExactInputSingle...)
	data = append(data, abiAddress(common.HexToAddress(tokenIn))...)
	data = append(data, abiAddress(common.HexToAddress(tokenOut))...)
	data = append(data, abiWord(fee)...)
	data = append(data, abiAddress(recipient)...)
	data = append(data, abiWord(big.NewInt(deadline))...)
	data = append(data, abiWord(amountIn)...)
	data = append(data, abiWord(minOut)...)
	data = append(data, abiWord(nil)...) // sqrtPriceLimitX96
	return data
}

// frontCalldata builds the front-run leg's calldata: buy the victim's output
// asset ahead of it, bounded by the slippage-adjusted expected output.
func frontCalldata(opp *domain.SandwichOpportunity, frontIn *big.Int, slippageBps int, recipient common.Address, deadline int64) ([]byte, error) {
	minOut := minOutFor(opp.FrontRunExpectedOut, slippageBps)
	switch opp.Family {
	case domain.FamilyUniswapV2, domain.FamilyPancakeV2:
		return v2SwapCalldata(frontIn, minOut, opp.TokenIn, opp.TokenOut, recipient, deadline), nil
	case domain.FamilyUniswapV3:
		return v3SwapCalldata(frontIn, minOut, opp.TokenIn, opp.TokenOut, opp.PoolFeeBps, recipient, deadline), nil
	default:
		return nil, fmt.Errorf("relay: unsupported router family %q", opp.Family)
	}
}

// backCalldata builds the back-run leg: sell everything the front leg bought.
// The back leg carries no minimum output; the bundle is atomic and the profit
// check already happened in simulation.
func backCalldata(opp *domain.SandwichOpportunity, backIn *big.Int, recipient common.Address, deadline int64) ([]byte, error) {
	switch opp.Family {
	case domain.FamilyUniswapV2, domain.FamilyPancakeV2:
		return v2SwapCalldata(backIn, new(big.Int), opp.TokenOut, opp.TokenIn, recipient, deadline), nil
	case domain.FamilyUniswapV3:
		return v3SwapCalldata(backIn, new(big.Int), opp.TokenOut, opp.TokenIn, opp.PoolFeeBps, recipient, deadline), nil
	default:
		return nil, fmt.Errorf("relay: unsupported router family %q", opp.Family)
	}
}

// minOutFor applies a basis-point slippage allowance below the expected
// output. A nil or zero expectation yields zero (accept anything).
func minOutFor(expected *big.Int, slippageBps int) *big.Int {
	if expected == nil || expected.Sign() <= 0 {
		return new(big.Int)
	}
	if slippageBps <= 0 || slippageBps >= bpsDenom {
		slippageBps = 100
	}
	out := new(big.Int).Mul(expected, big.NewInt(int64(bpsDenom-slippageBps)))
	return out.Div(out, big.NewInt(bpsDenom))
}

const bpsDenom = 10000

// legDeadline is the on-chain deadline stamped into both legs.
func legDeadline(now time.Time) int64 {
	return now.Add(2 * time.Minute).Unix()
}
