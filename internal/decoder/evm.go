package decoder

import (
	"encoding/hex"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mevduct/sandwichd/internal/domain"
)

// Uniswap-V2-family selectors (first four calldata bytes).
const (
	selSwapExactTokensForTokens    = "38ed1739"
	selSwapExactETHForTokens       = "7ff36ab5"
	selSwapExactTokensForETH       = "18cbafe5"
	selSwapExactTokensForTokensFee = "791ac947"
	selSwapExactETHForTokensFee    = "b6f9de95"
	selSwapExactTokensForETHFee    = "5c11d795"

	// Uniswap-V3-family selectors.
	selExactInputSingle = "414bf389"
	selExactInput       = "c04b8d59"
)

const wordSize = 32

// PendingTx is one raw pending transaction as observed by an EVM mempool
// feed. Raw carries the signed RLP payload needed to replay the victim inside
// a bundle.
type PendingTx struct {
	Hash     string
	To       string
	Input    []byte
	Value    *big.Int
	GasPrice *big.Int
	Raw      []byte
}

// decodeEVM dispatches on the calldata selector for the matched family.
// Anything malformed yields (nil, false) rather than a partial record.
func (d *Decoder) decodeEVM(network domain.Network, family domain.RouterFamily, tx PendingTx) (*domain.CandidateSwap, bool) {
	if len(tx.Input) < 4 {
		return nil, false
	}
	sel := hex.EncodeToString(tx.Input[:4])
	args := tx.Input[4:]

	var (
		amountIn, minOut *big.Int
		path             []domain.PathHop
		deadline         time.Time
		ok               bool
	)

	switch family {
	case domain.FamilyUniswapV2, domain.FamilyPancakeV2:
		switch sel {
		case selSwapExactTokensForTokens, selSwapExactTokensForETH,
			selSwapExactTokensForTokensFee, selSwapExactTokensForETHFee:
			amountIn, minOut, path, deadline, ok = decodeV2ExactIn(args)
		case selSwapExactETHForTokens, selSwapExactETHForTokensFee:
			// amountIn is the transaction value; calldata starts at minOut. The
			// router requires the path to start at the wrapped native asset, so
			// anything else would revert and is not a candidate.
			minOut, path, deadline, ok = decodeV2ExactInETH(args)
			amountIn = tx.Value
			if ok && !strings.EqualFold(path[0].Token, wrappedNative(network)) {
				return nil, false
			}
		default:
			return nil, false
		}
	case domain.FamilyUniswapV3:
		switch sel {
		case selExactInputSingle:
			amountIn, minOut, path, deadline, ok = decodeV3ExactInputSingle(args)
		case selExactInput:
			amountIn, minOut, path, deadline, ok = decodeV3ExactInput(args)
		default:
			return nil, false
		}
	default:
		return nil, false
	}

	if !ok || amountIn == nil || amountIn.Sign() <= 0 || len(path) < 2 {
		return nil, false
	}

	return &domain.CandidateSwap{
		Network:      network,
		TxHash:       tx.Hash,
		RawTx:        tx.Raw,
		Router:       normalize(network, tx.To),
		Family:       family,
		TokenIn:      path[0].Token,
		TokenOut:     path[len(path)-1].Token,
		AmountIn:     amountIn,
		MinAmountOut: minOut,
		Deadline:     deadline,
		Path:         path,
		GasPrice:     tx.GasPrice,
		ObservedAt:   d.now(),
	}, true
}

// decodeV2ExactIn handles the (amountIn, amountOutMin, path, to, deadline)
// layout shared by the token-input V2 variants.
func decodeV2ExactIn(args []byte) (*big.Int, *big.Int, []domain.PathHop, time.Time, bool) {
	amountIn, ok := word(args, 0)
	if !ok {
		return nil, nil, nil, time.Time{}, false
	}
	minOut, ok := word(args, 1)
	if !ok {
		return nil, nil, nil, time.Time{}, false
	}
	path, ok := addressArray(args, 2)
	if !ok {
		return nil, nil, nil, time.Time{}, false
	}
	deadline, ok := word(args, 4)
	if !ok {
		return nil, nil, nil, time.Time{}, false
	}
	return amountIn, minOut, path, unixDeadline(deadline), true
}

// decodeV2ExactInETH handles the (amountOutMin, path, to, deadline) layout of
// the native-coin-input variants.
func decodeV2ExactInETH(args []byte) (*big.Int, []domain.PathHop, time.Time, bool) {
	minOut, ok := word(args, 0)
	if !ok {
		return nil, nil, time.Time{}, false
	}
	path, ok := addressArray(args, 1)
	if !ok {
		return nil, nil, time.Time{}, false
	}
	deadline, ok := word(args, 3)
	if !ok {
		return nil, nil, time.Time{}, false
	}
	return minOut, path, unixDeadline(deadline), true
}

// decodeV3ExactInputSingle handles the static ExactInputSingleParams struct:
// (tokenIn, tokenOut, fee, recipient, deadline, amountIn, amountOutMinimum,
// sqrtPriceLimitX96).
func decodeV3ExactInputSingle(args []byte) (*big.Int, *big.Int, []domain.PathHop, time.Time, bool) {
	if len(args) < 8*wordSize {
		return nil, nil, nil, time.Time{}, false
	}
	tokenIn, ok := addressWord(args, 0)
	if !ok {
		return nil, nil, nil, time.Time{}, false
	}
	tokenOut, ok := addressWord(args, 1)
	if !ok {
		return nil, nil, nil, time.Time{}, false
	}
	fee, _ := word(args, 2)
	deadline, _ := word(args, 4)
	amountIn, _ := word(args, 5)
	minOut, _ := word(args, 6)
	if fee == nil || deadline == nil || amountIn == nil || minOut == nil {
		return nil, nil, nil, time.Time{}, false
	}
	path := []domain.PathHop{
		{Token: tokenIn, FeeBps: v3FeeToBps(fee.Uint64())},
		{Token: tokenOut},
	}
	return amountIn, minOut, path, unixDeadline(deadline), true
}

// decodeV3ExactInput handles the dynamic ExactInputParams struct whose path
// is packed (address, uint24 fee) segments: 20 bytes token, 3 bytes fee,
// repeating, terminated by a final 20-byte token.
func decodeV3ExactInput(args []byte) (*big.Int, *big.Int, []domain.PathHop, time.Time, bool) {
	structOff, ok := word(args, 0)
	if !ok || !structOff.IsUint64() {
		return nil, nil, nil, time.Time{}, false
	}
	base := int(structOff.Uint64())
	if base < 0 || base+5*wordSize > len(args) {
		return nil, nil, nil, time.Time{}, false
	}
	s := args[base:]

	pathOff, ok := word(s, 0)
	if !ok || !pathOff.IsUint64() {
		return nil, nil, nil, time.Time{}, false
	}
	deadline, _ := word(s, 2)
	amountIn, _ := word(s, 3)
	minOut, _ := word(s, 4)
	if deadline == nil || amountIn == nil || minOut == nil {
		return nil, nil, nil, time.Time{}, false
	}

	po := int(pathOff.Uint64())
	if po < 0 || po+wordSize > len(s) {
		return nil, nil, nil, time.Time{}, false
	}
	pathLen, ok := word(s[po:], 0)
	if !ok || !pathLen.IsUint64() {
		return nil, nil, nil, time.Time{}, false
	}
	n := int(pathLen.Uint64())
	if po+wordSize+n > len(s) {
		return nil, nil, nil, time.Time{}, false
	}
	path, ok := walkPackedPath(s[po+wordSize : po+wordSize+n])
	if !ok {
		return nil, nil, nil, time.Time{}, false
	}
	return amountIn, minOut, path, unixDeadline(deadline), true
}

// walkPackedPath decodes [token(20) fee(3)]* token(20). A truncated encoding
// yields (nil, false), never a partial list.
func walkPackedPath(b []byte) ([]domain.PathHop, bool) {
	const tokenLen, segLen = 20, 23
	if len(b) < tokenLen || (len(b)-tokenLen)%segLen != 0 {
		return nil, false
	}
	hops := make([]domain.PathHop, 0, (len(b)-tokenLen)/segLen+1)
	i := 0
	for ; i+segLen <= len(b); i += segLen {
		fee := uint32(b[i+20])<<16 | uint32(b[i+21])<<8 | uint32(b[i+22])
		hops = append(hops, domain.PathHop{
			Token:  common.BytesToAddress(b[i : i+tokenLen]).Hex(),
			FeeBps: v3FeeToBps(uint64(fee)),
		})
	}
	hops = append(hops, domain.PathHop{Token: common.BytesToAddress(b[i : i+tokenLen]).Hex()})
	if len(hops) < 2 {
		return nil, false
	}
	return hops, true
}

// v3FeeToBps converts a V3 fee in hundredths of a bip (e.g. 3000 = 0.30%) to
// basis points.
func v3FeeToBps(fee uint64) uint32 {
	return uint32(fee / 100)
}

// word returns the idx-th 32-byte word of args as a big.Int.
func word(args []byte, idx int) (*big.Int, bool) {
	off := idx * wordSize
	if off < 0 || off+wordSize > len(args) {
		return nil, false
	}
	return new(big.Int).SetBytes(args[off : off+wordSize]), true
}

// addressWord reads the idx-th word as a right-aligned 20-byte address.
func addressWord(args []byte, idx int) (string, bool) {
	off := idx * wordSize
	if off+wordSize > len(args) {
		return "", false
	}
	return common.BytesToAddress(args[off+12 : off+wordSize]).Hex(), true
}

// addressArray decodes a dynamic address[] whose offset lives in word idx.
func addressArray(args []byte, idx int) ([]domain.PathHop, bool) {
	off, ok := word(args, idx)
	if !ok || !off.IsUint64() {
		return nil, false
	}
	base := int(off.Uint64())
	if base < 0 || base+wordSize > len(args) {
		return nil, false
	}
	length, ok := word(args[base:], 0)
	if !ok || !length.IsUint64() {
		return nil, false
	}
	n := int(length.Uint64())
	if n < 2 || n > 8 || base+wordSize+n*wordSize > len(args) {
		return nil, false
	}
	hops := make([]domain.PathHop, 0, n)
	for i := 0; i < n; i++ {
		addr, ok := addressWord(args[base+wordSize:], i)
		if !ok {
			return nil, false
		}
		hops = append(hops, domain.PathHop{Token: addr})
	}
	return hops, true
}

func unixDeadline(v *big.Int) time.Time {
	if v == nil || !v.IsInt64() || v.Int64() <= 0 {
		return time.Time{}
	}
	return time.Unix(v.Int64(), 0).UTC()
}
