package decoder

import (
	"bytes"
	"encoding/binary"
	"math/big"

	"github.com/mr-tron/base58"

	"github.com/mevduct/sandwichd/internal/domain"
)

// Raydium V4 single-byte instruction discriminators.
const raydiumSwapBaseIn = 9

// Anchor 8-byte discriminator of the whirlpool swap instruction
// (sha256("global:swap")[:8]).
var whirlpoolSwapDiscriminator = []byte{0xf8, 0xc6, 0x9e, 0x91, 0xe1, 0x75, 0x87, 0xc8}

// Raydium V4 swap account layout positions.
const (
	raydiumAccountAmmID      = 1
	raydiumAccountUserSource = 15
	raydiumAccountUserDest   = 16
	raydiumMinAccounts       = 17
)

// Whirlpool swap account layout positions.
const (
	whirlpoolAccountPool   = 2
	whirlpoolAccountOwnerA = 3
	whirlpoolAccountOwnerB = 5
	whirlpoolMinAccounts   = 7
)

// PendingInstruction is one raw instruction of a pending Solana transaction
// as delivered by the mempool stream. Accounts are base58 addresses in
// instruction order; Data is the raw instruction payload.
type PendingInstruction struct {
	Signature   string
	ProgramID   string
	Accounts    []string
	Data        []byte
	Raw         []byte // full signed transaction, base64-decoded
	PriorityFee *big.Int
	// Mints maps token accounts in Accounts to their mint, resolved from the
	// stream's token-balance metadata. Missing entries fall back to the token
	// account address itself.
	Mints map[string]string
}

// mint resolves a token account to its mint when the stream provided one.
func (ix PendingInstruction) mint(account string) string {
	if m, ok := ix.Mints[account]; ok && m != "" {
		return m
	}
	return account
}

// decodeSolana dispatches on the instruction discriminator for the matched
// program family. Instructions that do not carry a swap yield (nil, false).
func (d *Decoder) decodeSolana(family domain.RouterFamily, ix PendingInstruction) (*domain.CandidateSwap, bool) {
	switch family {
	case domain.FamilyRaydiumAMM:
		return d.decodeRaydiumSwap(ix)
	case domain.FamilyOrcaWhirl:
		return d.decodeWhirlpoolSwap(ix)
	default:
		return nil, false
	}
}

// decodeRaydiumSwap parses the swapBaseIn layout: u8 discriminator,
// u64 amountIn, u64 minAmountOut, all little-endian.
func (d *Decoder) decodeRaydiumSwap(ix PendingInstruction) (*domain.CandidateSwap, bool) {
	if len(ix.Data) < 17 || ix.Data[0] != raydiumSwapBaseIn {
		return nil, false
	}
	if len(ix.Accounts) < raydiumMinAccounts {
		return nil, false
	}
	amountIn := binary.LittleEndian.Uint64(ix.Data[1:9])
	minOut := binary.LittleEndian.Uint64(ix.Data[9:17])
	if amountIn == 0 {
		return nil, false
	}

	tokenIn := ix.mint(ix.Accounts[raydiumAccountUserSource])
	tokenOut := ix.mint(ix.Accounts[raydiumAccountUserDest])
	if !validBase58(tokenIn) || !validBase58(tokenOut) {
		return nil, false
	}

	return &domain.CandidateSwap{
		Network:      domain.NetworkSolana,
		TxHash:       ix.Signature,
		RawTx:        ix.Raw,
		Router:       ix.ProgramID,
		Family:       domain.FamilyRaydiumAMM,
		TokenIn:      tokenIn,
		TokenOut:     tokenOut,
		AmountIn:     new(big.Int).SetUint64(amountIn),
		MinAmountOut: new(big.Int).SetUint64(minOut),
		Path: []domain.PathHop{
			{Token: tokenIn},
			{Token: tokenOut},
		},
		GasPrice:   ix.PriorityFee,
		Accounts:   ix.Accounts,
		ObservedAt: d.now(),
	}, true
}

// decodeWhirlpoolSwap parses the anchor swap layout: 8-byte discriminator,
// u64 amount, u64 otherAmountThreshold, u128 sqrtPriceLimit,
// bool amountSpecifiedIsInput, bool aToB.
func (d *Decoder) decodeWhirlpoolSwap(ix PendingInstruction) (*domain.CandidateSwap, bool) {
	if len(ix.Data) < 42 || !bytes.Equal(ix.Data[:8], whirlpoolSwapDiscriminator) {
		return nil, false
	}
	if len(ix.Accounts) < whirlpoolMinAccounts {
		return nil, false
	}
	amount := binary.LittleEndian.Uint64(ix.Data[8:16])
	threshold := binary.LittleEndian.Uint64(ix.Data[16:24])
	exactIn := ix.Data[40] != 0
	aToB := ix.Data[41] != 0
	if !exactIn || amount == 0 {
		// Exact-output swaps cannot be sized against a minimum-output guard.
		return nil, false
	}

	tokenIn := ix.mint(ix.Accounts[whirlpoolAccountOwnerA])
	tokenOut := ix.mint(ix.Accounts[whirlpoolAccountOwnerB])
	if !aToB {
		tokenIn, tokenOut = tokenOut, tokenIn
	}
	if !validBase58(tokenIn) || !validBase58(tokenOut) {
		return nil, false
	}

	return &domain.CandidateSwap{
		Network:      domain.NetworkSolana,
		TxHash:       ix.Signature,
		RawTx:        ix.Raw,
		Router:       ix.ProgramID,
		Family:       domain.FamilyOrcaWhirl,
		TokenIn:      tokenIn,
		TokenOut:     tokenOut,
		AmountIn:     new(big.Int).SetUint64(amount),
		MinAmountOut: new(big.Int).SetUint64(threshold),
		Path: []domain.PathHop{
			{Token: tokenIn},
			{Token: tokenOut},
		},
		GasPrice:   ix.PriorityFee,
		Accounts:   ix.Accounts,
		ObservedAt: d.now(),
	}, true
}

func validBase58(s string) bool {
	if s == "" {
		return false
	}
	b, err := base58.Decode(s)
	return err == nil && len(b) == 32
}
