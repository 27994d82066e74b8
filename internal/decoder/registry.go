// Package decoder turns raw pending transactions and instructions into
// normalized CandidateSwaps. Anything it does not recognize is dropped
// silently: most mempool traffic is irrelevant noise and malformed input must
// never panic.
package decoder

import (
	"strings"

	"github.com/mevduct/sandwichd/internal/domain"
)

// Registry is the static {network -> {router/program address -> family}}
// table. EVM addresses are stored lowercased; Solana program IDs are stored
// verbatim (base58 is case-sensitive).
type Registry struct {
	routers map[domain.Network]map[string]domain.RouterFamily
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{routers: make(map[domain.Network]map[string]domain.RouterFamily)}
}

// Register adds a router/program address for a network.
func (r *Registry) Register(network domain.Network, address string, family domain.RouterFamily) {
	if r.routers[network] == nil {
		r.routers[network] = make(map[string]domain.RouterFamily)
	}
	r.routers[network][normalize(network, address)] = family
}

// Lookup resolves the family of a router address on the given network. The
// lookup is scoped to the claimed network, so an address registered on one
// network never matches a transaction observed on another.
func (r *Registry) Lookup(network domain.Network, address string) (domain.RouterFamily, bool) {
	fam, ok := r.routers[network][normalize(network, address)]
	return fam, ok
}

func normalize(network domain.Network, address string) string {
	if network == domain.NetworkSolana {
		return address
	}
	return strings.ToLower(address)
}

// Well-known router and program addresses.
const (
	UniswapV2Router  = "0x7a250d5630b4cf539739df2c5dacb4c659f2488d"
	UniswapV3Router  = "0xe592427a0aece92de3edee1f18e0157c05861564"
	SushiSwapRouter  = "0xd9e1ce17f2641f24ae83637ab66a2cca9c378b9f"
	PancakeV2Router  = "0x10ed43c718714eb63d5aa57b78b54704e256024e"
	RaydiumV4Program = "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"
	WhirlpoolProgram = "whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc"

	// Wrapped native assets, used when a router method spends the chain's
	// native coin directly.
	WETHAddress = "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"
	WBNBAddress = "0xbb4cdb9cbd36b01bd1cbaebf2de08d9173bc095c"
	WSOLMint    = "So11111111111111111111111111111111111111112"
)

// DefaultRegistry returns the registry covering the routers this pipeline
// targets out of the box.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(domain.NetworkEthereum, UniswapV2Router, domain.FamilyUniswapV2)
	r.Register(domain.NetworkEthereum, SushiSwapRouter, domain.FamilyUniswapV2)
	r.Register(domain.NetworkEthereum, UniswapV3Router, domain.FamilyUniswapV3)
	r.Register(domain.NetworkBSC, PancakeV2Router, domain.FamilyPancakeV2)
	r.Register(domain.NetworkSolana, RaydiumV4Program, domain.FamilyRaydiumAMM)
	r.Register(domain.NetworkSolana, WhirlpoolProgram, domain.FamilyOrcaWhirl)
	return r
}

// wrappedNative returns the token that stands in for the native coin on an
// account-based network.
func wrappedNative(network domain.Network) string {
	if network == domain.NetworkBSC {
		return WBNBAddress
	}
	return WETHAddress
}
