// Package domain defines the core data model of the sandwich pipeline and the
// interfaces (stores, caches, event bus) implemented by the infrastructure
// packages. It has no dependencies on other internal packages.
package domain

// Network identifies one of the supported ledger networks.
type Network string

const (
	// NetworkEthereum is the account-based network whose bundles are placed
	// through an auction-style inclusion relay.
	NetworkEthereum Network = "ethereum"
	// NetworkSolana is the high-throughput network whose bundles are placed
	// through a block-engine relay.
	NetworkSolana Network = "solana"
	// NetworkBSC is the second account-based network, served by a vendor relay.
	NetworkBSC Network = "bsc"
)

// Valid reports whether n is one of the supported networks.
func (n Network) Valid() bool {
	switch n {
	case NetworkEthereum, NetworkSolana, NetworkBSC:
		return true
	default:
		return false
	}
}

// RouterFamily tags the decoder layout family of a router or on-chain program.
type RouterFamily string

const (
	FamilyUniswapV2  RouterFamily = "uniswap_v2"     // exact-in address[] path routers
	FamilyUniswapV3  RouterFamily = "uniswap_v3"     // packed (address,fee) path routers
	FamilyPancakeV2  RouterFamily = "pancake_v2"     // V2 layout on BSC
	FamilyRaydiumAMM RouterFamily = "raydium_amm"    // single-byte discriminator instructions
	FamilyOrcaWhirl  RouterFamily = "orca_whirlpool" // 8-byte anchor discriminator instructions
)
