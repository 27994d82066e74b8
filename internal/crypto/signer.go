// Package crypto provides the operator's signing capabilities: secp256k1 for
// the account-based networks and ed25519 for the block-engine network. Key
// material is supplied at startup and never persisted or logged.
package crypto

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"
)

// EVMSigner signs transactions and relay auth payloads for one account-based
// network.
type EVMSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
	signer     types.Signer
}

// NewEVMSigner creates an EVMSigner from a hex-encoded secp256k1 private key
// and the target chain ID.
func NewEVMSigner(privateKeyHex string, chainID int64) (*EVMSigner, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid evm private key: %w", err)
	}
	id := big.NewInt(chainID)
	return &EVMSigner{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    id,
		signer:     types.LatestSignerForChainID(id),
	}, nil
}

// NewEphemeralEVMSigner generates a throwaway key. Simulation-only runs use
// it so no funded key material ever has to be configured.
func NewEphemeralEVMSigner(chainID int64) (*EVMSigner, error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("crypto: generate evm key: %w", err)
	}
	id := big.NewInt(chainID)
	return &EVMSigner{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    id,
		signer:     types.LatestSignerForChainID(id),
	}, nil
}

// Address returns the operator's account address.
func (s *EVMSigner) Address() common.Address {
	return s.address
}

// ChainID returns the configured chain ID.
func (s *EVMSigner) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

// SignTx signs an unsigned transaction for this signer's chain.
func (s *EVMSigner) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, s.signer, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: sign tx: %w", err)
	}
	return signed, nil
}

// AuthHeader produces the auction relay's request-signing header value:
// address:signature over the EIP-191 personal hash of the hex-encoded
// keccak256 body digest.
func (s *EVMSigner) AuthHeader(body []byte) (string, error) {
	digest := accounts.TextHash([]byte(hexutil.Encode(ethcrypto.Keccak256(body))))
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto: sign auth header: %w", err)
	}
	return s.address.Hex() + ":" + hexutil.Encode(sig), nil
}

// SolanaSigner signs block-engine network transactions.
type SolanaSigner struct {
	key    ed25519.PrivateKey
	pubkey string
}

// NewSolanaSigner creates a SolanaSigner from a base58-encoded key: either a
// 32-byte seed or a 64-byte expanded private key.
func NewSolanaSigner(privateKeyBase58 string) (*SolanaSigner, error) {
	raw, err := base58.Decode(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid solana private key: %w", err)
	}
	var key ed25519.PrivateKey
	switch len(raw) {
	case ed25519.SeedSize:
		key = ed25519.NewKeyFromSeed(raw)
	case ed25519.PrivateKeySize:
		key = ed25519.PrivateKey(raw)
	default:
		return nil, fmt.Errorf("crypto: solana private key must be %d or %d bytes, got %d",
			ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}
	pub := key.Public().(ed25519.PublicKey)
	return &SolanaSigner{key: key, pubkey: base58.Encode(pub)}, nil
}

// NewEphemeralSolanaSigner generates a throwaway key for simulation-only runs.
func NewEphemeralSolanaSigner() (*SolanaSigner, error) {
	pub, key, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate solana key: %w", err)
	}
	return &SolanaSigner{key: key, pubkey: base58.Encode(pub)}, nil
}

// PublicKey returns the operator's base58 public key.
func (s *SolanaSigner) PublicKey() string {
	return s.pubkey
}

// Sign signs an arbitrary message (a serialized transaction message).
func (s *SolanaSigner) Sign(message []byte) []byte {
	return ed25519.Sign(s.key, message)
}
