package decoder

import (
	"time"

	"github.com/mevduct/sandwichd/internal/domain"
)

// Decoder matches pending payloads against the router registry and decodes
// the ones it recognizes. It holds no per-call state and is safe for
// concurrent use.
type Decoder struct {
	registry *Registry
	now      func() time.Time
}

// New creates a Decoder over the given registry.
func New(registry *Registry) *Decoder {
	return &Decoder{registry: registry, now: time.Now}
}

// DecodeEVM returns the normalized swap intent of an EVM pending transaction,
// or (nil, false) when the target is not a registered router, the selector is
// not a supported swap, or the calldata is malformed.
func (d *Decoder) DecodeEVM(network domain.Network, tx PendingTx) (*domain.CandidateSwap, bool) {
	if network == domain.NetworkSolana {
		return nil, false
	}
	family, ok := d.registry.Lookup(network, tx.To)
	if !ok {
		return nil, false
	}
	// A program family registered under a different network class means the
	// registry was misconfigured; treat it as no match rather than decoding
	// with the wrong layout.
	switch family {
	case domain.FamilyRaydiumAMM, domain.FamilyOrcaWhirl:
		return nil, false
	}
	return d.decodeEVM(network, family, tx)
}

// DecodeSolana returns the normalized swap intent of one pending instruction,
// or (nil, false) when the program is unknown or the data is malformed.
func (d *Decoder) DecodeSolana(ix PendingInstruction) (*domain.CandidateSwap, bool) {
	family, ok := d.registry.Lookup(domain.NetworkSolana, ix.ProgramID)
	if !ok {
		return nil, false
	}
	switch family {
	case domain.FamilyRaydiumAMM, domain.FamilyOrcaWhirl:
		return d.decodeSolana(family, ix)
	default:
		return nil, false
	}
}
