package relay

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"

	"github.com/mevduct/sandwichd/internal/crypto"
)

// Well-known program addresses on the block-engine network.
const (
	tokenProgramID  = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	ataProgramID    = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
	systemProgramID = "11111111111111111111111111111111"
)

type solanaAccountMeta struct {
	Pubkey   string
	Signer   bool
	Writable bool
}

type solanaInstruction struct {
	ProgramID string
	Accounts  []solanaAccountMeta
	Data      []byte
}

// appendCompactU16 writes the short-vec length prefix used throughout the
// transaction wire format.
func appendCompactU16(dst []byte, v int) []byte {
	for {
		if v < 0x80 {
			return append(dst, byte(v))
		}
		dst = append(dst, byte(v&0x7f)|0x80)
		v >>= 7
	}
}

// buildSolanaTx serializes a single-signer legacy transaction and signs it.
// It returns the wire bytes and the base58 signature, which doubles as the
// transaction identity.
func buildSolanaTx(signer *crypto.SolanaSigner, blockhash string, ixs []solanaInstruction) ([]byte, string, error) {
	payer := signer.PublicKey()

	// Account table order: signers, then writable non-signers, then readonly.
	index := map[string]int{}
	var keys []string
	var metas []solanaAccountMeta
	addAccount := func(m solanaAccountMeta) {
		if i, ok := index[m.Pubkey]; ok {
			// Merge: an account referenced twice keeps its strongest role.
			metas[i].Signer = metas[i].Signer || m.Signer
			metas[i].Writable = metas[i].Writable || m.Writable
			return
		}
		index[m.Pubkey] = len(keys)
		keys = append(keys, m.Pubkey)
		metas = append(metas, m)
	}
	addAccount(solanaAccountMeta{Pubkey: payer, Signer: true, Writable: true})
	for _, ix := range ixs {
		for _, m := range ix.Accounts {
			addAccount(m)
		}
		addAccount(solanaAccountMeta{Pubkey: ix.ProgramID})
	}

	ordered := make([]solanaAccountMeta, 0, len(metas))
	for _, pass := range []func(solanaAccountMeta) bool{
		func(m solanaAccountMeta) bool { return m.Signer && m.Writable },
		func(m solanaAccountMeta) bool { return m.Signer && !m.Writable },
		func(m solanaAccountMeta) bool { return !m.Signer && m.Writable },
		func(m solanaAccountMeta) bool { return !m.Signer && !m.Writable },
	} {
		for _, m := range metas {
			if pass(m) {
				ordered = append(ordered, m)
			}
		}
	}
	pos := make(map[string]byte, len(ordered))
	var numSigners, numReadonlySigned, numReadonlyUnsigned byte
	for i, m := range ordered {
		pos[m.Pubkey] = byte(i)
		switch {
		case m.Signer && m.Writable:
			numSigners++
		case m.Signer:
			numSigners++
			numReadonlySigned++
		case !m.Writable:
			numReadonlyUnsigned++
		}
	}

	hash, err := base58.Decode(blockhash)
	if err != nil || len(hash) != 32 {
		return nil, "", fmt.Errorf("relay: invalid blockhash %q", blockhash)
	}

	msg := []byte{numSigners, numReadonlySigned, numReadonlyUnsigned}
	msg = appendCompactU16(msg, len(ordered))
	for _, m := range ordered {
		raw, err := base58.Decode(m.Pubkey)
		if err != nil || len(raw) != 32 {
			return nil, "", fmt.Errorf("relay: invalid account %q", m.Pubkey)
		}
		msg = append(msg, raw...)
	}
	msg = append(msg, hash...)
	msg = appendCompactU16(msg, len(ixs))
	for _, ix := range ixs {
		msg = append(msg, pos[ix.ProgramID])
		msg = appendCompactU16(msg, len(ix.Accounts))
		for _, m := range ix.Accounts {
			msg = append(msg, pos[m.Pubkey])
		}
		msg = appendCompactU16(msg, len(ix.Data))
		msg = append(msg, ix.Data...)
	}

	sig := signer.Sign(msg)

	tx := appendCompactU16(nil, 1)
	tx = append(tx, sig...)
	tx = append(tx, msg...)
	return tx, base58.Encode(sig), nil
}

// deriveATA derives the associated token account for (wallet, mint): the
// first off-curve program address over the canonical seed triple, searching
// bump seeds downward from 255.
func deriveATA(wallet, mint string) (string, error) {
	walletRaw, err := base58.Decode(wallet)
	if err != nil {
		return "", fmt.Errorf("relay: decode wallet: %w", err)
	}
	mintRaw, err := base58.Decode(mint)
	if err != nil {
		return "", fmt.Errorf("relay: decode mint: %w", err)
	}
	tokenRaw, _ := base58.Decode(tokenProgramID)
	ataRaw, _ := base58.Decode(ataProgramID)

	for bump := 255; bump >= 0; bump-- {
		h := sha256.New()
		h.Write(walletRaw)
		h.Write(tokenRaw)
		h.Write(mintRaw)
		h.Write([]byte{byte(bump)})
		h.Write(ataRaw)
		h.Write([]byte("ProgramDerivedAddress"))
		sum := h.Sum(nil)
		if !onCurve(sum) {
			return base58.Encode(sum), nil
		}
	}
	return "", fmt.Errorf("relay: no valid program address for %s/%s", wallet, mint)
}

// onCurve reports whether b decodes to a valid curve point. Program-derived
// addresses must not have one.
func onCurve(b []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

// raydiumSwapData encodes the swap-base-in instruction payload.
func raydiumSwapData(amountIn, minOut uint64) []byte {
	data := make([]byte, 17)
	data[0] = 9
	binary.LittleEndian.PutUint64(data[1:9], amountIn)
	binary.LittleEndian.PutUint64(data[9:17], minOut)
	return data
}

// systemTransferData encodes a native lamport transfer payload.
func systemTransferData(lamports uint64) []byte {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], 2)
	binary.LittleEndian.PutUint64(data[4:12], lamports)
	return data
}
