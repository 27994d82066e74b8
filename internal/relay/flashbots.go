package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/mevduct/sandwichd/internal/crypto"
	"github.com/mevduct/sandwichd/internal/domain"
)

// FlashbotsRelay places bundles through an auction-style inclusion relay. The
// bid is a priority fee per gas on both legs; every relay request is signed
// with the operator's key via the X-Flashbots-Signature header.
type FlashbotsRelay struct {
	relay   *rpcClient
	node    *evmNode
	signer  *crypto.EVMSigner
	reserve float64
	table   *bundleTable
	logger  *slog.Logger
	ready   atomic.Bool
}

// NewFlashbotsRelay creates the ethereum relay. relayURL is the auction
// endpoint, rpcURL a regular node used for nonces, head tracking, and
// receipts.
func NewFlashbotsRelay(relayURL, rpcURL string, signer *crypto.EVMSigner, profitMarginReserve float64, timeout time.Duration, logger *slog.Logger) *FlashbotsRelay {
	httpc := &http.Client{Timeout: timeout}
	rc := newRPCClient(relayURL, httpc)
	rc.headers = func(body []byte) (map[string]string, error) {
		sig, err := signer.AuthHeader(body)
		if err != nil {
			return nil, err
		}
		return map[string]string{"X-Flashbots-Signature": sig}, nil
	}
	return &FlashbotsRelay{
		relay:   rc,
		node:    &evmNode{rpc: newRPCClient(rpcURL, httpc)},
		signer:  signer,
		reserve: profitMarginReserve,
		table:   newBundleTable(),
		logger:  logger.With(slog.String("component", "flashbots_relay"), slog.String("network", string(domain.NetworkEthereum))),
	}
}

// Network implements Relay.
func (r *FlashbotsRelay) Network() domain.Network { return domain.NetworkEthereum }

// IsReady verifies the node serves the signer's chain. The result is cached
// after the first success.
func (r *FlashbotsRelay) IsReady(ctx context.Context) bool {
	if r.ready.Load() {
		return true
	}
	id, err := r.node.chainID(ctx)
	if err != nil || id.Cmp(r.signer.ChainID()) != 0 {
		return false
	}
	r.ready.Store(true)
	return true
}

// BuildBundle assembles and signs the [front, victim, back] transaction list
// targeting the next block.
func (r *FlashbotsRelay) BuildBundle(ctx context.Context, opp *domain.SandwichOpportunity, params domain.ExecutionParams) (*domain.Bundle, error) {
	if len(opp.VictimRawTx) == 0 {
		return nil, fmt.Errorf("relay: opportunity %s carries no raw victim transaction", opp.ID)
	}

	head, err := r.node.blockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("relay: head block: %w", err)
	}
	nonce, err := r.node.pendingNonce(ctx, r.signer.Address())
	if err != nil {
		return nil, fmt.Errorf("relay: pending nonce: %w", err)
	}
	gasPrice, err := r.node.gasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("relay: gas price: %w", err)
	}

	bid := computeBid(bidBasis(opp), r.reserve, nil)
	tip := new(big.Int).Div(bid, big.NewInt(2*evmLegGas))
	if params.MaxFee != nil && params.MaxFee.Sign() > 0 && tip.Cmp(params.MaxFee) > 0 {
		tip.Set(params.MaxFee)
	}
	if tip.Sign() <= 0 {
		tip = big.NewInt(1_000_000_000) // 1 gwei floor keeps the bundle viable
	}
	feeCap := new(big.Int).Lsh(gasPrice, 1)
	feeCap.Add(feeCap, tip)

	frontIn := opp.FrontRunAmountIn
	if params.FrontRunOverride != nil && params.FrontRunOverride.Sign() > 0 {
		frontIn = params.FrontRunOverride
	}
	deadline := legDeadline(time.Now())
	router := common.HexToAddress(opp.Router)

	frontData, err := frontCalldata(opp, frontIn, params.MaxSlippageBps, r.signer.Address(), deadline)
	if err != nil {
		return nil, err
	}
	backData, err := backCalldata(opp, opp.FrontRunExpectedOut, r.signer.Address(), deadline)
	if err != nil {
		return nil, err
	}

	front, err := r.signer.SignTx(types.NewTx(&types.DynamicFeeTx{
		ChainID:   r.signer.ChainID(),
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       evmLegGas,
		To:        &router,
		Data:      frontData,
	}))
	if err != nil {
		return nil, err
	}
	back, err := r.signer.SignTx(types.NewTx(&types.DynamicFeeTx{
		ChainID:   r.signer.ChainID(),
		Nonce:     nonce + 1,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       evmLegGas,
		To:        &router,
		Data:      backData,
	}))
	if err != nil {
		return nil, err
	}

	frontRaw, err := front.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("relay: encode front leg: %w", err)
	}
	backRaw, err := back.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("relay: encode back leg: %w", err)
	}

	b := newBundle(domain.NetworkEthereum, opp, tip, head+1)
	b.Transactions = [][]byte{frontRaw, opp.VictimRawTx, backRaw}
	b.FrontRunHash = front.Hash().Hex()
	b.BackRunHash = back.Hash().Hex()
	r.table.add(b)

	r.logger.Debug("bundle built",
		slog.String("bundle", b.ID),
		slog.Uint64("target_block", b.TargetBlock),
		slog.String("tip_per_gas", tip.String()),
	)
	snap, _ := r.table.get(b.ID)
	return snap, nil
}

type flashbotsBundleArg struct {
	Txs             []string `json:"txs"`
	BlockNumber     string   `json:"blockNumber"`
	StateBlock      string   `json:"stateBlockNumber,omitempty"`
	ReplacementUUID string   `json:"replacementUuid,omitempty"`
}

type callBundleResult struct {
	Results []struct {
		TxHash string `json:"txHash"`
		Error  string `json:"error"`
		Revert string `json:"revert"`
	} `json:"results"`
}

// SubmitBundle re-simulates against the latest state and submits on success.
// A simulation revert marks the bundle failed and nothing reaches the relay's
// auction.
func (r *FlashbotsRelay) SubmitBundle(ctx context.Context, bundleID string) error {
	b, ok := r.table.get(bundleID)
	if !ok {
		return domain.ErrBundleNotFound
	}
	if b.Status.Terminal() {
		return domain.ErrBundleTerminal
	}
	if b.Status == domain.BundleStatusPending {
		return nil
	}

	arg := flashbotsBundleArg{
		Txs:         encodeTxs(b.Transactions),
		BlockNumber: hexutil.EncodeUint64(b.TargetBlock),
		StateBlock:  "latest",
	}

	var sim callBundleResult
	if err := r.relay.call(ctx, "eth_callBundle", []any{arg}, &sim); err != nil {
		return r.fail(bundleID, fmt.Sprintf("simulation call: %v", err), err)
	}
	for _, res := range sim.Results {
		if res.Error != "" || res.Revert != "" {
			reason := res.Error
			if res.Revert != "" {
				reason = res.Revert
			}
			err := domain.NewBundleError(domain.ClassifyBundleError(errors.New(reason)), "simulation reverted: %s", reason)
			return r.fail(bundleID, reason, err)
		}
	}

	arg.ReplacementUUID = b.ID
	if err := r.relay.call(ctx, "eth_sendBundle", []any{arg}, nil); err != nil {
		return r.fail(bundleID, err.Error(), domain.NewBundleError(domain.ClassifyBundleError(err), "submit: %v", err))
	}

	r.table.update(bundleID, func(b *domain.Bundle) { b.Status = domain.BundleStatusPending })
	r.logger.Info("bundle submitted", slog.String("bundle", bundleID), slog.Uint64("target_block", b.TargetBlock))
	return nil
}

// fail marks the bundle failed with reason and returns err.
func (r *FlashbotsRelay) fail(bundleID, reason string, err error) error {
	r.table.update(bundleID, func(b *domain.Bundle) {
		b.Status = domain.BundleStatusFailed
		b.RevertReason = reason
	})
	return err
}

// BundleStatus resolves a pending bundle against chain state: a mined
// front-run receipt means inclusion, a passed target block without one means
// the auction dropped us.
func (r *FlashbotsRelay) BundleStatus(ctx context.Context, bundleID string) (*domain.Bundle, error) {
	b, ok := r.table.get(bundleID)
	if !ok {
		return nil, domain.ErrBundleNotFound
	}
	if b.Status != domain.BundleStatusPending {
		return b, nil
	}

	rec, err := r.node.receipt(ctx, b.FrontRunHash)
	if err != nil {
		return nil, err
	}
	switch {
	case rec != nil && rec.Status == 1:
		gas := uint64(rec.GasUsed)
		if backRec, err := r.node.receipt(ctx, b.BackRunHash); err == nil && backRec != nil {
			gas += uint64(backRec.GasUsed)
		}
		r.table.update(bundleID, func(b *domain.Bundle) {
			b.Status = domain.BundleStatusIncluded
			b.LandedBlock = uint64(rec.BlockNumber)
			b.RealizedGas = new(big.Int).SetUint64(gas)
		})
	case rec != nil:
		r.table.update(bundleID, func(b *domain.Bundle) {
			b.Status = domain.BundleStatusFailed
			b.RevertReason = "front-run leg reverted on chain"
		})
	default:
		head, err := r.node.blockNumber(ctx)
		if err != nil {
			return nil, err
		}
		if head > b.TargetBlock+1 {
			r.table.update(bundleID, func(b *domain.Bundle) {
				b.Status = domain.BundleStatusFailed
				b.RevertReason = "missed target block"
			})
		}
	}

	snap, _ := r.table.get(bundleID)
	return snap, nil
}

// CancelBundle withdraws a bundle. Submitted bundles are cancelled at the
// relay by replacement UUID; the relay honors this only before inclusion.
func (r *FlashbotsRelay) CancelBundle(ctx context.Context, bundleID string) error {
	b, ok := r.table.get(bundleID)
	if !ok {
		return domain.ErrBundleNotFound
	}
	if b.Status.Terminal() {
		return domain.ErrBundleTerminal
	}
	if b.Status == domain.BundleStatusPending {
		if err := r.relay.call(ctx, "eth_cancelBundle", []any{map[string]string{"replacementUuid": b.ID}}, nil); err != nil {
			r.logger.Warn("relay cancel failed", slog.String("bundle", bundleID), slog.String("error", err.Error()))
		}
	}
	r.table.update(bundleID, func(b *domain.Bundle) { b.Status = domain.BundleStatusCancelled })
	return nil
}

func encodeTxs(txs [][]byte) []string {
	out := make([]string, len(txs))
	for i, tx := range txs {
		out[i] = hexutil.Encode(tx)
	}
	return out
}
