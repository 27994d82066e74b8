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

// gasPremiumBps is the front leg's gas-price premium over the victim's. On a
// legacy-fee network ordering priority is the gas price itself, so the bid is
// expressed as this premium bounded by the profit margin.
const gasPremiumBps = 1_000

// BloxrouteRelay places bundles through a vendor bundle API on the second
// account-based network. Requests authenticate with a static account key
// rather than a signature header, and legs use legacy gas pricing.
type BloxrouteRelay struct {
	relay   *rpcClient
	node    *evmNode
	signer  *crypto.EVMSigner
	reserve float64
	table   *bundleTable
	logger  *slog.Logger
	ready   atomic.Bool
}

// NewBloxrouteRelay creates the bsc relay. authKey is the vendor account
// credential sent on every request.
func NewBloxrouteRelay(relayURL, rpcURL, authKey string, signer *crypto.EVMSigner, profitMarginReserve float64, timeout time.Duration, logger *slog.Logger) *BloxrouteRelay {
	httpc := &http.Client{Timeout: timeout}
	rc := newRPCClient(relayURL, httpc)
	rc.headers = func([]byte) (map[string]string, error) {
		return map[string]string{"Authorization": authKey}, nil
	}
	return &BloxrouteRelay{
		relay:   rc,
		node:    &evmNode{rpc: newRPCClient(rpcURL, httpc)},
		signer:  signer,
		reserve: profitMarginReserve,
		table:   newBundleTable(),
		logger:  logger.With(slog.String("component", "bloxroute_relay"), slog.String("network", string(domain.NetworkBSC))),
	}
}

// Network implements Relay.
func (r *BloxrouteRelay) Network() domain.Network { return domain.NetworkBSC }

// IsReady verifies the node serves the signer's chain, cached after the first
// success.
func (r *BloxrouteRelay) IsReady(ctx context.Context) bool {
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

// BuildBundle signs legacy-fee legs bracketing the victim: the front leg at a
// premium over the victim's gas price, the back leg at the victim's own price.
func (r *BloxrouteRelay) BuildBundle(ctx context.Context, opp *domain.SandwichOpportunity, params domain.ExecutionParams) (*domain.Bundle, error) {
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

	victimGas := opp.GasPrice
	if victimGas == nil || victimGas.Sign() <= 0 {
		victimGas, err = r.node.gasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("relay: gas price: %w", err)
		}
	}
	frontGas := new(big.Int).Mul(victimGas, big.NewInt(bpsDenom+gasPremiumBps))
	frontGas.Div(frontGas, big.NewInt(bpsDenom))
	if params.MaxFee != nil && params.MaxFee.Sign() > 0 && frontGas.Cmp(params.MaxFee) > 0 {
		return nil, domain.NewBundleError(domain.BundleErrFee,
			"front leg gas price %s exceeds max fee %s", frontGas, params.MaxFee)
	}

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

	front, err := r.signer.SignTx(types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: frontGas,
		Gas:      evmLegGas,
		To:       &router,
		Data:     frontData,
	}))
	if err != nil {
		return nil, err
	}
	back, err := r.signer.SignTx(types.NewTx(&types.LegacyTx{
		Nonce:    nonce + 1,
		GasPrice: new(big.Int).Set(victimGas),
		Gas:      evmLegGas,
		To:       &router,
		Data:     backData,
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

	// The recorded bid is the premium spend over two legs, bounded by the
	// profit margin for accounting parity with the other relays.
	premiumSpend := new(big.Int).Sub(frontGas, victimGas)
	premiumSpend.Mul(premiumSpend, big.NewInt(evmLegGas))
	bid := computeBid(bidBasis(opp), r.reserve, nil)
	if premiumSpend.Cmp(bid) < 0 {
		bid = premiumSpend
	}

	b := newBundle(domain.NetworkBSC, opp, bid, head+1)
	b.Transactions = [][]byte{frontRaw, opp.VictimRawTx, backRaw}
	b.FrontRunHash = front.Hash().Hex()
	b.BackRunHash = back.Hash().Hex()
	r.table.add(b)

	r.logger.Debug("bundle built",
		slog.String("bundle", b.ID),
		slog.Uint64("target_block", b.TargetBlock),
		slog.String("front_gas_price", frontGas.String()),
	)
	snap, _ := r.table.get(b.ID)
	return snap, nil
}

type bloxrouteBundleArg struct {
	Transaction []string `json:"transaction"`
	BlockNumber string   `json:"block_number"`
	StateBlock  string   `json:"state_block_number,omitempty"`
}

type bloxrouteSimResult struct {
	Results []struct {
		Error  string `json:"error"`
		Revert string `json:"revert"`
	} `json:"results"`
}

// SubmitBundle re-simulates through the vendor API and submits on success.
func (r *BloxrouteRelay) SubmitBundle(ctx context.Context, bundleID string) error {
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

	arg := bloxrouteBundleArg{
		Transaction: encodeTxs(b.Transactions),
		BlockNumber: hexutil.EncodeUint64(b.TargetBlock),
		StateBlock:  "latest",
	}

	var sim bloxrouteSimResult
	if err := r.relay.call(ctx, "blxr_simulate_bundle", arg, &sim); err != nil {
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

	if err := r.relay.call(ctx, "blxr_submit_bundle", arg, nil); err != nil {
		return r.fail(bundleID, err.Error(), domain.NewBundleError(domain.ClassifyBundleError(err), "submit: %v", err))
	}

	r.table.update(bundleID, func(b *domain.Bundle) { b.Status = domain.BundleStatusPending })
	r.logger.Info("bundle submitted", slog.String("bundle", bundleID), slog.Uint64("target_block", b.TargetBlock))
	return nil
}

func (r *BloxrouteRelay) fail(bundleID, reason string, err error) error {
	r.table.update(bundleID, func(b *domain.Bundle) {
		b.Status = domain.BundleStatusFailed
		b.RevertReason = reason
	})
	return err
}

// BundleStatus resolves pending bundles against chain receipts, the same way
// the auction relay does.
func (r *BloxrouteRelay) BundleStatus(ctx context.Context, bundleID string) (*domain.Bundle, error) {
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

// CancelBundle withdraws an unsubmitted bundle. The vendor API offers no
// post-submission cancellation; a pending bundle is marked cancelled locally
// and simply stops being monitored.
func (r *BloxrouteRelay) CancelBundle(_ context.Context, bundleID string) error {
	b, ok := r.table.get(bundleID)
	if !ok {
		return domain.ErrBundleNotFound
	}
	if b.Status.Terminal() {
		return domain.ErrBundleTerminal
	}
	r.table.update(bundleID, func(b *domain.Bundle) { b.Status = domain.BundleStatusCancelled })
	return nil
}
