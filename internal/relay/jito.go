package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mr-tron/base58"

	"github.com/mevduct/sandwichd/internal/crypto"
	"github.com/mevduct/sandwichd/internal/domain"
)

// minTipLamports is the floor the block engine accepts; bids below it are
// raised to it.
const minTipLamports = 10_000

// JitoRelay places bundles through a block-engine relay. The bid is a flat
// lamport tip transferred to one of the engine's tip accounts inside the
// back-run leg, so the tip only ever pays out when the whole bundle lands.
type JitoRelay struct {
	engine     *rpcClient
	node       *rpcClient
	signer     *crypto.SolanaSigner
	reserve    float64
	table      *bundleTable
	logger     *slog.Logger
	ready      atomic.Bool
	tipAccount atomic.Value // string

	mu        sync.Mutex
	engineIDs map[string]string // bundle ID -> engine bundle ID
}

// NewJitoRelay creates the solana relay. engineURL is the block-engine
// endpoint, rpcURL a node used for blockhashes, slots, and simulation.
// tipAccount may be empty; the engine's published list is used instead.
func NewJitoRelay(engineURL, rpcURL, tipAccount string, signer *crypto.SolanaSigner, profitMarginReserve float64, timeout time.Duration, logger *slog.Logger) *JitoRelay {
	httpc := &http.Client{Timeout: timeout}
	r := &JitoRelay{
		engine:    newRPCClient(engineURL, httpc),
		node:      newRPCClient(rpcURL, httpc),
		signer:    signer,
		reserve:   profitMarginReserve,
		table:     newBundleTable(),
		logger:    logger.With(slog.String("component", "jito_relay"), slog.String("network", string(domain.NetworkSolana))),
		engineIDs: make(map[string]string),
	}
	if tipAccount != "" {
		r.tipAccount.Store(tipAccount)
	}
	return r
}

// Network implements Relay.
func (r *JitoRelay) Network() domain.Network { return domain.NetworkSolana }

// IsReady performs the engine handshake: fetching the tip account list proves
// both reachability and protocol agreement. Cached after the first success.
func (r *JitoRelay) IsReady(ctx context.Context) bool {
	if r.ready.Load() {
		return true
	}
	var accounts []string
	if err := r.engine.call(ctx, "getTipAccounts", []any{}, &accounts); err != nil {
		return false
	}
	if r.tipAccount.Load() == nil {
		if len(accounts) == 0 {
			return false
		}
		r.tipAccount.Store(accounts[0])
	}
	r.ready.Store(true)
	return true
}

func (r *JitoRelay) latestBlockhash(ctx context.Context) (string, error) {
	var out struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}
	err := r.node.call(ctx, "getLatestBlockhash", []any{map[string]string{"commitment": "processed"}}, &out)
	if err != nil {
		return "", err
	}
	return out.Value.Blockhash, nil
}

func (r *JitoRelay) currentSlot(ctx context.Context) (uint64, error) {
	var slot uint64
	err := r.node.call(ctx, "getSlot", []any{map[string]string{"commitment": "processed"}}, &slot)
	return slot, err
}

// Raydium swap account positions reused from the victim's instruction.
const (
	legAccountUserSource = 15
	legAccountUserDest   = 16
	legAccountOwner      = 17
)

// BuildBundle assembles the [front, victim, back] transaction list for the
// next slot. The legs reuse the victim's pool and market accounts with the
// operator's own token accounts swapped in; only the single-byte
// discriminator family supports this, the anchor family is detection-only.
func (r *JitoRelay) BuildBundle(ctx context.Context, opp *domain.SandwichOpportunity, params domain.ExecutionParams) (*domain.Bundle, error) {
	if opp.Family != domain.FamilyRaydiumAMM {
		return nil, fmt.Errorf("relay: bundle construction not supported for family %q", opp.Family)
	}
	if len(opp.VictimRawTx) == 0 {
		return nil, fmt.Errorf("relay: opportunity %s carries no raw victim transaction", opp.ID)
	}
	if len(opp.VictimAccounts) <= legAccountOwner {
		return nil, fmt.Errorf("relay: opportunity %s carries a truncated account list", opp.ID)
	}
	tipAcct, _ := r.tipAccount.Load().(string)
	if tipAcct == "" {
		return nil, domain.ErrRelayNotReady
	}

	blockhash, err := r.latestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("relay: latest blockhash: %w", err)
	}
	slot, err := r.currentSlot(ctx)
	if err != nil {
		return nil, fmt.Errorf("relay: current slot: %w", err)
	}

	frontIn := opp.FrontRunAmountIn
	if params.FrontRunOverride != nil && params.FrontRunOverride.Sign() > 0 {
		frontIn = params.FrontRunOverride
	}
	if !frontIn.IsUint64() || opp.FrontRunExpectedOut == nil || !opp.FrontRunExpectedOut.IsUint64() {
		return nil, fmt.Errorf("relay: leg amounts exceed the u64 instruction range")
	}

	srcATA, err := deriveATA(r.signer.PublicKey(), opp.TokenIn)
	if err != nil {
		return nil, err
	}
	dstATA, err := deriveATA(r.signer.PublicKey(), opp.TokenOut)
	if err != nil {
		return nil, err
	}

	tip := computeBid(bidBasis(opp), r.reserve, params.MaxFee)
	if tip.Cmp(big.NewInt(minTipLamports)) < 0 {
		tip = big.NewInt(minTipLamports)
	}

	frontMinOut := minOutFor(opp.FrontRunExpectedOut, params.MaxSlippageBps)
	frontIx := r.swapLeg(opp, srcATA, dstATA, frontIn.Uint64(), frontMinOut.Uint64())
	backIx := r.swapLeg(opp, dstATA, srcATA, opp.FrontRunExpectedOut.Uint64(), 0)
	tipIx := solanaInstruction{
		ProgramID: systemProgramID,
		Accounts: []solanaAccountMeta{
			{Pubkey: r.signer.PublicKey(), Signer: true, Writable: true},
			{Pubkey: tipAcct, Writable: true},
		},
		Data: systemTransferData(tip.Uint64()),
	}

	frontRaw, frontSig, err := buildSolanaTx(r.signer, blockhash, []solanaInstruction{frontIx})
	if err != nil {
		return nil, fmt.Errorf("relay: build front leg: %w", err)
	}
	backRaw, backSig, err := buildSolanaTx(r.signer, blockhash, []solanaInstruction{backIx, tipIx})
	if err != nil {
		return nil, fmt.Errorf("relay: build back leg: %w", err)
	}

	b := newBundle(domain.NetworkSolana, opp, tip, slot+1)
	b.Transactions = [][]byte{frontRaw, opp.VictimRawTx, backRaw}
	b.FrontRunHash = frontSig
	b.BackRunHash = backSig
	r.table.add(b)

	r.logger.Debug("bundle built",
		slog.String("bundle", b.ID),
		slog.Uint64("target_slot", b.TargetBlock),
		slog.String("tip_lamports", tip.String()),
	)
	snap, _ := r.table.get(b.ID)
	return snap, nil
}

// swapLeg builds one swap instruction over the victim's account list with the
// operator's accounts substituted at the user positions. Pool and market
// accounts are position-identical for every swapper.
func (r *JitoRelay) swapLeg(opp *domain.SandwichOpportunity, source, dest string, amountIn, minOut uint64) solanaInstruction {
	metas := make([]solanaAccountMeta, len(opp.VictimAccounts))
	for i, acct := range opp.VictimAccounts {
		switch i {
		case 0:
			metas[i] = solanaAccountMeta{Pubkey: acct} // token program, readonly
		case legAccountUserSource:
			metas[i] = solanaAccountMeta{Pubkey: source, Writable: true}
		case legAccountUserDest:
			metas[i] = solanaAccountMeta{Pubkey: dest, Writable: true}
		case legAccountOwner:
			metas[i] = solanaAccountMeta{Pubkey: r.signer.PublicKey(), Signer: true, Writable: true}
		default:
			metas[i] = solanaAccountMeta{Pubkey: acct, Writable: true}
		}
	}
	return solanaInstruction{
		ProgramID: opp.Router,
		Accounts:  metas,
		Data:      raydiumSwapData(amountIn, minOut),
	}
}

type bundleSimulation struct {
	Value struct {
		Summary            json.RawMessage `json:"summary"`
		TransactionResults []struct {
			Err json.RawMessage `json:"err"`
		} `json:"transactionResults"`
	} `json:"value"`
}

// SubmitBundle re-simulates through the node's atomic bundle simulation and
// submits to the block engine on success.
func (r *JitoRelay) SubmitBundle(ctx context.Context, bundleID string) error {
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

	encoded := make([]string, len(b.Transactions))
	for i, tx := range b.Transactions {
		encoded[i] = base64.StdEncoding.EncodeToString(tx)
	}
	var sim bundleSimulation
	err := r.node.call(ctx, "simulateBundle",
		[]any{map[string]any{"encodedTransactions": encoded}}, &sim)
	if err != nil {
		return r.fail(bundleID, fmt.Sprintf("simulation call: %v", err), err)
	}
	if string(sim.Value.Summary) != `"succeeded"` {
		reason := string(sim.Value.Summary)
		for _, tr := range sim.Value.TransactionResults {
			if len(tr.Err) > 0 && string(tr.Err) != "null" {
				reason = string(tr.Err)
				break
			}
		}
		err := domain.NewBundleError(domain.BundleErrOther, "simulation failed: %s", reason)
		return r.fail(bundleID, reason, err)
	}

	wire := make([]string, len(b.Transactions))
	for i, tx := range b.Transactions {
		wire[i] = base58.Encode(tx)
	}
	var engineID string
	if err := r.engine.call(ctx, "sendBundle", []any{wire}, &engineID); err != nil {
		return r.fail(bundleID, err.Error(), domain.NewBundleError(domain.ClassifyBundleError(err), "submit: %v", err))
	}

	r.mu.Lock()
	r.engineIDs[bundleID] = engineID
	r.mu.Unlock()
	r.table.update(bundleID, func(b *domain.Bundle) { b.Status = domain.BundleStatusPending })
	r.logger.Info("bundle submitted",
		slog.String("bundle", bundleID),
		slog.String("engine_id", engineID),
		slog.Uint64("target_slot", b.TargetBlock),
	)
	return nil
}

func (r *JitoRelay) fail(bundleID, reason string, err error) error {
	r.table.update(bundleID, func(b *domain.Bundle) {
		b.Status = domain.BundleStatusFailed
		b.RevertReason = reason
	})
	return err
}

type bundleStatuses struct {
	Value []struct {
		BundleID   string `json:"bundle_id"`
		Status     string `json:"status"` // Invalid | Pending | Failed | Landed
		LandedSlot uint64 `json:"landed_slot"`
	} `json:"value"`
}

// BundleStatus queries the engine for pending bundles.
func (r *JitoRelay) BundleStatus(ctx context.Context, bundleID string) (*domain.Bundle, error) {
	b, ok := r.table.get(bundleID)
	if !ok {
		return nil, domain.ErrBundleNotFound
	}
	if b.Status != domain.BundleStatusPending {
		return b, nil
	}

	r.mu.Lock()
	engineID := r.engineIDs[bundleID]
	r.mu.Unlock()
	if engineID == "" {
		return b, nil
	}

	var statuses bundleStatuses
	if err := r.engine.call(ctx, "getBundleStatuses", []any{[]string{engineID}}, &statuses); err != nil {
		return nil, err
	}
	for _, st := range statuses.Value {
		if st.BundleID != engineID {
			continue
		}
		switch st.Status {
		case "Landed":
			r.table.update(bundleID, func(b *domain.Bundle) {
				b.Status = domain.BundleStatusIncluded
				b.LandedBlock = st.LandedSlot
			})
		case "Failed", "Invalid":
			r.table.update(bundleID, func(b *domain.Bundle) {
				b.Status = domain.BundleStatusFailed
				b.RevertReason = "engine reported " + st.Status
			})
		}
	}

	snap, _ := r.table.get(bundleID)
	return snap, nil
}

// CancelBundle withdraws an unsubmitted bundle. The block engine offers no
// post-submission cancellation; the bundle expires with its blockhash.
func (r *JitoRelay) CancelBundle(_ context.Context, bundleID string) error {
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
