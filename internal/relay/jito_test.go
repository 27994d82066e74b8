package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mevduct/sandwichd/internal/crypto"
	"github.com/mevduct/sandwichd/internal/domain"
)

// fakeSolanaNode serves the node methods the relay uses for blockhashes,
// slots, and atomic bundle simulation.
type fakeSolanaNode struct {
	mu         sync.Mutex
	slot       uint64
	simSummary string          // marshaled as-is into the simulation summary
	simErr     json.RawMessage // per-transaction error, optional
	simCalls   int
}

func (n *fakeSolanaNode) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &req)

		n.mu.Lock()
		defer n.mu.Unlock()
		switch req.Method {
		case "getLatestBlockhash":
			raw, _ := json.Marshal(map[string]any{
				"value": map[string]string{"blockhash": testKey(0x42)},
			})
			writeRPC(w, req.ID, raw)
		case "getSlot":
			raw, _ := json.Marshal(n.slot)
			writeRPC(w, req.ID, raw)
		case "simulateBundle":
			n.simCalls++
			value := map[string]any{"summary": json.RawMessage(n.simSummary)}
			if len(n.simErr) > 0 {
				value["transactionResults"] = []map[string]any{
					{"err": json.RawMessage("null")},
					{"err": n.simErr},
				}
			}
			raw, _ := json.Marshal(map[string]any{"value": value})
			writeRPC(w, req.ID, raw)
		default:
			http.Error(w, "unknown method "+req.Method, http.StatusBadRequest)
		}
	}
}

// fakeEngine serves the block-engine side: tip accounts, submission, and
// bundle status polling.
type fakeEngine struct {
	mu      sync.Mutex
	methods []string
	bundles [][]string // base58 transactions per sendBundle
	status  string     // Invalid | Pending | Failed | Landed
	landed  uint64
}

func (e *fakeEngine) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &req)

		e.mu.Lock()
		defer e.mu.Unlock()
		e.methods = append(e.methods, req.Method)

		switch req.Method {
		case "getTipAccounts":
			raw, _ := json.Marshal([]string{testKey(0x77)})
			writeRPC(w, req.ID, raw)
		case "sendBundle":
			var params [][]string
			rawParams, _ := json.Marshal(req.Params)
			_ = json.Unmarshal(rawParams, &params)
			if len(params) > 0 {
				e.bundles = append(e.bundles, params[0])
			}
			writeRPC(w, req.ID, json.RawMessage(`"eng-bundle-1"`))
		case "getBundleStatuses":
			raw, _ := json.Marshal(map[string]any{
				"value": []map[string]any{{
					"bundle_id":   "eng-bundle-1",
					"status":      e.status,
					"landed_slot": e.landed,
				}},
			})
			writeRPC(w, req.ID, raw)
		default:
			http.Error(w, "unknown method "+req.Method, http.StatusBadRequest)
		}
	}
}

func (e *fakeEngine) calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.methods...)
}

func solanaOpportunity() *domain.SandwichOpportunity {
	accounts := make([]string, 18)
	for i := range accounts {
		accounts[i] = testKey(byte(i + 1))
	}
	return &domain.SandwichOpportunity{
		ID:                  "opp-sol-1",
		Network:             domain.NetworkSolana,
		Family:              domain.FamilyRaydiumAMM,
		VictimTxHash:        testKey(0x99),
		VictimRawTx:         []byte{1, 2, 3, 4},
		VictimAccounts:      accounts,
		TokenIn:             testKey(0xa1),
		TokenOut:            testKey(0xb2),
		Router:              testKey(0xc3),
		FrontRunAmountIn:    big.NewInt(3_000),
		FrontRunExpectedOut: big.NewInt(2_982),
		EstimatedProfit:     big.NewInt(41),
		ExpiresAt:           time.Now().Add(time.Minute),
	}
}

func newTestJito(t *testing.T, node *fakeSolanaNode, engine *fakeEngine) *JitoRelay {
	t.Helper()
	nodeSrv := httptest.NewServer(node.handler())
	t.Cleanup(nodeSrv.Close)
	engineSrv := httptest.NewServer(engine.handler())
	t.Cleanup(engineSrv.Close)

	signer, err := crypto.NewEphemeralSolanaSigner()
	require.NoError(t, err)
	return NewJitoRelay(engineSrv.URL, nodeSrv.URL, "", signer, 0.3, 2*time.Second,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestJitoBuildSubmitLand(t *testing.T) {
	node := &fakeSolanaNode{slot: 500, simSummary: `"succeeded"`}
	engine := &fakeEngine{status: "Landed", landed: 501}
	r := newTestJito(t, node, engine)

	// The handshake adopts the engine's first published tip account.
	require.True(t, r.IsReady(context.Background()))
	require.True(t, r.IsReady(context.Background())) // cached

	b, err := r.BuildBundle(context.Background(), solanaOpportunity(), domain.ExecutionParams{})
	require.NoError(t, err)
	require.Equal(t, domain.BundleStatusBuilt, b.Status)
	require.Equal(t, uint64(501), b.TargetBlock)
	require.Len(t, b.Transactions, 3)
	require.Equal(t, []byte{1, 2, 3, 4}, b.Transactions[1])
	require.NotEmpty(t, b.FrontRunHash)
	require.NotEmpty(t, b.BackRunHash)

	// The profit share is below the engine floor, so the tip is raised to it
	// and rides inside the back leg.
	require.Equal(t, int64(minTipLamports), b.Bid.Int64())
	require.True(t, bytes.Contains(b.Transactions[2], systemTransferData(minTipLamports)))

	require.NoError(t, r.SubmitBundle(context.Background(), b.ID))
	require.Equal(t, 1, node.simCalls)
	require.Equal(t, []string{"getTipAccounts", "sendBundle"}, engine.calls())
	require.Len(t, engine.bundles, 1)
	require.Len(t, engine.bundles[0], 3)

	// A second submit while pending is a no-op.
	require.NoError(t, r.SubmitBundle(context.Background(), b.ID))
	require.Equal(t, 1, node.simCalls)

	status, err := r.BundleStatus(context.Background(), b.ID)
	require.NoError(t, err)
	require.Equal(t, domain.BundleStatusIncluded, status.Status)
	require.Equal(t, uint64(501), status.LandedBlock)
}

func TestJitoSimulationFailureBlocksSubmission(t *testing.T) {
	node := &fakeSolanaNode{
		slot:       500,
		simSummary: `"failed"`,
		simErr:     json.RawMessage(`{"InstructionError":[0,"Custom"]}`),
	}
	engine := &fakeEngine{}
	r := newTestJito(t, node, engine)
	require.True(t, r.IsReady(context.Background()))

	b, err := r.BuildBundle(context.Background(), solanaOpportunity(), domain.ExecutionParams{})
	require.NoError(t, err)

	err = r.SubmitBundle(context.Background(), b.ID)
	require.Error(t, err)
	require.NotContains(t, engine.calls(), "sendBundle")

	status, statusErr := r.BundleStatus(context.Background(), b.ID)
	require.NoError(t, statusErr)
	require.Equal(t, domain.BundleStatusFailed, status.Status)
	require.Contains(t, status.RevertReason, "InstructionError")

	require.ErrorIs(t, r.SubmitBundle(context.Background(), b.ID), domain.ErrBundleTerminal)
}

func TestJitoEngineRejectionMarksFailed(t *testing.T) {
	node := &fakeSolanaNode{slot: 500, simSummary: `"succeeded"`}
	engine := &fakeEngine{status: "Failed"}
	r := newTestJito(t, node, engine)
	require.True(t, r.IsReady(context.Background()))

	b, err := r.BuildBundle(context.Background(), solanaOpportunity(), domain.ExecutionParams{})
	require.NoError(t, err)
	require.NoError(t, r.SubmitBundle(context.Background(), b.ID))

	status, err := r.BundleStatus(context.Background(), b.ID)
	require.NoError(t, err)
	require.Equal(t, domain.BundleStatusFailed, status.Status)
	require.Equal(t, "engine reported Failed", status.RevertReason)
}

func TestJitoBuildBundleRejections(t *testing.T) {
	node := &fakeSolanaNode{slot: 500}
	r := newTestJito(t, node, &fakeEngine{})
	require.True(t, r.IsReady(context.Background()))

	// Anchor-discriminator pools are detection-only.
	opp := solanaOpportunity()
	opp.Family = domain.FamilyOrcaWhirl
	_, err := r.BuildBundle(context.Background(), opp, domain.ExecutionParams{})
	require.ErrorContains(t, err, "not supported")

	opp = solanaOpportunity()
	opp.VictimRawTx = nil
	_, err = r.BuildBundle(context.Background(), opp, domain.ExecutionParams{})
	require.Error(t, err)

	opp = solanaOpportunity()
	opp.VictimAccounts = opp.VictimAccounts[:10]
	_, err = r.BuildBundle(context.Background(), opp, domain.ExecutionParams{})
	require.ErrorContains(t, err, "truncated")
}

func TestJitoCancelBeforeSubmission(t *testing.T) {
	node := &fakeSolanaNode{slot: 500}
	r := newTestJito(t, node, &fakeEngine{})
	require.True(t, r.IsReady(context.Background()))

	b, err := r.BuildBundle(context.Background(), solanaOpportunity(), domain.ExecutionParams{})
	require.NoError(t, err)
	require.NoError(t, r.CancelBundle(context.Background(), b.ID))

	status, err := r.BundleStatus(context.Background(), b.ID)
	require.NoError(t, err)
	require.Equal(t, domain.BundleStatusCancelled, status.Status)
	require.ErrorIs(t, r.CancelBundle(context.Background(), b.ID), domain.ErrBundleTerminal)
	require.ErrorIs(t, r.CancelBundle(context.Background(), "missing"), domain.ErrBundleNotFound)
}
