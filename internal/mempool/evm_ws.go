package mempool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"

	"github.com/mevduct/sandwichd/internal/decoder"
	"github.com/mevduct/sandwichd/internal/domain"
)

// EVMFeed subscribes to full pending-transaction objects over an EVM node's
// websocket endpoint (eth_subscribe newPendingTransactions with full bodies)
// and forwards decoded candidates. On each decoder match it fetches the
// signed raw payload via eth_getRawTransactionByHash on the same connection,
// since the relay needs it verbatim inside the bundle.
type EVMFeed struct {
	network domain.Network
	wsURL   string
	dec     *decoder.Decoder
	out     chan<- *domain.CandidateSwap
	logger  *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewEVMFeed creates a feed for one account-based network.
func NewEVMFeed(network domain.Network, wsURL string, dec *decoder.Decoder, out chan<- *domain.CandidateSwap, logger *slog.Logger) *EVMFeed {
	return &EVMFeed{
		network: network,
		wsURL:   wsURL,
		dec:     dec,
		out:     out,
		logger: logger.With(
			slog.String("component", "evm_mempool_feed"),
			slog.String("network", string(network)),
		),
		done: make(chan struct{}),
	}
}

// Network implements Feed.
func (f *EVMFeed) Network() domain.Network { return f.network }

// Run connects and processes pending transactions until ctx is cancelled or
// Close is called. Reconnects with a short pause on disconnect.
func (f *EVMFeed) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-f.done:
			return nil
		default:
		}
		f.logger.Warn("mempool ws disconnected, reconnecting", slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(2 * time.Second):
		}
	}
}

// Close stops the feed permanently.
func (f *EVMFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcMessage struct {
	ID     *uint64         `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type subscriptionParams struct {
	Result json.RawMessage `json:"result"`
}

// pendingTxBody is the full pending-transaction object shape.
type pendingTxBody struct {
	Hash         string `json:"hash"`
	To           string `json:"to"`
	Input        string `json:"input"`
	Value        string `json:"value"`
	GasPrice     string `json:"gasPrice"`
	MaxFeePerGas string `json:"maxFeePerGas"`
}

// conn wraps one websocket session with correlated request/response support;
// gorilla connections allow one concurrent writer, hence the write mutex.
type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	nextID  atomic.Uint64

	pendingMu sync.Mutex
	pending   map[uint64]chan rpcMessage
}

func (c *conn) call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	ch := make(chan rpcMessage, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	c.writeMu.Lock()
	err := c.ws.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("mempool: write %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg := <-ch:
		if msg.Error != nil {
			return nil, fmt.Errorf("mempool: %s: rpc error %d: %s", method, msg.Error.Code, msg.Error.Message)
		}
		return msg.Result, nil
	}
}

func (c *conn) dispatch(msg rpcMessage) bool {
	if msg.ID == nil {
		return false
	}
	c.pendingMu.Lock()
	ch, ok := c.pending[*msg.ID]
	c.pendingMu.Unlock()
	if ok {
		ch <- msg
	}
	return true
}

func (f *EVMFeed) runConnection(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	ws, _, err := websocket.DefaultDialer.DialContext(dialCtx, f.wsURL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("mempool: dial %s: %w", f.wsURL, err)
	}
	defer ws.Close()

	c := &conn{ws: ws, pending: make(map[uint64]chan rpcMessage)}

	// Close the socket when the context ends so ReadMessage unblocks.
	connCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-connCtx.Done():
		case <-f.done:
		}
		_ = ws.Close()
	}()

	readErr := make(chan error, 1)
	go f.readLoop(connCtx, c, readErr)

	// Full pending-transaction bodies; nodes that only stream hashes are not
	// supported by this feed.
	if _, err := c.call(connCtx, "eth_subscribe", "newPendingTransactions", true); err != nil {
		return err
	}
	f.logger.Info("subscribed to pending transactions")

	select {
	case err := <-readErr:
		return err
	case <-connCtx.Done():
		return connCtx.Err()
	case <-f.done:
		return nil
	}
}

func (f *EVMFeed) readLoop(ctx context.Context, c *conn, readErr chan<- error) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			readErr <- fmt.Errorf("mempool: read: %w", err)
			return
		}
		var msg rpcMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue // not ours to crash on
		}
		if c.dispatch(msg) {
			continue
		}
		if msg.Method != "eth_subscription" {
			continue
		}
		var p subscriptionParams
		if err := json.Unmarshal(msg.Params, &p); err != nil {
			continue
		}
		var body pendingTxBody
		if err := json.Unmarshal(p.Result, &body); err != nil {
			continue
		}
		f.handlePending(ctx, c, body)
	}
}

// handlePending decodes one observed transaction and, on a match, completes
// the candidate with its raw payload before forwarding.
func (f *EVMFeed) handlePending(ctx context.Context, c *conn, body pendingTxBody) {
	if body.To == "" || len(body.Input) < 10 {
		return
	}
	input, err := hexutil.Decode(body.Input)
	if err != nil {
		return
	}
	tx := decoder.PendingTx{
		Hash:     body.Hash,
		To:       body.To,
		Input:    input,
		Value:    decodeBig(body.Value),
		GasPrice: effectiveGasPrice(body),
	}
	cand, ok := f.dec.DecodeEVM(f.network, tx)
	if !ok {
		return
	}

	raw, err := f.fetchRaw(ctx, c, body.Hash)
	if err != nil {
		f.logger.Debug("raw tx fetch failed, dropping candidate",
			slog.String("tx", body.Hash),
			slog.String("error", err.Error()),
		)
		return
	}
	cand.RawTx = raw

	f.logger.Debug("candidate decoded",
		slog.String("tx", cand.TxHash),
		slog.String("family", string(cand.Family)),
		slog.String("amount_in", cand.AmountIn.String()),
	)
	forward(ctx, f.out, cand, f.logger)
}

func (f *EVMFeed) fetchRaw(ctx context.Context, c *conn, hash string) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	res, err := c.call(callCtx, "eth_getRawTransactionByHash", hash)
	if err != nil {
		return nil, err
	}
	var rawHex string
	if err := json.Unmarshal(res, &rawHex); err != nil {
		return nil, fmt.Errorf("mempool: decode raw tx result: %w", err)
	}
	return hexutil.Decode(rawHex)
}

func decodeBig(s string) *big.Int {
	if s == "" {
		return nil
	}
	v, err := hexutil.DecodeBig(s)
	if err != nil {
		return nil
	}
	return v
}

// effectiveGasPrice prefers the legacy gasPrice field and falls back to the
// EIP-1559 fee cap.
func effectiveGasPrice(body pendingTxBody) *big.Int {
	if v := decodeBig(body.GasPrice); v != nil {
		return v
	}
	return decodeBig(body.MaxFeePerGas)
}
