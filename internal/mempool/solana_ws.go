package mempool

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mr-tron/base58"

	"github.com/mevduct/sandwichd/internal/decoder"
	"github.com/mevduct/sandwichd/internal/domain"
)

// SolanaFeed subscribes to a pending-transaction stream filtered to the
// registered swap programs. The provider delivers the parsed message
// alongside the raw signed transaction, so no follow-up fetch is needed.
type SolanaFeed struct {
	wsURL    string
	programs []string
	dec      *decoder.Decoder
	out      chan<- *domain.CandidateSwap
	logger   *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewSolanaFeed creates the block-engine network feed. programs is the list
// of program IDs to filter the subscription to.
func NewSolanaFeed(wsURL string, programs []string, dec *decoder.Decoder, out chan<- *domain.CandidateSwap, logger *slog.Logger) *SolanaFeed {
	return &SolanaFeed{
		wsURL:    wsURL,
		programs: programs,
		dec:      dec,
		out:      out,
		logger: logger.With(
			slog.String("component", "solana_mempool_feed"),
			slog.String("network", string(domain.NetworkSolana)),
		),
		done: make(chan struct{}),
	}
}

// Network implements Feed.
func (f *SolanaFeed) Network() domain.Network { return domain.NetworkSolana }

// Run connects and processes notifications until ctx is cancelled or Close is
// called, reconnecting with a short pause on disconnect.
func (f *SolanaFeed) Run(ctx context.Context) error {
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
func (f *SolanaFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

type solanaSubscribeReq struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type solanaNotification struct {
	Method string `json:"method"`
	Params struct {
		Result struct {
			Signature   string `json:"signature"`
			PriorityFee uint64 `json:"priorityFee"`
			Transaction struct {
				Raw     string `json:"raw"` // base64 signed transaction
				Message struct {
					AccountKeys  []string `json:"accountKeys"`
					Instructions []struct {
						ProgramIDIndex int    `json:"programIdIndex"`
						Accounts       []int  `json:"accounts"`
						Data           string `json:"data"` // base58
					} `json:"instructions"`
				} `json:"message"`
			} `json:"transaction"`
			Meta struct {
				PreTokenBalances []struct {
					AccountIndex int    `json:"accountIndex"`
					Mint         string `json:"mint"`
				} `json:"preTokenBalances"`
			} `json:"meta"`
		} `json:"result"`
	} `json:"params"`
}

func (f *SolanaFeed) runConnection(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	ws, _, err := websocket.DefaultDialer.DialContext(dialCtx, f.wsURL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("mempool: dial %s: %w", f.wsURL, err)
	}
	defer ws.Close()

	connCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-connCtx.Done():
		case <-f.done:
		}
		_ = ws.Close()
	}()

	sub := solanaSubscribeReq{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "transactionSubscribe",
		Params: []any{
			map[string]any{
				"vote":           false,
				"failed":         false,
				"accountInclude": f.programs,
			},
			map[string]any{
				"commitment":          "processed",
				"transactionDetails":  "full",
				"maxSupportedVersion": 0,
			},
		},
	}
	if err := ws.WriteJSON(sub); err != nil {
		return fmt.Errorf("mempool: subscribe: %w", err)
	}
	f.logger.Info("subscribed to pending instructions", slog.Int("programs", len(f.programs)))

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("mempool: read: %w", err)
		}
		var note solanaNotification
		if err := json.Unmarshal(data, &note); err != nil {
			continue
		}
		if note.Method != "transactionNotification" {
			continue
		}
		f.handleNotification(connCtx, note)
	}
}

// handleNotification resolves instruction account indexes against the message
// account keys and tries the decoder on every instruction. Index values out
// of range mark the message malformed and it is skipped whole.
func (f *SolanaFeed) handleNotification(ctx context.Context, note solanaNotification) {
	res := note.Params.Result
	keys := res.Transaction.Message.AccountKeys

	raw, err := base64.StdEncoding.DecodeString(res.Transaction.Raw)
	if err != nil {
		return
	}

	// Token-balance metadata resolves token accounts to their mints.
	mints := make(map[string]string, len(res.Meta.PreTokenBalances))
	for _, tb := range res.Meta.PreTokenBalances {
		if tb.AccountIndex >= 0 && tb.AccountIndex < len(keys) {
			mints[keys[tb.AccountIndex]] = tb.Mint
		}
	}

	for _, ins := range res.Transaction.Message.Instructions {
		if ins.ProgramIDIndex < 0 || ins.ProgramIDIndex >= len(keys) {
			return
		}
		accounts := make([]string, 0, len(ins.Accounts))
		valid := true
		for _, idx := range ins.Accounts {
			if idx < 0 || idx >= len(keys) {
				valid = false
				break
			}
			accounts = append(accounts, keys[idx])
		}
		if !valid {
			return
		}
		data, err := base58.Decode(ins.Data)
		if err != nil {
			continue
		}

		cand, ok := f.dec.DecodeSolana(decoder.PendingInstruction{
			Signature:   res.Signature,
			ProgramID:   keys[ins.ProgramIDIndex],
			Accounts:    accounts,
			Data:        data,
			Raw:         raw,
			PriorityFee: new(big.Int).SetUint64(res.PriorityFee),
			Mints:       mints,
		})
		if !ok {
			continue
		}
		f.logger.Debug("candidate decoded",
			slog.String("signature", cand.TxHash),
			slog.String("family", string(cand.Family)),
		)
		forward(ctx, f.out, cand, f.logger)
	}
}
