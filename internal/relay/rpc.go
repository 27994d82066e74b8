package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
)

// rpcClient is a minimal JSON-RPC 2.0 HTTP client shared by the relay
// implementations. Authentication differs per endpoint, so each request can
// carry extra headers computed from the exact request body.
type rpcClient struct {
	url    string
	httpc  *http.Client
	nextID atomic.Int64
	// headers is invoked with the marshaled request body and returns header
	// name/value pairs to attach. Nil means no extra headers.
	headers func(body []byte) (map[string]string, error)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func newRPCClient(url string, httpc *http.Client) *rpcClient {
	if httpc == nil {
		httpc = http.DefaultClient
	}
	return &rpcClient{url: url, httpc: httpc}
}

// call issues one JSON-RPC request and unmarshals the result into out. A nil
// out discards the result.
func (c *rpcClient) call(ctx context.Context, method string, params any, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("relay: marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("relay: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.headers != nil {
		hs, err := c.headers(body)
		if err != nil {
			return fmt.Errorf("relay: auth headers: %w", err)
		}
		for k, v := range hs {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("relay: %s: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("relay: read %s response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("relay: %s returned HTTP %d: %s", method, resp.StatusCode, truncate(data, 256))
	}

	var rr rpcResponse
	if err := json.Unmarshal(data, &rr); err != nil {
		return fmt.Errorf("relay: decode %s response: %w", method, err)
	}
	if rr.Error != nil {
		return fmt.Errorf("relay: %s: %w", method, rr.Error)
	}
	if out != nil {
		if err := json.Unmarshal(rr.Result, out); err != nil {
			return fmt.Errorf("relay: decode %s result: %w", method, err)
		}
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
