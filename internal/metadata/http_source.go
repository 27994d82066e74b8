package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"github.com/mevduct/sandwichd/internal/domain"
)

// HTTPSource is the leaf MetadataSource: a market-data indexer queried over
// REST. It sits under the in-process and Redis caches, so request volume is
// already collapsed by the time it is reached.
type HTTPSource struct {
	baseURL string
	httpc   *http.Client
}

// NewHTTPSource creates a source for one indexer endpoint.
func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPSource{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: timeout},
	}
}

type tokenPayload struct {
	Address      string  `json:"address"`
	Symbol       string  `json:"symbol"`
	Decimals     uint8   `json:"decimals"`
	Verified     bool    `json:"verified"`
	Honeypot     bool    `json:"honeypot"`
	BuyTaxBps    int     `json:"buyTaxBps"`
	SellTaxBps   int     `json:"sellTaxBps"`
	UnitPriceUSD float64 `json:"unitPriceUsd"`
	LiquidityUSD float64 `json:"liquidityUsd"`
	Volume24hUSD float64 `json:"volume24hUsd"`
}

type poolPayload struct {
	Address  string `json:"address"`
	Token0   string `json:"token0"`
	Token1   string `json:"token1"`
	Reserve0 string `json:"reserve0"`
	Reserve1 string `json:"reserve1"`
	FeeBps   uint32 `json:"feeBps"`
	Family   string `json:"family"`
}

// Token implements domain.MetadataSource.
func (s *HTTPSource) Token(ctx context.Context, network domain.Network, address string) (domain.TokenInfo, error) {
	var p tokenPayload
	if err := s.get(ctx, fmt.Sprintf("/v1/%s/token/%s", network, url.PathEscape(address)), &p); err != nil {
		return domain.TokenInfo{}, err
	}
	return domain.TokenInfo{
		Network:      network,
		Address:      p.Address,
		Symbol:       p.Symbol,
		Decimals:     p.Decimals,
		Verified:     p.Verified,
		Honeypot:     p.Honeypot,
		BuyTaxBps:    p.BuyTaxBps,
		SellTaxBps:   p.SellTaxBps,
		UnitPriceUSD: p.UnitPriceUSD,
		LiquidityUSD: p.LiquidityUSD,
		Volume24hUSD: p.Volume24hUSD,
	}, nil
}

// Pool implements domain.MetadataSource.
func (s *HTTPSource) Pool(ctx context.Context, network domain.Network, address string) (domain.PoolInfo, error) {
	var p poolPayload
	if err := s.get(ctx, fmt.Sprintf("/v1/%s/pool/%s", network, url.PathEscape(address)), &p); err != nil {
		return domain.PoolInfo{}, err
	}
	return p.toDomain(network)
}

// PoolByPair implements domain.MetadataSource. The indexer resolves the
// deepest pool for the pair in either token order.
func (s *HTTPSource) PoolByPair(ctx context.Context, network domain.Network, tokenA, tokenB string) (domain.PoolInfo, error) {
	var p poolPayload
	path := fmt.Sprintf("/v1/%s/pair/%s/%s", network, url.PathEscape(tokenA), url.PathEscape(tokenB))
	if err := s.get(ctx, path, &p); err != nil {
		return domain.PoolInfo{}, err
	}
	return p.toDomain(network)
}

func (p poolPayload) toDomain(network domain.Network) (domain.PoolInfo, error) {
	r0, ok := new(big.Int).SetString(p.Reserve0, 10)
	if !ok {
		return domain.PoolInfo{}, fmt.Errorf("metadata: pool %s reserve0 %q is not decimal", p.Address, p.Reserve0)
	}
	r1, ok := new(big.Int).SetString(p.Reserve1, 10)
	if !ok {
		return domain.PoolInfo{}, fmt.Errorf("metadata: pool %s reserve1 %q is not decimal", p.Address, p.Reserve1)
	}
	return domain.PoolInfo{
		Network:  network,
		Address:  p.Address,
		Token0:   p.Token0,
		Token1:   p.Token1,
		Reserve0: r0,
		Reserve1: r1,
		FeeBps:   p.FeeBps,
		Family:   domain.RouterFamily(p.Family),
	}, nil
}

func (s *HTTPSource) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("metadata: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("metadata: get %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return domain.ErrNotFound
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("metadata: get %s returned HTTP %d: %s", path, resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("metadata: decode %s: %w", path, err)
	}
	return nil
}
