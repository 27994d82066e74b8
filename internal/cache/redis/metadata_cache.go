package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mevduct/sandwichd/internal/domain"
)

// MetadataCache is a Redis-backed MetadataSource decorator. It sits between
// the in-process cache and the upstream provider so multiple daemon instances
// share one fetch.
//
// Key schema:
//
//	token:{network}:{address} - JSON TokenInfo
//	pool:{network}:{address}  - JSON PoolInfo
//	pair:{network}:{a}:{b}    - pool address (a < b lexicographically)
type MetadataCache struct {
	rdb      *redis.Client
	upstream domain.MetadataSource
	ttl      time.Duration
}

// NewMetadataCache creates a MetadataCache over upstream with the given TTL.
func NewMetadataCache(c *Client, upstream domain.MetadataSource, ttl time.Duration) *MetadataCache {
	return &MetadataCache{rdb: c.Underlying(), upstream: upstream, ttl: ttl}
}

func tokenKey(n domain.Network, addr string) string { return "token:" + string(n) + ":" + addr }
func poolKey(n domain.Network, addr string) string  { return "pool:" + string(n) + ":" + addr }

func pairIdxKey(n domain.Network, a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "pair:" + string(n) + ":" + a + ":" + b
}

// tokenRecord is the wire form of TokenInfo; big integers are not involved so
// the domain struct round-trips directly.
type poolRecord struct {
	Network   domain.Network      `json:"network"`
	Address   string              `json:"address"`
	Token0    string              `json:"token0"`
	Token1    string              `json:"token1"`
	Reserve0  string              `json:"reserve0"`
	Reserve1  string              `json:"reserve1"`
	FeeBps    uint32              `json:"fee_bps"`
	Family    domain.RouterFamily `json:"family"`
	FetchedAt time.Time           `json:"fetched_at"`
}

func toPoolRecord(p domain.PoolInfo) poolRecord {
	return poolRecord{
		Network:   p.Network,
		Address:   p.Address,
		Token0:    p.Token0,
		Token1:    p.Token1,
		Reserve0:  p.Reserve0.String(),
		Reserve1:  p.Reserve1.String(),
		FeeBps:    p.FeeBps,
		Family:    p.Family,
		FetchedAt: p.FetchedAt,
	}
}

func (r poolRecord) toDomain() (domain.PoolInfo, error) {
	r0, ok := new(big.Int).SetString(r.Reserve0, 10)
	if !ok {
		return domain.PoolInfo{}, fmt.Errorf("redis: bad reserve0 %q", r.Reserve0)
	}
	r1, ok := new(big.Int).SetString(r.Reserve1, 10)
	if !ok {
		return domain.PoolInfo{}, fmt.Errorf("redis: bad reserve1 %q", r.Reserve1)
	}
	return domain.PoolInfo{
		Network:   r.Network,
		Address:   r.Address,
		Token0:    r.Token0,
		Token1:    r.Token1,
		Reserve0:  r0,
		Reserve1:  r1,
		FeeBps:    r.FeeBps,
		Family:    r.Family,
		FetchedAt: r.FetchedAt,
	}, nil
}

// Token reads through Redis to the upstream source.
func (m *MetadataCache) Token(ctx context.Context, network domain.Network, address string) (domain.TokenInfo, error) {
	k := tokenKey(network, address)
	data, err := m.rdb.Get(ctx, k).Bytes()
	if err == nil {
		var info domain.TokenInfo
		if uerr := json.Unmarshal(data, &info); uerr == nil {
			return info, nil
		}
		// Corrupt entry: fall through to a fresh fetch that overwrites it.
	} else if !errors.Is(err, redis.Nil) {
		return domain.TokenInfo{}, fmt.Errorf("redis: get token %s: %w", k, err)
	}

	info, err := m.upstream.Token(ctx, network, address)
	if err != nil {
		return domain.TokenInfo{}, err
	}
	if data, merr := json.Marshal(info); merr == nil {
		_ = m.rdb.Set(ctx, k, data, m.ttl).Err()
	}
	return info, nil
}

// Pool reads through Redis to the upstream source and maintains the pair
// index.
func (m *MetadataCache) Pool(ctx context.Context, network domain.Network, address string) (domain.PoolInfo, error) {
	k := poolKey(network, address)
	data, err := m.rdb.Get(ctx, k).Bytes()
	if err == nil {
		var rec poolRecord
		if uerr := json.Unmarshal(data, &rec); uerr == nil {
			if info, derr := rec.toDomain(); derr == nil {
				return info, nil
			}
		}
	} else if !errors.Is(err, redis.Nil) {
		return domain.PoolInfo{}, fmt.Errorf("redis: get pool %s: %w", k, err)
	}

	info, err := m.upstream.Pool(ctx, network, address)
	if err != nil {
		return domain.PoolInfo{}, err
	}
	m.storePool(ctx, info)
	return info, nil
}

// PoolByPair resolves a pair through the index key, deferring to upstream on
// a miss.
func (m *MetadataCache) PoolByPair(ctx context.Context, network domain.Network, tokenA, tokenB string) (domain.PoolInfo, error) {
	idx := pairIdxKey(network, tokenA, tokenB)
	addr, err := m.rdb.Get(ctx, idx).Result()
	if err == nil && addr != "" {
		return m.Pool(ctx, network, addr)
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		return domain.PoolInfo{}, fmt.Errorf("redis: get pair %s: %w", idx, err)
	}

	info, err := m.upstream.PoolByPair(ctx, network, tokenA, tokenB)
	if err != nil {
		return domain.PoolInfo{}, err
	}
	m.storePool(ctx, info)
	return info, nil
}

// Invalidate deletes the token, pool, and pair-index keys for (network,
// address) and forwards the invalidation upstream. The pair index is resolved
// from the stored pool record before deletion.
func (m *MetadataCache) Invalidate(ctx context.Context, network domain.Network, address string) {
	keys := []string{tokenKey(network, address), poolKey(network, address)}
	if data, err := m.rdb.Get(ctx, poolKey(network, address)).Bytes(); err == nil {
		var rec poolRecord
		if json.Unmarshal(data, &rec) == nil && rec.Token0 != "" {
			keys = append(keys, pairIdxKey(network, rec.Token0, rec.Token1))
		}
	}
	_ = m.rdb.Del(ctx, keys...).Err()
	if inv, ok := m.upstream.(domain.MetadataInvalidator); ok {
		inv.Invalidate(ctx, network, address)
	}
}

func (m *MetadataCache) storePool(ctx context.Context, info domain.PoolInfo) {
	data, err := json.Marshal(toPoolRecord(info))
	if err != nil {
		return
	}
	pipe := m.rdb.TxPipeline()
	pipe.Set(ctx, poolKey(info.Network, info.Address), data, m.ttl)
	pipe.Set(ctx, pairIdxKey(info.Network, info.Token0, info.Token1), info.Address, m.ttl)
	_, _ = pipe.Exec(ctx)
}

var _ domain.MetadataSource = (*MetadataCache)(nil)
var _ domain.MetadataInvalidator = (*MetadataCache)(nil)
