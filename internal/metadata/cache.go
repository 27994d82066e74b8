// Package metadata implements the token/pool metadata cache: a read-through
// layer over a MetadataSource with per-entry TTL and single-writer refresh.
// Readers never block each other; a stale read bounded by the TTL is an
// accepted tradeoff.
package metadata

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mevduct/sandwichd/internal/domain"
)

type tokenEntry struct {
	info      domain.TokenInfo
	expiresAt time.Time
}

type poolEntry struct {
	info      domain.PoolInfo
	expiresAt time.Time
}

// Cache is a concurrent read-through cache over an upstream MetadataSource.
// Entries are replaced atomically under a lock whose scope never exceeds one
// map operation; concurrent misses for the same key collapse into a single
// upstream fetch via singleflight.
type Cache struct {
	upstream domain.MetadataSource
	ttl      time.Duration
	logger   *slog.Logger

	mu     sync.RWMutex
	tokens map[string]tokenEntry
	pools  map[string]poolEntry
	pairs  map[string]string // pair key -> pool address

	group singleflight.Group
	now   func() time.Time
}

// NewCache creates a Cache over upstream with the given TTL.
func NewCache(upstream domain.MetadataSource, ttl time.Duration, logger *slog.Logger) *Cache {
	return &Cache{
		upstream: upstream,
		ttl:      ttl,
		logger:   logger.With(slog.String("component", "metadata_cache")),
		tokens:   make(map[string]tokenEntry),
		pools:    make(map[string]poolEntry),
		pairs:    make(map[string]string),
		now:      time.Now,
	}
}

func key(network domain.Network, address string) string {
	return string(network) + ":" + address
}

func pairKey(network domain.Network, a, b string) string {
	if b < a {
		a, b = b, a
	}
	return string(network) + ":" + a + ":" + b
}

// Token returns the cached token snapshot, fetching from upstream on a miss
// or an expired entry.
func (c *Cache) Token(ctx context.Context, network domain.Network, address string) (domain.TokenInfo, error) {
	k := key(network, address)

	c.mu.RLock()
	e, ok := c.tokens[k]
	c.mu.RUnlock()
	if ok && c.now().Before(e.expiresAt) {
		return e.info, nil
	}

	v, err, _ := c.group.Do("token:"+k, func() (any, error) {
		info, err := c.upstream.Token(ctx, network, address)
		if err != nil {
			return domain.TokenInfo{}, err
		}
		c.mu.Lock()
		c.tokens[k] = tokenEntry{info: info, expiresAt: c.now().Add(c.ttl)}
		c.mu.Unlock()
		return info, nil
	})
	if err != nil {
		return domain.TokenInfo{}, fmt.Errorf("metadata: token %s: %w", k, err)
	}
	return v.(domain.TokenInfo), nil
}

// Pool returns the cached pool snapshot, fetching from upstream on a miss or
// an expired entry.
func (c *Cache) Pool(ctx context.Context, network domain.Network, address string) (domain.PoolInfo, error) {
	k := key(network, address)

	c.mu.RLock()
	e, ok := c.pools[k]
	c.mu.RUnlock()
	if ok && c.now().Before(e.expiresAt) {
		return e.info, nil
	}

	v, err, _ := c.group.Do("pool:"+k, func() (any, error) {
		info, err := c.upstream.Pool(ctx, network, address)
		if err != nil {
			return domain.PoolInfo{}, err
		}
		c.storePool(info)
		return info, nil
	})
	if err != nil {
		return domain.PoolInfo{}, fmt.Errorf("metadata: pool %s: %w", k, err)
	}
	return v.(domain.PoolInfo), nil
}

// PoolByPair resolves the pool for a token pair, using the pair index when a
// previous lookup populated it and deferring to upstream otherwise.
func (c *Cache) PoolByPair(ctx context.Context, network domain.Network, tokenA, tokenB string) (domain.PoolInfo, error) {
	pk := pairKey(network, tokenA, tokenB)

	c.mu.RLock()
	addr, ok := c.pairs[pk]
	c.mu.RUnlock()
	if ok {
		return c.Pool(ctx, network, addr)
	}

	v, err, _ := c.group.Do("pair:"+pk, func() (any, error) {
		info, err := c.upstream.PoolByPair(ctx, network, tokenA, tokenB)
		if err != nil {
			return domain.PoolInfo{}, err
		}
		c.storePool(info)
		return info, nil
	})
	if err != nil {
		return domain.PoolInfo{}, fmt.Errorf("metadata: pool for pair %s: %w", pk, err)
	}
	return v.(domain.PoolInfo), nil
}

func (c *Cache) storePool(info domain.PoolInfo) {
	k := key(info.Network, info.Address)
	c.mu.Lock()
	c.pools[k] = poolEntry{info: info, expiresAt: c.now().Add(c.ttl)}
	c.pairs[pairKey(info.Network, info.Token0, info.Token1)] = info.Address
	c.mu.Unlock()
}

// Invalidate drops the entry for (network, address) from both tables and
// forwards the invalidation to the upstream when it caches too, so the next
// read fetches genuinely fresh state. Used by the orchestrator before its
// pre-submission re-simulation.
func (c *Cache) Invalidate(ctx context.Context, network domain.Network, address string) {
	k := key(network, address)
	c.mu.Lock()
	delete(c.tokens, k)
	delete(c.pools, k)
	c.mu.Unlock()
	if inv, ok := c.upstream.(domain.MetadataInvalidator); ok {
		inv.Invalidate(ctx, network, address)
	}
}

var _ domain.MetadataSource = (*Cache)(nil)
var _ domain.MetadataInvalidator = (*Cache)(nil)
