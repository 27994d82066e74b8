package metadata

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mevduct/sandwichd/internal/domain"
)

type countingSource struct {
	mu         sync.Mutex
	tokenCalls atomic.Int64
	poolCalls  atomic.Int64
	pairCalls  atomic.Int64

	token       domain.TokenInfo
	pool        domain.PoolInfo
	err         error
	invalidated []string

	release chan struct{} // when set, fetches block until closed
}

func (s *countingSource) Token(context.Context, domain.Network, string) (domain.TokenInfo, error) {
	s.tokenCalls.Add(1)
	if s.release != nil {
		<-s.release
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.err
}

func (s *countingSource) Pool(context.Context, domain.Network, string) (domain.PoolInfo, error) {
	s.poolCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool, s.err
}

func (s *countingSource) PoolByPair(context.Context, domain.Network, string, string) (domain.PoolInfo, error) {
	s.pairCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool, s.err
}

func (s *countingSource) Invalidate(_ context.Context, _ domain.Network, address string) {
	s.mu.Lock()
	s.invalidated = append(s.invalidated, address)
	s.mu.Unlock()
}

func (s *countingSource) setPool(p domain.PoolInfo) {
	s.mu.Lock()
	s.pool = p
	s.mu.Unlock()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPoolInfo(reserve int64) domain.PoolInfo {
	return domain.PoolInfo{
		Network:  domain.NetworkEthereum,
		Address:  "0xpool",
		Token0:   "0xaaa",
		Token1:   "0xbbb",
		Reserve0: big.NewInt(reserve),
		Reserve1: big.NewInt(reserve),
		FeeBps:   30,
	}
}

func TestTokenCachedUntilTTL(t *testing.T) {
	src := &countingSource{token: domain.TokenInfo{Address: "0xaaa", Symbol: "AAA"}}
	c := NewCache(src, 30*time.Second, discardLogger())

	clock := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		info, err := c.Token(context.Background(), domain.NetworkEthereum, "0xaaa")
		require.NoError(t, err)
		require.Equal(t, "AAA", info.Symbol)
	}
	require.Equal(t, int64(1), src.tokenCalls.Load())

	// Past the TTL the next read refetches.
	clock = clock.Add(31 * time.Second)
	_, err := c.Token(context.Background(), domain.NetworkEthereum, "0xaaa")
	require.NoError(t, err)
	require.Equal(t, int64(2), src.tokenCalls.Load())
}

func TestTokenMissesCollapse(t *testing.T) {
	src := &countingSource{
		token:   domain.TokenInfo{Address: "0xaaa"},
		release: make(chan struct{}),
	}
	c := NewCache(src, 30*time.Second, discardLogger())

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Token(context.Background(), domain.NetworkEthereum, "0xaaa")
			errs <- err
		}()
	}

	require.Eventually(t, func() bool { return src.tokenCalls.Load() == 1 },
		time.Second, time.Millisecond)
	close(src.release)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int64(1), src.tokenCalls.Load())
}

func TestTokenErrorNotCached(t *testing.T) {
	src := &countingSource{err: domain.ErrNotFound}
	c := NewCache(src, 30*time.Second, discardLogger())

	_, err := c.Token(context.Background(), domain.NetworkEthereum, "0xaaa")
	require.ErrorIs(t, err, domain.ErrNotFound)

	src.mu.Lock()
	src.err = nil
	src.token = domain.TokenInfo{Address: "0xaaa"}
	src.mu.Unlock()

	_, err = c.Token(context.Background(), domain.NetworkEthereum, "0xaaa")
	require.NoError(t, err)
	require.Equal(t, int64(2), src.tokenCalls.Load())
}

func TestPoolByPairPopulatesPairIndex(t *testing.T) {
	src := &countingSource{pool: testPoolInfo(1_000_000)}
	c := NewCache(src, 30*time.Second, discardLogger())

	p, err := c.PoolByPair(context.Background(), domain.NetworkEthereum, "0xaaa", "0xbbb")
	require.NoError(t, err)
	require.Equal(t, "0xpool", p.Address)
	require.Equal(t, int64(1), src.pairCalls.Load())

	// Token order does not matter, and the pool entry itself is now cached.
	p, err = c.PoolByPair(context.Background(), domain.NetworkEthereum, "0xbbb", "0xaaa")
	require.NoError(t, err)
	require.Equal(t, "0xpool", p.Address)
	require.Equal(t, int64(1), src.pairCalls.Load())
	require.Zero(t, src.poolCalls.Load())

	_, err = c.Pool(context.Background(), domain.NetworkEthereum, "0xpool")
	require.NoError(t, err)
	require.Zero(t, src.poolCalls.Load())
}

func TestInvalidateForcesRefetch(t *testing.T) {
	src := &countingSource{pool: testPoolInfo(1_000_000)}
	c := NewCache(src, time.Hour, discardLogger())

	p, err := c.Pool(context.Background(), domain.NetworkEthereum, "0xpool")
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000), p.Reserve0.Int64())
	require.Equal(t, int64(1), src.poolCalls.Load())

	// Reserves move on-chain; the cached copy is stale until invalidated.
	src.setPool(testPoolInfo(500_000))
	p, err = c.Pool(context.Background(), domain.NetworkEthereum, "0xpool")
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000), p.Reserve0.Int64())

	c.Invalidate(context.Background(), domain.NetworkEthereum, "0xpool")
	p, err = c.Pool(context.Background(), domain.NetworkEthereum, "0xpool")
	require.NoError(t, err)
	require.Equal(t, int64(500_000), p.Reserve0.Int64())
	require.Equal(t, int64(2), src.poolCalls.Load())
}

func TestInvalidatePropagatesUpstream(t *testing.T) {
	src := &countingSource{pool: testPoolInfo(1_000_000)}
	c := NewCache(src, time.Hour, discardLogger())

	_, err := c.Pool(context.Background(), domain.NetworkEthereum, "0xpool")
	require.NoError(t, err)

	// Dropping only the in-process entry would leave the next tier serving
	// the stale copy, so the source must see the invalidation too.
	c.Invalidate(context.Background(), domain.NetworkEthereum, "0xpool")

	src.mu.Lock()
	defer src.mu.Unlock()
	require.Equal(t, []string{"0xpool"}, src.invalidated)
}

func TestEntriesAreNetworkScoped(t *testing.T) {
	src := &countingSource{token: domain.TokenInfo{Address: "0xaaa"}}
	c := NewCache(src, time.Hour, discardLogger())

	_, err := c.Token(context.Background(), domain.NetworkEthereum, "0xaaa")
	require.NoError(t, err)
	_, err = c.Token(context.Background(), domain.NetworkBSC, "0xaaa")
	require.NoError(t, err)
	require.Equal(t, int64(2), src.tokenCalls.Load())
}
