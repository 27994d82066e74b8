package mempool

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mevduct/sandwichd/internal/domain"
)

// stubFeed emits a fixed candidate list and then waits for shutdown.
type stubFeed struct {
	network domain.Network
	emit    []*domain.CandidateSwap
	err     error
	closed  chan struct{}
	out     chan *domain.CandidateSwap
	logger  *slog.Logger
}

func newStubFeed(network domain.Network, out chan *domain.CandidateSwap, emit ...*domain.CandidateSwap) *stubFeed {
	return &stubFeed{
		network: network,
		emit:    emit,
		closed:  make(chan struct{}),
		out:     out,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func (f *stubFeed) Run(ctx context.Context) error {
	for _, c := range f.emit {
		forward(ctx, f.out, c, f.logger)
	}
	if f.err != nil {
		return f.err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.closed:
		return nil
	}
}

func (f *stubFeed) Close() {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
}

func (f *stubFeed) Network() domain.Network { return f.network }

func candidate(network domain.Network, hash string) *domain.CandidateSwap {
	return &domain.CandidateSwap{Network: network, TxHash: hash}
}

func TestManagerMergesFeeds(t *testing.T) {
	out := NewMergeChannel()
	eth := newStubFeed(domain.NetworkEthereum, out,
		candidate(domain.NetworkEthereum, "0x1"),
		candidate(domain.NetworkEthereum, "0x2"))
	sol := newStubFeed(domain.NetworkSolana, out,
		candidate(domain.NetworkSolana, "sig1"))
	m := NewManager([]Feed{eth, sol}, out, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Equal(t, 2, m.Size())

	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background()) }()

	seen := map[string]domain.Network{}
	for len(seen) < 3 {
		select {
		case c := <-m.Candidates():
			seen[c.TxHash] = c.Network
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for merged candidates")
		}
	}
	require.Equal(t, domain.NetworkEthereum, seen["0x1"])
	require.Equal(t, domain.NetworkSolana, seen["sig1"])

	m.Close()
	require.NoError(t, <-done)

	// The merged channel closes once every feed has stopped.
	_, open := <-m.Candidates()
	require.False(t, open)
}

func TestManagerFirstErrorStopsAll(t *testing.T) {
	out := NewMergeChannel()
	bad := newStubFeed(domain.NetworkEthereum, out)
	bad.err = errors.New("subscription dropped")
	slow := newStubFeed(domain.NetworkBSC, out)
	m := NewManager([]Feed{bad, slow}, out, slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := m.Run(context.Background())
	require.ErrorContains(t, err, "subscription dropped")
}

func TestForwardDropsWhenBacklogged(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	out := make(chan *domain.CandidateSwap, 1)

	forward(context.Background(), out, candidate(domain.NetworkEthereum, "0x1"), logger)
	forward(context.Background(), out, candidate(domain.NetworkEthereum, "0x2"), logger)

	require.Len(t, out, 1)
	require.Equal(t, "0x1", (<-out).TxHash)

	// A cancelled context never blocks even with room in the channel.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	forward(ctx, out, candidate(domain.NetworkEthereum, "0x3"), logger)
}
