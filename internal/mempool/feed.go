// Package mempool implements the per-network live pending-transaction feeds.
// Each feed owns one websocket subscription, decodes every observed payload,
// and forwards recognized CandidateSwaps to a shared channel. Feeds are
// independently startable and stoppable; the Manager runs any number of them
// under one errgroup.
package mempool

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/mevduct/sandwichd/internal/domain"
)

// Feed is one long-lived network subscription.
type Feed interface {
	// Run connects and processes messages until ctx is cancelled or Close is
	// called, reconnecting with backoff on transient disconnects.
	Run(ctx context.Context) error
	// Close stops the feed permanently.
	Close()
	// Network identifies the ledger this feed observes.
	Network() domain.Network
}

// Manager runs a set of feeds and exposes the merged candidate stream.
type Manager struct {
	feeds  []Feed
	out    chan *domain.CandidateSwap
	logger *slog.Logger
}

// NewMergeChannel creates the buffered channel shared between the feeds and
// the Manager.
func NewMergeChannel() chan *domain.CandidateSwap {
	return make(chan *domain.CandidateSwap, 256)
}

// NewManager creates a Manager over the given feeds. out must be the same
// channel the feeds were constructed with.
func NewManager(feeds []Feed, out chan *domain.CandidateSwap, logger *slog.Logger) *Manager {
	return &Manager{
		feeds:  feeds,
		out:    out,
		logger: logger.With(slog.String("component", "mempool_manager")),
	}
}

// Size returns the number of managed feeds.
func (m *Manager) Size() int {
	return len(m.feeds)
}

// Candidates returns the merged stream of decoded pending swaps. The channel
// is closed when Run returns.
func (m *Manager) Candidates() <-chan *domain.CandidateSwap {
	return m.out
}

// Run starts every feed and blocks until all have stopped. The first feed
// error cancels the rest.
func (m *Manager) Run(ctx context.Context) error {
	defer close(m.out)

	g, ctx := errgroup.WithContext(ctx)
	for _, f := range m.feeds {
		g.Go(func() error {
			m.logger.Info("feed starting", slog.String("network", string(f.Network())))
			defer m.logger.Info("feed stopped", slog.String("network", string(f.Network())))
			return f.Run(ctx)
		})
	}
	return g.Wait()
}

// Close stops every feed.
func (m *Manager) Close() {
	for _, f := range m.feeds {
		f.Close()
	}
}

// forward pushes a candidate to the merge channel, dropping it if the
// consumer has fallen behind. A dropped candidate is only a missed
// opportunity, never an error.
func forward(ctx context.Context, out chan<- *domain.CandidateSwap, cand *domain.CandidateSwap, logger *slog.Logger) {
	select {
	case out <- cand:
	case <-ctx.Done():
	default:
		logger.Warn("candidate dropped, consumer backlogged",
			slog.String("tx", cand.TxHash),
			slog.String("network", string(cand.Network)),
		)
	}
}
