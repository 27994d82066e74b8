package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mevduct/sandwichd/internal/domain"
)

type recordingSender struct {
	mu       sync.Mutex
	name     string
	messages []string
	err      error
}

func (s *recordingSender) Name() string { return s.name }

func (s *recordingSender) Send(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, text)
	return s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpportunityFoundFansOut(t *testing.T) {
	a := &recordingSender{name: "a"}
	b := &recordingSender{name: "b"}
	n := New(Config{}, discardLogger(), a, b)

	n.OpportunityFound(context.Background(), &domain.SandwichOpportunity{
		ID:              "0123456789abcdef",
		Network:         domain.NetworkEthereum,
		VictimTxHash:    "0xvictim",
		EstimatedProfit: big.NewInt(41),
		Profitability:   1.37,
		MEVScore:        22.5,
	})

	require.Len(t, a.messages, 1)
	require.Len(t, b.messages, 1)
	require.Contains(t, a.messages[0], "01234567")
	require.Contains(t, a.messages[0], "ethereum")
	require.Contains(t, a.messages[0], "41")
	require.NotContains(t, a.messages[0], "0123456789abcdef")
}

func TestEventFilter(t *testing.T) {
	s := &recordingSender{name: "s"}
	n := New(Config{Events: []string{EventExecutionCompleted}}, discardLogger(), s)

	n.OpportunityFound(context.Background(), &domain.SandwichOpportunity{ID: "x"})
	require.Empty(t, s.messages)

	n.ExecutionFinished(context.Background(), domain.ExecutionResult{
		ID:    "exec-1",
		State: domain.ExecStateSucceeded,
	})
	require.Len(t, s.messages, 1)

	n.ExecutionFinished(context.Background(), domain.ExecutionResult{
		ID:    "exec-2",
		State: domain.ExecStateFailed,
	})
	require.Len(t, s.messages, 1)
}

func TestExecutionFinishedRoutesByOutcome(t *testing.T) {
	s := &recordingSender{name: "s"}
	n := New(Config{}, discardLogger(), s)

	n.ExecutionFinished(context.Background(), domain.ExecutionResult{
		ID:             "exec-1",
		State:          domain.ExecStateSucceeded,
		Network:        domain.NetworkBSC,
		Attempts:       2,
		RealizedProfit: big.NewInt(99),
	})
	require.Contains(t, s.messages[0], "succeeded")
	require.Contains(t, s.messages[0], "profit: 99")

	n.ExecutionFinished(context.Background(), domain.ExecutionResult{
		ID:     "exec-2",
		State:  domain.ExecStateTimedOut,
		Reason: "monitoring window elapsed",
	})
	require.Contains(t, s.messages[1], "timed_out")
	require.Contains(t, s.messages[1], "monitoring window elapsed")
}

func TestSendFailuresDoNotPropagate(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("http 500")}
	good := &recordingSender{name: "good"}
	n := New(Config{}, discardLogger(), bad, good)

	n.ExecutionFinished(context.Background(), domain.ExecutionResult{
		ID:    "exec-1",
		State: domain.ExecStateSucceeded,
	})
	require.Len(t, bad.messages, 1)
	require.Len(t, good.messages, 1)
}

func TestNoSendersIsNoOp(t *testing.T) {
	n := New(Config{}, discardLogger())
	n.OpportunityFound(context.Background(), &domain.SandwichOpportunity{ID: "x"})
	n.ExecutionFinished(context.Background(), domain.ExecutionResult{State: domain.ExecStateSucceeded})
}
