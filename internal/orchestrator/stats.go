package orchestrator

import (
	"math/big"
	"sync"
	"time"

	"github.com/mevduct/sandwichd/internal/domain"
)

// statsTracker maintains the running execution aggregate. Every terminal
// execution counts toward the total; only succeeded and failed count toward
// their dedicated counters, so the success rate reflects decided attempts in
// proportion to all attempts.
type statsTracker struct {
	mu    sync.Mutex
	stats domain.ExecutionStats
}

func newStatsTracker() *statsTracker {
	return &statsTracker{stats: emptyStats()}
}

func emptyStats() domain.ExecutionStats {
	return domain.ExecutionStats{
		TotalProfit:   new(big.Int),
		AverageProfit: new(big.Int),
		TotalGasSpent: new(big.Int),
	}
}

// seed replaces the aggregate with one reconstructed from persistent storage.
func (t *statsTracker) seed(s domain.ExecutionStats) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s.TotalProfit == nil {
		s.TotalProfit = new(big.Int)
	}
	if s.AverageProfit == nil {
		s.AverageProfit = new(big.Int)
	}
	if s.TotalGasSpent == nil {
		s.TotalGasSpent = new(big.Int)
	}
	t.stats = s
}

// record folds one terminal execution into the aggregate.
func (t *statsTracker) record(res *domain.ExecutionResult, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := &t.stats
	s.TotalExecutions++
	switch res.State {
	case domain.ExecStateSucceeded:
		s.SuccessfulExecutions++
		if res.RealizedProfit != nil {
			s.TotalProfit.Add(s.TotalProfit, res.RealizedProfit)
		}
	case domain.ExecStateFailed:
		s.FailedExecutions++
	case domain.ExecStateTimedOut:
		s.TimedOutExecutions++
	case domain.ExecStateCancelled:
		s.CancelledExecutions++
	case domain.ExecStateRejected:
		s.RejectedExecutions++
	}
	if res.RealizedGas != nil {
		s.TotalGasSpent.Add(s.TotalGasSpent, res.RealizedGas)
	}

	s.SuccessRate = float64(s.SuccessfulExecutions) / float64(s.TotalExecutions)
	if s.SuccessfulExecutions > 0 {
		s.AverageProfit = new(big.Int).Div(s.TotalProfit, big.NewInt(s.SuccessfulExecutions))
	}
	if s.TotalGasSpent.Sign() > 0 {
		profit, _ := new(big.Float).SetInt(s.TotalProfit).Float64()
		gas, _ := new(big.Float).SetInt(s.TotalGasSpent).Float64()
		s.GasEfficiency = profit / gas
	}
	s.LastExecutedAt = at
}

// snapshot returns a deep copy of the aggregate.
func (t *statsTracker) snapshot() domain.ExecutionStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := t.stats
	cp.TotalProfit = new(big.Int).Set(t.stats.TotalProfit)
	cp.AverageProfit = new(big.Int).Set(t.stats.AverageProfit)
	cp.TotalGasSpent = new(big.Int).Set(t.stats.TotalGasSpent)
	return cp
}
