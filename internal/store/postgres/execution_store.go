package postgres

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/mevduct/sandwichd/internal/domain"
)

// ExecutionStore persists terminal execution results and reconstructs the
// running aggregate after a restart.
type ExecutionStore struct {
	client *Client
}

// NewExecutionStore creates the store over a connected client.
func NewExecutionStore(client *Client) *ExecutionStore {
	return &ExecutionStore{client: client}
}

// Insert records one terminal execution.
func (s *ExecutionStore) Insert(ctx context.Context, res domain.ExecutionResult) error {
	_, err := s.client.pool.Exec(ctx, `
		INSERT INTO executions (
			id, opportunity_id, network, state, bundle_id, front_run_hash,
			victim_hash, back_run_hash, simulated_profit, realized_profit,
			realized_gas, reason, attempts, validate_ms, simulate_ms,
			submit_ms, monitor_ms, started_at, completed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			realized_profit = EXCLUDED.realized_profit,
			realized_gas = EXCLUDED.realized_gas,
			reason = EXCLUDED.reason,
			attempts = EXCLUDED.attempts,
			completed_at = EXCLUDED.completed_at`,
		res.ID, res.OpportunityID, string(res.Network), string(res.State),
		res.BundleID, res.FrontRunHash, res.VictimHash, res.BackRunHash,
		numeric(res.SimulatedProfit), numeric(res.RealizedProfit),
		numeric(res.RealizedGas), res.Reason, res.Attempts,
		res.Timing.ValidateMs, res.Timing.SimulateMs, res.Timing.SubmitMs,
		res.Timing.MonitorMs, res.StartedAt, res.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert execution %s: %w", res.ID, err)
	}
	return nil
}

// LoadStats rebuilds the aggregate from the executions table.
func (s *ExecutionStore) LoadStats(ctx context.Context) (domain.ExecutionStats, error) {
	var (
		stats       domain.ExecutionStats
		totalProfit string
		totalGas    string
		lastAt      *time.Time
	)
	err := s.client.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE state = 'succeeded'),
			COUNT(*) FILTER (WHERE state = 'failed'),
			COUNT(*) FILTER (WHERE state = 'timed_out'),
			COUNT(*) FILTER (WHERE state = 'cancelled'),
			COUNT(*) FILTER (WHERE state = 'rejected'),
			COALESCE(SUM(realized_profit) FILTER (WHERE state = 'succeeded'), 0)::TEXT,
			COALESCE(SUM(realized_gas), 0)::TEXT,
			MAX(completed_at)
		FROM executions`).Scan(
		&stats.TotalExecutions,
		&stats.SuccessfulExecutions,
		&stats.FailedExecutions,
		&stats.TimedOutExecutions,
		&stats.CancelledExecutions,
		&stats.RejectedExecutions,
		&totalProfit,
		&totalGas,
		&lastAt,
	)
	if err != nil {
		return domain.ExecutionStats{}, fmt.Errorf("postgres: load stats: %w", err)
	}

	stats.TotalProfit = parseNumeric(totalProfit)
	stats.TotalGasSpent = parseNumeric(totalGas)
	stats.AverageProfit = new(big.Int)
	if stats.SuccessfulExecutions > 0 {
		stats.AverageProfit.Div(stats.TotalProfit, big.NewInt(stats.SuccessfulExecutions))
	}
	if stats.TotalExecutions > 0 {
		stats.SuccessRate = float64(stats.SuccessfulExecutions) / float64(stats.TotalExecutions)
	}
	if stats.TotalGasSpent.Sign() > 0 {
		profit, _ := new(big.Float).SetInt(stats.TotalProfit).Float64()
		gas, _ := new(big.Float).SetInt(stats.TotalGasSpent).Float64()
		stats.GasEfficiency = profit / gas
	}
	if lastAt != nil {
		stats.LastExecutedAt = *lastAt
	}
	return stats, nil
}

func parseNumeric(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}
