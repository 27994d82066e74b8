package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"time"

	"github.com/mevduct/sandwichd/internal/domain"
	"github.com/mevduct/sandwichd/internal/orchestrator"
)

// Signal bus channels consumed by out-of-process tooling.
const (
	ChannelOpportunities = "sandwich:opportunities"
	ChannelExecutions    = "sandwich:executions"
)

// opportunitySignal is the wire form of an emitted opportunity. Amounts are
// decimal strings; nothing here ever loses precision to a float.
type opportunitySignal struct {
	ID              string    `json:"id"`
	Network         string    `json:"network"`
	Family          string    `json:"family"`
	VictimTxHash    string    `json:"victimTxHash"`
	TokenIn         string    `json:"tokenIn"`
	TokenOut        string    `json:"tokenOut"`
	PoolAddress     string    `json:"poolAddress"`
	FrontRunIn      string    `json:"frontRunAmountIn"`
	EstimatedProfit string    `json:"estimatedProfit"`
	Profitability   float64   `json:"profitability"`
	Confidence      float64   `json:"confidence"`
	MEVScore        float64   `json:"mevScore"`
	DetectedAt      time.Time `json:"detectedAt"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

// executionSignal is the wire form of an execution event.
type executionSignal struct {
	Event           string     `json:"event"`
	ID              string     `json:"id"`
	OpportunityID   string     `json:"opportunityId"`
	Network         string     `json:"network"`
	State           string     `json:"state"`
	BundleID        string     `json:"bundleId,omitempty"`
	SimulatedProfit string     `json:"simulatedProfit,omitempty"`
	RealizedProfit  string     `json:"realizedProfit,omitempty"`
	Reason          string     `json:"reason,omitempty"`
	Attempts        int        `json:"attempts"`
	At              time.Time  `json:"at"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
}

func publishOpportunity(ctx context.Context, bus domain.SignalBus, opp *domain.SandwichOpportunity, logger *slog.Logger) {
	payload, err := json.Marshal(opportunitySignal{
		ID:              opp.ID,
		Network:         string(opp.Network),
		Family:          string(opp.Family),
		VictimTxHash:    opp.VictimTxHash,
		TokenIn:         opp.TokenIn,
		TokenOut:        opp.TokenOut,
		PoolAddress:     opp.PoolAddress,
		FrontRunIn:      bigString(opp.FrontRunAmountIn),
		EstimatedProfit: bigString(opp.EstimatedProfit),
		Profitability:   opp.Profitability,
		Confidence:      opp.Confidence,
		MEVScore:        opp.MEVScore,
		DetectedAt:      opp.DetectedAt,
		ExpiresAt:       opp.ExpiresAt,
	})
	if err != nil {
		return
	}
	if err := bus.Publish(ctx, ChannelOpportunities, payload); err != nil {
		logger.Warn("publish opportunity failed",
			slog.String("opportunity", opp.ID), slog.String("error", err.Error()))
	}
}

func publishExecution(ctx context.Context, bus domain.SignalBus, ev orchestrator.Event, logger *slog.Logger) {
	res := ev.Result
	payload, err := json.Marshal(executionSignal{
		Event:           string(ev.Type),
		ID:              res.ID,
		OpportunityID:   res.OpportunityID,
		Network:         string(res.Network),
		State:           string(res.State),
		BundleID:        res.BundleID,
		SimulatedProfit: bigString(res.SimulatedProfit),
		RealizedProfit:  bigString(res.RealizedProfit),
		Reason:          res.Reason,
		Attempts:        res.Attempts,
		At:              ev.At,
		CompletedAt:     res.CompletedAt,
	})
	if err != nil {
		return
	}
	if err := bus.Publish(ctx, ChannelExecutions, payload); err != nil {
		logger.Warn("publish execution failed",
			slog.String("execution", res.ID), slog.String("error", err.Error()))
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}
