package postgres

import (
	"context"
	"fmt"
	"math/big"

	"github.com/mevduct/sandwichd/internal/domain"
)

// OpportunityStore persists emitted opportunities.
type OpportunityStore struct {
	client *Client
}

// NewOpportunityStore creates the store over a connected client.
func NewOpportunityStore(client *Client) *OpportunityStore {
	return &OpportunityStore{client: client}
}

// Insert records one opportunity. Amounts are stored as NUMERIC through their
// decimal string form, never as floats.
func (s *OpportunityStore) Insert(ctx context.Context, opp domain.SandwichOpportunity) error {
	_, err := s.client.pool.Exec(ctx, `
		INSERT INTO opportunities (
			id, network, family, victim_tx_hash, token_in, token_out,
			pool_address, front_run_amount_in, estimated_profit,
			estimated_gas_cost, profitability, confidence, slippage_bps,
			mev_score, detected_at, expires_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (id) DO NOTHING`,
		opp.ID, string(opp.Network), string(opp.Family), opp.VictimTxHash,
		opp.TokenIn, opp.TokenOut, opp.PoolAddress,
		numeric(opp.FrontRunAmountIn), numeric(opp.EstimatedProfit),
		numeric(opp.EstimatedGasCost), opp.Profitability, opp.Confidence,
		opp.SlippageBps, opp.MEVScore, opp.DetectedAt, opp.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert opportunity %s: %w", opp.ID, err)
	}
	return nil
}

// numeric converts a big integer for a NUMERIC column; nil maps to SQL NULL.
func numeric(v *big.Int) any {
	if v == nil {
		return nil
	}
	return v.String()
}
