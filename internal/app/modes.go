package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/mevduct/sandwichd/internal/domain"
)

// evalConcurrency bounds concurrent evaluations. Evaluations are mostly
// cache hits, so this only matters during cold starts and bursts.
const evalConcurrency = 64

// consume drains the merged candidate stream and dispatches each candidate on
// its own goroutine. What happens after an opportunity emerges depends on the
// configured mode:
//
//	monitor  - observe and record only, nothing is ever simulated or sent
//	simulate - run the full pipeline up to a fresh simulation, never submit
//	execute  - run the full pipeline including submission and monitoring
func (a *App) consume(ctx context.Context) error {
	mode := strings.ToLower(a.deps.Config.Mode)
	sem := semaphore.NewWeighted(evalConcurrency)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cand, ok := <-a.deps.Feeds.Candidates():
			if !ok {
				return nil
			}
			if !sem.TryAcquire(1) {
				a.logger.Warn("evaluation backlogged, candidate dropped",
					slog.String("tx", cand.TxHash))
				continue
			}
			go func() {
				defer sem.Release(1)
				a.handleCandidate(ctx, cand, mode)
			}()
		}
	}
}

func (a *App) handleCandidate(ctx context.Context, cand *domain.CandidateSwap, mode string) {
	opp, err := a.deps.Evaluator.Evaluate(ctx, cand)
	if err != nil {
		// Rejections are the common case and not faults.
		a.logger.Debug("candidate rejected",
			slog.String("tx", cand.TxHash),
			slog.String("network", string(cand.Network)),
			slog.String("reason", err.Error()),
		)
		return
	}
	if mode == "monitor" {
		return
	}

	params := domain.ExecutionParams{
		MinProfit:    a.deps.Config.Evaluator.MinProfit(),
		MaxFee:       a.deps.Config.Orchestrator.MaxFee(),
		SimulateOnly: mode == "simulate",
	}
	if d := a.deps.Config.Orchestrator.ExecutionDeadline(); d > 0 {
		params.Deadline = time.Now().Add(d)
	}
	_, err = a.deps.Orch.Execute(ctx, opp, params)
	if errors.Is(err, domain.ErrConcurrencyLimit) {
		a.logger.Warn("execution skipped, concurrency ceiling reached",
			slog.String("opportunity", opp.ID))
	}
}
