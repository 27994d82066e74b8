// Package orchestrator drives accepted opportunities through validation,
// fresh simulation, bundle submission with classified retries, and inclusion
// monitoring. Every invocation produces exactly one terminal ExecutionResult;
// negative outcomes are states on the result, not errors.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/mevduct/sandwichd/internal/domain"
	"github.com/mevduct/sandwichd/internal/evaluator"
	"github.com/mevduct/sandwichd/internal/relay"
)

// Simulator re-runs the profitability simulation against fresh pool state.
type Simulator interface {
	Resimulate(ctx context.Context, opp *domain.SandwichOpportunity, frontIn *big.Int) (evaluator.SimResult, error)
}

// Config bounds the execution pipeline.
type Config struct {
	MaxConcurrent  int
	PollInterval   time.Duration
	MonitorTimeout time.Duration
	RetryBudget    int
	RetryBackoff   time.Duration
}

var errCancelRequested = errors.New("cancellation requested")

type inflightExec struct {
	result *domain.ExecutionResult
	cancel context.CancelCauseFunc
	mu     sync.Mutex
}

func (e *inflightExec) snapshot() domain.ExecutionResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result.Snapshot()
}

// update mutates the result under the entry lock. Every write to the result
// goes through here or finish; InFlight snapshots concurrently.
func (e *inflightExec) update(fn func(res *domain.ExecutionResult)) {
	e.mu.Lock()
	fn(e.result)
	e.mu.Unlock()
}

// Orchestrator owns the execution state machine. It is safe for concurrent
// use; the concurrency ceiling applies across all networks.
type Orchestrator struct {
	relays map[domain.Network]relay.Relay
	sim    Simulator
	store  domain.ExecutionStore // optional
	cfg    Config

	sem    *semaphore.Weighted
	stats  *statsTracker
	events emitter
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	inflight map[string]*inflightExec
}

// New creates an Orchestrator over the given relays. store may be nil when
// persistence is disabled.
func New(relays map[domain.Network]relay.Relay, sim Simulator, store domain.ExecutionStore, cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 1500 * time.Millisecond
	}
	if cfg.MonitorTimeout <= 0 {
		cfg.MonitorTimeout = 60 * time.Second
	}
	if cfg.RetryBudget < 1 {
		cfg.RetryBudget = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	return &Orchestrator{
		relays:   relays,
		sim:      sim,
		store:    store,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		stats:    newStatsTracker(),
		logger:   logger.With(slog.String("component", "orchestrator")),
		now:      time.Now,
		inflight: make(map[string]*inflightExec),
	}
}

// OnEvent registers an execution event handler. Must be called before any
// execution starts.
func (o *Orchestrator) OnEvent(h EventHandler) {
	o.events.on(h)
}

// SeedStats loads the persisted aggregate, typically at startup.
func (o *Orchestrator) SeedStats(ctx context.Context) error {
	if o.store == nil {
		return nil
	}
	stats, err := o.store.LoadStats(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: load stats: %w", err)
	}
	o.stats.seed(stats)
	return nil
}

// Stats returns a copy of the running aggregate.
func (o *Orchestrator) Stats() domain.ExecutionStats {
	return o.stats.snapshot()
}

// InFlight returns snapshots of all executions that have not yet finished.
func (o *Orchestrator) InFlight() []domain.ExecutionResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]domain.ExecutionResult, 0, len(o.inflight))
	for _, e := range o.inflight {
		out = append(out, e.snapshot())
	}
	return out
}

// Cancel requests cancellation of one in-flight execution by its result ID.
func (o *Orchestrator) Cancel(id string) error {
	o.mu.Lock()
	e, ok := o.inflight[id]
	o.mu.Unlock()
	if !ok {
		return domain.ErrNotFound
	}
	e.cancel(errCancelRequested)
	return nil
}

// EmergencyStop cancels every in-flight execution.
func (o *Orchestrator) EmergencyStop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, e := range o.inflight {
		e.cancel(errCancelRequested)
	}
}

// Execute runs one opportunity to a terminal state. When the concurrency
// ceiling is reached it returns domain.ErrConcurrencyLimit immediately with
// no result; every admitted execution returns a terminal result and nil.
func (o *Orchestrator) Execute(ctx context.Context, opp *domain.SandwichOpportunity, params domain.ExecutionParams) (*domain.ExecutionResult, error) {
	if !o.sem.TryAcquire(1) {
		return nil, domain.ErrConcurrencyLimit
	}
	defer o.sem.Release(1)

	execCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	res := &domain.ExecutionResult{
		ID:            uuid.New().String(),
		OpportunityID: opp.ID,
		Network:       opp.Network,
		State:         domain.ExecStateCreated,
		StartedAt:     o.now(),
	}
	entry := &inflightExec{result: res, cancel: cancel}
	o.mu.Lock()
	o.inflight[res.ID] = entry
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.inflight, res.ID)
		o.mu.Unlock()
	}()

	o.events.emit(EventExecutionStarted, res, o.now())
	o.run(execCtx, entry, opp, params)
	return res, nil
}

// setState transitions the result under the entry lock.
func (o *Orchestrator) setState(e *inflightExec, state domain.ExecutionState) {
	e.mu.Lock()
	e.result.State = state
	e.mu.Unlock()
}

// finish stamps the terminal state, folds the result into the aggregate,
// persists it, and emits the terminal event.
func (o *Orchestrator) finish(ctx context.Context, e *inflightExec, state domain.ExecutionState, reason string) {
	now := o.now()
	e.mu.Lock()
	e.result.State = state
	e.result.Reason = reason
	e.result.CompletedAt = &now
	res := e.result
	e.mu.Unlock()

	o.stats.record(res, now)
	if o.store != nil {
		// Persistence must not depend on the (possibly cancelled) execution
		// context.
		storeCtx, cancelStore := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := o.store.Insert(storeCtx, res.Snapshot()); err != nil {
			o.logger.Warn("persist execution failed",
				slog.String("execution", res.ID), slog.String("error", err.Error()))
		}
		cancelStore()
	}
	o.events.emit(terminalEvent(state), res, now)

	o.logger.Info("execution finished",
		slog.String("execution", res.ID),
		slog.String("opportunity", res.OpportunityID),
		slog.String("state", string(state)),
		slog.String("reason", reason),
		slog.Int("attempts", res.Attempts),
	)
}

func (o *Orchestrator) run(ctx context.Context, e *inflightExec, opp *domain.SandwichOpportunity, params domain.ExecutionParams) {
	// ── validation: pure checks on already-held data, no network calls ──
	o.setState(e, domain.ExecStateValidating)
	validateStart := o.now()
	rly, reason := o.validate(ctx, opp, params)
	e.update(func(res *domain.ExecutionResult) {
		res.Timing.ValidateMs = o.now().Sub(validateStart).Milliseconds()
	})
	if reason != "" {
		o.finish(ctx, e, domain.ExecStateRejected, reason)
		return
	}

	// ── fresh simulation against refetched pool state ──
	o.setState(e, domain.ExecStateSimulating)
	simStart := o.now()
	sim, err := o.sim.Resimulate(ctx, opp, params.FrontRunOverride)
	e.update(func(res *domain.ExecutionResult) {
		res.Timing.SimulateMs = o.now().Sub(simStart).Milliseconds()
	})
	if err != nil {
		o.finish(ctx, e, domain.ExecStateRejected, fmt.Sprintf("simulation: %v", err))
		return
	}
	minProfit := params.MinProfit
	if sim.NetProfit.Sign() <= 0 || (minProfit != nil && sim.NetProfit.Cmp(minProfit) < 0) {
		o.finish(ctx, e, domain.ExecStateRejected,
			fmt.Sprintf("resimulated profit %s below threshold", sim.NetProfit))
		return
	}
	e.update(func(res *domain.ExecutionResult) {
		res.SimulatedProfit = new(big.Int).Set(sim.NetProfit)
	})
	o.events.emit(EventSimulationCompleted, e.result, o.now())

	if params.SimulateOnly {
		o.finish(ctx, e, domain.ExecStateSucceeded, "simulation only")
		return
	}

	// ── submission with classified retries ──
	o.setState(e, domain.ExecStateSubmitting)
	submitStart := o.now()
	bundle, err := o.submitWithRetry(ctx, e, rly, opp, params)
	e.update(func(res *domain.ExecutionResult) {
		res.Timing.SubmitMs = o.now().Sub(submitStart).Milliseconds()
	})
	if err != nil {
		if errors.Is(context.Cause(ctx), errCancelRequested) || ctx.Err() != nil {
			o.finish(ctx, e, domain.ExecStateCancelled, cancelReason(ctx))
			return
		}
		o.finish(ctx, e, domain.ExecStateFailed, err.Error())
		return
	}

	// ── monitoring until inclusion, failure, or the hard timeout ──
	o.setState(e, domain.ExecStateMonitoring)
	o.monitor(ctx, e, rly, bundle.ID)
}

// validate runs the rejection ladder in order and returns the relay plus an
// empty reason on success.
func (o *Orchestrator) validate(ctx context.Context, opp *domain.SandwichOpportunity, params domain.ExecutionParams) (relay.Relay, string) {
	now := o.now()
	if opp.TimeToExpiry(now) <= 0 {
		return nil, "opportunity expired"
	}
	if !params.Deadline.IsZero() && now.After(params.Deadline) {
		return nil, "execution deadline passed"
	}
	if params.MinProfit != nil && opp.EstimatedProfit != nil && opp.EstimatedProfit.Cmp(params.MinProfit) < 0 {
		return nil, fmt.Sprintf("estimated profit %s below minimum %s", opp.EstimatedProfit, params.MinProfit)
	}
	if params.MaxFee != nil && params.MaxFee.Sign() > 0 && opp.GasPrice != nil && opp.GasPrice.Cmp(params.MaxFee) > 0 {
		return nil, fmt.Sprintf("observed gas price %s above max fee %s", opp.GasPrice, params.MaxFee)
	}
	rly, ok := o.relays[opp.Network]
	if !ok || !rly.IsReady(ctx) {
		return nil, "relay not ready"
	}
	if opp.TokenIn == "" || opp.TokenOut == "" || opp.PoolAddress == "" {
		return nil, "missing token or pool reference"
	}
	return rly, ""
}

// submitWithRetry builds and submits a bundle up to the retry budget. Fee
// failures loosen the fee cap by a fifth, slippage failures loosen the
// slippage allowance by a fifth; other failures are terminal. Backoff doubles
// between attempts.
func (o *Orchestrator) submitWithRetry(ctx context.Context, e *inflightExec, rly relay.Relay, opp *domain.SandwichOpportunity, params domain.ExecutionParams) (*domain.Bundle, error) {
	backoff := o.cfg.RetryBackoff
	var lastErr error

	for attempt := 1; attempt <= o.cfg.RetryBudget; attempt++ {
		e.mu.Lock()
		e.result.Attempts = attempt
		e.mu.Unlock()

		bundle, err := rly.BuildBundle(ctx, opp, params)
		if err == nil {
			e.mu.Lock()
			e.result.BundleID = bundle.ID
			e.result.FrontRunHash = bundle.FrontRunHash
			e.result.VictimHash = bundle.VictimHash
			e.result.BackRunHash = bundle.BackRunHash
			e.mu.Unlock()
			err = rly.SubmitBundle(ctx, bundle.ID)
			if err == nil {
				return bundle, nil
			}
		}
		lastErr = err

		switch domain.ClassifyBundleError(err) {
		case domain.BundleErrFee:
			bumpFee(&params, opp)
		case domain.BundleErrSlippage:
			bumpSlippage(&params)
		default:
			return nil, err
		}
		o.logger.Warn("bundle attempt failed, retrying",
			slog.String("execution", e.result.ID),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("retry budget exhausted: %w", lastErr)
}

// monitor polls the relay until the bundle reaches a terminal status or the
// hard timeout elapses. The timeout is measured from submission, never from
// detection. The monitoring duration is stamped before the terminal
// transition so the persisted row and terminal event carry it.
func (o *Orchestrator) monitor(ctx context.Context, e *inflightExec, rly relay.Relay, bundleID string) {
	started := o.now()
	deadline := started.Add(o.cfg.MonitorTimeout)

	finish := func(state domain.ExecutionState, reason string) {
		e.update(func(res *domain.ExecutionResult) {
			res.Timing.MonitorMs = o.now().Sub(started).Milliseconds()
		})
		o.finish(ctx, e, state, reason)
	}

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.cancelBundle(ctx, rly, bundleID)
			finish(domain.ExecStateCancelled, cancelReason(ctx))
			return
		case <-ticker.C:
		}

		bundle, err := rly.BundleStatus(ctx, bundleID)
		if err != nil {
			o.logger.Warn("bundle status poll failed",
				slog.String("bundle", bundleID), slog.String("error", err.Error()))
		} else {
			switch bundle.Status {
			case domain.BundleStatusIncluded:
				e.update(func(res *domain.ExecutionResult) {
					res.RealizedGas = bundle.RealizedGas
					res.RealizedProfit = bundle.RealizedProfit
					if res.RealizedProfit == nil {
						res.RealizedProfit = res.SimulatedProfit
					}
				})
				finish(domain.ExecStateSucceeded,
					fmt.Sprintf("included in block %d", bundle.LandedBlock))
				return
			case domain.BundleStatusFailed:
				finish(domain.ExecStateFailed, "bundle failed: "+bundle.RevertReason)
				return
			case domain.BundleStatusCancelled:
				finish(domain.ExecStateCancelled, "bundle cancelled")
				return
			}
		}

		if o.now().After(deadline) {
			// Unknown outcome, distinct from a confirmed failure.
			o.cancelBundle(ctx, rly, bundleID)
			finish(domain.ExecStateTimedOut, domain.ErrMonitorTimeout.Error())
			return
		}
	}
}

// cancelBundle is best-effort; terminal bundles reject cancellation and that
// is fine.
func (o *Orchestrator) cancelBundle(ctx context.Context, rly relay.Relay, bundleID string) {
	cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := rly.CancelBundle(cancelCtx, bundleID); err != nil &&
		!errors.Is(err, domain.ErrBundleTerminal) && !errors.Is(err, domain.ErrBundleNotFound) {
		o.logger.Warn("bundle cancel failed",
			slog.String("bundle", bundleID), slog.String("error", err.Error()))
	}
}

func cancelReason(ctx context.Context) string {
	if errors.Is(context.Cause(ctx), errCancelRequested) {
		return "cancellation requested"
	}
	return "context cancelled"
}

// bumpFee loosens the fee cap by 20%, starting from the observed gas price
// when no cap was set.
func bumpFee(params *domain.ExecutionParams, opp *domain.SandwichOpportunity) {
	base := params.MaxFee
	if base == nil || base.Sign() <= 0 {
		base = opp.GasPrice
	}
	if base == nil || base.Sign() <= 0 {
		return
	}
	bumped := new(big.Int).Mul(base, big.NewInt(120))
	params.MaxFee = bumped.Div(bumped, big.NewInt(100))
}

// bumpSlippage loosens the slippage allowance by 20%, starting from 100 bps
// when none was set.
func bumpSlippage(params *domain.ExecutionParams) {
	if params.MaxSlippageBps <= 0 {
		params.MaxSlippageBps = 100
	}
	params.MaxSlippageBps = params.MaxSlippageBps * 12 / 10
}
