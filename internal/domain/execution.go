package domain

import (
	"math/big"
	"time"
)

// ExecutionState is the orchestrator's state machine position for one attempt.
type ExecutionState string

const (
	ExecStateCreated    ExecutionState = "created"
	ExecStateValidating ExecutionState = "validating"
	ExecStateSimulating ExecutionState = "simulating"
	ExecStateSubmitting ExecutionState = "submitting"
	ExecStateMonitoring ExecutionState = "monitoring"
	ExecStateSucceeded  ExecutionState = "succeeded"
	ExecStateRejected   ExecutionState = "rejected"
	ExecStateFailed     ExecutionState = "failed"
	ExecStateTimedOut   ExecutionState = "timed_out"
	ExecStateCancelled  ExecutionState = "cancelled"
)

// Terminal reports whether the state ends the execution.
func (s ExecutionState) Terminal() bool {
	switch s {
	case ExecStateSucceeded, ExecStateRejected, ExecStateFailed,
		ExecStateTimedOut, ExecStateCancelled:
		return true
	default:
		return false
	}
}

// ExecutionTiming is the per-stage latency breakdown of one execution.
type ExecutionTiming struct {
	ValidateMs int64
	SimulateMs int64
	SubmitMs   int64
	MonitorMs  int64
}

// ExecutionResult records one orchestrator invocation. It transitions from
// open to terminal exactly once and is always returned to the caller, never
// thrown.
type ExecutionResult struct {
	ID            string
	OpportunityID string
	Network       Network
	State         ExecutionState

	BundleID     string
	FrontRunHash string
	VictimHash   string
	BackRunHash  string

	SimulatedProfit *big.Int
	RealizedProfit  *big.Int
	RealizedGas     *big.Int

	Reason   string // human-readable when State != succeeded
	Attempts int

	Timing      ExecutionTiming
	StartedAt   time.Time
	CompletedAt *time.Time
}

// Snapshot returns a shallow copy safe to hand to event subscribers. Big
// integers are copied so the original cannot be mutated through the snapshot.
func (r *ExecutionResult) Snapshot() ExecutionResult {
	cp := *r
	if r.SimulatedProfit != nil {
		cp.SimulatedProfit = new(big.Int).Set(r.SimulatedProfit)
	}
	if r.RealizedProfit != nil {
		cp.RealizedProfit = new(big.Int).Set(r.RealizedProfit)
	}
	if r.RealizedGas != nil {
		cp.RealizedGas = new(big.Int).Set(r.RealizedGas)
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	return cp
}

// ExecutionStats is the orchestrator's running aggregate. Timed-out, cancelled
// and rejected executions count toward TotalExecutions but toward neither
// SuccessfulExecutions nor FailedExecutions.
type ExecutionStats struct {
	TotalExecutions      int64
	SuccessfulExecutions int64
	FailedExecutions     int64
	TimedOutExecutions   int64
	CancelledExecutions  int64
	RejectedExecutions   int64

	SuccessRate    float64
	TotalProfit    *big.Int
	AverageProfit  *big.Int
	TotalGasSpent  *big.Int
	GasEfficiency  float64 // realized profit per unit of gas spent
	LastExecutedAt time.Time
}
