// Package notify pushes human-readable alerts about opportunities and
// execution outcomes to external channels. Delivery is fire-and-forget;
// failures are logged, never propagated into the pipeline.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mevduct/sandwichd/internal/domain"
)

// Sender delivers one formatted message to a channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, text string) error
}

// Event names accepted by the filter.
const (
	EventOpportunityFound   = "opportunity_found"
	EventExecutionCompleted = "execution_completed"
	EventExecutionFailed    = "execution_failed"
	EventExecutionCancelled = "execution_cancelled"
)

// Config filters what gets sent. An empty Events list means everything.
type Config struct {
	Events []string
}

// Notifier fans formatted messages out to the configured senders.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// New creates a Notifier. With no senders every call is a no-op.
func New(cfg Config, logger *slog.Logger, senders ...Sender) *Notifier {
	events := make(map[string]bool, len(cfg.Events))
	for _, e := range cfg.Events {
		events[strings.ToLower(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  events,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

func (n *Notifier) wants(event string) bool {
	if len(n.senders) == 0 {
		return false
	}
	return len(n.events) == 0 || n.events[event]
}

func (n *Notifier) send(ctx context.Context, text string) {
	for _, s := range n.senders {
		if err := s.Send(ctx, text); err != nil {
			n.logger.Warn("notification delivery failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// OpportunityFound announces a new emission.
func (n *Notifier) OpportunityFound(ctx context.Context, opp *domain.SandwichOpportunity) {
	if !n.wants(EventOpportunityFound) {
		return
	}
	n.send(ctx, fmt.Sprintf(
		"🎯 Opportunity %s\nnetwork: %s\nvictim: %s\nest. profit: %s\nprofitability: %.2f%%\nscore: %.1f",
		shortID(opp.ID), opp.Network, opp.VictimTxHash,
		opp.EstimatedProfit, opp.Profitability, opp.MEVScore,
	))
}

// ExecutionFinished announces a terminal execution, routed by outcome.
func (n *Notifier) ExecutionFinished(ctx context.Context, res domain.ExecutionResult) {
	var event, icon string
	switch res.State {
	case domain.ExecStateSucceeded:
		event, icon = EventExecutionCompleted, "✅"
	case domain.ExecStateCancelled:
		event, icon = EventExecutionCancelled, "🛑"
	default:
		event, icon = EventExecutionFailed, "❌"
	}
	if !n.wants(event) {
		return
	}

	var profit string
	if res.RealizedProfit != nil {
		profit = "\nprofit: " + res.RealizedProfit.String()
	}
	n.send(ctx, fmt.Sprintf(
		"%s Execution %s %s\nnetwork: %s\nattempts: %d\n%s%s",
		icon, shortID(res.ID), res.State, res.Network, res.Attempts, res.Reason, profit,
	))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
