// Package notify delivers operator alerts for the conditions a human must
// hear about: an open circuit, total endpoint loss on a chain, and execution
// outcomes. Notifications fan out to every registered sender and are filtered
// by event type.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vegas-max/Titan2.0-sub003/internal/domain"
)

// Event types the pipeline emits.
const (
	EventCircuitOpen       = "circuit_open"
	EventEndpointLoss      = "endpoint_loss"
	EventExecutionConfirm  = "execution_confirmed"
	EventExecutionReverted = "execution_reverted"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches alerts to its senders. Only events in the configured
// allow-list are forwarded; an empty list allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// CircuitOpened alerts that a chain's circuit breaker opened.
func (n *Notifier) CircuitOpened(ctx context.Context, chain domain.ChainID, failures uint32) {
	n.notify(ctx, EventCircuitOpen,
		fmt.Sprintf("Circuit open: %s", chain.Name()),
		fmt.Sprintf("%d consecutive execution failures; cadence degraded until recovery probe succeeds.", failures))
}

// EndpointLoss alerts that every configured endpoint for a chain is failing
// health checks.
func (n *Notifier) EndpointLoss(ctx context.Context, chain domain.ChainID) {
	n.notify(ctx, EventEndpointLoss,
		fmt.Sprintf("Endpoint loss: %s", chain.Name()),
		"All RPC endpoints failing health checks. Scanning continues with backoff.")
}

// ExecutionResult alerts on a terminal plan outcome.
func (n *Notifier) ExecutionResult(ctx context.Context, plan *domain.ExecutionPlan) {
	event := EventExecutionConfirm
	title := fmt.Sprintf("Executed: %s", plan.Opportunity.LoanToken.Symbol)
	if plan.State == domain.PlanReverted {
		event = EventExecutionReverted
		title = fmt.Sprintf("Reverted: %s", plan.Opportunity.LoanToken.Symbol)
	}
	n.notify(ctx, event, title, fmt.Sprintf(
		"chain=%s route=%s loan=%s expected_net=$%.2f tx=%s",
		plan.Opportunity.Chain.Name(),
		plan.Opportunity.Route.String(),
		plan.Opportunity.LoanAmount.String(),
		plan.Opportunity.NetProfitUSD,
		plan.TxHash.Hex(),
	))
}

// notify applies the event filter and fans out. Sender failures are logged,
// never propagated; alerting must not disturb the pipeline.
func (n *Notifier) notify(ctx context.Context, event, title, message string) {
	if len(n.events) > 0 && !n.events[event] {
		return
	}
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.Error("sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()))
		}
	}
}
