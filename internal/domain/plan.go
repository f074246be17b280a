package domain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// StrategyKind is the closed set of execution strategies. Only two exist;
// adding a third requires the same topology/liquidity reasoning the router
// encodes, so this stays a closed enum rather than a plugin registry.
type StrategyKind string

const (
	// StrategyPaired is the specialized executor for 1-2 hop routes over
	// paired-reserve pools. Cheaper gas, narrower capability.
	StrategyPaired StrategyKind = "paired"
	// StrategyGeneral is the generalized router-style executor. Handles
	// arbitrary hop counts and every venue kind.
	StrategyGeneral StrategyKind = "general"
)

// PlanState tracks an ExecutionPlan through the submission lifecycle.
type PlanState string

const (
	PlanBuilt     PlanState = "built"
	PlanSimulated PlanState = "simulated"
	PlanPriced    PlanState = "priced"
	PlanSigned    PlanState = "signed"
	PlanSubmitted PlanState = "submitted"
	PlanConfirmed PlanState = "confirmed"
	PlanReverted  PlanState = "reverted"
	PlanDropped   PlanState = "dropped"
)

// Terminal reports whether the state ends the plan's lifecycle.
func (s PlanState) Terminal() bool {
	return s == PlanConfirmed || s == PlanReverted || s == PlanDropped
}

// ExecutionPlan is the fully routed, encoded form of one Opportunity. It is
// owned exclusively by its in-flight submission until it reaches a terminal
// state.
type ExecutionPlan struct {
	ID          string
	Opportunity Opportunity
	Strategy    StrategyKind
	Target      common.Address // executor contract the payload is encoded for
	Payload     []byte
	MinOut      *big.Int
	Deadline    time.Time
	Signer      common.Address
	Nonce       uint64
	RouteReason string // router gate that selected the strategy
	State       PlanState
	TxHash      common.Hash
	SubmittedAt time.Time
}

// MaxDeadlineWindow caps how far in the future a plan deadline may sit. A
// deadline beyond the opportunity's useful life just leaves a stale
// transaction executable.
const MaxDeadlineWindow = 5 * time.Minute

// NewExecutionPlan constructs a plan in the Built state. The deadline must be
// strictly after now and within MaxDeadlineWindow: a deadline at or before
// the submission clock defeats its purpose and is a construction error, never
// a runtime warning.
func NewExecutionPlan(id string, opp Opportunity, strategy StrategyKind, payload []byte, minOut *big.Int, signer common.Address, deadline, now time.Time) (*ExecutionPlan, error) {
	if !deadline.After(now) {
		return nil, fmt.Errorf("%w: deadline %s not after %s", ErrDegenerateDeadline, deadline.Format(time.RFC3339), now.Format(time.RFC3339))
	}
	if deadline.Sub(now) > MaxDeadlineWindow {
		return nil, fmt.Errorf("%w: deadline %s further than %s ahead", ErrDegenerateDeadline, deadline.Format(time.RFC3339), MaxDeadlineWindow)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("plan %s: empty payload", id)
	}
	return &ExecutionPlan{
		ID:          id,
		Opportunity: opp,
		Strategy:    strategy,
		Payload:     payload,
		MinOut:      new(big.Int).Set(minOut),
		Deadline:    deadline,
		Signer:      signer,
		State:       PlanBuilt,
	}, nil
}

// planTransitions is the allowed lifecycle graph.
var planTransitions = map[PlanState][]PlanState{
	PlanBuilt:     {PlanSimulated, PlanDropped},
	PlanSimulated: {PlanPriced, PlanDropped},
	PlanPriced:    {PlanSigned, PlanDropped},
	PlanSigned:    {PlanSubmitted, PlanDropped},
	PlanSubmitted: {PlanConfirmed, PlanReverted, PlanDropped},
}

// Transition moves the plan to next, rejecting any step the lifecycle graph
// does not allow.
func (p *ExecutionPlan) Transition(next PlanState) error {
	for _, allowed := range planTransitions[p.State] {
		if allowed == next {
			p.State = next
			return nil
		}
	}
	return fmt.Errorf("plan %s: illegal transition %s -> %s", p.ID, p.State, next)
}
