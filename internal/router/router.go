// Package router decides which execution strategy handles a validated
// opportunity, via three ordered gates: topology, venue liquidity kind, and
// estimated gas cost.
package router

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vegas-max/Titan2.0-sub003/internal/domain"
)

// Gate exit reason codes, attached to every decision for observability.
const (
	ReasonTopologyMultiHop = "topology_multi_hop"
	ReasonVenueComplex     = "venue_complex"
	ReasonPairedCheaper    = "cost_paired_cheaper"
	ReasonGeneralCheaper   = "cost_general_cheaper"
	ReasonSimulationFailed = "cost_simulation_failed"
)

// GasEstimator estimates gas for a candidate payload against current chain
// state. The cost gate is the router's only side-effecting step.
type GasEstimator interface {
	EstimateGas(ctx context.Context, chain domain.ChainID, from, to common.Address, data []byte) (uint64, error)
}

// Targets holds the per-chain executor contract addresses.
type Targets struct {
	Paired  common.Address
	General common.Address
}

// Decision is the router's output: the chosen strategy, its target contract,
// the encoded payload, and the gate reason that selected it. GasLimit is the
// cost-gate estimate when one was made, otherwise zero.
type Decision struct {
	Strategy domain.StrategyKind
	Reason   string
	Target   common.Address
	Payload  []byte
	GasLimit uint64
}

// Router is the three-gate decision state machine. Capability gates (topology,
// venue kind) run before the economic tie-break so an infeasible payload never
// reaches cost comparison.
type Router struct {
	estimator GasEstimator
	registry  *Registry
	targets   map[domain.ChainID]Targets
	signer    common.Address
	logger    *slog.Logger
}

// New builds a Router. signer is the address gas estimation simulates from.
func New(estimator GasEstimator, registry *Registry, targets map[domain.ChainID]Targets, signer common.Address, logger *slog.Logger) *Router {
	return &Router{
		estimator: estimator,
		registry:  registry,
		targets:   targets,
		signer:    signer,
		logger:    logger.With(slog.String("component", "router")),
	}
}

// Route selects the execution strategy for an opportunity and encodes its
// payload. minOut and deadline are carried into the payload so the contract
// enforces them on-chain.
func (r *Router) Route(ctx context.Context, opp *domain.Opportunity, minOut *big.Int, deadline time.Time) (*Decision, error) {
	targets := r.targets[opp.Chain]
	payload, err := r.registry.Encode(opp, minOut, deadline)
	if err != nil {
		return nil, err
	}

	// TopologyGate: the paired executor cannot express more than two hops.
	if len(opp.Route.Hops) > 2 {
		return r.decide(opp, domain.StrategyGeneral, ReasonTopologyMultiHop, targets.General, payload, 0), nil
	}

	// LiquidityGate: any non-paired-reserve venue would revert the paired
	// executor.
	if !opp.Route.PairedReserveOnly() {
		return r.decide(opp, domain.StrategyGeneral, ReasonVenueComplex, targets.General, payload, 0), nil
	}

	// CostGate: both strategies are viable; simulate both and take the
	// cheaper. Any estimation failure defaults to the generalized path.
	pairedGas, errP := r.estimator.EstimateGas(ctx, opp.Chain, r.signer, targets.Paired, payload)
	generalGas, errG := r.estimator.EstimateGas(ctx, opp.Chain, r.signer, targets.General, payload)
	if errP != nil || errG != nil {
		if errP != nil {
			r.logger.Debug("paired estimate failed", slog.String("opportunity", opp.ID), slog.String("error", errP.Error()))
		}
		if errG != nil {
			r.logger.Debug("general estimate failed", slog.String("opportunity", opp.ID), slog.String("error", errG.Error()))
		}
		return r.decide(opp, domain.StrategyGeneral, ReasonSimulationFailed, targets.General, payload, 0), nil
	}
	if pairedGas <= generalGas {
		return r.decide(opp, domain.StrategyPaired, ReasonPairedCheaper, targets.Paired, payload, pairedGas), nil
	}
	return r.decide(opp, domain.StrategyGeneral, ReasonGeneralCheaper, targets.General, payload, generalGas), nil
}

func (r *Router) decide(opp *domain.Opportunity, strategy domain.StrategyKind, reason string, target common.Address, payload []byte, gasLimit uint64) *Decision {
	r.logger.Debug("strategy selected",
		slog.String("opportunity", opp.ID),
		slog.String("strategy", string(strategy)),
		slog.String("reason", reason))
	return &Decision{Strategy: strategy, Reason: reason, Target: target, Payload: payload, GasLimit: gasLimit}
}
