package pipeline

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vegas-max/Titan2.0-sub003/internal/domain"
	"github.com/vegas-max/Titan2.0-sub003/internal/gas"
	"github.com/vegas-max/Titan2.0-sub003/internal/graph"
	"github.com/vegas-max/Titan2.0-sub003/internal/liquidity"
	"github.com/vegas-max/Titan2.0-sub003/internal/profit"
)

func newID() string { return uuid.NewString() }

// scanLoop runs one chain's scan cycles. The cadence degrades with capped
// exponential backoff while the chain's circuit is open or its endpoints are
// down; scanning never halts entirely.
func (p *Pipeline) scanLoop(ctx context.Context, rt *ChainRuntime) error {
	logger := p.logger.With(slog.String("chain", rt.Chain.Name()))
	interval := p.cfg.ScanInterval
	backoffSteps := 0
	var cycle uint64

	for {
		delay := interval
		if backoffSteps > 0 {
			delay = interval << backoffSteps
			if delay > p.cfg.MaxBackoff {
				delay = p.cfg.MaxBackoff
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		pool, err := p.deps.Pools.Pool(rt.Chain)
		if err != nil {
			return err
		}
		if p.deps.Breakers.Open(rt.Chain) || !pool.Healthy() {
			if backoffSteps < 6 {
				backoffSteps++
			}
			logger.Debug("cadence degraded", slog.Int("backoff_steps", backoffSteps))
			continue
		}
		backoffSteps = 0

		cycle++
		// A cycle that exceeds its budget is abandoned; evaluating stale
		// prices is worse than skipping a beat.
		cycleCtx, cancel := context.WithTimeout(ctx, p.cfg.CycleBudget)
		found := p.scanCycle(cycleCtx, rt, cycle, logger)
		cancel()
		if found > 0 {
			logger.Info("scan cycle complete", slog.Uint64("cycle", cycle), slog.Int("opportunities", found))
		}
	}
}

// scanCycle runs one full discovery pass for the chain: refresh reserves,
// enumerate cycles for the tokens due this cycle, evaluate and size each
// candidate, and queue survivors for dispatch.
func (p *Pipeline) scanCycle(ctx context.Context, rt *ChainRuntime, cycle uint64, logger *slog.Logger) int {
	states, ok := p.snapshotVenues(ctx, rt, logger)
	if !ok {
		return 0
	}
	est := p.deps.Oracle.Estimate(ctx, rt.Chain)

	tokens := rt.Scanner.ActiveLoanTokens(cycle)
	found := 0

	// TVL per loan token is fetched once per cycle and shared across routes.
	for _, loan := range tokens {
		if ctx.Err() != nil {
			return found
		}
		routes := rt.Scanner.Cycles(loan.Token.Address)
		if len(routes) == 0 {
			continue
		}
		tvl, err := p.deps.Source.LenderTVL(ctx, rt.Chain, rt.LenderVault, loan.Token.Address)
		if err != nil {
			logger.Debug("lender tvl read failed",
				slog.String("token", loan.Token.Symbol),
				slog.String("error", err.Error()))
			continue
		}
		found += p.evaluateRoutes(ctx, rt, loan, routes, states, tvl, est)
	}
	return found
}

// snapshotVenues refreshes every venue in the chain's graph through the
// caching source, bounded by the worker budget. A partial snapshot is fine;
// routes over missing venues are rejected downstream.
func (p *Pipeline) snapshotVenues(ctx context.Context, rt *ChainRuntime, logger *slog.Logger) (map[string]liquidity.VenueState, bool) {
	pairs := rt.Graph.Venues()
	states := make(map[string]liquidity.VenueState, len(pairs))

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, p.cfg.Concurrency)

	for _, vp := range pairs {
		if ctx.Err() != nil {
			break
		}
		vp := vp
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			state, err := p.deps.Source.VenueState(ctx, vp.Venue, vp.Token0, vp.Token1)
			if err != nil {
				logger.Debug("venue refresh failed",
					slog.String("venue", vp.Venue.ID()),
					slog.String("error", err.Error()))
				return
			}
			mu.Lock()
			states[vp.Venue.ID()] = state
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(states) == 0 {
		logger.Debug("no venue state available this cycle")
		return nil, false
	}
	return states, true
}

// evaluateRoutes sizes and gates each candidate route concurrently. Loan-size
// search for a single route stays sequential inside the optimizer; routes are
// independent and parallelize.
func (p *Pipeline) evaluateRoutes(ctx context.Context, rt *ChainRuntime, loan graph.TokenInfo, routes []domain.Route, states map[string]liquidity.VenueState, tvl *big.Int, est gas.Estimate) int {
	var wg sync.WaitGroup
	sem := make(chan struct{}, p.cfg.Concurrency)
	found := 0
	var mu sync.Mutex

	for _, route := range routes {
		if ctx.Err() != nil {
			break
		}
		route := route
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			quote := profit.Quote{
				Route:     route,
				LoanToken: loan.Token,
				States:    states,
				NativeUSD: rt.NativeUSD,
			}
			opp, err := p.deps.Optimizer.Optimize(quote, tvl, est)
			if err != nil {
				if rej := domain.AsRejection(err); rej != nil {
					p.recordRejection(ctx, rt.Chain, route.String(), rej)
				}
				return
			}
			select {
			case p.opps <- opp:
				mu.Lock()
				found++
				mu.Unlock()
			default:
				// The dispatcher is saturated. Opportunities decay in
				// seconds; dropping beats queueing stale ones.
				p.logger.Debug("opportunity dropped, dispatch queue full", slog.String("id", opp.ID))
			}
		}()
	}
	wg.Wait()
	return found
}
