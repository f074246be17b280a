package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vegas-max/Titan2.0-sub003/internal/domain"
	"github.com/vegas-max/Titan2.0-sub003/internal/graph"
)

// dispatchLoop consumes scanned opportunities: each is persisted, emitted as
// a signal for the settlement collaborator, and, in full mode, executed
// in-process as well.
func (p *Pipeline) dispatchLoop(ctx context.Context) {
	for {
		var opp *domain.Opportunity
		select {
		case <-ctx.Done():
			return
		case opp = <-p.opps:
		}

		if opp.Expired(time.Now().UTC()) {
			p.recordRejection(ctx, opp.Chain, opp.Route.String(), domain.Reject(domain.RejectStale, "expired before dispatch"))
			continue
		}

		if p.deps.Opps != nil {
			if err := p.deps.Opps.Create(ctx, *opp); err != nil {
				p.logger.Warn("opportunity persist failed", slog.String("id", opp.ID), slog.String("error", err.Error()))
			}
		}

		if p.deps.Writer != nil {
			sig := domain.SignalFromOpportunity(*opp, domain.ExecutionParams{
				SlippageBps:     p.cfg.SlippageBps,
				PriorityFeeGwei: p.cfg.PriorityFeeGwei,
				DeadlineSeconds: uint64(p.cfg.DeadlineWindow / time.Second),
			})
			if err := p.deps.Writer.Write(ctx, sig); err != nil {
				p.logger.Error("signal write failed", slog.String("id", opp.ID), slog.String("error", err.Error()))
			}
		}

		if p.cfg.Mode == "full" {
			p.execute(ctx, opp)
		}
	}
}

// drainLoop is the execute-mode consumer: it rebuilds opportunities from
// pending signal files and runs them through the execution path.
func (p *Pipeline) drainLoop(ctx context.Context) error {
	interval := p.cfg.ScanInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		handled, err := p.deps.Consumer.Drain(ctx, func(ctx context.Context, sig domain.ExecutionSignal) error {
			opp, err := p.rebuild(sig)
			if err != nil {
				// Unrecoverable signals must still be consumed, or the drain
				// loop chews on them forever.
				p.logger.Warn("signal rejected", slog.String("id", sig.ID), slog.String("error", err.Error()))
				return nil
			}
			p.execute(ctx, opp)
			return nil
		})
		if err != nil {
			return err
		}
		if handled > 0 {
			p.logger.Info("signals drained", slog.Int("count", handled))
		}
	}
}

// rebuild reconstructs an Opportunity from its boundary signal, resolving
// venue IDs against the chain's graph. Signals older than the TTL are
// rejected as stale.
func (p *Pipeline) rebuild(sig domain.ExecutionSignal) (*domain.Opportunity, error) {
	if p.cfg.SignalTTL > 0 && time.Since(sig.Timestamp) > p.cfg.SignalTTL {
		return nil, domain.Reject(domain.RejectStale, "signal %s is %s old", sig.ID, time.Since(sig.Timestamp).Round(time.Second))
	}
	rt, ok := p.deps.Chains[sig.ChainID]
	if !ok {
		return nil, fmt.Errorf("pipeline: signal %s references unconfigured chain %d", sig.ID, sig.ChainID)
	}

	loanAddr := common.HexToAddress(sig.Token)
	loanInfo, ok := rt.Graph.Token(loanAddr)
	if !ok {
		return nil, fmt.Errorf("pipeline: signal %s loan token %s not in inventory", sig.ID, sig.Token)
	}

	route, err := routeFromVenueIDs(rt.Graph, loanAddr, sig.Route)
	if err != nil {
		return nil, fmt.Errorf("pipeline: signal %s: %w", sig.ID, err)
	}

	amount, ok := new(big.Int).SetString(sig.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("pipeline: signal %s: bad amount %q", sig.ID, sig.Amount)
	}
	gasPrice, ok := new(big.Int).SetString(sig.GasPriceWei, 10)
	if !ok {
		gasPrice = new(big.Int)
	}

	ttl := p.cfg.SignalTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &domain.Opportunity{
		ID:           sig.ID,
		Route:        route,
		LoanToken:    loanInfo.Token,
		LoanAmount:   amount,
		ExpectedOut:  new(big.Int).Set(amount),
		NetProfitUSD: sig.ExpectedProfitUSD,
		GasPriceWei:  gasPrice,
		Chain:        sig.ChainID,
		CreatedAt:    sig.Timestamp,
		TTL:          ttl,
	}, nil
}

// routeFromVenueIDs walks the venue sequence from the loan token; each venue
// determines the next token, so the hop list is fully recoverable from IDs.
func routeFromVenueIDs(g *graph.Graph, loanToken common.Address, venueIDs []string) (domain.Route, error) {
	byID := make(map[string]graph.VenuePair)
	for _, vp := range g.Venues() {
		byID[vp.Venue.ID()] = vp
	}

	current := loanToken
	hops := make([]domain.Hop, 0, len(venueIDs))
	for _, id := range venueIDs {
		vp, ok := byID[id]
		if !ok {
			return domain.Route{}, fmt.Errorf("unknown venue %s", id)
		}
		var next common.Address
		switch current {
		case vp.Token0:
			next = vp.Token1
		case vp.Token1:
			next = vp.Token0
		default:
			return domain.Route{}, fmt.Errorf("venue %s does not trade token %s", id, current.Hex())
		}
		hops = append(hops, domain.Hop{TokenIn: current, TokenOut: next, Venue: vp.Venue})
		current = next
	}
	return domain.NewRoute(g.Chain, hops)
}

// execute runs one opportunity through reservation, routing, and the
// transaction lifecycle.
func (p *Pipeline) execute(ctx context.Context, opp *domain.Opportunity) {
	rt, ok := p.deps.Chains[opp.Chain]
	if !ok {
		return
	}

	release, err := p.reserveHeadroom(ctx, rt, opp)
	if err != nil {
		if rej := domain.AsRejection(err); rej != nil {
			p.recordRejection(ctx, opp.Chain, opp.Route.String(), rej)
		} else {
			p.logger.Warn("tvl reservation failed", slog.String("id", opp.ID), slog.String("error", err.Error()))
		}
		return
	}
	defer release()

	minOut := retainedMinOut(opp)
	decision, err := p.deps.Router.Route(ctx, opp, minOut, opp.ExpiresAt())
	if err != nil {
		p.logger.Warn("routing failed", slog.String("id", opp.ID), slog.String("error", err.Error()))
		return
	}

	plan, err := p.deps.TxManager.Execute(ctx, opp, decision)
	if err != nil {
		if rej := domain.AsRejection(err); rej != nil {
			p.recordRejection(ctx, opp.Chain, opp.Route.String(), rej)
			return
		}
		p.logger.Error("execution failed",
			slog.String("id", opp.ID),
			slog.String("error", err.Error()))
		return
	}
	if p.deps.Notifier != nil && plan != nil && plan.State.Terminal() {
		p.deps.Notifier.ExecutionResult(ctx, plan)
	}
}

// reserveHeadroom enforces the shared TVL policy: the combined outstanding
// loans for (chain, token) must stay inside the lender safety fraction. The
// returned closure releases this opportunity's share.
func (p *Pipeline) reserveHeadroom(ctx context.Context, rt *ChainRuntime, opp *domain.Opportunity) (func(), error) {
	token := opp.LoanToken.Address.Hex()

	reserve := func(amount *big.Int) (*big.Int, error) {
		if p.deps.Reservation != nil {
			return p.deps.Reservation.Reserve(ctx, opp.Chain, token, amount)
		}
		return p.local.Reserve(opp.Chain, token, amount), nil
	}
	releaseFn := func(amount *big.Int) {
		if p.deps.Reservation != nil {
			if err := p.deps.Reservation.Release(ctx, opp.Chain, token, amount); err != nil {
				p.logger.Warn("tvl release failed", slog.String("error", err.Error()))
			}
			return
		}
		p.local.Release(opp.Chain, token, amount)
	}

	total, err := reserve(opp.LoanAmount)
	if err != nil {
		return nil, err
	}

	tvl, err := p.deps.Source.LenderTVL(ctx, opp.Chain, rt.LenderVault, opp.LoanToken.Address)
	if err != nil {
		releaseFn(opp.LoanAmount)
		return nil, err
	}
	headroom := new(big.Float).SetPrec(128).SetInt(tvl)
	headroom.Mul(headroom, big.NewFloat(p.cfg.MaxTVLFraction))
	capInt, _ := headroom.Int(nil)
	if total.Cmp(capInt) > 0 {
		releaseFn(opp.LoanAmount)
		return nil, domain.Reject(domain.RejectLoanInfeasible,
			"outstanding reservations %s exceed tvl headroom %s", total.String(), capInt.String())
	}
	return func() { releaseFn(opp.LoanAmount) }, nil
}

// retainedMinOut sets the on-chain profit floor at half the expected gross,
// leaving room for bounded price movement between scan and settlement.
func retainedMinOut(opp *domain.Opportunity) *big.Int {
	gross := new(big.Int).Sub(opp.ExpectedOut, opp.LoanAmount)
	if gross.Sign() < 0 {
		gross = new(big.Int)
	}
	return new(big.Int).Add(opp.LoanAmount, gross.Rsh(gross, 1))
}

// localReservation is the in-process fallback headroom counter used when no
// shared Redis reservation is wired.
type localReservation struct {
	mu       sync.Mutex
	reserved map[string]*big.Int
}

func newLocalReservation() *localReservation {
	return &localReservation{reserved: make(map[string]*big.Int)}
}

func key(chain domain.ChainID, token string) string {
	return fmt.Sprintf("%d:%s", chain, token)
}

func (l *localReservation) Reserve(chain domain.ChainID, token string, amount *big.Int) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key(chain, token)
	cur, ok := l.reserved[k]
	if !ok {
		cur = new(big.Int)
	}
	cur = new(big.Int).Add(cur, amount)
	l.reserved[k] = cur
	return new(big.Int).Set(cur)
}

func (l *localReservation) Release(chain domain.ChainID, token string, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key(chain, token)
	cur, ok := l.reserved[k]
	if !ok {
		return
	}
	cur = new(big.Int).Sub(cur, amount)
	if cur.Sign() < 0 {
		cur = new(big.Int)
	}
	l.reserved[k] = cur
}
