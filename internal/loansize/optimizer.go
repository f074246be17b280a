// Package loansize searches for the largest flash-loan size that stays inside
// the lender's TVL safety fraction and remains profitable.
package loansize

import (
	"log/slog"
	"math/big"

	"github.com/vegas-max/Titan2.0-sub003/internal/domain"
	"github.com/vegas-max/Titan2.0-sub003/internal/gas"
	"github.com/vegas-max/Titan2.0-sub003/internal/profit"
)

// Config bounds the search.
type Config struct {
	MaxTVLFraction float64 // cap as a fraction of lender TVL, e.g. 0.20
	MinLoanUSD     float64
	MaxLoanUSD     float64
	SearchBudget   int // maximum evaluator probes
}

// bracketToleranceBps stops the search once the bracket narrows below 0.5% of
// the upper bound; further probes change the size by less than price noise.
const bracketToleranceBps = 50

// Optimizer runs a bounded binary search over loan size, re-invoking the
// profit evaluator at each probe. Profit is not linear in size because of
// slippage, so the boundary between profitable and not has to be searched,
// not computed.
type Optimizer struct {
	eval   *profit.Evaluator
	cfg    Config
	logger *slog.Logger
}

// NewOptimizer builds an Optimizer.
func NewOptimizer(eval *profit.Evaluator, cfg Config, logger *slog.Logger) *Optimizer {
	if cfg.SearchBudget < 1 {
		cfg.SearchBudget = 24
	}
	return &Optimizer{
		eval:   eval,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "loansize")),
	}
}

// Optimize returns the best feasible opportunity for the route, or a
// *domain.Rejection when even the minimum size is unprofitable or the TVL cap
// leaves no room above the floor. tvl is the lender vault's current balance
// of the loan token.
func (o *Optimizer) Optimize(q profit.Quote, tvl *big.Int, est gas.Estimate) (*domain.Opportunity, error) {
	if tvl == nil || tvl.Sign() <= 0 {
		return nil, domain.Reject(domain.RejectLoanInfeasible, "lender has no %s liquidity", q.LoanToken.Symbol)
	}

	lo := q.LoanToken.AmountFromUSD(o.cfg.MinLoanUSD)
	hi := fractionOf(tvl, o.cfg.MaxTVLFraction)
	if maxUSD := q.LoanToken.AmountFromUSD(o.cfg.MaxLoanUSD); maxUSD.Sign() > 0 && hi.Cmp(maxUSD) > 0 {
		hi = maxUSD
	}
	if lo.Sign() <= 0 || lo.Cmp(hi) > 0 {
		return nil, domain.Reject(domain.RejectLoanInfeasible,
			"tvl cap %s below minimum loan floor (tvl fraction %.2f)", hi.String(), o.cfg.MaxTVLFraction)
	}

	budget := o.cfg.SearchBudget

	// The minimum size must clear the gates before any search is worth doing.
	best, err := o.eval.Evaluate(q, lo, est)
	budget--
	if err != nil {
		if rej := domain.AsRejection(err); rej != nil && rej.Code != domain.RejectGasCeiling {
			return nil, domain.Reject(domain.RejectLoanInfeasible, "minimum size rejected: %s", rej.Detail)
		}
		return nil, err
	}

	// Try the cap outright; flat profit curves resolve in one probe.
	if budget > 0 {
		if opp, err := o.eval.Evaluate(q, hi, est); err == nil {
			return opp, nil
		}
		budget--
	}

	// Binary search the profitable/unprofitable boundary. lo is always the
	// largest known-profitable size, hi the smallest known-infeasible one.
	for budget > 0 && !withinTolerance(lo, hi) {
		mid := new(big.Int).Add(lo, hi)
		mid.Rsh(mid, 1)
		opp, err := o.eval.Evaluate(q, mid, est)
		budget--
		if err == nil {
			lo = mid
			best = opp
		} else {
			hi = mid
		}
	}

	o.logger.Debug("loan size settled",
		slog.String("route", q.Route.String()),
		slog.String("size", best.LoanAmount.String()),
		slog.Float64("net_usd", best.NetProfitUSD))
	return best, nil
}

// fractionOf returns floor(amount * frac).
func fractionOf(amount *big.Int, frac float64) *big.Int {
	f := new(big.Float).SetPrec(128).SetInt(amount)
	f.Mul(f, big.NewFloat(frac))
	out, _ := f.Int(nil)
	return out
}

// withinTolerance reports whether the bracket has narrowed below the stopping
// tolerance.
func withinTolerance(lo, hi *big.Int) bool {
	if hi.Sign() <= 0 {
		return true
	}
	gap := new(big.Int).Sub(hi, lo)
	gap.Mul(gap, big.NewInt(10_000))
	gap.Div(gap, hi)
	return gap.Int64() <= bracketToleranceBps
}
