// Package profit applies the net-profit formula and the threshold gates to a
// candidate route at a concrete loan size.
package profit

import (
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/vegas-max/Titan2.0-sub003/internal/domain"
	"github.com/vegas-max/Titan2.0-sub003/internal/gas"
	"github.com/vegas-max/Titan2.0-sub003/internal/liquidity"
)

const bpsDenominator = 10_000

// Config holds the evaluation gates and cost parameters.
type Config struct {
	GasCeilingGwei   float64
	MinProfitUSD     float64
	MinProfitBps     float64
	MaxSlippageBps   float64
	MaxPoolImpactBps float64
	FlatFeeUSD       float64
	LoanRateBps      float64
	GasLimitPerSwap  uint64
	OpportunityTTL   time.Duration
}

// Quote is everything the evaluator needs to price one route without touching
// the network: the route, its loan token, a reserve snapshot per venue, and
// the chain's gas-coin reference price.
type Quote struct {
	Route     domain.Route
	LoanToken domain.Token
	States    map[string]liquidity.VenueState // keyed by venue ID
	NativeUSD float64
}

// Evaluator prices candidate routes. It is a pure function of its inputs;
// all chain reads happen upstream, which is what makes loan-size search
// re-invocable at low cost.
type Evaluator struct {
	cfg Config
}

// NewEvaluator builds an Evaluator.
func NewEvaluator(cfg Config) *Evaluator {
	if cfg.OpportunityTTL <= 0 {
		cfg.OpportunityTTL = 30 * time.Second
	}
	return &Evaluator{cfg: cfg}
}

// Evaluate prices the route at loanAmount under the given gas estimate.
// It returns either a fully populated Opportunity or a *domain.Rejection in
// the error position. Gate order is fixed: gas ceiling first (cheapest),
// then slippage, then pool impact, then the profit thresholds.
func (e *Evaluator) Evaluate(q Quote, loanAmount *big.Int, est gas.Estimate) (*domain.Opportunity, error) {
	if loanAmount == nil || loanAmount.Sign() <= 0 {
		return nil, domain.Reject(domain.RejectLoanInfeasible, "non-positive loan amount")
	}

	if est.ExceedsCeiling(gas.GweiToWei(e.cfg.GasCeilingGwei)) {
		return nil, domain.Reject(domain.RejectGasCeiling,
			"gas %.1f gwei above ceiling %.1f gwei", gas.WeiToGwei(est.GasPrice), e.cfg.GasCeilingGwei)
	}

	sim, err := e.simulate(q, loanAmount)
	if err != nil {
		return nil, err
	}

	if sim.slippageBps > e.cfg.MaxSlippageBps {
		return nil, domain.Reject(domain.RejectSlippage,
			"slippage %.1f bps above maximum %.1f bps", sim.slippageBps, e.cfg.MaxSlippageBps)
	}
	if sim.maxImpactBps > e.cfg.MaxPoolImpactBps {
		return nil, domain.Reject(domain.RejectLiquidity,
			"pool impact %.1f bps on %s above maximum %.1f bps",
			sim.maxImpactBps, sim.maxImpactVenue, e.cfg.MaxPoolImpactBps)
	}

	// net_profit = gross - flat_fee - loan_rate - gas, all in the loan token.
	gross := new(big.Int).Sub(sim.out, loanAmount)
	net := new(big.Int).Set(gross)
	if e.cfg.LoanRateBps > 0 {
		fee := mulBps(loanAmount, e.cfg.LoanRateBps)
		net.Sub(net, fee)
	}
	if e.cfg.FlatFeeUSD > 0 {
		net.Sub(net, q.LoanToken.AmountFromUSD(e.cfg.FlatFeeUSD))
	}
	gasLimit := e.cfg.GasLimitPerSwap * uint64(len(q.Route.Hops))
	gasCostUSD := gasCostUSD(est.GasPrice, gasLimit, q.NativeUSD)
	net.Sub(net, q.LoanToken.AmountFromUSD(gasCostUSD))

	netUSD := q.LoanToken.AmountUSD(net)
	loanUSD := q.LoanToken.AmountUSD(loanAmount)
	var netBps float64
	if loanUSD > 0 {
		netBps = netUSD / loanUSD * bpsDenominator
	}
	if netUSD < e.cfg.MinProfitUSD || netBps < e.cfg.MinProfitBps {
		return nil, domain.Reject(domain.RejectBelowProfit,
			"net $%.2f (%.1f bps) below minimums $%.2f / %.1f bps",
			netUSD, netBps, e.cfg.MinProfitUSD, e.cfg.MinProfitBps)
	}

	return &domain.Opportunity{
		ID:           uuid.NewString(),
		Route:        q.Route,
		LoanToken:    q.LoanToken,
		LoanAmount:   new(big.Int).Set(loanAmount),
		ExpectedOut:  sim.out,
		NetProfitUSD: netUSD,
		NetProfitBps: netBps,
		GasEstimate:  gasLimit,
		GasPriceWei:  new(big.Int).Set(est.GasPrice),
		SlippageBps:  sim.slippageBps,
		Chain:        q.Route.Chain,
		CreatedAt:    time.Now().UTC(),
		TTL:          e.cfg.OpportunityTTL,
	}, nil
}

type simResult struct {
	out            *big.Int
	slippageBps    float64
	maxImpactBps   float64
	maxImpactVenue string
}

// simulate composes the swap formula across every hop at the given size and
// again at spot (fee-adjusted, zero-impact) to measure slippage. All venue
// kinds price through the constant-product curve over the observed balances;
// for non-paired kinds that is a conservative approximation, and the router
// sends those routes through the generalized strategy anyway.
func (e *Evaluator) simulate(q Quote, loanAmount *big.Int) (simResult, error) {
	res := simResult{}
	amount := new(big.Int).Set(loanAmount)
	spot := newBigFloat().SetInt(loanAmount)

	for _, hop := range q.Route.Hops {
		state, ok := q.States[hop.Venue.ID()]
		if !ok {
			return res, domain.Reject(domain.RejectLiquidity, "no reserve snapshot for venue %s", hop.Venue.ID())
		}
		reserveIn, reserveOut, ok := state.ReservesFor(hop.TokenIn)
		if !ok {
			return res, domain.Reject(domain.RejectLiquidity, "venue %s does not pair hop tokens", hop.Venue.ID())
		}
		if reserveIn == nil || reserveOut == nil || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
			return res, domain.Reject(domain.RejectLiquidity, "venue %s has empty reserves", hop.Venue.ID())
		}

		impact := impactBps(amount, reserveIn)
		if impact > res.maxImpactBps {
			res.maxImpactBps = impact
			res.maxImpactVenue = hop.Venue.ID()
		}

		amount = swapOut(amount, reserveIn, reserveOut, hop.Venue.FeeBps)
		if amount.Sign() <= 0 {
			return res, domain.Reject(domain.RejectLiquidity, "venue %s drained by hop input", hop.Venue.ID())
		}
		spot = spotOut(spot, reserveIn, reserveOut, hop.Venue.FeeBps)
	}

	res.out = amount
	actual := newBigFloat().SetInt(amount)
	if spot.Sign() > 0 {
		diff := newBigFloat().Sub(spot, actual)
		diff.Quo(diff, spot)
		slip, _ := diff.Float64()
		res.slippageBps = slip * bpsDenominator
		if res.slippageBps < 0 {
			res.slippageBps = 0
		}
	}
	return res, nil
}

// swapOut applies the constant-product formula with a bps fee on input:
// out = in*(1-fee)*Rout / (Rin + in*(1-fee)).
func swapOut(amountIn, reserveIn, reserveOut *big.Int, feeBps uint32) *big.Int {
	keep := big.NewInt(int64(bpsDenominator - feeBps))
	inWithFee := new(big.Int).Mul(amountIn, keep)
	num := new(big.Int).Mul(inWithFee, reserveOut)
	den := new(big.Int).Mul(reserveIn, big.NewInt(bpsDenominator))
	den.Add(den, inWithFee)
	return num.Div(num, den)
}

// spotOut applies the fee-adjusted spot price with no size impact, the
// reference against which slippage is measured.
func spotOut(amountIn *big.Float, reserveIn, reserveOut *big.Int, feeBps uint32) *big.Float {
	out := newBigFloat().Set(amountIn)
	out.Mul(out, newBigFloat().SetInt(reserveOut))
	out.Quo(out, newBigFloat().SetInt(reserveIn))
	out.Mul(out, big.NewFloat(float64(bpsDenominator-feeBps)/bpsDenominator))
	return out
}

// impactBps returns the fraction of the input-side reserve consumed by the
// hop, in basis points.
func impactBps(amountIn, reserveIn *big.Int) float64 {
	num := newBigFloat().SetInt(amountIn)
	num.Quo(num, newBigFloat().SetInt(reserveIn))
	f, _ := num.Float64()
	return f * bpsDenominator
}

// mulBps returns amount * bps / 10000 rounded down.
func mulBps(amount *big.Int, bps float64) *big.Int {
	f := newBigFloat().SetInt(amount)
	f.Mul(f, big.NewFloat(bps/bpsDenominator))
	out, _ := f.Int(nil)
	return out
}

// gasCostUSD prices gasLimit units at gasPrice wei against the gas coin's
// reference price.
func gasCostUSD(gasPrice *big.Int, gasLimit uint64, nativeUSD float64) float64 {
	if gasPrice == nil || nativeUSD <= 0 {
		return 0
	}
	wei := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gasLimit))
	eth := newBigFloat().SetInt(wei)
	eth.Quo(eth, big.NewFloat(1e18))
	f, _ := eth.Float64()
	return f * nativeUSD
}

func newBigFloat() *big.Float {
	return new(big.Float).SetPrec(128)
}
