package domain

import (
	"errors"
	"fmt"
)

// RejectionCode labels why a candidate was turned away. Rejections during
// discovery and evaluation are the normal, cheap outcome of scanning; they
// are logged at low severity and never escalate.
type RejectionCode string

const (
	RejectGasCeiling     RejectionCode = "gas_ceiling_exceeded"
	RejectSlippage       RejectionCode = "slippage_exceeded"
	RejectLiquidity      RejectionCode = "insufficient_liquidity"
	RejectBelowProfit    RejectionCode = "below_profit_threshold"
	RejectLoanInfeasible RejectionCode = "loan_size_infeasible"
	RejectStale          RejectionCode = "opportunity_stale"
	RejectSimulation     RejectionCode = "simulation_reverted"
)

// Rejection records why a candidate route or opportunity was discarded. It
// implements error so evaluators can return it in the error position, but it
// represents a normal outcome, not a fault.
type Rejection struct {
	Code   RejectionCode
	Detail string
	err    error
}

// Reject builds a Rejection with a formatted detail string.
func Reject(code RejectionCode, format string, args ...any) *Rejection {
	return &Rejection{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// RejectWrap builds a Rejection carrying an underlying sentinel so callers
// can classify with errors.Is while the breaker still sees a rejection.
func RejectWrap(code RejectionCode, err error, format string, args ...any) *Rejection {
	return &Rejection{Code: code, Detail: fmt.Sprintf(format, args...), err: err}
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return string(r.Code)
	}
	return string(r.Code) + ": " + r.Detail
}

func (r *Rejection) Unwrap() error { return r.err }

// AsRejection unwraps err into a *Rejection, or returns nil if err carries no
// rejection.
func AsRejection(err error) *Rejection {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej
	}
	return nil
}
