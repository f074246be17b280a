package domain

import (
	"math/big"
	"time"
)

// ExecutionParams are the tunables the settlement collaborator applies when it
// fires the on-chain execution.
type ExecutionParams struct {
	SlippageBps     uint32 `json:"slippage_bps"`
	PriorityFeeGwei uint64 `json:"priority_fee"`
	DeadlineSeconds uint64 `json:"deadline_seconds"`
}

// ExecutionSignal is the boundary record handed to the settlement
// collaborator. It is written atomically to an outgoing directory and moved,
// not copied, to a processed directory on consumption, so either side can
// restart independently without double-execution.
type ExecutionSignal struct {
	ID                string          `json:"id"`
	Token             string          `json:"token"`
	ChainID           ChainID         `json:"chain_id"`
	Amount            string          `json:"amount"` // raw units, decimal string
	Route             []string        `json:"route"`  // venue IDs in hop order
	ExpectedProfitUSD float64         `json:"expected_profit_usd"`
	GasPriceWei       string          `json:"gas_price"`
	Execution         ExecutionParams `json:"execution_params"`
	Timestamp         time.Time       `json:"timestamp"`
}

// SignalFromOpportunity builds the boundary record for a sized opportunity.
func SignalFromOpportunity(opp Opportunity, params ExecutionParams) ExecutionSignal {
	gas := "0"
	if opp.GasPriceWei != nil {
		gas = opp.GasPriceWei.String()
	}
	amount := "0"
	if opp.LoanAmount != nil {
		amount = new(big.Int).Set(opp.LoanAmount).String()
	}
	return ExecutionSignal{
		ID:                opp.ID,
		Token:             opp.LoanToken.Address.Hex(),
		ChainID:           opp.Chain,
		Amount:            amount,
		Route:             opp.Route.VenueIDs(),
		ExpectedProfitUSD: opp.NetProfitUSD,
		GasPriceWei:       gas,
		Execution:         params,
		Timestamp:         opp.CreatedAt,
	}
}
