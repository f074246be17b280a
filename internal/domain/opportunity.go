package domain

import (
	"math/big"
	"time"
)

// Opportunity is a route that passed profit gating, sized and ready for
// execution routing. It is consumed exactly once; if it sits past its TTL the
// router discards it, because the price data behind it has decayed.
type Opportunity struct {
	ID           string
	Route        Route
	LoanToken    Token
	LoanAmount   *big.Int
	ExpectedOut  *big.Int
	NetProfitUSD float64
	NetProfitBps float64
	GasEstimate  uint64
	GasPriceWei  *big.Int
	SlippageBps  float64
	Chain        ChainID
	CreatedAt    time.Time
	TTL          time.Duration
}

// ExpiresAt returns the instant after which the opportunity is stale.
func (o Opportunity) ExpiresAt() time.Time {
	return o.CreatedAt.Add(o.TTL)
}

// Expired reports whether the opportunity is stale at the given clock.
func (o Opportunity) Expired(now time.Time) bool {
	return !now.Before(o.ExpiresAt())
}
