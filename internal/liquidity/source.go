// Package liquidity abstracts "get reserves for venue X" behind one
// interface, with direct contract reads as the default backend and a
// short-TTL cache serving concurrent lookups.
package liquidity

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vegas-max/Titan2.0-sub003/internal/domain"
)

// VenueState is an immutable observation of one venue's reserves. Refreshes
// replace the whole value; nothing mutates a VenueState in place.
type VenueState struct {
	Venue      domain.Venue
	Token0     common.Address
	Token1     common.Address
	Reserve0   *big.Int
	Reserve1   *big.Int
	ObservedAt time.Time
}

// ReservesFor orients the state's reserves for a swap of tokenIn. ok is
// false when tokenIn is on neither side of the pool.
func (s VenueState) ReservesFor(tokenIn common.Address) (reserveIn, reserveOut *big.Int, ok bool) {
	switch tokenIn {
	case s.Token0:
		return s.Reserve0, s.Reserve1, true
	case s.Token1:
		return s.Reserve1, s.Reserve0, true
	}
	return nil, nil, false
}

// Source answers reserve and lender-TVL queries. Implementations are fallible
// network services; callers always pass a bounded context.
type Source interface {
	VenueState(ctx context.Context, venue domain.Venue, token0, token1 common.Address) (VenueState, error)
	LenderTVL(ctx context.Context, chain domain.ChainID, lender, token common.Address) (*big.Int, error)
}
