package router

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/vegas-max/Titan2.0-sub003/internal/domain"
)

// Payload versions. The leading byte of every encoded payload names its
// scheme, so the boundary contract can accept new tokens and venues without
// redeployment.
const (
	// PayloadRaw encodes every token and venue as a raw address.
	PayloadRaw byte = 1
	// PayloadRegistry encodes tokens and venues as compact registry IDs;
	// usable only when every participant is registered.
	PayloadRegistry byte = 2
)

var (
	typeAddress   = mustType("address")
	typeAddresses = mustType("address[]")
	typeUint256   = mustType("uint256")
	typeUint24s   = mustType("uint24[]")
	typeUint16    = mustType("uint16")
	typeUint16s   = mustType("uint16[]")
)

func mustType(t string) abi.Type {
	out, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("router: abi type %s: %v", t, err))
	}
	return out
}

var rawArgs = abi.Arguments{
	{Name: "loanToken", Type: typeAddress},
	{Name: "loanAmount", Type: typeUint256},
	{Name: "minOut", Type: typeUint256},
	{Name: "deadline", Type: typeUint256},
	{Name: "path", Type: typeAddresses},
	{Name: "pools", Type: typeAddresses},
	{Name: "routers", Type: typeAddresses},
	{Name: "fees", Type: typeUint24s},
}

var registryArgs = abi.Arguments{
	{Name: "loanToken", Type: typeUint16},
	{Name: "loanAmount", Type: typeUint256},
	{Name: "minOut", Type: typeUint256},
	{Name: "deadline", Type: typeUint256},
	{Name: "venues", Type: typeUint16s},
}

// Registry maps well-known token and venue addresses to compact IDs shared
// with the boundary contract. An empty registry is valid; every payload then
// uses the raw scheme.
type Registry struct {
	tokens map[common.Address]uint16
	venues map[string]uint16
}

// NewRegistry builds a Registry from explicit assignments.
func NewRegistry(tokens map[common.Address]uint16, venues map[string]uint16) *Registry {
	if tokens == nil {
		tokens = map[common.Address]uint16{}
	}
	if venues == nil {
		venues = map[string]uint16{}
	}
	return &Registry{tokens: tokens, venues: venues}
}

// covers reports whether every token and venue of the route is registered.
func (r *Registry) covers(route domain.Route) bool {
	if r == nil {
		return false
	}
	for _, h := range route.Hops {
		if _, ok := r.tokens[h.TokenIn]; !ok {
			return false
		}
		if _, ok := r.tokens[h.TokenOut]; !ok {
			return false
		}
		if _, ok := r.venues[h.Venue.ID()]; !ok {
			return false
		}
	}
	return true
}

// Encode builds the versioned payload for an opportunity. The registry scheme
// is preferred when it covers the whole route; otherwise raw addresses.
func (r *Registry) Encode(opp *domain.Opportunity, minOut *big.Int, deadline time.Time) ([]byte, error) {
	if r.covers(opp.Route) {
		return r.encodeRegistry(opp, minOut, deadline)
	}
	return encodeRaw(opp, minOut, deadline)
}

func encodeRaw(opp *domain.Opportunity, minOut *big.Int, deadline time.Time) ([]byte, error) {
	hops := opp.Route.Hops
	path := make([]common.Address, 0, len(hops)+1)
	path = append(path, hops[0].TokenIn)
	pools := make([]common.Address, 0, len(hops))
	routers := make([]common.Address, 0, len(hops))
	fees := make([]*big.Int, 0, len(hops))
	for _, h := range hops {
		path = append(path, h.TokenOut)
		pools = append(pools, h.Venue.Address)
		routers = append(routers, h.Venue.Router)
		fees = append(fees, big.NewInt(int64(h.Venue.FeeBps)))
	}
	packed, err := rawArgs.Pack(opp.LoanToken.Address, opp.LoanAmount, minOut, big.NewInt(deadline.Unix()), path, pools, routers, fees)
	if err != nil {
		return nil, fmt.Errorf("router: pack raw payload: %w", err)
	}
	return append([]byte{PayloadRaw}, packed...), nil
}

func (r *Registry) encodeRegistry(opp *domain.Opportunity, minOut *big.Int, deadline time.Time) ([]byte, error) {
	venues := make([]uint16, 0, len(opp.Route.Hops))
	for _, h := range opp.Route.Hops {
		venues = append(venues, r.venues[h.Venue.ID()])
	}
	packed, err := registryArgs.Pack(r.tokens[opp.LoanToken.Address], opp.LoanAmount, minOut, big.NewInt(deadline.Unix()), venues)
	if err != nil {
		return nil, fmt.Errorf("router: pack registry payload: %w", err)
	}
	return append([]byte{PayloadRegistry}, packed...), nil
}
