package domain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// MaxRouteHops bounds route length. Longer paths compound slippage and gas
// beyond anything the profit gates would accept.
const MaxRouteHops = 5

// Hop is one swap: TokenIn is traded for TokenOut on Venue.
type Hop struct {
	TokenIn  common.Address
	TokenOut common.Address
	Venue    Venue
}

// Route is an ordered sequence of hops. A Route is a value object: once
// constructed it is never mutated, only superseded by a newly constructed
// candidate in the next scan cycle.
type Route struct {
	Chain ChainID
	Hops  []Hop
}

// NewRoute validates and constructs a Route. It enforces the structural
// invariants: 1..MaxRouteHops hops, contiguous tokens, all hops on one chain,
// and no venue appearing twice.
func NewRoute(chain ChainID, hops []Hop) (Route, error) {
	if len(hops) == 0 || len(hops) > MaxRouteHops {
		return Route{}, fmt.Errorf("route: hop count %d outside [1, %d]", len(hops), MaxRouteHops)
	}
	seen := make(map[string]bool, len(hops))
	for i, h := range hops {
		if err := h.Venue.Validate(); err != nil {
			return Route{}, fmt.Errorf("route hop %d: %w", i, err)
		}
		if h.Venue.Chain != chain {
			return Route{}, fmt.Errorf("route hop %d: venue on chain %d, route on chain %d", i, h.Venue.Chain, chain)
		}
		if i > 0 && hops[i-1].TokenOut != h.TokenIn {
			return Route{}, fmt.Errorf("route hop %d: token discontinuity", i)
		}
		id := h.Venue.ID()
		if seen[id] {
			return Route{}, fmt.Errorf("route hop %d: venue %s repeated", i, id)
		}
		seen[id] = true
	}
	out := Route{Chain: chain, Hops: make([]Hop, len(hops))}
	copy(out.Hops, hops)
	return out, nil
}

// LoanToken is the token the route starts from. For a flash-loan cycle this
// equals the final output token.
func (r Route) LoanToken() common.Address {
	return r.Hops[0].TokenIn
}

// IsCycle reports whether the route returns to its loan token.
func (r Route) IsCycle() bool {
	return len(r.Hops) > 0 && r.Hops[len(r.Hops)-1].TokenOut == r.Hops[0].TokenIn
}

// TokenSetKey returns an order-insensitive key over the route's distinct
// tokens, used by the scanner to deduplicate near-identical paths.
func (r Route) TokenSetKey() string {
	set := make(map[common.Address]bool, len(r.Hops)+1)
	for _, h := range r.Hops {
		set[h.TokenIn] = true
		set[h.TokenOut] = true
	}
	keys := make([]string, 0, len(set))
	for a := range set {
		keys = append(keys, a.Hex())
	}
	sort.Strings(keys)
	return strings.Join(keys, "|")
}

// VenueIDs returns the venue identifiers in hop order.
func (r Route) VenueIDs() []string {
	out := make([]string, len(r.Hops))
	for i, h := range r.Hops {
		out[i] = h.Venue.ID()
	}
	return out
}

// PairedReserveOnly reports whether every venue in the route is of the simple
// paired-reserve kind.
func (r Route) PairedReserveOnly() bool {
	for _, h := range r.Hops {
		if !h.Venue.Kind.PairedReserve() {
			return false
		}
	}
	return true
}

// String renders the route as "USDC[0x..]-(sushiswap)->WETH[0x..]" style text
// for logs.
func (r Route) String() string {
	var b strings.Builder
	for i, h := range r.Hops {
		if i == 0 {
			b.WriteString(shortAddr(h.TokenIn))
		}
		fmt.Fprintf(&b, "-(%s)->%s", h.Venue.Name, shortAddr(h.TokenOut))
	}
	return b.String()
}

func shortAddr(a common.Address) string {
	h := a.Hex()
	if len(h) > 10 {
		return h[:10]
	}
	return h
}
