// Package graph builds the per-chain route graph from the configured token
// and venue inventory and enumerates candidate arbitrage cycles over it.
package graph

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vegas-max/Titan2.0-sub003/internal/config"
	"github.com/vegas-max/Titan2.0-sub003/internal/domain"
)

// TokenInfo is a configured token plus its scan-scheduling attributes.
type TokenInfo struct {
	Token    domain.Token
	Tier     int
	Loanable bool
}

// edge is one directed traversal of a venue.
type edge struct {
	venue domain.Venue
	to    common.Address
}

// Graph is the per-chain token/venue topology. Nodes are tokens, edges are
// venues; every venue contributes a traversal in both directions. A Graph is
// built once from configuration and is read-only afterwards, so it is safe
// for concurrent scans.
type Graph struct {
	Chain  domain.ChainID
	tokens map[common.Address]TokenInfo
	adj    map[common.Address][]edge
}

// Build constructs the Graph for one chain from its configured inventory.
// Venues referencing unknown token symbols were already rejected by config
// validation, so a lookup miss here is a programming error worth surfacing.
func Build(chain domain.ChainID, cc config.ChainConfig) (*Graph, error) {
	g := &Graph{
		Chain:  chain,
		tokens: make(map[common.Address]TokenInfo, len(cc.Tokens)),
		adj:    make(map[common.Address][]edge),
	}

	bySymbol := make(map[string]common.Address, len(cc.Tokens))
	for _, tc := range cc.Tokens {
		if !common.IsHexAddress(tc.Address) {
			return nil, fmt.Errorf("graph: chain %d token %s: bad address %q", chain, tc.Symbol, tc.Address)
		}
		addr := common.HexToAddress(tc.Address)
		g.tokens[addr] = TokenInfo{
			Token: domain.Token{
				Chain:    chain,
				Address:  addr,
				Symbol:   tc.Symbol,
				Decimals: uint8(tc.Decimals),
				USDPrice: tc.USDPrice,
			},
			Tier:     normalizeTier(tc.Tier),
			Loanable: tc.Loanable,
		}
		bySymbol[tc.Symbol] = addr
	}

	for _, vc := range cc.Venues {
		if !common.IsHexAddress(vc.Address) {
			return nil, fmt.Errorf("graph: chain %d venue %s: bad address %q", chain, vc.Name, vc.Address)
		}
		t0, ok0 := bySymbol[vc.Token0]
		t1, ok1 := bySymbol[vc.Token1]
		if !ok0 || !ok1 {
			return nil, fmt.Errorf("graph: chain %d venue %s: unknown token symbol", chain, vc.Name)
		}
		venue := domain.Venue{
			Chain:   chain,
			Address: common.HexToAddress(vc.Address),
			Kind:    domain.VenueKind(vc.Kind),
			FeeBps:  uint32(vc.FeeBps),
			Router:  common.HexToAddress(vc.Router),
			Name:    vc.Name,
		}
		if err := venue.Validate(); err != nil {
			return nil, fmt.Errorf("graph: chain %d: %w", chain, err)
		}
		g.adj[t0] = append(g.adj[t0], edge{venue: venue, to: t1})
		g.adj[t1] = append(g.adj[t1], edge{venue: venue, to: t0})
	}
	return g, nil
}

func normalizeTier(t int) int {
	if t < 1 || t > 3 {
		return 1
	}
	return t
}

// Token returns the token info for an address.
func (g *Graph) Token(addr common.Address) (TokenInfo, bool) {
	t, ok := g.tokens[addr]
	return t, ok
}

// Tokens returns every token in the inventory.
func (g *Graph) Tokens() []TokenInfo {
	out := make([]TokenInfo, 0, len(g.tokens))
	for _, t := range g.tokens {
		out = append(out, t)
	}
	return out
}

// LoanableTokens returns the tokens that can anchor a flash-loan cycle.
func (g *Graph) LoanableTokens() []TokenInfo {
	out := make([]TokenInfo, 0, len(g.tokens))
	for _, t := range g.tokens {
		if t.Loanable {
			out = append(out, t)
		}
	}
	return out
}

// VenueCount returns the number of distinct venues in the graph.
func (g *Graph) VenueCount() int {
	seen := make(map[string]bool)
	for _, edges := range g.adj {
		for _, e := range edges {
			seen[e.venue.ID()] = true
		}
	}
	return len(seen)
}

// Venues returns every distinct venue with its token pair, for reserve
// prefetching. Token order matches the venue's configured token0/token1.
func (g *Graph) Venues() []VenuePair {
	seen := make(map[string]bool)
	var out []VenuePair
	for from, edges := range g.adj {
		for _, e := range edges {
			id := e.venue.ID()
			if seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, VenuePair{Venue: e.venue, Token0: from, Token1: e.to})
		}
	}
	return out
}

// VenuePair is a venue and its two tokens.
type VenuePair struct {
	Venue  domain.Venue
	Token0 common.Address
	Token1 common.Address
}

// cycleKey builds an orientation-insensitive identity for a cycle so the same
// loop discovered twice (reversed, or rotated through a different loan token)
// is enumerated once.
func cycleKey(r domain.Route) string {
	ids := r.VenueIDs()
	// Sorted venue set plus token set: two routes with identical venues and
	// tokens are the same physical loop.
	sortStrings(ids)
	return strings.Join(ids, "|") + "#" + r.TokenSetKey()
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}
