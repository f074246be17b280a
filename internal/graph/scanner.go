package graph

import (
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vegas-max/Titan2.0-sub003/internal/domain"
)

// tierCadence maps a token tier to how many scan cycles pass between visits.
// Tier 1 tokens are scanned every cycle, tier 2 every other, tier 3 every
// fifth.
var tierCadence = map[int]uint64{1: 1, 2: 2, 3: 5}

// Scanner enumerates candidate arbitrage cycles over a Graph. Enumeration is
// pure graph traversal; reserve snapshots and profit math happen downstream.
type Scanner struct {
	graph   *Graph
	maxHops int
	logger  *slog.Logger
}

// NewScanner builds a Scanner. maxHops bounds cycle length in swaps and is
// clamped to the route limit.
func NewScanner(g *Graph, maxHops int, logger *slog.Logger) *Scanner {
	if maxHops < 2 {
		maxHops = 2
	}
	if maxHops > domain.MaxRouteHops {
		maxHops = domain.MaxRouteHops
	}
	return &Scanner{
		graph:   g,
		maxHops: maxHops,
		logger:  logger.With(slog.String("component", "scanner"), slog.String("chain", g.Chain.Name())),
	}
}

// ActiveLoanTokens returns the loanable tokens due for scanning on the given
// cycle number, per their tier cadence.
func (s *Scanner) ActiveLoanTokens(cycle uint64) []TokenInfo {
	var out []TokenInfo
	for _, t := range s.graph.LoanableTokens() {
		if cycle%tierCadence[t.Tier] == 0 {
			out = append(out, t)
		}
	}
	return out
}

// Cycles enumerates routes that start and end at loanToken, visiting between
// 2 and maxHops venues with no venue repeated. Reversed and rotated traversals
// of the same loop are deduplicated.
func (s *Scanner) Cycles(loanToken common.Address) []domain.Route {
	seen := make(map[string]bool)
	var out []domain.Route

	var hops []domain.Hop
	usedVenues := make(map[string]bool)

	var walk func(current common.Address)
	walk = func(current common.Address) {
		for _, e := range s.graph.adj[current] {
			id := e.venue.ID()
			if usedVenues[id] {
				continue
			}
			hops = append(hops, domain.Hop{TokenIn: current, TokenOut: e.to, Venue: e.venue})
			usedVenues[id] = true

			if e.to == loanToken {
				if len(hops) >= 2 {
					if route, err := domain.NewRoute(s.graph.Chain, hops); err == nil {
						key := cycleKey(route)
						if !seen[key] {
							seen[key] = true
							out = append(out, route)
						}
					}
				}
			} else if len(hops) < s.maxHops {
				// Only extend through tokens we have a price reference for;
				// anything else cannot pass the dollar-denominated gates.
				if _, known := s.graph.Token(e.to); known {
					walk(e.to)
				}
			}

			usedVenues[id] = false
			hops = hops[:len(hops)-1]
		}
	}
	walk(loanToken)

	if len(out) > 0 {
		s.logger.Debug("cycle enumeration complete",
			slog.String("loan_token", loanToken.Hex()),
			slog.Int("candidates", len(out)))
	}
	return out
}
