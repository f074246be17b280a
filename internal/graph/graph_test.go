package graph

import (
	"io"
	"log/slog"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vegas-max/Titan2.0-sub003/internal/config"
	"github.com/vegas-max/Titan2.0-sub003/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const (
	addrUSDC = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"
	addrWETH = "0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619"
	addrWMAT = "0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270"
)

func pool(i int) string {
	return common.BytesToAddress([]byte{0xA0, byte(i)}).Hex()
}

// triangleConfig builds USDC, WETH, WMATIC with pools USDC/WETH (x2),
// WETH/WMATIC, and WMATIC/USDC.
func triangleConfig() config.ChainConfig {
	tokens := []config.TokenConfig{
		{Symbol: "USDC", Address: addrUSDC, Decimals: 6, USDPrice: 1, Tier: 1, Loanable: true},
		{Symbol: "WETH", Address: addrWETH, Decimals: 18, USDPrice: 2000, Tier: 1, Loanable: true},
		{Symbol: "WMATIC", Address: addrWMAT, Decimals: 18, USDPrice: 0.5, Tier: 2},
	}
	venues := []config.VenueConfig{
		{Name: "quickswap", Address: pool(1), Router: pool(9), Kind: "constant_product", FeeBps: 30, Token0: "USDC", Token1: "WETH"},
		{Name: "sushiswap", Address: pool(2), Router: pool(9), Kind: "constant_product", FeeBps: 30, Token0: "USDC", Token1: "WETH"},
		{Name: "quickswap", Address: pool(3), Router: pool(9), Kind: "constant_product", FeeBps: 30, Token0: "WETH", Token1: "WMATIC"},
		{Name: "quickswap", Address: pool(4), Router: pool(9), Kind: "constant_product", FeeBps: 30, Token0: "WMATIC", Token1: "USDC"},
	}
	return config.ChainConfig{Tokens: tokens, Venues: venues}
}

func TestBuildTriangle(t *testing.T) {
	g, err := Build(domain.ChainPolygon, triangleConfig())
	require.NoError(t, err)

	assert.Equal(t, 4, g.VenueCount())
	assert.Len(t, g.Tokens(), 3)

	loanable := g.LoanableTokens()
	require.Len(t, loanable, 2)
	for _, ti := range loanable {
		assert.Contains(t, []string{"USDC", "WETH"}, ti.Token.Symbol)
	}

	ti, ok := g.Token(common.HexToAddress(addrWMAT))
	require.True(t, ok)
	assert.Equal(t, 2, ti.Tier)
	assert.False(t, ti.Loanable)
}

func TestBuildRejectsBadAddress(t *testing.T) {
	cc := triangleConfig()
	cc.Tokens[0].Address = "not-an-address"
	_, err := Build(domain.ChainPolygon, cc)
	require.Error(t, err)
}

func TestBuildRejectsUnknownTokenSymbol(t *testing.T) {
	cc := triangleConfig()
	cc.Venues[0].Token1 = "DOGE"
	_, err := Build(domain.ChainPolygon, cc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown token symbol")
}

func TestCyclesTwoHopAndTriangle(t *testing.T) {
	g, err := Build(domain.ChainPolygon, triangleConfig())
	require.NoError(t, err)
	s := NewScanner(g, 3, testLogger())

	routes := s.Cycles(common.HexToAddress(addrUSDC))
	require.NotEmpty(t, routes)

	var twoHop, threeHop int
	for _, r := range routes {
		assert.True(t, r.IsCycle())
		assert.Equal(t, common.HexToAddress(addrUSDC), r.LoanToken())
		switch len(r.Hops) {
		case 2:
			twoHop++
		case 3:
			threeHop++
		default:
			t.Fatalf("unexpected hop count %d", len(r.Hops))
		}
		ids := map[string]bool{}
		for _, h := range r.Hops {
			assert.False(t, ids[h.Venue.ID()], "venue repeated in %s", r)
			ids[h.Venue.ID()] = true
		}
	}
	// USDC/WETH over two distinct pools gives exactly one deduplicated
	// two-hop loop; the triangle contributes three-hop loops through both
	// USDC/WETH pools.
	assert.Equal(t, 1, twoHop)
	assert.Equal(t, 2, threeHop)
}

func TestCyclesDeduplicatesOrientation(t *testing.T) {
	g, err := Build(domain.ChainPolygon, triangleConfig())
	require.NoError(t, err)
	s := NewScanner(g, 3, testLogger())

	routes := s.Cycles(common.HexToAddress(addrUSDC))
	keys := map[string]bool{}
	for _, r := range routes {
		k := cycleKey(r)
		assert.False(t, keys[k], "duplicate cycle %s", r)
		keys[k] = true
	}
}

func TestCyclesRespectsMaxHops(t *testing.T) {
	g, err := Build(domain.ChainPolygon, triangleConfig())
	require.NoError(t, err)
	s := NewScanner(g, 2, testLogger())

	for _, r := range s.Cycles(common.HexToAddress(addrUSDC)) {
		assert.LessOrEqual(t, len(r.Hops), 2)
	}
}

func TestActiveLoanTokensTierCadence(t *testing.T) {
	cc := triangleConfig()
	cc.Tokens[1].Tier = 3 // WETH every fifth cycle
	g, err := Build(domain.ChainPolygon, cc)
	require.NoError(t, err)
	s := NewScanner(g, 3, testLogger())

	symbolsAt := func(cycle uint64) []string {
		var out []string
		for _, ti := range s.ActiveLoanTokens(cycle) {
			out = append(out, ti.Token.Symbol)
		}
		return out
	}

	assert.ElementsMatch(t, []string{"USDC", "WETH"}, symbolsAt(0))
	assert.ElementsMatch(t, []string{"USDC"}, symbolsAt(1))
	assert.ElementsMatch(t, []string{"USDC"}, symbolsAt(4))
	assert.ElementsMatch(t, []string{"USDC", "WETH"}, symbolsAt(5))
}
