package router

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vegas-max/Titan2.0-sub003/internal/domain"
)

type stubEstimator struct {
	byTarget map[common.Address]uint64
	errs     map[common.Address]error
	calls    int
}

func (s *stubEstimator) EstimateGas(_ context.Context, _ domain.ChainID, _, to common.Address, _ []byte) (uint64, error) {
	s.calls++
	if err := s.errs[to]; err != nil {
		return 0, err
	}
	return s.byTarget[to], nil
}

var (
	pairedTarget  = common.HexToAddress("0x0000000000000000000000000000000000000AB1")
	generalTarget = common.HexToAddress("0x1111111111111111111111111111111111111111")
	signerAddr    = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mkVenue(b byte, kind domain.VenueKind) domain.Venue {
	var a common.Address
	a[19] = b
	return domain.Venue{
		Chain: domain.ChainPolygon, Address: a, Kind: kind,
		FeeBps: 30, Router: common.HexToAddress("0xEE"), Name: "quickswap",
	}
}

func tokenAddr(b byte) common.Address {
	var a common.Address
	a[18] = b
	return a
}

func mkOpportunity(t *testing.T, kinds ...domain.VenueKind) *domain.Opportunity {
	t.Helper()
	hops := make([]domain.Hop, len(kinds))
	for i, k := range kinds {
		in := tokenAddr(byte(i + 1))
		out := tokenAddr(byte(i + 2))
		if i == len(kinds)-1 {
			out = tokenAddr(1)
		}
		hops[i] = domain.Hop{TokenIn: in, TokenOut: out, Venue: mkVenue(byte(0xA0+i), k)}
	}
	route, err := domain.NewRoute(domain.ChainPolygon, hops)
	require.NoError(t, err)
	return &domain.Opportunity{
		ID:         "opp-1",
		Route:      route,
		LoanToken:  domain.Token{Chain: domain.ChainPolygon, Address: tokenAddr(1), Symbol: "USDC", Decimals: 6, USDPrice: 1},
		LoanAmount: big.NewInt(1_000_000_000),
		Chain:      domain.ChainPolygon,
		CreatedAt:  time.Now().UTC(),
		TTL:        30 * time.Second,
	}
}

func newTestRouter(est GasEstimator) *Router {
	targets := map[domain.ChainID]Targets{
		domain.ChainPolygon: {Paired: pairedTarget, General: generalTarget},
	}
	return New(est, NewRegistry(nil, nil), targets, signerAddr, testLogger())
}

func TestRouteTopologyGateSendsLongRoutesToGeneral(t *testing.T) {
	est := &stubEstimator{}
	r := newTestRouter(est)
	opp := mkOpportunity(t, domain.VenueConstantProduct, domain.VenueConstantProduct, domain.VenueConstantProduct)

	d, err := r.Route(context.Background(), opp, big.NewInt(1), time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyGeneral, d.Strategy)
	assert.Equal(t, ReasonTopologyMultiHop, d.Reason)
	assert.Equal(t, generalTarget, d.Target)
	assert.Equal(t, 0, est.calls, "capability gates must not simulate")
}

func TestRouteLiquidityGateSendsComplexVenuesToGeneral(t *testing.T) {
	est := &stubEstimator{}
	r := newTestRouter(est)
	opp := mkOpportunity(t, domain.VenueConstantProduct, domain.VenueConcentratedLiquidity)

	d, err := r.Route(context.Background(), opp, big.NewInt(1), time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyGeneral, d.Strategy)
	assert.Equal(t, ReasonVenueComplex, d.Reason)
	assert.Equal(t, 0, est.calls)
}

func TestRouteCostGatePrefersCheaperPaired(t *testing.T) {
	est := &stubEstimator{byTarget: map[common.Address]uint64{
		pairedTarget:  250_000,
		generalTarget: 400_000,
	}}
	r := newTestRouter(est)
	opp := mkOpportunity(t, domain.VenueConstantProduct, domain.VenueConstantProduct)

	d, err := r.Route(context.Background(), opp, big.NewInt(1), time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyPaired, d.Strategy)
	assert.Equal(t, ReasonPairedCheaper, d.Reason)
	assert.Equal(t, pairedTarget, d.Target)
	assert.Equal(t, uint64(250_000), d.GasLimit)
	assert.Equal(t, 2, est.calls)
}

func TestRouteCostGatePrefersCheaperGeneral(t *testing.T) {
	est := &stubEstimator{byTarget: map[common.Address]uint64{
		pairedTarget:  500_000,
		generalTarget: 300_000,
	}}
	r := newTestRouter(est)
	opp := mkOpportunity(t, domain.VenueConstantProduct, domain.VenueConstantProduct)

	d, err := r.Route(context.Background(), opp, big.NewInt(1), time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyGeneral, d.Strategy)
	assert.Equal(t, ReasonGeneralCheaper, d.Reason)
	assert.Equal(t, uint64(300_000), d.GasLimit)
}

func TestRouteCostGateTieGoesToPaired(t *testing.T) {
	est := &stubEstimator{byTarget: map[common.Address]uint64{
		pairedTarget:  300_000,
		generalTarget: 300_000,
	}}
	r := newTestRouter(est)
	opp := mkOpportunity(t, domain.VenueConstantProduct, domain.VenueConstantProduct)

	d, err := r.Route(context.Background(), opp, big.NewInt(1), time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyPaired, d.Strategy)
}

func TestRouteCostGateFailureDefaultsToGeneral(t *testing.T) {
	est := &stubEstimator{
		byTarget: map[common.Address]uint64{generalTarget: 300_000},
		errs:     map[common.Address]error{pairedTarget: errors.New("execution reverted")},
	}
	r := newTestRouter(est)
	opp := mkOpportunity(t, domain.VenueConstantProduct, domain.VenueConstantProduct)

	d, err := r.Route(context.Background(), opp, big.NewInt(1), time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyGeneral, d.Strategy)
	assert.Equal(t, ReasonSimulationFailed, d.Reason)
	assert.Equal(t, uint64(0), d.GasLimit)
}

func TestEncodeRawPayloadVersion(t *testing.T) {
	opp := mkOpportunity(t, domain.VenueConstantProduct, domain.VenueConstantProduct)
	reg := NewRegistry(nil, nil)

	payload, err := reg.Encode(opp, big.NewInt(1), time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.NotEmpty(t, payload)
	assert.Equal(t, PayloadRaw, payload[0])
}

func TestEncodeRegistryPayloadWhenCovered(t *testing.T) {
	opp := mkOpportunity(t, domain.VenueConstantProduct, domain.VenueConstantProduct)
	tokens := map[common.Address]uint16{}
	venues := map[string]uint16{}
	for i, h := range opp.Route.Hops {
		tokens[h.TokenIn] = uint16(i)
		tokens[h.TokenOut] = uint16(i + 10)
		venues[h.Venue.ID()] = uint16(i)
	}
	reg := NewRegistry(tokens, venues)

	payload, err := reg.Encode(opp, big.NewInt(1), time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, PayloadRegistry, payload[0])

	// Registry payloads carry IDs, not addresses, so they are much smaller.
	raw, err := NewRegistry(nil, nil).Encode(opp, big.NewInt(1), time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Less(t, len(payload), len(raw))
}

func TestEncodeFallsBackToRawWhenPartiallyCovered(t *testing.T) {
	opp := mkOpportunity(t, domain.VenueConstantProduct, domain.VenueConstantProduct)
	tokens := map[common.Address]uint16{opp.Route.Hops[0].TokenIn: 0}
	reg := NewRegistry(tokens, nil)

	payload, err := reg.Encode(opp, big.NewInt(1), time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, PayloadRaw, payload[0])
}
