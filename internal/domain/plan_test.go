package domain

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOpportunity(t *testing.T) Opportunity {
	t.Helper()
	hops := []Hop{
		{TokenIn: addr(1), TokenOut: addr(2), Venue: venue(ChainPolygon, 0xA1, VenueConstantProduct)},
		{TokenIn: addr(2), TokenOut: addr(1), Venue: venue(ChainPolygon, 0xA2, VenueConstantProduct)},
	}
	route, err := NewRoute(ChainPolygon, hops)
	require.NoError(t, err)
	return Opportunity{
		ID:           "opp-1",
		Route:        route,
		LoanToken:    Token{Chain: ChainPolygon, Address: addr(1), Symbol: "USDC", Decimals: 6, USDPrice: 1},
		LoanAmount:   big.NewInt(1_000_000_000),
		ExpectedOut:  big.NewInt(1_005_000_000),
		NetProfitUSD: 5,
		Chain:        ChainPolygon,
		CreatedAt:    time.Now().UTC(),
		TTL:          30 * time.Second,
	}
}

func TestNewExecutionPlanDeadlineMustBeInFuture(t *testing.T) {
	opp := testOpportunity(t)
	now := time.Now().UTC()

	_, err := NewExecutionPlan("p1", opp, StrategyPaired, []byte{1}, big.NewInt(1), addr(0xFF), now, now)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDegenerateDeadline))

	_, err = NewExecutionPlan("p1", opp, StrategyPaired, []byte{1}, big.NewInt(1), addr(0xFF), now.Add(-time.Second), now)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDegenerateDeadline))
}

func TestNewExecutionPlanDeadlineWindowCap(t *testing.T) {
	opp := testOpportunity(t)
	now := time.Now().UTC()

	_, err := NewExecutionPlan("p1", opp, StrategyPaired, []byte{1}, big.NewInt(1), addr(0xFF), now.Add(MaxDeadlineWindow+time.Second), now)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDegenerateDeadline))

	plan, err := NewExecutionPlan("p1", opp, StrategyPaired, []byte{1}, big.NewInt(1), addr(0xFF), now.Add(time.Minute), now)
	require.NoError(t, err)
	assert.Equal(t, PlanBuilt, plan.State)
}

func TestNewExecutionPlanRejectsEmptyPayload(t *testing.T) {
	opp := testOpportunity(t)
	now := time.Now().UTC()
	_, err := NewExecutionPlan("p1", opp, StrategyGeneral, nil, big.NewInt(1), addr(0xFF), now.Add(time.Minute), now)
	require.Error(t, err)
}

func TestPlanTransitionLifecycle(t *testing.T) {
	opp := testOpportunity(t)
	now := time.Now().UTC()
	plan, err := NewExecutionPlan("p1", opp, StrategyPaired, []byte{1}, big.NewInt(1), addr(0xFF), now.Add(time.Minute), now)
	require.NoError(t, err)

	for _, next := range []PlanState{PlanSimulated, PlanPriced, PlanSigned, PlanSubmitted, PlanConfirmed} {
		require.NoError(t, plan.Transition(next))
	}
	assert.True(t, plan.State.Terminal())

	// Terminal states accept no further transitions.
	err = plan.Transition(PlanDropped)
	require.Error(t, err)
}

func TestPlanTransitionRejectsSkips(t *testing.T) {
	opp := testOpportunity(t)
	now := time.Now().UTC()
	plan, err := NewExecutionPlan("p1", opp, StrategyPaired, []byte{1}, big.NewInt(1), addr(0xFF), now.Add(time.Minute), now)
	require.NoError(t, err)

	err = plan.Transition(PlanSubmitted)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "illegal transition")
}

func TestOpportunityExpiry(t *testing.T) {
	opp := testOpportunity(t)
	assert.False(t, opp.Expired(opp.CreatedAt))
	assert.False(t, opp.Expired(opp.CreatedAt.Add(29*time.Second)))
	assert.True(t, opp.Expired(opp.CreatedAt.Add(30*time.Second)))
}

func TestAsRejection(t *testing.T) {
	rej := Reject(RejectSlippage, "slippage %d bps", 120)
	assert.Equal(t, RejectSlippage, AsRejection(rej).Code)
	assert.Contains(t, rej.Error(), "120")
	assert.Nil(t, AsRejection(errors.New("plain")))
}

func TestRejectWrapCarriesSentinel(t *testing.T) {
	// A wrapped rejection must classify both ways: as a rejection for the
	// breaker and stores, and as its sentinel for errors.Is callers.
	rej := RejectWrap(RejectStale, ErrDeadlineExpired, "deadline %s passed", "2026-08-26T09:30:00Z")
	require.NotNil(t, AsRejection(rej))
	assert.Equal(t, RejectStale, AsRejection(rej).Code)
	assert.ErrorIs(t, rej, ErrDeadlineExpired)
	assert.NotErrorIs(t, rej, ErrSimulationReverted)

	// Plain rejections carry no sentinel.
	assert.NoError(t, Reject(RejectStale, "expired").Unwrap())
}
