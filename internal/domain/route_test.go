package domain

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

func venue(chain ChainID, b byte, kind VenueKind) Venue {
	return Venue{
		Chain:   chain,
		Address: addr(b),
		Kind:    kind,
		FeeBps:  30,
		Router:  addr(0xEE),
		Name:    "test_venue",
	}
}

func TestNewRouteValid(t *testing.T) {
	hops := []Hop{
		{TokenIn: addr(1), TokenOut: addr(2), Venue: venue(ChainPolygon, 0xA1, VenueConstantProduct)},
		{TokenIn: addr(2), TokenOut: addr(1), Venue: venue(ChainPolygon, 0xA2, VenueConstantProduct)},
	}
	r, err := NewRoute(ChainPolygon, hops)
	require.NoError(t, err)
	assert.Equal(t, addr(1), r.LoanToken())
	assert.True(t, r.IsCycle())
	assert.True(t, r.PairedReserveOnly())
	assert.Equal(t, []string{hops[0].Venue.ID(), hops[1].Venue.ID()}, r.VenueIDs())
}

func TestNewRouteRejectsRepeatedVenue(t *testing.T) {
	v := venue(ChainPolygon, 0xA1, VenueConstantProduct)
	hops := []Hop{
		{TokenIn: addr(1), TokenOut: addr(2), Venue: v},
		{TokenIn: addr(2), TokenOut: addr(1), Venue: v},
	}
	_, err := NewRoute(ChainPolygon, hops)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "repeated")
}

func TestNewRouteRejectsDiscontinuity(t *testing.T) {
	hops := []Hop{
		{TokenIn: addr(1), TokenOut: addr(2), Venue: venue(ChainPolygon, 0xA1, VenueConstantProduct)},
		{TokenIn: addr(3), TokenOut: addr(1), Venue: venue(ChainPolygon, 0xA2, VenueConstantProduct)},
	}
	_, err := NewRoute(ChainPolygon, hops)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discontinuity")
}

func TestNewRouteRejectsCrossChainHop(t *testing.T) {
	hops := []Hop{
		{TokenIn: addr(1), TokenOut: addr(2), Venue: venue(ChainArbitrum, 0xA1, VenueConstantProduct)},
	}
	_, err := NewRoute(ChainPolygon, hops)
	require.Error(t, err)
}

func TestNewRouteHopBounds(t *testing.T) {
	_, err := NewRoute(ChainPolygon, nil)
	require.Error(t, err)

	hops := make([]Hop, MaxRouteHops+1)
	prev := addr(1)
	for i := range hops {
		next := addr(byte(i + 2))
		hops[i] = Hop{TokenIn: prev, TokenOut: next, Venue: venue(ChainPolygon, byte(0xB0+i), VenueConstantProduct)}
		prev = next
	}
	_, err = NewRoute(ChainPolygon, hops)
	require.Error(t, err)
}

func TestTokenSetKeyOrderInsensitive(t *testing.T) {
	forward := []Hop{
		{TokenIn: addr(1), TokenOut: addr(2), Venue: venue(ChainPolygon, 0xA1, VenueConstantProduct)},
		{TokenIn: addr(2), TokenOut: addr(1), Venue: venue(ChainPolygon, 0xA2, VenueConstantProduct)},
	}
	reverse := []Hop{
		{TokenIn: addr(2), TokenOut: addr(1), Venue: venue(ChainPolygon, 0xA1, VenueConstantProduct)},
		{TokenIn: addr(1), TokenOut: addr(2), Venue: venue(ChainPolygon, 0xA2, VenueConstantProduct)},
	}
	rf, err := NewRoute(ChainPolygon, forward)
	require.NoError(t, err)
	rr, err := NewRoute(ChainPolygon, reverse)
	require.NoError(t, err)
	assert.Equal(t, rf.TokenSetKey(), rr.TokenSetKey())
}

func TestPairedReserveOnly(t *testing.T) {
	hops := []Hop{
		{TokenIn: addr(1), TokenOut: addr(2), Venue: venue(ChainPolygon, 0xA1, VenueConstantProduct)},
		{TokenIn: addr(2), TokenOut: addr(1), Venue: venue(ChainPolygon, 0xA2, VenueConcentratedLiquidity)},
	}
	r, err := NewRoute(ChainPolygon, hops)
	require.NoError(t, err)
	assert.False(t, r.PairedReserveOnly())
}
