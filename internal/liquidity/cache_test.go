package liquidity

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

type fakeSource struct {
	states     map[string]VenueState
	tvl        *big.Int
	err        error
	venueCalls int
	tvlCalls   int
}

func (f *fakeSource) VenueState(_ context.Context, venue domain.Venue, _, _ common.Address) (VenueState, error) {
	f.venueCalls++
	if f.err != nil {
		return VenueState{}, f.err
	}
	return f.states[venue.ID()], nil
}

func (f *fakeSource) LenderTVL(_ context.Context, _ domain.ChainID, _, _ common.Address) (*big.Int, error) {
	f.tvlCalls++
	if f.err != nil {
		return nil, f.err
	}
	return new(big.Int).Set(f.tvl), nil
}

type fakeMirror struct {
	r0, r1      *big.Int
	ts          time.Time
	getErr      error
	sets        int
	invalidated []string
}

func (m *fakeMirror) SetReserves(_ context.Context, _ string, r0, r1 *big.Int, ts time.Time) error {
	m.sets++
	m.r0, m.r1, m.ts = r0, r1, ts
	return nil
}

func (m *fakeMirror) GetReserves(_ context.Context, _ string) (*big.Int, *big.Int, time.Time, error) {
	if m.getErr != nil {
		return nil, nil, time.Time{}, m.getErr
	}
	return m.r0, m.r1, m.ts, nil
}

func (m *fakeMirror) Invalidate(_ context.Context, venueID string) error {
	m.invalidated = append(m.invalidated, venueID)
	return nil
}

func cacheTestVenue() domain.Venue {
	return domain.Venue{
		Chain:   domain.ChainPolygon,
		Address: common.HexToAddress("0x853Ee4b2A13f8a742d64C8F088bE7bA2131f670d"),
		Kind:    domain.VenueConstantProduct,
		FeeBps:  30,
		Router:  common.HexToAddress("0xEE"),
		Name:    "quickswap",
	}
}

func cacheLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestVenueStateServedFromLocalCacheWithinTTL(t *testing.T) {
	v := cacheTestVenue()
	t0 := common.HexToAddress("0x01")
	t1 := common.HexToAddress("0x02")
	inner := &fakeSource{states: map[string]VenueState{
		v.ID(): {Venue: v, Token0: t0, Token1: t1, Reserve0: big.NewInt(100), Reserve1: big.NewInt(200), ObservedAt: time.Now()},
	}}
	c := NewCachingSource(inner, nil, time.Minute, cacheLogger())

	first, err := c.VenueState(context.Background(), v, t0, t1)
	require.NoError(t, err)
	second, err := c.VenueState(context.Background(), v, t0, t1)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.venueCalls, "second read must hit the cache")
}

func TestVenueStateServesStaleOnInnerFailure(t *testing.T) {
	v := cacheTestVenue()
	t0 := common.HexToAddress("0x01")
	t1 := common.HexToAddress("0x02")
	inner := &fakeSource{states: map[string]VenueState{
		v.ID(): {Venue: v, Token0: t0, Token1: t1, Reserve0: big.NewInt(100), Reserve1: big.NewInt(200), ObservedAt: time.Now().Add(-time.Hour)},
	}}
	c := NewCachingSource(inner, nil, time.Millisecond, cacheLogger())

	_, err := c.VenueState(context.Background(), v, t0, t1)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	inner.err = errors.New("rpc: connection refused")
	state, err := c.VenueState(context.Background(), v, t0, t1)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(100), state.Reserve0)
}

func TestVenueStateFailsWithoutAnyObservation(t *testing.T) {
	v := cacheTestVenue()
	inner := &fakeSource{err: errors.New("rpc: connection refused")}
	c := NewCachingSource(inner, nil, time.Minute, cacheLogger())

	_, err := c.VenueState(context.Background(), v, common.HexToAddress("0x01"), common.HexToAddress("0x02"))
	require.Error(t, err)
}

func TestVenueStatePrefersFreshMirror(t *testing.T) {
	v := cacheTestVenue()
	t0 := common.HexToAddress("0x01")
	t1 := common.HexToAddress("0x02")
	inner := &fakeSource{states: map[string]VenueState{}}
	mirror := &fakeMirror{r0: big.NewInt(111), r1: big.NewInt(222), ts: time.Now()}
	c := NewCachingSource(inner, mirror, time.Minute, cacheLogger())

	state, err := c.VenueState(context.Background(), v, t0, t1)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(111), state.Reserve0)
	assert.Equal(t, 0, inner.venueCalls, "fresh mirror entry must avoid the chain read")
}

func TestVenueStateWritesThroughToMirror(t *testing.T) {
	v := cacheTestVenue()
	t0 := common.HexToAddress("0x01")
	t1 := common.HexToAddress("0x02")
	inner := &fakeSource{states: map[string]VenueState{
		v.ID(): {Venue: v, Token0: t0, Token1: t1, Reserve0: big.NewInt(100), Reserve1: big.NewInt(200), ObservedAt: time.Now()},
	}}
	mirror := &fakeMirror{getErr: domain.ErrNotFound}
	c := NewCachingSource(inner, mirror, time.Minute, cacheLogger())

	_, err := c.VenueState(context.Background(), v, t0, t1)
	require.NoError(t, err)
	assert.Equal(t, 1, mirror.sets)
}

func TestInvalidateDropsLocalAndMirror(t *testing.T) {
	v := cacheTestVenue()
	t0 := common.HexToAddress("0x01")
	t1 := common.HexToAddress("0x02")
	inner := &fakeSource{states: map[string]VenueState{
		v.ID(): {Venue: v, Token0: t0, Token1: t1, Reserve0: big.NewInt(100), Reserve1: big.NewInt(200), ObservedAt: time.Now()},
	}}
	mirror := &fakeMirror{getErr: domain.ErrNotFound}
	c := NewCachingSource(inner, mirror, time.Minute, cacheLogger())

	_, err := c.VenueState(context.Background(), v, t0, t1)
	require.NoError(t, err)
	c.Invalidate(context.Background(), v.ID())

	_, err = c.VenueState(context.Background(), v, t0, t1)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.venueCalls, "invalidation must force a refetch")
	assert.Equal(t, []string{v.ID()}, mirror.invalidated)
}

func TestLenderTVLCachedAndCopied(t *testing.T) {
	inner := &fakeSource{tvl: big.NewInt(5000)}
	c := NewCachingSource(inner, nil, time.Minute, cacheLogger())
	lender := common.HexToAddress("0xBA12222222228d8Ba445958a75a0704d566BF2C8")
	token := common.HexToAddress("0x01")

	first, err := c.LenderTVL(context.Background(), domain.ChainPolygon, lender, token)
	require.NoError(t, err)
	second, err := c.LenderTVL(context.Background(), domain.ChainPolygon, lender, token)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.tvlCalls)

	// Mutating a returned value must not poison the cache.
	first.SetInt64(1)
	assert.Equal(t, big.NewInt(5000), second)
	third, err := c.LenderTVL(context.Background(), domain.ChainPolygon, lender, token)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(5000), third)
}

type chainTVLSource struct {
	fakeSource
	byChain map[domain.ChainID]*big.Int
}

func (f *chainTVLSource) LenderTVL(_ context.Context, chain domain.ChainID, _, _ common.Address) (*big.Int, error) {
	f.tvlCalls++
	return new(big.Int).Set(f.byChain[chain]), nil
}

func TestLenderTVLScopedByChain(t *testing.T) {
	// Deterministic deploys put identical lender and token addresses on
	// several chains; one chain's observation must never answer for another.
	inner := &chainTVLSource{byChain: map[domain.ChainID]*big.Int{
		domain.ChainPolygon:  big.NewInt(1_000_000),
		domain.ChainArbitrum: big.NewInt(7),
	}}
	c := NewCachingSource(inner, nil, time.Minute, cacheLogger())
	lender := common.HexToAddress("0xBA12222222228d8Ba445958a75a0704d566BF2C8")
	token := common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174")

	polygon, err := c.LenderTVL(context.Background(), domain.ChainPolygon, lender, token)
	require.NoError(t, err)
	arbitrum, err := c.LenderTVL(context.Background(), domain.ChainArbitrum, lender, token)
	require.NoError(t, err)

	assert.Equal(t, big.NewInt(1_000_000), polygon)
	assert.Equal(t, big.NewInt(7), arbitrum)
	assert.Equal(t, 2, inner.tvlCalls, "each chain needs its own observation")

	// Both entries serve their own chain from cache afterwards.
	again, err := c.LenderTVL(context.Background(), domain.ChainArbitrum, lender, token)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(7), again)
	assert.Equal(t, 2, inner.tvlCalls)
}
