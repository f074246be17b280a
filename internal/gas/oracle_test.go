package gas

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vegas-max/Titan2.0-sub003/internal/domain"
	"github.com/vegas-max/Titan2.0-sub003/internal/rpc"
)

type stubForecaster struct {
	price *big.Int
	err   error
	calls int
}

func (s *stubForecaster) ForecastGasPrice(ctx context.Context, chain domain.ChainID) (*big.Int, error) {
	s.calls++
	return s.price, s.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEstimateUsesForecasterFirst(t *testing.T) {
	fc := &stubForecaster{price: GweiToWei(25)}
	o := NewOracle(&rpc.Registry{}, fc, Config{
		CeilingGwei:     100,
		SafetyFactor:    1.0,
		PriorityFeeGwei: 2,
		CacheTTL:        time.Minute,
	}, testLogger())

	est := o.Estimate(context.Background(), domain.ChainID(137))
	assert.Equal(t, "forecaster", est.Source)
	assert.Equal(t, 0, est.GasPrice.Cmp(GweiToWei(25)))
	assert.Equal(t, 0, est.TipCap.Cmp(GweiToWei(2)))
}

func TestEstimateFallsBackWhenForecasterAndPoolFail(t *testing.T) {
	fc := &stubForecaster{err: errors.New("model offline")}
	o := NewOracle(&rpc.Registry{}, fc, Config{
		CeilingGwei:  100,
		SafetyFactor: 1.0,
		CacheTTL:     time.Minute,
	}, testLogger())

	est := o.Estimate(context.Background(), domain.ChainID(137))
	assert.Equal(t, "fallback", est.Source)
	assert.Equal(t, 0, est.GasPrice.Cmp(GweiToWei(fallbackGwei)))
}

func TestEstimateAppliesSafetyMultiplier(t *testing.T) {
	fc := &stubForecaster{price: GweiToWei(20)}
	o := NewOracle(&rpc.Registry{}, fc, Config{
		CeilingGwei:  100,
		SafetyFactor: 1.5,
		CacheTTL:     time.Minute,
	}, testLogger())

	est := o.Estimate(context.Background(), domain.ChainID(137))
	assert.Equal(t, 0, est.GasPrice.Cmp(GweiToWei(30)))
}

func TestEstimateCachedWithinTTL(t *testing.T) {
	fc := &stubForecaster{price: GweiToWei(25)}
	o := NewOracle(&rpc.Registry{}, fc, Config{
		CeilingGwei:  100,
		SafetyFactor: 1.0,
		CacheTTL:     time.Minute,
	}, testLogger())

	first := o.Estimate(context.Background(), domain.ChainID(137))
	second := o.Estimate(context.Background(), domain.ChainID(137))
	assert.Equal(t, 1, fc.calls)
	assert.Equal(t, first.At, second.At)

	// Chains cache independently.
	o.Estimate(context.Background(), domain.ChainID(42161))
	assert.Equal(t, 2, fc.calls)
}

func TestExceedsCeiling(t *testing.T) {
	est := Estimate{GasPrice: GweiToWei(150)}
	assert.True(t, est.ExceedsCeiling(GweiToWei(100)))
	assert.False(t, est.ExceedsCeiling(GweiToWei(150)))
	assert.False(t, est.ExceedsCeiling(GweiToWei(200)))
	assert.False(t, est.ExceedsCeiling(nil))
	assert.False(t, est.ExceedsCeiling(big.NewInt(0)))
}

func TestCeilingFromConfig(t *testing.T) {
	o := NewOracle(&rpc.Registry{}, nil, Config{CeilingGwei: 75}, testLogger())
	assert.Equal(t, 0, o.Ceiling().Cmp(GweiToWei(75)))
}

func TestGweiWeiRoundTrip(t *testing.T) {
	require.Equal(t, 0, GweiToWei(1).Cmp(big.NewInt(1_000_000_000)))
	assert.InDelta(t, 30.5, WeiToGwei(GweiToWei(30.5)), 1e-6)
	assert.Equal(t, float64(0), WeiToGwei(nil))
}
