package txmgr

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vegas-max/Titan2.0-sub003/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	s := NewBreakerSet(BreakerConfig{Threshold: 3, Cooldown: time.Minute}, testLogger())
	fault := errors.New("rpc: connection refused")

	for i := 0; i < 3; i++ {
		require.False(t, s.Open(domain.ChainPolygon))
		err := s.Execute(domain.ChainPolygon, func() error { return fault })
		require.ErrorIs(t, err, fault)
	}
	assert.True(t, s.Open(domain.ChainPolygon))

	// Open circuit refuses without invoking fn.
	invoked := false
	err := s.Execute(domain.ChainPolygon, func() error { invoked = true; return nil })
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.False(t, invoked)
}

func TestBreakerRejectionsDoNotTrip(t *testing.T) {
	s := NewBreakerSet(BreakerConfig{Threshold: 2, Cooldown: time.Minute}, testLogger())

	for i := 0; i < 10; i++ {
		err := s.Execute(domain.ChainPolygon, func() error {
			return domain.Reject(domain.RejectStale, "expired before execution")
		})
		require.Error(t, err)
	}
	assert.False(t, s.Open(domain.ChainPolygon), "normal rejections must not open the circuit")
}

func TestBreakerSimulationRevertsDoNotTrip(t *testing.T) {
	s := NewBreakerSet(BreakerConfig{Threshold: 3, Cooldown: time.Minute}, testLogger())

	// Preflight reverts mean the chain state moved on, not that the chain is
	// unhealthy. Both the wrapped-sentinel and the rejection form must stay
	// invisible to the failure count.
	for i := 0; i < 3; i++ {
		err := s.Execute(domain.ChainPolygon, func() error {
			return fmt.Errorf("%w: execution reverted", domain.ErrSimulationReverted)
		})
		require.ErrorIs(t, err, domain.ErrSimulationReverted)
	}
	assert.False(t, s.Open(domain.ChainPolygon), "stale-data reverts must not open the circuit")

	for i := 0; i < 3; i++ {
		err := s.Execute(domain.ChainPolygon, func() error {
			return domain.RejectWrap(domain.RejectSimulation, domain.ErrSimulationReverted, "execution reverted")
		})
		require.ErrorIs(t, err, domain.ErrSimulationReverted)
		require.NotNil(t, domain.AsRejection(err))
	}
	assert.False(t, s.Open(domain.ChainPolygon))
}

func TestBreakerOpenCallbackFires(t *testing.T) {
	s := NewBreakerSet(BreakerConfig{Threshold: 2, Cooldown: time.Minute}, testLogger())

	var gotChain domain.ChainID
	var gotFailures uint32
	calls := 0
	s.OnOpen(func(chain domain.ChainID, failures uint32) {
		gotChain = chain
		gotFailures = failures
		calls++
	})

	fault := errors.New("rpc: timeout")
	require.Error(t, s.Execute(domain.ChainPolygon, func() error { return fault }))
	assert.Equal(t, 0, calls)
	require.Error(t, s.Execute(domain.ChainPolygon, func() error { return fault }))

	require.Equal(t, 1, calls)
	assert.Equal(t, domain.ChainPolygon, gotChain)
	assert.Equal(t, uint32(2), gotFailures)
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	s := NewBreakerSet(BreakerConfig{Threshold: 1, Cooldown: 30 * time.Millisecond}, testLogger())
	fault := errors.New("rpc: timeout")

	require.Error(t, s.Execute(domain.ChainPolygon, func() error { return fault }))
	require.True(t, s.Open(domain.ChainPolygon))

	// After the cooldown a single successful probe closes the circuit.
	time.Sleep(50 * time.Millisecond)
	err := s.Execute(domain.ChainPolygon, func() error { return nil })
	require.NoError(t, err)
	assert.False(t, s.Open(domain.ChainPolygon))
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	s := NewBreakerSet(BreakerConfig{Threshold: 1, Cooldown: 30 * time.Millisecond}, testLogger())
	fault := errors.New("rpc: timeout")

	require.Error(t, s.Execute(domain.ChainPolygon, func() error { return fault }))
	time.Sleep(50 * time.Millisecond)
	require.Error(t, s.Execute(domain.ChainPolygon, func() error { return fault }))
	assert.True(t, s.Open(domain.ChainPolygon))
}

func TestBreakerChainsAreIndependent(t *testing.T) {
	s := NewBreakerSet(BreakerConfig{Threshold: 1, Cooldown: time.Minute}, testLogger())

	require.Error(t, s.Execute(domain.ChainPolygon, func() error { return errors.New("boom") }))
	assert.True(t, s.Open(domain.ChainPolygon))
	assert.False(t, s.Open(domain.ChainArbitrum))

	err := s.Execute(domain.ChainArbitrum, func() error { return nil })
	assert.NoError(t, err)
}
