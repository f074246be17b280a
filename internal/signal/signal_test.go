package signal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vegas-max/Titan2.0-sub003/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSignal(id string, ts time.Time) domain.ExecutionSignal {
	return domain.ExecutionSignal{
		ID:                id,
		Token:             "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174",
		ChainID:           domain.ChainPolygon,
		Amount:            "25000000000",
		Route:             []string{"137:0xAAA", "137:0xBBB"},
		ExpectedProfitUSD: 42.5,
		GasPriceWei:       "30000000000",
		Execution: domain.ExecutionParams{
			SlippageBps:     50,
			PriorityFeeGwei: 2,
			DeadlineSeconds: 60,
		},
		Timestamp: ts,
	}
}

type stubBus struct {
	published []domain.ExecutionSignal
	err       error
}

func (b *stubBus) Publish(_ context.Context, sig domain.ExecutionSignal) error {
	b.published = append(b.published, sig)
	return b.err
}

func TestWriteThenDrainRoundTrip(t *testing.T) {
	outgoing := t.TempDir()
	processed := t.TempDir()

	w, err := NewWriter(outgoing, nil, testLogger())
	require.NoError(t, err)
	c, err := NewConsumer(outgoing, processed, nil, testLogger())
	require.NoError(t, err)

	base := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	want := []domain.ExecutionSignal{
		testSignal("sig-a", base),
		testSignal("sig-b", base.Add(time.Second)),
	}
	for _, sig := range want {
		require.NoError(t, w.Write(context.Background(), sig))
	}

	var got []domain.ExecutionSignal
	handled, err := c.Drain(context.Background(), func(_ context.Context, sig domain.ExecutionSignal) error {
		got = append(got, sig)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, handled)
	require.Len(t, got, 2)

	// Timestamp order, full fidelity.
	assert.Equal(t, "sig-a", got[0].ID)
	assert.Equal(t, "sig-b", got[1].ID)
	assert.Equal(t, want[0].Amount, got[0].Amount)
	assert.Equal(t, want[0].Route, got[0].Route)
	assert.Equal(t, want[0].Execution, got[0].Execution)

	// Consumed files moved, not copied.
	left, err := os.ReadDir(outgoing)
	require.NoError(t, err)
	assert.Empty(t, left)
	moved, err := os.ReadDir(processed)
	require.NoError(t, err)
	assert.Len(t, moved, 2)
}

func TestWriteNeverExposesPartialFiles(t *testing.T) {
	outgoing := t.TempDir()
	w, err := NewWriter(outgoing, nil, testLogger())
	require.NoError(t, err)

	require.NoError(t, w.Write(context.Background(), testSignal("sig-a", time.Now().UTC())))

	entries, err := os.ReadDir(outgoing)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotContains(t, entries[0].Name(), ".tmp")
}

func TestWriterBusFailureDoesNotBlockHandoff(t *testing.T) {
	outgoing := t.TempDir()
	bus := &stubBus{err: errors.New("redis: connection refused")}
	w, err := NewWriter(outgoing, bus, testLogger())
	require.NoError(t, err)

	require.NoError(t, w.Write(context.Background(), testSignal("sig-a", time.Now().UTC())))
	assert.Len(t, bus.published, 1)

	entries, err := os.ReadDir(outgoing)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDrainLeavesFailedSignalsForRetry(t *testing.T) {
	outgoing := t.TempDir()
	processed := t.TempDir()
	w, err := NewWriter(outgoing, nil, testLogger())
	require.NoError(t, err)
	c, err := NewConsumer(outgoing, processed, nil, testLogger())
	require.NoError(t, err)

	require.NoError(t, w.Write(context.Background(), testSignal("sig-a", time.Now().UTC())))

	handled, err := c.Drain(context.Background(), func(_ context.Context, _ domain.ExecutionSignal) error {
		return errors.New("executor busy")
	})
	require.NoError(t, err)
	assert.Equal(t, 0, handled)

	// Still pending; the next drain picks it up.
	handled, err = c.Drain(context.Background(), func(_ context.Context, _ domain.ExecutionSignal) error {
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, handled)
}

func TestDrainQuarantinesMalformedFiles(t *testing.T) {
	outgoing := t.TempDir()
	processed := t.TempDir()
	c, err := NewConsumer(outgoing, processed, nil, testLogger())
	require.NoError(t, err)

	bad := filepath.Join(outgoing, "signal_20260826T120000_137_junk.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o644))

	handled, err := c.Drain(context.Background(), func(_ context.Context, _ domain.ExecutionSignal) error {
		t.Fatal("handler must not see malformed signals")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, handled)

	_, err = os.Stat(bad)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(processed, "signal_20260826T120000_137_junk.json.malformed"))
	assert.NoError(t, err)
}

func TestPruneRemovesOnlyExpiredFiles(t *testing.T) {
	outgoing := t.TempDir()
	processed := t.TempDir()
	c, err := NewConsumer(outgoing, processed, nil, testLogger())
	require.NoError(t, err)

	old := filepath.Join(processed, "signal_old.json")
	fresh := filepath.Join(processed, "signal_fresh.json")
	require.NoError(t, os.WriteFile(old, []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte("{}"), 0o644))
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	require.NoError(t, c.Prune(24*time.Hour))

	_, err = os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}

func TestFilenameEmbedsTimestampChainAndID(t *testing.T) {
	sig := testSignal("abc123", time.Date(2026, 8, 26, 9, 30, 0, 0, time.UTC))
	assert.Equal(t, "signal_20260826T093000_137_abc123.json", Filename(sig))
}
