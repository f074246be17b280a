// Package signal implements the file handoff boundary to the settlement
// collaborator: signals are written atomically to an outgoing directory and
// moved to a processed directory once consumed, so either side can restart
// independently without double-execution.
package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/vegas-max/Titan2.0-sub003/internal/domain"
)

// Writer emits execution signals to the outgoing directory. An optional bus
// mirrors every signal for dashboards; bus failures never block the file
// handoff, which is the authoritative boundary.
type Writer struct {
	dir    string
	bus    domain.SignalBus // may be nil
	logger *slog.Logger
}

// NewWriter builds a Writer, creating the outgoing directory if needed.
func NewWriter(dir string, bus domain.SignalBus, logger *slog.Logger) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("signal: create outgoing dir: %w", err)
	}
	return &Writer{
		dir:    dir,
		bus:    bus,
		logger: logger.With(slog.String("component", "signal_writer")),
	}, nil
}

// Write persists one signal atomically: the JSON body lands in a temp file in
// the same directory, then a rename publishes it. A consumer can never
// observe a half-written signal.
func (w *Writer) Write(ctx context.Context, sig domain.ExecutionSignal) error {
	body, err := json.MarshalIndent(sig, "", "  ")
	if err != nil {
		return fmt.Errorf("signal: marshal %s: %w", sig.ID, err)
	}

	tmp, err := os.CreateTemp(w.dir, ".sig-*.tmp")
	if err != nil {
		return fmt.Errorf("signal: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("signal: write %s: %w", sig.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("signal: close %s: %w", sig.ID, err)
	}

	final := filepath.Join(w.dir, Filename(sig))
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("signal: publish %s: %w", sig.ID, err)
	}
	w.logger.Info("signal written",
		slog.String("id", sig.ID),
		slog.String("chain", sig.ChainID.Name()),
		slog.Float64("expected_usd", sig.ExpectedProfitUSD))

	if w.bus != nil {
		if err := w.bus.Publish(ctx, sig); err != nil {
			w.logger.Warn("signal bus publish failed", slog.String("id", sig.ID), slog.String("error", err.Error()))
		}
	}
	return nil
}

// Filename returns the canonical file name for a signal.
func Filename(sig domain.ExecutionSignal) string {
	return fmt.Sprintf("signal_%s_%d_%s.json", sig.Timestamp.UTC().Format("20060102T150405"), sig.ChainID, sig.ID)
}
