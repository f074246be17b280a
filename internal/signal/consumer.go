package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/vegas-max/Titan2.0-sub003/internal/domain"
)

// Consumer drains the outgoing directory: each signal file is parsed, handed
// to the callback, and moved (not copied) to the processed directory. The
// move is the consumption commit point.
type Consumer struct {
	outgoing  string
	processed string
	archive   domain.BlobWriter // may be nil
	logger    *slog.Logger
}

// NewConsumer builds a Consumer, creating the processed directory if needed.
func NewConsumer(outgoing, processed string, archive domain.BlobWriter, logger *slog.Logger) (*Consumer, error) {
	if err := os.MkdirAll(processed, 0o755); err != nil {
		return nil, fmt.Errorf("signal: create processed dir: %w", err)
	}
	return &Consumer{
		outgoing:  outgoing,
		processed: processed,
		archive:   archive,
		logger:    logger.With(slog.String("component", "signal_consumer")),
	}, nil
}

// Drain processes every pending signal in timestamp order. Unparseable files
// are moved aside rather than retried forever. Returns the number of signals
// handled.
func (c *Consumer) Drain(ctx context.Context, handle func(context.Context, domain.ExecutionSignal) error) (int, error) {
	entries, err := os.ReadDir(c.outgoing)
	if err != nil {
		return 0, fmt.Errorf("signal: read outgoing dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names) // filenames embed the timestamp

	handled := 0
	for _, name := range names {
		if ctx.Err() != nil {
			return handled, ctx.Err()
		}
		src := filepath.Join(c.outgoing, name)
		body, err := os.ReadFile(src)
		if err != nil {
			c.logger.Warn("signal read failed", slog.String("file", name), slog.String("error", err.Error()))
			continue
		}
		var sig domain.ExecutionSignal
		if err := json.Unmarshal(body, &sig); err != nil {
			c.logger.Warn("malformed signal quarantined", slog.String("file", name), slog.String("error", err.Error()))
			_ = os.Rename(src, filepath.Join(c.processed, name+".malformed"))
			continue
		}
		if err := handle(ctx, sig); err != nil {
			// Leave the file in place; the next drain retries it.
			c.logger.Warn("signal handler failed", slog.String("id", sig.ID), slog.String("error", err.Error()))
			continue
		}
		if err := os.Rename(src, filepath.Join(c.processed, name)); err != nil {
			c.logger.Warn("signal move failed", slog.String("file", name), slog.String("error", err.Error()))
			continue
		}
		handled++
		if c.archive != nil {
			key := fmt.Sprintf("signals/%s/%s", sig.Timestamp.UTC().Format("2006/01/02"), name)
			if err := c.archive.Put(ctx, key, body, "application/json"); err != nil {
				c.logger.Warn("signal archive failed", slog.String("id", sig.ID), slog.String("error", err.Error()))
			}
		}
	}
	return handled, nil
}

// Prune deletes processed signal files older than retention.
func (c *Consumer) Prune(retention time.Duration) error {
	if retention <= 0 {
		return nil
	}
	entries, err := os.ReadDir(c.processed)
	if err != nil {
		return fmt.Errorf("signal: read processed dir: %w", err)
	}
	cutoff := time.Now().Add(-retention)
	removed := 0
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || info.IsDir() {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(c.processed, e.Name())); err == nil {
				removed++
			}
		}
	}
	if removed > 0 {
		c.logger.Info("processed signals pruned", slog.Int("removed", removed))
	}
	return nil
}
