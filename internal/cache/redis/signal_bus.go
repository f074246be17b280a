package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vegas-max/Titan2.0-sub003/internal/domain"
)

// signalStream is the Redis stream mirroring every emitted execution signal.
const signalStream = "titan:signals"

// streamMaxLen is the approximate maximum stream length, enforced via
// XADD MAXLEN ~.
const streamMaxLen int64 = 10000

// SignalBus implements domain.SignalBus using a Redis stream for durable,
// ordered delivery plus a Pub/Sub fan-out for live dashboards. The file
// handoff stays authoritative; this mirror is observability only.
type SignalBus struct {
	rdb *redis.Client
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.Underlying()}
}

// Publish appends the signal to the stream and fans it out on Pub/Sub.
func (sb *SignalBus) Publish(ctx context.Context, sig domain.ExecutionSignal) error {
	body, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("redis: marshal signal %s: %w", sig.ID, err)
	}

	args := &redis.XAddArgs{
		Stream: signalStream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{"payload": body},
	}
	if err := sb.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", signalStream, err)
	}
	if err := sb.rdb.Publish(ctx, signalStream, body).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", signalStream, err)
	}
	return nil
}

var _ domain.SignalBus = (*SignalBus)(nil)
