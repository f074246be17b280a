package rpc

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/stretchr/testify/assert"

	"github.com/vegas-max/Titan2.0-sub003/internal/domain"
)

// The client pointer of an endpoint is rewritten by redial and Close while
// Do and HealthCheck dispatch against it from other goroutines. Hammering
// all four paths at once keeps the locked accessors honest under -race.
func TestPoolConcurrentDispatchAndMaintenance(t *testing.T) {
	// Port 1 refuses instantly; HTTP dialing itself never touches the
	// network, so Do can hand out a client without a live node.
	url := "http://127.0.0.1:1"
	p := &Pool{
		chain:   domain.ChainPolygon,
		timeout: 200 * time.Millisecond,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		endpoints: []*endpoint{
			{url: url, health: EndpointHealth{URL: url}},
		},
	}
	t.Cleanup(p.Close)

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = p.Do(ctx, func(_ context.Context, client *ethclient.Client) error {
					assert.NotNil(t, client)
					return nil
				})
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 5; j++ {
			p.HealthCheck(ctx)
			_ = p.Healthy()
			_ = p.Snapshot()
		}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 5; j++ {
			p.Close()
			time.Sleep(time.Millisecond)
		}
	}()
	wg.Wait()

	snap := p.Snapshot()
	assert.Len(t, snap, 1)
	assert.Equal(t, url, snap[0].URL)
}
