package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vegas-max/Titan2.0-sub003/internal/domain"
)

// Registry holds one endpoint pool per configured chain.
type Registry struct {
	pools map[domain.ChainID]*Pool
}

// NewRegistry dials pools for every (chain, urls) pair. A chain whose pool
// cannot be established at startup is skipped with a warning; total absence
// of pools is a startup error.
func NewRegistry(ctx context.Context, endpoints map[domain.ChainID][]string, timeout time.Duration, logger *slog.Logger) (*Registry, error) {
	pools := make(map[domain.ChainID]*Pool, len(endpoints))
	for chain, urls := range endpoints {
		pool, err := NewPool(ctx, chain, urls, timeout, logger)
		if err != nil {
			logger.Warn("chain pool unavailable at startup",
				slog.Uint64("chain", uint64(chain)),
				slog.String("error", err.Error()),
			)
			continue
		}
		pools[chain] = pool
	}
	if len(pools) == 0 {
		return nil, fmt.Errorf("rpc: no chain pool could be established: %w", domain.ErrNetworkUnavailable)
	}
	return &Registry{pools: pools}, nil
}

// Pool returns the pool for a chain, or domain.ErrNotFound.
func (r *Registry) Pool(chain domain.ChainID) (*Pool, error) {
	p, ok := r.pools[chain]
	if !ok {
		return nil, fmt.Errorf("rpc: chain %s: %w", chain.Name(), domain.ErrNotFound)
	}
	return p, nil
}

// Chains returns every chain with an established pool.
func (r *Registry) Chains() []domain.ChainID {
	out := make([]domain.ChainID, 0, len(r.pools))
	for c := range r.pools {
		out = append(out, c)
	}
	return out
}

// HealthCheckAll probes every pool.
func (r *Registry) HealthCheckAll(ctx context.Context) {
	for _, p := range r.pools {
		p.HealthCheck(ctx)
	}
}

// AllUnhealthy reports persistent total-endpoint-loss across every chain,
// the only network condition surfaced as a process-level alert.
func (r *Registry) AllUnhealthy() bool {
	for _, p := range r.pools {
		if p.Healthy() {
			return false
		}
	}
	return true
}

// Close releases every pool.
func (r *Registry) Close() {
	for _, p := range r.pools {
		p.Close()
	}
}
