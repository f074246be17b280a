package liquidity

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vegas-max/Titan2.0-sub003/internal/domain"
)

// CachingSource wraps a Source with an in-process TTL cache and an optional
// shared mirror (Redis). Reads within the TTL never touch the network, which
// is what lets many candidate routes share one reserve observation per scan
// cycle. Staleness is bounded by the TTL.
type CachingSource struct {
	inner  Source
	mirror domain.ReserveCache // may be nil
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	venues map[string]VenueState
	tvls   map[string]tvlEntry
}

type tvlEntry struct {
	value      *big.Int
	observedAt time.Time
}

// NewCachingSource wraps inner. mirror may be nil to run without the shared
// cache.
func NewCachingSource(inner Source, mirror domain.ReserveCache, ttl time.Duration, logger *slog.Logger) *CachingSource {
	if ttl <= 0 {
		ttl = 3 * time.Second
	}
	return &CachingSource{
		inner:  inner,
		mirror: mirror,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "liquidity_cache")),
		venues: make(map[string]VenueState),
		tvls:   make(map[string]tvlEntry),
	}
}

// VenueState implements Source with caching.
func (c *CachingSource) VenueState(ctx context.Context, venue domain.Venue, token0, token1 common.Address) (VenueState, error) {
	id := venue.ID()

	c.mu.RLock()
	cached, ok := c.venues[id]
	c.mu.RUnlock()
	if ok && time.Since(cached.ObservedAt) < c.ttl {
		return cached, nil
	}

	// Shared mirror next: another worker or process may have refreshed this
	// venue within the TTL.
	if c.mirror != nil {
		if r0, r1, ts, err := c.mirror.GetReserves(ctx, id); err == nil && time.Since(ts) < c.ttl {
			state := VenueState{Venue: venue, Token0: token0, Token1: token1, Reserve0: r0, Reserve1: r1, ObservedAt: ts}
			c.store(id, state)
			return state, nil
		} else if err != nil && !errors.Is(err, domain.ErrNotFound) {
			c.logger.Debug("reserve mirror read failed", slog.String("venue", id), slog.String("error", err.Error()))
		}
	}

	state, err := c.inner.VenueState(ctx, venue, token0, token1)
	if err != nil {
		// Serve a stale entry over a hard failure; the evaluator's own gates
		// bound how wrong a stale reserve can make us.
		if ok {
			return cached, nil
		}
		return VenueState{}, err
	}

	c.store(id, state)
	if c.mirror != nil {
		if err := c.mirror.SetReserves(ctx, id, state.Reserve0, state.Reserve1, state.ObservedAt); err != nil {
			c.logger.Debug("reserve mirror write failed", slog.String("venue", id), slog.String("error", err.Error()))
		}
	}
	return state, nil
}

func (c *CachingSource) store(id string, state VenueState) {
	c.mu.Lock()
	c.venues[id] = state
	c.mu.Unlock()
}

// Invalidate drops a venue's cached state, locally and in the mirror. Called
// by the pool-event feed when it observes a swap on the venue.
func (c *CachingSource) Invalidate(ctx context.Context, venueID string) {
	c.mu.Lock()
	delete(c.venues, venueID)
	c.mu.Unlock()
	if c.mirror != nil {
		if err := c.mirror.Invalidate(ctx, venueID); err != nil {
			c.logger.Debug("reserve mirror invalidate failed", slog.String("venue", venueID), slog.String("error", err.Error()))
		}
	}
}

// LenderTVL implements Source with caching.
func (c *CachingSource) LenderTVL(ctx context.Context, chain domain.ChainID, lender, token common.Address) (*big.Int, error) {
	// Deterministic deploys put the same lender and token addresses on
	// several chains; the key must carry the chain to keep them apart.
	key := strconv.FormatUint(uint64(chain), 10) + ":" + lender.Hex() + ":" + token.Hex()

	c.mu.RLock()
	cached, ok := c.tvls[key]
	c.mu.RUnlock()
	if ok && time.Since(cached.observedAt) < c.ttl {
		return new(big.Int).Set(cached.value), nil
	}

	tvl, err := c.inner.LenderTVL(ctx, chain, lender, token)
	if err != nil {
		if ok {
			return new(big.Int).Set(cached.value), nil
		}
		return nil, err
	}

	c.mu.Lock()
	c.tvls[key] = tvlEntry{value: new(big.Int).Set(tvl), observedAt: time.Now().UTC()}
	c.mu.Unlock()
	return tvl, nil
}

var _ Source = (*CachingSource)(nil)
