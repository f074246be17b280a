package redis

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vegas-max/Titan2.0-sub003/internal/domain"
)

// ReserveCache implements domain.ReserveCache over Redis hashes. Entries
// carry their observation timestamp so readers enforce their own freshness
// window; the Redis TTL is only a garbage-collection backstop.
type ReserveCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewReserveCache creates a ReserveCache. ttl bounds how long a dead venue's
// entry lingers.
func NewReserveCache(c *Client, ttl time.Duration) *ReserveCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &ReserveCache{rdb: c.Underlying(), ttl: ttl}
}

func reserveKey(venueID string) string {
	return "reserves:" + venueID
}

// SetReserves stores one venue observation.
func (rc *ReserveCache) SetReserves(ctx context.Context, venueID string, reserve0, reserve1 *big.Int, ts time.Time) error {
	key := reserveKey(venueID)
	pipe := rc.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"r0": reserve0.String(),
		"r1": reserve1.String(),
		"ts": ts.UTC().UnixMilli(),
	})
	pipe.Expire(ctx, key, rc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set reserves %s: %w", venueID, err)
	}
	return nil
}

// GetReserves loads one venue observation, or domain.ErrNotFound.
func (rc *ReserveCache) GetReserves(ctx context.Context, venueID string) (*big.Int, *big.Int, time.Time, error) {
	vals, err := rc.rdb.HGetAll(ctx, reserveKey(venueID)).Result()
	if err != nil {
		return nil, nil, time.Time{}, fmt.Errorf("redis: get reserves %s: %w", venueID, err)
	}
	if len(vals) == 0 {
		return nil, nil, time.Time{}, fmt.Errorf("redis: reserves %s: %w", venueID, domain.ErrNotFound)
	}
	r0, ok0 := new(big.Int).SetString(vals["r0"], 10)
	r1, ok1 := new(big.Int).SetString(vals["r1"], 10)
	if !ok0 || !ok1 {
		return nil, nil, time.Time{}, fmt.Errorf("redis: reserves %s: malformed entry", venueID)
	}
	var millis int64
	if _, err := fmt.Sscan(vals["ts"], &millis); err != nil {
		return nil, nil, time.Time{}, fmt.Errorf("redis: reserves %s: bad timestamp: %w", venueID, err)
	}
	return r0, r1, time.UnixMilli(millis).UTC(), nil
}

// Invalidate drops one venue's entry.
func (rc *ReserveCache) Invalidate(ctx context.Context, venueID string) error {
	if err := rc.rdb.Del(ctx, reserveKey(venueID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate reserves %s: %w", venueID, err)
	}
	return nil
}

var _ domain.ReserveCache = (*ReserveCache)(nil)
