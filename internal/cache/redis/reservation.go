package redis

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vegas-max/Titan2.0-sub003/internal/domain"
)

// reservationTTL bounds how long a reservation can outlive a crashed
// reserver before Redis expires the whole counter.
const reservationTTL = 5 * time.Minute

// TVLReservation implements domain.TVLReservation with a Redis counter per
// (chain, token). It is a headroom policy shared across workers and
// processes, not a lock: two loans against the same lender vault observe the
// combined outstanding amount before committing. Raw 18-decimal amounts
// exceed int64, so the counter uses Redis float arithmetic; the small
// precision loss is irrelevant to a safety-fraction check.
type TVLReservation struct {
	rdb *redis.Client
}

// NewTVLReservation creates a TVLReservation backed by the given Client.
func NewTVLReservation(c *Client) *TVLReservation {
	return &TVLReservation{rdb: c.Underlying()}
}

func reservationKey(chain domain.ChainID, token string) string {
	return fmt.Sprintf("tvl_reserved:%d:%s", chain, token)
}

// Reserve adds amount to the outstanding reservation and returns the new
// total.
func (r *TVLReservation) Reserve(ctx context.Context, chain domain.ChainID, token string, amount *big.Int) (*big.Int, error) {
	key := reservationKey(chain, token)
	pipe := r.rdb.TxPipeline()
	incr := pipe.IncrByFloat(ctx, key, toFloat(amount))
	pipe.Expire(ctx, key, reservationTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis: reserve tvl %s: %w", key, err)
	}
	return fromFloat(incr.Val()), nil
}

// Release subtracts a previously reserved amount, clamping at zero when a
// crash left the counter and the TTL already cleared part of it.
func (r *TVLReservation) Release(ctx context.Context, chain domain.ChainID, token string, amount *big.Int) error {
	key := reservationKey(chain, token)
	left, err := r.rdb.IncrByFloat(ctx, key, -toFloat(amount)).Result()
	if err != nil {
		return fmt.Errorf("redis: release tvl %s: %w", key, err)
	}
	if left < 0 {
		if err := r.rdb.Set(ctx, key, "0", reservationTTL).Err(); err != nil {
			return fmt.Errorf("redis: clamp tvl %s: %w", key, err)
		}
	}
	return nil
}

func toFloat(v *big.Int) float64 {
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}

func fromFloat(v float64) *big.Int {
	if v <= 0 {
		return new(big.Int)
	}
	out, _ := big.NewFloat(v).Int(nil)
	return out
}

var _ domain.TVLReservation = (*TVLReservation)(nil)
