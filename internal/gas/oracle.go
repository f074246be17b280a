// Package gas produces fee estimates per chain. Estimates come from an
// optional learned forecaster, then the RPC suggestion, then a deterministic
// static fallback, in that order; the ceiling and safety multiplier are
// applied uniformly regardless of source.
package gas

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/vegas-max/Titan2.0-sub003/internal/domain"
	"github.com/vegas-max/Titan2.0-sub003/internal/rpc"
)

// Forecaster predicts near-term gas prices for a chain. Implementations wrap
// learned models; a forecaster error is never fatal, the oracle just falls
// through to the RPC suggestion.
type Forecaster interface {
	ForecastGasPrice(ctx context.Context, chain domain.ChainID) (*big.Int, error)
}

// Estimate is one fee quote. GasPrice already includes the safety
// multiplier; TipCap is the configured priority fee.
type Estimate struct {
	GasPrice *big.Int
	TipCap   *big.Int
	Source   string // "forecaster", "rpc", "fallback"
	At       time.Time
}

// ExceedsCeiling reports whether the estimate breaches the hard ceiling.
func (e Estimate) ExceedsCeiling(ceiling *big.Int) bool {
	return ceiling != nil && ceiling.Sign() > 0 && e.GasPrice.Cmp(ceiling) > 0
}

// fallbackGwei is the deterministic estimate used when both the forecaster
// and every endpoint are unavailable. Deliberately high enough to be
// rejected by most profit gates rather than underpricing a submission.
const fallbackGwei = 40

// Config holds the oracle tunables.
type Config struct {
	CeilingGwei     float64
	SafetyFactor    float64
	PriorityFeeGwei float64
	CacheTTL        time.Duration
}

// Oracle caches one estimate per chain with a short TTL.
type Oracle struct {
	pools      *rpc.Registry
	forecaster Forecaster
	cfg        Config
	logger     *slog.Logger

	mu    sync.Mutex
	cache map[domain.ChainID]Estimate
}

// NewOracle creates an Oracle. forecaster may be nil.
func NewOracle(pools *rpc.Registry, forecaster Forecaster, cfg Config, logger *slog.Logger) *Oracle {
	if cfg.SafetyFactor < 1 {
		cfg.SafetyFactor = 1
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 2 * time.Second
	}
	return &Oracle{
		pools:      pools,
		forecaster: forecaster,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "gas_oracle")),
		cache:      make(map[domain.ChainID]Estimate),
	}
}

// Ceiling returns the hard ceiling in wei.
func (o *Oracle) Ceiling() *big.Int {
	return GweiToWei(o.cfg.CeilingGwei)
}

// Estimate returns a fee estimate for the chain. The cached value is reused
// within the TTL; past it, sources are tried in order and the result cached.
// Estimate never fails: when everything else is unavailable it returns the
// deterministic fallback.
func (o *Oracle) Estimate(ctx context.Context, chain domain.ChainID) Estimate {
	o.mu.Lock()
	if cached, ok := o.cache[chain]; ok && time.Since(cached.At) < o.cfg.CacheTTL {
		o.mu.Unlock()
		return cached
	}
	o.mu.Unlock()

	est := o.fresh(ctx, chain)

	o.mu.Lock()
	o.cache[chain] = est
	o.mu.Unlock()
	return est
}

func (o *Oracle) fresh(ctx context.Context, chain domain.ChainID) Estimate {
	tip := GweiToWei(o.cfg.PriorityFeeGwei)

	if o.forecaster != nil {
		if price, err := o.forecaster.ForecastGasPrice(ctx, chain); err == nil && price != nil && price.Sign() > 0 {
			return o.finish(price, tip, "forecaster")
		} else if err != nil {
			o.logger.Debug("forecaster unavailable, falling through",
				slog.Uint64("chain", uint64(chain)),
				slog.String("error", err.Error()),
			)
		}
	}

	if pool, err := o.pools.Pool(chain); err == nil {
		var suggested *big.Int
		err := pool.Do(ctx, func(ctx context.Context, client *ethclient.Client) error {
			p, err := client.SuggestGasPrice(ctx)
			if err != nil {
				return err
			}
			suggested = p
			return nil
		})
		if err == nil && suggested != nil && suggested.Sign() > 0 {
			return o.finish(suggested, tip, "rpc")
		}
		if err != nil {
			o.logger.Warn("gas suggestion failed, using fallback",
				slog.Uint64("chain", uint64(chain)),
				slog.String("error", err.Error()),
			)
		}
	}

	return o.finish(GweiToWei(fallbackGwei), tip, "fallback")
}

// finish applies the safety multiplier and stamps the estimate.
func (o *Oracle) finish(price, tip *big.Int, source string) Estimate {
	scaled := new(big.Float).SetInt(price)
	scaled.Mul(scaled, big.NewFloat(o.cfg.SafetyFactor))
	out, _ := scaled.Int(nil)
	return Estimate{
		GasPrice: out,
		TipCap:   tip,
		Source:   source,
		At:       time.Now().UTC(),
	}
}

// GweiToWei converts a float gwei figure to wei.
func GweiToWei(gwei float64) *big.Int {
	f := new(big.Float).SetFloat64(gwei)
	f.Mul(f, big.NewFloat(1e9))
	out, _ := f.Int(nil)
	return out
}

// WeiToGwei converts wei to a float gwei figure for logs and thresholds.
func WeiToGwei(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f := new(big.Float).SetInt(wei)
	f.Quo(f, big.NewFloat(1e9))
	out, _ := f.Float64()
	return out
}
