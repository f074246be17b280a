// Package pipeline glues discovery, evaluation, routing, and execution into a
// continuous concurrent scan cycle, one loop per chain, plus the supporting
// tickers (health checks, signal pruning).
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/vegas-max/Titan2.0-sub003/internal/domain"
	"github.com/vegas-max/Titan2.0-sub003/internal/feed"
	"github.com/vegas-max/Titan2.0-sub003/internal/gas"
	"github.com/vegas-max/Titan2.0-sub003/internal/graph"
	"github.com/vegas-max/Titan2.0-sub003/internal/liquidity"
	"github.com/vegas-max/Titan2.0-sub003/internal/loansize"
	"github.com/vegas-max/Titan2.0-sub003/internal/notify"
	"github.com/vegas-max/Titan2.0-sub003/internal/profit"
	"github.com/vegas-max/Titan2.0-sub003/internal/router"
	"github.com/vegas-max/Titan2.0-sub003/internal/rpc"
	"github.com/vegas-max/Titan2.0-sub003/internal/signal"
	"github.com/vegas-max/Titan2.0-sub003/internal/txmgr"
)

// ChainRuntime bundles everything the pipeline needs for one chain.
type ChainRuntime struct {
	Chain       domain.ChainID
	Graph       *graph.Graph
	Scanner     *graph.Scanner
	LenderVault common.Address
	NativeUSD   float64
	Feed        *feed.PoolEvents // may be nil
}

// Config holds pipeline scheduling parameters.
type Config struct {
	Mode            string // scan | execute | monitor | full
	ScanInterval    time.Duration
	CycleBudget     time.Duration
	Concurrency     int
	MaxBackoff      time.Duration
	HealthInterval  time.Duration
	SignalTTL       time.Duration
	SignalRetention time.Duration
	MaxTVLFraction  float64
	SlippageBps     uint32
	PriorityFeeGwei uint64
	DeadlineWindow  time.Duration
}

// Deps carries the wired collaborators. Optional members are nil when their
// backing service is disabled.
type Deps struct {
	Chains      map[domain.ChainID]*ChainRuntime
	Pools       *rpc.Registry
	Source      *liquidity.CachingSource
	Oracle      *gas.Oracle
	Evaluator   *profit.Evaluator
	Optimizer   *loansize.Optimizer
	Router      *router.Router
	TxManager   *txmgr.Manager
	Breakers    *txmgr.BreakerSet
	Writer      *signal.Writer
	Consumer    *signal.Consumer
	Reservation domain.TVLReservation   // nil: single-process local counter
	Opps        domain.OpportunityStore // optional
	Rejections  domain.RejectionStore   // optional
	Archiver    ExecutionArchiver       // optional
	Notifier    *notify.Notifier
}

// ExecutionArchiver uploads a daily execution report per chain.
type ExecutionArchiver interface {
	ArchiveExecutions(ctx context.Context, chain domain.ChainID, at time.Time) (int, error)
}

// Pipeline is the top-level orchestrator.
type Pipeline struct {
	cfg    Config
	deps   Deps
	opps   chan *domain.Opportunity
	logger *slog.Logger

	local *localReservation // fallback when no shared reservation is wired
}

// New creates a Pipeline.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Pipeline, error) {
	if len(deps.Chains) == 0 {
		return nil, fmt.Errorf("pipeline: no chains wired")
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 16
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 30 * time.Second
	}
	p := &Pipeline{
		cfg:    cfg,
		deps:   deps,
		opps:   make(chan *domain.Opportunity, 64),
		logger: logger.With(slog.String("component", "pipeline")),
	}
	if deps.Reservation == nil {
		p.local = newLocalReservation()
	}
	return p, nil
}

// Run starts every loop the configured mode needs and blocks until the
// context ends or a loop fails with a non-context error.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline starting",
		slog.String("mode", p.cfg.Mode),
		slog.Int("chains", len(p.deps.Chains)),
		slog.Duration("interval", p.cfg.ScanInterval))

	g, ctx := errgroup.WithContext(ctx)

	scanning := p.cfg.Mode == "scan" || p.cfg.Mode == "full"
	executing := p.cfg.Mode == "execute" || p.cfg.Mode == "full"

	if scanning {
		for _, rt := range p.deps.Chains {
			rt := rt
			g.Go(func() error {
				err := p.scanLoop(ctx, rt)
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("scan loop %s: %w", rt.Chain.Name(), err)
			})
			if rt.Feed != nil {
				g.Go(func() error {
					rt.Feed.Run(ctx)
					return nil
				})
			}
		}
		g.Go(func() error {
			p.dispatchLoop(ctx)
			return nil
		})
	}

	if executing {
		g.Go(func() error {
			err := p.drainLoop(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("drain loop: %w", err)
		})
	}

	g.Go(func() error {
		p.healthLoop(ctx)
		return nil
	})

	if p.deps.Consumer != nil && p.cfg.SignalRetention > 0 {
		g.Go(func() error {
			p.pruneLoop(ctx)
			return nil
		})
	}

	if p.deps.Archiver != nil {
		g.Go(func() error {
			p.archiveLoop(ctx)
			return nil
		})
	}

	err := g.Wait()
	if err != nil {
		p.logger.Error("pipeline stopped with error", slog.String("error", err.Error()))
		return err
	}
	p.logger.Info("pipeline stopped cleanly")
	return nil
}

// healthLoop runs endpoint health checks on a ticker and alerts when a chain
// loses every endpoint.
func (p *Pipeline) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.HealthInterval)
	defer ticker.Stop()

	degraded := make(map[domain.ChainID]bool)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		p.deps.Pools.HealthCheckAll(ctx)
		for chain := range p.deps.Chains {
			pool, err := p.deps.Pools.Pool(chain)
			if err != nil {
				continue
			}
			healthy := pool.Healthy()
			if !healthy && !degraded[chain] {
				p.logger.Warn("all endpoints unhealthy", slog.String("chain", chain.Name()))
				if p.deps.Notifier != nil {
					p.deps.Notifier.EndpointLoss(ctx, chain)
				}
			}
			degraded[chain] = !healthy
		}
	}
}

// pruneLoop removes expired processed signals on an hourly cadence.
func (p *Pipeline) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.deps.Consumer.Prune(p.cfg.SignalRetention); err != nil {
				p.logger.Warn("signal prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

// archiveLoop uploads a per-chain execution report once a day.
func (p *Pipeline) archiveLoop(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for chain := range p.deps.Chains {
				n, err := p.deps.Archiver.ArchiveExecutions(ctx, chain, time.Now().UTC())
				if err != nil {
					p.logger.Warn("execution archive failed",
						slog.String("chain", chain.Name()),
						slog.String("error", err.Error()))
					continue
				}
				if n > 0 {
					p.logger.Info("executions archived",
						slog.String("chain", chain.Name()),
						slog.Int("records", n))
				}
			}
		}
	}
}

func (p *Pipeline) recordRejection(ctx context.Context, chain domain.ChainID, routeDesc string, rej *domain.Rejection) {
	p.logger.Debug("candidate rejected",
		slog.String("chain", chain.Name()),
		slog.String("route", routeDesc),
		slog.String("code", string(rej.Code)),
		slog.String("detail", rej.Detail))
	if p.deps.Rejections == nil {
		return
	}
	rec := domain.RejectionRecord{
		ID:        newID(),
		Chain:     chain,
		RouteDesc: routeDesc,
		Code:      rej.Code,
		Detail:    rej.Detail,
		CreatedAt: time.Now().UTC(),
	}
	if err := p.deps.Rejections.Create(ctx, rec); err != nil {
		p.logger.Warn("rejection record write failed", slog.String("error", err.Error()))
	}
}
