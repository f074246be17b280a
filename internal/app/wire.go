package app

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/vegas-max/Titan2.0-sub003/internal/blob/s3"
	"github.com/vegas-max/Titan2.0-sub003/internal/cache/redis"
	"github.com/vegas-max/Titan2.0-sub003/internal/config"
	"github.com/vegas-max/Titan2.0-sub003/internal/domain"
	"github.com/vegas-max/Titan2.0-sub003/internal/feed"
	"github.com/vegas-max/Titan2.0-sub003/internal/gas"
	"github.com/vegas-max/Titan2.0-sub003/internal/graph"
	"github.com/vegas-max/Titan2.0-sub003/internal/keys"
	"github.com/vegas-max/Titan2.0-sub003/internal/liquidity"
	"github.com/vegas-max/Titan2.0-sub003/internal/loansize"
	"github.com/vegas-max/Titan2.0-sub003/internal/nonce"
	"github.com/vegas-max/Titan2.0-sub003/internal/notify"
	"github.com/vegas-max/Titan2.0-sub003/internal/pipeline"
	"github.com/vegas-max/Titan2.0-sub003/internal/profit"
	"github.com/vegas-max/Titan2.0-sub003/internal/router"
	"github.com/vegas-max/Titan2.0-sub003/internal/rpc"
	"github.com/vegas-max/Titan2.0-sub003/internal/signal"
	"github.com/vegas-max/Titan2.0-sub003/internal/store/postgres"
	"github.com/vegas-max/Titan2.0-sub003/internal/txmgr"
)

// Dependencies bundles everything the pipeline needs, constructed by Wire and
// torn down by the returned cleanup function.
type Dependencies struct {
	Pipeline *pipeline.Pipeline
	Pools    *rpc.Registry
	Notifier *notify.Notifier
}

// Wire builds the full dependency graph from configuration. Optional backing
// services (Postgres, Redis, S3) are wired only when enabled; the pipeline
// degrades to in-process equivalents without them.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	// --- Signing key (live execution only) ---
	var signingKey *ecdsa.PrivateKey
	needsKey := cfg.Mode == "execute" || (cfg.Mode == "full" && !cfg.Execution.Paper)
	if needsKey || cfg.Wallet.PrivateKey != "" || cfg.Wallet.EncryptedKeyPath != "" {
		key, err := keys.Load(keys.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
			ExpectedAddress:  cfg.Wallet.Address,
		})
		if err != nil {
			if needsKey {
				cleanup()
				return nil, nil, fmt.Errorf("wire: signing key: %w", err)
			}
			logger.Warn("no signing key loaded, paper execution only", slog.String("error", err.Error()))
		} else {
			signingKey = key
		}
	}

	// --- Chain endpoint pools ---
	endpoints := make(map[domain.ChainID][]string, len(cfg.Chains))
	for id, cc := range cfg.Chains {
		chainID, err := strconv.ParseUint(id, 10, 64)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: bad chain id %q: %w", id, err)
		}
		endpoints[domain.ChainID(chainID)] = cc.Endpoints
	}
	pools, err := rpc.NewRegistry(ctx, endpoints, cfg.Scanner.RequestTimeout.Duration, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: endpoint pools: %w", err)
	}
	closers = append(closers, pools.Close)

	// --- Optional Redis ---
	var (
		reserveMirror domain.ReserveCache
		signalBus     domain.SignalBus
		reservation   domain.TVLReservation
	)
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		reserveMirror = redis.NewReserveCache(redisClient, cfg.Scanner.ReserveCacheTTL.Duration*10)
		signalBus = redis.NewSignalBus(redisClient)
		reservation = redis.NewTVLReservation(redisClient)
	}

	// --- Optional Postgres ---
	var (
		oppStore  domain.OpportunityStore
		execStore domain.ExecutionStore
		rejStore  domain.RejectionStore
	)
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)
		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		oppStore = postgres.NewOpportunityStore(pgClient)
		execStore = postgres.NewExecutionStore(pgClient)
		rejStore = postgres.NewRejectionStore(pgClient)
	}

	// --- Optional S3 archive ---
	var blobWriter domain.BlobWriter
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		blobWriter = s3blob.NewWriter(s3Client)
	}

	// --- Liquidity source ---
	reader := liquidity.NewChainReader(pools)
	source := liquidity.NewCachingSource(reader, reserveMirror, cfg.Scanner.ReserveCacheTTL.Duration, logger)

	// --- Gas oracle ---
	oracle := gas.NewOracle(pools, nil, gas.Config{
		CeilingGwei:     cfg.Profit.GasCeilingGwei,
		SafetyFactor:    cfg.Execution.GasSafetyFactor,
		PriorityFeeGwei: cfg.Execution.PriorityFeeGwei,
		CacheTTL:        cfg.Scanner.ReserveCacheTTL.Duration,
	}, logger)

	// --- Evaluation ---
	evaluator := profit.NewEvaluator(profit.Config{
		GasCeilingGwei:   cfg.Profit.GasCeilingGwei,
		MinProfitUSD:     cfg.Profit.MinProfitUSD,
		MinProfitBps:     cfg.Profit.MinProfitBps,
		MaxSlippageBps:   cfg.Profit.MaxSlippageBps,
		MaxPoolImpactBps: cfg.Profit.MaxPoolImpactBps,
		FlatFeeUSD:       cfg.Profit.FlatFeeUSD,
		LoanRateBps:      cfg.Profit.LoanRateBps,
		GasLimitPerSwap:  cfg.Profit.GasLimitPerSwap,
		OpportunityTTL:   cfg.Execution.SignalTTL.Duration,
	})
	optimizer := loansize.NewOptimizer(evaluator, loansize.Config{
		MaxTVLFraction: cfg.Loan.MaxTVLFraction,
		MinLoanUSD:     cfg.Loan.MinLoanUSD,
		MaxLoanUSD:     cfg.Loan.MaxLoanUSD,
		SearchBudget:   cfg.Loan.SearchBudget,
	}, logger)

	// --- Execution ---
	breakers := txmgr.NewBreakerSet(txmgr.BreakerConfig{
		Threshold: uint32(cfg.Breaker.Threshold),
		Cooldown:  cfg.Breaker.Cooldown.Duration,
	}, logger)
	allocator := nonce.NewAllocator(pools, logger)
	manager, err := txmgr.NewManager(pools, allocator, oracle, breakers, execStore, signingKey, txmgr.Config{
		Paper:           cfg.Execution.Paper,
		ConfirmTimeout:  cfg.Execution.ConfirmTimeout.Duration,
		ReceiptInterval: cfg.Execution.ReceiptInterval.Duration,
	}, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: txmgr: %w", err)
	}

	// --- Per-chain runtimes ---
	chains := make(map[domain.ChainID]*pipeline.ChainRuntime, len(cfg.Chains))
	targets := make(map[domain.ChainID]router.Targets, len(cfg.Chains))
	for id, cc := range cfg.Chains {
		chainID, _ := strconv.ParseUint(id, 10, 64)
		chain := domain.ChainID(chainID)
		if _, err := pools.Pool(chain); err != nil {
			logger.Warn("chain skipped, no reachable endpoints", slog.String("chain", chain.Name()))
			continue
		}

		g, err := graph.Build(chain, cc)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: graph: %w", err)
		}
		rt := &pipeline.ChainRuntime{
			Chain:       chain,
			Graph:       g,
			Scanner:     graph.NewScanner(g, cfg.Scanner.MaxHops, logger),
			LenderVault: common.HexToAddress(cc.LenderVault),
			NativeUSD:   cc.NativeUSD,
		}
		if cc.WSEndpoint != "" {
			poolIDs := make(map[common.Address]string)
			for _, vp := range g.Venues() {
				poolIDs[vp.Venue.Address] = vp.Venue.ID()
			}
			rt.Feed = feed.NewPoolEvents(chain, cc.WSEndpoint, poolIDs, source, logger)
		}
		chains[chain] = rt
		targets[chain] = router.Targets{
			Paired:  common.HexToAddress(cc.ExecutorPaired),
			General: common.HexToAddress(cc.ExecutorGeneral),
		}
	}
	if len(chains) == 0 {
		cleanup()
		return nil, nil, fmt.Errorf("wire: no usable chains")
	}

	strategyRouter := router.New(manager, buildRegistry(chains), targets, manager.Signer(), logger)

	// --- Signal boundary ---
	writer, err := signal.NewWriter(cfg.Signals.OutgoingDir, signalBus, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	consumer, err := signal.NewConsumer(cfg.Signals.OutgoingDir, cfg.Signals.ProcessedDir, blobWriter, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	notifier := notify.NewNotifier(senders, cfg.Notify.Events, logger)
	breakers.OnOpen(func(chain domain.ChainID, failures uint32) {
		notifier.CircuitOpened(ctx, chain, failures)
	})

	var archiver pipeline.ExecutionArchiver
	if blobWriter != nil && execStore != nil {
		archiver = s3blob.NewArchiver(blobWriter, execStore)
	}

	pipe, err := pipeline.New(pipeline.Config{
		Mode:            cfg.Mode,
		ScanInterval:    cfg.Scanner.Interval.Duration,
		CycleBudget:     cfg.Scanner.CycleBudget.Duration,
		Concurrency:     cfg.Scanner.Concurrency,
		MaxBackoff:      cfg.Breaker.MaxBackoff.Duration,
		SignalTTL:       cfg.Execution.SignalTTL.Duration,
		SignalRetention: cfg.Signals.Retention.Duration,
		MaxTVLFraction:  cfg.Loan.MaxTVLFraction,
		SlippageBps:     uint32(cfg.Profit.MaxSlippageBps),
		PriorityFeeGwei: uint64(cfg.Execution.PriorityFeeGwei),
		DeadlineWindow:  cfg.Execution.DeadlineWindow.Duration,
	}, pipeline.Deps{
		Chains:      chains,
		Pools:       pools,
		Source:      source,
		Oracle:      oracle,
		Evaluator:   evaluator,
		Optimizer:   optimizer,
		Router:      strategyRouter,
		TxManager:   manager,
		Breakers:    breakers,
		Writer:      writer,
		Consumer:    consumer,
		Reservation: reservation,
		Opps:        oppStore,
		Rejections:  rejStore,
		Archiver:    archiver,
		Notifier:    notifier,
	}, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	return &Dependencies{Pipeline: pipe, Pools: pools, Notifier: notifier}, cleanup, nil
}

// buildRegistry assigns compact indices to every token and venue in the
// inventory. Index assignment is deterministic (sorted by address and venue
// id) so scanner and executor agree across restarts.
func buildRegistry(chains map[domain.ChainID]*pipeline.ChainRuntime) *router.Registry {
	var addrs []string
	var venueIDs []string
	tokenAddr := make(map[string]common.Address)
	for _, rt := range chains {
		for _, ti := range rt.Graph.Tokens() {
			hex := ti.Token.Address.Hex()
			if _, ok := tokenAddr[hex]; !ok {
				tokenAddr[hex] = ti.Token.Address
				addrs = append(addrs, hex)
			}
		}
		for _, vp := range rt.Graph.Venues() {
			venueIDs = append(venueIDs, vp.Venue.ID())
		}
	}
	sort.Strings(addrs)
	sort.Strings(venueIDs)

	tokens := make(map[common.Address]uint16, len(addrs))
	for i, hex := range addrs {
		tokens[tokenAddr[hex]] = uint16(i)
	}
	venues := make(map[string]uint16, len(venueIDs))
	for i, id := range venueIDs {
		venues[id] = uint16(i)
	}
	return router.NewRegistry(tokens, venues)
}
