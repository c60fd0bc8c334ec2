package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"
	"github.com/liqcore/liqbot/internal/aave"
	"github.com/liqcore/liqbot/internal/archive"
	"github.com/liqcore/liqbot/internal/audit"
	"github.com/liqcore/liqbot/internal/backfill"
	"github.com/liqcore/liqbot/internal/chain"
	"github.com/liqcore/liqbot/internal/config"
	"github.com/liqcore/liqbot/internal/diagapi"
	"github.com/liqcore/liqbot/internal/domain"
	"github.com/liqcore/liqbot/internal/execution"
	"github.com/liqcore/liqbot/internal/fixedpoint"
	"github.com/liqcore/liqbot/internal/health"
	"github.com/liqcore/liqbot/internal/ingest"
	"github.com/liqcore/liqbot/internal/intent"
	"github.com/liqcore/liqbot/internal/lockstore"
	"github.com/liqcore/liqbot/internal/logging"
	"github.com/liqcore/liqbot/internal/multicall"
	"github.com/liqcore/liqbot/internal/predictive"
	"github.com/liqcore/liqbot/internal/prices"
	"github.com/liqcore/liqbot/internal/queue"
	"github.com/liqcore/liqbot/internal/reserves"
	"github.com/liqcore/liqbot/internal/risk"
	"github.com/liqcore/liqbot/internal/rpcpool"
	"github.com/liqcore/liqbot/internal/submit"
	"github.com/liqcore/liqbot/internal/supervisor"
	"github.com/liqcore/liqbot/internal/telemetry"
	"github.com/liqcore/liqbot/internal/tokens"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "run the liquidation bot as a long-lived service",
		RunE: func(cmd *cobra.Command, args []string) error {
			lastExitCode = runService(cmd.Context())
			return nil
		},
	}
}

// runService wires every component and blocks until shutdown, returning the
// supervisor exit code.
func runService(ctx context.Context) int {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 1
	}
	if err := config.LoadSecrets(secretsPath); err != nil {
		fmt.Fprintln(os.Stderr, "secrets:", err)
		return 1
	}
	ratioTable, err := config.LoadRatioTable(ratiosPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ratio table:", err)
		return 1
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty, FilePath: cfg.LogFilePath})
	logging.SetGlobal(log)

	passphrase := []byte(os.Getenv(cfg.ExecutorPassphraseEnv))
	executorKeys, err := loadExecutorKeys(cfg.ExecutorKeyDir, passphrase)
	if err != nil {
		log.Error().Err(err).Msg("failed to load executor keys")
		return 1
	}

	readClient, err := ethclient.DialContext(ctx, firstOrEmpty(cfg.ReadEndpoints))
	if err != nil {
		log.Error().Err(err).Msg("failed to dial primary read endpoint")
		return 1
	}
	writeClient, err := ethclient.DialContext(ctx, firstOrEmpty(cfg.WriteEndpoints))
	if err != nil {
		log.Error().Err(err).Msg("failed to dial primary write endpoint")
		return 1
	}

	readPool := rpcpool.New(rpcpool.KindRead, rpcpool.Config{URLs: cfg.ReadEndpoints}, log)
	writePool := rpcpool.New(rpcpool.KindWrite, rpcpool.Config{URLs: cfg.WriteEndpoints}, log)

	relayURLs := []string{cfg.RelayEndpoint}
	if cfg.RelaySrvName != "" {
		if discovered, err := rpcpool.ResolveSRV(cfg.RelaySrvName, "1.1.1.1:53"); err != nil {
			log.Warn().Err(err).Str("srv", cfg.RelaySrvName).Msg("relay SRV discovery failed, falling back to relayEndpoint")
		} else {
			relayURLs = append(relayURLs, discovered...)
		}
	}
	relayPool := rpcpool.New(rpcpool.KindRelay, rpcpool.Config{URLs: relayURLs}, log)

	poolAddress := common.HexToAddress(cfg.PoolAddress)
	multicallAddress := common.HexToAddress(cfg.MulticallAddress)
	chainID := big.NewInt(cfg.ChainID)

	// aave's adapters hand-pack their own calldata (package doc: no textual
	// ABI table), so ContractClient is constructed with an empty abi.ABI;
	// every call here goes through RawCall, never c.abi.Pack/Unpack.
	noABI := abi.ABI{}
	poolClient := chain.NewContractClient(readClient, poolAddress, noABI)
	multicallClient := chain.NewContractClient(readClient, multicallAddress, noABI)

	aavePool := aave.NewPool(poolClient)
	aggregator := aave.NewAggregator(multicallClient)
	erc20Reader := aave.NewERC20Reader(readClient)

	chainlinkFeeds := make(map[string]*chain.ContractClient, len(cfg.ChainlinkFeeds))
	for symbol, addr := range cfg.ChainlinkFeeds {
		chainlinkFeeds[symbol] = chain.NewContractClient(readClient, common.HexToAddress(addr), noABI)
	}
	chainlink := aave.NewChainlinkFeed(chainlinkFeeds)

	var oracle *aave.Oracle
	if cfg.OracleAddress != "" {
		oracleClient := chain.NewContractClient(readClient, common.HexToAddress(cfg.OracleAddress), noABI)
		oracle = aave.NewOracle(oracleClient, map[string]common.Address{})
	}

	metrics := telemetry.New()

	var tracerProvider *sdktrace.TracerProvider
	var meterProvider *sdkmetric.MeterProvider
	if cfg.TracingEndpoint != "" {
		tracerProvider, err = telemetry.NewTracerProvider(ctx, telemetry.TracerConfig{OtlpEndpoint: cfg.TracingEndpoint, ServiceName: "liqbot"})
		if err != nil {
			log.Warn().Err(err).Msg("failed to start tracer provider, spans will be dropped")
		}
		meterProvider, err = telemetry.NewMeterProvider(ctx, telemetry.MeterConfig{OtlpEndpoint: cfg.TracingEndpoint})
		if err != nil {
			log.Warn().Err(err).Msg("failed to start OTLP meter provider, push metrics will be dropped")
		}
	}

	reserveCatalog := reserves.New(aavePool, log)
	if err := reserveCatalog.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("initial reserve catalog refresh failed, continuing with empty catalog")
	}

	tokenRegistry := tokens.New(reserveCatalog, nil, ratioTable.Aliases, erc20Reader, 5)

	priceSvc := prices.New(prices.Config{StalenessSeconds: cfg.StalenessSeconds, PollDisableAfterErrors: cfg.PollDisableAfterErrors},
		chainlink, oracle, buildRatioFeeds(ratioTable), nil)

	var latestBlock uint64
	latestBlockFn := func() uint64 { return latestBlock }

	riskEngine := risk.New()
	mc := multicall.New(aggregator, aavePool)

	resolver := health.New(health.Config{
		CacheTTL:              cfg.CacheTTL(),
		ExecutionThresholdBps: uint32(cfg.ExecutionHfThresholdBps),
		HysteresisBps:         uint32(cfg.HysteresisBps),
	}, mc, riskEngine, log, 256)

	hotlist := queue.NewHotlist(queue.DefaultHotCapacity)
	dirty := queue.NewDirtySet()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	locks := lockstore.New(redisClient)

	packer := aavePool
	priceLookup := symbolPriceLookup(tokenRegistry, priceSvc, latestBlockFn)
	gasEstimator := newGasEstimator(writeClient, executorKeys[0].Address, poolAddress)

	intentBuilder := intent.New(intent.Config{
		MinDebtUsd: cfg.MinDebtUsd, MinProfitUsd: cfg.MinProfitUsd,
		CloseFactor: mapCloseFactor(cfg.CloseFactor), GasLimitBuffer: 1.2, MaxIntentAge: cfg.MaxIntentAge(),
	}, packer, priceLookup, gasEstimator)

	clients := newClientPool()
	submitter := submit.New(submit.Config{
		FirstBumpDelay: cfg.FirstBumpDelay(), SecondBumpDelay: cfg.SecondBumpDelay(),
		FirstBumpFactor: cfg.FirstBumpFactor, MaxBumps: cfg.MaxBumps, MaxBumpsPerDay: cfg.MaxBumpsPerDay,
	}, writePool, relayPool, newSigner(chainID), newBroadcaster(clients), newMinedChecker(writeClient), executorKeys, log)

	dispatcher, err := newTxDispatcher(ctx, submitter, writeClient, poolAddress, chainID, executorKeys[0].Address)
	if err != nil {
		log.Error().Err(err).Msg("failed to construct tx dispatcher")
		return 1
	}

	positionsFetcher := newPositionsFetcher(resolver, reserveCatalog, tokenRegistry, priceSvc, latestBlockFn)
	reservesFetcher := newReservesFetcher(resolver, reserveCatalog)

	executor := execution.New(execution.Config{
		LockTTL: 6 * time.Second, SnapshotTTL: cfg.SnapshotTTL(), LatencyAbort: cfg.LatencyAbort(),
		ExecutionThresholdBps: uint32(cfg.ExecutionHfThresholdBps),
	}, locks, &resolverSnapshotSource{resolver: resolver, cache: locks, cacheTTL: cfg.SnapshotTTL()}, positionsFetcher, reservesFetcher, intentBuilder, dispatcher, submitter, metrics, log)

	boundary := execution.NewBlockBoundaryController(hotlist, executor, cfg.MaxDispatchesPerBlock, cfg.SendDelay(), log)

	registry := ingest.NewRegistry()
	registerPoolDecoders(registry)
	ingestor := ingest.New(ingest.Config{URL: cfg.WSEndpoint}, registry, log)

	ourAddress := executorKeys[0].Address
	if cfg.OurAddress != "" {
		ourAddress = common.HexToAddress(cfg.OurAddress)
	}

	var recorder audit.Recorder
	var gormRecorder *audit.GormRecorder
	if cfg.MysqlDSN != "" {
		var err error
		gormRecorder, err = audit.NewGormRecorder(cfg.MysqlDSN)
		if err != nil {
			log.Error().Err(err).Msg("failed to open audit recorder")
			return 1
		}
		recorder = gormRecorder
	}

	auditor := audit.New(audit.Config{MinDebtUsd: cfg.MinDebtUsd, SuspiciousScalingAlert: true}, ourAddress,
		resolver.BorrowerSnapshot, oraclePriceAt(oracle, tokenRegistry), priceSvc.PriceAt, assetSymbolOf(tokenRegistry),
		dirty, nil, metrics, recorder, log)

	predictiveOrch := predictive.New(predictive.Config{
		FallbackBlocks: 3, ExecutionThresholdBps: uint32(cfg.ExecutionHfThresholdBps),
		NearBandBps: uint32(cfg.PredictiveNearBandBps), VolMinBps: uint32(cfg.PredictiveVolMinBps), VolMaxBps: uint32(cfg.PredictiveVolMaxBps),
	}, risk.New(), priceLookup, nil, log)
	predictiveOrch.Register(dirtySetListener{dirty: dirty})

	backfiller := backfill.New(newPoolLogReader(readClient, poolAddress, registry), log)

	sup := supervisor.New(supervisor.Config{}, readPool.HealthySnapshot, writePool.HealthySnapshot, ingestor.IsConnected,
		submitter.ResetDailyBudgets, log)

	sup.Register(supervisor.Component{
		Name: "backfill",
		Start: func(ctx context.Context) error {
			head, err := readClient.HeaderByNumber(ctx, nil)
			if err != nil {
				return err
			}
			latestBlock = head.Number.Uint64()
			result, err := backfiller.RunWithConfig(ctx, latestBlock, backfill.Config{
				Blocks: cfg.BackfillBlocks, ChunkBlocks: cfg.BackfillChunkBlocks, MaxLogs: cfg.BackfillMaxLogs,
			})
			if err != nil {
				return err
			}
			for user := range result.Users {
				resolver.Seed(user)
			}
			log.Info().Int("users", len(result.Users)).Int("logs", result.LogsScanned).Msg("backfill complete")
			return nil
		},
		Stop: func(ctx context.Context) error { return nil },
	})

	ingestCtx, ingestCancel := context.WithCancel(context.Background())
	sup.Register(supervisor.Component{
		Name: "ingestor",
		Start: func(ctx context.Context) error {
			go func() {
				if err := ingestor.Run(ingestCtx); err != nil && ctx.Err() == nil {
					log.Error().Err(err).Msg("ingestor exited")
				}
			}()
			return nil
		},
		Stop: func(ctx context.Context) error { ingestCancel(); return nil },
	})

	dispatchCtx, dispatchCancel := context.WithCancel(context.Background())
	sup.Register(supervisor.Component{
		Name: "dispatch_loop",
		Start: func(ctx context.Context) error {
			go runDispatchLoop(dispatchCtx, ingestor, resolver, boundary, executor, auditor, dirty, hotlist, reserveCatalog,
				predictiveOrch, reservesFetcher, uint32(cfg.ExecutionHfThresholdBps), log, &latestBlock)
			return nil
		},
		Stop: func(ctx context.Context) error { dispatchCancel(); return nil },
	})

	reserveRefreshCtx, reserveRefreshCancel := context.WithCancel(context.Background())
	sup.Register(supervisor.Component{
		Name: "reserve_catalog_refresh",
		Start: func(ctx context.Context) error {
			go runReserveCatalogRefresh(reserveRefreshCtx, reserveCatalog, cfg.ReserveRefreshInterval(), log)
			return nil
		},
		Stop: func(ctx context.Context) error { reserveRefreshCancel(); return nil },
	})

	if cfg.MetricsAddr != "" {
		diagServer := diagapi.NewServer(diagapi.Config{
			Addr: cfg.MetricsAddr, Enabled: cfg.DiagApiEnabled, HMACSecret: os.Getenv(cfg.DiagApiSecretEnv),
		}, metrics, resolver.BorrowerSnapshot, hotlistView(hotlist), log)
		sup.Register(supervisor.Component{
			Name: "metrics_server",
			Start: func(ctx context.Context) error {
				go func() { _ = diagServer.ListenAndServe() }()
				return nil
			},
			Stop: func(ctx context.Context) error {
				shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				defer cancel()
				return diagServer.Shutdown(shutdownCtx)
			},
		})
	}

	if tracerProvider != nil || meterProvider != nil {
		sup.Register(supervisor.Component{
			Name:  "otel_providers",
			Start: func(ctx context.Context) error { return nil },
			Stop: func(ctx context.Context) error {
				shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				defer cancel()
				if tracerProvider != nil {
					if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
						log.Warn().Err(err).Msg("tracer provider shutdown failed")
					}
				}
				if meterProvider != nil {
					if err := meterProvider.Shutdown(shutdownCtx); err != nil {
						log.Warn().Err(err).Msg("meter provider shutdown failed")
					}
				}
				return nil
			},
		})
	}

	predictiveCtx, predictiveCancel := context.WithCancel(context.Background())
	sup.Register(supervisor.Component{
		Name: "predictive_orchestrator",
		Start: func(ctx context.Context) error {
			go runPredictiveLoop(predictiveCtx, predictiveOrch, resolver, hotlist, reserveCatalog, cfg)
			return nil
		},
		Stop: func(ctx context.Context) error { predictiveCancel(); return nil },
	})

	if cfg.ArchiveBucket != "" && gormRecorder != nil {
		archiveCtx, archiveCancel := context.WithCancel(context.Background())
		uploader, err := archive.NewS3Uploader(context.Background(), archive.S3Config{
			Bucket: cfg.ArchiveBucket, Prefix: cfg.ArchivePrefix, Region: cfg.ArchiveRegion, Endpoint: cfg.ArchiveEndpoint,
			AccessKeyID: os.Getenv(cfg.ArchiveAccessKeyEnv), SecretAccessKey: os.Getenv(cfg.ArchiveSecretKeyEnv),
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to configure archive uploader, skipping audit export")
		} else {
			exporter := archive.NewExporter(gormRecorder, uploader, archive.ExporterConfig{Interval: cfg.ArchiveInterval()}, 0, log)
			sup.Register(supervisor.Component{
				Name: "archive_exporter",
				Start: func(ctx context.Context) error {
					go func() {
						if err := exporter.Run(archiveCtx); err != nil {
							log.Error().Err(err).Msg("archive exporter exited")
						}
					}()
					return nil
				},
				Stop: func(ctx context.Context) error { archiveCancel(); return nil },
			})
		}
	}

	return sup.Run(ctx)
}

func firstOrEmpty(urls []string) string {
	if len(urls) == 0 {
		return ""
	}
	return urls[0]
}

func mapCloseFactor(c config.CloseFactorPolicy) intent.CloseFactorPolicy {
	if c == config.CloseFactorFull {
		return intent.CloseFactorFull
	}
	return intent.CloseFactorFixed50
}

// busyPoolEventBacklog is the PoolEvents() channel depth above which a new
// block is treated as arriving during a "busy" stream: predictive tier (a)
// fires an extra orchestrator tick instead of waiting for its fallback timer.
const busyPoolEventBacklog = 32

// dirtyDrainInterval bounds how long a dirty-marked user waits before
// getting rechecked and, if still near threshold, promoted into the hotlist.
const dirtyDrainInterval = 2 * time.Second

// runDispatchLoop fans the ingestor's block/event streams into HealthResolver
// invalidation, the hotlist's block-boundary drain, the auditor's
// liquidation-event observation, immediate dispatch of resolver-emitted edge
// triggers, periodic promotion of dirty-marked users into the hotlist, and
// predictive tier (a) (an extra tick when a new block lands on a busy
// stream). One loop instead of several because they all consume the same
// handful of channels/timers.
func runDispatchLoop(ctx context.Context, ingestor *ingest.Ingestor, resolver *health.Resolver, boundary *execution.BlockBoundaryController, executor *execution.Executor, auditor *audit.Auditor, dirty *queue.DirtySet, hotlist *queue.Hotlist, catalog *reserves.Catalog, orch *predictive.Orchestrator, reservesFor func(ctx context.Context, user common.Address) []common.Address, executionThresholdBps uint32, log zerolog.Logger, latestBlock *uint64) {
	dirtyTicker := time.NewTicker(dirtyDrainInterval)
	defer dirtyTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case block, ok := <-ingestor.Blocks():
			if !ok {
				return
			}
			*latestBlock = block.Number
			boundary.OnNewBlock(ctx, block.Number)
			if len(ingestor.PoolEvents()) >= busyPoolEventBacklog {
				candidates, lowHfCount := buildPredictiveCandidates(hotlist, resolver, catalog)
				orch.Tick(candidates, lowHfCount)
			}
		case ev, ok := <-ingestor.PoolEvents():
			if !ok {
				return
			}
			for _, user := range ev.Users {
				resolver.Invalidate(user)
				dirty.Mark(user, string(ev.Kind))
			}
			if ev.Kind == ingest.EventLiquidationCall {
				auditor.Observe(ctx, audit.LiquidationCall{
					User: firstUser(ev.Users), Liquidator: ev.Liquidator, DebtAsset: ev.Reserve,
					DebtToCover: ev.DebtToCover, Block: ev.Block, TxHash: ev.TxHash,
				})
			}
		case trigger, ok := <-resolver.Triggers():
			if !ok {
				return
			}
			go dispatchTrigger(ctx, executor, trigger, log)
		case <-dirtyTicker.C:
			drainDirtyIntoHotlist(ctx, resolver, hotlist, dirty, reservesFor, executionThresholdBps, *latestBlock, log)
		}
	}
}

// dispatchTrigger runs the critical-lane lifecycle for one resolver-emitted
// EdgeTrigger. Run in its own goroutine so a slow lock/submit round trip for
// one user never delays the dispatch loop's channel selects.
func dispatchTrigger(ctx context.Context, executor *execution.Executor, trigger domain.EdgeTrigger, log zerolog.Logger) {
	outcome, err := executor.Handle(ctx, trigger)
	if err != nil {
		log.Warn().Err(err).Str("user", trigger.User.Hex()).Msg("edge trigger dispatch failed")
		return
	}
	log.Debug().Str("user", trigger.User.Hex()).Str("outcome", outcome).Msg("edge trigger dispatched")
}

// drainDirtyIntoHotlist rechecks every user DirtySet accumulated since the
// last drain and promotes the ones still below threshold into the hotlist,
// removing anyone who recovered. This is how a pool-event or predictive mark
// that missed both the edge-trigger path and a block boundary still gets
// picked up by BlockBoundaryController's next drain.
func drainDirtyIntoHotlist(ctx context.Context, resolver *health.Resolver, hotlist *queue.Hotlist, dirty *queue.DirtySet, reservesFor func(ctx context.Context, user common.Address) []common.Address, executionThresholdBps uint32, block uint64, log zerolog.Logger) {
	marks := dirty.Drain()
	for user, reason := range marks {
		resolver.Invalidate(user)
		snap, err := resolver.HfOf(ctx, user, block, reservesFor(ctx, user))
		if err != nil {
			log.Debug().Err(err).Str("user", user.Hex()).Str("reason", reason).Msg("dirty recheck failed")
			continue
		}
		if snap.HF == nil || !fixedpoint.LessThanThreshold(snap.HF, executionThresholdBps) {
			hotlist.Remove(user)
			continue
		}
		borrower, _ := resolver.BorrowerSnapshot(user)
		var totalDebtUsd float64
		if borrower.TotalDebtBase != nil {
			totalDebtUsd = toFloatBaseUnits(borrower.TotalDebtBase)
		}
		hotlist.Upsert(domain.QueueEntry{
			User: user, HealthFactor: snap.HF, TotalDebtUsd: totalDebtUsd,
			Priority: domain.PriorityHot, Score: hfToScore(snap.HF), Reason: reason,
		})
	}
}

// hfToScore maps a WAD-scaled HF to the hotlist's ascending urgency score:
// lower HF is more urgent, so the score is just the HF itself as a float.
func hfToScore(hf *uint256.Int) float64 {
	f := new(big.Float).SetInt(hf.ToBig())
	f.Quo(f, big.NewFloat(1e18))
	out, _ := f.Float64()
	return out
}

// runReserveCatalogRefresh re-fetches reserve configuration (decimals,
// liquidation thresholds/bonuses, pause/frozen flags) on a fixed interval,
// in addition to the initial refresh at startup.
func runReserveCatalogRefresh(ctx context.Context, catalog *reserves.Catalog, interval time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := catalog.Refresh(ctx); err != nil {
				log.Warn().Err(err).Msg("periodic reserve catalog refresh failed")
			}
		}
	}
}

func firstUser(users []common.Address) common.Address {
	if len(users) == 0 {
		return common.Address{}
	}
	return users[0]
}
