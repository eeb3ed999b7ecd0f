package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kjannette/trahn-swarm/internal/api"
	s3blob "github.com/kjannette/trahn-swarm/internal/blob/s3"
	"github.com/kjannette/trahn-swarm/internal/bot"
	"github.com/kjannette/trahn-swarm/internal/bundle"
	"github.com/kjannette/trahn-swarm/internal/cache/redis"
	"github.com/kjannette/trahn-swarm/internal/config"
	"github.com/kjannette/trahn-swarm/internal/db"
	"github.com/kjannette/trahn-swarm/internal/execution"
	"github.com/kjannette/trahn-swarm/internal/exitmon"
	"github.com/kjannette/trahn-swarm/internal/external"
	"github.com/kjannette/trahn-swarm/internal/journal"
	"github.com/kjannette/trahn-swarm/internal/notifications"
	"github.com/kjannette/trahn-swarm/internal/paper"
	"github.com/kjannette/trahn-swarm/internal/position"
	"github.com/kjannette/trahn-swarm/internal/repository"
	"github.com/kjannette/trahn-swarm/internal/risk"
	"github.com/kjannette/trahn-swarm/internal/scheduler"
	"github.com/kjannette/trahn-swarm/internal/solana"
	"github.com/kjannette/trahn-swarm/internal/strategy"
	"github.com/kjannette/trahn-swarm/internal/venue"
)

const banner = `
╔══════════════════════════════════════╗
║      TRAHN Swarm Trader v0.3         ║
║                                      ║
╚══════════════════════════════════════╝
`

const (
	stopTimeout     = 30 * time.Second
	balanceCacheTTL = 10 * time.Second
	reloadInterval  = 60 * time.Second
	fallbackSpacing = 500 * time.Millisecond
)

// chainClient is what both the RPC client and the paper ledger provide.
type chainClient interface {
	execution.Chain
	NativeBalances(ctx context.Context, owners []string) (map[string]float64, map[string]error, error)
}

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to an optional TOML configuration file")
	flag.Parse()

	fmt.Print(banner)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	cfg.Print()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("swarm exited with error", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	keys, err := solana.LoadKeyFile(cfg.KeysFile)
	if err != nil {
		return err
	}
	if len(keys.Agents) == 0 {
		return fmt.Errorf("no agent keys in %s", cfg.KeysFile)
	}
	if cfg.VenueAPIKey == "" {
		cfg.VenueAPIKey = keys.VenueAPIKey
	}
	keyring := execution.Keyring(keys.Agents)
	logger.Info("agents loaded", slog.Int("count", len(keyring)))

	oracle := external.NewOracle(external.OracleOptions{BaseURL: cfg.PriceURL, Interval: cfg.TickInterval()}, logger)

	// Chain and venues
	var (
		chain      chainClient
		venues     []venue.Venue
		builder    venue.BundleBuilder
		sender     bundle.Sender
		paperChain *paper.Chain
	)
	if cfg.PaperTradingEnabled {
		paperChain = paper.NewChain(oracle, logger,
			paper.WithSlippage(cfg.PaperSlippagePercent),
			paper.WithDecimals(cfg.TokenDecimals))
		for _, kp := range keyring {
			paperChain.Fund(kp.PublicKey(), cfg.PaperInitialSOL)
		}
		pv := paper.NewVenue(oracle)
		chain, venues, builder, sender = paperChain, []venue.Venue{pv}, pv, paperChain
	} else {
		rpcClient, err := solana.Dial(ctx, cfg.RPCURL, nil)
		if err != nil {
			return err
		}
		defer rpcClient.Close()
		chain = rpcClient

		if cfg.PrimaryVenueURL != "" {
			primary := venue.NewPrimary(venue.PrimaryConfig{
				TradeURL:      cfg.PrimaryVenueURL,
				BundleURL:     cfg.PrimaryBundleURL,
				TokenDecimals: cfg.TokenDecimals,
			})
			venues = append(venues, primary)
			builder = primary
		}
		if cfg.QuoteURL != "" && cfg.SwapURL != "" {
			venues = append(venues, venue.NewSecondary(venue.SecondaryConfig{
				QuoteURL: cfg.QuoteURL,
				SwapURL:  cfg.SwapURL,
				APIKey:   cfg.VenueAPIKey,
			}))
		}
		if cfg.BundleURL != "" {
			bc, err := solana.DialBundle(ctx, cfg.BundleURL, nil)
			if err != nil {
				return err
			}
			defer bc.Close()
			sender = bc
		}
	}

	// Database
	var (
		journalRepo  *repository.JournalRepo
		snapshotRepo *repository.SnapshotRepo
		checks       = map[string]api.Pinger{}
	)
	if cfg.DBEnabled {
		logger.Info("connecting to database", slog.String("host", cfg.DBHost), slog.Int("port", cfg.DBPort), slog.String("name", cfg.DBName))
		pool, err := db.Connect(ctx, cfg.DSN())
		if err != nil {
			return err
		}
		defer func() {
			pool.Close()
			logger.Info("database pool closed")
		}()
		if err := db.TestConnection(ctx, pool, logger); err != nil {
			return err
		}
		if err := repository.EnsureSchema(ctx, pool); err != nil {
			return err
		}
		journalRepo = repository.NewJournalRepo(pool)
		snapshotRepo = repository.NewSnapshotRepo(pool)
		checks["database"] = pool
	}

	// Redis
	var (
		engineOpts []execution.Option
		seen       bundle.SeenSet
	)
	if cfg.RedisAddr != "" {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			DB:         cfg.RedisDB,
			TLSEnabled: cfg.RedisTLSEnabled,
			Prefix:     cfg.RedisPrefix,
		})
		if err != nil {
			return err
		}
		defer rc.Close()
		engineOpts = append(engineOpts, execution.WithLocker(redis.NewLockManager(rc)))
		seen = bundle.Layered(redis.NewSeenSet(rc, 0), logger)
		checks["redis"] = rc
	}

	notify := notifications.NewSender(cfg.WebhookURL, cfg.BotName, logger)
	defer notify.Close()

	// Journal and positions
	journalOpts := []journal.Option{journal.WithPaper(cfg.PaperTradingEnabled), journal.WithMirror(notify)}
	if journalRepo != nil {
		journalOpts = append(journalOpts, journal.WithMirror(journalRepo))
	}
	jrnl, err := journal.Open(cfg.JournalFile, logger, journalOpts...)
	if err != nil {
		return err
	}
	defer jrnl.Close()

	var storeOpts []position.Option
	if snapshotRepo != nil {
		storeOpts = append(storeOpts, position.WithMirror(snapshotRepo))
	}
	store := position.NewStore(cfg.PositionsFile, logger, storeOpts...)
	if err := store.Load(); err != nil {
		return err
	}

	engine := execution.New(execution.Config{
		FeeBuffer:       cfg.FeeBuffer,
		SlippageBps:     cfg.SlippageBps,
		ExitSlippageBps: cfg.ExitSlippageBps,
		Blacklist:       cfg.Blacklist,
		Retry: execution.RetryPolicy{
			MaxAttempts:    cfg.MaxAttempts,
			FeeLadder:      cfg.PriorityFeeLadder,
			ConfirmTimeout: time.Duration(cfg.ConfirmTimeoutSeconds) * time.Second,
		},
		BroadcastRate: cfg.BroadcastRate,
	}, chain, venues, keyring, store, jrnl, logger, engineOpts...)

	// Strategy
	rules := strategy.DefaultRules()
	if cfg.StrategyFile != "" {
		if rules, err = strategy.LoadRules(cfg.StrategyFile); err != nil {
			return err
		}
	}
	holder := strategy.NewHolder(rules)
	var reloader *strategy.Reloader
	if cfg.StrategyFile != "" {
		reloader = strategy.NewReloader(cfg.StrategyFile, holder, reloadInterval, logger)
	}

	exitCfg := exitmon.DefaultConfig()
	exitCfg.EveryTicks = cfg.ExitEveryTicks
	exitCfg.MaxHold = time.Duration(cfg.MaxHoldMinutes) * time.Minute
	exitCfg.Thresholds = risk.Thresholds{TakeProfit: cfg.TakeProfitPct / 100, StopLoss: -cfg.StopLossPct / 100}
	exitCfg.CooldownBase = time.Duration(cfg.SellCooldownBaseSeconds) * time.Second
	exitCfg.CooldownPenalty = time.Duration(cfg.SellCooldownPenaltySeconds) * time.Second
	exitCfg.CooldownCap = time.Duration(cfg.SellCooldownCapSeconds) * time.Second
	exitCfg.StaleFailures = cfg.StaleFailures
	exitCfg.FeeBuffer = cfg.FeeBuffer
	exitCfg.HoldOnlyAsset = cfg.HoldOnlyAsset
	exits := exitmon.New(exitCfg, store, engine, chain, oracle, holder, jrnl, logger)
	balances := external.NewLedger(chain, balanceCacheTTL)

	deps := bot.Deps{
		Engine:   engine,
		Store:    store,
		Journal:  jrnl,
		Exits:    exits,
		Strategy: holder,
		Reloader: reloader,
		Prices:   oracle,
		Balances: balances,
		Tokens:   chain,
		Notify:   notify,
	}
	runners := []bot.Runner{oracle, balances}

	// Snipes
	if cfg.SnipeEnabled {
		var counter risk.DailyTradeCounter = jrnl
		if journalRepo != nil {
			counter = journalRepo
		}
		gate := risk.NewGate(risk.Limits{
			MaxOpenPositions: cfg.SnipeMaxOpenPositions,
			MinFundedAgents:  cfg.SnipeMinFundedAgents,
			MinInterval:      time.Duration(cfg.SnipeMinIntervalSeconds) * time.Second,
			MaxDailyTrades:   cfg.SnipeMaxDailyTrades,
			WinRateFloor:     cfg.SnipeWinRateFloor,
			WinRateWindow:    cfg.SnipeWinRateWindow,
			MinSamples:       cfg.SnipeWinRateMinSamples,
		}, store, jrnl, counter)

		opts := []bundle.Option{}
		if builder != nil && sender != nil {
			opts = append(opts, bundle.WithBundles(builder, sender))
		}
		if seen != nil {
			opts = append(opts, bundle.WithSeenSet(seen))
		}
		deps.Sniper = bundle.New(bundle.Config{
			SnipeAmount:     cfg.SnipeAmount,
			FeeBuffer:       cfg.FeeBuffer,
			Freshness:       time.Duration(cfg.SnipeFreshnessSeconds) * time.Second,
			BundleSize:      cfg.BundleSize,
			SlippageBps:     cfg.SlippageBps,
			PriorityFee:     cfg.SnipePriorityFee,
			FallbackSpacing: fallbackSpacing,
			ConfirmTimeout:  time.Duration(cfg.ConfirmTimeoutSeconds) * time.Second,
		}, engine, chain, keyring, store, gate, oracle, jrnl, logger, opts...)

		if cfg.SignalFeedURL != "" {
			feed := external.NewSignalFeed(cfg.SignalFeedURL, logger)
			deps.Signals = feed
			runners = append(runners, feed)
		} else {
			logger.Warn("snipes enabled without SIGNAL_FEED_URL: no opportunities will arrive")
		}
	}

	trader := bot.NewTrader(bot.TraderConfig{
		TickInterval:     cfg.TickInterval(),
		TradeAmount:      cfg.TradeAmount,
		InitialBagAmount: cfg.InitialBagAmount,
		TradeCooldown:    time.Duration(cfg.TradeCooldownSeconds) * time.Second,
		ApprovedAssets:   cfg.ApprovedAssets,
		HoldOnlyAsset:    cfg.HoldOnlyAsset,
		Paper:            cfg.PaperTradingEnabled,
	}, deps, logger)
	balances.Track(trader.Owners()...)
	svc := bot.NewService(trader, logger, runners...)

	// Journal archive
	var archive *scheduler.ArchiveScheduler
	if cfg.S3Bucket != "" && cfg.JournalFile != "" {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3Endpoint,
			Region:         cfg.S3Region,
			Bucket:         cfg.S3Bucket,
			AccessKey:      cfg.S3AccessKey,
			SecretKey:      cfg.S3SecretKey,
			UseSSL:         cfg.S3UseSSL,
			ForcePathStyle: cfg.S3ForcePathStyle,
		})
		if err != nil {
			return err
		}
		checks["s3"] = api.PingFunc(sc.Health)
		archive = scheduler.NewArchiveScheduler(jrnl, s3blob.NewWriter(sc, cfg.S3Prefix), scheduler.ArchiveConfig{
			Interval:   time.Duration(cfg.ArchiveIntervalHours) * time.Hour,
			OnArchived: func(key string) { notify.Post("Journal archived: " + key) },
		}, logger)
	} else {
		logger.Info("journal archive disabled")
	}

	src := api.Sources{Positions: store, Journal: jrnl, Checks: checks}
	if journalRepo != nil {
		src.Repo = journalRepo
	}
	if paperChain != nil {
		src.Paper = paperChain
	}
	srv := api.NewServer(src, cfg.APIPort, cfg.APIKey, cfg.CORSAllowOrigin, logger)

	if err := svc.Start(ctx); err != nil {
		return err
	}
	if archive != nil {
		archive.Start()
	}
	logger.Info("all services started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down gracefully")

		if archive != nil {
			archive.Stop()
		}
		var errs []error
		if err := svc.Stop(stopTimeout); err != nil {
			errs = append(errs, err)
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("api shutdown: %w", err))
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
