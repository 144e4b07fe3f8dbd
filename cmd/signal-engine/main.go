// Command signal-engine runs the trading signal engine: the scheduler loop,
// one-shot reconciliation, the archival pipelines, and schema migrations.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"alpaca-signal-engine/config"
	"alpaca-signal-engine/internal/archival"
	"alpaca-signal-engine/internal/brokerage"
	"alpaca-signal-engine/internal/cache"
	"alpaca-signal-engine/internal/database"
	"alpaca-signal-engine/internal/events"
	"alpaca-signal-engine/internal/execution"
	"alpaca-signal-engine/internal/logging"
	"alpaca-signal-engine/internal/marketdata"
	"alpaca-signal-engine/internal/metrics"
	"alpaca-signal-engine/internal/notification"
	"alpaca-signal-engine/internal/patterns"
	"alpaca-signal-engine/internal/reconciler"
	"alpaca-signal-engine/internal/risk"
	"alpaca-signal-engine/internal/scheduler"
	"alpaca-signal-engine/internal/secrets"
	"alpaca-signal-engine/internal/server"
	signalgen "alpaca-signal-engine/internal/signal"
	"alpaca-signal-engine/internal/warehouse"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "signal-engine",
	Short:         "Pattern-driven trading signal engine for Alpaca",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one scheduler pass over the symbol universe",
	RunE:  runEngine,
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile broker positions against the operational store",
	RunE:  runReconcile,
}

var archiveCmd = &cobra.Command{
	Use:       "archive [trades|fees|rejected|expired|snapshot|strategies]",
	Short:     "Run one archival pipeline against the warehouse",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"trades", "fees", "rejected", "expired", "snapshot", "strategies"},
	RunE:      runArchive,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply operational-store and warehouse DDL",
	RunE:  runMigrate,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to JSON config file")
	rootCmd.AddCommand(runCmd, reconcileCmd, archiveCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app holds the wired core shared by every subcommand.
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	db        *database.DB
	signals   *database.SignalRepository
	positions *database.PositionRepository
	journal   *database.EventJournal
	locks     *cache.JobLockRepository
	broker    brokerage.Broker
	bars      marketdata.Provider
	notifier  notification.Notifier
	bus       *events.Bus
	collector *metrics.Collector
	exec      *execution.Engine
	recon     *reconciler.Reconciler
}

// buildApp loads config and secrets and wires the core dependency graph.
// Any failure here is fatal init: the process exits 1.
func buildApp(ctx context.Context) (*app, error) {
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := logging.Setup(logging.Options{
		Level:       cfg.LoggingConfig.Level,
		Format:      cfg.LoggingConfig.Format,
		GCPSeverity: cfg.LoggingConfig.GCPSeverity,
	})

	loader, err := secrets.NewLoader(cfg.VaultConfig)
	if err != nil {
		return nil, fmt.Errorf("init secrets: %w", err)
	}
	if err := loader.Apply(ctx, cfg); err != nil {
		return nil, fmt.Errorf("load secrets: %w", err)
	}

	db, err := database.NewDB(ctx, cfg.DatabaseConfig, cfg.TablePrefix())
	if err != nil {
		return nil, fmt.Errorf("connect operational store: %w", err)
	}

	signals := database.NewSignalRepository(db)
	positions := database.NewPositionRepository(db)

	broker := brokerage.NewAlpacaClient(cfg.BrokerConfig)
	var bars marketdata.Provider = marketdata.NewAlpacaProvider(cfg.BrokerConfig)
	if cfg.MarketDataConfig.EnableCache {
		bars = marketdata.NewCachingProvider(bars, cfg.MarketDataConfig.CacheDir)
	}

	var notifier notification.Notifier = notification.Noop{}
	if cfg.NotificationConfig.Enabled {
		if cfg.NotificationConfig.MockDiscord {
			notifier = notification.NewRecorder()
		} else {
			notifier = notification.NewRouter(cfg.NotificationConfig)
		}
	}

	bus := events.NewBus()
	collector := metrics.NewCollector()
	collector.Bind(bus)

	gates := risk.NewEngine(cfg.RiskConfig, broker, positions, bars, cfg.EngineConfig.CryptoSymbols)
	exec := execution.NewEngine(cfg.ExecutionConfig, cfg.RiskConfig.RiskPerTrade,
		cfg.IsProd(), broker, gates, positions, bus)
	recon := reconciler.NewReconciler(broker, positions, exec, notifier, bus,
		time.Duration(cfg.EngineConfig.ReconcilerMinAgeMinutes)*time.Minute)
	exec.AttachVerifier(recon)

	return &app{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		signals:   signals,
		positions: positions,
		journal:   database.NewEventJournal(db),
		locks:     cache.NewJobLockRepository(cfg.RedisConfig),
		broker:    broker,
		bars:      bars,
		notifier:  notifier,
		bus:       bus,
		collector: collector,
		exec:      exec,
		recon:     recon,
	}, nil
}

func (a *app) close() {
	a.locks.Close()
	a.db.Close()
}

// signalContext cancels on SIGTERM/SIGINT so the loop finishes the symbol
// in flight and exits cleanly.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runEngine(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	generator := signalgen.NewGenerator(
		patterns.NewAnalyzer(a.cfg.EngineConfig.PivotThreshold),
		a.cfg.EngineConfig.StrategyID,
		signalgen.DefaultCooldown(a.cfg.EngineConfig.CooldownHours),
		a.cfg.TTL(),
	)
	sched := scheduler.New(a.cfg.EngineConfig, scheduler.Universe(a.cfg.EngineConfig),
		a.bars, generator, a.signals, a.positions, a.exec, a.notifier, a.journal,
		a.bus, a.collector)

	var ops *server.Server
	if a.cfg.ServerConfig.Enabled {
		ops = server.New(a.cfg.ServerConfig, a.cfg.IsProd(), a.collector, a.bus, sched.State)
		ops.AddDependency("database", a.db)
		ops.AddDependency("broker", server.PingerFunc(func(ctx context.Context) error {
			_, err := a.broker.GetAccount(ctx)
			return err
		}))
		go func() {
			if err := ops.Start(); err != nil {
				a.logger.Error().Err(err).Msg("ops server stopped")
			}
		}()
	}

	runErr := sched.Run(ctx)

	if ops != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(),
			time.Duration(a.cfg.ServerConfig.ShutdownTimeout)*time.Second)
		defer cancel()
		if err := ops.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn().Err(err).Msg("ops server shutdown failed")
		}
	}

	// Cancellation mid-pass is a clean shutdown, not a failure.
	if runErr != nil && runErr != context.Canceled {
		return runErr
	}
	return nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if !a.cfg.IsProd() {
		a.logger.Info().Str("environment", a.cfg.EngineConfig.Environment).
			Msg("reconciliation only runs in PROD, nothing to do")
		return nil
	}

	lock, ok := a.locks.AcquireLock(ctx, "reconcile", cache.DefaultLockTTL)
	if !ok {
		a.logger.Warn().Msg("reconcile already running elsewhere, skipping")
		return nil
	}
	defer lock.Release(ctx)

	report, err := a.recon.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	a.locks.MarkRun(ctx, "reconcile", time.Now().UTC())
	a.logger.Info().
		Str("run_id", report.RunID).
		Int("zombies", len(report.Zombies)).
		Int("orphans", len(report.Orphans)).
		Int("reconciled", report.ReconciledCount).
		Int("critical", len(report.CriticalIssues)).
		Msg("reconciliation finished")
	return nil
}

func runArchive(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	store, err := warehouse.NewStore(a.cfg.WarehouseConfig.DSN)
	if err != nil {
		return fmt.Errorf("connect warehouse: %w", err)
	}
	defer store.Close()

	var pipeline archival.Pipeline
	switch args[0] {
	case "trades":
		pipeline = archival.NewTradesPipeline(a.positions, a.signals, a.broker, a.bars, store, a.exec)
	case "fees":
		pipeline = archival.NewFeePatchPipeline(store, a.broker)
	case "rejected":
		pipeline = archival.NewRejectedPipeline(a.signals, a.broker, a.bars, store)
	case "expired":
		pipeline = archival.NewExpiredPipeline(a.signals, a.bars, store)
	case "snapshot":
		pipeline = archival.NewSnapshotPipeline(a.broker, store)
	case "strategies":
		pipeline = archival.NewStrategySyncPipeline(a.cfg, store)
	default:
		return fmt.Errorf("unknown pipeline %q", args[0])
	}

	runner := archival.NewRunner(a.locks, a.bus)
	rows, err := runner.Run(ctx, pipeline)
	if err != nil {
		return fmt.Errorf("archive %s: %w", args[0], err)
	}
	a.logger.Info().Str("pipeline", args[0]).Int("rows", rows).Msg("archive finished")
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.db.RunMigrations(ctx); err != nil {
		return fmt.Errorf("operational store migrations: %w", err)
	}
	if a.cfg.WarehouseConfig.DSN != "" {
		store, err := warehouse.NewStore(a.cfg.WarehouseConfig.DSN)
		if err != nil {
			return fmt.Errorf("connect warehouse: %w", err)
		}
		defer store.Close()
		if err := store.RunMigrations(ctx); err != nil {
			return fmt.Errorf("warehouse migrations: %w", err)
		}
	}
	a.logger.Info().Msg("migrations applied")
	return nil
}
