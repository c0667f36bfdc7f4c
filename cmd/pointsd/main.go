package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/pflag"

	"PointsLedger/internal/api"
	"PointsLedger/internal/collector"
	"PointsLedger/internal/config"
	"PointsLedger/internal/logger"
	"PointsLedger/internal/metrics"
	"PointsLedger/internal/milestone"
	"PointsLedger/internal/notifier"
	"PointsLedger/internal/oracle"
	"PointsLedger/internal/program"
	"PointsLedger/internal/recorder"
	"PointsLedger/internal/scheduler"
	"PointsLedger/internal/withdrawal"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	configPath := pflag.String("config", "configs/config.yaml", "path to the YAML config file (or CONFIG_PATH)")
	verbose := pflag.Bool("verbose", false, "enable debug logging")
	runOnStart := pflag.Bool("run-on-start", false, "refresh every program once at startup")
	pflag.Parse()

	log := logger.New(*verbose)
	log.Info("pointsd starting", "version", version, "commit", commit)
	metrics.BuildInfo.WithLabelValues(version, commit).Set(1)

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("failed to load .env", "error", err)
	}

	// Load config
	cfgPath := *configPath
	if v := os.Getenv("CONFIG_PATH"); v != "" && !pflag.CommandLine.Changed("config") {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Error("load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Error("config validation", "error", err)
		os.Exit(1)
	}

	clock := clockwork.NewRealClock()

	// Init ledger source
	var source collector.LedgerSource
	if cfg.Ledger.BaseURL != "" {
		source = collector.NewSubgraphSource(log, cfg.Ledger.BaseURL, cfg.Ledger.APIKey, cfg.Proxy, cfg.Ledger.Timeout)
	} else {
		source = collector.NewDemoSource(20, clock.Now())
	}
	log.Info("ledger source", "name", source.Name())
	col := collector.NewCollector(log, source, cfg.Ledger.PageSize)

	// Init oracle client
	oracleClient := oracle.NewHTTPClient(log, cfg.OracleEndpoints(), cfg.Oracles.MinInterval, cfg.Proxy, cfg.Oracles.Timeout)
	cachedOracle := oracle.NewCached(log, clock, oracleClient)

	// Init withdrawal state
	store, err := withdrawal.OpenStore(cfg.Database.StateFile)
	if err != nil {
		log.Error("open withdrawal state", "error", err)
		os.Exit(1)
	}

	// Init recorder
	var rec recorder.Recorder
	if cfg.Database.SQLitePath != "" {
		sr, err := recorder.NewSQLiteRecorder(log, cfg.Database.SQLitePath)
		if err != nil {
			log.Warn("init sqlite recorder failed, using noop", "error", err)
			rec = recorder.NewNoopRecorder()
		} else {
			rec = sr
			defer sr.Close()
		}
	} else {
		rec = recorder.NewNoopRecorder()
	}

	// Init programs
	programs := make([]*program.Program, 0, len(cfg.Programs))
	for _, pc := range cfg.Programs {
		p, err := program.New(program.Config{
			Logger:       log,
			Clock:        clock,
			Name:         pc.Name,
			Tokens:       pc.TokenSources(),
			Windows:      pc.WithdrawalWindows,
			Precision:    pc.Precision,
			FetchTimeout: pc.FetchTimeout,
			Collector:    col,
			Oracle:       cachedOracle,
			Store:        store,
			Recorder:     rec,
		})
		if err != nil {
			log.Error("init program", "program", pc.Name, "error", err)
			os.Exit(1)
		}
		programs = append(programs, p)
	}
	reg, err := program.NewRegistry(programs...)
	if err != nil {
		log.Error("init registry", "error", err)
		os.Exit(1)
	}
	ms := milestone.NewService(log, reg, rec, cfg.MilestoneSeasons())

	// Init notifier
	var n notifier.Notifier
	var tn *notifier.TelegramNotifier
	if cfg.Telegram.BotToken != "" {
		tn = notifier.NewTelegramNotifier(log, cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy)
		n = tn
	} else {
		log.Info("telegram not configured, alerts go to the log")
		n = notifier.NewLogNotifier(log)
	}

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Init scheduler
	sched := scheduler.NewScheduler(ctx, log, clock, reg, ms, n, cfg.Scheduler.AlertAfter)
	if err := sched.RegisterAll(cfg.Intervals()); err != nil {
		log.Error("register cron tasks", "error", err)
		os.Exit(1)
	}
	sched.Start()
	defer sched.Stop()

	if tn != nil {
		go tn.StartPolling(ctx, sched.HandleCommand)
		log.Info("telegram polling started")
	}

	if *runOnStart || cfg.Scheduler.RunOnStart {
		log.Info("run-on-start enabled, refreshing every program now")
		go sched.RefreshAllNow()
	}

	// Init HTTP server
	srv, err := api.New(api.Config{
		Logger:     log,
		ListenAddr: cfg.Server.ListenAddr,
		Registry:   reg,
		Milestones: ms,
	})
	if err != nil {
		log.Error("init server", "error", err)
		os.Exit(1)
	}
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Run(ctx) }()

	log.Info("pointsd is running, press Ctrl+C to stop")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		log.Info("shutdown signal received, stopping")
		cancel()
		if err := <-srvErr; err != nil {
			log.Error("server shutdown", "error", err)
		}
	case err := <-srvErr:
		log.Error("server stopped", "error", err)
		cancel()
	}

	if err := store.Flush(); err != nil {
		log.Warn("flush withdrawal state", "error", err)
	}
	log.Info("pointsd stopped")
}
