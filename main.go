package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"mcp-core/internal/api"
	"mcp-core/internal/broker"
	"mcp-core/internal/events"
	"mcp-core/internal/feed"
	"mcp-core/internal/mcp"
	"mcp-core/internal/monitor"
	"mcp-core/internal/notify"
	"mcp-core/internal/queue"
	"mcp-core/internal/router"
	"mcp-core/pkg/brokers/binance"
	"mcp-core/pkg/brokers/paper"
	"mcp-core/pkg/config"
	"mcp-core/pkg/db"
	"mcp-core/pkg/i18n"
	"mcp-core/pkg/logging"
)

// buildVersion is set with -ldflags "-X main.buildVersion=..."
var buildVersion = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, i18n.M().ConfigLoadFailed, err)
		os.Exit(1)
	}
	i18n.SetLanguage(i18n.Language(cfg.Language))
	m := i18n.M()

	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	log.Info().Str("version", buildVersion).Msg(m.Starting)
	log.Info().Msgf(m.ConfigLoaded, cfg.Port, cfg.GRPCPort)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("control plane exited")
	}
	log.Info().Msg(m.ShutdownComplete)
}

func run(cfg *config.Config, log zerolog.Logger) error {
	m := i18n.M()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	dsn := cfg.DBPath
	if cfg.DBDriver == db.DriverPostgres {
		dsn = cfg.DatabaseURL
	}
	database, err := db.Open(cfg.DBDriver, dsn)
	if err != nil {
		return fmt.Errorf("%s: %w", m.DBInitFailed, err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		return fmt.Errorf("%s: %w", m.DBMigrationsFailed, err)
	}
	log.Info().Msgf(m.UsingDB, database.Driver)

	// Metrics and queues
	bus := events.NewBus()
	collectors := monitor.NewCollectors()
	sysMetrics := monitor.NewSystemMetrics()

	collectors.Track(ctx, bus)

	queueOpts := []queue.ManagerOption{
		queue.WithObserver(collectors.QueueObserver()),
		queue.WithObserver(sysMetrics.QueueObserver()),
		queue.WithEvents(bus),
		queue.WithLogger(logging.Component(log, "queue")),
	}
	if cfg.EnableQueueWAL {
		journal, err := queue.OpenJournal(cfg.QueueWALPath, logging.Component(log, "journal"))
		if err != nil {
			log.Warn().Err(err).Msg(m.JournalFailed)
		} else {
			log.Info().Msgf(m.JournalEnabled, journal.Path())
			queueOpts = append(queueOpts, queue.WithJournal(journal))
		}
	}
	queues := queue.NewManager(cfg.QueueMaxSize, queueOpts...)
	defer queues.Close()

	// Brokers and routing
	factory := broker.DefaultFactory(broker.FactoryConfig{
		Binance: binance.Config{
			APIKey:    cfg.BinanceAPIKey,
			APISecret: cfg.BinanceAPISecret,
			Testnet:   cfg.BinanceTestnet,
		},
	}, logging.Component(log, "broker"))
	pool := broker.NewPool(database, factory, broker.DefaultConfig(), logging.Component(log, "broker_pool"))
	registerStaticBrokers(cfg, pool, log)

	routerOpts := []router.Option{
		router.WithStore(database),
		router.WithNotifications(queues),
		router.WithEvents(bus),
		router.WithObserver(collectors),
	}
	if profiles, err := config.LoadBrokerProfiles(cfg.BrokerProfilesPath); err != nil {
		log.Warn().Err(err).Str("path", cfg.BrokerProfilesPath).Msg("broker profiles not loaded")
	} else if len(profiles) > 0 {
		log.Info().Int("profiles", len(profiles)).Msg(m.BrokerProfilesLoaded)
		routerOpts = append(routerOpts, router.WithProfiles(profiles))
	}
	signalRouter := router.New(pool, logging.Component(log, "router"), routerOpts...)

	strategy, err := router.ParseStrategy(cfg.AutoRouteStrategy)
	if err != nil {
		log.Warn().Err(err).Msg("falling back to auto routing")
		strategy = router.StrategyAuto
	}

	// Notifications
	sink := notify.NewFanout(logging.Component(log, "notify"))
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != 0 {
		if tg, err := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID); err != nil {
			log.Warn().Err(err).Msg("telegram notifications disabled")
		} else {
			sink.Add(tg)
		}
	}
	if cfg.DiscordWebhookURL != "" {
		sink.Add(notify.NewDiscord(cfg.DiscordWebhookURL))
	}
	if cfg.FCMCredentialsFile != "" {
		if push, err := notify.NewFCM(ctx, cfg.FCMCredentialsFile, cfg.FCMTopic); err != nil {
			log.Warn().Err(err).Msg("push notifications disabled")
		} else {
			sink.Add(push)
		}
	}
	log.Info().Int("sinks", sink.Len()).Msg("notification sinks configured")

	monitor.NewMonitor(bus, sink, logging.Component(log, "monitor")).Start(ctx)

	// Control plane
	core := mcp.New(mcp.Config{
		Version:           buildVersion,
		ProcessorInterval: cfg.ProcessorInterval,
		PersistInterval:   cfg.PersistInterval,
		ResyncInterval:    cfg.ResyncInterval,
		AutoRouteUsers:    cfg.AutoRouteUsers,
		AutoRouteStrategy: strategy,
	}, mcp.Deps{
		Queues:     queues,
		Store:      database,
		Sink:       sink,
		Router:     signalRouter,
		Pool:       pool,
		Bus:        bus,
		Metrics:    sysMetrics,
		Collectors: collectors,
	}, logging.Component(log, "mcp"))
	if err := core.Start(ctx); err != nil {
		return err
	}

	var poller *feed.Poller
	if cfg.SignalFeedURL != "" {
		poller = feed.NewPoller(feed.NewHTTPFetcher(cfg.SignalFeedURL), core.Signals(), bus, feed.Config{
			Provider: "feed",
			Interval: cfg.SignalFeedInterval,
		}, logging.Component(log, "feed"))
		poller.Start(ctx)
		log.Info().Str("url", cfg.SignalFeedURL).Msg(m.FeedStarted)
	}

	// HTTP
	server := api.NewServer(core, api.Options{
		DB:         database,
		Metrics:    sysMetrics,
		Collectors: collectors,
	}, logging.Component(log, "api"))
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 2)
	go func() {
		log.Info().Msgf(m.ServerListening, cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("%s: %w", m.APIServerError, err)
		}
	}()

	// gRPC health
	if cfg.GRPCPort != "" {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		go func() {
			log.Info().Msgf(m.GRPCListening, cfg.GRPCPort)
			if err := core.ServeGRPC(ctx, lis); err != nil {
				errCh <- fmt.Errorf("grpc health: %w", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	var runErr error
	select {
	case <-sigChan:
	case runErr = <-errCh:
	}
	log.Info().Msg(m.ShuttingDown)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	if poller != nil {
		poller.Stop()
	}
	if err := core.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("control plane stop")
	}
	cancel()
	return runErr
}

// registerStaticBrokers gives every auto-routed user the brokers configured
// through the environment. Connections stored per user are created lazily
// by the pool.
func registerStaticBrokers(cfg *config.Config, pool *broker.Pool, log zerolog.Logger) {
	for _, userID := range cfg.AutoRouteUsers {
		if cfg.EnablePaperBroker {
			pool.Register(userID, broker.TypePaper, paper.New("paper", paper.Config{LatencyMinMs: 5, LatencyMaxMs: 50}))
		}
		if cfg.BinanceAPIKey != "" && cfg.BinanceAPISecret != "" {
			pool.Register(userID, broker.TypeBinance, binance.New("binance", binance.Config{
				APIKey:    cfg.BinanceAPIKey,
				APISecret: cfg.BinanceAPISecret,
				Testnet:   cfg.BinanceTestnet,
			}, logging.Component(log, "binance")))
		}
	}
}
