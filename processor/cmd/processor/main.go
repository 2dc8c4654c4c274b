package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vertical-labs/firehose/common/countrystats"
	"github.com/vertical-labs/firehose/common/logging"
	"github.com/vertical-labs/firehose/common/recordstore"
	"github.com/vertical-labs/firehose/common/secrets"
	"github.com/vertical-labs/firehose/processor/internal/config"
	"github.com/vertical-labs/firehose/processor/internal/consumer"
	"github.com/vertical-labs/firehose/processor/internal/geo"
	"github.com/vertical-labs/firehose/processor/internal/server"
	"github.com/vertical-labs/firehose/processor/internal/service"

	natsclient "github.com/vertical-labs/firehose/common/messaging/nats"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("processor"))
	logging.SetDefault(logger)

	slog.Info("Starting processor service",
		slog.Int("port", cfg.Server.Port),
		slog.String("store_backend", cfg.Store.Backend),
		slog.String("nats_url", cfg.NATS.URL),
		slog.String("geo_url", cfg.Geo.URL),
	)

	provider, err := secrets.NewProvider(cfg.Secrets.Provider, cfg.Secrets.EnvPrefix, cfg.Secrets.Dir)
	if err != nil {
		log.Fatalf("Failed to configure secrets: %v", err)
	}
	secretCache := secrets.NewCache(provider)

	// Record store; migrations run before the pool opens
	storeCtx, storeCancel := context.WithTimeout(context.Background(), 60*time.Second)
	store, err := recordstore.Open(storeCtx, cfg.Store)
	storeCancel()
	if err != nil {
		log.Fatalf("Failed to open record store: %v", err)
	}
	slog.Info("Record store ready", slog.String("backend", cfg.Store.Backend), slog.String("table", cfg.Store.Table))

	geoClient := geo.NewClient(cfg.Geo, secretCache.Source(secrets.GeoAPIToken), nil, logger.Component("geo"))

	var svcOpts []service.Option
	var collector *countrystats.Collector
	var statsClient *countrystats.Client
	if cfg.Stats.Enabled {
		instanceID := cfg.Stats.InstanceID
		if instanceID == "" {
			instanceID, _ = os.Hostname()
		}
		statsClient, err = countrystats.NewClient(context.Background(), cfg.Stats.RedisURL, cfg.Stats.Prefix, instanceID)
		if err != nil {
			log.Fatalf("Failed to connect country stats: %v", err)
		}
		collector = countrystats.NewCollector(statsClient, cfg.Stats.FlushInterval, logger.Component("countrystats"))
		svcOpts = append(svcOpts, service.WithCountryRecorder(collector))
		slog.Info("Country stats enabled", slog.String("instance_id", instanceID), slog.Duration("flush_interval", cfg.Stats.FlushInterval))
	}
	svc := service.New(store, geoClient, logger.Component("service"), svcOpts...)

	// Durable consumer on the records stream
	natsCfg := natsclient.DefaultConfig()
	natsCfg.URL = cfg.NATS.URL
	natsCfg.Name = "firehose-processor"
	natsCfg.MaxReconnects = cfg.NATS.MaxReconnects
	natsCfg.ReconnectWait = cfg.NATS.ReconnectWait
	natsCfg.NakDelay = cfg.NATS.NakDelay
	natsCfg.Logger = logger.Component("nats")

	js, err := natsclient.NewJetStreamClient(natsCfg)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}

	setupCtx, setupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	streamCfg := natsclient.RecordsStream()
	streamCfg.Name = cfg.NATS.Stream
	if _, err := js.CreateOrUpdateStream(setupCtx, streamCfg); err != nil {
		setupCancel()
		log.Fatalf("Failed to create records stream: %v", err)
	}
	consumerCfg := natsclient.DefaultConsumerConfig(cfg.NATS.Consumer, cfg.NATS.Subject)
	consumerCfg.AckWait = cfg.NATS.AckWait
	consumerCfg.MaxDeliver = cfg.NATS.MaxDeliver
	consumerCfg.MaxAckPending = cfg.NATS.MaxAckPending
	if _, err := js.CreateOrUpdateConsumer(setupCtx, cfg.NATS.Stream, consumerCfg); err != nil {
		setupCancel()
		log.Fatalf("Failed to create consumer: %v", err)
	}
	setupCancel()

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	cons := consumer.New(js, svc, cfg.NATS.Stream, cfg.NATS.Consumer, logger.Component("consumer"))
	if err := cons.Start(runCtx); err != nil {
		log.Fatalf("Failed to start consumer: %v", err)
	}

	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: server.NewRouter(server.Deps{
			Broker: js,
			Store:  store,
			Geo:    geoClient,
		}, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("Processor listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down processor...")
	// Returns once in-flight handlers have settled their messages
	cons.Stop()

	if err := js.Drain(); err != nil {
		slog.Warn("NATS drain failed", logging.Error(err))
	}
	runCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Server forced to shutdown", logging.Error(err))
	}

	if collector != nil {
		collector.Stop()
		_ = statsClient.Close()
	}

	if err := store.Close(); err != nil {
		slog.Warn("Failed to close record store", logging.Error(err))
	}
	slog.Info("Processor stopped")
}
