package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vertical-labs/firehose/common/countrystats"
	"github.com/vertical-labs/firehose/common/logging"
	"github.com/vertical-labs/firehose/common/messaging"
	"github.com/vertical-labs/firehose/common/recordstore"
	"github.com/vertical-labs/firehose/common/secrets"
	"github.com/vertical-labs/firehose/streamer/internal/backoff"
	"github.com/vertical-labs/firehose/streamer/internal/config"
	"github.com/vertical-labs/firehose/streamer/internal/eventbus"
	"github.com/vertical-labs/firehose/streamer/internal/forwarder"
	"github.com/vertical-labs/firehose/streamer/internal/handlers"
	"github.com/vertical-labs/firehose/streamer/internal/server"
	"github.com/vertical-labs/firehose/streamer/internal/stream"

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
	).With(logging.Service("streamer"))
	logging.SetDefault(logger)

	slog.Info("Starting streamer service",
		slog.Int("port", cfg.Server.Port),
		slog.String("upstream_url", cfg.Upstream.URL),
		slog.String("store_backend", cfg.Store.Backend),
		slog.Bool("nats_enabled", cfg.NATS.Enabled),
	)
	if *configPath != "" {
		slog.Info("Loaded configuration", slog.String("config_path", *configPath))
	}

	// Secrets are fetched lazily and cached for the life of the process
	provider, err := secrets.NewProvider(cfg.Secrets.Provider, cfg.Secrets.EnvPrefix, cfg.Secrets.Dir)
	if err != nil {
		log.Fatalf("Failed to configure secrets: %v", err)
	}
	secretCache := secrets.NewCache(provider)

	bus := eventbus.New(logger.Component("eventbus"))

	policy, err := backoff.New(cfg.Stream.Backoff)
	if err != nil {
		log.Fatalf("Invalid backoff config: %v", err)
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: cfg.Upstream.DialTimeout}).DialContext,
			TLSHandshakeTimeout:   cfg.Upstream.DialTimeout,
			ResponseHeaderTimeout: cfg.Upstream.DialTimeout,
			IdleConnTimeout:       90 * time.Second,
		},
	}
	upstream := stream.NewHTTPUpstream(cfg.Upstream.URL, secretCache.Source(secrets.UpstreamToken), httpClient)
	// A rejected token may have been rotated; refetch it on the next attempt
	upstream.OnUnauthorized(func() { secretCache.Invalidate(secrets.UpstreamToken) })

	manager := stream.NewManager(upstream, bus, stream.Options{
		Policy:       policy,
		Logger:       logger.Component("stream"),
		MaxLineBytes: cfg.Stream.MaxLineBytes,
	})

	// Durable queue hand-off to the processor
	var (
		broker messaging.Client
		fwd    *forwarder.Forwarder
	)
	if cfg.NATS.Enabled {
		natsCfg := natsclient.DefaultConfig()
		natsCfg.URL = cfg.NATS.URL
		natsCfg.Name = "firehose-streamer"
		natsCfg.MaxReconnects = cfg.NATS.MaxReconnects
		natsCfg.ReconnectWait = cfg.NATS.ReconnectWait
		natsCfg.Timeout = cfg.NATS.Timeout
		natsCfg.Logger = logger.Component("nats")

		js, err := natsclient.NewJetStreamClient(natsCfg)
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if _, err := js.CreateOrUpdateStream(ctx, natsclient.RecordsStream()); err != nil {
			cancel()
			log.Fatalf("Failed to create records stream: %v", err)
		}
		cancel()

		broker = js
		fwd = forwarder.New(bus, js, cfg.Forwarder, logger.Component("forwarder"))
		fwd.Start()
		slog.Info("Queue forwarder started",
			logging.Subject(cfg.Forwarder.Subject),
			slog.Int("queue_size", cfg.Forwarder.QueueSize),
		)
	} else {
		slog.Warn("NATS disabled - records will not be forwarded to the processor")
	}

	// Read side of the processed-records store
	storeCtx, storeCancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := recordstore.Open(storeCtx, cfg.Store)
	storeCancel()
	if err != nil {
		log.Fatalf("Failed to open record store: %v", err)
	}

	var countries *handlers.CountriesHandler
	var statsClient *countrystats.Client
	if cfg.Stats.Enabled {
		statsClient, err = countrystats.NewClient(context.Background(), cfg.Stats.RedisURL, cfg.Stats.Prefix, "")
		if err != nil {
			log.Fatalf("Failed to connect country stats: %v", err)
		}
		countries = handlers.NewCountriesHandler(statsClient, logger)
	}

	monitor := handlers.NewMonitorHandler(bus, logger, cfg.Monitor.Buffer, cfg.Monitor.Heartbeat)
	router := server.NewRouter(server.Handlers{
		Admin:     handlers.NewAdminHandler(manager, logger),
		Monitor:   monitor,
		Records:   handlers.NewRecordsHandler(store, logger),
		Health:    handlers.NewHealthHandler(manager, broker, store),
		Countries: countries,
	}, server.Options{
		AdminToken:  secretCache.Source(secrets.APIToken),
		BasePath:    cfg.Server.BasePath,
		CORSOrigins: cfg.Server.CORSOrigins,
		Logger:      logger,
	})

	// No write timeout: /monitor-stream responses are long-lived
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("Streamer listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	if cfg.Stream.AutoStart {
		manager.Start()
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down streamer...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownWait)
	defer shutdownCancel()

	manager.Close()

	if fwd != nil {
		if err := fwd.Stop(shutdownCtx); err != nil {
			slog.Warn("Forwarder did not drain", logging.Error(err))
		}
	}

	// Long-lived monitor streams never go idle on their own
	srv.RegisterOnShutdown(monitor.Close)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Server forced to shutdown", logging.Error(err))
		_ = srv.Close()
	}

	bus.Close()

	if broker != nil {
		if err := broker.Drain(); err != nil {
			slog.Warn("NATS drain failed", logging.Error(err))
		}
	}
	if err := store.Close(); err != nil {
		slog.Warn("Failed to close record store", logging.Error(err))
	}
	if statsClient != nil {
		_ = statsClient.Close()
	}

	slog.Info("Streamer stopped")
}
