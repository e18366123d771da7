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
	"runtime"
	"syscall"
	"time"

	"github.com/rickgao/shardgate/internal/api"
	"github.com/rickgao/shardgate/internal/config"
	"github.com/rickgao/shardgate/internal/connection"
	"github.com/rickgao/shardgate/internal/database"
	"github.com/rickgao/shardgate/internal/gateway"
	"github.com/rickgao/shardgate/internal/poller"
	"github.com/rickgao/shardgate/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/shardgate.local.yaml", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "config", *configPath)
		os.Exit(1)
	}

	// Set up structured logging
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting shardgate",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	intents, err := cfg.Bot.ParsedIntents()
	if err != nil {
		logger.Error("invalid intents", "error", err)
		os.Exit(1)
	}
	if privileged := intents.Privileged(); len(privileged) > 0 {
		logger.Warn("privileged intents requested, they must be enabled for the bot", "intents", privileged)
	}

	logger.Info("configuration loaded",
		"api_url", cfg.API.RestURL,
		"sharding", cfg.Bot.Sharding,
		"intents", intents,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Create API client
	apiClient := api.NewClient(
		cfg.API.RestURL,
		cfg.Bot.Token,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
		api.WithUserAgent(version.UserAgent()),
	)

	logger.Info("fetching gateway metadata")
	info, err := apiClient.GetGatewayBot(ctx)
	if err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			logger.Error("bot token rejected", "error", err)
		} else {
			logger.Error("failed to get gateway metadata", "error", err)
		}
		os.Exit(1)
	}
	logger.Info("gateway metadata",
		"url", info.URL,
		"recommended_shards", info.Shards,
		"max_concurrency", info.SessionStartLimit.MaxConcurrency,
		"session_starts_remaining", info.SessionStartLimit.Remaining,
	)

	var opts []connection.Option

	// Connect to the journal database
	if cfg.Database.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Postgres.Host,
			"port", cfg.Database.Postgres.Port,
			"database", cfg.Database.Postgres.Name,
		)

		pool, err := database.Connect(ctx, cfg.Database.Postgres)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		journal := database.NewJournal(pool, logger)
		if err := journal.EnsureSchema(ctx); err != nil {
			logger.Error("failed to prepare journal schema", "error", err)
			os.Exit(1)
		}
		opts = append(opts, connection.WithRecorder(journal))

		logger.Info("database connected")
	}

	dialer := connection.DefaultWSDialer()
	dialer.WriteTimeout = cfg.Gateway.WriteTimeout

	mgr := connection.NewManager(managerConfig(cfg, intents), dialer, logger, opts...)
	registry, err := mgr.Start(ctx, policyFromConfig(cfg.Bot), info)
	if err != nil {
		logger.Error("failed to start shards", "error", err)
		os.Exit(1)
	}

	// Start gateway health poller
	healthPoller := poller.New(poller.Config{
		Interval: cfg.Gateway.PollInterval,
		Timeout:  cfg.API.Timeout,
	}, apiClient, poller.RegistrySource(registry), logger)
	healthPoller.Start(ctx)

	// Start metrics and health server
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: newHTTPHandler(cfg.Metrics.Path, mgr),
	}

	go func() {
		logger.Info("starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	go func() {
		if err := mgr.Wait(ctx); err != nil {
			if ctx.Err() == nil {
				logger.Error("shard startup aborted", "error", err)
				cancel()
			}
			return
		}
		if logger.Enabled(ctx, slog.LevelDebug) {
			for _, shard := range registry.All() {
				go logEvents(logger, shard.Subscribe())
			}
		}
	}()

	logger.Info("shardgate running",
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	healthPoller.Stop(shutdownCtx)
	if err := mgr.Stop(shutdownCtx); err != nil {
		logger.Warn("shards did not stop cleanly", "error", err)
	}
	server.Shutdown(shutdownCtx)

	logger.Info("shardgate stopped")
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func policyFromConfig(cfg config.BotConfig) connection.Policy {
	if cfg.Sharding == config.ShardingFixed {
		return connection.Fixed(cfg.ShardCount)
	}
	return connection.Automatic()
}

func managerConfig(cfg *config.Config, intents gateway.Intents) connection.ManagerConfig {
	return connection.ManagerConfig{
		Token:   cfg.Bot.Token,
		Intents: intents,
		Properties: gateway.IdentifyProperties{
			OS:      runtime.GOOS,
			Browser: version.Name,
			Device:  version.Name,
		},
		GatewayVersion:   cfg.Gateway.Version,
		BucketCooldown:   cfg.Gateway.BucketCooldown,
		HandshakeTimeout: cfg.Gateway.HandshakeTimeout,
		CommandBuffer:    cfg.Gateway.CommandBuffer,
		EventBuffer:      cfg.Gateway.EventBuffer,
		SendLimit:        cfg.Gateway.SendLimit,
		SendWindow:       cfg.Gateway.SendWindow,
	}
}

func logEvents(logger *slog.Logger, sub *connection.Subscription) {
	for ev := range sub.Events() {
		attrs := []any{"shard", ev.Shard, "op", ev.Frame.Op}
		if name := ev.Frame.EventName(); name != "" {
			attrs = append(attrs, "event", name)
		}
		if ev.Frame.Sequence != nil {
			attrs = append(attrs, "sequence", *ev.Frame.Sequence)
		}
		logger.Debug("gateway event", attrs...)
	}
}
