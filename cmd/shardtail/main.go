// shardtail opens gateway shards and streams received events to the console.
// Usage: go run ./cmd/shardtail --config configs/shardgate.local.yaml
//
// Required environment variables (when referenced by the config):
//
//	SHARDGATE_TOKEN - Bot token
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/rickgao/shardgate/internal/api"
	"github.com/rickgao/shardgate/internal/config"
	"github.com/rickgao/shardgate/internal/connection"
	"github.com/rickgao/shardgate/internal/gateway"
	"github.com/rickgao/shardgate/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/shardgate.example.yaml", "path to config file")
	shards := flag.Int("shards", 0, "run this many shards instead of the configured policy")
	events := flag.String("events", "", "comma-separated dispatch event names to print (empty = all)")
	verbose := flag.Bool("verbose", false, "print full frame JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// Load config
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	apiClient := api.NewClient(cfg.API.RestURL, cfg.Bot.Token,
		api.WithLogger(logger),
		api.WithUserAgent(version.UserAgent()),
	)
	info, err := apiClient.GetGatewayBot(ctx)
	if err != nil {
		logger.Error("failed to get gateway metadata", "error", err)
		os.Exit(1)
	}

	policy := connection.Automatic()
	if *shards > 0 {
		policy = connection.Fixed(*shards)
	} else if cfg.Bot.Sharding == config.ShardingFixed {
		policy = connection.Fixed(cfg.Bot.ShardCount)
	}

	intents, _ := gateway.ParseIntents(cfg.Bot.Intents)
	mgrCfg := connection.DefaultManagerConfig()
	mgrCfg.Token = cfg.Bot.Token
	mgrCfg.Intents = intents
	mgrCfg.Properties = gateway.IdentifyProperties{OS: runtime.GOOS, Browser: "shardtail", Device: version.Name}
	mgrCfg.BucketCooldown = cfg.Gateway.BucketCooldown

	mgr := connection.NewManager(mgrCfg, connection.DefaultWSDialer(), logger)
	registry, err := mgr.Start(ctx, policy, info)
	if err != nil {
		logger.Error("failed to start shards", "error", err)
		os.Exit(1)
	}

	filter := parseFilter(*events)
	printed := make(map[int]bool)

	// Subscribe to shards as they come up, then print stats
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		var lastStats time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, s := range registry.All() {
					idx := s.Identity().ShardIndex
					if !printed[idx] {
						printed[idx] = true
						go printEvents(s.Subscribe(), filter, *verbose)
					}
				}
				if time.Since(lastStats) >= 10*time.Second {
					printStats(logger, registry, mgr)
					lastStats = time.Now()
				}
			}
		}
	}()

	go func() {
		if err := mgr.Wait(ctx); err != nil && ctx.Err() == nil {
			logger.Error("shard startup aborted", "error", err)
			cancel()
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	// Wait for shutdown
	<-ctx.Done()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	mgr.Stop(shutdownCtx)

	logger.Info("shutdown complete")
}

func parseFilter(s string) map[string]bool {
	if s == "" {
		return nil
	}
	filter := make(map[string]bool)
	for _, name := range strings.Split(s, ",") {
		if name = strings.ToUpper(strings.TrimSpace(name)); name != "" {
			filter[name] = true
		}
	}
	return filter
}

func printEvents(sub *connection.Subscription, filter map[string]bool, verbose bool) {
	for ev := range sub.Events() {
		name := ev.Frame.EventName()
		if ev.Frame.Op != gateway.OpDispatch {
			name = ev.Frame.Op.String()
		}
		if filter != nil && !filter[name] {
			continue
		}

		if verbose {
			data, _ := json.MarshalIndent(ev.Frame, "", "  ")
			fmt.Printf("[SHARD %d] %s\n", ev.Shard, data)
			continue
		}

		seq := "-"
		if ev.Frame.Sequence != nil {
			seq = fmt.Sprint(*ev.Frame.Sequence)
		}
		fmt.Printf("[SHARD %d] %s seq=%s bytes=%d\n", ev.Shard, name, seq, len(ev.Frame.Data))
	}
}

func printStats(logger *slog.Logger, registry *connection.Registry, mgr *connection.Manager) {
	for _, s := range registry.All() {
		id := s.Identity()
		logger.Info("shard stats",
			"shard", id.ShardIndex,
			"state", s.State(),
			"sequence", id.Sequence(),
			"last_ack", s.LastHeartbeatAck().Format(time.RFC3339),
		)
	}
	if failures := mgr.Failures(); len(failures) > 0 {
		logger.Warn("shard failures", "count", len(failures))
	}
}
