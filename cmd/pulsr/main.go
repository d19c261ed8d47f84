package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sandwichfarm/pulsr/internal/api"
	"github.com/sandwichfarm/pulsr/internal/cache"
	"github.com/sandwichfarm/pulsr/internal/config"
	"github.com/sandwichfarm/pulsr/internal/indexer"
	"github.com/sandwichfarm/pulsr/internal/ops"
	"github.com/sandwichfarm/pulsr/internal/relay"
	"github.com/sandwichfarm/pulsr/internal/storage"
	"github.com/sandwichfarm/pulsr/internal/trending"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
	builtBy = "manual"
)

func main() {
	// Define subcommands
	if len(os.Args) > 1 && os.Args[1] == "init" {
		handleInit()
		return
	}

	var (
		showVersion = flag.Bool("version", false, "Show version information")
		configPath  = flag.String("config", "", "Path to configuration file")
		once        = flag.Bool("once", false, "Run one ingestion pass and one aggregation, then exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("pulsr %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
		fmt.Printf("  by:     %s\n", builtBy)
		os.Exit(0)
	}

	if *configPath == "" {
		fmt.Println("pulsr - Nostr ingestion and trending indexer")
		fmt.Println()
		fmt.Println("No configuration file specified. Use --config <path> to specify config.")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  pulsr init              Generate example configuration")
		fmt.Println("  pulsr --version         Show version information")
		fmt.Println("  pulsr --config <path>   Start with configuration file")
		fmt.Println("  pulsr --config <path> --once")
		fmt.Println("                          Run a single index+aggregate cycle and exit")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Starting pulsr %s\n", version)
	fmt.Printf("  Relays: %d seeds\n", len(cfg.Relays.Seeds))
	fmt.Printf("  Database: %s\n", cfg.Storage.SQLitePath)
	fmt.Println()

	if err := run(cfg, *once); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, once bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := ops.NewLogger(&cfg.Logging)

	fmt.Println("Initializing storage...")
	st, err := storage.New(ctx, &cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer st.Close()
	fmt.Printf("  Storage: %s initialized\n", cfg.Storage.SQLitePath)

	marks := indexer.NewWatermarkManager(st,
		time.Duration(cfg.Ingest.OverlapSeconds)*time.Second,
		time.Duration(cfg.Ingest.LookbackSeconds)*time.Second)
	classifier := indexer.NewEventClassifier(st, logger)
	sessions := relay.New(&cfg.Relays.Policy)
	coordinator := indexer.NewCoordinator(st, sessions, classifier, marks, logger)

	job := trending.NewJob(st, cfg, logger)

	if once {
		return runOnce(ctx, cfg, coordinator, job)
	}

	var apiServer *api.Server
	var pageCache cache.Cache
	if cfg.API.Enabled {
		fmt.Printf("Starting API server on %s:%d...\n", cfg.API.Bind, cfg.API.Port)
		pageCache, err = cache.New(&cfg.Caching)
		if err != nil {
			return fmt.Errorf("failed to initialize cache: %w", err)
		}
		apiServer = api.New(&cfg.API, st, pageCache, logger)
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
		fmt.Println("  API server ready")
	}

	if cfg.Ingest.Enabled {
		interval := time.Duration(cfg.Ingest.IntervalSeconds) * time.Second
		fmt.Printf("Ingestion enabled: every %s\n", interval)
		go runIngestLoop(ctx, coordinator, cfg, interval, logger)
	}

	if cfg.Trending.Enabled {
		interval := time.Duration(cfg.Trending.IntervalSeconds) * time.Second
		fmt.Printf("Aggregation enabled: every %s\n", interval)
		go runTrendingLoop(ctx, job, interval, logger)
	}

	fmt.Println()
	fmt.Println("All services started.")
	fmt.Println("Press Ctrl+C to shutdown gracefully...")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println()
	fmt.Println("Shutting down gracefully...")
	cancel()

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error stopping API server: %v\n", err)
		}
	}
	if closer, ok := pageCache.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Error closing cache: %v\n", err)
		}
	}

	fmt.Println("Shutdown complete")
	return nil
}

// runOnce performs a single ingestion pass followed by a single
// aggregation, then returns. Useful for cron-driven deployments.
func runOnce(ctx context.Context, cfg *config.Config, coordinator *indexer.Coordinator, job *trending.Job) error {
	result, err := coordinator.Run(ctx, indexer.OptionsFromConfig(cfg))
	if err != nil {
		return fmt.Errorf("ingestion pass failed: %w", err)
	}
	fmt.Printf("Indexed %d events from %d relays\n", result.EventsIndexed, result.RelaysTouched)

	jobResult, err := job.Run(ctx)
	if err != nil {
		return fmt.Errorf("aggregation failed: %w", err)
	}
	if jobResult.Skipped {
		fmt.Println("Aggregation skipped, lock held by another run")
		return nil
	}
	fmt.Printf("Published snapshots %s and %s from %d candidates\n",
		jobResult.TrendingID, jobResult.DiscoveryID, jobResult.Candidates)
	return nil
}

// runIngestLoop runs ingestion passes on a fixed interval. The first pass
// starts immediately; an overrunning pass is serialized by its lock, not
// by the ticker.
func runIngestLoop(ctx context.Context, coordinator *indexer.Coordinator, cfg *config.Config, interval time.Duration, log *ops.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := coordinator.Run(ctx, indexer.OptionsFromConfig(cfg)); err != nil {
			log.Error("ingestion pass failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// runTrendingLoop runs aggregation on a fixed interval
func runTrendingLoop(ctx context.Context, job *trending.Job, interval time.Duration, log *ops.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := job.Run(ctx); err != nil {
			log.Error("aggregation run failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func handleInit() {
	exampleConfig, err := config.GetExampleConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading example config: %v\n", err)
		os.Exit(1)
	}

	// Write to stdout
	fmt.Print(string(exampleConfig))
}
