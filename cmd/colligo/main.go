package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/services/engine"
	"github.com/ternarybob/colligo/internal/services/events"
	"github.com/ternarybob/colligo/internal/services/scheduler"
	"github.com/ternarybob/colligo/internal/services/sources"
	badgerstore "github.com/ternarybob/colligo/internal/storage/badger"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles configPaths
	runOnce     = flag.Bool("once", false, "Run one ingestion pass and exit")
	showVersion = flag.Bool("version", false, "Print version information")

	config *common.Config
	logger arbor.ILogger
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("Colligo version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	// Startup sequence:
	// 1. Load config (defaults -> files -> env)
	// 2. Initialize logger
	// 3. Print banner
	// 4. Wire storage, handlers, engine

	if len(configFiles) == 0 {
		if _, err := os.Stat("colligo.toml"); err == nil {
			configFiles = append(configFiles, "colligo.toml")
		}
	}

	var err error
	config, err = common.LoadConfig(configFiles, common.GetLogger())
	if err != nil {
		arbor.NewLogger().Fatal().Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	logger = common.InitLogger(config)
	common.PrintBanner(common.GetVersion())

	logger.Info().
		Str("environment", config.Environment).
		Str("log_level", config.Logging.Level).
		Str("sources_dir", config.Sources.Dir).
		Msg("Colligo starting")

	// Cursor persistence is optional; with no database path configured the
	// handlers keep cursors in memory.
	var db *badgerstore.BadgerDB
	var cursorStore interfaces.CursorStore
	if config.Storage.Badger.Path != "" {
		db, err = badgerstore.NewBadgerDB(logger, &config.Storage.Badger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to open cursor database")
			os.Exit(1)
		}
		cursorStore = badgerstore.NewCursorStorage(db, logger)
	}

	eventService := events.NewService(logger)

	factory := sources.NewFactory(&sources.Dependencies{
		Logger:      logger,
		CursorStore: cursorStore,
		HTTPTimeout: config.Crawler.RequestTimeout,
		UserAgent:   config.Crawler.UserAgent,
		Limiter:     sources.NewFixedDelayLimiter(config.Crawler.RequestDelay),
		Browser: sources.BrowserConfig{
			MaxInstances:   config.Crawler.BrowserPool,
			UserAgent:      config.Crawler.UserAgent,
			Headless:       &config.Crawler.Headless,
			JSWaitTime:     config.Crawler.JSWaitTime,
			RequestTimeout: config.Crawler.RequestTimeout,
		},
	})

	registry := sources.NewRegistry(factory, logger)
	eng := engine.NewService(registry, eventService, engine.Options{
		RetryAttempts: config.Engine.RetryAttempts,
		RetryDelay:    config.Engine.RetryDelay,
	}, logger)

	ctx := context.Background()

	// Register every source definition; a bad one is logged and skipped.
	sourceConfigs, err := common.LoadSourceConfigs(config.Sources.Dir, logger)
	if err != nil {
		logger.Warn().Err(err).Str("dir", config.Sources.Dir).Msg("No source definitions loaded")
	}
	for _, cfg := range sourceConfigs {
		if err := eng.AddSource(ctx, cfg); err != nil {
			logger.Warn().
				Err(err).
				Str("source_id", cfg.ID).
				Msg("Failed to add source, continuing")
		}
	}

	if eng.SourceCount() == 0 {
		logger.Warn().Msg("No sources registered")
	}

	if *runOnce {
		results := eng.ProcessAllSources(ctx)

		processed, failed, unchanged, filtered := 0, 0, 0, 0
		for _, r := range results {
			processed += len(r.Processed)
			failed += len(r.Failed)
			unchanged += r.Unchanged
			filtered += r.Filtered
		}
		logger.Info().
			Int("sources", len(results)).
			Int("processed", processed).
			Int("failed", failed).
			Int("unchanged", unchanged).
			Int("filtered", filtered).
			Msg("Ingestion pass completed")

		shutdown(registry, eventService, nil, db)
		if failed > 0 {
			os.Exit(1)
		}
		return
	}

	sched := scheduler.NewService(eng, logger)
	if config.Scheduler.Enabled {
		if err := sched.Start(config.Scheduler.Schedule); err != nil {
			logger.Fatal().Err(err).Msg("Failed to start scheduler")
			shutdown(registry, eventService, nil, db)
			os.Exit(1)
		}
	} else {
		logger.Info().Msg("Scheduler disabled; running single pass before waiting for signals")
		eng.ProcessAllSources(ctx)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("Shutting down")

	shutdown(registry, eventService, sched, db)
}

// shutdown releases resources in dependency order.
func shutdown(registry *sources.Registry, eventService interfaces.EventService, sched *scheduler.Service, db *badgerstore.BadgerDB) {
	if sched != nil {
		sched.Stop()
	}
	registry.CleanupAll()
	if err := eventService.Close(); err != nil {
		logger.Warn().Err(err).Msg("Event service close reported an error")
	}
	if db != nil {
		if err := db.Close(); err != nil {
			logger.Warn().Err(err).Msg("Database close reported an error")
		}
	}
}
