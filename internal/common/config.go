package common

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/models"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Logging     LoggingConfig   `toml:"logging"`
	Storage     StorageConfig   `toml:"storage"`
	Crawler     CrawlerConfig   `toml:"crawler"`
	Engine      EngineConfig    `toml:"engine"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Sources     SourcesConfig   `toml:"sources"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration for the cursor
// store. An empty path disables persistence (cursors stay in memory).
type BadgerConfig struct {
	Path           string `toml:"path"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
}

// CrawlerConfig contains defaults applied to dynamic-unstructured handlers
// unless their source config overrides them.
type CrawlerConfig struct {
	UserAgent      string        `toml:"user_agent"`
	RequestTimeout time.Duration `toml:"request_timeout"`
	RequestDelay   time.Duration `toml:"request_delay"`
	BrowserPool    int           `toml:"browser_pool"`
	Headless       bool          `toml:"headless"`
	JSWaitTime     time.Duration `toml:"js_wait_time"`
}

// EngineConfig declares retry options for callers of ProcessDocument.
// The engine itself never retries; retries restart from discovery.
type EngineConfig struct {
	RetryAttempts int           `toml:"retry_attempts"`
	RetryDelay    time.Duration `toml:"retry_delay"`
}

type SchedulerConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"` // Cron schedule format
}

// SourcesConfig points at a directory of per-source TOML definition files.
type SourcesConfig struct {
	Dir string `toml:"dir"`
}

// DefaultConfig returns the configuration defaults applied before any file
// or environment override.
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/colligo",
			},
		},
		Crawler: CrawlerConfig{
			UserAgent:      "Colligo-Crawler/1.0",
			RequestTimeout: 30 * time.Second,
			RequestDelay:   time.Second,
			BrowserPool:    1,
			Headless:       true,
			JSWaitTime:     2 * time.Second,
		},
		Engine: EngineConfig{
			RetryAttempts: 3,
			RetryDelay:    5 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Enabled:  false,
			Schedule: "*/15 * * * *",
		},
		Sources: SourcesConfig{
			Dir: "./sources",
		},
	}
}

// LoadConfig loads configuration from one or more TOML files, later files
// overriding earlier ones, then applies environment overrides.
func LoadConfig(paths []string, logger arbor.ILogger) (*Config, error) {
	config := DefaultConfig()

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		logger.Debug().Str("path", path).Msg("Config file loaded")
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies COLLIGO_* environment variables over the loaded
// configuration.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("COLLIGO_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("COLLIGO_DATA_PATH"); v != "" {
		config.Storage.Badger.Path = v
	}
	if v := os.Getenv("COLLIGO_SOURCES_DIR"); v != "" {
		config.Sources.Dir = v
	}
	if v := os.Getenv("COLLIGO_ENVIRONMENT"); v != "" {
		config.Environment = v
	}
}

// LoadSourceConfigs reads all *.toml files in a directory as source
// definitions. Files that fail to parse or validate are skipped with a
// warning so one bad definition never blocks the rest.
func LoadSourceConfigs(dir string, logger arbor.ILogger) ([]*models.SourceConfig, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read sources directory %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	sources := make([]*models.SourceConfig, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("Failed to read source definition")
			continue
		}

		var source models.SourceConfig
		if err := toml.Unmarshal(data, &source); err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("Failed to parse source definition")
			continue
		}

		if err := source.Validate(); err != nil {
			logger.Warn().Err(err).Str("path", path).Str("id", source.ID).Msg("Invalid source definition")
			continue
		}

		sources = append(sources, &source)
	}

	logger.Info().Int("count", len(sources)).Str("dir", dir).Msg("Source definitions loaded")

	return sources, nil
}
