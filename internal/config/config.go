// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Snapshots SnapshotsConfig `mapstructure:"snapshots"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs the launcher pool and progress estimation.
type CrawlerConfig struct {
	Concurrency       int    `mapstructure:"concurrency"`
	QueueDepth        int    `mapstructure:"queue_depth"`
	PageBudgetDefault int    `mapstructure:"page_budget_default"`
	Estimator         string `mapstructure:"estimator"`
}

// FetcherConfig selects and tunes the fetcher implementation.
type FetcherConfig struct {
	Mode           string           `mapstructure:"mode"`
	UserAgent      string           `mapstructure:"user_agent"`
	TimeoutSeconds int              `mapstructure:"timeout_seconds"`
	MaxPages       int              `mapstructure:"max_pages"`
	MaxDepth       int              `mapstructure:"max_depth"`
	Sim            SimFetcherConfig `mapstructure:"sim"`
}

// SimFetcherConfig shapes the simulated fetcher.
type SimFetcherConfig struct {
	Pages       int `mapstructure:"pages"`
	UnitDelayMs int `mapstructure:"unit_delay_ms"`
	FailAt      int `mapstructure:"fail_at"`
}

// HeadlessConfig configures the rendering subsystem.
type HeadlessConfig struct {
	Enabled            bool `mapstructure:"enabled"`
	MaxParallel        int  `mapstructure:"max_parallel"`
	NavTimeoutSeconds  int  `mapstructure:"nav_timeout_seconds"`
	PromotionThreshold int  `mapstructure:"promotion_threshold"`
}

// RegistryConfig selects the run registry and results store backend.
type RegistryConfig struct {
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
}

// SnapshotsConfig controls raw page snapshot persistence.
type SnapshotsConfig struct {
	Provider string               `mapstructure:"provider"`
	Prefix   string               `mapstructure:"prefix"`
	Local    LocalSnapshotsConfig `mapstructure:"local"`
	GCS      GCSSnapshotsConfig   `mapstructure:"gcs"`
}

// LocalSnapshotsConfig configures the filesystem blob store.
type LocalSnapshotsConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// GCSSnapshotsConfig configures the GCS blob store.
type GCSSnapshotsConfig struct {
	Bucket string `mapstructure:"bucket"`
}

// PublisherConfig configures the downstream index feed.
type PublisherConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("crawler.page_budget_default", 25)
	v.SetDefault("crawler.estimator", "budget")
	v.SetDefault("fetcher.mode", "sim")
	v.SetDefault("fetcher.user_agent", "crawld-bot/0.1")
	v.SetDefault("fetcher.timeout_seconds", 15)
	v.SetDefault("fetcher.max_pages", 25)
	v.SetDefault("fetcher.max_depth", 2)
	v.SetDefault("fetcher.sim.pages", 12)
	v.SetDefault("fetcher.sim.unit_delay_ms", 150)
	v.SetDefault("fetcher.sim.fail_at", 0)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("registry.provider", "memory")
	v.SetDefault("snapshots.provider", "none")
	v.SetDefault("snapshots.prefix", "pages")
	v.SetDefault("publisher.provider", "none")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("server.request_timeout_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key is required when auth is enabled")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.QueueDepth <= 0 {
		return fmt.Errorf("crawler.queue_depth must be > 0")
	}
	switch c.Crawler.Estimator {
	case "budget", "frontier":
	default:
		return fmt.Errorf("crawler.estimator must be budget or frontier, got %q", c.Crawler.Estimator)
	}
	switch c.Fetcher.Mode {
	case "sim", "site":
	default:
		return fmt.Errorf("fetcher.mode must be sim or site, got %q", c.Fetcher.Mode)
	}
	if c.Fetcher.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetcher.timeout_seconds must be > 0")
	}
	switch c.Registry.Provider {
	case "memory":
	case "postgres":
		if c.Registry.DSN == "" {
			return fmt.Errorf("registry.dsn is required for the postgres provider")
		}
	default:
		return fmt.Errorf("registry.provider must be memory or postgres, got %q", c.Registry.Provider)
	}
	switch c.Snapshots.Provider {
	case "none", "memory":
	case "local":
		if c.Snapshots.Local.BaseDir == "" {
			return fmt.Errorf("snapshots.local.base_dir is required for the local provider")
		}
	case "gcs":
		if c.Snapshots.GCS.Bucket == "" {
			return fmt.Errorf("snapshots.gcs.bucket is required for the gcs provider")
		}
	default:
		return fmt.Errorf("snapshots.provider must be none, memory, local, or gcs, got %q", c.Snapshots.Provider)
	}
	switch c.Publisher.Provider {
	case "none", "memory":
	case "pubsub":
		if c.Publisher.ProjectID == "" || c.Publisher.Topic == "" {
			return fmt.Errorf("publisher.project_id and publisher.topic are required for the pubsub provider")
		}
	default:
		return fmt.Errorf("publisher.provider must be none, memory, or pubsub, got %q", c.Publisher.Provider)
	}
	return nil
}
