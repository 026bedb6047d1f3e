// Package config loads and validates engine and façade configuration
// via Viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config captures every service configuration knob loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Politeness PolitenessConfig `mapstructure:"politeness"`
	Extract    ExtractConfig    `mapstructure:"extract"`
	Storage    StorageConfig    `mapstructure:"storage"`
	DB         DBConfig         `mapstructure:"db"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls the chi façade's HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CrawlerConfig holds the input clamps and the Scheduler's worker budget.
// These values are loaded and validated only: Jobs clamp depth and worker
// count with the constants in package job, and the Scheduler bounds its
// concurrency by parallel_kbs, not by GlobalWorkerBudget.
type CrawlerConfig struct {
	MinDepth           int `mapstructure:"min_depth"`
	MaxDepth           int `mapstructure:"max_depth"`
	MinWorkers         int `mapstructure:"min_workers"`
	MaxWorkers         int `mapstructure:"max_workers"`
	GlobalWorkerBudget int `mapstructure:"global_worker_budget"`
}

// FetchConfig governs the Fetcher's per-attempt deadline, redirect limit
// and global connection pool. MaxRetries is loaded but not passed to the
// Fetcher, whose retry policy is fixed at 3 retries.
type FetchConfig struct {
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
	MaxRetries            int `mapstructure:"max_retries"`
	ConnectionPoolSize    int `mapstructure:"connection_pool_size"`
	MaxRedirects          int `mapstructure:"max_redirects"`
}

// PolitenessConfig governs the Rate Limiter's adaptive delay.
type PolitenessConfig struct {
	DefaultDelaySeconds float64 `mapstructure:"default_delay_seconds"`
	MaxDelaySeconds     float64 `mapstructure:"max_delay_seconds"`
	DecayFactor         float64 `mapstructure:"decay_factor"`
}

// ExtractConfig governs the Extractor's content bounds.
type ExtractConfig struct {
	MaxContentLength int `mapstructure:"max_content_length"`
	MaxHeadings      int `mapstructure:"max_headings"`
}

// StorageConfig selects and configures the Result Store backend.
type StorageConfig struct {
	ResultBackend string `mapstructure:"result_backend"` // "memory" or "postgres"
}

// DBConfig controls access to the Postgres Result Store.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// LoggingConfig toggles zap's development encoder.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from an optional config file plus environment
// overrides (`CRAWL_` prefix, `.` replaced with `_`).
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)

	v.SetDefault("crawler.min_depth", 1)
	v.SetDefault("crawler.max_depth", 5)
	v.SetDefault("crawler.min_workers", 2)
	v.SetDefault("crawler.max_workers", 10)
	v.SetDefault("crawler.global_worker_budget", 20)

	v.SetDefault("fetch.request_timeout_seconds", 30)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.connection_pool_size", 100)
	v.SetDefault("fetch.max_redirects", 10)

	v.SetDefault("politeness.default_delay_seconds", 0.25)
	v.SetDefault("politeness.max_delay_seconds", 5)
	v.SetDefault("politeness.decay_factor", 0.9)

	v.SetDefault("extract.max_content_length", 50000)
	v.SetDefault("extract.max_headings", 50)

	v.SetDefault("storage.result_backend", "memory")

	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_open_conns", 10)

	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and the input clamps of §6.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("config: server.port must be > 0")
	}
	if c.Crawler.MinDepth <= 0 || c.Crawler.MaxDepth < c.Crawler.MinDepth {
		return fmt.Errorf("config: crawler.min_depth/max_depth are inconsistent")
	}
	if c.Crawler.MinWorkers <= 0 || c.Crawler.MaxWorkers < c.Crawler.MinWorkers {
		return fmt.Errorf("config: crawler.min_workers/max_workers are inconsistent")
	}
	if c.Crawler.GlobalWorkerBudget < c.Crawler.MinWorkers {
		return fmt.Errorf("config: crawler.global_worker_budget must be >= crawler.min_workers")
	}
	if c.Fetch.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("config: fetch.request_timeout_seconds must be > 0")
	}
	if c.Fetch.ConnectionPoolSize <= 0 {
		return fmt.Errorf("config: fetch.connection_pool_size must be > 0")
	}
	switch c.Storage.ResultBackend {
	case "memory", "postgres":
	default:
		return fmt.Errorf("config: storage.result_backend must be memory or postgres, got %q", c.Storage.ResultBackend)
	}
	if c.Storage.ResultBackend == "postgres" && c.DB.DSN == "" {
		return fmt.Errorf("config: db.dsn is required when storage.result_backend is postgres")
	}
	return nil
}
