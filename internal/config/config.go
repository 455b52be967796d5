// Package config defines the yield router's configuration and validation.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by YIELDROUTER_* environment variables.
type Config struct {
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Cache    CacheConfig    `toml:"cache"`
	Jupiter  JupiterConfig  `toml:"jupiter"`
	Kamino   KaminoConfig   `toml:"kamino"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Planner  PlannerConfig  `toml:"planner"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Storage  string         `toml:"storage"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN              string   `toml:"dsn"`
	Host             string   `toml:"host"`
	Port             int      `toml:"port"`
	Database         string   `toml:"database"`
	User             string   `toml:"user"`
	Password         string   `toml:"password"`
	SSLMode          string   `toml:"ssl_mode"`
	PoolMaxConns     int      `toml:"pool_max_conns"`
	PoolMinConns     int      `toml:"pool_min_conns"`
	StatementTimeout duration `toml:"statement_timeout"`
	RunMigrations    bool     `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Redis is optional; when
// disabled the cache keeps a process-local shared tier and ledger locks are
// process-local only.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	Namespace  string `toml:"namespace"`
}

// S3Config holds S3-compatible object storage parameters for the archive.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// CacheConfig tunes the quote cache and its warm-up job.
type CacheConfig struct {
	LocalMaxCost      int64    `toml:"local_max_cost"`
	LocalNumCounters  int64    `toml:"local_num_counters"`
	FetchTimeout      duration `toml:"fetch_timeout"`
	StaleWindow       duration `toml:"stale_window"`
	WarmUpConcurrency int      `toml:"warmup_concurrency"`
	WarmUpCron        string   `toml:"warmup_cron"`
	WarmUpAssets      []string `toml:"warmup_assets"`
}

// JupiterConfig configures the Jupiter Lend adapter.
type JupiterConfig struct {
	Enabled           bool     `toml:"enabled"`
	BaseURL           string   `toml:"base_url"`
	APIKey            string   `toml:"api_key"`
	Timeout           duration `toml:"timeout"`
	RequestsPerMinute int      `toml:"requests_per_minute"`
	BuildViaAPI       bool     `toml:"build_via_api"`
}

// KaminoConfig configures the Kamino vault adapter.
type KaminoConfig struct {
	Enabled    bool                   `toml:"enabled"`
	BaseURL    string                 `toml:"base_url"`
	Timeout    duration               `toml:"timeout"`
	Strategies []KaminoStrategyConfig `toml:"strategies"`
}

// KaminoStrategyConfig is one entry of the static vault catalog.
type KaminoStrategyConfig struct {
	ID         string  `toml:"id"`
	Asset      string  `toml:"asset"`
	APY        float64 `toml:"apy"`
	TVL        float64 `toml:"tvl"`
	RiskScore  int     `toml:"risk_score"`
	MinDeposit float64 `toml:"min_deposit"`
	MaxDeposit float64 `toml:"max_deposit"`
}

// LedgerConfig tunes position accounting and write serialization.
type LedgerConfig struct {
	CostBasis       string   `toml:"cost_basis"`
	MaxRetries      int      `toml:"max_retries"`
	BaseBackoff     duration `toml:"base_backoff"`
	DistributedLock bool     `toml:"distributed_lock"`
	LockTTL         duration `toml:"lock_ttl"`
}

// PlannerConfig tunes withdrawal planning.
type PlannerConfig struct {
	Deadline           duration `toml:"deadline"`
	DefaultMaxSlippage float64  `toml:"default_max_slippage"`
}

// ArchiveConfig controls the transaction archive job.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	Cron          string `toml:"cron"`
	RetentionDays int    `toml:"retention_days"`
}

// NotifyConfig configures operator alerts. A channel is active when its
// credentials are set. An empty Events list forwards every event.
type NotifyConfig struct {
	Events         []string `toml:"events"`
	TelegramToken  string   `toml:"telegram_token"`
	TelegramChatID string   `toml:"telegram_chat_id"`
	DiscordWebhook string   `toml:"discord_webhook"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit is requests per RateWindow per client IP. It needs Redis.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Host:             "localhost",
			Port:             5432,
			Database:         "yieldrouter",
			User:             "postgres",
			SSLMode:          "disable",
			PoolMaxConns:     10,
			PoolMinConns:     2,
			StatementTimeout: duration{30 * time.Second},
			RunMigrations:    true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			Namespace:  "yieldrouter",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "yieldrouter-archive",
			ForcePathStyle: true,
		},
		Cache: CacheConfig{
			LocalMaxCost:      64 << 20,
			LocalNumCounters:  100_000,
			FetchTimeout:      duration{5 * time.Second},
			StaleWindow:       duration{10 * time.Minute},
			WarmUpConcurrency: 4,
			WarmUpCron:        "@every 4m",
			WarmUpAssets:      []string{"USDC", "USDT", "SOL"},
		},
		Jupiter: JupiterConfig{
			Enabled:           true,
			BaseURL:           "https://lite-api.jup.ag",
			Timeout:           duration{15 * time.Second},
			RequestsPerMinute: 60,
		},
		Kamino: KaminoConfig{
			Enabled: true,
			Timeout: duration{15 * time.Second},
		},
		Ledger: LedgerConfig{
			CostBasis:   "average_cost",
			MaxRetries:  5,
			BaseBackoff: duration{10 * time.Millisecond},
			LockTTL:     duration{5 * time.Second},
		},
		Planner: PlannerConfig{
			Deadline: duration{10 * time.Second},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Cron:          "0 3 * * *",
			RetentionDays: 90,
		},
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Storage:  "postgres",
		Mode:     "server",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"server":  true,
	"archive": true,
	"full":    true,
}

var validStorage = map[string]bool{
	"postgres": true,
	"memory":   true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validCostBasis = map[string]bool{
	"":             true,
	"average":      true,
	"average_cost": true,
	"proportional": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, archive, full)", c.Mode))
	}
	if !validStorage[strings.ToLower(c.Storage)] {
		errs = append(errs, fmt.Sprintf("unknown storage %q (valid: postgres, memory)", c.Storage))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Database
	if strings.EqualFold(c.Storage, "postgres") {
		if strings.TrimSpace(c.Database.DSN) == "" {
			if c.Database.Host == "" {
				errs = append(errs, "database: host must not be empty (or set database.dsn)")
			}
			if c.Database.Port <= 0 || c.Database.Port > 65535 {
				errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
			}
			if c.Database.Database == "" {
				errs = append(errs, "database: database must not be empty")
			}
		}
		if c.Database.PoolMaxConns < 1 {
			errs = append(errs, "database: pool_max_conns must be >= 1")
		}
		if c.Database.PoolMinConns < 0 || c.Database.PoolMinConns > c.Database.PoolMaxConns {
			errs = append(errs, "database: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}
	if c.Ledger.DistributedLock && !c.Redis.Enabled {
		errs = append(errs, "ledger: distributed_lock requires redis.enabled")
	}

	// Cache
	if c.Cache.FetchTimeout.Duration < 0 || c.Cache.StaleWindow.Duration < 0 {
		errs = append(errs, "cache: fetch_timeout and stale_window must not be negative")
	}

	// Providers
	if !c.Jupiter.Enabled && !c.Kamino.Enabled {
		errs = append(errs, "at least one of jupiter or kamino must be enabled")
	}
	if c.Jupiter.Enabled && c.Jupiter.BaseURL == "" {
		errs = append(errs, "jupiter: base_url must not be empty")
	}
	if c.Jupiter.RequestsPerMinute < 0 {
		errs = append(errs, "jupiter: requests_per_minute must be >= 0")
	}
	for i, s := range c.Kamino.Strategies {
		if s.ID == "" || s.Asset == "" {
			errs = append(errs, fmt.Sprintf("kamino: strategies[%d] needs id and asset", i))
		}
		if s.MaxDeposit > 0 && s.MaxDeposit < s.MinDeposit {
			errs = append(errs, fmt.Sprintf("kamino: strategies[%d] max_deposit below min_deposit", i))
		}
	}

	// Ledger
	if !validCostBasis[strings.ToLower(c.Ledger.CostBasis)] {
		errs = append(errs, fmt.Sprintf("ledger: unknown cost_basis %q (valid: average_cost, proportional)", c.Ledger.CostBasis))
	}
	if c.Ledger.MaxRetries < 1 {
		errs = append(errs, "ledger: max_retries must be >= 1")
	}

	// Planner
	if c.Planner.DefaultMaxSlippage < 0 || c.Planner.DefaultMaxSlippage > 1 {
		errs = append(errs, "planner: default_max_slippage must be between 0 and 1")
	}

	// Archive
	needsArchive := strings.EqualFold(c.Mode, "archive") || (strings.EqualFold(c.Mode, "full") && c.Archive.Enabled)
	if needsArchive {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archiving")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when archiving")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Server
	if !strings.EqualFold(c.Mode, "archive") {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
