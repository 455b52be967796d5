package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies YIELDROUTER_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load. An empty path skips the
// file and uses defaults plus the environment.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known YIELDROUTER_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Database ──
	setStr(&cfg.Database.DSN, "YIELDROUTER_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, "YIELDROUTER_DATABASE_HOST")
	setInt(&cfg.Database.Port, "YIELDROUTER_DATABASE_PORT")
	setStr(&cfg.Database.Database, "YIELDROUTER_DATABASE_NAME")
	setStr(&cfg.Database.User, "YIELDROUTER_DATABASE_USER")
	setStr(&cfg.Database.Password, "YIELDROUTER_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "YIELDROUTER_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "YIELDROUTER_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "YIELDROUTER_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "YIELDROUTER_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "YIELDROUTER_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "YIELDROUTER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "YIELDROUTER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "YIELDROUTER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "YIELDROUTER_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "YIELDROUTER_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Namespace, "YIELDROUTER_REDIS_NAMESPACE")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "YIELDROUTER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "YIELDROUTER_S3_REGION")
	setStr(&cfg.S3.Bucket, "YIELDROUTER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "YIELDROUTER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "YIELDROUTER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "YIELDROUTER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "YIELDROUTER_S3_FORCE_PATH_STYLE")

	// ── Cache ──
	setDuration(&cfg.Cache.FetchTimeout, "YIELDROUTER_CACHE_FETCH_TIMEOUT")
	setDuration(&cfg.Cache.StaleWindow, "YIELDROUTER_CACHE_STALE_WINDOW")
	setStr(&cfg.Cache.WarmUpCron, "YIELDROUTER_CACHE_WARMUP_CRON")
	setStringSlice(&cfg.Cache.WarmUpAssets, "YIELDROUTER_CACHE_WARMUP_ASSETS")

	// ── Providers ──
	setBool(&cfg.Jupiter.Enabled, "YIELDROUTER_JUPITER_ENABLED")
	setStr(&cfg.Jupiter.BaseURL, "YIELDROUTER_JUPITER_BASE_URL")
	setStr(&cfg.Jupiter.APIKey, "YIELDROUTER_JUPITER_API_KEY")
	setInt(&cfg.Jupiter.RequestsPerMinute, "YIELDROUTER_JUPITER_REQUESTS_PER_MINUTE")
	setBool(&cfg.Jupiter.BuildViaAPI, "YIELDROUTER_JUPITER_BUILD_VIA_API")
	setBool(&cfg.Kamino.Enabled, "YIELDROUTER_KAMINO_ENABLED")
	setStr(&cfg.Kamino.BaseURL, "YIELDROUTER_KAMINO_BASE_URL")

	// ── Ledger / planner ──
	setStr(&cfg.Ledger.CostBasis, "YIELDROUTER_LEDGER_COST_BASIS")
	setInt(&cfg.Ledger.MaxRetries, "YIELDROUTER_LEDGER_MAX_RETRIES")
	setBool(&cfg.Ledger.DistributedLock, "YIELDROUTER_LEDGER_DISTRIBUTED_LOCK")
	setDuration(&cfg.Planner.Deadline, "YIELDROUTER_PLANNER_DEADLINE")
	setFloat64(&cfg.Planner.DefaultMaxSlippage, "YIELDROUTER_PLANNER_DEFAULT_MAX_SLIPPAGE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "YIELDROUTER_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "YIELDROUTER_ARCHIVE_CRON")
	setInt(&cfg.Archive.RetentionDays, "YIELDROUTER_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setInt(&cfg.Server.Port, "YIELDROUTER_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "YIELDROUTER_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "YIELDROUTER_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "YIELDROUTER_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStringSlice(&cfg.Notify.Events, "YIELDROUTER_NOTIFY_EVENTS")
	setStr(&cfg.Notify.TelegramToken, "YIELDROUTER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "YIELDROUTER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhook, "YIELDROUTER_NOTIFY_DISCORD_WEBHOOK")

	// ── Top-level ──
	setStr(&cfg.Storage, "YIELDROUTER_STORAGE")
	setStr(&cfg.Mode, "YIELDROUTER_MODE")
	setStr(&cfg.LogLevel, "YIELDROUTER_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
