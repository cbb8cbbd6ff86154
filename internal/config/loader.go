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
// built-in defaults, applies POLYJACKET_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
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

// applyEnvOverrides reads well-known POLYJACKET_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This lets
// operators inject secrets at deploy time without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Market ──
	setFloat64(&cfg.Market.StartingBalance, "POLYJACKET_MARKET_STARTING_BALANCE")
	setFloat64(&cfg.Market.Liquidity, "POLYJACKET_MARKET_LIQUIDITY")
	setDuration(&cfg.Market.CacheTTL, "POLYJACKET_MARKET_CACHE_TTL")

	// ── Storage ──
	setStr(&cfg.Storage.Driver, "POLYJACKET_STORAGE_DRIVER")
	setStr(&cfg.SQLite.Path, "POLYJACKET_SQLITE_PATH")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // platform alias, the prefixed name wins
	setStr(&cfg.Postgres.DSN, "POLYJACKET_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POLYJACKET_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POLYJACKET_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POLYJACKET_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POLYJACKET_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POLYJACKET_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POLYJACKET_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POLYJACKET_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POLYJACKET_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POLYJACKET_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "POLYJACKET_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "POLYJACKET_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYJACKET_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYJACKET_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYJACKET_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYJACKET_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYJACKET_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "POLYJACKET_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "POLYJACKET_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYJACKET_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYJACKET_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POLYJACKET_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYJACKET_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POLYJACKET_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLYJACKET_S3_FORCE_PATH_STYLE")

	// ── Schedule ──
	setStr(&cfg.Schedule.BaseURL, "POLYJACKET_SCHEDULE_BASE_URL")
	setStr(&cfg.Schedule.Timezone, "POLYJACKET_SCHEDULE_TIMEZONE")
	setInt(&cfg.Schedule.DaysBack, "POLYJACKET_SCHEDULE_DAYS_BACK")
	setInt(&cfg.Schedule.DaysAhead, "POLYJACKET_SCHEDULE_DAYS_AHEAD")

	// ── Scheduler ──
	setDuration(&cfg.Scheduler.IngestInterval, "POLYJACKET_SCHEDULER_INGEST_INTERVAL")
	setDuration(&cfg.Scheduler.SweepInterval, "POLYJACKET_SCHEDULER_SWEEP_INTERVAL")
	setDuration(&cfg.Scheduler.LeaseTTL, "POLYJACKET_SCHEDULER_LEASE_TTL")
	setStr(&cfg.Scheduler.ArchiveCron, "POLYJACKET_SCHEDULER_ARCHIVE_CRON")
	setInt(&cfg.Scheduler.ArchiveRetentionDays, "POLYJACKET_SCHEDULER_ARCHIVE_RETENTION_DAYS")
	setInt(&cfg.Scheduler.ArchiveBatchSize, "POLYJACKET_SCHEDULER_ARCHIVE_BATCH_SIZE")

	// ── Server ──
	setInt(&cfg.Server.Port, "PORT") // platform alias, the prefixed name wins
	setInt(&cfg.Server.Port, "POLYJACKET_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "POLYJACKET_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.AdminAPIKey, "POLYJACKET_SERVER_ADMIN_API_KEY")
	setStr(&cfg.Server.SessionSecret, "POLYJACKET_SERVER_SESSION_SECRET")
	setBool(&cfg.Server.CookieSecure, "POLYJACKET_SERVER_COOKIE_SECURE")
	setInt(&cfg.Server.TradeRateLimit, "POLYJACKET_SERVER_TRADE_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "POLYJACKET_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POLYJACKET_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYJACKET_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYJACKET_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLYJACKET_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "POLYJACKET_MODE")
	setStr(&cfg.LogLevel, "POLYJACKET_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and parses.
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
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
