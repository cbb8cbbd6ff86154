// Package config defines the top-level configuration for the exchange and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/polyjacket/internal/scheduler"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLYJACKET_* environment variables.
type Config struct {
	Market    MarketConfig    `toml:"market"`
	Storage   StorageConfig   `toml:"storage"`
	Postgres  PostgresConfig  `toml:"postgres"`
	SQLite    SQLiteConfig    `toml:"sqlite"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Schedule  ScheduleConfig  `toml:"schedule"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// MarketConfig holds exchange parameters.
type MarketConfig struct {
	StartingBalance float64 `toml:"starting_balance"`
	// Liquidity is the LMSR b given to ingested markets.
	Liquidity float64  `toml:"liquidity"`
	CacheTTL  duration `toml:"cache_ttl"`
}

// StorageConfig picks the store implementation.
type StorageConfig struct {
	Driver string `toml:"driver"` // memory, postgres or sqlite
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// SQLiteConfig holds the database file location.
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// RedisConfig holds Redis connection parameters. With Enabled false the
// cache, bus, locks and rate limiter run in process.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the settlement
// archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ScheduleConfig points at the game schedule feed.
type ScheduleConfig struct {
	BaseURL   string `toml:"base_url"`
	Timezone  string `toml:"timezone"`
	DaysBack  int    `toml:"days_back"`
	DaysAhead int    `toml:"days_ahead"`
}

// Location resolves Timezone, defaulting to UTC.
func (s ScheduleConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(s.Timezone)
}

// SchedulerConfig holds background job parameters.
type SchedulerConfig struct {
	IngestInterval       duration `toml:"ingest_interval"`
	SweepInterval        duration `toml:"sweep_interval"`
	LeaseTTL             duration `toml:"lease_ttl"`
	ArchiveCron          string   `toml:"archive_cron"`
	ArchiveRetentionDays int      `toml:"archive_retention_days"`
	ArchiveBatchSize     int      `toml:"archive_batch_size"`
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
	// AdminAPIKey guards /api/admin. Empty disables those routes.
	AdminAPIKey string `toml:"admin_api_key"`
	// SessionSecret signs the identity cookie.
	SessionSecret  string   `toml:"session_secret"`
	CookieSecure   bool     `toml:"cookie_secure"`
	TradeRateLimit int      `toml:"trade_rate_limit"`
	RateWindow     duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Market: MarketConfig{
			StartingBalance: 10000,
			Liquidity:       100,
			CacheTTL:        duration{30 * time.Second},
		},
		Storage: StorageConfig{Driver: "sqlite"},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "polyjacket",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		SQLite: SQLiteConfig{Path: "polyjacket.db"},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "polyjacket-ledger",
			ForcePathStyle: true,
		},
		Schedule: ScheduleConfig{
			Timezone:  "America/New_York",
			DaysBack:  3,
			DaysAhead: 7,
		},
		Scheduler: SchedulerConfig{
			IngestInterval:       duration{15 * time.Minute},
			SweepInterval:        duration{time.Minute},
			LeaseTTL:             duration{5 * time.Minute},
			ArchiveCron:          "0 3 * * *",
			ArchiveRetentionDays: 30,
			ArchiveBatchSize:     500,
		},
		Server: ServerConfig{
			Port:           8000,
			CORSOrigins:    []string{"http://localhost:3000", "http://localhost:5173"},
			TradeRateLimit: 30,
			RateWindow:     duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"market_settled", "settlement_failed", "numerical_error", "ingest_failed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"server":    true,
	"scheduler": true,
	"full":      true,
}

var validDrivers = map[string]bool{
	"memory":   true,
	"postgres": true,
	"sqlite":   true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// RunsServer reports whether the mode serves HTTP.
func (c *Config) RunsServer() bool { return c.Mode == "server" || c.Mode == "full" }

// RunsScheduler reports whether the mode runs the background jobs.
func (c *Config) RunsScheduler() bool { return c.Mode == "scheduler" || c.Mode == "full" }

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[c.Mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, scheduler, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Market
	if c.Market.StartingBalance < 0 {
		errs = append(errs, "market: starting_balance must be >= 0")
	}
	if !(c.Market.Liquidity > 0) {
		errs = append(errs, "market: liquidity must be > 0")
	}

	// Storage
	switch {
	case !validDrivers[c.Storage.Driver]:
		errs = append(errs, fmt.Sprintf("storage: unknown driver %q (valid: memory, postgres, sqlite)", c.Storage.Driver))
	case c.Storage.Driver == "sqlite" && strings.TrimSpace(c.SQLite.Path) == "":
		errs = append(errs, "sqlite: path must not be empty")
	case c.Storage.Driver == "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Schedule feed and jobs only matter when the scheduler runs.
	if c.RunsScheduler() {
		if c.Schedule.BaseURL == "" {
			errs = append(errs, "schedule: base_url must not be empty when the scheduler runs")
		}
		if _, err := c.Schedule.Location(); err != nil {
			errs = append(errs, fmt.Sprintf("schedule: timezone: %v", err))
		}
		if c.Schedule.DaysBack < 0 || c.Schedule.DaysAhead < 0 {
			errs = append(errs, "schedule: days_back and days_ahead must be >= 0")
		}
		if c.Scheduler.IngestInterval.Duration <= 0 {
			errs = append(errs, "scheduler: ingest_interval must be > 0")
		}
		if c.Scheduler.SweepInterval.Duration <= 0 {
			errs = append(errs, "scheduler: sweep_interval must be > 0")
		}
		if c.S3.Enabled {
			if err := scheduler.ValidateCron(c.Scheduler.ArchiveCron); err != nil {
				errs = append(errs, fmt.Sprintf("scheduler: archive_cron: %v", err))
			}
			if c.Scheduler.ArchiveRetentionDays < 1 {
				errs = append(errs, "scheduler: archive_retention_days must be >= 1")
			}
		}
	}

	// Server
	if c.RunsServer() {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if len(c.Server.SessionSecret) < 16 {
			errs = append(errs, "server: session_secret must be at least 16 characters")
		}
		if c.Server.TradeRateLimit < 0 {
			errs = append(errs, "server: trade_rate_limit must be >= 0")
		}
		if c.Server.TradeRateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when trade_rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
