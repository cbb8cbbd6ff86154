package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Schedule.BaseURL = "https://schedule.example"
	cfg.Server.SessionSecret = "0123456789abcdef"
	return cfg
}

func TestDefaultsNeedFeedAndSecret(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schedule: base_url")
	assert.Contains(t, err.Error(), "server: session_secret")

	cfg = validConfig()
	require.NoError(t, cfg.Validate())
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "server"

[market]
liquidity = 250
cache_ttl = "10s"

[storage]
driver = "memory"

[server]
port = 9000
session_secret = "from-file-secret-value"

[scheduler]
sweep_interval = "15s"
`), 0o600))

	t.Setenv("POLYJACKET_SERVER_PORT", "9100")
	t.Setenv("POLYJACKET_SERVER_CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("POLYJACKET_MARKET_STARTING_BALANCE", "500")
	t.Setenv("POLYJACKET_REDIS_ENABLED", "not-a-bool")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, 250.0, cfg.Market.Liquidity)
	assert.Equal(t, 10*time.Second, cfg.Market.CacheTTL.Duration)
	assert.Equal(t, 15*time.Second, cfg.Scheduler.SweepInterval.Duration)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 500.0, cfg.Market.StartingBalance)
	assert.False(t, cfg.Redis.Enabled, "unparseable env value must be ignored")
	// untouched sections keep their defaults
	assert.Equal(t, 7, cfg.Schedule.DaysAhead)
	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[scheduler]\nsweep_interval = \"soon\"\n"), 0o600))
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "trade"
	cfg.LogLevel = "verbose"
	cfg.Market.Liquidity = 0
	cfg.Storage.Driver = "mongo"
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"unknown mode", "unknown log_level", "market: liquidity", "storage: unknown driver", "redis: addr"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateSchedulerSections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad timezone", func(c *Config) { c.Schedule.Timezone = "Mars/Olympus" }, "schedule: timezone"},
		{"bad cron", func(c *Config) { c.S3.Enabled = true; c.Scheduler.ArchiveCron = "0 25 * * *" }, "archive_cron"},
		{"no retention", func(c *Config) { c.S3.Enabled = true; c.Scheduler.ArchiveRetentionDays = 0 }, "archive_retention_days"},
		{"postgres pool", func(c *Config) { c.Storage.Driver = "postgres"; c.Postgres.PoolMinConns = 50 }, "pool_min_conns"},
		{"empty sqlite path", func(c *Config) { c.SQLite.Path = " " }, "sqlite: path"},
		{"rate window", func(c *Config) { c.Server.RateWindow.Duration = 0 }, "rate_window"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	// scheduler-only settings are not checked for a pure API node
	cfg := validConfig()
	cfg.Mode = "server"
	cfg.Schedule.BaseURL = ""
	cfg.Scheduler.SweepInterval.Duration = 0
	assert.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "pw"
	cfg.Server.AdminAPIKey = "admin"
	cfg.Notify.DiscordWebhookURL = "https://discord.example/hook"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Server.AdminAPIKey)
	assert.Equal(t, "***", out.Server.SessionSecret)
	assert.Equal(t, "***", out.Notify.DiscordWebhookURL)
	assert.Empty(t, out.Redis.Password)

	out.Server.CORSOrigins[0] = "mutated"
	assert.NotEqual(t, "mutated", cfg.Server.CORSOrigins[0])
	assert.Equal(t, "pw", cfg.Postgres.Password)
}
