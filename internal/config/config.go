// Package config defines Weaver's top-level configuration and provides
// validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/weaver-engine/weaver/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by WEAVER_* environment
// variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Alpaca   AlpacaConfig   `toml:"alpaca"`
	Run      RunConfig      `toml:"run"`
	Notify   NotifyConfig   `toml:"notify"`
	LogLevel string         `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters backing every
// repository and the durable EventLog.
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

// RedisConfig holds Redis connection parameters for the EventLog's
// cross-process notification hook.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for optional
// backtest artifact archival.
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

// AlpacaConfig holds both sets of broker API credentials for
// internal/adapter/live -- RunModeLive and RunModePaper each resolve to a
// distinct credential set rather than a single flag toggling one shared
// set, so a deployment can run live and paper strategies side by side.
type AlpacaConfig struct {
	Live  AlpacaCredentials `toml:"live"`
	Paper AlpacaCredentials `toml:"paper"`
}

// AlpacaCredentials is one Alpaca environment's API key and endpoint.
type AlpacaCredentials struct {
	APIKeyID     string `toml:"api_key_id"`
	APISecretKey string `toml:"api_secret_key"`
	BaseURL      string `toml:"base_url"`
}

// ForMode returns the credential set for mode, falling back to Paper for
// any mode other than RunModeLive (including RunModeBacktest, which never
// actually dials out but may still construct a BrokerClientFactory).
func (a AlpacaConfig) ForMode(mode domain.RunMode) AlpacaCredentials {
	if mode == domain.RunModeLive {
		return a.Live
	}
	return a.Paper
}

// RunConfig holds run-related settings. Only PluginDir is read outside this
// package (by app wiring); the other fields are loaded and validated but no
// component applies them to a run.
type RunConfig struct {
	DefaultTimeInForce  string   `toml:"default_time_in_force"`
	DefaultTimeframe    string   `toml:"default_timeframe"`
	MaxConcurrentRuns   int      `toml:"max_concurrent_runs"`
	StopGracePeriod     duration `toml:"stop_grace_period"`
	TickCallbackTimeout duration `toml:"tick_callback_timeout"`
	PluginDir           string   `toml:"plugin_dir"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder
// can parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// NotifyConfig holds notification channel credentials for run-lifecycle
// alerts (run started/stopped/errored).
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "weaver",
			User:          "weaver",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "weaver-backtests",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Alpaca: AlpacaConfig{
			Live:  AlpacaCredentials{BaseURL: "https://api.alpaca.markets"},
			Paper: AlpacaCredentials{BaseURL: "https://paper-api.alpaca.markets"},
		},
		Run: RunConfig{
			DefaultTimeInForce:  "GTC",
			DefaultTimeframe:    "1m",
			MaxConcurrentRuns:   16,
			StopGracePeriod:     duration{5 * time.Second},
			TickCallbackTimeout: duration{30 * time.Second},
			PluginDir:           "./plugins",
		},
		Notify: NotifyConfig{
			Events: []string{"run_started", "run_stopped", "run_error", "order_rejected"},
		},
		LogLevel: "info",
	}
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

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
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	if c.Alpaca.Live.APIKeyID == "" || c.Alpaca.Live.APISecretKey == "" {
		errs = append(errs, "alpaca: live.api_key_id and live.api_secret_key are required")
	}
	if c.Alpaca.Paper.APIKeyID == "" || c.Alpaca.Paper.APISecretKey == "" {
		errs = append(errs, "alpaca: paper.api_key_id and paper.api_secret_key are required")
	}
	if c.Alpaca.Live.BaseURL == "" {
		errs = append(errs, "alpaca: live.base_url must not be empty")
	}
	if c.Alpaca.Paper.BaseURL == "" {
		errs = append(errs, "alpaca: paper.base_url must not be empty")
	}

	if c.Run.MaxConcurrentRuns < 1 {
		errs = append(errs, "run: max_concurrent_runs must be >= 1")
	}
	if c.Run.StopGracePeriod.Duration <= 0 {
		errs = append(errs, "run: stop_grace_period must be > 0")
	}
	if c.Run.TickCallbackTimeout.Duration <= 0 {
		errs = append(errs, "run: tick_callback_timeout must be > 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
