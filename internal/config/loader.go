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
// built-in defaults, applies WEAVER_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known WEAVER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "WEAVER_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "WEAVER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "WEAVER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "WEAVER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "WEAVER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "WEAVER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "WEAVER_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "WEAVER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "WEAVER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "WEAVER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "WEAVER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "WEAVER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "WEAVER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "WEAVER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "WEAVER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "WEAVER_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "WEAVER_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "WEAVER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "WEAVER_S3_REGION")
	setStr(&cfg.S3.Bucket, "WEAVER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "WEAVER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "WEAVER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "WEAVER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "WEAVER_S3_FORCE_PATH_STYLE")

	// ── Alpaca ──
	setStr(&cfg.Alpaca.APIKeyID, "WEAVER_ALPACA_API_KEY_ID")
	setStr(&cfg.Alpaca.APISecretKey, "WEAVER_ALPACA_API_SECRET_KEY")
	setStr(&cfg.Alpaca.BaseURL, "WEAVER_ALPACA_BASE_URL")
	setStr(&cfg.Alpaca.StreamURL, "WEAVER_ALPACA_STREAM_URL")
	setBool(&cfg.Alpaca.Paper, "WEAVER_ALPACA_PAPER")

	// ── Run ──
	setStr(&cfg.Run.DefaultTimeInForce, "WEAVER_RUN_DEFAULT_TIME_IN_FORCE")
	setStr(&cfg.Run.DefaultTimeframe, "WEAVER_RUN_DEFAULT_TIMEFRAME")
	setInt(&cfg.Run.MaxConcurrentRuns, "WEAVER_RUN_MAX_CONCURRENT_RUNS")
	setDuration(&cfg.Run.StopGracePeriod, "WEAVER_RUN_STOP_GRACE_PERIOD")
	setDuration(&cfg.Run.TickCallbackTimeout, "WEAVER_RUN_TICK_CALLBACK_TIMEOUT")
	setStr(&cfg.Run.PluginDir, "WEAVER_RUN_PLUGIN_DIR")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "WEAVER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "WEAVER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "WEAVER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "WEAVER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "WEAVER_LOG_LEVEL")
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
