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
// built-in defaults, applies REBAL_* environment variable overrides, and
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

// applyEnvOverrides reads well-known REBAL_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "REBAL_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "REBAL_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "REBAL_WALLET_KEY_PASSWORD")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "REBAL_CHAIN_RPC_URL")
	setInt(&cfg.Chain.ChainID, "REBAL_CHAIN_CHAIN_ID")
	setFloat64(&cfg.Chain.RequestsPerSec, "REBAL_CHAIN_REQUESTS_PER_SEC")

	// ── Oracle ──
	setStr(&cfg.Oracle.StreamURL, "REBAL_ORACLE_STREAM_URL")
	setStr(&cfg.Oracle.HTTPURL, "REBAL_ORACLE_HTTP_URL")
	setFloat64(&cfg.Oracle.RequestsPerSec, "REBAL_ORACLE_REQUESTS_PER_SEC")
	setDuration(&cfg.Oracle.StaleAfter, "REBAL_ORACLE_STALE_AFTER")
	setFloat64(&cfg.Oracle.MinConfidence, "REBAL_ORACLE_MIN_CONFIDENCE")

	// ── Venue ──
	setStr(&cfg.Venue.BaseURL, "REBAL_VENUE_BASE_URL")
	setStr(&cfg.Venue.APIKey, "REBAL_VENUE_API_KEY")
	setInt(&cfg.Venue.MaxRetries, "REBAL_VENUE_MAX_RETRIES")

	// ── Database ──
	setStr(&cfg.Database.DSN, "REBAL_DATABASE_DSN")
	setStr(&cfg.Database.Host, "REBAL_DATABASE_HOST")
	setInt(&cfg.Database.Port, "REBAL_DATABASE_PORT")
	setStr(&cfg.Database.Database, "REBAL_DATABASE_NAME")
	setStr(&cfg.Database.User, "REBAL_DATABASE_USER")
	setStr(&cfg.Database.Password, "REBAL_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "REBAL_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "REBAL_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "REBAL_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "REBAL_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "REBAL_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REBAL_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REBAL_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "REBAL_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "REBAL_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "REBAL_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "REBAL_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "REBAL_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "REBAL_S3_REGION")
	setStr(&cfg.S3.Bucket, "REBAL_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "REBAL_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "REBAL_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "REBAL_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "REBAL_S3_FORCE_PATH_STYLE")

	// ── Rebalance ──
	setFloat64(&cfg.Rebalance.SlippageBps, "REBAL_REBALANCE_SLIPPAGE_BPS")
	setFloat64(&cfg.Rebalance.DustFloorUSD, "REBAL_REBALANCE_DUST_FLOOR_USD")
	setFloat64(&cfg.Rebalance.Damping, "REBAL_REBALANCE_DAMPING")
	setDuration(&cfg.Rebalance.ConfirmTimeout, "REBAL_REBALANCE_CONFIRM_TIMEOUT")
	setDuration(&cfg.Rebalance.ConfirmPoll, "REBAL_REBALANCE_CONFIRM_POLL")

	// ── Scheduler ──
	setDuration(&cfg.Scheduler.PortfolioRefresh, "REBAL_SCHEDULER_PORTFOLIO_REFRESH")
	setDuration(&cfg.Scheduler.LockTTL, "REBAL_SCHEDULER_LOCK_TTL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "REBAL_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "REBAL_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "REBAL_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "REBAL_NOTIFY_EVENTS")

	// ── Telemetry ──
	setBool(&cfg.Telemetry.Enabled, "REBAL_TELEMETRY_ENABLED")
	setStr(&cfg.Telemetry.Addr, "REBAL_TELEMETRY_ADDR")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "REBAL_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "REBAL_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "REBAL_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "REBAL_SERVER_CORS_ORIGINS")
	setFloat64(&cfg.Server.RateRPS, "REBAL_SERVER_RATE_RPS")
	setInt(&cfg.Server.RateBurst, "REBAL_SERVER_RATE_BURST")

	// ── Top-level ──
	setStr(&cfg.Mode, "REBAL_MODE")
	setStr(&cfg.LogLevel, "REBAL_LOG_LEVEL")
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
			if s := strings.TrimSpace(p); s != "" {
				cleaned = append(cleaned, s)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
