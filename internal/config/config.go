// Package config defines the top-level configuration for the rebalancer
// daemon and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by REBAL_* environment variables.
type Config struct {
	Wallet    WalletConfig    `toml:"wallet"`
	Chain     ChainConfig     `toml:"chain"`
	Oracle    OracleConfig    `toml:"oracle"`
	Venue     VenueConfig     `toml:"venue"`
	Database  DatabaseConfig  `toml:"database"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Rebalance RebalanceConfig `toml:"rebalance"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Notify    NotifyConfig    `toml:"notify"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Server    ServerConfig    `toml:"server"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// WalletConfig holds the executing wallet credentials.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ChainConfig holds EVM RPC parameters for balance reads and confirmation
// polling.
type ChainConfig struct {
	RPCURL         string  `toml:"rpc_url"`
	ChainID        int     `toml:"chain_id"`
	RequestsPerSec float64 `toml:"requests_per_sec"`
}

// OracleConfig holds the price oracle endpoints. The stream endpoint feeds
// the cache continuously; the HTTP endpoint serves cold lookups.
type OracleConfig struct {
	StreamURL      string   `toml:"stream_url"`
	HTTPURL        string   `toml:"http_url"`
	RequestsPerSec float64  `toml:"requests_per_sec"`
	StaleAfter     duration `toml:"stale_after"`
	MinConfidence  float64  `toml:"min_confidence"`
}

// VenueConfig holds the swap venue API parameters.
type VenueConfig struct {
	BaseURL    string `toml:"base_url"`
	APIKey     string `toml:"api_key"`
	MaxRetries int    `toml:"max_retries"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for job report
// archival.
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

// RebalanceConfig holds the planner and executor policy knobs.
type RebalanceConfig struct {
	// SlippageBps is the buffer subtracted from the expected output to form
	// the minimum-out floor, in basis points.
	SlippageBps float64 `toml:"slippage_bps"`
	// DustFloorUSD is the smallest notional worth executing.
	DustFloorUSD float64 `toml:"dust_floor_usd"`
	// Damping scales every planned trade (1.0 = full correction toward
	// target). Partial correction must be opted into explicitly.
	Damping float64 `toml:"damping"`
	// ConfirmTimeout bounds each transaction confirmation wait.
	ConfirmTimeout duration `toml:"confirm_timeout"`
	// ConfirmPoll is the receipt polling interval.
	ConfirmPoll duration `toml:"confirm_poll"`
}

// SchedulerConfig holds the monitoring loop parameters.
type SchedulerConfig struct {
	// PortfolioRefresh is how often the active portfolio set is re-read so
	// newly created or re-enabled portfolios pick up loops.
	PortfolioRefresh duration `toml:"portfolio_refresh"`
	// LockTTL is the per-portfolio cycle lock lifetime; it must exceed the
	// longest plausible cycle.
	LockTTL duration `toml:"lock_ttl"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// TelemetryConfig holds the Prometheus metrics endpoint parameters.
type TelemetryConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// ServerConfig holds the admin API parameters. The API exposes portfolio
// management, the job audit trail, and a WebSocket stream of cycle events.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	RateRPS     float64  `toml:"rate_rps"`
	RateBurst   int      `toml:"rate_burst"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
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

// Defaults returns the built-in configuration used before any TOML file or
// environment overrides are applied.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			ChainID:        8453,
			RequestsPerSec: 10,
		},
		Oracle: OracleConfig{
			StreamURL:      "wss://hermes.pyth.network/ws",
			HTTPURL:        "https://hermes.pyth.network",
			RequestsPerSec: 5,
			StaleAfter:     duration{60 * time.Second},
			MinConfidence:  0,
		},
		Venue: VenueConfig{
			MaxRetries: 3,
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "rebalancer",
			User:          "postgres",
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
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "rebalancer-reports",
			ForcePathStyle: true,
		},
		Rebalance: RebalanceConfig{
			SlippageBps:    50,
			DustFloorUSD:   0.01,
			Damping:        1.0,
			ConfirmTimeout: duration{60 * time.Second},
			ConfirmPoll:    duration{2 * time.Second},
		},
		Scheduler: SchedulerConfig{
			PortfolioRefresh: duration{30 * time.Second},
			LockTTL:          duration{5 * time.Minute},
		},
		Telemetry: TelemetryConfig{
			Enabled: true,
			Addr:    ":9109",
		},
		Server: ServerConfig{
			Port:      8080,
			RateRPS:   20,
			RateBurst: 40,
		},
		Mode:     "monitor",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"monitor": true, // full monitoring loop with execution
	"observe": true, // aggregate + deviations only, never executes
	"once":    true, // single cycle per active portfolio, then exit
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the configuration for internal consistency and returns a
// combined error listing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: monitor, observe, once)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Execution modes need a key source.
	needsWallet := strings.ToLower(c.Mode) != "observe"
	if needsWallet {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.ChainID <= 0 {
		errs = append(errs, fmt.Sprintf("chain: chain_id must be positive, got %d", c.Chain.ChainID))
	}

	if c.Oracle.HTTPURL == "" && c.Oracle.StreamURL == "" {
		errs = append(errs, "oracle: at least one of stream_url or http_url must be set")
	}
	if c.Oracle.StaleAfter.Duration <= 0 {
		errs = append(errs, "oracle: stale_after must be positive")
	}

	if needsWallet && c.Venue.BaseURL == "" {
		errs = append(errs, "venue: base_url must not be empty for mode "+c.Mode)
	}

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

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archival is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when archival is enabled")
		}
	}

	if c.Rebalance.SlippageBps < 0 || c.Rebalance.SlippageBps >= 10_000 {
		errs = append(errs, fmt.Sprintf("rebalance: slippage_bps must be in [0, 10000), got %v", c.Rebalance.SlippageBps))
	}
	if c.Rebalance.DustFloorUSD < 0 {
		errs = append(errs, "rebalance: dust_floor_usd must not be negative")
	}
	if c.Rebalance.Damping <= 0 || c.Rebalance.Damping > 1 {
		errs = append(errs, fmt.Sprintf("rebalance: damping must be in (0, 1], got %v", c.Rebalance.Damping))
	}
	if c.Rebalance.ConfirmTimeout.Duration <= 0 {
		errs = append(errs, "rebalance: confirm_timeout must be positive")
	}
	if c.Rebalance.ConfirmPoll.Duration <= 0 || c.Rebalance.ConfirmPoll.Duration > c.Rebalance.ConfirmTimeout.Duration {
		errs = append(errs, "rebalance: confirm_poll must be positive and not exceed confirm_timeout")
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateRPS < 0 {
			errs = append(errs, "server: rate_rps must not be negative")
		}
	}

	if c.Scheduler.PortfolioRefresh.Duration <= 0 {
		errs = append(errs, "scheduler: portfolio_refresh must be positive")
	}
	if c.Scheduler.LockTTL.Duration <= 0 {
		errs = append(errs, "scheduler: lock_ttl must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
