// Package config defines the top-level configuration for the atombot
// orchestrator and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ATOMBOT_* environment variables.
type Config struct {
	Wallet    WalletConfig    `toml:"wallet"`
	Chain     ChainConfig     `toml:"chain"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Feed      FeedConfig      `toml:"feed"`
	Scanner   ScannerConfig   `toml:"scanner"`
	Risk      RiskConfig      `toml:"risk"`
	Engine    EngineConfig    `toml:"engine"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Archive   ArchiveConfig   `toml:"archive"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// WalletConfig holds the execution key used to sign flash-loan transactions.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ChainConfig holds RPC endpoint and flash-loan contract parameters.
type ChainConfig struct {
	RPCURL              string   `toml:"rpc_url"`
	ChainID             int64    `toml:"chain_id"`
	FlashLoanContract   string   `toml:"flashloan_contract"`
	MaxGasPriceGwei     float64  `toml:"max_gas_price_gwei"`
	ConfirmTimeout      duration `toml:"confirm_timeout"`
	ReceiptPollInterval duration `toml:"receipt_poll_interval"`
	// GasQuoteRate converts native-token gas spend into quote-currency
	// units so ledger totals stay in one currency. A live oracle is out of
	// scope; operators set the rate they hedge at.
	GasQuoteRate float64 `toml:"gas_quote_rate"`
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for cold archives.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// VenueConfig describes one price venue the feed adapter polls or streams.
type VenueConfig struct {
	Name string `toml:"name"`
	// Kind selects the client: "http" (poll a quote endpoint) or "ws"
	// (stream into the quote cache).
	Kind string `toml:"kind"`
	URL  string `toml:"url"`
}

// FeedConfig holds price feed parameters.
type FeedConfig struct {
	Venues []VenueConfig `toml:"venues"`
	// PollInterval is how often HTTP venues are polled.
	PollInterval duration `toml:"poll_interval"`
	// StaleAfter is the age beyond which a cached quote no longer counts as
	// venue coverage.
	StaleAfter duration `toml:"stale_after"`
	// RequestTimeout bounds a single venue round trip.
	RequestTimeout duration `toml:"request_timeout"`
}

// ScannerConfig holds opportunity detection parameters.
type ScannerConfig struct {
	Pairs []string `toml:"pairs"`
	// Interval is the scan cadence per pair.
	Interval duration `toml:"interval"`
	// MinSpreadRatio is the mid-normalized spread below which venue pairs
	// are discarded.
	MinSpreadRatio float64 `toml:"min_spread_ratio"`
	// TradeAmount is the desired borrow size in quote-currency units; depth
	// relative to it drives confidence.
	TradeAmount float64 `toml:"trade_amount"`
}

// RiskConfig holds the risk gate thresholds and circuit breaker policy.
type RiskConfig struct {
	// MinProfitRatio is the minimum expected profit ratio after the spread
	// minimum already applied by the scanner.
	MinProfitRatio float64 `toml:"min_profit_ratio"`
	// ValidityWindow is the maximum opportunity age at evaluation time.
	ValidityWindow duration `toml:"validity_window"`
	// MaxInflightPerPair caps concurrent executions against one pair.
	MaxInflightPerPair int `toml:"max_inflight_per_pair"`

	BreakerFailures  int      `toml:"breaker_failures"`  // consecutive failures to open
	BreakerSuccesses int      `toml:"breaker_successes"` // consecutive successes to close from half-open
	BreakerCooldown  duration `toml:"breaker_cooldown"`  // open -> half-open delay
	BreakerWindow    duration `toml:"breaker_window"`    // rolling window for the failure count
}

// EngineConfig holds execution engine parameters.
type EngineConfig struct {
	// Workers is the number of concurrent execution workers.
	Workers int `toml:"workers"`
	// BorrowAsset is the token contract address borrowed via flash loan
	// (the quote currency all configured pairs settle in).
	BorrowAsset string `toml:"borrow_asset"`
	// BorrowDecimals is the borrow asset's ERC-20 decimals.
	BorrowDecimals int `toml:"borrow_decimals"`
	// SubmitRetries bounds retries of transient submission failures.
	SubmitRetries int      `toml:"submit_retries"`
	RetryBackoff  duration `toml:"retry_backoff"`
	// FlashFeeRatio is the flash-loan fee taken by the lending pool.
	FlashFeeRatio float64 `toml:"flash_fee_ratio"`
	// SlippageBuffer shaves the expected edge before the profitability
	// re-check to absorb movement between approval and send.
	SlippageBuffer float64 `toml:"slippage_buffer"`
	// DedupTTL is how long consumed opportunity IDs are remembered.
	DedupTTL duration `toml:"dedup_ttl"`
}

// TelemetryConfig holds the event stream parameters.
type TelemetryConfig struct {
	// Stream is the durable capped stream the dashboard reads back.
	Stream string `toml:"stream"`
	// Channel is the pub/sub channel live subscribers tail.
	Channel string `toml:"channel"`
	// MaxLen caps the stream length (approximate trim).
	MaxLen int64 `toml:"max_len"`
}

// ArchiveConfig holds cold-storage archival parameters.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// RateLimit is requests per RateWindow per client IP; 0 disables.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
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

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:              "https://sepolia.base.org",
			ChainID:             84532,
			MaxGasPriceGwei:     50,
			ConfirmTimeout:      duration{45 * time.Second},
			ReceiptPollInterval: duration{2 * time.Second},
			GasQuoteRate:        2500,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "atombot",
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
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "atombot-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Feed: FeedConfig{
			PollInterval:   duration{time.Second},
			StaleAfter:     duration{30 * time.Second},
			RequestTimeout: duration{5 * time.Second},
		},
		Scanner: ScannerConfig{
			Pairs:          []string{"WETH/USDC"},
			Interval:       duration{time.Second},
			MinSpreadRatio: 0.003,
			TradeAmount:    1000,
		},
		Risk: RiskConfig{
			MinProfitRatio:     0.005,
			ValidityWindow:     duration{15 * time.Second},
			MaxInflightPerPair: 1,
			BreakerFailures:    5,
			BreakerSuccesses:   3,
			BreakerCooldown:    duration{60 * time.Second},
			BreakerWindow:      duration{10 * time.Minute},
		},
		Engine: EngineConfig{
			Workers:        3,
			BorrowDecimals: 6,
			SubmitRetries:  3,
			RetryBackoff:   duration{500 * time.Millisecond},
			FlashFeeRatio:  0.0009,
			SlippageBuffer: 0.005,
			DedupTTL:       duration{5 * time.Minute},
		},
		Telemetry: TelemetryConfig{
			Stream:  "atombot:events",
			Channel: "events",
			MaxLen:  10_000,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Cron:          "0 3 1 * *",
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   0,
			RateWindow:  duration{time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"breaker_open", "trade_confirmed", "reconcile_unresolved"},
		},
		Mode:     "all",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"bot":    true,
	"server": true,
	"all":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validVenueKinds enumerates the accepted values for VenueConfig.Kind.
var validVenueKinds = map[string]bool{
	"http": true,
	"ws":   true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: bot, server, all)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	trading := c.Mode == "bot" || c.Mode == "all"

	// Wallet: a key source is required whenever the engine runs.
	if trading {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Chain
	if trading {
		if c.Chain.RPCURL == "" {
			errs = append(errs, "chain: rpc_url must not be empty")
		}
		if c.Chain.ChainID <= 0 {
			errs = append(errs, "chain: chain_id must be positive")
		}
		if c.Chain.FlashLoanContract == "" {
			errs = append(errs, "chain: flashloan_contract must be set for mode "+c.Mode)
		}
		if c.Chain.ConfirmTimeout.Duration <= 0 {
			errs = append(errs, "chain: confirm_timeout must be > 0")
		}
		if c.Chain.ReceiptPollInterval.Duration <= 0 {
			errs = append(errs, "chain: receipt_poll_interval must be > 0")
		}
	}

	// Postgres
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

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3: only needed when archiving is on.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archiving is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archiving is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if strings.TrimSpace(c.Archive.Cron) == "" {
			errs = append(errs, "archive: cron must not be empty when archiving is enabled")
		}
	}

	// Feed: an arbitrage needs at least two venues to compare.
	if trading {
		if len(c.Feed.Venues) < 2 {
			errs = append(errs, fmt.Sprintf("feed: at least 2 venues are required for mode %s, got %d", c.Mode, len(c.Feed.Venues)))
		}
		seen := map[string]bool{}
		for i, v := range c.Feed.Venues {
			if v.Name == "" {
				errs = append(errs, fmt.Sprintf("feed: venues[%d] name must not be empty", i))
			}
			if seen[v.Name] {
				errs = append(errs, fmt.Sprintf("feed: duplicate venue %q", v.Name))
			}
			seen[v.Name] = true
			if !validVenueKinds[v.Kind] {
				errs = append(errs, fmt.Sprintf("feed: venues[%d] kind must be \"http\" or \"ws\", got %q", i, v.Kind))
			}
			if v.URL == "" {
				errs = append(errs, fmt.Sprintf("feed: venues[%d] url must not be empty", i))
			}
		}
		if c.Feed.StaleAfter.Duration <= 0 {
			errs = append(errs, "feed: stale_after must be > 0")
		}
	}

	// Scanner
	if trading {
		if len(c.Scanner.Pairs) == 0 {
			errs = append(errs, "scanner: at least one pair is required for mode "+c.Mode)
		}
		if c.Scanner.Interval.Duration <= 0 {
			errs = append(errs, "scanner: interval must be > 0")
		}
		if c.Scanner.MinSpreadRatio <= 0 {
			errs = append(errs, "scanner: min_spread_ratio must be > 0")
		}
		if c.Scanner.TradeAmount <= 0 {
			errs = append(errs, "scanner: trade_amount must be > 0")
		}
	}

	// Risk
	if c.Risk.MinProfitRatio <= 0 {
		errs = append(errs, "risk: min_profit_ratio must be > 0")
	}
	if c.Risk.ValidityWindow.Duration <= 0 {
		errs = append(errs, "risk: validity_window must be > 0")
	}
	if c.Risk.MaxInflightPerPair < 1 {
		errs = append(errs, "risk: max_inflight_per_pair must be >= 1")
	}
	if c.Risk.BreakerFailures < 1 {
		errs = append(errs, "risk: breaker_failures must be >= 1")
	}
	if c.Risk.BreakerSuccesses < 1 {
		errs = append(errs, "risk: breaker_successes must be >= 1")
	}
	if c.Risk.BreakerCooldown.Duration <= 0 {
		errs = append(errs, "risk: breaker_cooldown must be > 0")
	}

	// Engine
	if trading {
		if c.Engine.Workers < 1 {
			errs = append(errs, "engine: workers must be >= 1")
		}
		if c.Engine.BorrowAsset == "" {
			errs = append(errs, "engine: borrow_asset must be set for mode "+c.Mode)
		}
		if c.Engine.BorrowDecimals < 0 || c.Engine.BorrowDecimals > 18 {
			errs = append(errs, "engine: borrow_decimals must be 0-18")
		}
		if c.Engine.SubmitRetries < 1 {
			errs = append(errs, "engine: submit_retries must be >= 1")
		}
		if c.Engine.RetryBackoff.Duration <= 0 {
			errs = append(errs, "engine: retry_backoff must be > 0")
		}
		if c.Engine.FlashFeeRatio < 0 {
			errs = append(errs, "engine: flash_fee_ratio must be >= 0")
		}
		if c.Chain.GasQuoteRate <= 0 {
			errs = append(errs, "chain: gas_quote_rate must be > 0")
		}
	}

	// Telemetry
	if c.Telemetry.Stream == "" {
		errs = append(errs, "telemetry: stream must not be empty")
	}
	if c.Telemetry.Channel == "" {
		errs = append(errs, "telemetry: channel must not be empty")
	}
	if c.Telemetry.MaxLen < 100 {
		errs = append(errs, "telemetry: max_len must be >= 100")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
