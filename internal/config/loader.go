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
// built-in defaults, applies ATOMBOT_* environment variable overrides, and
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

// applyEnvOverrides reads well-known ATOMBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "ATOMBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.PrivateKey, "PRIVATE_KEY") // compatibility alias
	setStr(&cfg.Wallet.EncryptedKeyPath, "ATOMBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "ATOMBOT_WALLET_KEY_PASSWORD")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "ATOMBOT_CHAIN_RPC_URL")
	setStr(&cfg.Chain.RPCURL, "RPC_URL") // compatibility alias
	setInt64(&cfg.Chain.ChainID, "ATOMBOT_CHAIN_ID")
	setStr(&cfg.Chain.FlashLoanContract, "ATOMBOT_CHAIN_FLASHLOAN_CONTRACT")
	setFloat64(&cfg.Chain.MaxGasPriceGwei, "ATOMBOT_CHAIN_MAX_GAS_PRICE_GWEI")
	setFloat64(&cfg.Chain.GasQuoteRate, "ATOMBOT_CHAIN_GAS_QUOTE_RATE")
	setDuration(&cfg.Chain.ConfirmTimeout, "ATOMBOT_CHAIN_CONFIRM_TIMEOUT")
	setDuration(&cfg.Chain.ReceiptPollInterval, "ATOMBOT_CHAIN_RECEIPT_POLL_INTERVAL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ATOMBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "ATOMBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ATOMBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ATOMBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ATOMBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ATOMBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ATOMBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ATOMBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ATOMBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ATOMBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ATOMBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ATOMBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ATOMBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ATOMBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ATOMBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ATOMBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "ATOMBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ATOMBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "ATOMBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ATOMBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ATOMBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ATOMBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ATOMBOT_S3_FORCE_PATH_STYLE")

	// ── Feed ──
	setDuration(&cfg.Feed.PollInterval, "ATOMBOT_FEED_POLL_INTERVAL")
	setDuration(&cfg.Feed.StaleAfter, "ATOMBOT_FEED_STALE_AFTER")
	setDuration(&cfg.Feed.RequestTimeout, "ATOMBOT_FEED_REQUEST_TIMEOUT")

	// ── Scanner ──
	setStringSlice(&cfg.Scanner.Pairs, "ATOMBOT_SCANNER_PAIRS")
	setDuration(&cfg.Scanner.Interval, "ATOMBOT_SCANNER_INTERVAL")
	setFloat64(&cfg.Scanner.MinSpreadRatio, "ATOMBOT_SCANNER_MIN_SPREAD_RATIO")
	setFloat64(&cfg.Scanner.TradeAmount, "ATOMBOT_SCANNER_TRADE_AMOUNT")

	// ── Risk ──
	setFloat64(&cfg.Risk.MinProfitRatio, "ATOMBOT_RISK_MIN_PROFIT_RATIO")
	setDuration(&cfg.Risk.ValidityWindow, "ATOMBOT_RISK_VALIDITY_WINDOW")
	setInt(&cfg.Risk.MaxInflightPerPair, "ATOMBOT_RISK_MAX_INFLIGHT_PER_PAIR")
	setInt(&cfg.Risk.BreakerFailures, "ATOMBOT_RISK_BREAKER_FAILURES")
	setInt(&cfg.Risk.BreakerSuccesses, "ATOMBOT_RISK_BREAKER_SUCCESSES")
	setDuration(&cfg.Risk.BreakerCooldown, "ATOMBOT_RISK_BREAKER_COOLDOWN")
	setDuration(&cfg.Risk.BreakerWindow, "ATOMBOT_RISK_BREAKER_WINDOW")

	// ── Engine ──
	setInt(&cfg.Engine.Workers, "ATOMBOT_ENGINE_WORKERS")
	setStr(&cfg.Engine.BorrowAsset, "ATOMBOT_ENGINE_BORROW_ASSET")
	setInt(&cfg.Engine.BorrowDecimals, "ATOMBOT_ENGINE_BORROW_DECIMALS")
	setInt(&cfg.Engine.SubmitRetries, "ATOMBOT_ENGINE_SUBMIT_RETRIES")
	setDuration(&cfg.Engine.RetryBackoff, "ATOMBOT_ENGINE_RETRY_BACKOFF")
	setFloat64(&cfg.Engine.FlashFeeRatio, "ATOMBOT_ENGINE_FLASH_FEE_RATIO")
	setFloat64(&cfg.Engine.SlippageBuffer, "ATOMBOT_ENGINE_SLIPPAGE_BUFFER")
	setDuration(&cfg.Engine.DedupTTL, "ATOMBOT_ENGINE_DEDUP_TTL")

	// ── Telemetry ──
	setStr(&cfg.Telemetry.Stream, "ATOMBOT_TELEMETRY_STREAM")
	setStr(&cfg.Telemetry.Channel, "ATOMBOT_TELEMETRY_CHANNEL")
	setInt64(&cfg.Telemetry.MaxLen, "ATOMBOT_TELEMETRY_MAX_LEN")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "ATOMBOT_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "ATOMBOT_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "ATOMBOT_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ATOMBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ATOMBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ATOMBOT_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "ATOMBOT_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "ATOMBOT_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ATOMBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ATOMBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ATOMBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ATOMBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "ATOMBOT_MODE")
	setStr(&cfg.LogLevel, "ATOMBOT_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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
