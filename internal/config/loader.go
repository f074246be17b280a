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
// built-in defaults, applies TITAN_* environment variable overrides, and
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

// applyEnvOverrides reads well-known TITAN_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "TITAN_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "TITAN_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "TITAN_WALLET_KEY_PASSWORD")
	setStr(&cfg.Wallet.Address, "TITAN_WALLET_ADDRESS")

	// ── Scanner ──
	setInt(&cfg.Scanner.Concurrency, "TITAN_SCANNER_CONCURRENCY")
	setInt(&cfg.Scanner.MaxHops, "TITAN_SCANNER_MAX_HOPS")
	setDur(&cfg.Scanner.Interval, "TITAN_SCANNER_INTERVAL")
	setDur(&cfg.Scanner.CycleBudget, "TITAN_SCANNER_CYCLE_BUDGET")

	// ── Profit gates ──
	setFloat64(&cfg.Profit.GasCeilingGwei, "TITAN_PROFIT_GAS_CEILING_GWEI")
	setFloat64(&cfg.Profit.MinProfitUSD, "TITAN_PROFIT_MIN_PROFIT_USD")
	setFloat64(&cfg.Profit.MinProfitBps, "TITAN_PROFIT_MIN_PROFIT_BPS")
	setFloat64(&cfg.Profit.MaxSlippageBps, "TITAN_PROFIT_MAX_SLIPPAGE_BPS")

	// ── Loan sizing ──
	setFloat64(&cfg.Loan.MaxTVLFraction, "TITAN_LOAN_MAX_TVL_FRACTION")
	setFloat64(&cfg.Loan.MinLoanUSD, "TITAN_LOAN_MIN_LOAN_USD")
	setFloat64(&cfg.Loan.MaxLoanUSD, "TITAN_LOAN_MAX_LOAN_USD")

	// ── Execution ──
	setBool(&cfg.Execution.Paper, "TITAN_EXECUTION_PAPER")
	setFloat64(&cfg.Execution.GasSafetyFactor, "TITAN_EXECUTION_GAS_SAFETY_FACTOR")
	setFloat64(&cfg.Execution.PriorityFeeGwei, "TITAN_EXECUTION_PRIORITY_FEE_GWEI")
	setDur(&cfg.Execution.DeadlineWindow, "TITAN_EXECUTION_DEADLINE_WINDOW")

	// ── Circuit breaker ──
	setInt(&cfg.Breaker.Threshold, "TITAN_BREAKER_THRESHOLD")
	setDur(&cfg.Breaker.Cooldown, "TITAN_BREAKER_COOLDOWN")

	// ── Signals ──
	setStr(&cfg.Signals.OutgoingDir, "TITAN_SIGNALS_OUTGOING_DIR")
	setStr(&cfg.Signals.ProcessedDir, "TITAN_SIGNALS_PROCESSED_DIR")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "TITAN_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "TITAN_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "TITAN_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TITAN_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TITAN_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TITAN_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TITAN_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TITAN_POSTGRES_SSL_MODE")
	setBool(&cfg.Postgres.RunMigrations, "TITAN_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "TITAN_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "TITAN_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TITAN_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TITAN_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "TITAN_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "TITAN_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "TITAN_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TITAN_S3_REGION")
	setStr(&cfg.S3.Bucket, "TITAN_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TITAN_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TITAN_S3_SECRET_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TITAN_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TITAN_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TITAN_NOTIFY_DISCORD_WEBHOOK_URL")

	// ── Top-level ──
	setStr(&cfg.Mode, "TITAN_MODE")
	setStr(&cfg.LogLevel, "TITAN_LOG_LEVEL")
}

// setStr overwrites dst when the environment variable is set and non-empty.
func setStr(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*dst = b
		}
	}
}

func setDur(dst *duration, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			dst.Duration = d
		}
	}
}
