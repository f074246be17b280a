// Package config defines the top-level configuration for the titan arbitrage
// core and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by TITAN_* environment variables.
type Config struct {
	Wallet    WalletConfig           `toml:"wallet"`
	Chains    map[string]ChainConfig `toml:"chains"` // keyed by decimal chain id
	Scanner   ScannerConfig          `toml:"scanner"`
	Profit    ProfitConfig           `toml:"profit"`
	Loan      LoanConfig             `toml:"loan"`
	Execution ExecutionConfig        `toml:"execution"`
	Breaker   BreakerConfig          `toml:"circuit_breaker"`
	Signals   SignalsConfig          `toml:"signals"`
	Postgres  PostgresConfig         `toml:"postgres"`
	Redis     RedisConfig            `toml:"redis"`
	S3        S3Config               `toml:"s3"`
	Notify    NotifyConfig           `toml:"notify"`
	Mode      string                 `toml:"mode"`
	LogLevel  string                 `toml:"log_level"`
}

// WalletConfig holds the signer key material.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	// Address, when set, must match the address the key derives to.
	Address string `toml:"address"`
}

// ChainConfig describes one scannable network: its ranked RPC endpoints, the
// flash-loan lender vault, and the token/venue inventory the route graph is
// built from.
type ChainConfig struct {
	Endpoints   []string `toml:"endpoints"`
	WSEndpoint  string   `toml:"ws_endpoint"` // optional pool-event feed
	LenderVault string   `toml:"lender_vault"`
	// Executor contract addresses. Paired handles 1-2 hop constant-product
	// routes; General handles everything. Optional in paper mode.
	ExecutorPaired  string        `toml:"executor_paired"`
	ExecutorGeneral string        `toml:"executor_general"`
	NativeUSD       float64       `toml:"native_usd_price"` // reference price of the gas coin
	Tokens          []TokenConfig `toml:"tokens"`
	Venues          []VenueConfig `toml:"venues"`
}

// TokenConfig describes an ERC-20 on one chain. Tier controls scan cadence:
// tier 1 every cycle, tier 2 every 2nd, tier 3 every 5th.
type TokenConfig struct {
	Symbol   string  `toml:"symbol"`
	Address  string  `toml:"address"`
	Decimals int     `toml:"decimals"`
	USDPrice float64 `toml:"usd_price"`
	Tier     int     `toml:"tier"`
	Loanable bool    `toml:"loanable"`
}

// VenueConfig describes a pool edge between two tokens.
type VenueConfig struct {
	Name    string `toml:"name"`
	Address string `toml:"address"`
	Router  string `toml:"router"`
	Kind    string `toml:"kind"` // constant_product | concentrated_liquidity | stable_swap | weighted
	FeeBps  int    `toml:"fee_bps"`
	Token0  string `toml:"token0"` // symbol
	Token1  string `toml:"token1"` // symbol
}

// ScannerConfig holds the scan-loop parameters.
type ScannerConfig struct {
	Interval        duration `toml:"interval"`
	CycleBudget     duration `toml:"cycle_budget"`
	Concurrency     int      `toml:"concurrency"`
	MaxHops         int      `toml:"max_hops"`
	ReserveCacheTTL duration `toml:"reserve_cache_ttl"`
	RequestTimeout  duration `toml:"request_timeout"`
}

// ProfitConfig holds the evaluation gates.
type ProfitConfig struct {
	GasCeilingGwei   float64 `toml:"gas_ceiling_gwei"`
	MinProfitUSD     float64 `toml:"min_profit_usd"`
	MinProfitBps     float64 `toml:"min_profit_bps"`
	MaxSlippageBps   float64 `toml:"max_slippage_bps"`
	MaxPoolImpactBps float64 `toml:"max_pool_impact_bps"`
	FlatFeeUSD       float64 `toml:"flat_fee_usd"`
	LoanRateBps      float64 `toml:"loan_rate_bps"`
	GasLimitPerSwap  uint64  `toml:"gas_limit_per_swap"`
}

// LoanConfig holds flash-loan sizing parameters.
type LoanConfig struct {
	MaxTVLFraction float64 `toml:"max_loan_fraction_of_tvl"`
	MinLoanUSD     float64 `toml:"min_loan_usd"`
	MaxLoanUSD     float64 `toml:"max_loan_usd"`
	SearchBudget   int     `toml:"search_budget"`
}

// ExecutionConfig holds transaction-lifecycle parameters.
type ExecutionConfig struct {
	Paper           bool     `toml:"paper"`
	GasSafetyFactor float64  `toml:"gas_safety_factor"`
	PriorityFeeGwei float64  `toml:"priority_fee_gwei"`
	DeadlineWindow  duration `toml:"deadline_window"`
	ConfirmTimeout  duration `toml:"confirm_timeout"`
	ReceiptInterval duration `toml:"receipt_interval"`
	SignalTTL       duration `toml:"signal_ttl"`
}

// BreakerConfig holds circuit-breaker thresholds per failure domain.
type BreakerConfig struct {
	Threshold  int      `toml:"circuit_breaker_threshold"`
	Cooldown   duration `toml:"circuit_breaker_cooldown"`
	MaxBackoff duration `toml:"max_backoff"`
}

// SignalsConfig holds the file-handoff boundary directories.
type SignalsConfig struct {
	OutgoingDir  string   `toml:"outgoing_dir"`
	ProcessedDir string   `toml:"processed_dir"`
	Retention    duration `toml:"retention"`
}

// PostgresConfig holds database connection parameters. Leave DSN and Host
// empty to run without persistence.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible archive storage parameters.
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

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5s", "250ms").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings.
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
		Chains: map[string]ChainConfig{},
		Scanner: ScannerConfig{
			Interval:        duration{5 * time.Second},
			CycleBudget:     duration{4 * time.Second},
			Concurrency:     16,
			MaxHops:         4,
			ReserveCacheTTL: duration{3 * time.Second},
			RequestTimeout:  duration{3 * time.Second},
		},
		Profit: ProfitConfig{
			GasCeilingGwei:   150,
			MinProfitUSD:     5.0,
			MinProfitBps:     10,
			MaxSlippageBps:   50,
			MaxPoolImpactBps: 200,
			FlatFeeUSD:       0,
			LoanRateBps:      0,
			GasLimitPerSwap:  150_000,
		},
		Loan: LoanConfig{
			MaxTVLFraction: 0.20,
			MinLoanUSD:     500,
			MaxLoanUSD:     250_000,
			SearchBudget:   24,
		},
		Execution: ExecutionConfig{
			Paper:           true,
			GasSafetyFactor: 1.2,
			PriorityFeeGwei: 2,
			DeadlineWindow:  duration{30 * time.Second},
			ConfirmTimeout:  duration{90 * time.Second},
			ReceiptInterval: duration{2 * time.Second},
			SignalTTL:       duration{30 * time.Second},
		},
		Breaker: BreakerConfig{
			Threshold:  10,
			Cooldown:   duration{30 * time.Second},
			MaxBackoff: duration{2 * time.Minute},
		},
		Signals: SignalsConfig{
			OutgoingDir:  "signals/outgoing",
			ProcessedDir: "signals/processed",
			Retention:    duration{24 * time.Hour},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "titan",
			User:          "titan",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "titan-archive",
			ForcePathStyle: true,
		},
		Notify: NotifyConfig{
			Events: []string{"circuit_open", "endpoint_loss", "execution_confirmed", "execution_reverted"},
		},
		Mode:     "scan",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"scan":    true,
	"execute": true,
	"monitor": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validVenueKinds = map[string]bool{
	"constant_product":       true,
	"concentrated_liquidity": true,
	"stable_swap":            true,
	"weighted":               true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found. Configuration errors are
// fatal at startup only; nothing else in the core terminates the process.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: scan, execute, monitor, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	needsWallet := c.Mode == "execute" || (c.Mode == "full" && !c.Execution.Paper)
	if needsWallet {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	if len(c.Chains) == 0 {
		errs = append(errs, "chains: at least one chain must be configured")
	}
	for id, cc := range c.Chains {
		if len(cc.Endpoints) == 0 {
			errs = append(errs, fmt.Sprintf("chains.%s: endpoints must not be empty", id))
		}
		if len(cc.Tokens) == 0 {
			errs = append(errs, fmt.Sprintf("chains.%s: tokens must not be empty", id))
		}
		if cc.NativeUSD <= 0 {
			errs = append(errs, fmt.Sprintf("chains.%s: native_usd_price must be > 0", id))
		}
		loanable := false
		symbols := make(map[string]bool, len(cc.Tokens))
		for _, t := range cc.Tokens {
			symbols[t.Symbol] = true
			if t.Loanable {
				loanable = true
			}
			if t.Decimals <= 0 || t.Decimals > 36 {
				errs = append(errs, fmt.Sprintf("chains.%s: token %s decimals %d out of range", id, t.Symbol, t.Decimals))
			}
		}
		if !loanable && len(cc.Tokens) > 0 {
			errs = append(errs, fmt.Sprintf("chains.%s: no loanable token configured", id))
		}
		for _, v := range cc.Venues {
			if !validVenueKinds[v.Kind] {
				errs = append(errs, fmt.Sprintf("chains.%s: venue %s has unknown kind %q", id, v.Name, v.Kind))
			}
			if !symbols[v.Token0] || !symbols[v.Token1] {
				errs = append(errs, fmt.Sprintf("chains.%s: venue %s references unknown token symbol", id, v.Name))
			}
			if v.FeeBps < 0 || v.FeeBps >= 10000 {
				errs = append(errs, fmt.Sprintf("chains.%s: venue %s fee_bps %d out of range", id, v.Name, v.FeeBps))
			}
		}
	}

	if c.Scanner.Concurrency < 1 {
		errs = append(errs, "scanner: concurrency must be >= 1")
	}
	if c.Scanner.MaxHops < 1 || c.Scanner.MaxHops > 5 {
		errs = append(errs, fmt.Sprintf("scanner: max_hops must be 1-5, got %d", c.Scanner.MaxHops))
	}
	if c.Scanner.CycleBudget.Duration > c.Scanner.Interval.Duration {
		errs = append(errs, "scanner: cycle_budget must not exceed interval")
	}

	if c.Profit.GasCeilingGwei <= 0 {
		errs = append(errs, "profit: gas_ceiling_gwei must be > 0")
	}
	if c.Profit.MinProfitUSD < 0 {
		errs = append(errs, "profit: min_profit_usd must be >= 0")
	}
	if c.Profit.MinProfitBps < 0 {
		errs = append(errs, "profit: min_profit_bps must be >= 0")
	}
	if c.Profit.MaxSlippageBps <= 0 {
		errs = append(errs, "profit: max_slippage_bps must be > 0")
	}

	if c.Loan.MaxTVLFraction <= 0 || c.Loan.MaxTVLFraction > 1 {
		errs = append(errs, fmt.Sprintf("loan: max_loan_fraction_of_tvl must be in (0, 1], got %v", c.Loan.MaxTVLFraction))
	}
	if c.Loan.MinLoanUSD <= 0 {
		errs = append(errs, "loan: min_loan_usd must be > 0")
	}
	if c.Loan.MaxLoanUSD < c.Loan.MinLoanUSD {
		errs = append(errs, "loan: max_loan_usd must be >= min_loan_usd")
	}
	if c.Loan.SearchBudget < 1 {
		errs = append(errs, "loan: search_budget must be >= 1")
	}

	if c.Execution.GasSafetyFactor < 1 {
		errs = append(errs, "execution: gas_safety_factor must be >= 1")
	}
	if c.Execution.DeadlineWindow.Duration <= 0 {
		errs = append(errs, "execution: deadline_window must be > 0")
	}

	if c.Breaker.Threshold < 1 {
		errs = append(errs, "circuit_breaker: circuit_breaker_threshold must be >= 1")
	}
	if c.Breaker.Cooldown.Duration <= 0 {
		errs = append(errs, "circuit_breaker: circuit_breaker_cooldown must be > 0")
	}

	if c.Signals.OutgoingDir == "" || c.Signals.ProcessedDir == "" {
		errs = append(errs, "signals: outgoing_dir and processed_dir must not be empty")
	}
	if c.Signals.OutgoingDir == c.Signals.ProcessedDir {
		errs = append(errs, "signals: outgoing_dir and processed_dir must differ")
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" && c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
	}
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
