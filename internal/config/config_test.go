package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Defaults()
	cfg.Chains = map[string]ChainConfig{
		"137": {
			Endpoints:   []string{"https://polygon-rpc.example.com"},
			LenderVault: "0xBA12222222228d8Ba445958a75a0704d566BF2C8",
			NativeUSD:   0.55,
			Tokens: []TokenConfig{
				{Symbol: "USDC", Address: "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174", Decimals: 6, USDPrice: 1, Tier: 1, Loanable: true},
				{Symbol: "WETH", Address: "0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619", Decimals: 18, USDPrice: 2000, Tier: 1},
			},
			Venues: []VenueConfig{
				{Name: "quickswap", Address: "0x853Ee4b2A13f8a742d64C8F088bE7bA2131f670d", Router: "0xa5E0829CaCEd8fFDD4De3c43696c57F7D7A678ff", Kind: "constant_product", FeeBps: 30, Token0: "USDC", Token1: "WETH"},
			},
		},
	}
	return &cfg
}

func TestDefaultsAreValidWithChains(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidateCollectsEveryError(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "yolo"
	cfg.LogLevel = "loud"
	cfg.Loan.MaxTVLFraction = 1.5
	cfg.Profit.GasCeilingGwei = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "unknown log_level")
	assert.Contains(t, err.Error(), "max_loan_fraction_of_tvl")
	assert.Contains(t, err.Error(), "gas_ceiling_gwei")
}

func TestValidateRequiresChains(t *testing.T) {
	cfg := validConfig()
	cfg.Chains = nil
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one chain")
}

func TestValidateRequiresLoanableToken(t *testing.T) {
	cfg := validConfig()
	cc := cfg.Chains["137"]
	cc.Tokens[0].Loanable = false
	cfg.Chains["137"] = cc

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no loanable token")
}

func TestValidateRequiresNativePrice(t *testing.T) {
	cfg := validConfig()
	cc := cfg.Chains["137"]
	cc.NativeUSD = 0
	cfg.Chains["137"] = cc

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "native_usd_price")
}

func TestValidateRejectsUnknownVenueKind(t *testing.T) {
	cfg := validConfig()
	cc := cfg.Chains["137"]
	cc.Venues[0].Kind = "order_book"
	cfg.Chains["137"] = cc

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown kind")
}

func TestValidateWalletRequiredForLiveExecution(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "execute"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet")

	cfg.Wallet.PrivateKey = "4c0883a69102937d6231471b5dbb6204fe51296170827936ea5cce4b76994b0f"
	require.NoError(t, cfg.Validate())

	// Paper full mode needs no key.
	cfg = validConfig()
	cfg.Mode = "full"
	cfg.Execution.Paper = true
	require.NoError(t, cfg.Validate())
}

func TestValidateSignalDirsMustDiffer(t *testing.T) {
	cfg := validConfig()
	cfg.Signals.ProcessedDir = cfg.Signals.OutgoingDir
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must differ")
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "monitor"
log_level = "debug"

[scanner]
interval = "10s"
max_hops = 3

[profit]
min_profit_usd = 25.0

[chains.137]
endpoints = ["https://polygon-rpc.example.com"]
lender_vault = "0xBA12222222228d8Ba445958a75a0704d566BF2C8"
native_usd_price = 0.55

[[chains.137.tokens]]
symbol = "USDC"
address = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"
decimals = 6
usd_price = 1.0
tier = 1
loanable = true
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.Scanner.Interval.Duration)
	assert.Equal(t, 3, cfg.Scanner.MaxHops)
	assert.Equal(t, 25.0, cfg.Profit.MinProfitUSD)
	// Untouched sections keep their defaults.
	assert.Equal(t, 0.20, cfg.Loan.MaxTVLFraction)
	assert.Equal(t, 16, cfg.Scanner.Concurrency)

	cc, ok := cfg.Chains["137"]
	require.True(t, ok)
	assert.Equal(t, 0.55, cc.NativeUSD)
	require.Len(t, cc.Tokens, 1)
	assert.True(t, cc.Tokens[0].Loanable)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`mode = "scan"`), 0o644))

	t.Setenv("TITAN_MODE", "monitor")
	t.Setenv("TITAN_PROFIT_MIN_PROFIT_USD", "42.5")
	t.Setenv("TITAN_SCANNER_INTERVAL", "250ms")
	t.Setenv("TITAN_EXECUTION_PAPER", "false")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, 42.5, cfg.Profit.MinProfitUSD)
	assert.Equal(t, 250*time.Millisecond, cfg.Scanner.Interval.Duration)
	assert.False(t, cfg.Execution.Paper)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
