package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{Chain: ChainConfig{NetworkName: "arbitrum-rinkeby", ProviderURI: "http://127.0.0.1:8545"}}
}

func TestDefaults(t *testing.T) {
	cfg := validConfig()
	applyDefaults(cfg)
	if cfg.Market.Symbol != "ETH" {
		t.Fatalf("expected symbol ETH, got %q", cfg.Market.Symbol)
	}
	if cfg.Market.Tick != 1 {
		t.Fatalf("expected tick 1, got %v", cfg.Market.Tick)
	}
	if cfg.Strategy.Price.Kind != PriceKindSimple {
		t.Fatalf("expected simple price kind, got %q", cfg.Strategy.Price.Kind)
	}
	if cfg.Strategy.Size.UnitLotSize != 0.01 {
		t.Fatalf("expected unit lot 0.01, got %v", cfg.Strategy.Size.UnitLotSize)
	}
	if cfg.Gateway.MaxAttempts != 3 {
		t.Fatalf("expected max attempts 3, got %d", cfg.Gateway.MaxAttempts)
	}
	if cfg.Gateway.DeadlineWindow != 2*time.Minute {
		t.Fatalf("expected deadline window 2m, got %v", cfg.Gateway.DeadlineWindow)
	}
	if cfg.Gateway.FeasibilityTries != 32 {
		t.Fatalf("expected 32 feasibility tries, got %d", cfg.Gateway.FeasibilityTries)
	}
	if cfg.Bot.HealthInterval != 10*time.Second {
		t.Fatalf("expected health interval 10s, got %v", cfg.Bot.HealthInterval)
	}
	if !cfg.Bot.RestartValue() {
		t.Fatalf("expected restart enabled by default")
	}
	if cfg.Chain.ABIDir != "/app/deps/perpdex-contract/deployments/arbitrum-rinkeby" {
		t.Fatalf("expected abi dir derived from network, got %q", cfg.Chain.ABIDir)
	}
	if !cfg.Metrics.EnabledValue() || cfg.Metrics.Path != "/metrics" {
		t.Fatalf("unexpected metrics defaults: %+v", cfg.Metrics)
	}
	if err := validate(cfg); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}

func TestRestartFalseRespected(t *testing.T) {
	restart := false
	cfg := validConfig()
	cfg.Bot.Restart = &restart
	applyDefaults(cfg)
	if cfg.Bot.RestartValue() {
		t.Fatalf("expected restart=false to be preserved")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WEB3_NETWORK_NAME", "optimism")
	t.Setenv("WEB3_PROVIDER_URI", "wss://node.example")
	t.Setenv("USER_PRIVATE_KEY", "0xabc")
	t.Setenv("PERPDEX_MARKET", "BTC")
	t.Setenv("PERPDEX_MARKET_INVERSE", "1")
	t.Setenv("UNIT_LOT_SIZE", "0.5")
	t.Setenv("PRICE_BAR_NUM", "50")
	t.Setenv("PRICE_BAR_DIFF_K", "1.5")
	t.Setenv("BINANCE_SPOT_SYMBOL", "BTC/USDT")
	cfg := &Config{}
	if err := applyEnvOverrides(cfg); err != nil {
		t.Fatalf("env overrides: %v", err)
	}
	applyDefaults(cfg)
	if cfg.Chain.NetworkName != "optimism" || cfg.Chain.ProviderURI != "wss://node.example" || cfg.Chain.PrivateKey != "0xabc" {
		t.Fatalf("unexpected chain config: %+v", cfg.Chain)
	}
	if cfg.Market.Symbol != "BTC" || !cfg.Market.Inverse {
		t.Fatalf("unexpected market config: %+v", cfg.Market)
	}
	if cfg.Strategy.Size.UnitLotSize != 0.5 {
		t.Fatalf("expected lot 0.5, got %v", cfg.Strategy.Size.UnitLotSize)
	}
	if cfg.Strategy.Price.TimePeriod != 50 || cfg.Strategy.Price.DiffK != 1.5 {
		t.Fatalf("unexpected price config: %+v", cfg.Strategy.Price)
	}
	if cfg.Candles.Symbol != "BTC/USDT" {
		t.Fatalf("expected candle symbol BTC/USDT, got %q", cfg.Candles.Symbol)
	}
}

func TestEnvOverridesRejectInvalidNumbers(t *testing.T) {
	t.Setenv("UNIT_LOT_SIZE", "lots")
	if err := applyEnvOverrides(&Config{}); err == nil {
		t.Fatalf("expected error for invalid UNIT_LOT_SIZE")
	}
}

func TestValidateRejectsUnknownPriceKind(t *testing.T) {
	cfg := validConfig()
	cfg.Strategy.Price.Kind = "martingale"
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for unknown price kind")
	}
}

func TestValidateBandNeedsEnoughCandles(t *testing.T) {
	cfg := validConfig()
	cfg.Strategy.Price.Kind = PriceKindRollingBand
	cfg.Strategy.Price.TimePeriod = 200
	cfg.Candles.Limit = 100
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error when candle limit is below timeperiod")
	}
}

func TestValidateRejectsNegativeLot(t *testing.T) {
	cfg := validConfig()
	cfg.Strategy.Size.UnitLotSize = -1
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for negative unit lot")
	}
}

func TestValidateRejectsSlippageOutOfRange(t *testing.T) {
	slippage := 1.5
	cfg := validConfig()
	cfg.Gateway.MaxSlippage = &slippage
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for max slippage >= 1")
	}
}

func TestValidateRequiresProvider(t *testing.T) {
	cfg := &Config{Chain: ChainConfig{NetworkName: "mumbai"}}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for missing provider uri")
	}
}

func TestValidateRejectsTelegramEnabledWithoutConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Telegram.Enabled = true
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for missing telegram token/chat_id")
	}
}

func TestLoadFromFile(t *testing.T) {
	t.Setenv("WEB3_PROVIDER_URI", "")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "" +
		"chain:\n" +
		"  network_name: zksync2-testnet\n" +
		"  provider_uri: https://zksync.example\n" +
		"  abi_dir: /tmp/abi\n" +
		"market:\n" +
		"  symbol: BTC\n" +
		"strategy:\n" +
		"  price:\n" +
		"    kind: atr_band\n" +
		"    timeperiod: 14\n" +
		"    diff_k: 0.5\n" +
		"bot:\n" +
		"  trade_interval: 15s\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Strategy.Price.Kind != PriceKindATRBand || cfg.Strategy.Price.TimePeriod != 14 {
		t.Fatalf("unexpected price config: %+v", cfg.Strategy.Price)
	}
	if cfg.Bot.TradeInterval != 15*time.Second {
		t.Fatalf("expected trade interval 15s, got %v", cfg.Bot.TradeInterval)
	}
	if cfg.Chain.ABIDir != "/tmp/abi" {
		t.Fatalf("expected explicit abi dir, got %q", cfg.Chain.ABIDir)
	}
}
