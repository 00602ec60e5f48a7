package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeEnvFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	return path
}

func TestLoadEnvDeploymentFile(t *testing.T) {
	for _, key := range []string{"WEB3_NETWORK_NAME", "WEB3_PROVIDER_URI", "USER_PRIVATE_KEY", "PERPDEX_MARKET"} {
		unsetEnv(t, key)
	}
	path := writeEnvFile(t, ""+
		"# deployment\n"+
		"export WEB3_NETWORK_NAME=arbitrum-rinkeby\n"+
		"WEB3_PROVIDER_URI=\"https://rinkeby.arbitrum.io/rpc\"\n"+
		"USER_PRIVATE_KEY='0xabc'\n"+
		"PERPDEX_MARKET=ETH\n")
	if err := LoadEnv(path); err != nil {
		t.Fatalf("load env: %v", err)
	}
	expect := map[string]string{
		"WEB3_NETWORK_NAME": "arbitrum-rinkeby",
		"WEB3_PROVIDER_URI": "https://rinkeby.arbitrum.io/rpc",
		"USER_PRIVATE_KEY":  "0xabc",
		"PERPDEX_MARKET":    "ETH",
	}
	for key, want := range expect {
		if got := os.Getenv(key); got != want {
			t.Fatalf("%s expected %q, got %q", key, want, got)
		}
	}
}

func TestLoadEnvDoesNotOverrideExisting(t *testing.T) {
	t.Setenv("PERPDEX_MARKET", "BTC")
	path := writeEnvFile(t, "PERPDEX_MARKET=ETH\n")
	if err := LoadEnv(path); err != nil {
		t.Fatalf("load env: %v", err)
	}
	if got := os.Getenv("PERPDEX_MARKET"); got != "BTC" {
		t.Fatalf("PERPDEX_MARKET expected BTC, got %q", got)
	}
}

func TestLoadEnvMissingFile(t *testing.T) {
	if err := LoadEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("expected missing file to be ignored, got %v", err)
	}
}

func TestLoadEnvFeedsOverrides(t *testing.T) {
	unsetEnv(t, "WEB3_PROVIDER_URI")
	unsetEnv(t, "UNIT_LOT_SIZE")
	path := writeEnvFile(t, "WEB3_PROVIDER_URI=http://127.0.0.1:8545\nUNIT_LOT_SIZE=0.05\n")
	if err := LoadEnv(path); err != nil {
		t.Fatalf("load env: %v", err)
	}
	cfg := &Config{}
	if err := applyEnvOverrides(cfg); err != nil {
		t.Fatalf("apply overrides: %v", err)
	}
	if cfg.Chain.ProviderURI != "http://127.0.0.1:8545" || cfg.Strategy.Size.UnitLotSize != 0.05 {
		t.Fatalf("unexpected overrides: %+v", cfg.Chain)
	}
}

func unsetEnv(t *testing.T, key string) {
	t.Helper()
	if old, ok := os.LookupEnv(key); ok {
		t.Cleanup(func() { _ = os.Setenv(key, old) })
	} else {
		t.Cleanup(func() { _ = os.Unsetenv(key) })
	}
	_ = os.Unsetenv(key)
}
