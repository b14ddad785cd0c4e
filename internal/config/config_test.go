package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
paper_mode: true
tick_interval_s: 0.5
base_url: "https://api.example.com"
trading:
  coins: ["BTC", "ETH"]
  max_position_usd: 2000
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, sampleYAML)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Trading.Leverage != 20 {
		t.Errorf("Leverage = %d, want default 20", cfg.Trading.Leverage)
	}
	if !cfg.Trading.IsCross {
		t.Error("IsCross should default to true")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want default %q", cfg.Logging.Level, "info")
	}
	if cfg.Trading.MaxPositionUSD != 2000 {
		t.Errorf("MaxPositionUSD = %v, want 2000 (from file, not default)", cfg.Trading.MaxPositionUSD)
	}
	if cfg.Trading.TerminalRetentionS != 300 {
		t.Errorf("TerminalRetentionS = %v, want default 300", cfg.Trading.TerminalRetentionS)
	}
	if cfg.TerminalRetention() != 300*time.Second {
		t.Errorf("TerminalRetention() = %v, want 300s", cfg.TerminalRetention())
	}
}

func TestLoadEnvOverridesSecretKey(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	t.Setenv("PERP_WALLET_SECRET_KEY", "0xdeadbeef")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Wallet.SecretKey != "0xdeadbeef" {
		t.Errorf("Wallet.SecretKey = %q, want overridden value", cfg.Wallet.SecretKey)
	}
}

func TestValidateRequiresCoins(t *testing.T) {
	t.Parallel()
	cfg := &Config{BaseURL: "https://x", TickIntervalS: 1, Trading: TradingConfig{MaxPositionUSD: 100}, PaperMode: true}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should fail with no coins configured")
	}
}

func TestValidateLiveModeRequiresWallet(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		BaseURL:       "https://x",
		TickIntervalS: 1,
		PaperMode:     false,
		Trading:       TradingConfig{Coins: []string{"BTC"}, MaxPositionUSD: 100},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should fail without wallet credentials in live mode")
	}
}

func TestValidatePaperModeSkipsWallet(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		BaseURL:       "https://x",
		TickIntervalS: 1,
		PaperMode:     true,
		Trading:       TradingConfig{Coins: []string{"BTC"}, MaxPositionUSD: 100},
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil in paper mode without wallet", err)
	}
}
