// Package config defines the engine's configuration surface. Config is
// loaded from a YAML file (default: configs/config.yaml) with sensitive
// fields overridable via PERP_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML structure.
type Config struct {
	PaperMode     bool            `mapstructure:"paper_mode"`
	TickIntervalS float64         `mapstructure:"tick_interval_s"`
	BaseURL       string          `mapstructure:"base_url"`
	L4ServerURL   string          `mapstructure:"l4_server_url"`
	Wallet        WalletConfig    `mapstructure:"wallet"`
	Trading       TradingConfig   `mapstructure:"trading"`
	Recording     RecordingConfig `mapstructure:"recording"`
	Logging       LoggingConfig   `mapstructure:"logging"`
}

// WalletConfig holds the wallet used to sign orders sent to the venue.
type WalletConfig struct {
	SecretKey      string `mapstructure:"secret_key"`
	AccountAddress string `mapstructure:"account_address"`
	VaultAddress   string `mapstructure:"vault_address"`
}

// TradingConfig controls which symbols are traded and the account's
// leverage/margin posture.
type TradingConfig struct {
	Coins              []string `mapstructure:"coins"`
	Leverage           int      `mapstructure:"leverage"`
	IsCross            bool     `mapstructure:"is_cross"`
	MaxPositionUSD     float64  `mapstructure:"max_position_usd"`
	TerminalRetentionS float64  `mapstructure:"terminal_retention_s"`
}

// RecordingConfig controls the recorder's file sinks.
type RecordingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	OutputDir    string `mapstructure:"output_dir"`
	Format       string `mapstructure:"format"`
	RecordL2     bool   `mapstructure:"record_l2"`
	RecordL4     bool   `mapstructure:"record_l4"`
	RecordTrades bool   `mapstructure:"record_trades"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TickInterval returns TickIntervalS as a time.Duration.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalS * float64(time.Second))
}

// Symbols returns the configured trading coins as plain strings.
func (c *Config) Symbols() []string {
	return c.Trading.Coins
}

// TerminalRetention returns how long a terminal order stays in the
// tracking maps before cleanup_terminal drops it.
func (c *Config) TerminalRetention() time.Duration {
	return time.Duration(c.Trading.TerminalRetentionS * float64(time.Second))
}

func defaults(v *viper.Viper) {
	v.SetDefault("paper_mode", false)
	v.SetDefault("tick_interval_s", 1.0)
	v.SetDefault("trading.leverage", 20)
	v.SetDefault("trading.is_cross", true)
	v.SetDefault("trading.max_position_usd", 1000)
	v.SetDefault("trading.terminal_retention_s", 300)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("recording.enabled", false)
	v.SetDefault("recording.output_dir", "data")
	v.SetDefault("recording.format", "jsonl")
	v.SetDefault("recording.record_l2", true)
	v.SetDefault("recording.record_l4", true)
	v.SetDefault("recording.record_trades", true)
}

// Load reads config from a YAML file with PERP_* env var overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("PERP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	defaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("PERP_WALLET_SECRET_KEY"); key != "" {
		cfg.Wallet.SecretKey = key
	}
	if addr := os.Getenv("PERP_WALLET_ACCOUNT_ADDRESS"); addr != "" {
		cfg.Wallet.AccountAddress = addr
	}
	if os.Getenv("PERP_PAPER_MODE") == "true" || os.Getenv("PERP_PAPER_MODE") == "1" {
		cfg.PaperMode = true
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if len(c.Trading.Coins) == 0 {
		return fmt.Errorf("trading.coins must list at least one symbol")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if c.TickIntervalS <= 0 {
		return fmt.Errorf("tick_interval_s must be > 0")
	}
	if c.Trading.MaxPositionUSD <= 0 {
		return fmt.Errorf("trading.max_position_usd must be > 0")
	}
	if !c.PaperMode {
		if c.Wallet.SecretKey == "" {
			return fmt.Errorf("wallet.secret_key is required in live mode (set PERP_WALLET_SECRET_KEY)")
		}
		if c.Wallet.AccountAddress == "" {
			return fmt.Errorf("wallet.account_address is required in live mode")
		}
	}
	return nil
}
