// Package config loads the keeper's key/value configuration file and CLI
// flag overlay.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds every option needed to run the keeper, its HTTP API, and
// the Saturday distribution pipeline.
type Config struct {
	RPCURL              string `mapstructure:"rpc_url"`
	StreamURL           string `mapstructure:"stream_url"`
	CoreProgram         string `mapstructure:"core_program"`
	DistributionProgram string `mapstructure:"distribution_program"`
	KeeperKeyPath       string `mapstructure:"keeper_key_path"`
	FeeBpsOverride      *int   `mapstructure:"fee_bps_override"`
	Debug               bool   `mapstructure:"debug"`

	EventBufferSize  int `mapstructure:"event_buffer_size"`
	MaxRetries       int `mapstructure:"max_retries"`
	CooldownSlots    int `mapstructure:"cooldown_slots"`
	GlobalInflight   int `mapstructure:"global_inflight"`
	PerPoolInflight  int `mapstructure:"per_pool_inflight"`
	SaturdayHourUTC  int `mapstructure:"saturday_hour_utc"`
	DebounceSlots    int `mapstructure:"per_pool_safe_debounce_slots"`
	ConfirmTimeoutS  int `mapstructure:"confirm_timeout_seconds"`
	StreamIdleS      int `mapstructure:"stream_idle_timeout_seconds"`
	AddressBookPath  string `mapstructure:"address_book_path"`
	RecycleSlipBps   int    `mapstructure:"recycle_slippage_bps"`
	FeeRoverMints    []string `mapstructure:"fee_rover_mints"`

	HTTPAddr string `mapstructure:"http_addr"`

	// JitoEndpoint, when set, routes harvest transactions through a
	// tipped Jito bundle instead of plain sendTransaction.
	JitoEndpoint    string `mapstructure:"jito_endpoint"`
	JitoTipLamports uint64 `mapstructure:"jito_tip_lamports"`
}

func defaults() *viper.Viper {
	v := viper.New()
	v.SetDefault("rpc_url", "https://api.mainnet-beta.solana.com")
	v.SetDefault("stream_url", "wss://api.mainnet-beta.solana.com")
	v.SetDefault("debug", false)
	v.SetDefault("event_buffer_size", 100)
	v.SetDefault("max_retries", 3)
	v.SetDefault("cooldown_slots", 20)
	v.SetDefault("global_inflight", 8)
	v.SetDefault("per_pool_inflight", 2)
	v.SetDefault("saturday_hour_utc", 12)
	v.SetDefault("per_pool_safe_debounce_slots", 2)
	v.SetDefault("confirm_timeout_seconds", 60)
	v.SetDefault("stream_idle_timeout_seconds", 90)
	v.SetDefault("address_book_path", "./data/addressbook")
	v.SetDefault("recycle_slippage_bps", 100)
	v.SetDefault("http_addr", ":8787")
	v.SetDefault("jito_tip_lamports", 10_000)
	return v
}

// Load reads the config file at path (if non-empty), overlays environment
// variables prefixed KEEPER_, and overlays any bound CLI flags.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := defaults()
	v.SetEnvPrefix("keeper")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("rpc_url is required")
	}
	if c.CoreProgram == "" {
		return fmt.Errorf("core_program is required")
	}
	if c.DistributionProgram == "" {
		return fmt.Errorf("distribution_program is required")
	}
	if c.KeeperKeyPath == "" {
		return fmt.Errorf("keeper_key_path is required")
	}
	if c.GlobalInflight <= 0 || c.PerPoolInflight <= 0 {
		return fmt.Errorf("inflight limits must be positive")
	}
	if c.PerPoolInflight > c.GlobalInflight {
		return fmt.Errorf("per_pool_inflight cannot exceed global_inflight")
	}
	return nil
}

func (c *Config) ConfirmTimeout() time.Duration {
	return time.Duration(c.ConfirmTimeoutS) * time.Second
}

func (c *Config) StreamIdleTimeout() time.Duration {
	return time.Duration(c.StreamIdleS) * time.Second
}

func (c *Config) CooldownDuration() time.Duration {
	// Approximate slot time of 400ms.
	return time.Duration(c.CooldownSlots) * 400 * time.Millisecond
}
