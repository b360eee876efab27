// Package config loads the engine configuration from an optional YAML file
// plus COLLATERAL_-prefixed environment variables, with sane defaults for
// every knob. Built on spf13/viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full configuration surface of the collateral engine.
type Config struct {
	Port string `mapstructure:"port"`

	DatabaseURL string        `mapstructure:"database_url"`
	RedisURL    string        `mapstructure:"redis_url"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`

	// Owner may reset the circuit breaker and is always an authorized
	// processor. Processors may run manual strategies before T1.
	Owner      string   `mapstructure:"owner"`
	Processors []string `mapstructure:"processors"`

	// Ratio clamp window in basis points. 15000 = 150%.
	RatioMinBps int64 `mapstructure:"ratio_min_bps"`
	RatioMaxBps int64 `mapstructure:"ratio_max_bps"`

	// Forced-default mint parameters (Strategy 2).
	DefaultRatioBps   int64 `mapstructure:"default_ratio_bps"`
	DefaultConfidence int64 `mapstructure:"default_confidence"`

	// Timeout ladder: manual strategies at T1, emergency withdrawal at T2,
	// owner vault bypass at T3.
	ManualTimeout      time.Duration `mapstructure:"manual_timeout"`
	EmergencyTimeout   time.Duration `mapstructure:"emergency_timeout"`
	VaultBypassTimeout time.Duration `mapstructure:"vault_bypass_timeout"`

	// Circuit breaker.
	FailureThreshold uint          `mapstructure:"failure_threshold"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`

	// Primary fulfillment retry budget before the request is left to the
	// timeout ladder.
	MaxRetries int `mapstructure:"max_retries"`

	// Automation sweep batch size (users examined per scan).
	SweepBatchSize int `mapstructure:"sweep_batch_size"`

	// Deposit exposure caps in USD; "0" disables a cap.
	MaxDepositUSD string `mapstructure:"max_deposit_usd"`
	MaxPendingUSD string `mapstructure:"max_pending_usd"`

	// Valuation gateway.
	PriceStaleness  time.Duration `mapstructure:"price_staleness"`
	SupportedAssets []string      `mapstructure:"supported_assets"`
	// Per-asset fallback prices (8-decimal USD), used when the feed is
	// absent, stale, or out of bounds.
	FallbackPrices map[string]string `mapstructure:"fallback_prices"`
}

// Load reads configuration from the given file path (optional, "" skips the
// file) and the environment, applying defaults for everything unset.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("COLLATERAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("cache_ttl", 30*time.Second)
	v.SetDefault("owner", "owner")

	v.SetDefault("ratio_min_bps", 12500)
	v.SetDefault("ratio_max_bps", 20000)
	v.SetDefault("default_ratio_bps", 15500)
	v.SetDefault("default_confidence", 50)

	v.SetDefault("manual_timeout", 30*time.Minute)
	v.SetDefault("emergency_timeout", 2*time.Hour)
	v.SetDefault("vault_bypass_timeout", 4*time.Hour)

	v.SetDefault("failure_threshold", 5)
	v.SetDefault("breaker_cooldown", time.Hour)
	v.SetDefault("max_retries", 3)

	v.SetDefault("sweep_batch_size", 10)
	v.SetDefault("max_deposit_usd", "1000000")
	v.SetDefault("max_pending_usd", "5000000")

	v.SetDefault("price_staleness", time.Hour)
	v.SetDefault("supported_assets", []string{"WBTC", "WETH", "USDC"})
	v.SetDefault("fallback_prices", map[string]string{
		"WBTC": "60000",
		"WETH": "3000",
		"USDC": "1",
	})
}

// Validate rejects configurations that would break the engine's invariants.
func (c *Config) Validate() error {
	if c.RatioMinBps <= 0 || c.RatioMaxBps < c.RatioMinBps {
		return fmt.Errorf("invalid ratio window [%d,%d]", c.RatioMinBps, c.RatioMaxBps)
	}
	if c.DefaultRatioBps < c.RatioMinBps || c.DefaultRatioBps > c.RatioMaxBps {
		return fmt.Errorf("default ratio %d outside window [%d,%d]",
			c.DefaultRatioBps, c.RatioMinBps, c.RatioMaxBps)
	}
	if c.ManualTimeout <= 0 || c.EmergencyTimeout < c.ManualTimeout || c.VaultBypassTimeout < c.EmergencyTimeout {
		return fmt.Errorf("timeout ladder must be ordered: %s <= %s <= %s",
			c.ManualTimeout, c.EmergencyTimeout, c.VaultBypassTimeout)
	}
	if c.FailureThreshold == 0 {
		return fmt.Errorf("failure_threshold must be positive")
	}
	if c.SweepBatchSize <= 0 {
		return fmt.Errorf("sweep_batch_size must be positive")
	}
	return nil
}

// IsProcessor reports whether caller is the owner or a configured processor.
func (c *Config) IsProcessor(caller string) bool {
	if caller == c.Owner {
		return true
	}
	for _, p := range c.Processors {
		if p == caller {
			return true
		}
	}
	return false
}
