package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

// Config is the daemon's TOML configuration. A missing file yields the
// defaults; a present file only needs the keys it wants to override.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Storage  StorageConfig  `toml:"storage"`
	Protocol ProtocolConfig `toml:"protocol"`
	Oracle   OracleConfig   `toml:"oracle"`
}

// ServerConfig holds the ops HTTP surface settings.
type ServerConfig struct {
	ListenAddress string `toml:"listen"`
	Environment   string `toml:"environment"`
	LogFile       string `toml:"log_file"`
}

// StorageConfig selects the state database backend.
type StorageConfig struct {
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
}

// ProtocolConfig carries the engine addresses and launch parameters. Token
// amounts are decimal strings so they survive TOML's integer range.
type ProtocolConfig struct {
	BaseToken             string `toml:"base_token"`
	ShareToken            string `toml:"share_token"`
	GovToken              string `toml:"gov_token"`
	ModuleAccount         string `toml:"module_account"`
	Treasury              string `toml:"treasury"`
	BaseProfitTargetWad   int64  `toml:"base_profit_target_wad"`
	BaseBorrowRateWad     int64  `toml:"base_borrow_rate_wad"`
	RewardIntervalSeconds int64  `toml:"reward_interval_seconds"`
	RewardableSupply      string `toml:"rewardable_supply"`
	TargetReward          string `toml:"target_reward"`
	LiquidatorThreshold   string `toml:"liquidator_threshold"`
	FlashLoanFeeBps       uint64 `toml:"flash_loan_fee_bps"`
}

// OracleConfig carries the aggregator validation thresholds.
type OracleConfig struct {
	FreshnessSeconds        int64 `toml:"freshness_threshold_seconds"`
	VolatilityWindowSeconds int64 `toml:"volatility_window_seconds"`
	VolatilityPercentage    int64 `toml:"volatility_percentage"`
	CircuitBreakerPct       int64 `toml:"circuit_breaker_percentage"`
	MinimumOracles          uint8 `toml:"minimum_oracles"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress: ":8080",
			Environment:   "dev",
		},
		Storage: StorageConfig{
			Backend: "memory",
		},
		Protocol: ProtocolConfig{
			BaseProfitTargetWad:   10_000, // 1%
			BaseBorrowRateWad:     60_000, // 6%
			RewardIntervalSeconds: 180 * 24 * 60 * 60,
			RewardableSupply:      "100000000000",
			TargetReward:          "2000000000",
			LiquidatorThreshold:   "20000000000000000000000",
			FlashLoanFeeBps:       9,
		},
		Oracle: OracleConfig{
			FreshnessSeconds:        8 * 60 * 60,
			VolatilityWindowSeconds: 60 * 60,
			VolatilityPercentage:    20,
			CircuitBreakerPct:       50,
			MinimumOracles:          1,
		},
	}
}

// Load reads the configuration file, applying defaults for anything the file
// leaves unset. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate applies the same bounds the engine enforces on its parameters so
// a bad file fails at boot rather than on the first privileged call.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "", "memory":
	case "leveldb", "bbolt":
		if strings.TrimSpace(c.Storage.Path) == "" {
			return fmt.Errorf("config: storage backend %q requires a path", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}
	for name, addr := range map[string]string{
		"base_token":     c.Protocol.BaseToken,
		"share_token":    c.Protocol.ShareToken,
		"gov_token":      c.Protocol.GovToken,
		"module_account": c.Protocol.ModuleAccount,
		"treasury":       c.Protocol.Treasury,
	} {
		if addr != "" && !common.IsHexAddress(addr) {
			return fmt.Errorf("config: protocol %s is not a hex address", name)
		}
	}
	if c.Protocol.BaseProfitTargetWad < 2_500 {
		return fmt.Errorf("config: base profit target below 0.25%%")
	}
	if c.Protocol.BaseBorrowRateWad < 10_000 {
		return fmt.Errorf("config: base borrow rate below 1%%")
	}
	if c.Protocol.RewardIntervalSeconds < 90*24*60*60 {
		return fmt.Errorf("config: reward interval below 90 days")
	}
	if _, err := c.amount(c.Protocol.RewardableSupply); err != nil {
		return fmt.Errorf("config: rewardable supply: %w", err)
	}
	if _, err := c.amount(c.Protocol.TargetReward); err != nil {
		return fmt.Errorf("config: target reward: %w", err)
	}
	if _, err := c.amount(c.Protocol.LiquidatorThreshold); err != nil {
		return fmt.Errorf("config: liquidator threshold: %w", err)
	}
	if c.Protocol.FlashLoanFeeBps > 100 {
		return fmt.Errorf("config: flash loan fee above 100 bps")
	}
	if c.Oracle.FreshnessSeconds < 15*60 || c.Oracle.FreshnessSeconds > 24*60*60 {
		return fmt.Errorf("config: oracle freshness outside [15m, 24h]")
	}
	if c.Oracle.VolatilityWindowSeconds < 5*60 || c.Oracle.VolatilityWindowSeconds > 4*60*60 {
		return fmt.Errorf("config: oracle volatility window outside [5m, 4h]")
	}
	if c.Oracle.VolatilityPercentage < 5 || c.Oracle.VolatilityPercentage > 30 {
		return fmt.Errorf("config: oracle volatility percentage outside [5, 30]")
	}
	if c.Oracle.CircuitBreakerPct < 25 || c.Oracle.CircuitBreakerPct > 70 {
		return fmt.Errorf("config: circuit breaker percentage outside [25, 70]")
	}
	return nil
}

func (c *Config) amount(v string) (*big.Int, error) {
	if strings.TrimSpace(v) == "" {
		return big.NewInt(0), nil
	}
	parsed, ok := new(big.Int).SetString(v, 10)
	if !ok || parsed.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", v)
	}
	return parsed, nil
}

// RewardableSupplyAmount returns the parsed rewardable-supply floor.
func (c *Config) RewardableSupplyAmount() (*big.Int, error) {
	return c.amount(c.Protocol.RewardableSupply)
}

// TargetRewardAmount returns the parsed full-interval reward.
func (c *Config) TargetRewardAmount() (*big.Int, error) {
	return c.amount(c.Protocol.TargetReward)
}

// LiquidatorThresholdAmount returns the parsed liquidator governance bar.
func (c *Config) LiquidatorThresholdAmount() (*big.Int, error) {
	return c.amount(c.Protocol.LiquidatorThreshold)
}
