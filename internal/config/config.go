// Package config defines the exchange core's runtime configuration.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive/operational fields overridable via VERSE_* environment
// variables, using viper with mapstructure tags.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level runtime configuration. Maps directly to the
// YAML file structure.
type Config struct {
	Fees       FeesConfig       `mapstructure:"fees"`
	Solvency   SolvencyConfig   `mapstructure:"solvency"`
	Liquidity  LiquidityConfig  `mapstructure:"liquidity"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Oracle     OracleConfig     `mapstructure:"oracle"`
}

// FeesConfig sets the platform fee schedule (§4.10): a base rate plus a
// slope term. The maker/staker/vault split is fixed in internal/position
// and is not configured here.
type FeesConfig struct {
	BaseBps  int64 `mapstructure:"base_bps"`
	SlopeBps int64 `mapstructure:"slope_bps"`
}

// SolvencyConfig tunes the coverage-ratio breakers and congestion gate
// (§4.9): the thresholds at which trading halts, resumes, or the platform
// enters emergency shutdown.
type SolvencyConfig struct {
	CoverageHaltBps      int64         `mapstructure:"coverage_halt_bps"`
	CoverageResumeBps    int64         `mapstructure:"coverage_resume_bps"`
	CoverageCriticalBps  int64         `mapstructure:"coverage_critical_bps"`
	PriceDeviationBps    int64         `mapstructure:"price_deviation_bps"`
	PriceCooldownSlots   uint64        `mapstructure:"price_cooldown_slots"`
	VolumeStdMultiplier  int64         `mapstructure:"volume_std_multiplier"`
	VolumeCooldownSlots  uint64        `mapstructure:"volume_cooldown_slots"`
	CongestionCapacity   int64         `mapstructure:"congestion_capacity"`
	CongestionRatePerSlot int64        `mapstructure:"congestion_rate_per_slot"`
	OracleFailureThreshold uint32      `mapstructure:"oracle_failure_threshold"`
	OracleBreakerTimeout time.Duration `mapstructure:"oracle_breaker_timeout"`
}

// LiquidityConfig seeds each AMM engine's default liquidity parameter at
// market creation, one knob per engine kind (§4.2-§4.4).
type LiquidityConfig struct {
	LMSRDefaultB    float64 `mapstructure:"lmsr_default_b"`
	PMAMMDefaultK   float64 `mapstructure:"pmamm_default_k"`
	L2AMMDefaultL   float64 `mapstructure:"l2amm_default_l"`
	L2AMMDefaultBins int    `mapstructure:"l2amm_default_bins"`
}

// StorageConfig holds the durable-state backends (§6): a Postgres DSN for
// the snapshot store and a Redis address for the oracle read-through
// cache.
type StorageConfig struct {
	PostgresDSN   string        `mapstructure:"postgres_dsn"`
	PostgresTimeout time.Duration `mapstructure:"postgres_timeout"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisTTL      time.Duration `mapstructure:"redis_ttl"`
}

// LoggingConfig sets the slog output level and format.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// OracleConfig holds only the default oracle signer address. There is no
// per-feed signer table and no staleness tolerance setting here.
type OracleConfig struct {
	DefaultSignerAddress string `mapstructure:"default_signer_address"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive/operational fields use env vars: VERSE_POSTGRES_DSN,
// VERSE_REDIS_ADDR, VERSE_ORACLE_DEFAULT_SIGNER_ADDRESS.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("VERSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if dsn := os.Getenv("VERSE_POSTGRES_DSN"); dsn != "" {
		cfg.Storage.PostgresDSN = dsn
	}
	if addr := os.Getenv("VERSE_REDIS_ADDR"); addr != "" {
		cfg.Storage.RedisAddr = addr
	}
	if signer := os.Getenv("VERSE_ORACLE_DEFAULT_SIGNER_ADDRESS"); signer != "" {
		cfg.Oracle.DefaultSignerAddress = signer
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Fees.BaseBps < 0 {
		return fmt.Errorf("fees.base_bps must be >= 0")
	}
	if c.Solvency.CoverageHaltBps <= 0 {
		return fmt.Errorf("solvency.coverage_halt_bps must be > 0")
	}
	if c.Solvency.CoverageResumeBps <= c.Solvency.CoverageHaltBps {
		return fmt.Errorf("solvency.coverage_resume_bps must exceed coverage_halt_bps")
	}
	if c.Solvency.CoverageCriticalBps >= c.Solvency.CoverageHaltBps {
		return fmt.Errorf("solvency.coverage_critical_bps must be below coverage_halt_bps")
	}
	if c.Liquidity.LMSRDefaultB <= 0 {
		return fmt.Errorf("liquidity.lmsr_default_b must be > 0")
	}
	if c.Liquidity.L2AMMDefaultBins < 2 {
		return fmt.Errorf("liquidity.l2amm_default_bins must be >= 2")
	}
	if c.Storage.PostgresDSN == "" {
		return fmt.Errorf("storage.postgres_dsn is required (set VERSE_POSTGRES_DSN)")
	}
	return nil
}
