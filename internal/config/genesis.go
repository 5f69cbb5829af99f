package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/0x-verse/verse-core/internal/market"
	"github.com/0x-verse/verse-core/pkg/types"
)

// GenesisConfig is the one-time, hand-edited table a new exchange instance
// is launched with: the leverage tier schedule (§4.7, immutable after
// genesis) and the starting fee rates. Loaded independently of the
// runtime Config so operators can version and review it separately from
// day-to-day operational knobs.
type GenesisConfig struct {
	FeeBaseBps  types.Bps          `yaml:"fee_base_bps"`
	FeeSlopeBps types.Bps          `yaml:"fee_slope_bps"`
	Tiers       []GenesisTier      `yaml:"leverage_tiers"`
}

// GenesisTier is one row of the leverage tier schedule.
type GenesisTier struct {
	MinCoverageBps types.Bps `yaml:"min_coverage_bps"`
	MaxLeverage    uint32    `yaml:"max_leverage"`
}

// LoadGenesisConfig loads the genesis table from a YAML file.
func LoadGenesisConfig(path string) (*GenesisConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis config: %w", err)
	}
	var cfg GenesisConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse genesis YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveGenesisConfig writes the genesis table to a YAML file.
func SaveGenesisConfig(cfg *GenesisConfig, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal genesis config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write genesis config: %w", err)
	}
	return nil
}

// Validate checks the tier schedule is well-formed: strictly increasing
// coverage thresholds, each with leverage >= the previous tier's (§4.7:
// more coverage never unlocks less leverage).
func (g *GenesisConfig) Validate() error {
	if len(g.Tiers) == 0 {
		return fmt.Errorf("genesis config: at least one leverage tier is required")
	}
	var prevCoverage types.Bps = -1
	var prevLeverage uint32
	for i, t := range g.Tiers {
		if t.MinCoverageBps <= prevCoverage {
			return fmt.Errorf("genesis config: tier %d min_coverage_bps must strictly increase", i)
		}
		if t.MaxLeverage < prevLeverage {
			return fmt.Errorf("genesis config: tier %d max_leverage must not decrease", i)
		}
		prevCoverage = t.MinCoverageBps
		prevLeverage = t.MaxLeverage
	}
	return nil
}

// BuildGlobalConfig constructs the genesis market.GlobalConfig from this
// table.
func (g *GenesisConfig) BuildGlobalConfig() *market.GlobalConfig {
	tiers := make([]market.LeverageTier, len(g.Tiers))
	for i, t := range g.Tiers {
		tiers[i] = market.LeverageTier{MinCoverageBps: t.MinCoverageBps, MaxLeverage: t.MaxLeverage}
	}
	return market.NewGlobalConfig(g.FeeBaseBps, g.FeeSlopeBps, tiers)
}
