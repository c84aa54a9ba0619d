package pbrtex

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// TierConfig names one resolution tier ("64x64") and its channel locators.
type TierConfig struct {
	Name     string            `yaml:"name"`
	Channels map[string]string `yaml:"channels"`
}

// MaterialConfig declares one material and its tiered texture sets.
type MaterialConfig struct {
	Id    string       `yaml:"id"`
	Tiers []TierConfig `yaml:"tiers"`
}

// Config is the streaming configuration surface:
//
//	materials:
//	  - id: pbrmat1
//	    tiers:
//	      - name: 64x64
//	        channels:
//	          albedo: pbrmat1/64/albedo.png
//	          normal: pbrmat1/64/normal.png
//	distance_thresholds: [30, 100]
//	hysteresis_margin: 10
//	memory_budget_bytes: 268435456
//	evict_every_ms: 2000
type Config struct {
	Materials          []MaterialConfig `yaml:"materials"`
	DistanceThresholds []float32        `yaml:"distance_thresholds"`
	HysteresisMargin   float32          `yaml:"hysteresis_margin"`
	MemoryBudgetBytes  uint64           `yaml:"memory_budget_bytes"`
	EvictEveryMillis   uint64           `yaml:"evict_every_ms"`
}

// LoadConfig reads and validates a YAML configuration file. Configuration
// errors are fatal here, before any cache or controller exists.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig unmarshals and validates YAML configuration bytes.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Materials) == 0 {
		return fmt.Errorf("config: no materials defined")
	}

	seen := make(map[string]bool, len(c.Materials))
	for _, mat := range c.Materials {
		if mat.Id == "" {
			return fmt.Errorf("config: material with empty id")
		}
		if seen[mat.Id] {
			return fmt.Errorf("config: duplicate material %q", mat.Id)
		}
		seen[mat.Id] = true

		if len(mat.Tiers) == 0 {
			return fmt.Errorf("config: material %q: no tiers", mat.Id)
		}
		tiers := make(map[Tier]bool, len(mat.Tiers))
		for _, tc := range mat.Tiers {
			tier, err := ParseTier(tc.Name)
			if err != nil {
				return fmt.Errorf("config: material %q: %w", mat.Id, err)
			}
			if tiers[tier] {
				return fmt.Errorf("config: material %q: duplicate tier %s", mat.Id, tier)
			}
			tiers[tier] = true

			if len(tc.Channels) == 0 {
				return fmt.Errorf("config: material %q tier %s: no channels", mat.Id, tier)
			}
			for name, locator := range tc.Channels {
				if name == "" || locator == "" {
					return fmt.Errorf("config: material %q tier %s: empty channel name or locator", mat.Id, tier)
				}
			}
		}
	}

	for i := 1; i < len(c.DistanceThresholds); i++ {
		if c.DistanceThresholds[i] <= c.DistanceThresholds[i-1] {
			return fmt.Errorf("config: distance_thresholds must be strictly ascending")
		}
	}
	if len(c.DistanceThresholds) > 0 && c.DistanceThresholds[0] <= 0 {
		return fmt.Errorf("config: distance_thresholds must be positive")
	}
	if c.HysteresisMargin < 0 {
		return fmt.Errorf("config: hysteresis_margin must be >= 0")
	}
	return nil
}

// Catalog builds the TierCatalog from the configured materials. Catalog
// construction re-checks the cross-tier channel-set invariant.
func (c *Config) Catalog() (*TierCatalog, error) {
	materials := make(map[MaterialId]map[Tier]ChannelSet, len(c.Materials))
	for _, mat := range c.Materials {
		tiers := make(map[Tier]ChannelSet, len(mat.Tiers))
		for _, tc := range mat.Tiers {
			tier, err := ParseTier(tc.Name)
			if err != nil {
				return nil, fmt.Errorf("config: material %q: %w", mat.Id, err)
			}
			channels := make(ChannelSet, len(tc.Channels))
			for name, locator := range tc.Channels {
				channels[name] = locator
			}
			tiers[tier] = channels
		}
		materials[MaterialId(mat.Id)] = tiers
	}
	return NewTierCatalog(materials)
}

// ControllerConfig extracts the controller's policy knobs.
func (c *Config) ControllerConfig() ControllerConfig {
	return ControllerConfig{
		Thresholds:        c.DistanceThresholds,
		HysteresisMargin:  c.HysteresisMargin,
		MemoryBudgetBytes: c.MemoryBudgetBytes,
		EvictEvery:        time.Duration(c.EvictEveryMillis) * time.Millisecond,
	}
}
