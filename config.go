package bufferpool

import (
	"fmt"

	"golang.org/x/exp/slices"
	"sigs.k8s.io/yaml"

	"github.com/sirixdb/sirix-go/internal/segment"
)

// fixedSizeClassNames is the operator-facing spelling of every size
// class the allocator serves, in ascending order. Not overridable: a
// Config naming anything outside this set, or naming only a subset,
// fails validation.
var fixedSizeClassNames = []string{"4K", "8K", "16K", "32K", "64K", "128K", "256K"}

// VersioningType selects the fragment-combination strategy (C6) used
// for every resource opened under a Config.
type VersioningType string

const (
	VersioningFull            VersioningType = "Full"
	VersioningIncremental     VersioningType = "Incremental"
	VersioningDifferential    VersioningType = "Differential"
	VersioningSlidingSnapshot VersioningType = "SlidingSnapshot"
)

// Config is the operator-facing configuration for one BufferManager,
// loadable from YAML via sigs.k8s.io/yaml (which re-marshals through
// encoding/json, hence the json tags).
type Config struct {
	PhysicalBudgetBytes int64          `json:"physical_budget_bytes"`
	SizeClasses         []string       `json:"size_classes"`
	SweeperIntervalMS   int            `json:"sweeper_interval_ms"`
	Shards              int            `json:"shards"`
	VersioningType      VersioningType `json:"versioning_type"`
	SlidingWindow       int            `json:"sliding_window,omitempty"`
}

// DefaultConfig returns the configuration spec.md §6 names as defaults:
// an 8 GiB budget, the full fixed size-class list, a 100ms sweeper
// interval, 64 shards, and full versioning.
func DefaultConfig() Config {
	return Config{
		PhysicalBudgetBytes: 8 << 30,
		SizeClasses:         append([]string(nil), fixedSizeClassNames...),
		SweeperIntervalMS:   100,
		Shards:              64,
		VersioningType:      VersioningFull,
	}
}

// LoadConfig parses YAML bytes into a Config seeded with DefaultConfig
// values for any field the document omits, then validates it.
func LoadConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("bufferpool: parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// validate checks every invariant spec.md §6's Configuration subsection
// requires: a budget that is a positive multiple of the largest size
// class, a size_classes list that names exactly the fixed set (order
// independent, duplicates rejected), and a recognized versioning type.
func (c Config) validate() error {
	largest := int64(segment.LargestClass.Bytes())
	if c.PhysicalBudgetBytes <= 0 || c.PhysicalBudgetBytes%largest != 0 {
		return fmt.Errorf("bufferpool: physical_budget_bytes %d must be a positive multiple of %d", c.PhysicalBudgetBytes, largest)
	}
	if len(c.SizeClasses) != len(fixedSizeClassNames) {
		return fmt.Errorf("bufferpool: size_classes must name exactly %v, got %v", fixedSizeClassNames, c.SizeClasses)
	}
	seen := make(map[string]bool, len(c.SizeClasses))
	for _, name := range c.SizeClasses {
		if !slices.Contains(fixedSizeClassNames, name) {
			return fmt.Errorf("bufferpool: size_classes entry %q is not one of the fixed classes %v", name, fixedSizeClassNames)
		}
		if seen[name] {
			return fmt.Errorf("bufferpool: size_classes entry %q repeated", name)
		}
		seen[name] = true
	}
	if c.SweeperIntervalMS <= 0 {
		return fmt.Errorf("bufferpool: sweeper_interval_ms must be positive, got %d", c.SweeperIntervalMS)
	}
	if c.Shards <= 0 || c.Shards&(c.Shards-1) != 0 {
		return fmt.Errorf("bufferpool: shards must be a positive power of two, got %d", c.Shards)
	}
	switch c.VersioningType {
	case VersioningFull, VersioningIncremental, VersioningDifferential:
	case VersioningSlidingSnapshot:
		if c.SlidingWindow <= 0 {
			return fmt.Errorf("bufferpool: sliding_window must be positive when versioning_type is SlidingSnapshot")
		}
	default:
		return fmt.Errorf("bufferpool: unrecognized versioning_type %q", c.VersioningType)
	}
	return nil
}
