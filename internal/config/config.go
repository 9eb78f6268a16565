// Package config implements the §6.3 configuration surface: a koanf-based
// loader with strict unknown-key rejection. Grounded on contextd's
// internal/config/loader.go (koanf.New(".") + yaml parser + rawbytes
// provider, defaults-then-validate sequencing), trimmed to a single
// in-process config tree — this is a library surface embedded by
// cmd/vectorcored, not a daemon with its own env-var precedence ladder,
// so the env.Provider layer from contextd is not carried forward.
package config

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/vectorcore/vectorcore/internal/graph"
	"github.com/vectorcore/vectorcore/internal/shardtree"
	"github.com/vectorcore/vectorcore/internal/storage"
)

// GraphConfig is the §6.3 graph.* section.
type GraphConfig struct {
	M              int `koanf:"m"`
	EfConstruction int `koanf:"ef_construction"`
	EfSearch       int `koanf:"ef_search"`
}

// ShardingConfig is the §6.3 sharding.* section.
type ShardingConfig struct {
	Enabled        bool    `koanf:"enabled"`
	TargetMax      int     `koanf:"target_max"`
	SoftLimitRatio float64 `koanf:"soft_limit_ratio"`
	HardLimitRatio float64 `koanf:"hard_limit_ratio"`
	Routing        string  `koanf:"routing"`
	SplitStrategy  string  `koanf:"split_strategy"`
	Rebalance      string  `koanf:"rebalance"`
}

// HybridConfig is the §6.3 hybrid.* section.
type HybridConfig struct {
	MaxExpansions int     `koanf:"max_expansions"`
	MMRLambda     float64 `koanf:"mmr_lambda"`
	RerankTopM    int     `koanf:"rerank_top_m"`
}

// PersistenceConfig is the §6.3 persistence.* section.
type PersistenceConfig struct {
	AutoSaveIntervalS int `koanf:"auto_save_interval_s"`
	WalFsyncEveryN    int `koanf:"wal_fsync_every_n"`
}

// Config is one collection's full §6.3 configuration surface.
type Config struct {
	Dimension   int               `koanf:"dimension"`
	Metric      string            `koanf:"metric"`
	Graph       GraphConfig       `koanf:"graph"`
	Storage     StorageConfig     `koanf:"storage"`
	Sharding    ShardingConfig    `koanf:"sharding"`
	Hybrid      HybridConfig      `koanf:"hybrid"`
	Persistence PersistenceConfig `koanf:"persistence"`
}

// StorageConfig is the §6.3 storage.* section.
type StorageConfig struct {
	Kind string `koanf:"kind"`
}

// Default returns the §6.3-documented defaults.
func Default() Config {
	return Config{
		Dimension: 0,
		Metric:    "cosine",
		Graph:     GraphConfig{M: 16, EfConstruction: 200, EfSearch: 64},
		Storage:   StorageConfig{Kind: "memory"},
		Sharding: ShardingConfig{
			Enabled: false, TargetMax: 10000, SoftLimitRatio: 0.95, HardLimitRatio: 1.0,
			Routing: "min_size", SplitStrategy: "hash", Rebalance: "background",
		},
		Hybrid:      HybridConfig{MaxExpansions: 8, MMRLambda: 0.7, RerankTopM: 64},
		Persistence: PersistenceConfig{AutoSaveIntervalS: 60, WalFsyncEveryN: 1},
	}
}

// LoadYAML loads data over the defaults, rejecting unknown keys (spec
// §6.3: "Unknown keys must be rejected at load to prevent silent
// misconfiguration").
func LoadYAML(data []byte) (Config, error) {
	cfg := Default()
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
		return Config{}, fmt.Errorf("config: parse yaml: %w", err)
	}
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag:       "koanf",
		FlatPaths: false,
	}); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.rejectUnknownKeys(k); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// rejectUnknownKeys walks every key koanf parsed and confirms it maps to
// a known field path, since koanf's plain Unmarshal silently ignores
// fields with no destination (unlike mapstructure's ErrorUnused, which
// koanf does not expose through UnmarshalWithConf's public knobs).
func (c Config) rejectUnknownKeys(k *koanf.Koanf) error {
	known := knownKeys()
	for _, key := range k.Keys() {
		if !known[key] {
			return fmt.Errorf("config: unknown key %q", key)
		}
	}
	return nil
}

func knownKeys() map[string]bool {
	keys := []string{
		"dimension", "metric",
		"graph.m", "graph.ef_construction", "graph.ef_search",
		"storage.kind",
		"sharding.enabled", "sharding.target_max", "sharding.soft_limit_ratio",
		"sharding.hard_limit_ratio", "sharding.routing", "sharding.split_strategy", "sharding.rebalance",
		"hybrid.max_expansions", "hybrid.mmr_lambda", "hybrid.rerank_top_m",
		"persistence.auto_save_interval_s", "persistence.wal_fsync_every_n",
	}
	out := make(map[string]bool, len(keys))
	for _, k := range keys {
		out[k] = true
	}
	return out
}

// Validate checks every §6.3-documented range constraint.
func (c Config) Validate() error {
	if c.Dimension <= 0 {
		return fmt.Errorf("config: dimension must be positive")
	}
	switch graph.Metric(c.Metric) {
	case graph.MetricCosine, graph.MetricEuclidean, graph.MetricDot:
	default:
		return fmt.Errorf("config: unknown metric %q", c.Metric)
	}
	switch storage.Kind(c.Storage.Kind) {
	case storage.KindMemory, storage.KindMmap:
	default:
		return fmt.Errorf("config: unknown storage.kind %q", c.Storage.Kind)
	}
	if c.Sharding.TargetMax < 1000 || c.Sharding.TargetMax > 100000 {
		return fmt.Errorf("config: sharding.target_max out of range [1000, 100000]")
	}
	if c.Sharding.SoftLimitRatio <= 0 || c.Sharding.SoftLimitRatio > 1 {
		return fmt.Errorf("config: sharding.soft_limit_ratio out of range (0, 1]")
	}
	if c.Sharding.HardLimitRatio <= c.Sharding.SoftLimitRatio || c.Sharding.HardLimitRatio > 1 {
		return fmt.Errorf("config: sharding.hard_limit_ratio must be in (soft_limit_ratio, 1]")
	}
	switch shardtree.RoutingStrategy(c.Sharding.Routing) {
	case shardtree.RoutingMinSize, shardtree.RoutingHashRange, shardtree.RoutingRoundRobin:
	default:
		return fmt.Errorf("config: unknown sharding.routing %q", c.Sharding.Routing)
	}
	switch shardtree.SplitStrategy(c.Sharding.SplitStrategy) {
	case shardtree.SplitHash, shardtree.SplitTwoMeans:
	default:
		return fmt.Errorf("config: unknown sharding.split_strategy %q", c.Sharding.SplitStrategy)
	}
	switch c.Sharding.Rebalance {
	case "none", "background", "eager":
	default:
		return fmt.Errorf("config: unknown sharding.rebalance %q", c.Sharding.Rebalance)
	}
	if c.Hybrid.MMRLambda < 0 || c.Hybrid.MMRLambda > 1 {
		return fmt.Errorf("config: hybrid.mmr_lambda out of range [0, 1]")
	}
	if c.Persistence.WalFsyncEveryN <= 0 {
		return fmt.Errorf("config: persistence.wal_fsync_every_n must be positive")
	}
	return nil
}
