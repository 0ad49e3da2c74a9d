package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"indexlab/pkg/common"
)

type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Index   IndexConfig   `yaml:"index"`
	Log     LogConfig     `yaml:"log"`
}

type StorageConfig struct {
	Path string `yaml:"path"` // data directory, holds catalog.db and every index file
}

type IndexConfig struct {
	DefaultKind        string `yaml:"default_kind"` // kind used for an unbound primary key
	ISAMBlockFactor    int    `yaml:"isam_block_factor"`
	ISAMFanout         int    `yaml:"isam_fanout"`
	BPTreeFanout       int    `yaml:"bptree_fanout"`
	HashBucketCapacity int    `yaml:"hash_bucket_capacity"`
	HashMaxChain       int    `yaml:"hash_max_chain"`
	HashInitialDepth   int    `yaml:"hash_initial_depth"`
	HashMaxDepth       int    `yaml:"hash_max_depth"`
	RTreeMaxEntries    int    `yaml:"rtree_max_entries"`
	RTreeMinEntries    int    `yaml:"rtree_min_entries"`
	ScanLimit          int    `yaml:"scan_limit"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Path: "indexlab_data",
		},
		Index: IndexConfig{
			DefaultKind:        string(common.KindBPTree),
			ISAMBlockFactor:    8,
			ISAMFanout:         16,
			BPTreeFanout:       16,
			HashBucketCapacity: 4,
			HashMaxChain:       2,
			HashInitialDepth:   1,
			HashMaxDepth:       20,
			RTreeMaxEntries:    8,
			ScanLimit:          200,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath == "" {
		for _, p := range []string{"configs/indexlab.yaml", "indexlab.yaml"} {
			data, err := os.ReadFile(p)
			if err == nil {
				if err := yaml.Unmarshal(data, cfg); err != nil {
					return cfg, err
				}
				return cfg, applyDefaults(cfg)
			}
		}
		return cfg, applyDefaults(cfg) // no file found: use defaults
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return cfg, err
	}

	return cfg, applyDefaults(cfg)
}

func applyDefaults(cfg *Config) error {
	def := Default()
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = def.Storage.Path
	}
	if cfg.Index.DefaultKind == "" {
		cfg.Index.DefaultKind = def.Index.DefaultKind
	}
	kind, err := common.ParseKind(cfg.Index.DefaultKind)
	if err != nil {
		return fmt.Errorf("config: index.default_kind: %w", err)
	}
	if kind == common.KindRTree {
		return fmt.Errorf("config: index.default_kind cannot be %s", kind)
	}
	cfg.Index.DefaultKind = string(kind)

	positive := func(v *int, d int) {
		if *v <= 0 {
			*v = d
		}
	}
	positive(&cfg.Index.ISAMBlockFactor, def.Index.ISAMBlockFactor)
	positive(&cfg.Index.ISAMFanout, def.Index.ISAMFanout)
	positive(&cfg.Index.BPTreeFanout, def.Index.BPTreeFanout)
	positive(&cfg.Index.HashBucketCapacity, def.Index.HashBucketCapacity)
	positive(&cfg.Index.HashInitialDepth, def.Index.HashInitialDepth)
	positive(&cfg.Index.HashMaxDepth, def.Index.HashMaxDepth)
	positive(&cfg.Index.RTreeMaxEntries, def.Index.RTreeMaxEntries)
	positive(&cfg.Index.ScanLimit, def.Index.ScanLimit)
	// zero is a valid chain length: full buckets split at once
	if cfg.Index.HashMaxChain < 0 {
		cfg.Index.HashMaxChain = def.Index.HashMaxChain
	}
	if cfg.Index.HashInitialDepth > cfg.Index.HashMaxDepth {
		return fmt.Errorf("config: hash_initial_depth %d exceeds hash_max_depth %d",
			cfg.Index.HashInitialDepth, cfg.Index.HashMaxDepth)
	}

	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)
	if cfg.Log.Format != "json" {
		cfg.Log.Format = def.Log.Format
	}
	return nil
}
