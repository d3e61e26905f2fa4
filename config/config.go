// Package config loads the store-level configuration for the revlog engine:
// where the store lives, which on-disk format new revlogs are created with,
// and the delta/compression policy defaults that drive append and upgrade.
package config

import (
	"fmt"
	"os"
	"strings"

	yaml "gopkg.in/yaml.v2"
)

// DeltaReuseMode names one of the delta-selection policies add_revision and
// the upgrade engine choose between.
type DeltaReuseMode string

const (
	DeltaReuseFullAdd DeltaReuseMode = "full-add"
	DeltaReuseSameRevs DeltaReuseMode = "same-revs"
	DeltaReuseNoDelta DeltaReuseMode = "no-delta"
	DeltaReuseAlways DeltaReuseMode = "always"
)

const DefaultStoreDir = "store"
const DefaultChainLengthMax = 1000
const DefaultDeltaSpanRatio = 4.0
const DefaultFragmentationRatio = 0.25

// Config describes how a store root is opened and how new revlogs within it
// are created and maintained.
type Config struct {
	// StoreDir is the path, relative to the repository root, holding the
	// revlog files (index/data/docket) and the requires/fncache files.
	StoreDir string `yaml:"store_dir"`

	// FormatVersion is the default revlog format new revlogs are created
	// with: 1 (v1, inline header) or 2 (v2, docket-addressed).
	FormatVersion int `yaml:"format_version"`

	// GeneralDelta enables delta bases against any ancestor rather than
	// only the previous revision.
	GeneralDelta bool `yaml:"general_delta"`

	// SparseRevlog enables the sparse-revlog requirement token on new
	// stores; it does not change engine behaviour beyond that token.
	SparseRevlog bool `yaml:"sparse_revlog"`

	// PersistentNodemap controls whether newly created v2 revlogs persist
	// their node map as a companion .nd blob.
	PersistentNodemap bool `yaml:"persistent_nodemap"`

	// ChainLengthMax bounds the delta chain length (invariant I2).
	ChainLengthMax int `yaml:"chain_length_max"`

	// DeltaSpanRatio is a "smallest delta exceeds compressed_full_size *
	// ratio" fallback-to-full-text threshold. It is validated here, but the
	// revlog append path does not consult it: a delta is stored only when
	// its encoded form is shorter than the full text.
	DeltaSpanRatio float64 `yaml:"delta_span_ratio"`

	// FragmentationRatio governs the node map's full-vs-incremental
	// persistence choice (see DESIGN.md's Open Question decision).
	FragmentationRatio float64 `yaml:"fragmentation_ratio"`

	// DefaultDeltaReuse names a delta-reuse policy. It is validated here, but
	// neither AddRevision (which takes its mode as an argument) nor the
	// upgrade engine (which maps an unrecognised optimisation-set entry to
	// "always") reads it.
	DefaultDeltaReuse DeltaReuseMode `yaml:"default_delta_reuse"`

	// CompressionEngine names the engine used to compress newly written
	// payloads: "zlib", "zstd", "snappy", or "none".
	CompressionEngine string `yaml:"compression_engine"`

	// Requires is the initial requirement-token set written for a new
	// repository (see spec §6 "Known requirement tokens").
	Requires []string `yaml:"requires"`
}

// Unmarshal parses YAML bytes into a Config, applying defaults for any
// field left unset and validating the result.
func Unmarshal(raw []byte) (*Config, error) {
	cfg := &Config{
		StoreDir:           DefaultStoreDir,
		FormatVersion:      2,
		GeneralDelta:       true,
		PersistentNodemap:  true,
		ChainLengthMax:     DefaultChainLengthMax,
		DeltaSpanRatio:     DefaultDeltaSpanRatio,
		FragmentationRatio: DefaultFragmentationRatio,
		DefaultDeltaReuse:  DeltaReuseSameRevs,
		CompressionEngine:  "zlib",
		Requires:           []string{"revlogv2", "generaldelta", "store", "fncache", "persistent-nodemap"},
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v. make sure to use 'single quotes' around strings with special characters", err.Error())
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFile loads and parses a config file from disk.
func LoadConfigFile(filename string) (*Config, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to load %v: %v", filename, err.Error())
	}
	cfg, err := LoadConfigString(content)
	if err != nil {
		return nil, fmt.Errorf("failed to load %v: %v", filename, err.Error())
	}
	return cfg, nil
}

// LoadConfigString parses a config from an in-memory byte string.
func LoadConfigString(content []byte) (*Config, error) {
	return Unmarshal(content)
}

func (c *Config) validate() error {
	if c.FormatVersion != 1 && c.FormatVersion != 2 {
		return fmt.Errorf("format_version must be 1 or 2, got %d", c.FormatVersion)
	}
	if c.ChainLengthMax <= 0 {
		return fmt.Errorf("chain_length_max must be positive, got %d", c.ChainLengthMax)
	}
	if c.DeltaSpanRatio <= 0 {
		return fmt.Errorf("delta_span_ratio must be positive, got %v", c.DeltaSpanRatio)
	}
	if c.FragmentationRatio <= 0 || c.FragmentationRatio > 1 {
		return fmt.Errorf("fragmentation_ratio must be in (0, 1], got %v", c.FragmentationRatio)
	}
	switch c.DefaultDeltaReuse {
	case DeltaReuseFullAdd, DeltaReuseSameRevs, DeltaReuseNoDelta, DeltaReuseAlways:
	default:
		return fmt.Errorf("unknown default_delta_reuse '%s'", c.DefaultDeltaReuse)
	}
	switch strings.ToLower(c.CompressionEngine) {
	case "zlib", "zstd", "snappy", "none":
	default:
		return fmt.Errorf("unknown compression_engine '%s'", c.CompressionEngine)
	}
	return nil
}
