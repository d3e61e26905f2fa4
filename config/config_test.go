package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const defaultConfig = `
store_dir:		store
format_version:		2
general_delta:		true
`

func TestValidConfig(t *testing.T) {
	cfg := loadOrFail(t, defaultConfig)
	assert.Equal(t, "store", cfg.StoreDir)
	assert.Equal(t, 2, cfg.FormatVersion)
	assert.True(t, cfg.GeneralDelta)
	assert.Equal(t, DeltaReuseSameRevs, cfg.DefaultDeltaReuse)
}

func TestEmptyConfig(t *testing.T) {
	cfg := loadOrFail(t, "")
	assert.Equal(t, DefaultStoreDir, cfg.StoreDir)
	assert.Equal(t, 2, cfg.FormatVersion)
	assert.Equal(t, DefaultChainLengthMax, cfg.ChainLengthMax)
	assert.Equal(t, DefaultFragmentationRatio, cfg.FragmentationRatio)
	assert.Contains(t, cfg.Requires, "revlogv2")
}

func TestFormatVersionOne(t *testing.T) {
	const cfgStr = `
format_version: 1
general_delta: false
`
	cfg := loadOrFail(t, cfgStr)
	assert.Equal(t, 1, cfg.FormatVersion)
	assert.False(t, cfg.GeneralDelta)
}

func TestDeltaReuseOverride(t *testing.T) {
	const cfgStr = `
default_delta_reuse: always
`
	cfg := loadOrFail(t, cfgStr)
	assert.Equal(t, DeltaReuseAlways, cfg.DefaultDeltaReuse)
}

func TestInvalidFormatVersion(t *testing.T) {
	ensureFail(t, "format_version: 7", "format_version out of range")
}

func TestInvalidChainLength(t *testing.T) {
	ensureFail(t, "chain_length_max: -1", "chain_length_max must be positive")
}

func TestInvalidFragmentationRatio(t *testing.T) {
	ensureFail(t, "fragmentation_ratio: 0", "fragmentation_ratio must be in (0,1]")
}

func TestInvalidDeltaReuse(t *testing.T) {
	ensureFail(t, "default_delta_reuse: sometimes", "unknown delta reuse mode")
}

func TestInvalidCompressionEngine(t *testing.T) {
	ensureFail(t, "compression_engine: lzma", "unknown compression engine")
}

func ensureFail(t *testing.T, cfgString string, desc string) {
	_, err := Unmarshal([]byte(cfgString))
	if err == nil {
		t.Fatalf("Expected config err not found: %s", desc)
	}
	t.Logf("Config err: %v", err.Error())
}

func loadOrFail(t *testing.T, cfgString string) *Config {
	cfg, err := Unmarshal([]byte(cfgString))
	if err != nil {
		t.Fatalf("Failed to read config: %v", err.Error())
	}
	return cfg
}
