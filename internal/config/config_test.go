package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_ParsesYamlAndAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
rpc: "https://example.invalid"
executionHfThresholdBps: 9750
readEndpoints:
  - "https://rpc1.invalid"
  - "https://rpc2.invalid"
minDebtUsd: 250
minProfitUsd: 10
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9750, cfg.ExecutionHfThresholdBps)
	assert.Equal(t, []string{"https://rpc1.invalid", "https://rpc2.invalid"}, cfg.ReadEndpoints)
	assert.Equal(t, 250.0, cfg.MinDebtUsd)
	// Defaults fill in values absent from the YAML.
	assert.Equal(t, 50, cfg.HysteresisBps)
	assert.Equal(t, CloseFactorFixed50, cfg.CloseFactor)
	assert.Equal(t, 2, cfg.MaxBumps)
}

func TestLoadConfig_MissingFileErrors(t *testing.T) {
	_, err := LoadConfig("/nonexistent/config.yml")
	assert.Error(t, err)
}

func TestDurationHelpers_ConvertMillisecondFields(t *testing.T) {
	cfg := &Config{SnapshotTtlMs: 500, FirstBumpDelayMs: 2000}
	assert.Equal(t, 500*time.Millisecond, cfg.SnapshotTTL())
	assert.Equal(t, 2*time.Second, cfg.FirstBumpDelay())
}

func TestLoadRatioTable_ParsesTomlSections(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ratios.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[aliases]
WETH = "ETH"
WMATIC = "MATIC"

[derivedAssets]
cbETH = "ETH"

[ratioFeeds.stETH]
baseSymbol = "ETH"
ratio = 1.0
`), 0o600))

	table, err := LoadRatioTable(path)
	require.NoError(t, err)
	assert.Equal(t, "ETH", table.Aliases["WETH"])
	assert.Equal(t, "ETH", table.DerivedAssets["cbETH"])
	assert.Equal(t, "ETH", table.RatioFeeds["stETH"].BaseSymbol)
	assert.Equal(t, 1.0, table.RatioFeeds["stETH"].Ratio)
}

func TestLoadSecrets_MissingEnvFileErrors(t *testing.T) {
	err := LoadSecrets("/nonexistent/.env")
	assert.Error(t, err)
}
