// Package config loads the primary runtime configuration (YAML), the
// static ratio-feed/alias/derived-asset tables (TOML), and local secrets
// (.env) into the full key set every liqbot component needs.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// CloseFactorPolicy mirrors intent.CloseFactorPolicy without importing it,
// keeping config a leaf package every other package may depend on.
type CloseFactorPolicy string

const (
	CloseFactorFixed50 CloseFactorPolicy = "fixed50"
	CloseFactorFull    CloseFactorPolicy = "full"
)

// RPCPool is one list of RPC endpoint URLs for a pool role.
type RPCPool struct {
	URLs []string `yaml:"urls"`
}

// Config is the full set of runtime knobs for every liqbot component,
// loaded from a primary YAML file.
type Config struct {
	// RPC pools
	ReadEndpoints  []string `yaml:"readEndpoints"`
	WriteEndpoints []string `yaml:"writeEndpoints"`
	RelayEndpoint  string   `yaml:"relayEndpoint"`

	// HealthResolver / hysteresis
	ExecutionHfThresholdBps int `yaml:"executionHfThresholdBps"`
	HysteresisBps           int `yaml:"hysteresisBps"`
	SnapshotTtlMs           int `yaml:"snapshotTtlMs"`
	CacheTtlMs              int `yaml:"cacheTtlMs"`
	HedgeDelayMs            int `yaml:"hedgeDelayMs"`
	HedgeMinCalls           int `yaml:"hedgeMinCalls"`

	// IntentBuilder economic gates
	MinDebtUsd    float64           `yaml:"minDebtUsd"`
	MinProfitUsd  float64           `yaml:"minProfitUsd"`
	CloseFactor   CloseFactorPolicy `yaml:"closeFactor"`
	ReceiveAToken bool              `yaml:"receiveAToken"`
	MaxIntentAgeMs int              `yaml:"maxIntentAgeMs"`

	// TxSubmitter gas-bump and execution pacing
	FirstBumpDelayMs      int     `yaml:"firstBumpDelayMs"`
	SecondBumpDelayMs     int     `yaml:"secondBumpDelayMs"`
	FirstBumpFactor       float64 `yaml:"firstBumpFactor"`
	MaxBumps              int     `yaml:"maxBumps"`
	MaxBumpsPerDay        int     `yaml:"maxBumpsPerDay"`
	MaxDispatchesPerBlock int     `yaml:"maxDispatchesPerBlock"`
	SendMsBefore          int     `yaml:"sendMsBefore"`
	LatencyAbortMs        int     `yaml:"latencyAbortMs"`
	ExecutorKeyCount      int     `yaml:"executorKeyCount"`

	// Backfiller
	BackfillBlocks      uint64 `yaml:"backfillBlocks"`
	BackfillChunkBlocks  uint64 `yaml:"backfillChunkBlocks"`
	BackfillMaxLogs      int    `yaml:"backfillMaxLogs"`

	// PredictiveOrchestrator
	PredictiveNearBandBps int `yaml:"predictiveNearBandBps"`
	PredictiveVolMinBps   int `yaml:"predictiveVolMinBps"`
	PredictiveVolMaxBps   int `yaml:"predictiveVolMaxBps"`

	// PriceService oracle gating
	StalenessSeconds       int `yaml:"stalenessSeconds"`
	PollDisableAfterErrors int `yaml:"pollDisableAfterErrors"`

	// Static symbol-resolution tables, loaded separately from a TOML file
	// referenced here by path.
	RatiosTablePath string `yaml:"ratiosTablePath"`

	RPC string `yaml:"rpc"`

	// On-chain addresses and chain identity.
	ChainID           int64  `yaml:"chainId"`
	PoolAddress       string `yaml:"poolAddress"`
	MulticallAddress  string `yaml:"multicallAddress"`
	OracleAddress     string `yaml:"oracleAddress"`
	ChainlinkFeeds    map[string]string `yaml:"chainlinkFeeds"`

	// Executor key loading (encrypted files on disk, passphrase from env).
	ExecutorKeyDir       string `yaml:"executorKeyDir"`
	ExecutorPassphraseEnv string `yaml:"executorPassphraseEnv"`

	// Persistence and coordination backends.
	MysqlDSN string `yaml:"mysqlDsn"`
	RedisAddr string `yaml:"redisAddr"`

	// Event stream and our own liquidator identity.
	WSEndpoint string `yaml:"wsEndpoint"`
	OurAddress string `yaml:"ourAddress"`

	// Logging.
	LogLevel      string `yaml:"logLevel"`
	LogPretty     bool   `yaml:"logPretty"`
	LogFilePath   string `yaml:"logFilePath"`

	// Telemetry.
	MetricsAddr   string `yaml:"metricsAddr"`
	TracingEndpoint string `yaml:"tracingEndpoint"`

	// Diagnostic HTTP API: serves /metrics, /healthz, and a small
	// bearer-authenticated read surface on the same address as MetricsAddr.
	DiagApiEnabled      bool   `yaml:"diagApiEnabled"`
	DiagApiSecretEnv    string `yaml:"diagApiSecretEnv"`

	// Relay discovery: when set, SRV-resolved endpoints are appended to
	// RelayEndpoint instead of relying on a single fixed URL.
	RelaySrvName string `yaml:"relaySrvName"`

	// Audit archival: periodic parquet export of liquidation_outcomes to
	// object storage. Disabled unless ArchiveBucket is set.
	ArchiveBucket          string `yaml:"archiveBucket"`
	ArchivePrefix          string `yaml:"archivePrefix"`
	ArchiveRegion          string `yaml:"archiveRegion"`
	ArchiveEndpoint        string `yaml:"archiveEndpoint"`
	ArchiveAccessKeyEnv    string `yaml:"archiveAccessKeyEnv"`
	ArchiveSecretKeyEnv    string `yaml:"archiveSecretKeyEnv"`
	ArchiveIntervalMinutes int    `yaml:"archiveIntervalMinutes"`

	// ReserveRefreshMinutes bounds how often ReserveCatalog re-fetches
	// reserve configuration (decimals, thresholds, bonuses, pause/frozen
	// flags) beyond its one-shot refresh at startup.
	ReserveRefreshMinutes int `yaml:"reserveRefreshMinutes"`
}

func (c *Config) setDefaults() {
	if c.ExecutionHfThresholdBps == 0 {
		c.ExecutionHfThresholdBps = 9800
	}
	if c.HysteresisBps == 0 {
		c.HysteresisBps = 50
	}
	if c.SnapshotTtlMs == 0 {
		c.SnapshotTtlMs = 500
	}
	if c.CacheTtlMs == 0 {
		c.CacheTtlMs = 1000
	}
	if c.MaxIntentAgeMs == 0 {
		c.MaxIntentAgeMs = 2000
	}
	if c.FirstBumpDelayMs == 0 {
		c.FirstBumpDelayMs = 2000
	}
	if c.SecondBumpDelayMs == 0 {
		c.SecondBumpDelayMs = 5000
	}
	if c.FirstBumpFactor == 0 {
		c.FirstBumpFactor = 1.3
	}
	if c.MaxBumps == 0 {
		c.MaxBumps = 2
	}
	if c.MaxBumpsPerDay == 0 {
		c.MaxBumpsPerDay = 50
	}
	if c.MaxDispatchesPerBlock == 0 {
		c.MaxDispatchesPerBlock = 20
	}
	if c.LatencyAbortMs == 0 {
		c.LatencyAbortMs = 3000
	}
	if c.ExecutorKeyCount == 0 {
		c.ExecutorKeyCount = 1
	}
	if c.BackfillChunkBlocks == 0 {
		c.BackfillChunkBlocks = 2000
	}
	if c.BackfillMaxLogs == 0 {
		c.BackfillMaxLogs = 10000
	}
	if c.PredictiveNearBandBps == 0 {
		c.PredictiveNearBandBps = 200
	}
	if c.PredictiveVolMinBps == 0 {
		c.PredictiveVolMinBps = 50
	}
	if c.PredictiveVolMaxBps == 0 {
		c.PredictiveVolMaxBps = 500
	}
	if c.StalenessSeconds == 0 {
		c.StalenessSeconds = 120
	}
	if c.PollDisableAfterErrors == 0 {
		c.PollDisableAfterErrors = 5
	}
	if c.CloseFactor == "" {
		c.CloseFactor = CloseFactorFixed50
	}
	if c.ArchiveIntervalMinutes == 0 {
		c.ArchiveIntervalMinutes = 10
	}
	if c.ReserveRefreshMinutes == 0 {
		c.ReserveRefreshMinutes = 5
	}
}

// ArchiveInterval returns ArchiveIntervalMinutes as a time.Duration.
func (c *Config) ArchiveInterval() time.Duration {
	return time.Duration(c.ArchiveIntervalMinutes) * time.Minute
}

// ReserveRefreshInterval returns ReserveRefreshMinutes as a time.Duration.
func (c *Config) ReserveRefreshInterval() time.Duration {
	return time.Duration(c.ReserveRefreshMinutes) * time.Minute
}

// LoadConfig reads and parses a primary YAML config file, applying
// defaults for any zero-valued field.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	cfg.setDefaults()
	return &cfg, nil
}

// SnapshotTTL returns SnapshotTtlMs as a time.Duration.
func (c *Config) SnapshotTTL() time.Duration { return time.Duration(c.SnapshotTtlMs) * time.Millisecond }

// CacheTTL returns CacheTtlMs as a time.Duration.
func (c *Config) CacheTTL() time.Duration { return time.Duration(c.CacheTtlMs) * time.Millisecond }

// MaxIntentAge returns MaxIntentAgeMs as a time.Duration.
func (c *Config) MaxIntentAge() time.Duration { return time.Duration(c.MaxIntentAgeMs) * time.Millisecond }

// LatencyAbort returns LatencyAbortMs as a time.Duration.
func (c *Config) LatencyAbort() time.Duration { return time.Duration(c.LatencyAbortMs) * time.Millisecond }

// FirstBumpDelay returns FirstBumpDelayMs as a time.Duration.
func (c *Config) FirstBumpDelay() time.Duration {
	return time.Duration(c.FirstBumpDelayMs) * time.Millisecond
}

// SecondBumpDelay returns SecondBumpDelayMs as a time.Duration.
func (c *Config) SecondBumpDelay() time.Duration {
	return time.Duration(c.SecondBumpDelayMs) * time.Millisecond
}

// SendDelay returns SendMsBefore as a time.Duration.
func (c *Config) SendDelay() time.Duration { return time.Duration(c.SendMsBefore) * time.Millisecond }

// RatioTable is the static symbol-resolution graph: ratio feeds (derived
// price via a known ratio to a base asset), plain aliases, and derived
// (wrapped/rebasing) assets, loaded from TOML separately from the primary
// YAML config since it changes far less often and is hand-maintained.
type RatioTable struct {
	RatioFeeds    map[string]RatioFeedEntry `toml:"ratioFeeds"`
	Aliases       map[string]string         `toml:"aliases"`
	DerivedAssets map[string]string         `toml:"derivedAssets"`
}

// RatioFeedEntry names a base symbol and the fixed ratio to it.
type RatioFeedEntry struct {
	BaseSymbol string  `toml:"baseSymbol"`
	Ratio      float64 `toml:"ratio"`
}

// LoadRatioTable parses the TOML-encoded static symbol-resolution tables.
func LoadRatioTable(path string) (*RatioTable, error) {
	var table RatioTable
	if _, err := toml.DecodeFile(path, &table); err != nil {
		return nil, fmt.Errorf("failed to parse ratio table TOML: %w", err)
	}
	return &table, nil
}

// LoadSecrets loads local secrets (executor key encryption passphrase,
// ENC_PK, RPC API keys) from a .env file into the process environment,
// ahead of dialing any live RPC endpoint.
func LoadSecrets(envPath string) error {
	if err := godotenv.Load(envPath); err != nil {
		return fmt.Errorf("failed to load secrets from %s: %w", envPath, err)
	}
	return nil
}
