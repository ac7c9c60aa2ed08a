package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	configSubdir   = "config"
	configFileName = "gateway_config.json"

	// EnvPrefix prefixes every environment override, e.g. GATEWAY_VERIFIER_MAX_ROUNDS.
	EnvPrefix = "GATEWAY"
)

//go:embed default_config.json
var defaultConfigJSON []byte

func validateConfig(cfg *Config) error {
	// Validate log level
	if cfg.LogLevel < 0 || cfg.LogLevel > 5 {
		return fmt.Errorf("log level must be between 0 and 5")
	}

	// Validate log format
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return fmt.Errorf("log format must be 'json' or 'console'")
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverSQLite
	}
	if cfg.Database.Driver != DriverPostgres && cfg.Database.Driver != DriverSQLite {
		return fmt.Errorf("database driver must be 'postgres' or 'sqlite'")
	}
	if cfg.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}
	// Zero leaves the postgres pool unbounded.
	if cfg.Database.Driver == DriverPostgres && cfg.Database.MaxOpenConns > 0 && cfg.Database.MaxOpenConns < MinPostgresConns {
		cfg.Database.MaxOpenConns = MinPostgresConns
	}

	if cfg.LedgerNodeURL == "" {
		return fmt.Errorf("ledger node url is required")
	}
	if cfg.LedgerGraphQLURL == "" {
		cfg.LedgerGraphQLURL = strings.TrimRight(cfg.LedgerNodeURL, "/") + "/graphql"
	}
	if cfg.LedgerPageSize == 0 {
		cfg.LedgerPageSize = 100
	}
	if cfg.RateLimitBackoffMs == 0 {
		cfg.RateLimitBackoffMs = 10000
	}
	if cfg.LedgerTimeoutMs == 0 {
		cfg.LedgerTimeoutMs = 30000
	}
	if cfg.InteractionTagName == "" {
		cfg.InteractionTagName = "App-Name"
		cfg.InteractionTagValue = "SmartWeaveAction"
	}

	// Sequencer defaults
	if cfg.AdvisoryLockTimeoutMs == 0 {
		cfg.AdvisoryLockTimeoutMs = 5000
	}
	if cfg.MaxBatchSize == 0 {
		cfg.MaxBatchSize = 500
	}

	// Periodic task defaults
	if cfg.SyncIntervalSeconds == 0 {
		cfg.SyncIntervalSeconds = 10
	}
	if cfg.SyncTimeoutSeconds == 0 {
		cfg.SyncTimeoutSeconds = 300
	}
	if cfg.SyncMaxBlockRange == 0 {
		cfg.SyncMaxBlockRange = 100
	}
	if cfg.NetworkInfoIntervalSeconds == 0 {
		cfg.NetworkInfoIntervalSeconds = 30
	}
	if cfg.PeerRankingIntervalSeconds == 0 {
		cfg.PeerRankingIntervalSeconds = 3600
	}
	if cfg.PeerStatusTimeoutMs == 0 {
		cfg.PeerStatusTimeoutMs = 2000
	}
	if cfg.PeerRankingConcurrency == 0 {
		cfg.PeerRankingConcurrency = 20
	}

	if err := validateVerifier(&cfg.Verifier); err != nil {
		return err
	}

	// Replicas
	if len(cfg.Replicas.Drivers) != len(cfg.Replicas.DSNs) {
		return fmt.Errorf("replicas.drivers and replicas.dsns must have the same length")
	}
	if cfg.Replicas.MaxAttempts == 0 {
		cfg.Replicas.MaxAttempts = 3
	}
	if cfg.Replicas.RetryDelayMs == 0 {
		cfg.Replicas.RetryDelayMs = 500
	}
	if cfg.Replicas.QueueSize == 0 {
		cfg.Replicas.QueueSize = 1000
	}
	if cfg.Replicas.Workers == 0 {
		cfg.Replicas.Workers = 4
	}

	// Set defaults for query server
	if cfg.QueryServerPort == 0 {
		cfg.QueryServerPort = 8080
	}

	return nil
}

func validateVerifier(v *VerifierConfig) error {
	if v.MinConfirmations == 0 {
		v.MinConfirmations = 10
	}
	if v.RequiredSuccessfulRounds == 0 {
		v.RequiredSuccessfulRounds = 3
	}
	if v.MaxRounds == 0 {
		v.MaxRounds = 4
	}
	if v.MaxRounds < v.RequiredSuccessfulRounds {
		return fmt.Errorf("verifier max_rounds (%d) must be >= required_successful_rounds (%d)",
			v.MaxRounds, v.RequiredSuccessfulRounds)
	}
	if v.RoundTimeoutMs == 0 {
		v.RoundTimeoutMs = 3000
	}
	if v.PeerSampleSize == 0 {
		v.PeerSampleSize = 50
	}
	if v.BatchSize == 0 {
		v.BatchSize = 100
	}
	if v.IntervalSeconds == 0 {
		v.IntervalSeconds = 60
	}
	if v.OrphanSweepIntervalSeconds == 0 {
		v.OrphanSweepIntervalSeconds = 600
	}
	if v.OrphanSweepBatchSize == 0 {
		v.OrphanSweepBatchSize = 100
	}
	return nil
}

// Save writes the given config to <basePath>/config/gateway_config.json.
func Save(cfg *Config, basePath string) error {
	if err := validateConfig(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	configDir := filepath.Join(basePath, configSubdir)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configFile := filepath.Join(configDir, configFileName)
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// FilePath returns the location Save writes to for basePath.
func FilePath(basePath string) string {
	return filepath.Join(basePath, configSubdir, configFileName)
}

// Load layers the embedded defaults, the optional JSON file at path and
// GATEWAY_* environment variables, then validates the result.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("json")
	if err := v.ReadConfig(bytes.NewReader(defaultConfigJSON)); err != nil {
		return Config{}, fmt.Errorf("failed to read default config: %w", err)
	}

	if path != "" {
		v.SetConfigFile(filepath.Clean(path))
		if err := v.MergeInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validateConfig(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadDefaultConfig loads the default configuration from embedded JSON
func LoadDefaultConfig() (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(defaultConfigJSON, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal default config: %w", err)
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid default config: %w", err)
	}
	return &cfg, nil
}
