package config

import "time"

// Database drivers supported by the gateway.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// MinPostgresConns is the smallest postgres pool the gateway runs with: a
// sync cycle holds one connection for its global lock while each admission
// it makes needs another for its transaction.
const MinPostgresConns = 4

type Config struct {
	// Log Config
	LogLevel   int    `json:"log_level" mapstructure:"log_level"`     // e.g., 0 = debug, 1 = info, etc.
	LogFormat  string `json:"log_format" mapstructure:"log_format"`   // "json" or "console"
	LogSampler bool   `json:"log_sampler" mapstructure:"log_sampler"` // if true, samples logs (e.g., 1 in 5)

	// Storage
	Database DatabaseConfig `json:"database" mapstructure:"database"`

	// Ledger node used for GraphQL sync, network info and the peer list
	LedgerNodeURL      string `json:"ledger_node_url" mapstructure:"ledger_node_url"`
	LedgerGraphQLURL   string `json:"ledger_graphql_url" mapstructure:"ledger_graphql_url"`
	LedgerPageSize     int    `json:"ledger_page_size" mapstructure:"ledger_page_size"`
	RateLimitBackoffMs int    `json:"rate_limit_backoff_ms" mapstructure:"rate_limit_backoff_ms"`
	LedgerTimeoutMs    int    `json:"ledger_timeout_ms" mapstructure:"ledger_timeout_ms"`

	// Tag filter selecting contract interactions on the ledger
	InteractionTagName  string `json:"interaction_tag_name" mapstructure:"interaction_tag_name"`
	InteractionTagValue string `json:"interaction_tag_value" mapstructure:"interaction_tag_value"`

	// Sequencer
	ProcessSecret         string `json:"process_secret" mapstructure:"process_secret"` // mixed into sort key digests; random per process when empty
	AdvisoryLockTimeoutMs int    `json:"advisory_lock_timeout_ms" mapstructure:"advisory_lock_timeout_ms"`
	MaxBatchSize          int    `json:"max_batch_size" mapstructure:"max_batch_size"`

	// Sync job
	SyncIntervalSeconds        int   `json:"sync_interval_seconds" mapstructure:"sync_interval_seconds"`
	SyncMaxBlockRange          int64 `json:"sync_max_block_range" mapstructure:"sync_max_block_range"`
	SyncStartHeight            int64 `json:"sync_start_height" mapstructure:"sync_start_height"`
	SyncTimeoutSeconds         int   `json:"sync_timeout_seconds" mapstructure:"sync_timeout_seconds"`
	NetworkInfoIntervalSeconds int   `json:"network_info_interval_seconds" mapstructure:"network_info_interval_seconds"`

	// Peer ranking
	PeerRankingIntervalSeconds int `json:"peer_ranking_interval_seconds" mapstructure:"peer_ranking_interval_seconds"`
	PeerStatusTimeoutMs        int `json:"peer_status_timeout_ms" mapstructure:"peer_status_timeout_ms"`
	PeerRankingConcurrency     int `json:"peer_ranking_concurrency" mapstructure:"peer_ranking_concurrency"`

	// Confirmation verification
	Verifier VerifierConfig `json:"verifier" mapstructure:"verifier"`

	// Secondary replicas
	Replicas ReplicaConfig `json:"replicas" mapstructure:"replicas"`

	// Query Server Config
	QueryServerPort int `json:"query_server_port" mapstructure:"query_server_port"` // Port for HTTP server (default: 8080)
}

// DatabaseConfig selects the primary store.
type DatabaseConfig struct {
	Driver          string `json:"driver" mapstructure:"driver"`       // "postgres" or "sqlite"
	DSN             string `json:"dsn" mapstructure:"dsn"`             // postgres DSN or sqlite file path (":memory:" allowed)
	MaxOpenConns    int    `json:"max_open_conns" mapstructure:"max_open_conns"`
	MigrateOnStart  bool   `json:"migrate_on_start" mapstructure:"migrate_on_start"`
	ConnMaxIdleSecs int    `json:"conn_max_idle_seconds" mapstructure:"conn_max_idle_seconds"`
}

type VerifierConfig struct {
	MinConfirmations           int64    `json:"min_confirmations" mapstructure:"min_confirmations"`
	RequiredSuccessfulRounds   int      `json:"required_successful_rounds" mapstructure:"required_successful_rounds"`
	MaxRounds                  int      `json:"max_rounds" mapstructure:"max_rounds"`
	RoundTimeoutMs             int      `json:"round_timeout_ms" mapstructure:"round_timeout_ms"`
	PeerSampleSize             int      `json:"peer_sample_size" mapstructure:"peer_sample_size"`
	BatchSize                  int      `json:"batch_size" mapstructure:"batch_size"`
	IntervalSeconds            int      `json:"interval_seconds" mapstructure:"interval_seconds"`
	OrphanSweepIntervalSeconds int      `json:"orphan_sweep_interval_seconds" mapstructure:"orphan_sweep_interval_seconds"`
	OrphanSweepBatchSize       int      `json:"orphan_sweep_batch_size" mapstructure:"orphan_sweep_batch_size"`
	ForeignContracts           []string `json:"foreign_contracts" mapstructure:"foreign_contracts"` // never verified by this gateway
}

type ReplicaConfig struct {
	Drivers      []string `json:"drivers" mapstructure:"drivers"`
	DSNs         []string `json:"dsns" mapstructure:"dsns"`
	MaxAttempts  int      `json:"max_attempts" mapstructure:"max_attempts"`
	RetryDelayMs int      `json:"retry_delay_ms" mapstructure:"retry_delay_ms"`
	QueueSize    int      `json:"queue_size" mapstructure:"queue_size"`
	Workers      int      `json:"workers" mapstructure:"workers"`
}

func ms(v int) time.Duration      { return time.Duration(v) * time.Millisecond }
func seconds(v int) time.Duration { return time.Duration(v) * time.Second }

func (c *Config) RateLimitBackoff() time.Duration    { return ms(c.RateLimitBackoffMs) }
func (c *Config) LedgerTimeout() time.Duration       { return ms(c.LedgerTimeoutMs) }
func (c *Config) AdvisoryLockTimeout() time.Duration { return ms(c.AdvisoryLockTimeoutMs) }
func (c *Config) SyncInterval() time.Duration        { return seconds(c.SyncIntervalSeconds) }
func (c *Config) SyncTimeout() time.Duration         { return seconds(c.SyncTimeoutSeconds) }
func (c *Config) NetworkInfoInterval() time.Duration { return seconds(c.NetworkInfoIntervalSeconds) }
func (c *Config) PeerRankingInterval() time.Duration { return seconds(c.PeerRankingIntervalSeconds) }
func (c *Config) PeerStatusTimeout() time.Duration   { return ms(c.PeerStatusTimeoutMs) }

func (v *VerifierConfig) RoundTimeout() time.Duration { return ms(v.RoundTimeoutMs) }
func (v *VerifierConfig) Interval() time.Duration     { return seconds(v.IntervalSeconds) }
func (v *VerifierConfig) OrphanSweepInterval() time.Duration {
	return seconds(v.OrphanSweepIntervalSeconds)
}

func (r *ReplicaConfig) RetryDelay() time.Duration { return ms(r.RetryDelayMs) }
