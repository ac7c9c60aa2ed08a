// Package store contains the GORM models persisted by the interaction gateway.
//
// Tables:
//
//	interactions      admitted contract interactions, one row per ledger transaction
//	bundle_items      outbound bundling queue for interactions accepted by the gateway
//	peers             ledger network peers with their last ranking survey
//	network_states    cached chain head (single row)
//	sync_states       last fully synced block height (single row)
//	replica_failures  secondary replica writes that exhausted their retries
package store

import (
	"time"

	"gorm.io/gorm"
)

// Confirmation statuses of an interaction.
const (
	StatusNotProcessed = "not_processed"
	StatusConfirmed    = "confirmed"
	StatusOrphaned     = "orphaned"
	StatusCorrupted    = "corrupted"
	StatusError        = "error"
)

// Ingestion paths.
const (
	SourceLedger  = "arweave" // registered from already settled ledger data
	SourceGateway = "gateway" // accepted as a new incoming transaction
)

// Bundle item states.
const (
	BundleStatePending = "PENDING"
)

// Interaction is one admitted ledger transaction bound to a contract.
// Rows are never deleted; only the confirmation fields change after insert.
type Interaction struct {
	ID uint `gorm:"primaryKey"`
	// Ledger transaction id.
	InteractionID string `gorm:"uniqueIndex;not null"`
	ContractID    string `gorm:"index;not null;uniqueIndex:idx_contract_sort_key"`
	// Ordering key, monotonic per contract.
	SortKey string `gorm:"not null;uniqueIndex:idx_contract_sort_key"`
	// Nil for the first interaction of a contract.
	PreviousSortKey *string
	FunctionName    string `gorm:"index"`
	// Raw input tag, opaque.
	Input string `gorm:"type:text"`
	// Raw transaction JSON.
	Interaction        string `gorm:"type:text"`
	Owner              string
	BlockHeight        int64 `gorm:"index;not null"`
	BlockID            string
	BlockTimestamp     int64
	ConfirmationStatus string   `gorm:"index;not null;default:'not_processed'"`
	ConfirmingPeers    []string `gorm:"serializer:json"`
	Confirmations      []int64  `gorm:"serializer:json"`
	Source             string   `gorm:"index"`
	// Unix millis of admission.
	SyncTimestamp int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// BundleItem queues an interaction accepted by the gateway for upload to the
// settlement layer. Upload itself happens elsewhere.
type BundleItem struct {
	gorm.Model
	InteractionID uint   `gorm:"uniqueIndex;not null"` // internal id of the interaction row
	State         string `gorm:"index;not null"`
	Transaction   string `gorm:"type:text"` // signed transaction as received
}

// Peer is a ledger network node and the result of its latest ranking survey.
type Peer struct {
	Address        string    `gorm:"primaryKey" json:"address"`
	BlocksStored   int64     `json:"blocks_stored"`
	ReportedHeight int64     `json:"reported_height"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	Blacklisted    bool      `gorm:"index" json:"blacklisted"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NetworkState caches the ledger's chain head. There is only ever one row.
type NetworkState struct {
	ID             uint `gorm:"primaryKey"`
	Height         int64
	CurrentBlockID string
	BlockTimestamp int64
	UpdatedAt      time.Time
}

// SyncState tracks how far the ledger sync has progressed. One row.
type SyncState struct {
	ID               uint `gorm:"primaryKey"`
	LastSyncedHeight int64
	UpdatedAt        time.Time
}

// ReplicaFailure records a secondary replica write that exhausted its retries.
type ReplicaFailure struct {
	gorm.Model
	Replica       string `gorm:"index"`
	InteractionID string `gorm:"index"`
	Attempts      int
	ErrorMsg      string `gorm:"type:text"`
}

// SingletonID is the primary key of single-row tables.
const SingletonID = 1
