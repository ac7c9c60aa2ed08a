// Package cache holds process-scoped state shared between gateway components:
// the last issued sort key per contract and a snapshot of the chain head.
package cache

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LastSortKeys is a read-through cache of each contract's last issued sort
// key. Values are advisory; the sequencer re-reads the authoritative value
// under the contract lock.
type LastSortKeys struct {
	mu      sync.RWMutex
	entries map[string]*string
	logger  zerolog.Logger
}

// NewLastSortKeys creates an empty cache.
func NewLastSortKeys(logger zerolog.Logger) *LastSortKeys {
	return &LastSortKeys{
		entries: make(map[string]*string),
		logger:  logger.With().Str("component", "last_sort_key_cache").Logger(),
	}
}

// Get returns the cached key. ok is false when the contract was never loaded;
// a loaded contract without interactions yields (nil, true).
func (c *LastSortKeys) Get(contractID string) (key *string, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok = c.entries[contractID]
	return copyKey(key), ok
}

// GetOrLoad returns the cached key, seeding it with load on first access.
func (c *LastSortKeys) GetOrLoad(contractID string, load func() (*string, error)) (*string, error) {
	if key, ok := c.Get(contractID); ok {
		return key, nil
	}

	key, err := load()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// a concurrent Set after our load wins
	if existing, ok := c.entries[contractID]; ok {
		return copyKey(existing), nil
	}
	c.entries[contractID] = copyKey(key)
	return key, nil
}

// Set records a newly committed sort key.
func (c *LastSortKeys) Set(contractID, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[contractID] = &key
	c.logger.Debug().Str("contract_id", contractID).Str("sort_key", key).Msg("last sort key updated")
}

// Len returns the number of cached contracts.
func (c *LastSortKeys) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func copyKey(key *string) *string {
	if key == nil {
		return nil
	}
	k := *key
	return &k
}

// ChainHead is a snapshot of the ledger's current block.
type ChainHead struct {
	Height         int64
	BlockID        string
	BlockTimestamp int64
	UpdatedAt      time.Time
}

// ChainHeadCache keeps the most recent chain head seen by this process.
type ChainHeadCache struct {
	mu   sync.RWMutex
	head ChainHead
}

// NewChainHeadCache creates an empty snapshot.
func NewChainHeadCache() *ChainHeadCache {
	return &ChainHeadCache{}
}

// Update replaces the snapshot if it does not move the head backwards.
func (c *ChainHeadCache) Update(head ChainHead) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if head.Height < c.head.Height {
		return false
	}
	if head.UpdatedAt.IsZero() {
		head.UpdatedAt = time.Now()
	}
	c.head = head
	return true
}

// Get returns the snapshot; ok is false until the first Update.
func (c *ChainHeadCache) Get() (ChainHead, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.head, !c.head.UpdatedAt.IsZero()
}
