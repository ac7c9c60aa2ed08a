package locks

import (
	"context"
	"sync"
)

// ContractMutexRegistry hands out one exclusive lock per contract id. The
// registry lock only guards lookup-or-create of an entry; holders of a
// contract lock never hold the registry lock.
type ContractMutexRegistry struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewContractMutexRegistry creates an empty registry.
func NewContractMutexRegistry() *ContractMutexRegistry {
	return &ContractMutexRegistry{locks: make(map[string]chan struct{})}
}

// Acquire blocks until the contract lock is held or ctx is done. The returned
// release func must be called exactly once.
func (r *ContractMutexRegistry) Acquire(ctx context.Context, contractID string) (func(), error) {
	sem := r.lockFor(contractID)

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-sem })
	}, nil
}

// Len returns the number of contracts seen so far. Entries are never removed.
func (r *ContractMutexRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}

func (r *ContractMutexRegistry) lockFor(contractID string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	sem, ok := r.locks[contractID]
	if !ok {
		sem = make(chan struct{}, 1)
		r.locks[contractID] = sem
	}
	return sem
}
