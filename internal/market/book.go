// Package market provides the book store, a thread-safe container of the
// latest immutable L2 snapshot per symbol, and the L4 maintainer, which
// folds a venue snapshot-plus-diffs feed into a per-symbol order-by-order
// book.
package market

import (
	"sync"

	"perpmm/pkg/types"
)

// Store maps symbol to the latest immutable L2 snapshot. Contract:
// update(snapshot) replaces the entry; last-writer-wins, no merging, no
// cross-symbol ordering. Because snapshots are deeply immutable, Get and
// GetAll callers may retain returned values without synchronization.
type Store struct {
	mu   sync.RWMutex
	byID map[types.Symbol]*types.L2BookSnapshot
}

// NewStore creates an empty book store.
func NewStore() *Store {
	return &Store{byID: make(map[types.Symbol]*types.L2BookSnapshot)}
}

// Update replaces the snapshot for snapshot.Symbol.
func (s *Store) Update(snapshot *types.L2BookSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[snapshot.Symbol] = snapshot
}

// Get returns the current snapshot for symbol, or nil if none has arrived.
func (s *Store) Get(symbol types.Symbol) *types.L2BookSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[symbol]
}

// GetAll returns a point-in-time copy of the map. Safe to range over
// without holding any lock; the snapshots themselves are immutable.
func (s *Store) GetAll() map[types.Symbol]*types.L2BookSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[types.Symbol]*types.L2BookSnapshot, len(s.byID))
	for k, v := range s.byID {
		out[k] = v
	}
	return out
}
