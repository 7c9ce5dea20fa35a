// Package memory provides in-memory storage implementations, primarily
// for tests and single-process development runs.
package memory

import (
	"sync"

	"metal-basket-engine/internal/domain"
	"metal-basket-engine/internal/storage"
)

// Store is an in-memory implementation of the ledger, rebalance and policy
// stores. A single mutex guards all records so multi-record writes
// (ApplyMint, ApplyRedemption, CompleteExecution) are atomic, matching the
// transaction scope of the PostgreSQL backend.
type Store struct {
	mu       sync.RWMutex
	tokens   map[string]*domain.BasketToken            // keyed by token_id
	holdings *domain.AggregateHoldings                 // singleton, initialized on first access
	requests map[string]*domain.RebalanceRequest       // keyed by request_id
	ops      map[string][]*domain.RebalanceOperation   // keyed by request_id
	policy   *domain.CompositionPolicy                 // singleton
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		tokens:   make(map[string]*domain.BasketToken),
		requests: make(map[string]*domain.RebalanceRequest),
		ops:      make(map[string][]*domain.RebalanceOperation),
	}
}

// currentVersionLocked returns the stored holdings version. An uninitialized
// record counts as version 0, so first writers and first readers agree.
func (s *Store) currentVersionLocked() int64 {
	if s.holdings == nil {
		return 0
	}
	return s.holdings.Version
}

// storeHoldingsLocked replaces the holdings record at expectedVersion+1.
func (s *Store) storeHoldingsLocked(h *domain.AggregateHoldings, expectedVersion int64) {
	cp := h.Clone()
	cp.Version = expectedVersion + 1
	s.holdings = cp
}

// Verify interface compliance at compile time.
var (
	_ storage.LedgerStore    = (*Store)(nil)
	_ storage.RebalanceStore = (*Store)(nil)
	_ storage.PolicyStore    = (*Store)(nil)
)
